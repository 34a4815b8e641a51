package main

import "github.com/whatnick/parquetlake/cmd/parquetlake/cmd"

func main() {
	cmd.Execute()
}
