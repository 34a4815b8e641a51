package merge

import (
	"context"
	"path"
	"sort"
	"strings"

	"github.com/whatnick/parquetlake/fsx"
)

// parquetExt is the only extension the enumerator treats as a dataset file.
const parquetExt = ".parquet"

// splitAuthority separates a protocol-qualified path's authority component
// (scheme://host) from the path portion path math is actually performed on,
// per §4.1 ("Protocol-qualified paths have their authority component
// preserved; path math is performed on the path portion only").
func splitAuthority(p string) (authority, rest string) {
	if idx := strings.Index(p, "://"); idx >= 0 {
		afterScheme := p[idx+3:]
		if slash := strings.Index(afterScheme, "/"); slash >= 0 {
			return p[:idx+3+slash], afterScheme[slash:]
		}
		return p, ""
	}
	return "", p
}

// normalizeSeparators turns backslashes into forward slashes so Windows and
// POSIX-style roots parse identically.
func normalizeSeparators(p string) string {
	return strings.ReplaceAll(p, "\\", "/")
}

// ParsePartitions walks the path segments between root and the file name
// looking for key=value Hive tokens and returns them as a column -> value
// map (unordered); a key repeated in a deeper segment overwrites the
// earlier value.
func ParsePartitions(root, filePath string) map[string]string {
	_, rootRest := splitAuthority(normalizeSeparators(root))
	_, fileRest := splitAuthority(normalizeSeparators(filePath))

	rel := strings.TrimPrefix(fileRest, strings.TrimSuffix(rootRest, "/"))
	rel = strings.Trim(rel, "/")
	dir := path.Dir(rel)
	if dir == "." {
		return map[string]string{}
	}

	out := make(map[string]string)
	for _, seg := range strings.Split(dir, "/") {
		if seg == "" || strings.HasPrefix(seg, ".staging-") {
			continue
		}
		k, v, ok := strings.Cut(seg, "=")
		if !ok {
			continue
		}
		out[k] = v
	}
	return out
}

// EnumerateFiles lists every Parquet file under root via the filesystem
// collaborator and returns them sorted lexicographically by full path, so
// downstream planning is deterministic across runs.
func EnumerateFiles(ctx context.Context, fs fsx.FS, root string) ([]string, error) {
	out, errc := fs.List(ctx, root)
	var files []string
	for p := range out {
		if strings.HasSuffix(strings.ToLower(p), parquetExt) {
			files = append(files, p)
		}
	}
	if err := <-errc; err != nil {
		return nil, &FilesystemError{Op: "list", Path: root, Err: err}
	}
	sort.Strings(files)
	return files, nil
}
