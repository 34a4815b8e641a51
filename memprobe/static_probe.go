package memprobe

import "context"

// StaticProbe returns a fixed Status on every call. Tests use it to drive
// the streaming merger through warning/critical/emergency transitions
// deterministically.
type StaticProbe struct {
	Reading Status
	Limits  Limits
}

func (s *StaticProbe) Status(ctx context.Context) (Status, error) {
	return s.Reading, nil
}

func (s *StaticProbe) Pressure(ctx context.Context) (Pressure, error) {
	return classify(s.Reading, s.Limits), nil
}
