package coordinator

import (
	"fmt"
	"strings"
)

// StartMethod selects how requested segments come up. It is fixed for the
// duration of one Dispatch call.
type StartMethod int

const (
	// StartAsPrimaryOrMirror starts each segment in the role it currently
	// holds and tells it where its peer lives.
	StartAsPrimaryOrMirror StartMethod = iota + 1
	// StartAsMirrorless starts each segment standalone.
	StartAsMirrorless
)

func (m StartMethod) String() string {
	switch m {
	case StartAsPrimaryOrMirror:
		return "primary-or-mirror"
	case StartAsMirrorless:
		return "mirrorless"
	}
	return fmt.Sprintf("StartMethod(%d)", int(m))
}

// ParseStartMethod accepts the names produced by String.
func ParseStartMethod(s string) (StartMethod, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "primary-or-mirror", "primary_or_mirror", "":
		return StartAsPrimaryOrMirror, nil
	case "mirrorless":
		return StartAsMirrorless, nil
	}
	return 0, fmt.Errorf("unknown start method %q", s)
}

func (m StartMethod) validate() error {
	switch m {
	case StartAsPrimaryOrMirror, StartAsMirrorless:
		return nil
	}
	return fmt.Errorf("invalid start method %d", int(m))
}
