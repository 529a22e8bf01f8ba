package coordinator

import (
	"errors"
	"fmt"

	"github.com/dreamware/segstart/internal/payload"
)

var (
	// ErrMissingPeer: a primary-or-mirror start was requested for a segment
	// with no entry in the peer map.
	ErrMissingPeer = payload.ErrMissingPeer
	// ErrDuplicateSegment: the same dbid was requested twice.
	ErrDuplicateSegment = errors.New("segment requested more than once")
	// ErrPortConflict: two requested segments share a host and port.
	ErrPortConflict = errors.New("segments share a host and port")
	// ErrDataDirectoryConflict: two requested segments share a host and data
	// directory, so their STATUS lines could not be told apart.
	ErrDataDirectoryConflict = errors.New("segments share a host and data directory")
	// ErrUnencodableDataDirectory: the data directory cannot be carried in a
	// STATUS line, so its outcome would never be attributed.
	ErrUnencodableDataDirectory = errors.New("data directory contains \"--\" or a line break")
)

// TopologyError reports a request the topology cannot satisfy. It is
// returned before any remote command is submitted.
type TopologyError struct {
	Err  error
	DbID int
}

func (e *TopologyError) Error() string {
	return fmt.Sprintf("topology error for dbid %d: %v", e.DbID, e.Err)
}

func (e *TopologyError) Unwrap() error { return e.Err }

// InvariantError means the dispatcher lost or double-counted a segment.
// It indicates a defect, not an operational failure.
type InvariantError struct {
	Detail    string
	Requested int
	Succeeded int
	Failed    int
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("dispatch accounting violated: requested %d, succeeded %d, failed %d: %s",
		e.Requested, e.Succeeded, e.Failed, e.Detail)
}
