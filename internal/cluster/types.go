package cluster

import (
	"fmt"
	"strings"
)

// CoordinatorContentID is the content id reserved for the coordinator instance.
const CoordinatorContentID = -1

// Role is the replication role a segment currently plays in its pair.
type Role string

const (
	RolePrimary Role = "primary"
	RoleMirror  Role = "mirror"
)

// ParseRole accepts the long names and the single-letter catalog forms ("p", "m").
func ParseRole(s string) (Role, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "primary", "p":
		return RolePrimary, nil
	case "mirror", "m":
		return RoleMirror, nil
	}
	return "", fmt.Errorf("unknown segment role %q", s)
}

// SegmentMode is the replication state last recorded for a segment.
type SegmentMode string

const (
	ModeSynchronized    SegmentMode = "synchronized"
	ModeNotSynchronized SegmentMode = "not-synchronized"
	ModeChangeTracking  SegmentMode = "change-tracking"
	ModeResynchronizing SegmentMode = "resynchronizing"
)

// SegmentStatus is the up/down state recorded in the catalog.
type SegmentStatus string

const (
	StatusUp   SegmentStatus = "up"
	StatusDown SegmentStatus = "down"
)

// Segment is the identity and physical placement of one database instance.
// Segments sharing a ContentID form a primary/mirror pair.
type Segment struct {
	HostName        string        `yaml:"host" json:"host"`
	Address         string        `yaml:"address" json:"address"`
	DataDirectory   string        `yaml:"datadir" json:"datadir"`
	Role            Role          `yaml:"role" json:"role"`
	PreferredRole   Role          `yaml:"preferred_role,omitempty" json:"preferred_role,omitempty"`
	Mode            SegmentMode   `yaml:"mode,omitempty" json:"mode,omitempty"`
	Status          SegmentStatus `yaml:"status,omitempty" json:"status,omitempty"`
	DbID            int           `yaml:"dbid" json:"dbid"`
	ContentID       int           `yaml:"content" json:"content"`
	Port            int           `yaml:"port" json:"port"`
	ReplicationPort int           `yaml:"replication_port,omitempty" json:"replication_port,omitempty"`
}

func (s Segment) IsPrimary() bool { return s.Role == RolePrimary }

func (s Segment) IsMirror() bool { return s.Role == RoleMirror }

func (s Segment) IsCoordinator() bool { return s.ContentID == CoordinatorContentID }

// PeerPort is the port a peer uses to reach this segment for replication.
// Catalogs without a replication port fall back to the client port.
func (s Segment) PeerPort() int {
	if s.ReplicationPort > 0 {
		return s.ReplicationPort
	}
	return s.Port
}

func (s Segment) String() string {
	return fmt.Sprintf("dbid=%d content=%d %s %s:%d %s", s.DbID, s.ContentID, s.Role, s.HostName, s.Port, s.DataDirectory)
}

// TransitionRequest is the body POSTed to an agent's /transition endpoint.
type TransitionRequest struct {
	Payload string `json:"payload"`
}

// TransitionResponse carries the remote program's exit code and the
// STATUS lines it wrote.
type TransitionResponse struct {
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr,omitempty"`
	ExitCode int    `json:"exit_code"`
}
