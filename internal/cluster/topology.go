package cluster

import (
	"errors"
	"fmt"
	"os"

	"golang.org/x/exp/slices"
	"gopkg.in/yaml.v3"

	"github.com/dreamware/segstart/internal/protocol"
)

// ErrEmptyTopology is returned when a topology file lists no segments.
var ErrEmptyTopology = errors.New("topology has no segments")

// Topology is the fully loaded segment catalog. It is read-only once
// returned by LoadTopology or ParseTopology.
type Topology struct {
	Segments []Segment `yaml:"segments"`
}

// UnmarshalYAML accepts any spelling ParseRole understands.
func (r *Role) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	role, err := ParseRole(s)
	if err != nil {
		return err
	}
	*r = role
	return nil
}

// LoadTopology reads a YAML topology file.
//
// Example file:
//
//	segments:
//	  - dbid: 2
//	    content: 0
//	    role: primary
//	    host: sdw1
//	    address: sdw1-1
//	    port: 6000
//	    replication_port: 7000
//	    datadir: /data/primary/seg0
func LoadTopology(path string) (*Topology, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read topology: %w", err)
	}
	t, err := ParseTopology(data)
	if err != nil {
		return nil, fmt.Errorf("topology %s: %w", path, err)
	}
	return t, nil
}

// ParseTopology decodes and validates YAML topology data.
func ParseTopology(data []byte) (*Topology, error) {
	t := &Topology{}
	if err := yaml.Unmarshal(data, t); err != nil {
		return nil, fmt.Errorf("decode topology: %w", err)
	}
	if len(t.Segments) == 0 {
		return nil, ErrEmptyTopology
	}

	for i := range t.Segments {
		seg := &t.Segments[i]
		if seg.PreferredRole == "" {
			seg.PreferredRole = seg.Role
		}
		if seg.Address == "" {
			seg.Address = seg.HostName
		}
		if seg.Status == "" {
			seg.Status = StatusDown
		}
		if seg.Mode == "" {
			seg.Mode = ModeNotSynchronized
		}
	}
	if err := t.validate(); err != nil {
		return nil, err
	}
	return t, nil
}

func (t *Topology) validate() error {
	seen := make(map[int]bool, len(t.Segments))
	for _, s := range t.Segments {
		switch {
		case s.Role == "":
			return fmt.Errorf("segment dbid %d has no role", s.DbID)
		case s.DbID <= 0:
			return fmt.Errorf("segment on %s has invalid dbid %d", s.HostName, s.DbID)
		case s.HostName == "":
			return fmt.Errorf("segment dbid %d has no host", s.DbID)
		case s.DataDirectory == "":
			return fmt.Errorf("segment dbid %d has no data directory", s.DbID)
		case !protocol.EncodableDataDirectory(s.DataDirectory):
			return fmt.Errorf("segment dbid %d data directory %q contains \"--\" or a line break", s.DbID, s.DataDirectory)
		case s.Port <= 0:
			return fmt.Errorf("segment dbid %d has invalid port %d", s.DbID, s.Port)
		case seen[s.DbID]:
			return fmt.Errorf("duplicate dbid %d", s.DbID)
		}
		seen[s.DbID] = true
	}

	pairs := make(map[int][]Segment)
	for _, s := range t.Segments {
		if !s.IsCoordinator() {
			pairs[s.ContentID] = append(pairs[s.ContentID], s)
		}
	}
	for content, members := range pairs {
		if len(members) > 2 {
			return fmt.Errorf("content %d has %d segments, at most a primary and a mirror are allowed", content, len(members))
		}
		if len(members) == 2 && members[0].Role == members[1].Role {
			return fmt.Errorf("content %d has two %s segments", content, members[0].Role)
		}
	}
	return nil
}

// Peers maps each dbid to the other member of its replica pair. Segments
// without a mirror (and the coordinator) have no entry.
func (t *Topology) Peers() map[int]Segment {
	byContent := make(map[int][]Segment)
	for _, s := range t.Segments {
		if !s.IsCoordinator() {
			byContent[s.ContentID] = append(byContent[s.ContentID], s)
		}
	}
	peers := make(map[int]Segment, len(t.Segments))
	for _, members := range byContent {
		if len(members) != 2 {
			continue
		}
		peers[members[0].DbID] = members[1]
		peers[members[1].DbID] = members[0]
	}
	return peers
}

// Filter narrows a topology to the segments a caller wants to start.
// Empty fields match everything.
type Filter struct {
	DbIDs []int
	Hosts []string
	// IncludeCoordinator keeps the content -1 instance in the selection.
	IncludeCoordinator bool
}

// Select returns the segments matching f in catalog order.
func (t *Topology) Select(f Filter) []Segment {
	var out []Segment
	for _, s := range t.Segments {
		if s.IsCoordinator() && !f.IncludeCoordinator {
			continue
		}
		if len(f.DbIDs) > 0 && !slices.Contains(f.DbIDs, s.DbID) {
			continue
		}
		if len(f.Hosts) > 0 && !slices.Contains(f.Hosts, s.HostName) {
			continue
		}
		out = append(out, s)
	}
	return out
}

// Hosts returns the distinct host names in catalog order.
func (t *Topology) Hosts() []string {
	var hosts []string
	for _, hs := range GroupByHost(t.Segments) {
		hosts = append(hosts, hs.Host)
	}
	return hosts
}

// HostSegments is the group of segments living on one host.
type HostSegments struct {
	Host     string
	Segments []Segment
}

// GroupByHost groups segments by host name. Hosts appear in the order of
// their first segment so that dispatch order is stable between runs.
func GroupByHost(segments []Segment) []HostSegments {
	var groups []HostSegments
	index := make(map[string]int)
	for _, s := range segments {
		i, ok := index[s.HostName]
		if !ok {
			i = len(groups)
			index[s.HostName] = i
			groups = append(groups, HostSegments{Host: s.HostName})
		}
		groups[i].Segments = append(groups[i].Segments, s)
	}
	return groups
}
