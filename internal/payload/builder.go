package payload

import (
	"errors"
	"fmt"
	"time"

	"github.com/dreamware/segstart/internal/cluster"
)

// ErrMissingPeer is returned when a primary-or-mirror transition is
// requested for a segment whose partner is not in the peer map.
var ErrMissingPeer = errors.New("segment has no peer")

// BuildRequest describes one host's share of a dispatch wave.
type BuildRequest struct {
	Peers      map[int]cluster.Segment
	FullResync map[int]bool
	DispatchID string
	Era        string
	Host       string
	Segments   []cluster.Segment
	Timeout    time.Duration
	// Mirrorless starts every segment standalone and ignores Peers.
	Mirrorless bool
}

// Build assembles the payload for one host. It fails on the first segment
// that needs a peer and has none, or when two segments share a port.
func Build(req BuildRequest) (*Payload, error) {
	p := &Payload{
		Version:        Version,
		DispatchID:     req.DispatchID,
		Era:            req.Era,
		HostName:       req.Host,
		TimeoutSeconds: int(req.Timeout / time.Second),
		StartMethod:    MethodPrimaryOrMirror,
		Records:        make(map[int]TransitionRecord, len(req.Segments)),
	}
	if req.Mirrorless {
		p.StartMethod = MethodMirrorless
	}

	for _, seg := range req.Segments {
		if seg.HostName != req.Host {
			return nil, fmt.Errorf("segment dbid %d lives on %s, not %s", seg.DbID, seg.HostName, req.Host)
		}
		if prev, dup := p.Records[seg.Port]; dup {
			return nil, fmt.Errorf("segments dbid %d and %d share port %d on %s", prev.DbID, seg.DbID, seg.Port, req.Host)
		}

		rec := TransitionRecord{
			DbID:           seg.DbID,
			CurrentMode:    string(seg.Mode),
			HostName:       seg.HostName,
			DataDirectory:  seg.DataDirectory,
			Port:           seg.Port,
			FullResyncFlag: req.FullResync[seg.DbID],
		}

		if req.Mirrorless {
			rec.TargetMode = ModeMirrorless
		} else {
			peer, ok := req.Peers[seg.DbID]
			if !ok {
				return nil, fmt.Errorf("%w: dbid %d", ErrMissingPeer, seg.DbID)
			}
			rec.TargetMode = TargetMode(seg)
			rec.PeerAddress = peer.Address
			rec.PeerPort = peer.PeerPort()
			rec.PeerPMPort = peer.Port
		}
		p.Records[seg.Port] = rec
	}
	return p, nil
}

// TargetMode is the mode a segment transitions into when started as part of
// a replica pair: it keeps its current role.
func TargetMode(seg cluster.Segment) string {
	if seg.IsMirror() {
		return ModeMirror
	}
	return ModePrimary
}
