package coordinator

import (
	"github.com/dreamware/segstart/internal/cluster"
)

// Wave labels.
const (
	WaveAll       = "all"
	WaveMirrors   = "mirrors"
	WavePrimaries = "primaries"
)

// Wave is one submit-all-then-join round: at most one remote command per
// host.
type Wave struct {
	Label string
	Hosts []cluster.HostSegments
}

// NumSegments counts the segments across all hosts in the wave.
func (w Wave) NumSegments() int {
	n := 0
	for _, h := range w.Hosts {
		n += len(h.Segments)
	}
	return n
}

// PlanWaves splits the requested segments into dispatch waves.
//
// When the pool has at least one worker per distinct host, or the segments
// start mirrorless, a single wave sends each host one command holding all of
// its segments. Otherwise primary-or-mirror starts are split in two: every
// mirror first, then every primary, so a constrained pool never leaves a
// mirror unattempted while its primary waits behind other hosts.
func PlanWaves(segments []cluster.Segment, method StartMethod, workers int) []Wave {
	hosts := cluster.GroupByHost(segments)
	if method == StartAsMirrorless || workers >= len(hosts) {
		return []Wave{{Label: WaveAll, Hosts: hosts}}
	}

	var mirrors, primaries []cluster.Segment
	for _, s := range segments {
		if s.IsMirror() {
			mirrors = append(mirrors, s)
		} else {
			primaries = append(primaries, s)
		}
	}
	return []Wave{
		{Label: WaveMirrors, Hosts: cluster.GroupByHost(mirrors)},
		{Label: WavePrimaries, Hosts: cluster.GroupByHost(primaries)},
	}
}
