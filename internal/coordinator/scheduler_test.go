package coordinator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/segstart/internal/cluster"
)

func TestPlanWaves(t *testing.T) {
	tests := []struct {
		name       string
		wantLabels []string
		wantHosts  [][]string
		method     StartMethod
		workers    int
	}{
		{
			name:       "enough workers",
			method:     StartAsPrimaryOrMirror,
			workers:    2,
			wantLabels: []string{WaveAll},
			wantHosts:  [][]string{{"sdw1", "sdw2"}},
		},
		{
			name:       "starved pool splits mirrors first",
			method:     StartAsPrimaryOrMirror,
			workers:    1,
			wantLabels: []string{WaveMirrors, WavePrimaries},
			wantHosts:  [][]string{{"sdw2", "sdw1"}, {"sdw1", "sdw2"}},
		},
		{
			name:       "mirrorless never splits",
			method:     StartAsMirrorless,
			workers:    1,
			wantLabels: []string{WaveAll},
			wantHosts:  [][]string{{"sdw1", "sdw2"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			waves := PlanWaves(spreadTopology().Segments, tt.method, tt.workers)
			require.Len(t, waves, len(tt.wantLabels))
			for i, w := range waves {
				assert.Equal(t, tt.wantLabels[i], w.Label)
				var hosts []string
				for _, h := range w.Hosts {
					hosts = append(hosts, h.Host)
				}
				assert.Equal(t, tt.wantHosts[i], hosts)
			}
		})
	}
}

func TestPlanWavesSegmentCounts(t *testing.T) {
	waves := PlanWaves(spreadTopology().Segments, StartAsPrimaryOrMirror, 1)
	require.Len(t, waves, 2)
	for _, w := range waves {
		assert.Equal(t, 2, w.NumSegments())
		for _, h := range w.Hosts {
			for _, s := range h.Segments {
				assert.Equal(t, w.Label == WaveMirrors, s.IsMirror())
			}
		}
	}

	one := PlanWaves(spreadTopology().Segments, StartAsPrimaryOrMirror, 8)
	require.Len(t, one, 1)
	assert.Equal(t, 4, one[0].NumSegments())
}

func TestPlanWavesEmptyWave(t *testing.T) {
	primaries := splitTopology().Select(cluster.Filter{Hosts: []string{"sdw1"}})
	require.Len(t, primaries, 2)

	onlyPrimaries := PlanWaves(primaries, StartAsPrimaryOrMirror, 0)
	require.Len(t, onlyPrimaries, 2)
	assert.Empty(t, onlyPrimaries[0].Hosts)
	assert.Equal(t, 2, onlyPrimaries[1].NumSegments())
}

func TestStartMethod(t *testing.T) {
	for _, s := range []string{"primary-or-mirror", "PRIMARY_OR_MIRROR", ""} {
		m, err := ParseStartMethod(s)
		require.NoError(t, err, s)
		assert.Equal(t, StartAsPrimaryOrMirror, m)
	}
	m, err := ParseStartMethod("mirrorless")
	require.NoError(t, err)
	assert.Equal(t, StartAsMirrorless, m)
	assert.Equal(t, "mirrorless", m.String())

	_, err = ParseStartMethod("standby")
	assert.Error(t, err)
	assert.Equal(t, "StartMethod(9)", StartMethod(9).String())
}
