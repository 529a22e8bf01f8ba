package stats

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestExitCodeLabel verifies label bucketing
func TestExitCodeLabel(t *testing.T) {
	assert.Equal(t, "unreachable", ExitCodeLabel(-1))
	assert.Equal(t, "0", ExitCodeLabel(0))
	assert.Equal(t, "2", ExitCodeLabel(2))
	assert.Equal(t, "other", ExitCodeLabel(137))
}

// TestCounters verifies the collectors are registered and count
func TestCounters(t *testing.T) {
	before := testutil.ToFloat64(SegmentOutcomeCounter.WithLabelValues("started"))
	SegmentOutcomeCounter.WithLabelValues("started").Add(2)
	assert.Equal(t, before+2, testutil.ToFloat64(SegmentOutcomeCounter.WithLabelValues("started")))

	families, err := Gather.Gather()
	require.NoError(t, err)
	names := make([]string, 0, len(families))
	for _, f := range families {
		names = append(names, f.GetName())
	}
	assert.Contains(t, names, "segstart_dispatch_segments_total")
}

// TestPush verifies metrics reach the gateway and that an empty address is a no-op
func TestPush(t *testing.T) {
	assert.NoError(t, Push("", "cdw"))

	var path string
	var body []byte
	gw := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		body, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer gw.Close()

	WaveCounter.WithLabelValues("all").Inc()
	require.NoError(t, Push(gw.URL, "cdw"))
	assert.Equal(t, "/metrics/job/segctl/instance/cdw", path)
	assert.NotEmpty(t, body)
}
