// Package stats holds the Prometheus metrics recorded during a dispatch and
// pushes them to a gateway when one is configured.
package stats

import (
	"strconv"

	"github.com/golang/glog"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
)

const (
	Namespace = "segstart"
	JobName   = "segctl"
)

var (
	Gather = prometheus.NewRegistry()

	SegmentOutcomeCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "dispatch",
			Name:      "segments_total",
			Help:      "Counter of segment start outcomes.",
		}, []string{"outcome"})

	SegmentFailureCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "dispatch",
			Name:      "segment_failures_total",
			Help:      "Counter of failed segment starts by reason code.",
		}, []string{"reason_code"})

	WaveCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "dispatch",
			Name:      "waves_total",
			Help:      "Counter of dispatch waves by segment role.",
		}, []string{"role"})

	StatusAnomalyCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "dispatch",
			Name:      "status_anomalies_total",
			Help:      "Counter of STATUS lines that were reported twice or for a segment that was not requested.",
		}, []string{"kind"})

	HostCommandHistogram = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: "dispatch",
			Name:      "host_command_seconds",
			Help:      "Bucketed histogram of remote command duration per host.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 14),
		}, []string{"transport", "exit_code"})
)

func init() {
	Gather.MustRegister(SegmentOutcomeCounter)
	Gather.MustRegister(SegmentFailureCounter)
	Gather.MustRegister(WaveCounter)
	Gather.MustRegister(StatusAnomalyCounter)
	Gather.MustRegister(HostCommandHistogram)
}

// ExitCodeLabel keeps the exit_code label set small.
func ExitCodeLabel(code int) string {
	switch {
	case code < 0:
		return "unreachable"
	case code <= 2:
		return strconv.Itoa(code)
	}
	return "other"
}

// Push sends the current registry to a Prometheus push gateway. An empty
// addr disables pushing.
func Push(addr, instance string) error {
	if addr == "" {
		return nil
	}
	glog.V(1).Infof("pushing metrics to %s", addr)
	return push.New(addr, JobName).Gatherer(Gather).Grouping("instance", instance).Push()
}
