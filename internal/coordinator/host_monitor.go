package coordinator

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/golang/glog"
	"golang.org/x/sync/errgroup"
)

// Host health states.
const (
	HostUnknown   = "unknown"
	HostHealthy   = "healthy"
	HostUnhealthy = "unhealthy"
)

// HostHealth tracks the reachability of one host.
// Thread-safe: Protected by HostMonitor's mutex when accessed.
type HostHealth struct {
	LastCheck        time.Time // Timestamp of the last probe attempt
	LastHealthy      time.Time // Timestamp of the last successful probe
	LastError        error     // Error from the most recent failed probe
	Host             string    // Host name as it appears in the topology
	Status           string    // Current status: "healthy", "unhealthy", "unknown"
	ConsecutiveFails int       // Number of consecutive failed probes
}

// HostMonitor probes hosts before a dispatch so that an unreachable host
// can be reported up front instead of as a wall of per-segment failures.
// Thread-safe: All methods are safe for concurrent access.
type HostMonitor struct {
	hosts         map[string]*HostHealth                       // Current health per host
	checkFunc     func(ctx context.Context, host string) error // Probe for one host
	onUnhealthy   func(host string, err error)                 // Callback when a host is given up on
	retryInterval time.Duration                                // Pause between attempts on one host
	mu            sync.RWMutex                                 // Protects hosts map
	maxFailures   int                                          // Attempts before marking unhealthy
	parallelism   int                                          // Hosts probed at once
}

// NewHostMonitor creates a monitor that uses check to probe a host.
// Hosts are marked unhealthy after 3 consecutive failures.
//
// Parameters:
//   - check: Probe function, typically a transport.Prober's Probe method
//
// Example:
//
//	monitor := NewHostMonitor(prober.Probe)
//	unhealthy := monitor.Probe(ctx, topo.Hosts())
func NewHostMonitor(check func(ctx context.Context, host string) error) *HostMonitor {
	return &HostMonitor{
		hosts:         make(map[string]*HostHealth),
		checkFunc:     check,
		maxFailures:   3,
		retryInterval: 500 * time.Millisecond,
		parallelism:   16,
	}
}

// SetOnUnhealthy sets the callback invoked once per host that fails every
// attempt.
func (h *HostMonitor) SetOnUnhealthy(callback func(host string, err error)) {
	h.onUnhealthy = callback
}

// SetParallelism bounds how many hosts are probed at once.
func (h *HostMonitor) SetParallelism(n int) {
	if n > 0 {
		h.parallelism = n
	}
}

// SetRetry sets the number of attempts per host and the pause between
// them.
func (h *HostMonitor) SetRetry(attempts int, interval time.Duration) {
	if attempts > 0 {
		h.maxFailures = attempts
	}
	h.retryInterval = interval
}

// Probe checks every host and returns the sorted names of those that stayed
// unreachable. It stops early only when ctx is done.
func (h *HostMonitor) Probe(ctx context.Context, hosts []string) []string {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(h.parallelism)
	for _, host := range hosts {
		host := host
		g.Go(func() error {
			h.checkHost(ctx, host)
			return nil
		})
	}
	_ = g.Wait()

	var unhealthy []string
	h.mu.RLock()
	for _, host := range hosts {
		if hh, ok := h.hosts[host]; ok && hh.Status == HostUnhealthy {
			unhealthy = append(unhealthy, host)
		}
	}
	h.mu.RUnlock()
	sort.Strings(unhealthy)
	return unhealthy
}

// checkHost retries one host until it answers or maxFailures is reached.
func (h *HostMonitor) checkHost(ctx context.Context, host string) {
	h.mu.Lock()
	health, exists := h.hosts[host]
	if !exists {
		health = &HostHealth{Host: host, Status: HostUnknown}
		h.hosts[host] = health
	}
	h.mu.Unlock()

	for attempt := 1; attempt <= h.maxFailures; attempt++ {
		err := h.checkFunc(ctx, host)

		h.mu.Lock()
		health.LastCheck = time.Now()
		if err == nil {
			if health.Status == HostUnhealthy {
				glog.Infof("host %s recovered and is reachable", host)
			}
			health.Status = HostHealthy
			health.ConsecutiveFails = 0
			health.LastError = nil
			health.LastHealthy = health.LastCheck
			h.mu.Unlock()
			return
		}
		health.ConsecutiveFails++
		health.LastError = err
		h.mu.Unlock()
		glog.Warningf("probe of %s failed (attempt %d/%d): %v", host, attempt, h.maxFailures, err)

		if attempt == h.maxFailures || ctx.Err() != nil {
			break
		}
		select {
		case <-ctx.Done():
		case <-time.After(h.retryInterval):
		}
	}

	h.mu.Lock()
	previous := health.Status
	health.Status = HostUnhealthy
	lastErr := health.LastError
	h.mu.Unlock()
	if previous != HostUnhealthy && h.onUnhealthy != nil {
		h.onUnhealthy(host, lastErr)
	}
}

// GetHostHealth returns a copy of one host's record, or nil if the host
// was never probed.
func (h *HostMonitor) GetHostHealth(host string) *HostHealth {
	h.mu.RLock()
	defer h.mu.RUnlock()

	health, exists := h.hosts[host]
	if !exists {
		return nil
	}
	cp := *health
	return &cp
}

// GetAllHostHealth returns copies of every host record.
func (h *HostMonitor) GetAllHostHealth() map[string]*HostHealth {
	h.mu.RLock()
	defer h.mu.RUnlock()

	result := make(map[string]*HostHealth, len(h.hosts))
	for name, health := range h.hosts {
		cp := *health
		result[name] = &cp
	}
	return result
}

// IsHealthy reports whether host answered its last probe.
func (h *HostMonitor) IsHealthy(host string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()

	health, exists := h.hosts[host]
	return exists && health.Status == HostHealthy
}

// UnreachableError lists hosts that failed preflight.
type UnreachableError struct {
	Hosts []string
}

func (e *UnreachableError) Error() string {
	return fmt.Sprintf("%d hosts unreachable: %v", len(e.Hosts), e.Hosts)
}
