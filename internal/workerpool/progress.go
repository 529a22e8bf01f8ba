package workerpool

import (
	"io"
	"time"

	"github.com/golang/glog"
	"github.com/schollz/progressbar/v3"
)

// DefaultProgressInterval is how often JoinWithProgress reports.
const DefaultProgressInterval = 2 * time.Second

// JoinWithProgress is Join that reports the number of outstanding tasks
// every interval: a progress bar on w (skipped when w is nil) and a log line.
// total is the number of tasks submitted for this cycle.
func (p *Pool) JoinWithProgress(w io.Writer, description string, total int, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultProgressInterval
	}

	done := make(chan struct{})
	go func() {
		p.Join()
		close(done)
	}()

	var bar *progressbar.ProgressBar
	if w != nil && total > 0 {
		bar = progressbar.NewOptions(total,
			progressbar.OptionSetWriter(w),
			progressbar.OptionSetDescription(description),
			progressbar.OptionShowCount(),
			progressbar.OptionSetRenderBlankState(true),
			progressbar.OptionClearOnFinish(),
			progressbar.OptionFullWidth(),
		)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			if bar != nil {
				_ = bar.Finish()
			}
			return
		case <-ticker.C:
			outstanding := p.Outstanding()
			glog.Infof("%s: %d of %d commands still running", description, outstanding, total)
			if bar != nil {
				_ = bar.Set(clamp(total-outstanding, 0, total))
			}
		}
	}
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
