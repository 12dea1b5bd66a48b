package download

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
)

// progress logs download progress at most once per second.
type progress struct {
	mu          sync.Mutex
	logger      *slog.Logger
	transferred int64
	total       int64
	startTime   time.Time
	lastLog     time.Time
	finished    bool
}

func (p *progress) update(transferred, total int64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.startTime.IsZero() {
		p.startTime = time.Now()
	}
	p.transferred = transferred
	p.total = total

	if time.Since(p.lastLog) >= time.Second {
		p.lastLog = time.Now()
		p.log("downloading")
	}

	if !p.finished && p.total >= 0 && p.transferred == p.total {
		p.finished = true
		p.log("download complete")
	}
}

func (p *progress) log(msg string) {
	elapsed := time.Since(p.startTime)

	attrs := []any{
		"elapsed", elapsed.Round(time.Millisecond),
		"transferred", humanize.IBytes(uint64(max(p.transferred, 0))),
	}
	if p.total >= 0 {
		attrs = append(attrs,
			"progress", fmt.Sprintf("%.1f%%", float64(p.transferred)/float64(max(p.total, 1))*100),
			"total", humanize.IBytes(uint64(p.total)),
		)
	}
	if secs := elapsed.Seconds(); secs > 0 {
		attrs = append(attrs, "rate", humanize.IBytes(uint64(float64(p.transferred)/secs))+"/s")
	}

	p.logger.Info(msg, attrs...)
}
