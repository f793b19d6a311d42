package pipeline

import (
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/wegman-software/osmhistory-go/internal/logger"
	"github.com/wegman-software/osmhistory-go/internal/model"
)

// Progress logs import throughput at most once per interval
type Progress struct {
	start     time.Time
	total     int64
	bytesRead func() int64
	counts    [model.KindRelation + 1]atomic.Int64
	every     rate.Sometimes
	log       *zap.Logger
}

// NewProgress creates a progress reporter. bytesRead may be nil when the
// input size is unknown.
func NewProgress(totalBytes int64, bytesRead func() int64, interval time.Duration) *Progress {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &Progress{
		start:     time.Now(),
		total:     totalBytes,
		bytesRead: bytesRead,
		every:     rate.Sometimes{Interval: interval},
		log:       logger.Get(),
	}
}

// Observe counts one processed entity and reports when the interval elapsed
func (p *Progress) Observe(kind model.Kind) {
	if int(kind) < len(p.counts) {
		p.counts[kind].Add(1)
	}
	p.every.Do(p.report)
}

// Count returns the number of observed entities of a kind
func (p *Progress) Count(kind model.Kind) int64 {
	return p.counts[kind].Load()
}

func (p *Progress) report() {
	elapsed := time.Since(p.start)
	var total int64
	for i := range p.counts {
		total += p.counts[i].Load()
	}

	fields := []zap.Field{
		zap.Int64("nodes", p.counts[model.KindNode].Load()),
		zap.Int64("ways", p.counts[model.KindWay].Load()),
		zap.Int64("relations", p.counts[model.KindRelation].Load()),
		zap.String("rate", formatRate(float64(total)/elapsed.Seconds())),
	}
	if p.bytesRead != nil {
		read := p.bytesRead()
		fields = append(fields, zap.String("read", formatBytes(read)))
		if p.total > 0 && read > 0 {
			pct := float64(read) / float64(p.total) * 100
			fields = append(fields, zap.String("progress", fmt.Sprintf("%.1f%%", pct)))
			if remaining := estimateRemaining(elapsed, read, p.total); remaining > 0 {
				fields = append(fields, zap.Duration("eta", remaining))
			}
		}
	}
	p.log.Info("Import progress", fields...)
}

// estimateRemaining extrapolates the time left from bytes consumed so far
func estimateRemaining(elapsed time.Duration, done, total int64) time.Duration {
	if done <= 0 || done >= total {
		return 0
	}
	perByte := float64(elapsed) / float64(done)
	return time.Duration(perByte * float64(total-done)).Round(time.Second)
}

// formatRate formats entities per second
func formatRate(perSec float64) string {
	switch {
	case perSec >= 1e6:
		return fmt.Sprintf("%.1fM/s", perSec/1e6)
	case perSec >= 1e3:
		return fmt.Sprintf("%.1fK/s", perSec/1e3)
	default:
		return fmt.Sprintf("%.0f/s", perSec)
	}
}

// formatBytes formats a byte count with a binary unit
func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(n)/float64(div), "KMGTPE"[exp])
}
