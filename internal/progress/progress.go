// Package progress tracks download throughput and renders periodic
// one-line updates when the CLI's --progress flag is set, using
// rcrowley/go-metrics meters and counters.
package progress

import (
	"fmt"
	"time"

	"github.com/rcrowley/go-metrics"

	"github.com/nayiswftw/Rusbit/internal/logger"
)

// Tracker reports piece completion rate and byte throughput for a
// single download.
type Tracker struct {
	registry metrics.Registry

	piecesPerSecond metrics.Meter
	bytesPerSecond  metrics.Meter
	piecesDone      metrics.Counter
	bytesDone       metrics.Counter

	totalPieces uint32
	log         logger.Logger

	stopC chan struct{}
	doneC chan struct{}
}

// New returns a Tracker for a download of totalPieces pieces.
func New(totalPieces uint32, log logger.Logger) *Tracker {
	r := metrics.NewRegistry()
	return &Tracker{
		registry:        r,
		piecesPerSecond: metrics.NewRegisteredMeter("pieces_per_second", r),
		bytesPerSecond:  metrics.NewRegisteredMeter("bytes_per_second", r),
		piecesDone:      metrics.NewRegisteredCounter("pieces_done", r),
		bytesDone:       metrics.NewRegisteredCounter("bytes_done", r),
		totalPieces:     totalPieces,
		log:             log,
		stopC:           make(chan struct{}),
		doneC:           make(chan struct{}),
	}
}

// MarkPiece records one completed, verified piece of n bytes.
func (t *Tracker) MarkPiece(n int) {
	t.piecesPerSecond.Mark(1)
	t.bytesPerSecond.Mark(int64(n))
	t.piecesDone.Inc(1)
	t.bytesDone.Inc(int64(n))
}

// Run logs a one-line progress update every interval until Stop is
// called. Intended to run in its own goroutine when --progress is set.
func (t *Tracker) Run(interval time.Duration) {
	defer close(t.doneC)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			t.log.Infof("%d/%d pieces, %.1f pieces/s, %s/s",
				t.piecesDone.Count(), t.totalPieces,
				t.piecesPerSecond.Rate1(), humanRate(t.bytesPerSecond.Rate1()))
		case <-t.stopC:
			return
		}
	}
}

// Stop halts Run and waits for it to return. Must only be called after
// Run has been started in its own goroutine.
func (t *Tracker) Stop() {
	select {
	case <-t.stopC:
		return
	default:
		close(t.stopC)
	}
	<-t.doneC
}

func humanRate(bytesPerSec float64) string {
	const unit = 1024.0
	if bytesPerSec < unit {
		return fmt.Sprintf("%.0f B", bytesPerSec)
	}
	div, exp := unit, 0
	for n := bytesPerSec / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", bytesPerSec/div, "KMGTPE"[exp])
}
