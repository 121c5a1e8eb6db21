package history

import (
	"context"
	"sync"
	"time"

	"github.com/banshee-data/battery.report/internal/hbi"
	"github.com/banshee-data/battery.report/internal/monitoring"
	"github.com/banshee-data/battery.report/internal/timeutil"
)

// DefaultBuffer is the number of readings queued before new ones are dropped.
const DefaultBuffer = 256

// Sink stores readings. *DB implements it.
type Sink interface {
	InsertReading(r Reading) error
}

// DropCounter counts readings discarded because the queue was full.
type DropCounter interface {
	AddDropped()
}

// RecorderConfig configures a Recorder.
type RecorderConfig struct {
	Sink        Sink
	Buffer      int
	Stats       DropCounter
	Clock       timeutil.Clock
	LogInterval time.Duration
}

// Recorder writes applied records to the sink from its own goroutine so the
// receive loop never waits on disk.
type Recorder struct {
	sink        Sink
	channel     chan Reading
	stats       DropCounter
	clock       timeutil.Clock
	logInterval time.Duration
	done        chan struct{}
	startOnce   sync.Once
}

type noopDrops struct{}

func (noopDrops) AddDropped() {}

// NewRecorder creates a Recorder. Call Start to begin writing.
func NewRecorder(cfg RecorderConfig) *Recorder {
	if cfg.Buffer <= 0 {
		cfg.Buffer = DefaultBuffer
	}
	if cfg.Stats == nil {
		cfg.Stats = noopDrops{}
	}
	if cfg.Clock == nil {
		cfg.Clock = timeutil.RealClock{}
	}
	if cfg.LogInterval <= 0 {
		cfg.LogInterval = time.Minute
	}
	return &Recorder{
		sink:        cfg.Sink,
		channel:     make(chan Reading, cfg.Buffer),
		stats:       cfg.Stats,
		clock:       cfg.Clock,
		logInterval: cfg.LogInterval,
		done:        make(chan struct{}),
	}
}

// ObserveStatus queues st without blocking. When the queue is full the reading
// is dropped and counted.
func (r *Recorder) ObserveStatus(st hbi.Status) {
	reading := Reading{
		Device:   st.Device,
		Level:    st.Level,
		Charging: st.Charging,
		Company:  st.Company,
		At:       r.clock.Now(),
	}
	select {
	case r.channel <- reading:
	default:
		r.stats.AddDropped()
	}
}

// Start launches the writer goroutine. When ctx ends, queued readings are
// flushed before Done is closed.
func (r *Recorder) Start(ctx context.Context) {
	r.startOnce.Do(func() {
		go r.run(ctx)
	})
}

func (r *Recorder) run(ctx context.Context) {
	defer close(r.done)

	failed := 0
	var lastErr error
	ticker := r.clock.NewTicker(r.logInterval)
	defer ticker.Stop()

	write := func(reading Reading) {
		if err := r.sink.InsertReading(reading); err != nil {
			failed++
			lastErr = err
		}
	}

	for {
		select {
		case <-ctx.Done():
			for {
				select {
				case reading := <-r.channel:
					write(reading)
				default:
					if failed > 0 {
						monitoring.Logf("History: %d readings failed to write (latest: %v)", failed, lastErr)
					}
					return
				}
			}
		case reading := <-r.channel:
			write(reading)
		case <-ticker.C():
			if failed > 0 {
				monitoring.Logf("History: %d readings failed to write (latest: %v)", failed, lastErr)
				failed = 0
				lastErr = nil
			}
		}
	}
}

// Done is closed once the writer has exited.
func (r *Recorder) Done() <-chan struct{} {
	return r.done
}

// Pending returns the number of queued readings.
func (r *Recorder) Pending() int {
	return len(r.channel)
}
