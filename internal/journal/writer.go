package journal

import (
	"sync"

	"go.uber.org/zap"

	"github.com/repowiki/console/internal/metrics"
	"github.com/repowiki/console/internal/progress"
)

// writerBuffer is the number of task outcomes the writer can hold while a
// previous database write is still in flight.
const writerBuffer = 64

// Writer couples a progress store subscription to the journal. Store
// notifications run under the store lock, so the subscriber only filters
// and buffers; a single goroutine drains the buffer into SQLite. When the
// buffer is full the outcome is dropped and counted rather than stalling
// the store.
type Writer struct {
	j   *Journal
	log *zap.Logger

	ch      chan progress.Record
	quit    chan struct{}
	stopped chan struct{}
	once    sync.Once
}

// NewWriter starts a journal writer draining into j.
func NewWriter(j *Journal, logger *zap.Logger) *Writer {
	if logger == nil {
		logger = zap.NewNop()
	}
	w := &Writer{
		j:       j,
		log:     logger.Named("journal"),
		ch:      make(chan progress.Record, writerBuffer),
		quit:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	go w.drain()
	return w
}

// Subscriber returns the callback to register with Store.Subscribe. It
// forwards terminal records only and never blocks.
func (w *Writer) Subscriber() func(progress.Record) {
	return func(rec progress.Record) {
		if !rec.Status.Terminal() {
			return
		}
		select {
		case w.ch <- rec:
		default:
			metrics.JournalDrops.Inc()
		}
	}
}

// Close stops the writer after flushing everything already buffered.
// Unsubscribe from the store first; outcomes arriving after Close are
// dropped and counted.
func (w *Writer) Close() {
	w.once.Do(func() { close(w.quit) })
	<-w.stopped
}

func (w *Writer) drain() {
	defer close(w.stopped)
	for {
		select {
		case rec := <-w.ch:
			w.write(rec)
		case <-w.quit:
			for {
				select {
				case rec := <-w.ch:
					w.write(rec)
				default:
					return
				}
			}
		}
	}
}

func (w *Writer) write(rec progress.Record) {
	if err := w.j.RecordTask(rec); err != nil {
		metrics.JournalDrops.Inc()
		w.log.Warn("task outcome not journaled",
			zap.String("record_id", rec.ID),
			zap.Error(err))
	}
}
