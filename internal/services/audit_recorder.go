package services

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
	"gorm.io/gorm"

	"github.com/tbourn/fleet-gateway/internal/domain"
	"github.com/tbourn/fleet-gateway/internal/repo"
)

var auditDropped = prometheus.NewCounter(prometheus.CounterOpts{
	Name: "gateway_audit_dropped_total",
	Help: "Audit entries dropped because the recorder queue was full or closed.",
})

func init() {
	prometheus.MustRegister(auditDropped)
}

type (
	createAuditFn func(ctx context.Context, db *gorm.DB, entries []domain.AuditEntry) error
	purgeAuditFn  func(ctx context.Context, db *gorm.DB, cutoff time.Time) (int64, error)
)

// AuditOptions tunes an AuditRecorder. Zero values select defaults.
type AuditOptions struct {
	QueueSize     int           // buffered entries before Record starts dropping (default 1024)
	BatchSize     int           // entries written per insert (default 100)
	FlushInterval time.Duration // max time an entry waits in a partial batch (default 1s)
	Retention     time.Duration // entries older than this are purged; 0 disables
	PurgeInterval time.Duration // time between purges (default 1h)
}

// AuditRecorder writes authentication decisions to the database from a
// single background goroutine.
//
// Record never blocks the request path: when the queue is full the entry
// is dropped and counted.
type AuditRecorder struct {
	db          *gorm.DB
	create      createAuditFn
	purgeBefore purgeAuditFn
	opt         AuditOptions
	now         func() time.Time

	mu     sync.RWMutex
	closed bool
	queue  chan domain.AuditEntry
	done   chan struct{}

	dropLog rate.Sometimes
}

// NewAuditRecorder starts the background writer persisting to db.
func NewAuditRecorder(db *gorm.DB, opt AuditOptions) *AuditRecorder {
	return newAuditRecorder(db, repo.CreateAuditEntries, repo.PurgeAuditBefore, opt)
}

func newAuditRecorder(db *gorm.DB, create createAuditFn, purge purgeAuditFn, opt AuditOptions) *AuditRecorder {
	if opt.QueueSize <= 0 {
		opt.QueueSize = 1024
	}
	if opt.BatchSize <= 0 {
		opt.BatchSize = 100
	}
	if opt.FlushInterval <= 0 {
		opt.FlushInterval = time.Second
	}
	if opt.PurgeInterval <= 0 {
		opt.PurgeInterval = time.Hour
	}
	r := &AuditRecorder{
		db:          db,
		create:      create,
		purgeBefore: purge,
		opt:         opt,
		now:         time.Now,
		queue:       make(chan domain.AuditEntry, opt.QueueSize),
		done:        make(chan struct{}),
		dropLog:     rate.Sometimes{First: 1, Interval: time.Minute},
	}
	go r.run()
	return r
}

// Record enqueues e for persistence.
func (r *AuditRecorder) Record(e domain.AuditEntry) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		r.drop("closed")
		return
	}
	select {
	case r.queue <- e:
	default:
		r.drop("queue full")
	}
}

func (r *AuditRecorder) drop(reason string) {
	auditDropped.Inc()
	r.dropLog.Do(func() {
		log.Warn().Str("reason", reason).Msg("audit entry dropped")
	})
}

// Close stops accepting entries and waits until the queue is flushed or ctx
// expires.
func (r *AuditRecorder) Close(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrRecorderClosed
	}
	r.closed = true
	close(r.queue)
	r.mu.Unlock()

	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *AuditRecorder) run() {
	defer close(r.done)

	flush := time.NewTicker(r.opt.FlushInterval)
	defer flush.Stop()
	var purge <-chan time.Time
	if r.opt.Retention > 0 {
		t := time.NewTicker(r.opt.PurgeInterval)
		defer t.Stop()
		purge = t.C
		r.purge()
	}

	batch := make([]domain.AuditEntry, 0, r.opt.BatchSize)
	for {
		select {
		case e, ok := <-r.queue:
			if !ok {
				r.write(batch)
				return
			}
			batch = append(batch, e)
			if len(batch) >= r.opt.BatchSize {
				r.write(batch)
				batch = batch[:0]
			}
		case <-flush.C:
			if len(batch) > 0 {
				r.write(batch)
				batch = batch[:0]
			}
		case <-purge:
			r.purge()
		}
	}
}

func (r *AuditRecorder) write(batch []domain.AuditEntry) {
	if len(batch) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	// The repo fills IDs in place; copy so the reused buffer stays clean.
	entries := append([]domain.AuditEntry(nil), batch...)
	if err := r.create(ctx, r.db, entries); err != nil {
		log.Error().Err(err).Int("entries", len(entries)).Msg("audit write failed")
	}
}

func (r *AuditRecorder) purge() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	n, err := r.purgeBefore(ctx, r.db, r.now().UTC().Add(-r.opt.Retention))
	if err != nil {
		log.Error().Err(err).Msg("audit purge failed")
		return
	}
	if n > 0 {
		log.Info().Int64("entries", n).Msg("audit entries purged")
	}
}
