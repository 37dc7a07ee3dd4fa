package outbox

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jmehdipour/orders-outbox/internal/metrics"
	"github.com/jmehdipour/orders-outbox/internal/model"
	"github.com/jmehdipour/orders-outbox/internal/repository"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
)

// Handler delivers one outbox row downstream. It may be called more than once
// for the same row and must be idempotent. A non-nil error leaves the row
// pending for a later cycle.
type Handler func(ctx context.Context, event model.OutboxEvent) error

var (
	ErrAlreadyRunning = errors.New("outbox: dispatcher already running")
	ErrNotRunning     = errors.New("outbox: dispatcher not running")
)

type Config struct {
	PollInterval    time.Duration
	BatchSize       int
	DeliveryTimeout time.Duration // per handler call, 0 = no timeout
}

func (c Config) validate() error {
	if c.PollInterval <= 0 {
		return fmt.Errorf("outbox: poll interval must be positive, got %s", c.PollInterval)
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("outbox: batch size must be positive, got %d", c.BatchSize)
	}
	return nil
}

// CycleResult counts what one or more dispatch cycles did.
type CycleResult struct {
	Claimed   int
	Published int
	Failed    int
}

func (r *CycleResult) add(o CycleResult) {
	r.Claimed += o.Claimed
	r.Published += o.Published
	r.Failed += o.Failed
}

// Dispatcher claims pending outbox rows with FOR UPDATE SKIP LOCKED, hands
// them to a Handler and marks delivered rows published. Any number of
// dispatchers may run against the same database.
type Dispatcher struct {
	db      *sqlx.DB
	outbox  *repository.OutboxRepositoryImpl
	handler Handler
	cfg     Config
	log     *zap.Logger

	// cycleMu keeps cycles of one instance from overlapping.
	cycleMu sync.Mutex

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func NewDispatcher(db *sqlx.DB, handler Handler, cfg Config, log *zap.Logger) (*Dispatcher, error) {
	if handler == nil {
		return nil, errors.New("outbox: nil handler")
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = zap.NewNop()
	}

	return &Dispatcher{
		db:      db,
		outbox:  repository.NewOutboxRepository(db),
		handler: handler,
		cfg:     cfg,
		log:     log,
	}, nil
}

// Start runs one cycle immediately and then one per poll interval until Stop
// is called or ctx is cancelled.
func (d *Dispatcher) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.done != nil {
		return ErrAlreadyRunning
	}

	loopCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	d.done = make(chan struct{})

	go d.loop(loopCtx, d.done)

	d.log.Info("outbox dispatcher started",
		zap.Duration("poll_interval", d.cfg.PollInterval),
		zap.Int("batch_size", d.cfg.BatchSize))

	return nil
}

// Stop cancels the timer and waits for an in-flight cycle to finish, or for
// ctx to expire.
func (d *Dispatcher) Stop(ctx context.Context) error {
	d.mu.Lock()
	if d.done == nil {
		d.mu.Unlock()
		return ErrNotRunning
	}
	cancel, done := d.cancel, d.done
	d.cancel, d.done = nil, nil
	d.mu.Unlock()

	cancel()

	select {
	case <-done:
		d.log.Info("outbox dispatcher stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) Running() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.done != nil
}

// loop clears the running state on exit so that a dispatcher whose parent
// ctx was cancelled can be started again.
func (d *Dispatcher) loop(ctx context.Context, done chan struct{}) {
	defer func() {
		d.mu.Lock()
		if d.done == done {
			d.cancel()
			d.cancel, d.done = nil, nil
		}
		d.mu.Unlock()
		close(done)
	}()

	ticker := time.NewTicker(d.cfg.PollInterval)
	defer ticker.Stop()

	for {
		// A started cycle runs to completion even if ctx is cancelled meanwhile.
		if _, err := d.DispatchOnce(context.WithoutCancel(ctx)); err != nil {
			d.log.Error("outbox dispatch cycle failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// DispatchOnce runs a single claim, deliver and mark cycle. Handler failures
// are counted in Failed and never abort the cycle; an error is returned only
// when claiming, marking or committing fails, in which case the whole batch
// stays pending.
func (d *Dispatcher) DispatchOnce(ctx context.Context) (res CycleResult, err error) {
	d.cycleMu.Lock()
	defer d.cycleMu.Unlock()

	start := time.Now()
	defer func() {
		metrics.DispatchCycleSeconds.Observe(time.Since(start).Seconds())
		switch {
		case err != nil:
			metrics.DispatchCyclesTotal.WithLabelValues("error").Inc()
		case res.Claimed == 0:
			metrics.DispatchCyclesTotal.WithLabelValues("empty").Inc()
		default:
			metrics.DispatchCyclesTotal.WithLabelValues("ok").Inc()
		}
	}()

	tx, err := d.db.BeginTxx(ctx, nil)
	if err != nil {
		return res, fmt.Errorf("outbox: begin: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	repo := d.outbox.WithTx(tx)

	rows, err := repo.ClaimPending(ctx, d.cfg.BatchSize)
	if err != nil {
		return CycleResult{}, err
	}
	res.Claimed = len(rows)

	if len(rows) == 0 {
		if err = tx.Commit(); err != nil {
			return res, fmt.Errorf("outbox: commit: %w", err)
		}
		return res, nil
	}

	delivered := make([]int64, 0, len(rows))
	for _, row := range rows {
		if derr := d.deliver(ctx, row); derr != nil {
			res.Failed++
			d.log.Warn("outbox delivery failed, row stays pending",
				zap.Int64("outbox_id", row.ID),
				zap.String("event_type", row.EventType),
				zap.String("aggregate_sku", row.AggregateSku),
				zap.Error(derr))
			continue
		}
		delivered = append(delivered, row.ID)
	}

	if _, err = repo.MarkPublished(ctx, delivered); err != nil {
		return CycleResult{Claimed: res.Claimed}, err
	}
	if err = tx.Commit(); err != nil {
		return CycleResult{Claimed: res.Claimed}, fmt.Errorf("outbox: commit: %w", err)
	}
	res.Published = len(delivered)

	metrics.OutboxEventsTotal.WithLabelValues("published").Add(float64(res.Published))
	metrics.OutboxEventsTotal.WithLabelValues("failed").Add(float64(res.Failed))

	d.log.Info("outbox cycle",
		zap.Int("claimed", res.Claimed),
		zap.Int("published", res.Published),
		zap.Int("failed", res.Failed))

	return res, nil
}

// Drain repeats DispatchOnce until a cycle claims nothing or publishes
// nothing, and returns the summed result. It can return while rows are still
// pending: a cycle whose every claimed row fails ends the drain, so a failing
// row at the head of the queue with a batch size of 1 hides the rows behind it.
func (d *Dispatcher) Drain(ctx context.Context) (CycleResult, error) {
	var total CycleResult
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}

		res, err := d.DispatchOnce(ctx)
		total.add(res)
		if err != nil {
			return total, err
		}
		if res.Claimed == 0 || res.Published == 0 {
			return total, nil
		}
	}
}

func (d *Dispatcher) deliver(ctx context.Context, row model.OutboxEvent) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()

	if d.cfg.DeliveryTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.cfg.DeliveryTimeout)
		defer cancel()
	}

	return d.handler(ctx, row)
}
