package records

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tulparlabs/agentrun/engine"
	"github.com/tulparlabs/agentrun/types"
)

const (
	DefaultQueueSize     = 256
	DefaultFlushInterval = time.Second

	// writeBatchSize flushes early once this many records are pending.
	writeBatchSize = 32

	// DefaultQueryLimit bounds list queries that pass no limit.
	DefaultQueryLimit = 50
	maxQueryLimit     = 500
)

// queueItem carries exactly one record; the zero field tells the
// writer which table it belongs to.
type queueItem struct {
	run  *Run
	node *NodeExecution
}

// Recorder writes engine execution records to the database without
// ever blocking the caller. Records queue up and a single writer
// flushes them in batches, on a timer and at close.
type Recorder struct {
	db     *gorm.DB
	logger *zap.Logger
	queue  chan queueItem
	flush  time.Duration

	closeOnce sync.Once
	closing   chan struct{}
	done      chan struct{}
	dropped   atomic.Int64
}

var _ engine.Recorder = (*Recorder)(nil)

type RecorderOption func(*Recorder)

// WithQueueSize sets how many records may wait for the writer.
func WithQueueSize(n int) RecorderOption {
	return func(r *Recorder) {
		if n > 0 {
			r.queue = make(chan queueItem, n)
		}
	}
}

// WithFlushInterval sets how often buffered records are written out.
func WithFlushInterval(d time.Duration) RecorderOption {
	return func(r *Recorder) {
		if d > 0 {
			r.flush = d
		}
	}
}

// NewRecorder creates a recorder and starts its writer. The db must
// already have the record tables; see AutoMigrate and
// internal/migration.
func NewRecorder(db *gorm.DB, logger *zap.Logger, opts ...RecorderOption) *Recorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Recorder{
		db:      db,
		logger:  logger.With(zap.String("component", "records")),
		queue:   make(chan queueItem, DefaultQueueSize),
		flush:   DefaultFlushInterval,
		closing: make(chan struct{}),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	go r.loop()
	return r
}

// RecordRun queues a finished run for persistence.
func (r *Recorder) RecordRun(_ context.Context, result *types.RunResult) {
	if result == nil {
		return
	}
	rec := newRun(result)
	r.enqueue(queueItem{run: &rec})
}

// RecordNode queues a node execution for persistence.
func (r *Recorder) RecordNode(_ context.Context, exec *engine.NodeExecution) {
	if exec == nil {
		return
	}
	rec := newNodeExecution(exec)
	r.enqueue(queueItem{node: &rec})
}

func (r *Recorder) enqueue(item queueItem) {
	select {
	case <-r.closing:
		r.dropped.Add(1)
		return
	default:
	}

	select {
	case r.queue <- item:
	default:
		n := r.dropped.Add(1)
		r.logger.Warn("record queue full, dropping record", zap.Int64("dropped_total", n))
	}
}

// Dropped reports how many records were discarded because the queue
// was full or the recorder was closing.
func (r *Recorder) Dropped() int64 {
	return r.dropped.Load()
}

// Close drains pending records and stops the writer. The database
// handle stays open; callers own it.
func (r *Recorder) Close(ctx context.Context) error {
	r.closeOnce.Do(func() { close(r.closing) })
	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return types.NewError(types.ErrTimeout, "records writer did not drain in time")
	}
}

func (r *Recorder) loop() {
	defer close(r.done)

	ticker := time.NewTicker(r.flush)
	defer ticker.Stop()

	var runs []*Run
	var nodes []*NodeExecution

	writeOut := func() {
		r.write(runs, nodes)
		runs = nil
		nodes = nil
	}

	for {
		select {
		case item := <-r.queue:
			if item.run != nil {
				runs = append(runs, item.run)
			}
			if item.node != nil {
				nodes = append(nodes, item.node)
			}
			if len(runs)+len(nodes) >= writeBatchSize {
				writeOut()
			}

		case <-ticker.C:
			writeOut()

		case <-r.closing:
			for {
				select {
				case item := <-r.queue:
					if item.run != nil {
						runs = append(runs, item.run)
					}
					if item.node != nil {
						nodes = append(nodes, item.node)
					}
				default:
					writeOut()
					return
				}
			}
		}
	}
}

// write persists one batch. Failures are logged and the batch is
// abandoned; run history is diagnostic and must not wedge the writer.
func (r *Recorder) write(runs []*Run, nodes []*NodeExecution) {
	if len(runs) > 0 {
		// A replayed terminal record must not fail the whole batch.
		err := r.db.Clauses(clause.OnConflict{DoNothing: true}).Create(&runs).Error
		if err != nil {
			r.logger.Error("failed to persist run records",
				zap.Int("count", len(runs)), zap.Error(err))
		}
	}
	if len(nodes) > 0 {
		if err := r.db.Create(&nodes).Error; err != nil {
			r.logger.Error("failed to persist node records",
				zap.Int("count", len(nodes)), zap.Error(err))
		}
	}
}

// RunFilter narrows run history queries. Zero fields match everything.
type RunFilter struct {
	AgentID string
	UserID  string
	State   string
	Limit   int
}

// Runs lists stored runs, newest first.
func (r *Recorder) Runs(ctx context.Context, f RunFilter) ([]Run, error) {
	q := r.db.WithContext(ctx).Model(&Run{})
	if f.AgentID != "" {
		q = q.Where("agent_id = ?", f.AgentID)
	}
	if f.UserID != "" {
		q = q.Where("user_id = ?", f.UserID)
	}
	if f.State != "" {
		q = q.Where("state = ?", f.State)
	}

	limit := f.Limit
	if limit <= 0 {
		limit = DefaultQueryLimit
	}
	if limit > maxQueryLimit {
		limit = maxQueryLimit
	}

	var out []Run
	if err := q.Order("started_at DESC").Limit(limit).Find(&out).Error; err != nil {
		return nil, types.NewError(types.ErrStore, "failed to list runs").WithCause(err)
	}
	return out, nil
}

// RunByID fetches one run record.
func (r *Recorder) RunByID(ctx context.Context, runID string) (*Run, error) {
	var run Run
	err := r.db.WithContext(ctx).Where("run_id = ?", runID).First(&run).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, types.Errorf(types.ErrNotFound, "run %s has no record", runID)
		}
		return nil, types.NewError(types.ErrStore, "failed to load run").WithCause(err)
	}
	return &run, nil
}

// NodesFor lists a run's node executions in write order.
func (r *Recorder) NodesFor(ctx context.Context, runID string) ([]NodeExecution, error) {
	var out []NodeExecution
	err := r.db.WithContext(ctx).
		Where("run_id = ?", runID).
		Order("id ASC").
		Find(&out).Error
	if err != nil {
		return nil, types.NewError(types.ErrStore, "failed to list node executions").WithCause(err)
	}
	return out, nil
}

// StateCounts aggregates stored runs by terminal state.
func (r *Recorder) StateCounts(ctx context.Context) (map[string]int64, error) {
	var rows []struct {
		State string
		Total int64
	}
	err := r.db.WithContext(ctx).Model(&Run{}).
		Select("state, COUNT(*) AS total").
		Group("state").
		Scan(&rows).Error
	if err != nil {
		return nil, types.NewError(types.ErrStore, "failed to count runs").WithCause(err)
	}

	counts := make(map[string]int64, len(rows))
	for _, row := range rows {
		counts[row.State] = row.Total
	}
	return counts, nil
}
