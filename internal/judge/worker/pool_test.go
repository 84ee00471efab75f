package worker

import (
	"context"
	"sync"
	"testing"
	"time"

	"judged/internal/common/mq"
	"judged/internal/judge/checker"
	"judged/internal/judge/limits"
	"judged/internal/judge/model"
)

// openBroker never delivers and never closes, so consumers stay blocked.
type openBroker struct{ ch chan mq.Delivery }

func (b *openBroker) Consume(ctx context.Context, queue string) (<-chan mq.Delivery, error) {
	return b.ch, nil
}
func (b *openBroker) Publish(ctx context.Context, exchange, key string, body []byte) error {
	return nil
}
func (b *openBroker) QueueDepth(ctx context.Context, queue string) (int, error) { return 0, nil }
func (b *openBroker) Purge(ctx context.Context, queue string) (int, error)      { return 0, nil }
func (b *openBroker) Close() error                                              { return nil }

// poolRegistry hands out unique ids and records status transitions per worker.
type poolRegistry struct {
	mu       sync.Mutex
	nextID   int64
	statuses map[int64][]model.WorkerStatus
}

func (r *poolRegistry) Register(ctx context.Context, name string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	return r.nextID, nil
}

func (r *poolRegistry) UpdateStatus(ctx context.Context, id int64, status model.WorkerStatus, submissionID *int64, boxID *int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.statuses == nil {
		r.statuses = make(map[int64][]model.WorkerStatus)
	}
	r.statuses[id] = append(r.statuses[id], status)
	return nil
}

func (r *poolRegistry) Heartbeat(ctx context.Context, id int64) error { return nil }

func (r *poolRegistry) history(id int64) []model.WorkerStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]model.WorkerStatus(nil), r.statuses[id]...)
}

// stalledWorkerFactory builds workers whose heartbeat loop never fires, so
// the monitor sees them go stale on its own clock.
func stalledWorkerFactory(broker mq.Broker, reg WorkerRegistry) func(context.Context, string) (*Worker, error) {
	return func(ctx context.Context, name string) (*Worker, error) {
		return NewWorker(ctx, Config{
			Name:     name,
			Broker:   broker,
			Registry: reg,
			Store:    &fakeStore{committed: true},
			Catalog:  &fakeCatalog{},
			Fetcher:  &fakeFetcher{},
			Checker:  checker.New(nil, nil),
			Sandbox:  &fakeSandbox{box: &fakeBox{}},
			Limits: limits.NewValidator(limits.Policy{
				DefaultTimeLimitMs:   1000,
				DefaultMemoryLimitKB: 262144,
				MaxTimeLimitMs:       10000,
				MaxMemoryLimitKB:     524288,
			}, nil),
			HeartbeatInterval: time.Hour,
		})
	}
}

func TestPoolRecoversThenFailsStaleWorker(t *testing.T) {
	reg := &poolRegistry{}
	broker := &openBroker{ch: make(chan mq.Delivery)}

	pool, err := NewPool(PoolConfig{
		Broker:           broker,
		Registry:         reg,
		Sandbox:          &fakeSandbox{box: &fakeBox{}},
		NewWorker:        stalledWorkerFactory(broker, reg),
		MinWorkers:       1,
		MaxWorkers:       1,
		MonitorInterval:  20 * time.Millisecond,
		RecoveryInterval: 10 * time.Millisecond,
		MaxFailures:      3,
		ShutdownTimeout:  time.Second,
	})
	if err != nil {
		t.Fatalf("new pool: %v", err)
	}
	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer pool.Shutdown()

	deadline := time.Now().Add(5 * time.Second)
	var hist []model.WorkerStatus
	for time.Now().Before(deadline) {
		hist = reg.history(1)
		if len(hist) > 0 && hist[len(hist)-1] == model.WorkerFailed && pool.Status().Workers == 0 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	if len(hist) == 0 || hist[len(hist)-1] != model.WorkerFailed {
		t.Fatalf("stale worker never marked failed, transitions %v", hist)
	}
	var sawRecovering, sawIdle bool
	for _, st := range hist {
		if st == model.WorkerRecovering {
			sawRecovering = true
		}
		if st == model.WorkerIdle {
			sawIdle = true
		}
	}
	if !sawRecovering {
		t.Errorf("worker never entered recovery before failing, transitions %v", hist)
	}
	if !sawIdle {
		t.Errorf("recovery never returned the worker to idle, transitions %v", hist)
	}
	if got := pool.Status().Workers; got != 0 {
		t.Errorf("failed worker still in roster, %d workers", got)
	}
}

func TestPoolShutdownDrainsIdleWorkersPromptly(t *testing.T) {
	reg := &poolRegistry{}
	broker := &openBroker{ch: make(chan mq.Delivery)}

	pool, err := NewPool(PoolConfig{
		Broker:           broker,
		Registry:         reg,
		NewWorker:        stalledWorkerFactory(broker, reg),
		MinWorkers:       2,
		MaxWorkers:       2,
		MonitorInterval:  time.Minute,
		RecoveryInterval: time.Minute,
		ShutdownTimeout:  5 * time.Second,
	})
	if err != nil {
		t.Fatalf("new pool: %v", err)
	}
	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}

	if st := pool.Status(); st.Workers != 2 || st.Busy != 0 {
		t.Fatalf("roster = %d workers %d busy, want 2/0", st.Workers, st.Busy)
	}

	start := time.Now()
	pool.Shutdown()
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("idle pool took %v to shut down, drain must not wait for a delivery", elapsed)
	}
	if pool.Status().Running {
		t.Error("pool still marked running after shutdown")
	}
}
