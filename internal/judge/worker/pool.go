package worker

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"judged/internal/common/mq"
	"judged/internal/judge/model"
	appErr "judged/pkg/errors"
	"judged/pkg/utils/logger"
)

// PoolConfig wires the worker pool
type PoolConfig struct {
	Broker    mq.Broker
	Registry  WorkerRegistry
	ExecLog   ExecutionLogger
	Sandbox   SandboxDriver
	NewWorker func(ctx context.Context, name string) (*Worker, error)

	MinWorkers        int
	MaxWorkers        int
	MonitorInterval   time.Duration
	RecoveryInterval  time.Duration
	AutoscaleInterval time.Duration
	MaxFailures       int
	AutoscaleEnabled  bool
	ShutdownTimeout   time.Duration
}

func (c *PoolConfig) validate() error {
	if c.Broker == nil || c.NewWorker == nil {
		return appErr.New(appErr.InvalidParams).WithMessage("pool requires a broker and a worker factory")
	}
	if c.MinWorkers <= 0 {
		c.MinWorkers = 2
	}
	if c.MaxWorkers <= 0 {
		c.MaxWorkers = 20
	}
	if c.MaxWorkers < c.MinWorkers {
		c.MaxWorkers = c.MinWorkers
	}
	if c.MonitorInterval <= 0 {
		c.MonitorInterval = 30 * time.Second
	}
	if c.RecoveryInterval <= 0 {
		c.RecoveryInterval = 60 * time.Second
	}
	if c.AutoscaleInterval <= 0 {
		c.AutoscaleInterval = 30 * time.Second
	}
	if c.MaxFailures <= 0 {
		c.MaxFailures = 3
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = 30 * time.Second
	}
	return nil
}

type member struct {
	worker     *Worker
	cancel     context.CancelFunc
	failures   int
	recovering bool
}

// Pool owns the workers: it spawns them, watches their heartbeats, recovers
// the unresponsive ones and resizes the roster from queue depth.
type Pool struct {
	cfg PoolConfig

	mu      sync.RWMutex
	members map[int64]*member
	running bool

	rootCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	loopWg  sync.WaitGroup

	sandboxHealthy atomic.Bool
}

// NewPool creates a pool.
func NewPool(cfg PoolConfig) (*Pool, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	p := &Pool{cfg: cfg, members: make(map[int64]*member)}
	p.sandboxHealthy.Store(true)
	return p, nil
}

// Start spawns the minimum worker count and launches the monitor and
// autoscaler loops.
func (p *Pool) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return appErr.New(appErr.InvalidParams).WithMessage("pool already running")
	}
	p.rootCtx, p.cancel = context.WithCancel(ctx)
	p.running = true
	p.mu.Unlock()

	g, _ := errgroup.WithContext(p.rootCtx)
	for i := 0; i < p.cfg.MinWorkers; i++ {
		g.Go(p.spawnWorker)
	}
	if err := g.Wait(); err != nil {
		p.Shutdown()
		return err
	}

	p.loopWg.Add(1)
	go p.monitorLoop()

	if p.cfg.AutoscaleEnabled {
		p.loopWg.Add(1)
		go p.autoscaleLoop()
	}

	logger.Info(ctx, "worker pool started", zap.Int("workers", p.cfg.MinWorkers))
	p.logSystem(fmt.Sprintf("pool started with %d workers", p.cfg.MinWorkers))
	return nil
}

func (p *Pool) spawnWorker() error {
	name := fmt.Sprintf("judge-worker-%s", uuid.NewString()[:8])

	w, err := p.cfg.NewWorker(p.rootCtx, name)
	if err != nil {
		return err
	}

	wctx, cancel := context.WithCancel(p.rootCtx)
	m := &member{worker: w, cancel: cancel}

	p.mu.Lock()
	p.members[w.ID()] = m
	p.mu.Unlock()

	p.wg.Add(1)
	go p.runMember(m, wctx)
	return nil
}

func (p *Pool) runMember(m *member, ctx context.Context) {
	defer p.wg.Done()

	if err := m.worker.Run(ctx); err != nil && err != context.Canceled {
		logger.Warn(ctx, "worker exited with error",
			zap.String("worker", m.worker.Name()), zap.Error(err))
	}

	p.mu.Lock()
	// recovery restarts the same member; only delete on a real exit
	if cur, ok := p.members[m.worker.ID()]; ok && cur == m && !m.recovering {
		delete(p.members, m.worker.ID())
	}
	p.mu.Unlock()
}

// monitorLoop scans heartbeats and probes the isolator. Workers whose
// heartbeat is older than twice the scan interval are unhealthy; after
// MaxFailures strikes they are marked failed and removed from rotation.
func (p *Pool) monitorLoop() {
	defer p.loopWg.Done()
	ticker := time.NewTicker(p.cfg.MonitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.rootCtx.Done():
			return
		case <-ticker.C:
			p.checkSandbox()
			p.checkHeartbeats()
		}
	}
}

func (p *Pool) checkSandbox() {
	if p.cfg.Sandbox == nil {
		return
	}
	err := p.cfg.Sandbox.SelfTest(p.rootCtx)
	healthy := err == nil
	if !healthy && p.sandboxHealthy.Load() {
		logger.Error(p.rootCtx, "sandbox self-test failed", zap.Error(err))
		p.logSystem(fmt.Sprintf("sandbox self-test failed: %v", err))
	}
	if healthy && !p.sandboxHealthy.Load() {
		p.logSystem("sandbox self-test recovered")
	}
	p.sandboxHealthy.Store(healthy)
}

func (p *Pool) checkHeartbeats() {
	staleAfter := 2 * p.cfg.MonitorInterval

	p.mu.Lock()
	var stale []*member
	for _, m := range p.members {
		if m.recovering {
			continue
		}
		if time.Since(m.worker.LastHeartbeat()) > staleAfter {
			m.failures++
			stale = append(stale, m)
		}
	}
	p.mu.Unlock()

	for _, m := range stale {
		if m.failures >= p.cfg.MaxFailures {
			p.failWorker(m)
		} else {
			go p.recoverWorker(m)
		}
	}
}

func (p *Pool) failWorker(m *member) {
	id := m.worker.ID()
	logger.Error(p.rootCtx, "worker failed permanently",
		zap.Int64("worker_id", id), zap.Int("failures", m.failures))
	p.logSystem(fmt.Sprintf("worker %d marked failed after %d strikes", id, m.failures))

	if p.cfg.Registry != nil {
		if err := p.cfg.Registry.UpdateStatus(p.rootCtx, id, model.WorkerFailed, nil, nil); err != nil {
			logger.Warn(p.rootCtx, "failed-status write failed", zap.Error(err))
		}
	}

	m.cancel()
	p.mu.Lock()
	delete(p.members, id)
	p.mu.Unlock()
}

// recoverWorker drops the worker's current run, waits out the recovery
// interval and restarts it. The in-flight message redelivers via the broker.
func (p *Pool) recoverWorker(m *member) {
	id := m.worker.ID()

	p.mu.Lock()
	if m.recovering {
		p.mu.Unlock()
		return
	}
	m.recovering = true
	p.mu.Unlock()

	logger.Warn(p.rootCtx, "worker unresponsive, entering recovery",
		zap.Int64("worker_id", id), zap.Int("failures", m.failures))
	p.logSystem(fmt.Sprintf("worker %d entering recovery", id))

	if p.cfg.Registry != nil {
		if err := p.cfg.Registry.UpdateStatus(p.rootCtx, id, model.WorkerRecovering, nil, nil); err != nil {
			logger.Warn(p.rootCtx, "recovering-status write failed", zap.Error(err))
		}
	}

	m.cancel()

	select {
	case <-p.rootCtx.Done():
		return
	case <-time.After(p.cfg.RecoveryInterval):
	}

	// reset worker state and rejoin the rotation
	m.worker.busy.Store(false)
	m.worker.draining.Store(false)
	select {
	case <-m.worker.drain:
	default:
	}
	m.worker.lastHeartbeat.Store(time.Now().UnixNano())
	m.worker.mu.Lock()
	m.worker.currentSub = 0
	m.worker.mu.Unlock()

	wctx, cancel := context.WithCancel(p.rootCtx)

	p.mu.Lock()
	m.cancel = cancel
	m.recovering = false
	p.mu.Unlock()

	if p.cfg.Registry != nil {
		if err := p.cfg.Registry.UpdateStatus(p.rootCtx, id, model.WorkerIdle, nil, nil); err != nil {
			logger.Warn(p.rootCtx, "idle-status write failed", zap.Error(err))
		}
	}
	p.logSystem(fmt.Sprintf("worker %d recovered", id))

	p.wg.Add(1)
	go p.runMember(m, wctx)
}

func (p *Pool) autoscaleLoop() {
	defer p.loopWg.Done()
	ticker := time.NewTicker(p.cfg.AutoscaleInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.rootCtx.Done():
			return
		case <-ticker.C:
			p.autoscale()
		}
	}
}

func (p *Pool) autoscale() {
	depth, err := p.cfg.Broker.QueueDepth(p.rootCtx, mq.QueueSubmissions)
	if err != nil {
		logger.Warn(p.rootCtx, "queue depth probe failed", zap.Error(err))
		return
	}

	p.mu.RLock()
	current, busy := 0, 0
	for _, m := range p.members {
		if m.worker.Draining() {
			continue
		}
		current++
		if m.worker.Busy() {
			busy++
		}
	}
	p.mu.RUnlock()

	target := calculateOptimalWorkers(depth, busy, current, p.cfg.MinWorkers, p.cfg.MaxWorkers)
	if target == current {
		return
	}

	if target > current {
		for i := current; i < target; i++ {
			if err := p.spawnWorker(); err != nil {
				logger.Error(p.rootCtx, "scale-up spawn failed", zap.Error(err))
				break
			}
		}
		logger.Info(p.rootCtx, "scaled up",
			zap.Int("queue_depth", depth), zap.Int("from", current), zap.Int("to", target))
		p.logSystem(fmt.Sprintf("scaled up from %d to %d workers (queue depth %d)", current, target, depth))
		return
	}

	// scale down: drain idle workers first, never more than current-target
	toDrain := current - target
	p.mu.RLock()
	for _, m := range p.members {
		if toDrain == 0 {
			break
		}
		if m.worker.Draining() || m.worker.Busy() {
			continue
		}
		m.worker.RequestDrain()
		toDrain--
	}
	p.mu.RUnlock()

	logger.Info(p.rootCtx, "scaling down",
		zap.Int("queue_depth", depth), zap.Int("from", current), zap.Int("to", target))
	p.logSystem(fmt.Sprintf("scaling down from %d to %d workers (queue depth %d)", current, target, depth))
}

// WorkerInfo is one roster entry in the pool status.
type WorkerInfo struct {
	ID                int64     `json:"id"`
	Name              string    `json:"name"`
	Busy              bool      `json:"busy"`
	Draining          bool      `json:"draining"`
	CurrentSubmission int64     `json:"current_submission,omitempty"`
	LastHeartbeat     time.Time `json:"last_heartbeat"`
}

// PoolStatus is the operator view of the pool.
type PoolStatus struct {
	Running        bool         `json:"running"`
	Workers        int          `json:"workers"`
	Busy           int          `json:"busy"`
	Draining       int          `json:"draining"`
	SandboxHealthy bool         `json:"sandbox_healthy"`
	Roster         []WorkerInfo `json:"roster"`
}

// Status snapshots the roster.
func (p *Pool) Status() PoolStatus {
	p.mu.RLock()
	defer p.mu.RUnlock()

	st := PoolStatus{
		Running:        p.running,
		SandboxHealthy: p.sandboxHealthy.Load(),
	}
	for _, m := range p.members {
		w := m.worker
		info := WorkerInfo{
			ID:                w.ID(),
			Name:              w.Name(),
			Busy:              w.Busy(),
			Draining:          w.Draining(),
			CurrentSubmission: w.CurrentSubmission(),
			LastHeartbeat:     w.LastHeartbeat(),
		}
		st.Roster = append(st.Roster, info)
		st.Workers++
		if info.Busy {
			st.Busy++
		}
		if info.Draining {
			st.Draining++
		}
	}
	return st
}

// Shutdown drains the pool: no new deliveries, in-flight jobs get up to the
// shutdown timeout, then the root context is cancelled and unacked messages
// redeliver.
func (p *Pool) Shutdown() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	for _, m := range p.members {
		m.worker.RequestDrain()
	}
	p.mu.Unlock()

	p.logSystem("pool shutting down")

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.Info(context.Background(), "pool drained cleanly")
	case <-time.After(p.cfg.ShutdownTimeout):
		logger.Warn(context.Background(), "shutdown timeout, forcing worker exit")
		p.logSystem("shutdown timeout reached, in-flight jobs will redeliver")
	}

	p.cancel()
	p.wg.Wait()
	p.loopWg.Wait()
}

func (p *Pool) logSystem(msg string) {
	if p.cfg.ExecLog == nil {
		return
	}
	ctx := p.rootCtx
	if ctx == nil || ctx.Err() != nil {
		ctx = context.Background()
	}
	if err := p.cfg.ExecLog.Append(ctx, 0, model.LogSystem, msg); err != nil {
		logger.Warn(context.Background(), "system log write failed", zap.Error(err))
	}
}
