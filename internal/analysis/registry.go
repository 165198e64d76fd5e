package analysis

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/forecast-enhancer/internal/models"
	"github.com/kjstillabower/forecast-enhancer/internal/observability"
)

// PromotionHook runs after the highest-ranked backend becomes current-best.
type PromotionHook func(ctx context.Context, id string)

type entry struct {
	id      string
	rank    int
	backend Backend
	state   atomic.Int32

	// guarded by Registry.mu
	readyAt  time.Time
	readySeq uint64
	lastErr  string
}

func (e *entry) State() State { return State(e.state.Load()) }

func (e *entry) setState(s State) {
	e.state.Store(int32(s))
	observability.BackendState.WithLabelValues(e.id).Set(float64(s))
}

// Registry owns the analysis backends and the current-best selection.
// Readers never block on initialization: they see whatever is Ready.
type Registry struct {
	logger *zap.Logger

	mu         sync.Mutex
	entries    map[string]*entry
	order      []*entry
	seq        uint64
	baselineID string
	onPromote  PromotionHook

	current atomic.Pointer[entry]
	wg      sync.WaitGroup
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *zap.Logger) *Registry {
	return &Registry{
		logger:  observability.OrNop(logger),
		entries: make(map[string]*entry),
	}
}

// OnPromotion sets the hook fired when the highest-ranked candidate becomes
// current-best. It must be set before Bootstrap.
func (r *Registry) OnPromotion(hook PromotionHook) {
	r.mu.Lock()
	r.onPromote = hook
	r.mu.Unlock()
}

// Bootstrap makes baseline Ready synchronously and then initializes every
// candidate in the background. Candidate failures are logged, never returned.
func (r *Registry) Bootstrap(ctx context.Context, baseline Registration, candidates ...Registration) error {
	base, err := r.register(baseline)
	if err != nil {
		return err
	}
	base.setState(StateInitializing)
	if err := r.initialize(ctx, base); err != nil {
		r.fail(base, err)
		return fmt.Errorf("baseline %s: %w", base.id, err)
	}
	r.mu.Lock()
	r.baselineID = base.id
	r.mu.Unlock()
	r.markReady(ctx, base, false)

	pending := make([]*entry, 0, len(candidates))
	for _, c := range candidates {
		e, err := r.register(c)
		if err != nil {
			r.logger.Warn("skipping analysis backend", zap.String("backend", c.ID), zap.Error(err))
			continue
		}
		e.setState(StateInitializing)
		pending = append(pending, e)
	}
	for _, e := range pending {
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			if err := r.initialize(ctx, e); err != nil {
				r.fail(e, err)
				r.logger.Warn("analysis backend failed to initialize",
					zap.String("backend", e.id), zap.Error(err))
				return
			}
			r.markReady(ctx, e, e == pending[len(pending)-1])
		}()
	}
	return nil
}

// Wait blocks until every background initialization has finished.
func (r *Registry) Wait() {
	r.wg.Wait()
}

func (r *Registry) register(reg Registration) (*entry, error) {
	if reg.ID == "" || reg.Backend == nil {
		return nil, errors.New("backend registration needs an id and a backend")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[reg.ID]; exists {
		return nil, fmt.Errorf("backend %q already registered", reg.ID)
	}
	e := &entry{id: reg.ID, rank: len(r.order), backend: reg.Backend}
	e.setState(StateUninitialized)
	r.entries[reg.ID] = e
	r.order = append(r.order, e)
	return e, nil
}

func (r *Registry) initialize(ctx context.Context, e *entry) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("%w: panic: %v", ErrBackendInit, p)
		}
	}()
	start := time.Now()
	if err := e.backend.Initialize(ctx); err != nil {
		return err
	}
	if !e.backend.IsReady() {
		return fmt.Errorf("%w: not ready after initialize", ErrBackendInit)
	}
	r.logger.Info("analysis backend initialized",
		zap.String("backend", e.id), zap.Duration("elapsed", time.Since(start)))
	return nil
}

// markReady records readiness and makes e current-best: the last backend to
// become Ready wins.
func (r *Registry) markReady(ctx context.Context, e *entry, fireHook bool) {
	r.mu.Lock()
	r.seq++
	e.readySeq = r.seq
	e.readyAt = time.Now().UTC()
	e.setState(StateReady)
	prev := r.current.Swap(e)
	hook := r.onPromote
	r.mu.Unlock()

	observability.BackendPromotionsTotal.WithLabelValues(e.id).Inc()
	fields := []zap.Field{zap.String("backend", e.id)}
	if prev != nil {
		fields = append(fields, zap.String("previous", prev.id))
	}
	r.logger.Info("analysis backend promoted to current-best", fields...)

	if fireHook && hook != nil {
		hook(ctx, e.id)
	}
}

func (r *Registry) fail(e *entry, err error) {
	r.mu.Lock()
	e.lastErr = err.Error()
	e.setState(StateFailed)
	r.mu.Unlock()
}

// demote marks a Ready backend Failed and, when it was current-best, falls
// back to the most recently Ready remaining backend.
func (r *Registry) demote(e *entry, err error) {
	r.mu.Lock()
	if e.State() != StateReady {
		r.mu.Unlock()
		return
	}
	e.lastErr = err.Error()
	e.setState(StateFailed)

	var next *entry
	if r.current.Load() == e {
		for _, c := range r.order {
			if c.State() == StateReady && (next == nil || c.readySeq > next.readySeq) {
				next = c
			}
		}
		r.current.Store(next)
	}
	r.mu.Unlock()

	fields := []zap.Field{zap.String("backend", e.id), zap.Error(err)}
	if next != nil {
		fields = append(fields, zap.String("current", next.id))
	}
	r.logger.Error("analysis backend demoted", fields...)
}

// Current returns the current-best backend id.
func (r *Registry) Current() (string, bool) {
	if e := r.current.Load(); e != nil {
		return e.id, true
	}
	return "", false
}

// State returns the state of backend id.
func (r *Registry) State(id string) State {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[id]; ok {
		return e.State()
	}
	return StateUninitialized
}

// Statuses lists every registered backend in registration order.
func (r *Registry) Statuses() []models.EntryStatus {
	cur := r.current.Load()
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.EntryStatus, 0, len(r.order))
	for _, e := range r.order {
		s := models.EntryStatus{
			ID:        e.id,
			Rank:      e.rank,
			State:     e.State().String(),
			Current:   e == cur,
			LastError: e.lastErr,
		}
		if !e.readyAt.IsZero() {
			t := e.readyAt
			s.ReadyAt = &t
		}
		out = append(out, s)
	}
	return out
}

// Analyze produces an advisory with the preferred backend when it is Ready,
// otherwise with current-best. It never fails: with no usable backend, or
// when inference fails, the neutral placeholder is returned.
func (r *Registry) Analyze(ctx context.Context, f models.NormalizedForecast, preferred string) models.AnalysisResult {
	e := r.pick(preferred)
	if e == nil {
		observability.AnalysisRequestsTotal.WithLabelValues(PlaceholderID, "placeholder").Inc()
		return placeholder(0)
	}

	start := time.Now()
	text, err := r.run(ctx, e, f)
	elapsed := time.Since(start)
	observability.AnalysisDurationSeconds.WithLabelValues(e.id).Observe(elapsed.Seconds())

	if err != nil {
		observability.AnalysisRequestsTotal.WithLabelValues(e.id, "error").Inc()
		if errors.Is(err, ErrBackendGone) {
			r.demote(e, err)
		} else {
			r.logger.Warn("analysis failed, returning placeholder",
				zap.String("backend", e.id), zap.Error(err))
		}
		return placeholder(elapsed)
	}

	observability.AnalysisRequestsTotal.WithLabelValues(e.id, "ok").Inc()
	r.mu.Lock()
	enhanced := e.id != r.baselineID
	r.mu.Unlock()
	return models.AnalysisResult{
		Advisory: text,
		Backend:  e.id,
		Latency:  elapsed,
		Enhanced: enhanced,
	}
}

func (r *Registry) pick(preferred string) *entry {
	if preferred != "" && preferred != AutoBackend {
		r.mu.Lock()
		e, ok := r.entries[preferred]
		r.mu.Unlock()
		if ok && e.State() == StateReady {
			return e
		}
	}
	if e := r.current.Load(); e != nil && e.State() == StateReady {
		return e
	}
	return nil
}

func (r *Registry) run(ctx context.Context, e *entry, f models.NormalizedForecast) (text string, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("analysis panic in %s: %v", e.id, p)
		}
	}()
	return e.backend.Analyze(ctx, f)
}

func placeholder(latency time.Duration) models.AnalysisResult {
	return models.AnalysisResult{
		Advisory: NeutralAdvisory,
		Backend:  PlaceholderID,
		Latency:  latency,
		Enhanced: false,
	}
}
