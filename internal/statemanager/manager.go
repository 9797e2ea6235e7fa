package statemanager

import (
	"errors"
	"sync"
	"time"

	"binance-regime-grid-go/internal/models"
	"binance-regime-grid-go/internal/persistence"

	"go.uber.org/zap"
)

// StateManager owns the BotState document. Reads get deep copies; every
// mutation schedules an asynchronous save of the latest snapshot.
//
// Writers for the same key (a symbol, or GovernorKey) must hold Lock(key) for
// the whole read-compute-write cycle so that ticks for one key never overlap.
type StateManager struct {
	mu    sync.RWMutex
	state *models.BotState

	keysMu sync.Mutex
	keys   map[string]*sync.Mutex

	repo         persistence.StateRepository
	pendingMu    sync.Mutex
	pending      *models.BotState
	pendingPlans []models.StrategyPlan
	signal       chan struct{}
	stopChan     chan struct{}
	wg           sync.WaitGroup

	now    func() time.Time
	logger *zap.Logger
}

// GovernorKey is the lock key of the account-wide risk governor.
const GovernorKey = "__governor__"

// NewStateManager creates a new StateManager. repo may be nil.
func NewStateManager(initialState *models.BotState, repo persistence.StateRepository, logger *zap.Logger) *StateManager {
	return &StateManager{
		state:    initialState,
		keys:     make(map[string]*sync.Mutex),
		repo:     repo,
		signal:   make(chan struct{}, 1),
		stopChan: make(chan struct{}),
		now:      time.Now,
		logger:   logger,
	}
}

// Load creates a StateManager over the document stored in repo. A missing,
// unreadable or incompatible document is replaced by a fresh state, written
// as soon as the manager starts.
func Load(repo persistence.StateRepository, botID string, logger *zap.Logger) *StateManager {
	state, err := repo.LoadState()
	switch {
	case err == nil && state != nil:
		logger.Sugar().Infof("已加载状态 bot=%s, 风控 %s, 网格 %d 个", state.BotID, state.Governor.Decision.State, len(state.Grids))
		return NewStateManager(state, repo, logger)
	case errors.Is(err, persistence.ErrIncompatibleState):
		logger.Sugar().Warnf("%v，将以全新状态启动。", err)
	case err != nil:
		logger.Sugar().Warnf("无法加载状态: %v，将以全新状态启动。", err)
	}
	fresh := models.NewBotState(botID, time.Now())
	sm := NewStateManager(fresh, repo, logger)
	sm.Reset(fresh)
	return sm
}

// SetClock replaces the clock used for LastUpdateTime.
func (sm *StateManager) SetClock(now func() time.Time) {
	sm.now = now
}

// Start begins the persistence loop.
func (sm *StateManager) Start() {
	sm.wg.Add(1)
	go sm.persistenceLoop()
	sm.logger.Sugar().Info("StateManager started.")
}

// Stop shuts down the persistence loop after writing whatever is still pending.
func (sm *StateManager) Stop() {
	close(sm.stopChan)
	sm.wg.Wait()
	sm.flush()
	sm.logger.Sugar().Info("StateManager stopped.")
}

// Lock acquires the single-writer lock of key and returns its release func.
func (sm *StateManager) Lock(key string) func() {
	sm.keysMu.Lock()
	m, ok := sm.keys[key]
	if !ok {
		m = &sync.Mutex{}
		sm.keys[key] = m
	}
	sm.keysMu.Unlock()

	m.Lock()
	return m.Unlock
}

// GetStateSnapshot returns a deep copy of the current state for safe, concurrent reading.
func (sm *StateManager) GetStateSnapshot() *models.BotState {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.state.Clone()
}

// Governor returns the persisted governor state.
func (sm *StateManager) Governor() models.GovernorState {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	g := sm.state.Governor
	g.Decision.Triggers = append([]string(nil), g.Decision.Triggers...)
	if g.LastADX != nil {
		v := *g.LastADX
		g.LastADX = &v
	}
	return g
}

// Grid returns a copy of the grid of symbol, or nil.
func (sm *StateManager) Grid(symbol string) *models.GridState {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.state.Grids[symbol].Clone()
}

// SetGovernor stores the next governor state.
func (sm *StateManager) SetGovernor(g models.GovernorState) {
	sm.mutate(func(s *models.BotState) {
		s.Governor = g
	})
}

// SetGrid stores the next state of the grid of symbol.
func (sm *StateManager) SetGrid(symbol string, g *models.GridState) {
	c := g.Clone()
	sm.mutate(func(s *models.BotState) {
		s.Grids[symbol] = c
	})
}

// SetPlans replaces the latest plans of symbol and queues them for the plan history.
func (sm *StateManager) SetPlans(symbol string, plans []models.StrategyPlan) {
	cp := make([]models.StrategyPlan, len(plans))
	for i, p := range plans {
		cp[i] = p.Clone()
	}
	sm.pendingMu.Lock()
	sm.pendingPlans = append(sm.pendingPlans, cp...)
	sm.pendingMu.Unlock()

	sm.mutate(func(s *models.BotState) {
		s.Plans[symbol] = cp
	})
}

// Reset replaces the whole document.
func (sm *StateManager) Reset(state *models.BotState) {
	sm.mutate(func(s *models.BotState) {
		*s = *state.Clone()
	})
	sm.logger.Sugar().Info("State has been reset.")
}

func (sm *StateManager) mutate(fn func(*models.BotState)) {
	sm.mu.Lock()
	if sm.state.Grids == nil {
		sm.state.Grids = make(map[string]*models.GridState)
	}
	if sm.state.Plans == nil {
		sm.state.Plans = make(map[string][]models.StrategyPlan)
	}
	fn(sm.state)
	sm.state.LastUpdateTime = sm.now()
	snapshot := sm.state.Clone()
	sm.mu.Unlock()

	sm.pendingMu.Lock()
	sm.pending = snapshot
	sm.pendingMu.Unlock()

	select {
	case sm.signal <- struct{}{}:
	default:
	}
}

// persistenceLoop handles the asynchronous saving of state snapshots. Only the
// newest snapshot is written; intermediate ones are skipped.
func (sm *StateManager) persistenceLoop() {
	defer sm.wg.Done()
	for {
		select {
		case <-sm.signal:
			sm.flush()
		case <-sm.stopChan:
			return
		}
	}
}

// flush writes the pending snapshot and plan history, if any.
func (sm *StateManager) flush() {
	sm.pendingMu.Lock()
	state, plans := sm.pending, sm.pendingPlans
	sm.pending, sm.pendingPlans = nil, nil
	sm.pendingMu.Unlock()

	if sm.repo == nil {
		return
	}
	if state != nil {
		if err := sm.repo.SaveState(state); err != nil {
			sm.logger.Sugar().Errorf("CRITICAL: Failed to save state: %v", err)
		}
	}
	if len(plans) > 0 {
		if err := sm.repo.AppendPlans(plans); err != nil {
			sm.logger.Sugar().Warnf("保存计划历史失败: %v", err)
		}
	}
}
