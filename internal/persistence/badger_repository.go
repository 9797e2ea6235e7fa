package persistence

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"binance-regime-grid-go/internal/models"

	"github.com/dgraph-io/badger/v3"
)

const (
	stateKey       = "bot_state"
	planPrefix     = "plan/"
	defaultPlanTTL = 7 * 24 * time.Hour
)

// badgerRepository is the BadgerDB implementation of the StateRepository.
type badgerRepository struct {
	db      *badger.DB
	planTTL time.Duration
}

// NewBadgerRepository creates and returns a new repository instance connected to a BadgerDB database.
func NewBadgerRepository(dbPath string) (StateRepository, error) {
	return open(badger.DefaultOptions(dbPath))
}

// NewInMemoryRepository returns a repository backed by an in-memory BadgerDB.
// Used by backtests and tests; nothing survives Close.
func NewInMemoryRepository() (StateRepository, error) {
	return open(badger.DefaultOptions("").WithInMemory(true))
}

func open(opts badger.Options) (*badgerRepository, error) {
	// For this use case, we can disable Badger's own logging to keep our app's logs clean.
	// Errors will still be returned from DB operations.
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("打开 badger 数据库失败: %w", err)
	}
	return &badgerRepository{db: db, planTTL: defaultPlanTTL}, nil
}

// SaveState atomically saves the entire bot state.
// It marshals the state struct into JSON and saves it under a predefined key.
func (r *badgerRepository) SaveState(state *models.BotState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("序列化状态失败: %w", err)
	}

	return r.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(stateKey), data)
	})
}

// LoadState loads the bot state from storage.
// If the state key is not found, it returns (nil, nil) to indicate no state is present.
func (r *badgerRepository) LoadState() (*models.BotState, error) {
	var state models.BotState

	err := r.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(stateKey))
		if err != nil {
			return err
		}

		return item.Value(func(val []byte) error {
			if len(val) == 0 {
				return errors.New("state value is empty in database")
			}
			return json.Unmarshal(val, &state)
		})
	})

	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if state.Version != models.StateVersion {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrIncompatibleState, state.Version, models.StateVersion)
	}
	if state.Grids == nil {
		state.Grids = make(map[string]*models.GridState)
	}
	if state.Plans == nil {
		state.Plans = make(map[string][]models.StrategyPlan)
	}
	return &state, nil
}

// AppendPlans writes each plan under plan/<symbol>/<created_at> with a TTL.
func (r *badgerRepository) AppendPlans(plans []models.StrategyPlan) error {
	if len(plans) == 0 {
		return nil
	}
	wb := r.db.NewWriteBatch()
	defer wb.Cancel()

	for _, p := range plans {
		data, err := json.Marshal(p)
		if err != nil {
			return fmt.Errorf("序列化计划失败: %w", err)
		}
		e := badger.NewEntry(planKey(p), data).WithTTL(r.planTTL)
		if err := wb.SetEntry(e); err != nil {
			return err
		}
	}
	return wb.Flush()
}

// RecentPlans returns up to limit plans of a symbol, newest first.
func (r *badgerRepository) RecentPlans(symbol string, limit int) ([]models.StrategyPlan, error) {
	prefix := []byte(planPrefix + symbol + "/")
	var plans []models.StrategyPlan

	err := r.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		it := txn.NewIterator(opts)
		defer it.Close()

		// reverse iteration seeks to the last key with the prefix
		seek := append(append([]byte{}, prefix...), 0xff)
		for it.Seek(seek); it.ValidForPrefix(prefix); it.Next() {
			if limit > 0 && len(plans) >= limit {
				break
			}
			var p models.StrategyPlan
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &p)
			}); err != nil {
				return err
			}
			plans = append(plans, p)
		}
		return nil
	})
	return plans, err
}

// Close gracefully closes the connection to the database.
func (r *badgerRepository) Close() error {
	return r.db.Close()
}

// planKey sorts lexically by time: the timestamp is zero padded.
func planKey(p models.StrategyPlan) []byte {
	return []byte(fmt.Sprintf("%s%s/%020d/%s", planPrefix, p.Symbol, p.CreatedAt.UnixNano(), p.Horizon))
}
