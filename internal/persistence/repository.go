package persistence

import (
	"errors"

	"binance-regime-grid-go/internal/models"
)

// ErrIncompatibleState is returned by LoadState when the stored document was
// written by a different state version. Callers start from fresh defaults.
var ErrIncompatibleState = errors.New("persisted state version is incompatible")

// StateRepository defines the interface for state persistence.
// It abstracts the underlying storage mechanism (e.g., BadgerDB, in-memory)
// from the rest of the application.
type StateRepository interface {
	// SaveState atomically saves the entire bot state.
	SaveState(state *models.BotState) error

	// LoadState loads the bot state from storage.
	// If no state is found, it should return (nil, nil).
	LoadState() (*models.BotState, error)

	// AppendPlans stores plans in the plan history. Entries expire on their own.
	AppendPlans(plans []models.StrategyPlan) error

	// RecentPlans returns up to limit plans of a symbol, newest first.
	RecentPlans(symbol string, limit int) ([]models.StrategyPlan, error)

	// Close gracefully closes the connection to the database.
	Close() error
}
