package allocator

import (
	"errors"

	"DebtAllocator/internal/model"
)

var (
	ErrUnauthorized      = errors.New("caller lacks required role")
	ErrAlreadyRegistered = errors.New("strategy already registered")
	ErrNotRegistered     = errors.New("strategy not registered")
	ErrStrategyHasDebt   = errors.New("strategy still has debt")
	ErrStillRegistered   = errors.New("strategy still registered")

	// ErrEmptyRegistry is what Proposal.Pair reports with fewer than two
	// strategies. Evaluate and Execute treat that case as nothing to do.
	ErrEmptyRegistry = model.ErrEmptyRegistry
)
