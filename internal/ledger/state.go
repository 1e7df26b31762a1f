package ledger

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"DebtAllocator/internal/model"

	"github.com/shopspring/decimal"
)

func newState() *model.VaultState {
	return &model.VaultState{
		IdleBalance: decimal.Zero,
		MinimumIdle: decimal.Zero,
		AccruedFees: decimal.Zero,
		Strategies:  make(map[model.StrategyID]*model.StrategyAccount),
	}
}

// LoadState reads the vault state from a JSON file. Returns a fresh state if
// the file doesn't exist.
func LoadState(filePath string) (*model.VaultState, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return newState(), nil
		}
		return nil, err
	}
	state := newState()
	if err := json.Unmarshal(data, state); err != nil {
		return nil, err
	}
	if state.Strategies == nil {
		state.Strategies = make(map[model.StrategyID]*model.StrategyAccount)
	}
	return state, nil
}

// SaveState writes the vault state through a temp file so a crash never
// leaves a torn file behind.
func SaveState(filePath string, state *model.VaultState) error {
	state.UpdatedAt = time.Now()
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return err
	}
	if dir := filepath.Dir(filePath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	tmp := filePath + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, filePath)
}
