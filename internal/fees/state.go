package fees

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"DebtAllocator/internal/model"

	"github.com/shopspring/decimal"
)

type persisted struct {
	FeeManager       model.StrategyID                     `json:"fee_manager"`
	FutureFeeManager model.StrategyID                     `json:"future_fee_manager"`
	Fees             map[model.StrategyID]model.FeeConfig `json:"fees"`
	Reserve          decimal.Decimal                      `json:"reserve"`
	Accrued          decimal.Decimal                      `json:"accrued"`
}

// Open builds an Accountant backed by a JSON state file. A saved fee manager
// takes precedence over feeManager, so a completed handover survives a
// restart. An empty filePath keeps the state in memory.
func Open(filePath string, feeManager model.StrategyID, opts ...Option) (*Accountant, error) {
	a := New(feeManager, opts...)
	if filePath == "" {
		return a, nil
	}
	a.filePath = filePath

	data, err := os.ReadFile(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return a, a.save()
		}
		return nil, fmt.Errorf("load fee state: %w", err)
	}
	var p persisted
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parse fee state: %w", err)
	}
	a.feeManager = p.FeeManager
	a.futureFeeManager = p.FutureFeeManager
	if p.Fees != nil {
		a.fees = p.Fees
	}
	a.reserve = p.Reserve
	a.accrued = p.Accrued
	a.restored = true
	return a, nil
}

// Restored reports whether state was read from disk.
func (a *Accountant) Restored() bool { return a.restored }

// save writes the state; callers hold a.mu.
func (a *Accountant) save() error {
	if a.filePath == "" {
		return nil
	}
	data, err := json.MarshalIndent(persisted{
		FeeManager:       a.feeManager,
		FutureFeeManager: a.futureFeeManager,
		Fees:             a.fees,
		Reserve:          a.reserve,
		Accrued:          a.accrued,
	}, "", "  ")
	if err != nil {
		return err
	}
	if dir := filepath.Dir(a.filePath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	tmp := a.filePath + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, a.filePath)
}
