package model

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// StrategyID is the opaque handle of a strategy: the address it is deployed at.
type StrategyID = common.Address

// ParseStrategyID parses a hex address, with or without the 0x prefix.
func ParseStrategyID(s string) (StrategyID, error) {
	s = strings.TrimSpace(s)
	if !common.IsHexAddress(s) {
		return StrategyID{}, fmt.Errorf("invalid strategy address %q", s)
	}
	return common.HexToAddress(s), nil
}

// StrategyKind names a strategy APR model.
type StrategyKind string

const (
	KindLinear  StrategyKind = "linear"
	KindLending StrategyKind = "lending"
	KindRemote  StrategyKind = "remote"
)
