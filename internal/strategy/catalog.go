package strategy

import (
	"errors"
	"fmt"
	"sync"

	"DebtAllocator/internal/config"
	"DebtAllocator/internal/model"

	"github.com/rs/zerolog"
)

var ErrUnknownStrategy = errors.New("strategy not in catalog")

// Build creates the oracle described by cfg.
func Build(cfg config.StrategyConfig, debts DebtReader, proxyURL string, log zerolog.Logger) (Strategy, error) {
	id, err := model.ParseStrategyID(cfg.ID)
	if err != nil {
		return nil, err
	}
	switch model.StrategyKind(cfg.Kind) {
	case model.KindLinear, "":
		return NewLinear(id, cfg.Base.Decimal, cfg.Slope.Decimal, debts), nil
	case model.KindLending:
		return NewLendingMarket(id, LendingParams{
			Borrowed:         cfg.Borrowed.Decimal,
			OtherSupply:      cfg.OtherSupply.Decimal,
			BaseRate:         cfg.BaseRate.Decimal,
			Slope1:           cfg.Slope1.Decimal,
			Slope2:           cfg.Slope2.Decimal,
			KinkBPS:          cfg.KinkBPS,
			ReserveFactorBPS: cfg.ReserveFactorBPS,
		}, debts), nil
	case model.KindRemote:
		return NewRemote(id, cfg.URL, cfg.APIKey, proxyURL, WithRemoteLogger(log)), nil
	default:
		return nil, fmt.Errorf("strategy %s: unknown kind %q", id.Hex(), cfg.Kind)
	}
}

// Catalog holds every strategy the service knows how to price, whether or
// not it is currently registered with the allocator.
type Catalog struct {
	mu         sync.RWMutex
	strategies map[model.StrategyID]Strategy
	order      []model.StrategyID
}

func NewCatalog() *Catalog {
	return &Catalog{strategies: make(map[model.StrategyID]Strategy)}
}

// FromConfig builds a catalog from the configured strategy list.
func FromConfig(cfgs []config.StrategyConfig, debts DebtReader, proxyURL string, log zerolog.Logger) (*Catalog, error) {
	c := NewCatalog()
	for _, sc := range cfgs {
		s, err := Build(sc, debts, proxyURL, log)
		if err != nil {
			return nil, err
		}
		c.Add(s)
	}
	return c, nil
}

// Add inserts or replaces s.
func (c *Catalog) Add(s Strategy) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.strategies[s.ID()]; !ok {
		c.order = append(c.order, s.ID())
	}
	c.strategies[s.ID()] = s
}

func (c *Catalog) Get(id model.StrategyID) (Strategy, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.strategies[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownStrategy, id.Hex())
	}
	return s, nil
}

// IDs returns catalog entries in insertion order.
func (c *Catalog) IDs() []model.StrategyID {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]model.StrategyID, len(c.order))
	copy(out, c.order)
	return out
}
