package allocator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"DebtAllocator/internal/model"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/ethereum/go-ethereum/common"
)

// RegistryStore persists the ordered list of registered strategies. Load
// reports found=false only when nothing was ever saved, so an emptied
// registry stays empty.
type RegistryStore interface {
	Load(ctx context.Context) (ids []model.StrategyID, found bool, err error)
	Save(ctx context.Context, ids []model.StrategyID) error
	Close() error
}

// MemoryStore keeps the registry for the lifetime of the process only.
type MemoryStore struct {
	mu    sync.Mutex
	ids   []model.StrategyID
	saved bool
}

func NewMemoryStore() *MemoryStore { return &MemoryStore{} }

func (m *MemoryStore) Load(_ context.Context) ([]model.StrategyID, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.StrategyID, len(m.ids))
	copy(out, m.ids)
	return out, m.saved, nil
}

func (m *MemoryStore) Save(_ context.Context, ids []model.StrategyID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ids = append(m.ids[:0:0], ids...)
	m.saved = true
	return nil
}

func (m *MemoryStore) Close() error { return nil }

var registryKey = []byte("registry/strategies")

// BadgerStore keeps the registry in a Badger database as one value: the
// concatenated 20-byte addresses in registration order.
type BadgerStore struct {
	db *badger.DB
}

// OpenBadgerStore opens (or creates) the store at dir. An empty dir opens
// an in-memory database.
func OpenBadgerStore(dir string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(strings.TrimSpace(dir)).WithLogger(nil)
	if strings.TrimSpace(dir) == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open registry store: %w", err)
	}
	return &BadgerStore{db: db}, nil
}

func (s *BadgerStore) Load(_ context.Context) ([]model.StrategyID, bool, error) {
	var (
		ids   []model.StrategyID
		found bool
	)
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(registryKey)
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return nil
			}
			return err
		}
		found = true
		return item.Value(func(val []byte) error {
			if len(val)%common.AddressLength != 0 {
				return fmt.Errorf("corrupt registry value: %d bytes", len(val))
			}
			for i := 0; i < len(val); i += common.AddressLength {
				ids = append(ids, common.BytesToAddress(val[i:i+common.AddressLength]))
			}
			return nil
		})
	})
	if err != nil {
		return nil, false, fmt.Errorf("load registry: %w", err)
	}
	return ids, found, nil
}

func (s *BadgerStore) Save(_ context.Context, ids []model.StrategyID) error {
	val := make([]byte, 0, len(ids)*common.AddressLength)
	for _, id := range ids {
		val = append(val, id.Bytes()...)
	}
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(registryKey, val)
	})
	if err != nil {
		return fmt.Errorf("save registry: %w", err)
	}
	return nil
}

func (s *BadgerStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
