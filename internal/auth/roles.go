// Package auth holds the role model that gates mutating allocator calls.
package auth

import (
	"fmt"
	"strings"
	"sync"

	"DebtAllocator/internal/model"
)

// Role is a bit flag; an account may hold several.
type Role uint8

const (
	RoleStrategyManager Role = 1 << iota
	RoleDebtManager
	RoleEmergencyManager
	RoleAccountingManager
)

var roleNames = []struct {
	role Role
	name string
}{
	{RoleStrategyManager, "strategy_manager"},
	{RoleDebtManager, "debt_manager"},
	{RoleEmergencyManager, "emergency_manager"},
	{RoleAccountingManager, "accounting_manager"},
}

func (r Role) String() string {
	var parts []string
	for _, rn := range roleNames {
		if r&rn.role != 0 {
			parts = append(parts, rn.name)
		}
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, "|")
}

// Has reports whether every bit of want is set in r.
func (r Role) Has(want Role) bool {
	return want != 0 && r&want == want
}

// ParseRoles parses role names such as "debt_manager" into a combined flag.
func ParseRoles(names []string) (Role, error) {
	var out Role
	for _, n := range names {
		n = strings.ToLower(strings.TrimSpace(n))
		found := false
		for _, rn := range roleNames {
			if rn.name == n {
				out |= rn.role
				found = true
				break
			}
		}
		if !found {
			return 0, fmt.Errorf("unknown role %q", n)
		}
	}
	return out, nil
}

// Authorizer answers capability checks.
type Authorizer interface {
	HasRole(caller model.StrategyID, role Role) bool
}

// ACL is an in-memory role table keyed by account address.
type ACL struct {
	mu    sync.RWMutex
	roles map[model.StrategyID]Role
}

func NewACL() *ACL {
	return &ACL{roles: make(map[model.StrategyID]Role)}
}

// Grant adds roles to an account.
func (a *ACL) Grant(account model.StrategyID, role Role) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.roles[account] |= role
}

// Roles returns the roles held by an account.
func (a *ACL) Roles(account model.StrategyID) Role {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.roles[account]
}

func (a *ACL) HasRole(caller model.StrategyID, role Role) bool {
	return a.Roles(caller).Has(role)
}
