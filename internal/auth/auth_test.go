package auth

import (
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	gov    = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	keeper = common.HexToAddress("0x00000000000000000000000000000000000000b2")
)

func TestParseRoles(t *testing.T) {
	r, err := ParseRoles([]string{"strategy_manager", " Debt_Manager "})
	require.NoError(t, err)
	assert.Equal(t, RoleStrategyManager|RoleDebtManager, r)
	assert.Equal(t, "strategy_manager|debt_manager", r.String())

	_, err = ParseRoles([]string{"admin"})
	assert.Error(t, err)
}

func TestRoleBitValues(t *testing.T) {
	assert.Equal(t, Role(1), RoleStrategyManager)
	assert.Equal(t, Role(2), RoleDebtManager)
	assert.Equal(t, Role(4), RoleEmergencyManager)
	assert.Equal(t, Role(8), RoleAccountingManager)
	assert.False(t, Role(0).Has(0))
}

func TestACL_Grant(t *testing.T) {
	acl := NewACL()
	acl.Grant(gov, RoleStrategyManager)
	acl.Grant(gov, RoleDebtManager)

	assert.True(t, acl.HasRole(gov, RoleDebtManager))
	assert.True(t, acl.HasRole(gov, RoleStrategyManager))
	assert.False(t, acl.HasRole(gov, RoleEmergencyManager))
	assert.False(t, acl.HasRole(keeper, RoleDebtManager))
	assert.Equal(t, RoleStrategyManager|RoleDebtManager, acl.Roles(gov))
}

func TestTokenVerifier_RoundTrip(t *testing.T) {
	v := NewTokenVerifier("secret", "allocator")
	tok, err := v.Issue(keeper, time.Minute)
	require.NoError(t, err)

	caller, err := v.Verify(tok)
	require.NoError(t, err)
	assert.Equal(t, keeper, caller)
}

func TestTokenVerifier_Rejects(t *testing.T) {
	v := NewTokenVerifier("secret", "allocator")

	other := NewTokenVerifier("other", "allocator")
	tok, err := other.Issue(keeper, time.Minute)
	require.NoError(t, err)
	_, err = v.Verify(tok)
	assert.ErrorIs(t, err, ErrInvalidToken)

	expired, err := v.Issue(keeper, -time.Minute)
	require.NoError(t, err)
	_, err = v.Verify(expired)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = v.Verify("not-a-token")
	assert.ErrorIs(t, err, ErrInvalidToken)
}
