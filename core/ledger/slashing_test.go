package ledger

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSlashValidatorDebitsWalletAndCreditsSlashingAccount(t *testing.T) {
	s := NewState()
	shards := newMemShard()

	fund := NewLedgerEntry("fund", []Leg{
		NewLeg("vault:genesis", AtlasAssetID, Debit, big.NewInt(5_000_000)),
		NewLeg("wallet:validator1", AtlasAssetID, Credit, big.NewInt(5_000_000)),
	}, "tx0", 0, 0, "")
	require.NoError(t, s.ApplyEntry(fund))

	require.NoError(t, s.SlashValidator("validator1", big.NewInt(1_000_000), shards))

	require.Equal(t, big.NewInt(4_000_000), s.GetBalance("wallet:validator1", AtlasAssetID))
	require.Equal(t, big.NewInt(1_000_000), s.GetBalance(SlashingAccount, AtlasAssetID))
}

func TestSlashValidatorCapsAtBalance(t *testing.T) {
	s := NewState()
	fund := NewLedgerEntry("fund", []Leg{
		NewLeg("vault:genesis", AtlasAssetID, Debit, big.NewInt(100)),
		NewLeg("wallet:validator1", AtlasAssetID, Credit, big.NewInt(100)),
	}, "tx0", 0, 0, "")
	require.NoError(t, s.ApplyEntry(fund))

	require.NoError(t, s.SlashValidator("validator1", big.NewInt(1_000_000), nil))
	require.Equal(t, big.NewInt(0), s.GetBalance("wallet:validator1", AtlasAssetID))
	require.Equal(t, big.NewInt(100), s.GetBalance(SlashingAccount, AtlasAssetID))
}

func TestSlashValidatorBurnsDelegatorStake(t *testing.T) {
	s := NewState()
	fund := NewLedgerEntry("fund", []Leg{
		NewLeg("vault:genesis", AtlasAssetID, Debit, big.NewInt(1000)),
		NewLeg("wallet:system:staking", AtlasAssetID, Credit, big.NewInt(1000)),
	}, "tx0", 0, 0, "")
	require.NoError(t, s.ApplyEntry(fund))
	s.Delegations().Delegate("delegator1", "validator1", 1000)

	require.NoError(t, s.SlashValidator("validator1", big.NewInt(0), nil))

	require.Equal(t, uint64(900), s.Delegations().GetDelegatedPower("validator1"))
	require.Equal(t, big.NewInt(100), s.GetBalance(SlashingAccount, AtlasAssetID))
	require.Equal(t, big.NewInt(900), s.GetBalance("wallet:system:staking", AtlasAssetID))
}
