package genesis

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"atlasledger/crypto"

	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func writeSpec(t *testing.T, spec Spec) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "genesis.json")
	raw, err := json.Marshal(spec)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, raw, 0o644))
	return path
}

func TestLoadValidatesAndResolvesAllocations(t *testing.T) {
	priv, err := crypto.GeneratePrivateKey()
	require.NoError(t, err)
	addr := priv.PubKey().Address(crypto.ExposedPrefix).String()

	path := writeSpec(t, Spec{
		Allocations: []AllocationEntry{{Address: addr, Amount: "1000"}},
		Validators:  []ValidatorEntry{{Address: addr, Moniker: "genesis-1"}},
	})

	spec, err := Load(path)
	require.NoError(t, err)
	require.Len(t, spec.Allocations, 1)
	require.Equal(t, []string{addr}, spec.ActiveValidators())

	allocs := spec.LedgerAllocations()
	require.Len(t, allocs, 1)
	require.Equal(t, addr, allocs[0].Address)
	require.Equal(t, "1000", allocs[0].Amount.String())
}

func TestLoadRejectsDuplicateAllocationAddress(t *testing.T) {
	priv, err := crypto.GeneratePrivateKey()
	require.NoError(t, err)
	addr := priv.PubKey().Address(crypto.ExposedPrefix).String()

	path := writeSpec(t, Spec{
		Allocations: []AllocationEntry{
			{Address: addr, Amount: "100"},
			{Address: addr, Amount: "200"},
		},
	})

	_, err = Load(path)
	require.Error(t, err)
}

func TestLoadRejectsInvalidAmount(t *testing.T) {
	priv, err := crypto.GeneratePrivateKey()
	require.NoError(t, err)
	addr := priv.PubKey().Address(crypto.ExposedPrefix).String()

	path := writeSpec(t, Spec{
		Allocations: []AllocationEntry{{Address: addr, Amount: "not-a-number"}},
	})

	_, err = Load(path)
	require.Error(t, err)
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "genesis.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"allocations":[],"bogusField":true}`), 0o644))

	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadRejectsMissingPath(t *testing.T) {
	_, err := Load("")
	require.Error(t, err)
}

func TestLoadAcceptsYAMLFormat(t *testing.T) {
	priv, err := crypto.GeneratePrivateKey()
	require.NoError(t, err)
	addr := priv.PubKey().Address(crypto.ExposedPrefix).String()

	spec := Spec{
		Allocations: []AllocationEntry{{Address: addr, Amount: "500"}},
		Validators:  []ValidatorEntry{{Address: addr, Moniker: "genesis-1"}},
	}
	raw, err := yaml.Marshal(spec)
	require.NoError(t, err)

	dir := t.TempDir()
	path := filepath.Join(dir, "genesis.yaml")
	require.NoError(t, os.WriteFile(path, raw, 0o644))

	loaded, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, []string{addr}, loaded.ActiveValidators())
}

func TestLoadRejectsUnknownFieldsYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "genesis.yml")
	require.NoError(t, os.WriteFile(path, []byte("allocations: []\nbogusField: true\n"), 0o644))

	_, err := Load(path)
	require.Error(t, err)
}
