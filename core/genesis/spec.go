// Package genesis loads the genesis allocation file consumed by
// core/ledger.ApplyGenesisState: a flat list of (address, amount) pairs
// plus the initial active validator set.
package genesis

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"atlasledger/core/ledger"
	"atlasledger/crypto"

	"gopkg.in/yaml.v3"
)

// AllocationEntry is one line of the genesis allocation file.
type AllocationEntry struct {
	Address string `json:"address" yaml:"address"`
	Amount  string `json:"amount" yaml:"amount"`
}

// ValidatorEntry names one initial active validator by address.
type ValidatorEntry struct {
	Address string `json:"address" yaml:"address"`
	Moniker string `json:"moniker,omitempty" yaml:"moniker,omitempty"`
}

// Spec is the decoded genesis allocation file.
type Spec struct {
	Allocations []AllocationEntry `json:"allocations" yaml:"allocations"`
	Validators  []ValidatorEntry  `json:"validators" yaml:"validators"`
}

// Load reads and validates a genesis spec file from path. Files named
// *.yaml or *.yml are decoded as YAML (the teacher's config package
// accepts both toml and yaml across its fixtures); every other extension
// is decoded as JSON. Both decoders reject unknown fields.
func Load(path string) (*Spec, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("genesis: spec path must be provided")
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("genesis: read spec %q: %w", path, err)
	}

	var spec Spec
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(raw))
		dec.KnownFields(true)
		if err := dec.Decode(&spec); err != nil {
			return nil, fmt.Errorf("genesis: decode spec %q: %w", path, err)
		}
	default:
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&spec); err != nil {
			return nil, fmt.Errorf("genesis: decode spec %q: %w", path, err)
		}
	}

	if err := spec.validate(); err != nil {
		return nil, fmt.Errorf("genesis: invalid spec %q: %w", path, err)
	}
	return &spec, nil
}

func (s *Spec) validate() error {
	seen := make(map[string]struct{}, len(s.Allocations))
	for i, a := range s.Allocations {
		resolved := crypto.ResolveGenesisAddress(strings.TrimSpace(a.Address))
		if resolved == "" {
			return fmt.Errorf("allocations[%d]: address must be provided", i)
		}
		if _, err := crypto.DecodeAddress(resolved); err != nil {
			return fmt.Errorf("allocations[%d]: %w", i, err)
		}
		if _, dup := seen[resolved]; dup {
			return fmt.Errorf("allocations[%d]: duplicate address %q", i, resolved)
		}
		seen[resolved] = struct{}{}
		if _, ok := new(big.Int).SetString(strings.TrimSpace(a.Amount), 10); !ok {
			return fmt.Errorf("allocations[%d]: invalid amount %q", i, a.Amount)
		}
	}
	validatorSeen := make(map[string]struct{}, len(s.Validators))
	for i, v := range s.Validators {
		resolved := crypto.ResolveGenesisAddress(strings.TrimSpace(v.Address))
		if resolved == "" {
			return fmt.Errorf("validators[%d]: address must be provided", i)
		}
		if _, err := crypto.DecodeAddress(resolved); err != nil {
			return fmt.Errorf("validators[%d]: %w", i, err)
		}
		if _, dup := validatorSeen[resolved]; dup {
			return fmt.Errorf("validators[%d]: duplicate address %q", i, v.Address)
		}
		validatorSeen[resolved] = struct{}{}
	}
	return nil
}

// ActiveValidators returns the initial active peer set, sorted, for
// Driver.SetActivePeers.
func (s *Spec) ActiveValidators() []string {
	out := make([]string, 0, len(s.Validators))
	for _, v := range s.Validators {
		out = append(out, crypto.ResolveGenesisAddress(strings.TrimSpace(v.Address)))
	}
	sort.Strings(out)
	return out
}

// LedgerAllocations converts the decoded entries to ledger.GenesisAllocation,
// the shape core/ledger.State.ApplyGenesisState expects.
func (s *Spec) LedgerAllocations() []ledger.GenesisAllocation {
	out := make([]ledger.GenesisAllocation, 0, len(s.Allocations))
	for _, a := range s.Allocations {
		amount, _ := new(big.Int).SetString(strings.TrimSpace(a.Amount), 10)
		out = append(out, ledger.GenesisAllocation{
			Address: crypto.ResolveGenesisAddress(strings.TrimSpace(a.Address)),
			Amount:  amount,
		})
	}
	return out
}
