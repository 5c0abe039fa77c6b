package maestro

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"testing"
	"time"

	"atlasledger/consensus/bft"
	"atlasledger/consensus/driver"
	"atlasledger/consensus/pool"
	"atlasledger/consensus/producer"
	"atlasledger/consensus/quorum"
	"atlasledger/consensus/registry"
	"atlasledger/core/ledger"
	"atlasledger/core/txengine"
	"atlasledger/core/types"
	"atlasledger/crypto"
	"atlasledger/storage/index"
	"atlasledger/storage/wal"

	"github.com/stretchr/testify/require"
)

func newTestMaestro(t *testing.T, productionInterval time.Duration) (*Maestro, *txengine.InMemory, *ledger.State, *crypto.PrivateKey, string) {
	t.Helper()
	priv, err := crypto.GeneratePrivateKey()
	require.NoError(t, err)
	self := priv.PubKey().Address(crypto.ExposedPrefix).String()

	s := ledger.NewState()
	fund := ledger.NewLedgerEntry("fund-self", []ledger.Leg{
		ledger.NewLeg("vault:genesis", ledger.AtlasAssetID, ledger.Debit, big.NewInt(1_000_000)),
		ledger.NewLeg("wallet:"+self, ledger.AtlasAssetID, ledger.Credit, big.NewInt(1_000_000)),
	}, "genesis", 0, 0, "")
	require.NoError(t, s.ApplyEntry(fund))

	engine := txengine.New(s, nil, nil)
	mempool := txengine.NewInMemory(1000, 1000)

	w, err := wal.Open(t.TempDir(), 0)
	require.NoError(t, err)
	t.Cleanup(func() { w.Close() })
	idx, err := index.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { idx.Close() })

	signer := crypto.NewEd25519Signer(priv)
	d := driver.New(pool.New(), registry.New(), quorum.New(), s, engine, w, idx, signer, signer, self, []string{self})
	p := producer.New(mempool, d, signer, self)

	cfg := Config{
		ElectLeaderInterval: time.Hour,
		StateSyncInterval:   time.Hour,
		HeartbeatInterval:   time.Hour,
		ProductionInterval:  productionInterval,
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	m := New(d, p, nil, logger, cfg, nil)
	return m, mempool, s, priv, self
}

func TestMaestroProducesAndCommitsAsSoleValidator(t *testing.T) {
	m, mempool, s, selfPriv, self := newTestMaestro(t, 10*time.Millisecond)

	bobPriv, err := crypto.GeneratePrivateKey()
	require.NoError(t, err)
	bob := bobPriv.PubKey().Address(crypto.ExposedPrefix).String()

	tx := types.Transaction{From: self, To: bob, Amount: big.NewInt(42), Asset: ledger.AtlasAssetID, Nonce: 1}
	signed := &types.SignedTransaction{Transaction: tx, Signature: selfPriv.Sign(tx.SigningBytes()), PublicKey: selfPriv.PubKey().Bytes()}
	require.NoError(t, mempool.Add(signed))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	require.Eventually(t, func() bool {
		return m.Driver.LastCommittedHeight() == 1
	}, time.Second, 5*time.Millisecond)

	cancel()
	<-done

	require.Equal(t, big.NewInt(42), s.GetBalance(bob, ledger.AtlasAssetID))

	var buf bytes.Buffer
	require.NoError(t, m.ExportAudit(&buf))

	var export auditExport
	require.NoError(t, json.Unmarshal(buf.Bytes(), &export))
	require.NotEmpty(t, export.Proposals)
	require.NotEmpty(t, export.Votes)
	require.Len(t, export.Results, 1)
	require.Equal(t, uint64(1), export.Results[0].Height)
}

func TestMaestroHandleProposalRejectsWhenQueueFull(t *testing.T) {
	m, _, _, _, self := newTestMaestro(t, time.Hour)

	for i := 0; i < cap(m.proposalCh); i++ {
		require.NoError(t, m.HandleProposal(&bft.Proposal{ID: fmt.Sprintf("p%d", i), Proposer: self}))
	}
	require.Error(t, m.HandleProposal(&bft.Proposal{ID: "overflow", Proposer: self}))
}

func TestMaestroExportAuditEmptyBeforeAnyActivity(t *testing.T) {
	m, _, _, _, _ := newTestMaestro(t, time.Hour)

	var buf bytes.Buffer
	require.NoError(t, m.ExportAudit(&buf))

	var export auditExport
	require.NoError(t, json.Unmarshal(buf.Bytes(), &export))
	require.Empty(t, export.Proposals)
	require.Empty(t, export.Votes)
	require.Empty(t, export.Results)
}
