// Command atlasledgerd runs a single Atlas Ledger validator node: it wires
// the ledger state, durable storage layers, consensus driver, block
// producer, and Maestro runtime together and serves until interrupted.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"atlasledger/config"
	"atlasledger/consensus/driver"
	"atlasledger/consensus/pool"
	"atlasledger/consensus/producer"
	"atlasledger/consensus/quorum"
	"atlasledger/consensus/registry"
	"atlasledger/core/genesis"
	"atlasledger/core/ledger"
	"atlasledger/core/txengine"
	"atlasledger/crypto"
	"atlasledger/netpublish"
	"atlasledger/observability/logging"
	"atlasledger/observability/otel"
	"atlasledger/runtime/maestro"
	"atlasledger/storage/index"
	"atlasledger/storage/shard"
	"atlasledger/storage/wal"
)

const (
	defaultAdmissionsPerSecond = 200.0
	defaultAdmissionBurst      = 400
)

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	genesisFlag := flag.String("genesis", "", "Path to a genesis allocation file (overrides config GenesisFile)")
	auditOut := flag.String("audit-out", "", "If set, write the consensus audit log here on shutdown")
	logFile := flag.String("log-file", "", "If set, write rotated JSON logs here instead of stdout")
	otelEndpoint := flag.String("otel-endpoint", "", "OTLP/HTTP collector endpoint for trace export (disabled if empty)")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv("ATLASLEDGER_ENV"))
	var logger *slog.Logger
	if path := strings.TrimSpace(*logFile); path != "" {
		logger = logging.SetupWriter("atlasledgerd", env, logging.NewRotatingWriter(path, 100, 5))
	} else {
		logger = logging.Setup("atlasledgerd", env)
	}

	if endpoint := strings.TrimSpace(*otelEndpoint); endpoint != "" {
		shutdownTracing, err := otel.Init(context.Background(), otel.Config{
			ServiceName: "atlasledgerd",
			Environment: env,
			Endpoint:    endpoint,
			Insecure:    true,
		})
		if err != nil {
			logger.Warn("tracing disabled: failed to initialize otel", slog.Any("error", err))
		} else {
			defer shutdownTracing(context.Background())
		}
	}

	cfg, err := config.Load(*configFile)
	if err != nil {
		logger.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}

	priv, err := cfg.ValidatorKeyBytes()
	if err != nil {
		logger.Error("failed to decode validator key", slog.Any("error", err))
		os.Exit(1)
	}
	self := priv.PubKey().Address(crypto.ExposedPrefix).String()
	signer := crypto.NewEd25519Signer(priv)

	for _, dir := range []string{cfg.DataDir, cfg.WALDir(), cfg.IndexDir(), cfg.ShardDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			logger.Error("failed to prepare data directory", slog.String("dir", dir), slog.Any("error", err))
			os.Exit(1)
		}
	}

	adminKey, err := cfg.AdminPublicKeyBytes()
	if err != nil {
		logger.Error("failed to decode admin public key", slog.Any("error", err))
		os.Exit(1)
	}

	shards, err := shard.Open(cfg.ShardDir())
	if err != nil {
		logger.Error("failed to open shard store", slog.Any("error", err))
		os.Exit(1)
	}
	defer shards.Close()

	state := ledger.NewState()
	engine := txengine.New(state, shards, adminKey)

	genesisPath := strings.TrimSpace(*genesisFlag)
	if genesisPath == "" {
		genesisPath = strings.TrimSpace(cfg.GenesisFile)
	}
	activePeers := []string{self}
	if genesisPath != "" {
		if _, err := os.Stat(genesisPath); err == nil {
			spec, err := genesis.Load(genesisPath)
			if err != nil {
				logger.Error("failed to load genesis spec", slog.Any("error", err))
				os.Exit(1)
			}
			if err := state.ApplyGenesisState(spec.LedgerAllocations(), shards); err != nil {
				logger.Error("failed to apply genesis allocations", slog.Any("error", err))
				os.Exit(1)
			}
			if peers := spec.ActiveValidators(); len(peers) > 0 {
				activePeers = peers
			}
			logger.Info("genesis applied", slog.String("path", genesisPath), slog.Int("validators", len(activePeers)))
		} else {
			logger.Warn("genesis file not found, starting with self as sole validator", slog.String("path", genesisPath))
		}
	}

	w, err := wal.Open(cfg.WALDir(), 0)
	if err != nil {
		logger.Error("failed to open write-ahead log", slog.Any("error", err))
		os.Exit(1)
	}
	defer w.Close()

	idx, err := index.Open(cfg.IndexDir())
	if err != nil {
		logger.Error("failed to open secondary index", slog.Any("error", err))
		os.Exit(1)
	}
	defer idx.Close()

	limits := config.RuntimeLimits{
		Mempool: config.Mempool{AdmissionsPerSecond: defaultAdmissionsPerSecond, AdmissionBurst: defaultAdmissionBurst},
		Blocks:  config.Blocks{BatchSize: 50},
	}
	if err := config.ValidateRuntimeLimits(limits); err != nil {
		logger.Error("invalid runtime limits", slog.Any("error", err))
		os.Exit(1)
	}
	mempool := txengine.NewInMemory(limits.Mempool.AdmissionsPerSecond, limits.Mempool.AdmissionBurst)

	d := driver.New(pool.New(), registry.New(), quorum.New(), state, engine, w, idx, signer, signer, self, activePeers)
	p := producer.New(mempool, d, signer, self)
	p.BatchSize = limits.Blocks.BatchSize

	var pub producer.Publisher = netpublish.New(logger)
	m := maestro.New(d, p, pub, logger, maestro.DefaultConfig(), cfg.BootstrapPeers)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("atlasledgerd started", slog.String("self", self), slog.String("listen", cfg.ListenAddress))
	runErr := m.Run(ctx)
	if runErr != nil && runErr != context.Canceled {
		logger.Error("maestro stopped with error", slog.Any("error", runErr))
	}

	if path := strings.TrimSpace(*auditOut); path != "" {
		if err := writeAudit(m, path); err != nil {
			logger.Error("failed to write audit log", slog.Any("error", err))
		}
	}
	logger.Info("atlasledgerd shut down", slog.Uint64("last_committed_height", d.LastCommittedHeight()))
}

func writeAudit(m *maestro.Maestro, path string) error {
	f, err := os.Create(filepath.Clean(path))
	if err != nil {
		return fmt.Errorf("create audit file: %w", err)
	}
	defer f.Close()
	return m.ExportAudit(f)
}
