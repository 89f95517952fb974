package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"kestrel/config"
	"kestrel/core/events"
	"kestrel/core/state"
	"kestrel/core/types"
	"kestrel/crypto"
	"kestrel/native/registry"
	"kestrel/native/sale"
	"kestrel/native/token"
	"kestrel/native/vesting"
	"kestrel/observability/logging"
	"kestrel/rpc"
	"kestrel/storage"
)

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv("KESTREL_ENV"))
	logger := logging.Setup("kestreld", env, os.Getenv("KESTREL_LOG_LEVEL"))

	cfg, err := config.Load(*configFile)
	if err != nil {
		logger.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}

	db, err := storage.NewLevelDB(cfg.DataDir)
	if err != nil {
		logger.Error("failed to open database", slog.Any("error", err))
		os.Exit(1)
	}
	defer db.Close()

	manager := state.NewManager(db)
	treasury := mustAddress(logger, cfg.Genesis.Treasury, "genesis.Treasury")
	feeSink := mustAddress(logger, cfg.Genesis.FeeSink, "genesis.FeeSink")
	escrow := mustAddress(logger, cfg.Genesis.EscrowAddress, "genesis.EscrowAddress")

	supply, err := cfg.GenesisSupply()
	if err != nil {
		logger.Error("invalid genesis supply", slog.Any("error", err))
		os.Exit(1)
	}
	freshGenesis := false
	if err := manager.InitGenesis(treasury, supply); err != nil {
		if !errors.Is(err, state.ErrGenesisSealed) {
			logger.Error("genesis initialisation failed", slog.Any("error", err))
			os.Exit(1)
		}
	} else {
		freshGenesis = true
		logger.Info("genesis minted", "treasury", cfg.Genesis.Treasury, "supply", supply.String())
	}
	totalSupply, err := manager.TotalSupply()
	if err != nil {
		logger.Error("failed to read total supply", slog.Any("error", err))
		os.Exit(1)
	}

	guardCfg, err := manager.GuardConfigGet()
	if err != nil {
		logger.Error("failed to restore guard config", slog.Any("error", err))
		os.Exit(1)
	}
	var saleAddr [20]byte
	if cfg.Sale != nil {
		saleAddr = mustAddress(logger, cfg.Sale.SaleAddress, "sale.SaleAddress")
	}
	if guardCfg.FeeSink == ([20]byte{}) {
		// First boot: apply the configured guard defaults and exclude the
		// module addresses from limits and fees so funding works pre-launch.
		if err := seedGuardConfig(guardCfg, cfg, feeSink, treasury, escrow, saleAddr); err != nil {
			logger.Error("failed to seed guard config", slog.Any("error", err))
			os.Exit(1)
		}
		if err := manager.GuardConfigPut(guardCfg); err != nil {
			logger.Error("failed to persist guard config", slog.Any("error", err))
			os.Exit(1)
		}
		logger.Info("guard config seeded",
			"maxTxBps", guardCfg.MaxTxBps,
			"maxWalletBps", guardCfg.MaxWalletBps,
			"cooldownSeconds", guardCfg.CooldownSeconds,
		)
	}

	emitter := &logEmitter{logger: logger}
	approvals := registry.New(manager)

	tokenEngine := token.NewEngine(guardCfg, totalSupply)
	tokenEngine.SetState(manager)
	tokenEngine.SetRegistry(approvals)
	tokenEngine.SetEmitter(emitter)
	tokenEngine.SetOrdinalFunc(manager.Ordinal)

	vestingEngine := vesting.NewEngine(escrow, treasury)
	vestingEngine.SetState(manager)
	vestingEngine.SetLedger(tokenEngine)
	vestingEngine.SetEmitter(emitter)

	// Genesis vesting grants are bookkeeping only; the operator funds the
	// escrow address from the treasury before releases come due.
	if freshGenesis {
		for i, grant := range cfg.Vesting {
			beneficiary := mustAddress(logger, grant.Beneficiary, fmt.Sprintf("vesting[%d].Beneficiary", i))
			amount, ok := new(big.Int).SetString(strings.TrimSpace(grant.Amount), 10)
			if !ok {
				logger.Error("invalid vesting grant amount", "index", i, "amount", grant.Amount)
				os.Exit(1)
			}
			role, err := vesting.ParseRole(grant.Role)
			if err != nil {
				logger.Error("invalid vesting grant role", "index", i, slog.Any("error", err))
				os.Exit(1)
			}
			if _, err := vestingEngine.GrantStream(beneficiary, amount, grant.Start, grant.Cliff, grant.Duration, grant.Revocable, role); err != nil {
				logger.Error("failed to seed vesting grant", "index", i, slog.Any("error", err))
				os.Exit(1)
			}
			logger.Info("vesting grant seeded", "beneficiary", grant.Beneficiary, "amount", grant.Amount, "role", grant.Role)
		}
	}

	var saleEngine *sale.Engine
	if cfg.Sale != nil {
		params, err := saleParams(cfg.Sale, saleAddr)
		if err != nil {
			logger.Error("invalid sale terms", slog.Any("error", err))
			os.Exit(1)
		}
		saleEngine = sale.NewEngine(params)
		saleEngine.SetState(manager)
		saleEngine.SetLedger(tokenEngine)
		saleEngine.SetApprovals(approvals)
		saleEngine.SetRefunder(&refundJournal{
			path:   filepath.Join(cfg.DataDir, "refunds.log"),
			logger: logger,
		})
	}

	server := rpc.NewServer(rpc.Config{
		TokenEngine:   tokenEngine,
		VestingEngine: vestingEngine,
		SaleEngine:    saleEngine,
		Approvals:     approvals,
		Manager:       manager,
		AdminToken:    cfg.AdminToken,
		Logger:        logger,
	})

	httpServer := &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("rpc listening", "address", cfg.ListenAddress, "network", cfg.NetworkName)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("rpc server failed", slog.Any("error", err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", slog.Any("error", err))
	}
}

func mustAddress(logger *slog.Logger, encoded, field string) [20]byte {
	addr, err := crypto.DecodeAddress(encoded)
	if err != nil {
		logger.Error("invalid address in config", "field", field, slog.Any("error", err))
		os.Exit(1)
	}
	return addr.Array()
}

// seedGuardConfig applies the configured launch defaults on first boot. The
// treasury, escrow and sale addresses are excluded from limits and fees so
// pre-launch funding and module settlement pass the gates.
func seedGuardConfig(guardCfg *token.Config, cfg *config.Config, feeSink, treasury, escrow, saleAddr [20]byte) error {
	if err := guardCfg.SetFeeSink(feeSink); err != nil {
		return err
	}
	if err := guardCfg.SetFees(cfg.Guards.BuyFeeBps, cfg.Guards.SellFeeBps); err != nil {
		return err
	}
	if err := guardCfg.SetMaxTxBps(cfg.Guards.MaxTxBps); err != nil {
		return err
	}
	if err := guardCfg.SetMaxWalletBps(cfg.Guards.MaxWalletBps); err != nil {
		return err
	}
	if err := guardCfg.SetCooldownSeconds(cfg.Guards.CooldownSeconds); err != nil {
		return err
	}
	if err := guardCfg.SetSniperWindowLength(cfg.Guards.SniperWindowLength); err != nil {
		return err
	}
	if err := guardCfg.SetKYCEnabled(cfg.Guards.KYCEnabled); err != nil {
		return err
	}
	exempt := [][20]byte{treasury, escrow}
	if saleAddr != ([20]byte{}) {
		exempt = append(exempt, saleAddr)
	}
	for _, addr := range exempt {
		if err := guardCfg.SetLimitsExcluded(addr, true); err != nil {
			return err
		}
		if err := guardCfg.SetFeeExcluded(addr, true); err != nil {
			return err
		}
	}
	return nil
}

func saleParams(cfg *config.Sale, saleAddr [20]byte) (sale.Params, error) {
	params := sale.Params{
		StartAt:     cfg.StartAt,
		EndAt:       cfg.EndAt,
		SaleAddress: saleAddr,
	}
	for _, field := range []struct {
		name  string
		value string
		out   **big.Int
	}{
		{"sale.MinContribution", cfg.MinContribution, &params.MinContribution},
		{"sale.MaxContribution", cfg.MaxContribution, &params.MaxContribution},
		{"sale.Cap", cfg.Cap, &params.Cap},
		{"sale.TokensPerUnit", cfg.TokensPerUnit, &params.TokensPerUnit},
	} {
		amount, ok := new(big.Int).SetString(strings.TrimSpace(field.value), 10)
		if !ok || amount.Sign() <= 0 {
			return sale.Params{}, fmt.Errorf("%s must be a positive integer, got %q", field.name, field.value)
		}
		*field.out = amount
	}
	return params, nil
}

// logEmitter renders ledger events as structured log lines. An indexer can
// tail the daemon's output instead of polling state.
type logEmitter struct {
	logger *slog.Logger
}

func (l *logEmitter) Emit(evt events.Event) {
	if evt == nil {
		return
	}
	args := []any{"type", evt.EventType()}
	if carrier, ok := evt.(interface{ Event() *types.Event }); ok {
		if inner := carrier.Event(); inner != nil {
			for key, value := range inner.Attributes {
				args = append(args, key, value)
			}
		}
	}
	l.logger.Info("ledger event", args...)
}

// refundJournal records refund instructions for the host payment rail. The
// native payment leg settles outside the ledger; the journal is the handoff.
type refundJournal struct {
	path   string
	logger *slog.Logger
}

func (r *refundJournal) Refund(to [20]byte, amount *big.Int) error {
	entry := map[string]string{
		"to":     crypto.MustNewAddress(to).String(),
		"amount": amount.String(),
		"at":     time.Now().UTC().Format(time.RFC3339),
	}
	raw, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	file, err := os.OpenFile(r.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	defer file.Close()
	if _, err := file.Write(append(raw, '\n')); err != nil {
		return err
	}
	r.logger.Info("refund journaled", "to", entry["to"], "amount", entry["amount"])
	return nil
}
