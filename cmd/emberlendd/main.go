package main

import (
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"emberlend/config"
	"emberlend/crypto"
	"emberlend/native/emissions"
	"emberlend/native/incentives"
	"emberlend/native/pricefeed"
	"emberlend/native/rewards"
	"emberlend/native/vesting"
	"emberlend/observability/logging"
	"emberlend/rpc"
	"emberlend/storage"
)

const daySeconds = 24 * 60 * 60

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv("EMBERLEND_ENV"))
	logger := logging.Setup("emberlendd", env)

	cfg, err := config.Load(*configFile)
	if err != nil {
		logger.Error("Failed to load config", slog.Any("error", err))
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		logger.Error("Invalid config", slog.Any("error", err))
		os.Exit(1)
	}

	govToken, err := crypto.DecodeAddress(cfg.GovToken)
	if err != nil {
		logger.Error("Invalid governance token address", slog.Any("error", err))
		os.Exit(1)
	}
	treasury, err := crypto.DecodeAddress(cfg.TreasuryAddress)
	if err != nil {
		logger.Error("Invalid treasury address", slog.Any("error", err))
		os.Exit(1)
	}
	// An unset sink burns the penalty at the zero address.
	penaltySink, err := resolveAddress(cfg.PenaltySink, crypto.NewAddress(crypto.AccountPrefix, make([]byte, 20)))
	if err != nil {
		logger.Error("Invalid penalty sink address", slog.Any("error", err))
		os.Exit(1)
	}

	schedule, err := emissions.LoadFile(cfg.EmissionsFile)
	if err != nil {
		logger.Error("Failed to load emission schedule", slog.Any("error", err))
		os.Exit(1)
	}

	db, err := storage.NewLevelDB(cfg.DataDir)
	if err != nil {
		logger.Error("Failed to open database", slog.Any("error", err))
		os.Exit(1)
	}
	defer db.Close()

	state := storage.NewState(db)
	vault := storage.NewTokenVault(state, treasury)

	ledger := vesting.NewLedger(vesting.Params{
		GovToken:        govToken,
		TreasuryAddress: treasury,
		LockDuration:    cfg.LockDurationDays * daySeconds,
		VestDuration:    cfg.VestDurationDays * daySeconds,
		PenaltyBps:      cfg.PenaltyBps,
		PenaltySink:     penaltySink,
	})
	ledger.SetState(state)
	ledger.SetTransfer(vault)

	// The governance token always shares fees; config can add more.
	ledger.SetTimestamp(uint64(time.Now().Unix()))
	rewardTokens := []crypto.Address{govToken}
	for _, encoded := range cfg.RewardTokens {
		token, err := crypto.DecodeAddress(encoded)
		if err != nil {
			logger.Error("Invalid reward token address", slog.String("token", encoded), slog.Any("error", err))
			os.Exit(1)
		}
		rewardTokens = append(rewardTokens, token)
	}
	for _, token := range rewardTokens {
		if err := ledger.RegisterRewardToken(token); err != nil && !errors.Is(err, vesting.ErrDuplicateRewardToken) {
			logger.Error("Failed to register reward token", slog.String("token", token.String()), slog.Any("error", err))
			os.Exit(1)
		}
	}

	if err := seedTreasury(state, vault, cfg.TreasurySeed); err != nil {
		logger.Error("Failed to seed treasury", slog.Any("error", err))
		os.Exit(1)
	}

	staking := incentives.NewEngine("staking", schedule, emissions.ShareFloor, cfg.ProgramStart)
	lending := incentives.NewEngine("lending", schedule, emissions.ShareRemainder, cfg.ProgramStart)
	for _, engine := range []*incentives.Engine{staking, lending} {
		engine.SetState(state)
		engine.SetVester(ledger)
	}

	router := pricefeed.NewHTTPRouter(nil, cfg.OracleEndpoint)
	feeds := make(map[string]*pricefeed.Feed, len(cfg.AssetFeeds))
	for _, assetFeed := range cfg.AssetFeeds {
		feed, err := pricefeed.NewFeed(assetFeed.ID, assetFeed.Decimals, assetFeed.TimeoutSeconds)
		if err != nil {
			logger.Error("Failed to build price feed", slog.String("asset", assetFeed.ID), slog.Any("error", err))
			os.Exit(1)
		}
		feed.SetState(state.FeedState(assetFeed.ID))
		feed.SetRouter(router)
		feeds[assetFeed.ID] = feed
	}

	provider := rewards.NewProvider([]*incentives.Engine{staking, lending}, ledger, vault, []crypto.Address{govToken})
	server := rpc.NewServer(staking, lending, ledger, feeds, provider, state, vault)

	go func() {
		logger.Info("Starting JSON-RPC server", slog.String("address", cfg.RPCAddress))
		if err := server.Start(cfg.RPCAddress); err != nil {
			logger.Error("RPC server stopped", slog.Any("error", err))
			os.Exit(1)
		}
	}()
	go func() {
		logger.Info("Starting metrics server", slog.String("address", cfg.MetricsAddress))
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		if err := http.ListenAndServe(cfg.MetricsAddress, mux); err != nil {
			logger.Error("Metrics server stopped", slog.Any("error", err))
		}
	}()

	logger.Info("emberlendd is running",
		slog.String("govToken", govToken.String()),
		slog.Int("assetFeeds", len(feeds)),
		slog.Uint64("programStart", cfg.ProgramStart),
	)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
	logger.Info("Shutting down")
}

// seedTreasury mints the configured balances into the treasury account once,
// on the first start against an empty database.
func seedTreasury(state *storage.State, vault *storage.TokenVault, seeds []config.TokenAmount) error {
	if len(seeds) == 0 {
		return nil
	}
	seeded, err := state.GenesisSeeded()
	if err != nil || seeded {
		return err
	}
	for _, seed := range seeds {
		token, err := crypto.DecodeAddress(seed.Token)
		if err != nil {
			return fmt.Errorf("treasury seed token %q: %w", seed.Token, err)
		}
		amount, ok := new(big.Int).SetString(strings.TrimSpace(seed.Amount), 10)
		if !ok {
			return fmt.Errorf("invalid treasury seed amount %q", seed.Amount)
		}
		if err := vault.Fund(token, amount); err != nil {
			return err
		}
	}
	return state.MarkGenesisSeeded()
}

// resolveAddress decodes the configured address, falling back to the given
// default when the field is empty.
func resolveAddress(value string, fallback crypto.Address) (crypto.Address, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return fallback, nil
	}
	addr, err := crypto.DecodeAddress(trimmed)
	if err != nil {
		return crypto.Address{}, fmt.Errorf("decode address %q: %w", value, err)
	}
	return addr, nil
}
