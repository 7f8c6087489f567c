// Command mirror copies a target wallet's Polymarket trades onto our own
// account, gated by the risk engine. Credentials come from .env; everything
// tunable comes from the YAML config, hot-reloaded on change.
package main

import (
	"context"
	"crypto/ecdsa"
	"flag"
	"log"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/Tuntii/polymarket-copy-trading-bot-v1/internal/audit"
	"github.com/Tuntii/polymarket-copy-trading-bot-v1/internal/clob"
	"github.com/Tuntii/polymarket-copy-trading-bot-v1/internal/config"
	"github.com/Tuntii/polymarket-copy-trading-bot-v1/internal/dataapi"
	"github.com/Tuntii/polymarket-copy-trading-bot-v1/internal/dotenv"
	"github.com/Tuntii/polymarket-copy-trading-bot-v1/internal/executor"
	"github.com/Tuntii/polymarket-copy-trading-bot-v1/internal/monitor"
	"github.com/Tuntii/polymarket-copy-trading-bot-v1/internal/polygonutil"
	"github.com/Tuntii/polymarket-copy-trading-bot-v1/internal/risk"
	"github.com/Tuntii/polymarket-copy-trading-bot-v1/internal/rtds"
	"github.com/Tuntii/polymarket-copy-trading-bot-v1/internal/store"
)

func main() {
	if err := dotenv.Load(); err != nil {
		log.Printf("[warn] %v", err)
	}

	var configPath string
	flag.StringVar(&configPath, "config", "config/mirror.yaml", "Path to the YAML configuration")
	flag.Parse()

	loader, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("[fatal] %v", err)
	}
	cfg := loader.Config()

	riskCfg, err := cfg.Risk.Resolve()
	if err != nil {
		log.Fatalf("[fatal] %v", err)
	}

	rpcURL, err := polygonutil.RPCURLFromEnv()
	if err != nil {
		log.Fatalf("[fatal] %v", err)
	}

	st, err := store.Open(cfg.DatabasePath)
	if err != nil {
		log.Fatalf("[fatal] %v", err)
	}
	defer st.Close()

	dataClient, err := dataapi.NewClient(cfg.DataAPIURL)
	if err != nil {
		log.Fatalf("[fatal] %v", err)
	}

	trail := audit.New(cfg.AuditLogPath)
	defer trail.Close()

	proxyAddr := common.HexToAddress(cfg.ProxyWallet)
	balanceReader, err := polygonutil.NewBalanceReader(rpcURL, proxyAddr)
	if err != nil {
		log.Fatalf("[fatal] %v", err)
	}
	defer balanceReader.Close()

	engine := risk.NewEngine(riskCfg, balanceReader, executor.DataAPIExposure{
		Client: dataClient,
		Owner:  cfg.ProxyWallet,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	clobClient, placer := buildPlacer(ctx, cfg, proxyAddr, dataClient)

	positions := executor.DataAPIPositions{Client: dataClient}
	exec := executor.New(st, engine, placer, executor.ClobPrices{Client: clobClient},
		positions, trail, cfg.TargetWallet, cfg.ProxyWallet, cfg.RetryCeiling)

	mode := monitor.ModeFast
	if strings.EqualFold(cfg.PollMode, "slow") {
		mode = monitor.ModeSlow
	}
	poller := monitor.NewPoller(dataClient, st, trail, cfg.TargetWallet, cfg.ActivityLimit, mode, cfg.StalenessCutoff)
	if err := poller.Init(); err != nil {
		log.Fatalf("[fatal] %v", err)
	}

	watcher := monitor.NewWatcher(dataClient, st, engine, trail, cfg.ProxyWallet, 0)

	loader.Watch(func(next config.Config) {
		rc, err := next.Risk.Resolve()
		if err != nil {
			log.Printf("[warn] reloaded config has invalid risk settings: %v", err)
			return
		}
		engine.ReplaceConfig(rc)
		trail.Record(audit.Event{Kind: audit.KindConfig, Detail: configPath})
	})

	trail.Record(audit.Event{Kind: audit.KindStartup, Wallet: cfg.ProxyWallet, Detail: "target " + cfg.TargetWallet})
	log.Printf("[info] mirroring %s onto %s (trading=%v, mode=%s)", cfg.TargetWallet, cfg.ProxyWallet, cfg.TradingEnabled, cfg.PollMode)

	var wg sync.WaitGroup
	wg.Add(3)
	go func() { defer wg.Done(); poller.Run(ctx, cfg.PollInterval) }()
	go func() { defer wg.Done(); exec.Run(ctx, cfg.PollInterval) }()
	go func() { defer wg.Done(); watcher.Run(ctx, cfg.PositionInterval) }()

	if cfg.StreamEnabled {
		wg.Add(1)
		go func() { defer wg.Done(); runStream(ctx, cfg, poller) }()
	}

	wg.Add(1)
	go func() { defer wg.Done(); resetDailyStatsAtMidnight(ctx, engine) }()

	<-ctx.Done()
	log.Printf("[info] shutting down")
	wg.Wait()
	trail.Record(audit.Event{Kind: audit.KindShutdown, Wallet: cfg.ProxyWallet})
}

// buildPlacer wires the live trader when trading is enabled and a key is
// present, otherwise a dry-run placer. The CLOB client is built either way
// since the executor needs order-book prices.
func buildPlacer(ctx context.Context, cfg config.Config, proxyAddr common.Address, dataClient *dataapi.Client) (*clob.Client, executor.OrderPlacer) {
	pk, haveKey := privateKeyFromEnv()
	if !haveKey {
		// Book reads are unauthenticated, an ephemeral key satisfies the
		// client constructor without granting it anything.
		ephemeral, err := crypto.GenerateKey()
		if err != nil {
			log.Fatalf("[fatal] generate ephemeral key: %v", err)
		}
		pk = ephemeral
	}

	clobClient, err := clob.NewClient(cfg.ClobURL, cfg.ChainID, pk, proxyAddr, cfg.SignatureType)
	if err != nil {
		log.Fatalf("[fatal] %v", err)
	}

	if !cfg.TradingEnabled || !haveKey {
		if cfg.TradingEnabled {
			log.Printf("[warn] trading enabled but PRIVATE_KEY missing, falling back to dry-run")
		} else {
			log.Printf("[info] trading disabled, orders will be logged only")
		}
		return clobClient, executor.DryRunPlacer{}
	}

	creds, err := clobClient.CreateOrDeriveApiKey(ctx, 0)
	if err != nil {
		log.Fatalf("[fatal] clob api key: %v", err)
	}
	clobClient.SetApiCreds(creds)

	positions := executor.DataAPIPositions{Client: dataClient}
	return clobClient, executor.NewTrader(clobClient, positions, cfg.ProxyWallet, clob.OrderTypeFAK)
}

func privateKeyFromEnv() (*ecdsa.PrivateKey, bool) {
	raw := strings.TrimSpace(os.Getenv("CLOB_PRIVATE_KEY"))
	if raw == "" {
		raw = strings.TrimSpace(os.Getenv("PRIVATE_KEY"))
	}
	if raw == "" {
		return nil, false
	}
	pk, err := crypto.HexToECDSA(strings.TrimPrefix(raw, "0x"))
	if err != nil {
		log.Fatalf("[fatal] invalid PRIVATE_KEY: %v", err)
	}
	return pk, true
}

func runStream(ctx context.Context, cfg config.Config, poller *monitor.Poller) {
	subs := []rtds.Subscription{rtds.TradesSubscription(cfg.TargetWallet)}
	msgs, errs := rtds.Start(ctx, cfg.RTDSURL, subs, rtds.Options{})
	for {
		select {
		case <-ctx.Done():
			return
		case err, ok := <-errs:
			if !ok {
				return
			}
			log.Printf("[warn] rtds: %v", err)
		case m, ok := <-msgs:
			if !ok {
				return
			}
			a, isTrade, err := rtds.DecodeTrade(m)
			if err != nil {
				log.Printf("[warn] rtds: %v", err)
				continue
			}
			if !isTrade {
				continue
			}
			if _, err := poller.Ingest(a); err != nil {
				log.Printf("[warn] rtds ingest: %v", err)
			}
		}
	}
}

// resetDailyStatsAtMidnight zeroes the engine's daily PnL at each local
// midnight, matching the daily loss limit's accounting window.
func resetDailyStatsAtMidnight(ctx context.Context, engine *risk.Engine) {
	for {
		now := time.Now()
		next := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location()).Add(24 * time.Hour)
		t := time.NewTimer(next.Sub(now))
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.C:
			engine.ResetDailyStats()
			log.Printf("[info] daily stats reset")
		}
	}
}
