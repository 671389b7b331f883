package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/cloudwego/hertz/pkg/app/server"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"ticker-panel/internal/api"
	"ticker-panel/internal/config"
	"ticker-panel/internal/insight"
	"ticker-panel/internal/logger"
	"ticker-panel/internal/market"
	"ticker-panel/internal/metrics"
	"ticker-panel/internal/scheduler"
	"ticker-panel/internal/store"
	"ticker-panel/internal/stream"
	"ticker-panel/internal/watchlist"
)

func main() {
	_ = godotenv.Load(".env")

	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "configs/app.yaml"
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatal().Err(err).Msg("config error")
	}
	logger.Init("ticker-panel", cfg.Log.Level)

	coins, err := market.LoadCoinTable()
	if err != nil {
		log.Fatal().Err(err).Msg("coin table error")
	}
	timeout := time.Duration(cfg.Market.TimeoutMs) * time.Millisecond
	binance := market.NewBinanceProvider(cfg.Market.BinanceBaseURL, cfg.Market.QuoteAsset, timeout)
	gecko := market.NewCoinGeckoProvider(cfg.Market.CoinGeckoBaseURL, cfg.Market.CoinGeckoAPIKey, coins, timeout)
	var prices market.PriceProvider = binance
	if cfg.Market.CoinGeckoPriceFallback {
		prices = market.NewMultiProvider(binance, gecko)
	}
	gw := market.NewGateway(prices, binance, gecko)

	var (
		rec     watchlist.Recorder
		journal api.Journal
	)
	if cfg.Store.Sqlite.Path != "" {
		st, err := store.Open(cfg.Store.Sqlite.Path)
		if err != nil {
			log.Fatal().Err(err).Msg("store error")
		}
		defer func() {
			if err := st.Close(); err != nil {
				log.Error().Err(err).Msg("store close error")
			}
		}()
		rec, journal = st, st
		log.Info().Str("path", cfg.Store.Sqlite.Path).Msg("journal enabled")
	}

	wl := watchlist.NewManager(gw, watchlist.Options{
		WindowDays:      cfg.Market.WindowDays,
		Recorder:        rec,
		HistoryOnChange: true,
	})
	hub := stream.NewHub(wl)
	wl.Subscribe(hub.Publish)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	wl.Seed(ctx, cfg.Watchlist.Symbols)

	sched := scheduler.New(ctx, wl)
	if err := sched.Register(cfg.Watchlist.RefreshSpec, cfg.Watchlist.HistorySpec); err != nil {
		log.Fatal().Err(err).Msg("scheduler error")
	}

	agent := insight.New(insight.Config{
		Enabled:    cfg.Insight.Enabled,
		Model:      cfg.Insight.Model,
		APIKey:     cfg.Insight.APIKey,
		BaseURL:    cfg.Insight.BaseURL,
		ByAzure:    cfg.Insight.ByAzure,
		APIVersion: cfg.Insight.APIVersion,
		TimeoutMs:  cfg.Insight.TimeoutMs,
	})

	var streamSrv *http.Server
	if cfg.Server.StreamPort > 0 {
		mux := http.NewServeMux()
		mux.HandleFunc("/ws", hub.ServeWS)
		mux.Handle("/metrics", metrics.Handler())
		streamSrv = &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Server.StreamPort),
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			log.Info().Str("addr", streamSrv.Addr).Msg("stream listener starting")
			if err := streamSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error().Err(err).Msg("stream listener error")
			}
		}()
	}

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	h := server.Default(server.WithHostPorts(addr))
	api.RegisterRoutes(h, wl, journal, agent)

	sched.Start()
	log.Info().Str("addr", addr).Str("refresh", cfg.Watchlist.RefreshSpec).Int("seeded", len(wl.Snapshot().Assets)).Msg("server starting")
	h.Spin()

	cancel()
	sched.Stop()
	if streamSrv != nil {
		shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
		if err := streamSrv.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("stream shutdown")
		}
		done()
	}
	wl.Wait()
	log.Info().Msg("server stopped")
}
