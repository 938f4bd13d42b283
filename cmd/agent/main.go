// Command agent is the quoting agent's entry point: load config, build
// the trading channel, book feed, and quoting engine, wire them
// together, and wait for a shutdown signal.
//
// Architecture:
//
//	internal/config    — YAML + env configuration, decimal->fixed-point scaling
//	internal/trading   — the binary trading-gate channel: establish, framed reader, outbound writer
//	internal/bookfeed  — the JSON/WebSocket market observer
//	internal/quoting   — the single-writer quoting engine
//	internal/statusapi — /healthz, /metrics, /status
//
// There are no command-line flags: the config path comes from
// DERIVQUOTER_CONFIG (default configs/config.yaml). main itself does the
// wiring and the start/shutdown sequence, mirroring the teacher's
// cmd/bot/main.go.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"derivquoter/internal/bookfeed"
	"derivquoter/internal/config"
	"derivquoter/internal/quoting"
	"derivquoter/internal/statusapi"
	"derivquoter/internal/trading"
	"derivquoter/pkg/price"
)

func main() {
	cfgPath := "configs/config.yaml"
	if p := os.Getenv("DERIVQUOTER_CONFIG"); p != "" {
		cfgPath = p
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("failed to load config", "error", err, "path", cfgPath)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.Logging.Level)}
	if cfg.Logging.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	logger := slog.New(handler)

	scaled := cfg.Scale()

	engineCfg := quoting.Config{
		Account:         cfg.Trading.Account,
		Instrument:      price.InstrumentID(cfg.Strategy.Instrument),
		StandardVolume:  price.Quantity(cfg.Strategy.StandardVolume),
		InitialPosition: cfg.Strategy.InitialPosition,
		MaxPosition:     cfg.Strategy.MaxPosition,
		Interest:        scaled.Interest,
		Shift:           scaled.Shift,
		Increment:       scaled.Increment,
		FloodLimit:      cfg.Trading.FloodLimit,
		FloodPeriod:     cfg.FloodPeriod(),
	}

	dialCtx, dialCancel := context.WithTimeout(context.Background(), 10*time.Second)
	addr := fmt.Sprintf("%s:%d", cfg.Trading.Host, cfg.Trading.Port)
	conn, err := (&net.Dialer{}).DialContext(dialCtx, "tcp", addr)
	dialCancel()
	if err != nil {
		logger.Error("failed to dial trading gate", "addr", addr, "error", err)
		os.Exit(1)
	}

	engine := quoting.New(engineCfg, nil, logger, func() int64 { return time.Now().UnixNano() }, os.Exit)
	channel := trading.NewChannel(conn, cfg.Trading.LoginID, cfg.Trading.FirstReqID, engine, logger)
	engine.SetChannel(channel)

	establishCtx, establishCancel := context.WithTimeout(context.Background(), 10*time.Second)
	err = channel.Establish(establishCtx, trading.DefaultRequestedHeartbeat)
	establishCancel()
	if err != nil {
		logger.Error("failed to establish trading session", "error", err)
		os.Exit(1)
	}

	runCtx, runCancel := context.WithCancel(context.Background())
	defer runCancel()

	reader := channel.NewReader()
	writer := channel.NewWriter()
	go reader.Run(runCtx)
	go writer.Run(runCtx)
	go engine.Run(runCtx)

	observer := bookfeed.New(price.InstrumentID(cfg.Strategy.Instrument), cfg.BookFeed.Depth, logger)
	observer.SetListener(engine.OnBookUpdate)
	go func() {
		if err := observer.Run(runCtx, cfg.BookFeed.WSURL); err != nil {
			logger.Error("book feed exited", "error", err)
		}
	}()

	var statusServer *statusapi.Server
	if cfg.StatusAPI.Enabled {
		metrics := statusapi.NewMetrics()
		engine.SetMetrics(metrics)
		statusServer = statusapi.NewServer(cfg.StatusAPI.Port, engine, metrics, logger)
		go func() {
			if err := statusServer.Start(); err != nil {
				logger.Error("status server failed", "error", err)
			}
		}()
	}

	logger.Info("quoting agent started",
		"instrument", cfg.Strategy.Instrument,
		"account", cfg.Trading.Account,
		"max_position", cfg.Strategy.MaxPosition,
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("received shutdown signal", "signal", sig.String())

	if statusServer != nil {
		if err := statusServer.Stop(); err != nil {
			logger.Error("failed to stop status server", "error", err)
		}
	}

	engine.Shutdown()
	runCancel()
	channel.Close()
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
