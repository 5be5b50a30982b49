package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/star/gnssacq/internal/api"
	"github.com/star/gnssacq/internal/assist"
	"github.com/star/gnssacq/internal/auth"
	"github.com/star/gnssacq/internal/channel"
	"github.com/star/gnssacq/internal/config"
	"github.com/star/gnssacq/internal/ephem"
	"github.com/star/gnssacq/internal/health"
	"github.com/star/gnssacq/internal/metrics"
	"github.com/star/gnssacq/internal/receiver"
	"github.com/star/gnssacq/internal/source"
	"github.com/star/gnssacq/internal/stream"
	"github.com/star/gnssacq/internal/synth"
)

// defaultProperties drives four GPS channels against the synthetic source
// when no configuration file is given.
const defaultProperties = `
GNSS-SDR.internal_fs_sps=4000000
Acquisition.doppler_max=5000
Acquisition.doppler_step=250
Acquisition.pfa=0.01
Acquisition.max_dwells=2
Channel0.prn=7
Channel1.prn=12
Channel2.prn=1,3,5
Channel3.prn=30
`

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))

	addr := os.Getenv("GNSSACQ_HTTP_ADDR")
	if addr == "" {
		addr = ":8080"
	}

	authCfg, err := loadAuthConfig(logger)
	if err != nil {
		logger.Error("invalid auth configuration", "error", err)
		os.Exit(1)
	}

	props, err := loadProperties(logger)
	if err != nil {
		logger.Error("invalid receiver configuration", "error", err)
		os.Exit(1)
	}
	specs, err := receiver.ChannelsFromProperties(props)
	if err != nil {
		logger.Error("invalid channel configuration", "error", err)
		os.Exit(1)
	}
	if len(specs) == 0 {
		logger.Error("configuration defines no channels")
		os.Exit(1)
	}

	sources, err := loadSourceFactory(logger, specs)
	if err != nil {
		logger.Error("invalid sample source", "error", err)
		os.Exit(1)
	}

	streamCfg := loadStreamConfig(logger)
	hub := stream.NewHub(streamCfg.Buffer, logger)

	hints := assist.NewStore()
	bankOpts := loadBankOptions(logger)
	bankOpts.Events = hub
	bank, err := receiver.NewBank(specs, hints, sources, receiver.NewRecordSink(logger), bankOpts, logger)
	if err != nil {
		logger.Error("building receiver bank", "error", err)
		os.Exit(1)
	}

	ready := []health.Check{func() error {
		if !bank.Running() {
			return errors.New("receiver bank not running")
		}
		return nil
	}}

	assistCfg, assistEnabled := loadAssistConfig(logger)
	var provider *ephem.Provider
	if assistEnabled {
		provider = ephem.NewProvider(assistCfg, hints, logger)
		ready = append(ready, func() error {
			if !provider.Ready() {
				return ephem.ErrNoElements
			}
			return nil
		})
	}

	srv := api.NewServer(addr, logger, bank, api.Options{
		Auth:       authCfg,
		TrustProxy: streamCfg.TrustProxy,
		Hints:      hints,
		Ready:      ready,
		Stream:     stream.NewHandler(hub, bank, streamCfg, logger),
	})

	// Graceful shutdown on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if provider != nil {
		go provider.Start(ctx)
	}

	// Background goroutine to publish the assistance map size.
	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				metrics.SetAssistEntries(hints.Len())
			case <-ctx.Done():
				return
			}
		}
	}()

	bankDone := make(chan error, 1)
	go func() {
		bankDone <- bank.Run(ctx)
	}()

	go func() {
		logger.Info("starting server", "addr", addr, "auth_enabled", authCfg.Enabled, "assist_enabled", assistEnabled, "channels", len(specs))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server listen error", "error", err)
			os.Exit(1)
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-bankDone:
		if err != nil {
			logger.Error("receiver bank failed", "error", err)
		} else {
			logger.Info("receiver bank finished; serving status until shutdown")
		}
		<-ctx.Done()
	}
	logger.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.HTTPServer().Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
		os.Exit(1)
	}

	logger.Info("server stopped")
}

func loadAuthConfig(logger *slog.Logger) (auth.Config, error) {
	cfg := auth.Config{}

	enabledStr := os.Getenv("GNSSACQ_AUTH_ENABLED")
	if enabledStr != "" {
		enabled, err := strconv.ParseBool(enabledStr)
		if err != nil {
			return cfg, errors.New("GNSSACQ_AUTH_ENABLED must be a boolean value (true/false/1/0)")
		}
		cfg.Enabled = enabled
	}

	if cfg.Enabled {
		cfg.Token = os.Getenv("GNSSACQ_AUTH_TOKEN")
		if cfg.Token == "" {
			return cfg, errors.New("GNSSACQ_AUTH_TOKEN is required when auth is enabled")
		}
		logger.Info("auth enabled")
	}

	return cfg, nil
}

func loadProperties(logger *slog.Logger) (config.Properties, error) {
	path := os.Getenv("GNSSACQ_CONFIG")
	if path == "" {
		logger.Info("GNSSACQ_CONFIG not set, using built-in channel table")
		return config.Parse(strings.NewReader(defaultProperties))
	}
	props, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	logger.Info("receiver config", "path", path, "keys", len(props))
	return props, nil
}

func loadBool(logger *slog.Logger, key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		logger.Warn("invalid "+key+" value, using default", "value", v, "default", def)
		return def
	}
	return b
}

func loadStreamConfig(logger *slog.Logger) stream.Config {
	cfg := stream.Config{
		MaxConcurrentPerIP: 10,
		MaxConcurrent:      256,
		KeepaliveInterval:  30 * time.Second,
		Buffer:             64,
		TrustProxy:         loadBool(logger, "GNSSACQ_TRUST_PROXY", false),
	}

	if v := os.Getenv("GNSSACQ_STREAM_MAX_CONCURRENT"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			logger.Warn("invalid GNSSACQ_STREAM_MAX_CONCURRENT value, using default", "value", v, "default", 10)
		} else {
			cfg.MaxConcurrentPerIP = n
		}
	}

	if v := os.Getenv("GNSSACQ_STREAM_KEEPALIVE_INTERVAL"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			logger.Warn("invalid GNSSACQ_STREAM_KEEPALIVE_INTERVAL value, using default", "value", v, "default", 30)
		} else {
			cfg.KeepaliveInterval = time.Duration(n) * time.Second
		}
	}

	logger.Info("stream config",
		"max_concurrent_per_ip", cfg.MaxConcurrentPerIP,
		"keepalive_interval_seconds", cfg.KeepaliveInterval.Seconds(),
		"trust_proxy", cfg.TrustProxy,
	)
	return cfg
}

func loadBankOptions(logger *slog.Logger) receiver.Options {
	opts := receiver.Options{
		RetryDelay:     0,
		ReacquireAfter: 30 * time.Second,
		StopTimeout:    5 * time.Second,
	}

	if v := os.Getenv("GNSSACQ_REACQUIRE_INTERVAL"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			logger.Warn("invalid GNSSACQ_REACQUIRE_INTERVAL value, using default", "value", v, "default", 30)
		} else {
			opts.ReacquireAfter = time.Duration(n) * time.Second
		}
	}

	if v := os.Getenv("GNSSACQ_RETRY_DELAY_MS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			logger.Warn("invalid GNSSACQ_RETRY_DELAY_MS value, using default", "value", v, "default", 0)
		} else {
			opts.RetryDelay = time.Duration(n) * time.Millisecond
		}
	}

	logger.Info("bank config",
		"reacquire_seconds", opts.ReacquireAfter.Seconds(),
		"retry_delay_ms", opts.RetryDelay.Milliseconds(),
	)
	return opts
}

// loadSourceFactory opens the sample file for every channel when
// GNSSACQ_SAMPLES_FILE is set, and otherwise feeds every channel the same
// seeded synthetic antenna stream carrying the first candidate of each
// channel.
func loadSourceFactory(logger *slog.Logger, specs []receiver.ChannelSpec) (receiver.SourceFactory, error) {
	if path := os.Getenv("GNSSACQ_SAMPLES_FILE"); path != "" {
		format := source.Format(os.Getenv("GNSSACQ_SAMPLES_FORMAT"))
		if format == "" {
			format = source.GrComplex
		}
		loop := loadBool(logger, "GNSSACQ_SAMPLES_LOOP", true)
		// Fail early on a missing file or unknown format.
		probe, err := source.NewFileSource(path, format, loop)
		if err != nil {
			return nil, err
		}
		probe.Close()
		logger.Info("sample source", "kind", "file", "path", path, "format", format, "loop", loop)
		return func(int) (channel.BlockSource, error) {
			return source.NewFileSource(path, format, loop)
		}, nil
	}

	cfg := synth.Config{
		SampleRate: specs[0].Config.SampleRate,
		Noise:      true,
		Seed:       1,
	}
	if v := os.Getenv("GNSSACQ_SYNTH_SEED"); v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			logger.Warn("invalid GNSSACQ_SYNTH_SEED value, using default", "value", v, "default", 1)
		} else {
			cfg.Seed = n
		}
	}
	for i, spec := range specs {
		if spec.Config.SampleRate != cfg.SampleRate {
			return nil, fmt.Errorf("channel %d sample rate %g differs from %g", spec.ID, spec.Config.SampleRate, cfg.SampleRate)
		}
		cfg.Satellites = append(cfg.Satellites, synth.Satellite{
			ID:         spec.Candidates[0],
			DopplerHz:  float64((i%5)-2) * 1000,
			DelayChips: float64(97 * (i + 1)),
			CN0dBHz:    47,
		})
	}
	if _, err := synth.New(cfg); err != nil {
		return nil, err
	}
	logger.Info("sample source", "kind", "synthetic", "satellites", len(cfg.Satellites), "seed", cfg.Seed)
	return func(int) (channel.BlockSource, error) {
		g, err := synth.New(cfg)
		if err != nil {
			return nil, err
		}
		return source.NewSynthSource(g), nil
	}, nil
}

func loadAssistConfig(logger *slog.Logger) (ephem.Config, bool) {
	cfg := ephem.Config{
		CacheDir: "/tmp/gnssacq/elements",
		Interval: 5 * time.Minute,
		Observer: ephem.NewObserver(0, 0, 0),
		Hints: ephem.HintOptions{
			ElevationMaskDeg: 5,
			UncertaintyHz:    500,
			Workers:          runtime.NumCPU(),
		},
	}

	enabled := loadBool(logger, "GNSSACQ_ASSIST_ENABLED", false)

	if v := os.Getenv("GNSSACQ_ASSIST_URL"); v != "" {
		cfg.SourceURL = v
	}

	if v := os.Getenv("GNSSACQ_ASSIST_EXTRA_URLS"); v != "" {
		for _, u := range strings.Split(v, ",") {
			if u = strings.TrimSpace(u); u != "" {
				cfg.ExtraURLs = append(cfg.ExtraURLs, u)
			}
		}
	}

	if v, ok := os.LookupEnv("GNSSACQ_ASSIST_CACHE_DIR"); ok {
		cfg.CacheDir = v
	}

	if v := os.Getenv("GNSSACQ_ASSIST_INTERVAL"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			logger.Warn("invalid GNSSACQ_ASSIST_INTERVAL value, using default", "value", v, "default", 300)
		} else {
			cfg.Interval = time.Duration(n) * time.Second
		}
	}

	if v := os.Getenv("GNSSACQ_OBSERVER"); v != "" {
		obs, err := ephem.ParseObserver(v)
		if err != nil {
			logger.Warn("invalid GNSSACQ_OBSERVER value, using 0,0,0", "value", v, "error", err)
		} else {
			cfg.Observer = obs
		}
	}

	if enabled {
		logger.Info("assist config",
			"source_url", cfg.SourceURL,
			"extra_urls", cfg.ExtraURLs,
			"cache_dir", cfg.CacheDir,
			"interval_seconds", cfg.Interval.Seconds(),
		)
	}
	return cfg, enabled
}
