package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	orchestration "github.com/koscakluka/ema-group/core"
	"github.com/koscakluka/ema-group/core/config"
	"github.com/koscakluka/ema-group/core/memory"
	"github.com/koscakluka/ema-group/core/providers"
	"github.com/koscakluka/ema-group/core/texttospeech"
	"github.com/koscakluka/ema-group/core/texttospeech/deepgram"
	"github.com/koscakluka/ema-group/core/transport/ws"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the group conversation server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(viper.New(), *configPath)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			fmt.Fprintf(cmd.OutOrStdout(), "listening on %s%s\n", cfg.Server.ListenAddr, cfg.Server.WSPath)
			return serve(ctx, cfg)
		},
	}
}

func serve(ctx context.Context, cfg *config.Config) error {
	llm, err := providers.Resolve(cfg.Agent.LLMProvider, cfg.ProviderSettings())
	if err != nil {
		return err
	}
	renderer, err := newRenderer(cfg.TTS)
	if err != nil {
		return err
	}

	db, err := memory.OpenBadger(memory.BadgerOptions{Dir: cfg.Storage.Dir, InMemory: cfg.Storage.InMemory})
	if err != nil {
		return err
	}
	defer db.Close()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	orchestrator := orchestration.NewOrchestrator(
		orchestration.WithLLM(llm),
		orchestration.WithRenderer(renderer),
		orchestration.WithHistoryStore(db.Store("history")),
		orchestration.WithMemoryStore(db.Store("memory")),
		orchestration.WithTurnTimeout(cfg.Agent.TurnTimeout),
		orchestration.WithHistoryLimit(cfg.Agent.HistoryLimit),
		orchestration.WithCharacter(cfg.Agent.CharacterName, cfg.Agent.Avatar, cfg.Agent.SystemPrompt),
		orchestration.WithSessionTags(cfg.Agent.SessionTags...),
		orchestration.WithEmotionKeywords(cfg.Agent.EmotionKeywords...),
		orchestration.WithMetricsRegisterer(registry),
	)
	defer orchestrator.Close()

	server := ws.NewServer(orchestrator, ws.Config{
		SendQueueSize:  cfg.Server.SendQueueSize,
		ReadLimitBytes: cfg.Server.ReadLimitBytes,
		RatePerSecond:  cfg.Server.RateLimit.PerSecond,
		RateBurst:      cfg.Server.RateLimit.Burst,
	})

	metricsHandler := promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry})
	mux := http.NewServeMux()
	mux.Handle(cfg.Server.WSPath, server.Handler())

	servers := []*http.Server{{Addr: cfg.Server.ListenAddr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}}
	if cfg.Server.MetricsAddr == "" || cfg.Server.MetricsAddr == cfg.Server.ListenAddr {
		mux.Handle(cfg.Server.MetricsPath, metricsHandler)
	} else {
		metricsMux := http.NewServeMux()
		metricsMux.Handle(cfg.Server.MetricsPath, metricsHandler)
		servers = append(servers, &http.Server{Addr: cfg.Server.MetricsAddr, Handler: metricsMux, ReadHeaderTimeout: 10 * time.Second})
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, srv := range servers {
		g.Go(func() error {
			logger.InfoContext(gctx, "http server listening", "addr", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("http server on %s: %w", srv.Addr, err)
			}
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), shutdownTimeout)
		defer cancel()

		var errs []error
		for _, srv := range servers {
			errs = append(errs, srv.Shutdown(shutdownCtx))
		}
		orchestrator.Close()
		errs = append(errs, server.Shutdown(shutdownCtx))
		logger.InfoContext(shutdownCtx, "server stopped")
		return errors.Join(errs...)
	})

	return g.Wait()
}

func newRenderer(cfg config.TTSConfig) (texttospeech.Renderer, error) {
	switch cfg.Provider {
	case config.TTSProviderDeepgram:
		renderer, err := deepgram.NewRenderer(deepgram.Config{
			APIKey:     cfg.Deepgram.APIKey,
			Voice:      deepgram.Voice(cfg.Deepgram.Voice),
			SampleRate: cfg.Deepgram.SampleRate,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to set up deepgram: %w", err)
		}
		return renderer, nil
	default:
		return texttospeech.Silent{}, nil
	}
}
