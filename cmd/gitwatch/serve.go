package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	githubadapter "github.com/ericfisherdev/gitwatch/internal/adapter/driven/github"
	"github.com/ericfisherdev/gitwatch/internal/adapter/driven/logsink"
	httphandler "github.com/ericfisherdev/gitwatch/internal/adapter/driving/http"
	"github.com/ericfisherdev/gitwatch/internal/application"
	"github.com/ericfisherdev/gitwatch/internal/config"
)

type configLoader func() (*config.Config, error)

func newServeCommand(load configLoader) *cobra.Command {
	var logPayloads bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the webhook receiver and the delivery gate",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			return serve(cfg, logPayloads)
		},
	}

	cmd.Flags().BoolVar(&logPayloads, "log-payloads", false, "Include raw event payloads in the event log")

	return cmd
}

func serve(cfg *config.Config, logPayloads bool) error {
	log.Info().
		Str("repo", cfg.GitHubRepo).
		Str("listen_addr", cfg.ListenAddr).
		Str("db_path", cfg.DBPath).
		Str("checkpoint_backend", cfg.CheckpointBackend).
		Dur("poll_interval", cfg.PollInterval).
		Msg("config loaded")

	// Setup signal-based context (SIGINT, SIGTERM).
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := openStores(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.close()

	if err := st.pool.Provision(ctx, cfg.GitHubTokens); err != nil {
		return err
	}

	httpClient := githubadapter.NewHTTPClient()

	// GitHub App auth is optional: it backs both the webhook probe and the
	// fallback credential.
	var appAuth *githubadapter.AppAuth
	if cfg.HasAppCredentials() {
		keyPEM, err := os.ReadFile(cfg.GitHubAppPrivateKeyPath)
		if err != nil {
			return fmt.Errorf("read app private key: %w", err)
		}
		appAuth, err = githubadapter.NewAppAuth(cfg.GitHubAppID, keyPEM, httpClient, cfg.GitHubAPIURL)
		if err != nil {
			return err
		}
		log.Info().Int64("app_id", cfg.GitHubAppID).Msg("github app authentication enabled")
	} else {
		log.Info().Msg("no github app configured, webhook delivery disabled")
	}

	gate := application.NewDeliveryGate(
		githubadapter.NewInstallationProbe(appAuth, cfg.GitHubRepo),
		application.GateConfig{
			PollInterval:           cfg.PollInterval,
			TemporaryPollingWindow: cfg.TemporaryPollingWindow,
			WebhookStaleAfter:      cfg.WebhookStaleAfter,
		},
	)

	execCfg := githubadapter.ExecutorConfig{
		HTTPClient:     httpClient,
		BaseURL:        cfg.GitHubAPIURL,
		MaxRetries:     cfg.MaxRetries,
		RetryBaseDelay: cfg.RetryBaseDelay,
		PreviewAccept:  cfg.PreviewAccept,
	}
	if appAuth != nil {
		execCfg.Fallback = appAuth
	}
	exec, err := githubadapter.NewExecutor(st.pool, gate, execCfg)
	if err != nil {
		return err
	}

	eventSync := application.NewEventSync(
		githubadapter.NewEventFetcher(exec),
		st.checkpoints,
		logsink.New(os.Stdout, logPayloads),
		cfg.GitHubRepo,
	)

	if err := gate.Init(ctx, eventSync.Sync); err != nil {
		return err
	}
	defer gate.Stop()

	apiHandler := httphandler.NewHandler(gate, st.pool, cfg.GitHubRepo, cfg.WebhookSecret)

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           httphandler.NewServeMux(apiHandler),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.ListenAddr).Msg("http server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	log.Info().
		Str("repo", cfg.GitHubRepo).
		Str("mode", string(gate.Mode())).
		Msg("gitwatch started")

	select {
	case <-ctx.Done():
		log.Info().Msg("shutting down")
	case err := <-serveErr:
		log.Error().Err(err).Msg("http server error")
		stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http server shutdown error")
	}
	apiHandler.Wait()

	log.Info().Msg("shutdown complete")
	return nil
}
