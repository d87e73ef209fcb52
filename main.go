package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"speech-relay-backend/config"
)

const version = "1.0.0"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:          "speech-relay",
		Short:        "HTTP relay for Azure text-to-speech",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(configPath)
		},
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", os.Getenv("SPEECH_RELAY_CONFIG"), "path to the YAML config file")

	root.AddCommand(newTokenCmd(&configPath), newVersionCmd())
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the relay version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "speech-relay", version)
		},
	}
}

func newTokenCmd(configPath *string) *cobra.Command {
	var purge bool

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Resolve a bearer token through the cache and print it",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			if !cfg.HasCredentials() {
				return config.ErrMissingCredentials
			}

			cache, closeStore := newTokenCache(cfg, nil)
			defer closeStore()

			if purge {
				n, err := cache.Expire()
				if err != nil {
					return fmt.Errorf("purge expired tokens: %w", err)
				}
				fmt.Fprintf(cmd.ErrOrStderr(), "purged %d expired token(s)\n", n)
			}

			token, err := cache.GetAccessToken(cmd.Context(), cfg.SubscriptionKey, cfg.Region)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().BoolVar(&purge, "purge", false, "drop expired tokens from the store first")
	return cmd
}

func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Log.Apply(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func serve(configPath string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	a, err := buildApp(cfg)
	if err != nil {
		return err
	}
	defer a.close()

	if configPath != "" {
		w, err := config.NewWatcher(configPath)
		if err != nil {
			return fmt.Errorf("config watcher: %w", err)
		}
		w.OnChange(a.applyConfig)
		if err := w.Start(); err != nil {
			return fmt.Errorf("config watcher: %w", err)
		}
		defer w.Stop()
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           a.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	logrus.WithFields(logrus.Fields{
		"port":    cfg.Port,
		"region":  cfg.Region,
		"origins": cfg.AllowedOrigins,
		"store":   cfg.TokenStore,
	}).Infoln("speech relay starting")
	logrus.Infof("API: http://localhost:%s/api/tts", cfg.Port)
	if a.hub != nil {
		logrus.Infof("Monitor: ws://localhost:%s/ws (token in %s)", cfg.Port, cfg.Monitor.TokenFile)
	}

	// Graceful shutdown on SIGINT/SIGTERM
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-quit
		logrus.Infoln("shutting down...")
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			logrus.WithError(err).Errorln("HTTP server shutdown error")
		}
	}()

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}
