package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/CloudNativeWorks/isul-sdk/isul/token"
	"github.com/CloudNativeWorks/isul-sdk/licenseserver"
)

const shutdownTimeout = 10 * time.Second

var serveFlags = []string{
	"addr", "catalog", "private-key", "token-ttl", "stale-after", "prune-interval",
	"admin-token", "issuer", "registry", "database-url", "mongo-uri", "mongo-database",
}

func serveCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the license service",
		Long:  `isul serve --catalog=licenses.yaml --private-key=<base64 seed> [--registry=memory|postgres|mongo]`,
		PreRunE: func(cmd *cobra.Command, _ []string) error {
			return bindFlags(v, cmd, "server.", serveFlags...)
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), newLogger(cmd, slog.LevelInfo), serverConfig(v))
		},
	}

	f := cmd.Flags()
	f.String("addr", ":8080", "listen address")
	f.String("catalog", "licenses.yaml", "license catalogue file")
	f.String("private-key", "", "base64 Ed25519 signing key (see isul keygen)")
	f.Duration("token-ttl", 30*24*time.Hour, "activation token lifetime")
	f.Duration("stale-after", 0, "prune activations not seen for this long (0 disables)")
	f.Duration("prune-interval", time.Hour, "how often stale activations are pruned")
	f.String("admin-token", "", "bearer token for the admin API (empty disables it)")
	f.String("issuer", "isul-licenseserver", "token issuer")
	f.String("registry", "memory", "activation registry: memory, postgres or mongo")
	f.String("database-url", "", "PostgreSQL connection URL")
	f.String("mongo-uri", "", "MongoDB connection URI")
	f.String("mongo-database", "isul", "MongoDB database name")
	return cmd
}

func serverConfig(v *viper.Viper) licenseserver.Config {
	return licenseserver.Config{
		Addr:          v.GetString("server.addr"),
		CatalogPath:   v.GetString("server.catalog"),
		PrivateKey:    v.GetString("server.private_key"),
		TokenTTL:      v.GetDuration("server.token_ttl"),
		StaleAfter:    v.GetDuration("server.stale_after"),
		PruneInterval: v.GetDuration("server.prune_interval"),
		AdminToken:    v.GetString("server.admin_token"),
		Issuer:        v.GetString("server.issuer"),
		Registry:      v.GetString("server.registry"),
		DatabaseURL:   v.GetString("server.database_url"),
		MongoURI:      v.GetString("server.mongo_uri"),
		MongoDatabase: v.GetString("server.mongo_database"),
	}
}

func runServe(ctx context.Context, logger *slog.Logger, cfg licenseserver.Config) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv, err := licenseserver.Open(ctx, cfg, logger)
	if err != nil {
		return err
	}

	httpSrv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("License service listening",
			"addr", cfg.Addr,
			"registry", cfg.Registry,
			"public_key", token.EncodePublicKey(srv.PublicKey()),
		)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	})
	if cfg.StaleAfter > 0 && cfg.PruneInterval > 0 {
		g.Go(func() error {
			ticker := time.NewTicker(cfg.PruneInterval)
			defer ticker.Stop()
			for {
				select {
				case <-gctx.Done():
					return nil
				case <-ticker.C:
					if _, err := srv.PruneStale(gctx, cfg.StaleAfter); err != nil {
						logger.Warn("Failed to prune stale activations", "error", err)
					}
				}
			}
		})
	}

	err = g.Wait()
	closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return errors.Join(err, srv.Close(closeCtx))
}
