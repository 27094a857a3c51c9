// Command fleettrackr-api is the reference implementation of the FleetTrackR
// insurance REST API.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"fleettrackr/auth"
	"fleettrackr/config"
	"fleettrackr/db"
	"fleettrackr/insurance"
	"fleettrackr/logging"
	"fleettrackr/renewal"
)

const shutdownTimeout = 10 * time.Second

type options struct {
	configPath string
	logLevel   string
	addr       string
	migrate    bool
	seed       bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var opts options
	cmd := &cobra.Command{
		Use:          "fleettrackr-api",
		Short:        "Serve the FleetTrackR insurance renewal API",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, opts)
		},
	}
	cmd.Flags().StringVar(&opts.configPath, "config", "", "config file (default ~/.fleettrackr/config.yaml)")
	cmd.Flags().StringVar(&opts.logLevel, "log-level", "", "override log level (debug, info, warn, error)")
	cmd.Flags().StringVar(&opts.addr, "addr", "", "listen address (overrides server.addr)")
	cmd.Flags().BoolVar(&opts.migrate, "migrate", true, "apply the schema on start when using postgres")
	cmd.Flags().BoolVar(&opts.seed, "seed", false, "create demo users and a vehicle in the in-memory store")
	return cmd
}

func run(ctx context.Context, opts options) error {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return err
	}
	if err := cfg.ValidateServer(); err != nil {
		return err
	}
	if err := logging.Configure(cfg.Log, logging.Options{Level: opts.logLevel, Service: "fleettrackr-api"}); err != nil {
		return err
	}
	if opts.addr != "" {
		cfg.Server.Addr = opts.addr
	}
	logger := slog.Default()

	var (
		users auth.Repository
		repo  insurance.Repository
	)
	if cfg.Server.DatabaseURL != "" {
		pool, err := db.NewPool(ctx, cfg.Server.DatabaseURL)
		if err != nil {
			return fmt.Errorf("bootstrap database pool: %w", err)
		}
		defer pool.Close()
		if opts.migrate {
			if err := db.Migrate(ctx, pool); err != nil {
				return err
			}
		}
		users = auth.NewRepository(pool)
		repo = insurance.NewRepository(pool)
		logger.Info("using postgres storage")
	} else {
		users = auth.NewMemoryRepository()
		repo = insurance.NewMemoryRepository()
		logger.Warn("server.database_url not set; using in-memory storage")
	}

	authService := auth.NewService(users, cfg.Server.JWTSecret)
	renewalService := insurance.NewService(repo, users).
		WithExpiringWindow(time.Duration(cfg.Server.ExpiringWindowDays) * 24 * time.Hour)

	if opts.seed {
		if err := seedDemo(ctx, authService, renewalService, logger); err != nil {
			return fmt.Errorf("seed demo data: %w", err)
		}
	}

	server := &Server{
		authService:    authService,
		renewalService: renewalService,
		logger:         logger,
	}
	httpServer := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           server.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("api listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		logger.Info("api shutting down")
		return httpServer.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// seedDemo registers one user per role and an owner vehicle whose cover
// lapses in two weeks. Every account uses the password "fleettrackr".
func seedDemo(ctx context.Context, authService *auth.Service, renewals *insurance.Service, logger *slog.Logger) error {
	const password = "fleettrackr"
	accounts := []auth.RegisterRequest{
		{Email: "admin@fleettrackr.test", Name: "Ada Admin", Role: auth.RoleAdmin},
		{Email: "owner@fleettrackr.test", Name: "Olive Owner", Phone: "555-0100", Address: "1 Depot Lane", Role: auth.RoleOwner},
		{Email: "agent@fleettrackr.test", Name: "Arthur Agent", Company: "Acme Insurance", Role: auth.RoleAgent},
	}
	var ownerID string
	for _, acct := range accounts {
		acct.Password = password
		user, err := authService.Register(ctx, acct)
		if err != nil {
			return err
		}
		if user.Role == auth.RoleOwner {
			ownerID = user.ID
		}
		logger.Info("seeded user", "email", user.Email, "role", user.Role)
	}

	expiry := time.Now().UTC().Add(14 * 24 * time.Hour)
	v, err := renewals.AddVehicle(ctx, renewal.Actor{ID: ownerID, Role: auth.RoleOwner}, insurance.Vehicle{
		RegistrationNumber: "FT01DEMO",
		Make:               "Ford",
		Model:              "Transit",
		InsuranceProvider:  "Legacy Mutual",
		PolicyNumber:       "LM-0001",
		InsuranceExpiry:    &expiry,
	})
	if err != nil {
		return err
	}
	logger.Info("seeded vehicle", "id", v.ID, "registration", v.RegistrationNumber)
	return nil
}
