package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/bpolania/DeltaNEAR-sub000/internal/api"
	"github.com/bpolania/DeltaNEAR-sub000/internal/auction"
	"github.com/bpolania/DeltaNEAR-sub000/internal/catalog"
	"github.com/bpolania/DeltaNEAR-sub000/internal/config"
	"github.com/bpolania/DeltaNEAR-sub000/internal/events"
	"github.com/bpolania/DeltaNEAR-sub000/internal/gate"
	"github.com/bpolania/DeltaNEAR-sub000/internal/nonce"
	"github.com/bpolania/DeltaNEAR-sub000/internal/registry"
	"github.com/bpolania/DeltaNEAR-sub000/internal/settlement"
	"github.com/bpolania/DeltaNEAR-sub000/internal/signer"
	"github.com/bpolania/DeltaNEAR-sub000/internal/status"
	"github.com/bpolania/DeltaNEAR-sub000/internal/store"
)

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	ConfigPath string
	Addr       string // overrides server.http_addr
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the auction service",
		Long: `Run the HTTP API and the solver websocket gateway.

Configuration comes from built-in defaults, the optional TOML file given
with --config, a .env file and DELTANEAR_* environment variables, in
that order. The service stops cleanly on SIGINT or SIGTERM.

Examples:
  deltanear serve
  deltanear serve --config deltanear.toml --addr :9090`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadServeConfig(opts)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, cfg, newLogger(cfg.Log, opts.Verbose, cmd.ErrOrStderr()))
		},
	}

	cmd.Flags().StringVarP(&opts.ConfigPath, "config", "c", "", "TOML configuration file")
	cmd.Flags().StringVar(&opts.Addr, "addr", "", "HTTP listen address (overrides config)")

	return cmd
}

func loadServeConfig(opts *ServeOptions) (*config.Config, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load config", err)
	}
	if opts.Addr != "" {
		cfg.Server.HTTPAddr = opts.Addr
	}
	if err := cfg.Validate(); err != nil {
		return nil, WrapExitError(ExitCommandError, "invalid config", err)
	}
	return cfg, nil
}

// newLogger builds the process logger. Verbose forces debug level.
func newLogger(lc config.LogConfig, verbose bool, w io.Writer) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(lc.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	if verbose {
		level = slog.LevelDebug
	}

	hopts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(lc.Format, "json") {
		return slog.New(slog.NewJSONHandler(w, hopts))
	}
	return slog.New(slog.NewTextHandler(w, hopts))
}

// service is every long-lived component serve starts.
type service struct {
	archive    *store.Store
	ledger     nonce.Ledger
	redis      *redis.Client
	dispatcher *events.Dispatcher
	registry   *registry.Registry
	server     *api.Server
}

// buildService wires the components described by cfg. On error every
// resource opened so far is closed.
func buildService(cfg *config.Config, logger *slog.Logger) (_ *service, err error) {
	svc := &service{}
	defer func() {
		if err != nil {
			svc.close(logger)
		}
	}()

	sqlitePath := cfg.Store.SQLitePath
	if sqlitePath == "" {
		sqlitePath = ":memory:"
	}
	if svc.archive, err = store.Open(sqlitePath); err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}

	if cfg.Store.NoncePath != "" {
		ledger, err := nonce.OpenPebble(cfg.Store.NoncePath)
		if err != nil {
			return nil, fmt.Errorf("open nonce ledger: %w", err)
		}
		svc.ledger = ledger
	} else {
		svc.ledger = nonce.NewMemoryLedger()
	}

	var verifier signer.Verifier = signer.Opaque{}
	if cfg.Signer.Mode == config.SignerSecp256k1 {
		v, err := signer.NewSecp256k1(cfg.Signer.Keys)
		if err != nil {
			return nil, fmt.Errorf("signer: %w", err)
		}
		verifier = v
	}

	sinks := []events.Sink{events.LogSink{Logger: logger}}
	if cfg.Redis.Enabled {
		svc.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		sinks = append(sinks, events.NewRedisSink(svc.redis, cfg.Redis.Channel))
	}
	svc.dispatcher = events.NewDispatcher(logger, sinks...)

	svc.registry = registry.New(
		registry.WithLogger(logger),
		registry.WithShards(cfg.Registry.Shards),
		registry.WithSweepInterval(cfg.Registry.SweepInterval.Duration),
		registry.WithHeartbeatTimeout(cfg.Registry.HeartbeatTimeout.Duration),
	)

	g := gate.New(svc.ledger,
		gate.WithLogger(logger),
		gate.WithClockSkew(cfg.Gate.ClockSkew.Duration),
		gate.WithValidityWindow(cfg.Gate.ValidityWindow.Duration),
	)

	coordOpts := []auction.Option{
		auction.WithLogger(logger),
		auction.WithShards(cfg.Auction.Shards),
		auction.WithQuoteWindow(cfg.Auction.QuoteWindow.Duration),
		auction.WithExclusivityWindow(cfg.Auction.ExclusivityWindow.Duration),
		auction.WithRetention(cfg.Auction.Retention.Duration),
		auction.WithVerifier(verifier),
		auction.WithArchive(svc.archive),
		auction.WithSettlement(&settlement.Loopback{}),
		auction.WithPublisher(svc.dispatcher),
	}
	fees, err := cfg.Fees.Schedule()
	if err != nil {
		return nil, fmt.Errorf("fees: %w", err)
	}
	serverOpts := []api.Option{
		api.WithLogger(logger),
		api.WithCORSOrigins(cfg.Server.CORSOrigins),
	}
	if cfg.Catalog.Path != "" {
		cat, err := catalog.Load(cfg.Catalog.Path)
		if err != nil {
			return nil, err
		}
		coordOpts = append(coordOpts, auction.WithCatalog(cat))
		serverOpts = append(serverOpts, api.WithCatalogHash(cat.Hash()))
		if catFees, ok := cat.Fees(); ok {
			fees = catFees
		}
		logger.Info("venue catalog loaded", "path", cfg.Catalog.Path, "venues", len(cat.Venues()), "hash", cat.Hash())
	}
	coordOpts = append(coordOpts, auction.WithFees(fees))
	coord := auction.New(svc.registry, g, coordOpts...)

	svc.server = api.NewServer(coord, status.New(coord, svc.archive), svc.registry, serverOpts...)
	return svc, nil
}

func (s *service) close(logger *slog.Logger) {
	if s.redis != nil {
		if err := s.redis.Close(); err != nil {
			logger.Warn("close redis", "error", err)
		}
	}
	if s.ledger != nil {
		if err := s.ledger.Close(); err != nil {
			logger.Warn("close nonce ledger", "error", err)
		}
	}
	if s.archive != nil {
		if err := s.archive.Close(); err != nil {
			logger.Warn("close archive", "error", err)
		}
	}
}

func runServe(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	slog.SetDefault(logger)

	svc, err := buildService(cfg, logger)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to start", err)
	}
	defer svc.close(logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return svc.dispatcher.Run(gctx) })
	g.Go(func() error { return svc.registry.Run(gctx) })
	g.Go(func() error { return svc.server.Serve(gctx, cfg.Server.HTTPAddr) })

	err = g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		return WrapExitError(ExitFailure, "service stopped", err)
	}
	logger.Info("service stopped")
	return nil
}
