package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/tournevent/shiprate/internal/catalog"
	"github.com/tournevent/shiprate/internal/config"
	"github.com/tournevent/shiprate/internal/server"
	"github.com/tournevent/shiprate/internal/session"
	"github.com/tournevent/shiprate/internal/telemetry"
	"github.com/tournevent/shiprate/pkg/shipping"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"
)

var version = "0.0.1"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(),
		syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "shiprate",
	Short:   "Shipping rate quoting and caching service",
	Version: version,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	RunE:  runServe,
}

var quoteCmd = &cobra.Command{
	Use:   "quote <cart.yaml>...",
	Short: "Quote shipping options for one or more cart files",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runQuote,
}

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Maintain the postgres session cache",
}

var expireCmd = &cobra.Command{
	Use:   "expire",
	Short: "Delete session cache entries older than a given age",
	RunE:  runExpire,
}

var expireFlags struct {
	olderThan time.Duration
}

var quoteFlags struct {
	currency     string
	taxInclusive bool
	admin        bool
	errorsFirst  bool
	concurrency  int
}

func init() {
	quoteCmd.Flags().StringVar(&quoteFlags.currency, "currency", "", "display currency (defaults to the base currency)")
	quoteCmd.Flags().BoolVar(&quoteFlags.taxInclusive, "tax-inclusive", false, "include shipping tax in prices")
	quoteCmd.Flags().BoolVar(&quoteFlags.admin, "admin", false, "evaluate with admin visibility")
	quoteCmd.Flags().BoolVar(&quoteFlags.errorsFirst, "errors-first", false, "list options that failed to quote first")
	quoteCmd.Flags().IntVar(&quoteFlags.concurrency, "concurrency", 4, "carts evaluated at once")

	expireCmd.Flags().DurationVar(&expireFlags.olderThan, "older-than", 24*time.Hour, "minimum age of removed entries")
	sessionsCmd.AddCommand(expireCmd)

	rootCmd.AddCommand(serveCmd, quoteCmd, sessionsCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logger, err := initLogger(cfg)
	if err != nil {
		return err
	}
	defer logger.Sync()

	tracer, tracerShutdown, err := initTracer(ctx, cfg)
	if err != nil {
		logger.Warn("Failed to initialize tracer", zap.Error(err))
	} else {
		defer tracerShutdown(context.Background())
	}

	cat, err := catalog.Load(cfg.CatalogPath)
	if err != nil {
		return err
	}

	sessions, closeSessions, err := initSessionStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeSessions()

	metrics := telemetry.NewMetrics()
	engine, err := initEngine(cfg, engineDeps{
		catalog:  cat,
		sessions: sessions,
		observer: metrics,
		tracer:   tracer,
	}, logger)
	if err != nil {
		return err
	}

	logger.Info("Starting shipping rate service",
		zap.Int("port", cfg.Port),
		zap.String("catalog", cfg.CatalogPath),
		zap.String("base_currency", cfg.BaseCurrency),
		zap.Bool("cross_request_cache", cfg.CrossRequestCache),
		zap.Strings("provider_types", engine.Registry().Types()),
	)

	srv := server.New(server.Config{
		Port:         cfg.Port,
		TaxInclusive: cfg.TaxInclusiveDefault,
	}, engine, logger, metrics)
	if err := srv.Run(ctx); err != nil {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

type quoteResult struct {
	File    string                    `json:"file"`
	Cart    string                    `json:"cart"`
	Options []shipping.EligibleOption `json:"options,omitempty"`
	Error   string                    `json:"error,omitempty"`
}

func runQuote(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, err := initLogger(cfg)
	if err != nil {
		return err
	}
	defer logger.Sync()

	cat, err := catalog.Load(cfg.CatalogPath)
	if err != nil {
		return err
	}
	engine, err := initEngine(cfg, engineDeps{catalog: cat}, logger)
	if err != nil {
		return err
	}

	results := make([]quoteResult, len(args))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(quoteFlags.concurrency)
	for i, path := range args {
		g.Go(func() error {
			results[i] = quoteFile(ctx, engine, path)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(results)
}

// quoteFile evaluates one cart file in its own pass. Failures are reported in
// the result so the other carts still print.
func quoteFile(ctx context.Context, engine *shipping.Engine, path string) quoteResult {
	res := quoteResult{File: path}

	data, err := os.ReadFile(path)
	if err != nil {
		res.Error = err.Error()
		return res
	}
	var cart shipping.CartSnapshot
	if err := yaml.Unmarshal(data, &cart); err != nil {
		res.Error = fmt.Sprintf("parsing cart: %v", err)
		return res
	}
	if cart.Name == "" {
		cart.Name = path
	}
	res.Cart = cart.Name

	pass := engine.NewPass(shipping.PassOptions{
		Currency:     quoteFlags.currency,
		TaxInclusive: quoteFlags.taxInclusive,
		Admin:        quoteFlags.admin,
		Carts:        catalog.NewSnapshots([]shipping.CartSnapshot{cart}, nil),
	})
	options, err := pass.EligibleOptions(ctx, shipping.CartRef(cart.Name))
	if err != nil {
		res.Error = err.Error()
		return res
	}
	if quoteFlags.errorsFirst {
		shipping.SortErrorsFirst(options)
	}
	res.Options = options
	return res
}

func runExpire(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.SessionDriver != config.SessionPostgres {
		return fmt.Errorf("session expiry needs SESSION_DRIVER=%s", config.SessionPostgres)
	}
	logger, err := initLogger(cfg)
	if err != nil {
		return err
	}
	defer logger.Sync()

	pool, err := session.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer pool.Close()

	removed, err := session.NewPostgresStore(pool).Expire(ctx, time.Now().Add(-expireFlags.olderThan))
	if err != nil {
		return err
	}
	logger.Info("Expired session cache entries",
		zap.Int64("removed", removed),
		zap.Duration("older_than", expireFlags.olderThan),
	)
	return nil
}
