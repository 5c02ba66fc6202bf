package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mdwit/spec2call/internal/auth"
	"github.com/mdwit/spec2call/internal/config"
	"github.com/mdwit/spec2call/internal/invoke"
	"github.com/mdwit/spec2call/internal/logging"
	"github.com/mdwit/spec2call/internal/metrics"
	"github.com/mdwit/spec2call/internal/netguard"
	"github.com/mdwit/spec2call/internal/registry"
	"github.com/mdwit/spec2call/internal/secrets"
)

var version = "dev"

// app общее состояние команд; service собирается лениво, keygen он не нужен
type app struct {
	cfgFile      string
	owner        string
	logLevel     string
	metricsFile  string
	allowPrivate bool

	cfg     *config.Config
	logger  *zap.Logger
	metrics *metrics.Collector
	fetcher *registry.Fetcher
	service *registry.Service
	vault   *secrets.RedisVault
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a := &app{}
	if err := newRootCmd(a).ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCmd(a *app) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "spec2call",
		Short: "Register API descriptions and call their operations",
		Long: `spec2call ingests OpenAPI 3, Swagger 2, GraphQL (SDL or live introspection) and Postman
collections into one canonical model, stores credentials encrypted per tenant and
invokes any registered operation with the configured authentication.`,
		Version:           version,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.setup,
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return a.close()
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&a.cfgFile, "config", "c", "", "config file (spec2call.yaml or .json)")
	flags.StringVar(&a.owner, "owner", "", "tenant that owns registrations")
	flags.StringVar(&a.logLevel, "log-level", "", "log level (debug, info, warn, error)")
	flags.StringVar(&a.metricsFile, "metrics-file", "", "write Prometheus metrics to this file after the command")
	flags.BoolVar(&a.allowPrivate, "allow-private-networks", false, "allow loopback and private addresses (development only)")

	rootCmd.AddCommand(
		newIngestCmd(a),
		newDiscoverCmd(a),
		newRefreshCmd(a),
		newListCmd(a),
		newDescribeCmd(a),
		newCallCmd(a),
		newAuthCmd(a),
		newEndpointCmd(a),
		newDeleteCmd(a),
		newKeygenCmd(),
	)
	return rootCmd
}

func (a *app) setup(cmd *cobra.Command, _ []string) error {
	// CLI флаги переопределяют конфиг
	overrides := map[string]any{}
	if cmd.Flags().Changed("owner") {
		overrides["owner"] = a.owner
	}
	if cmd.Flags().Changed("log-level") {
		overrides["log.level"] = a.logLevel
	}
	if cmd.Flags().Changed("metrics-file") {
		overrides["metrics.file"] = a.metricsFile
	}
	if cmd.Flags().Changed("allow-private-networks") {
		overrides["guard.allow_private_networks"] = a.allowPrivate
	}

	cfg, err := config.Load(a.cfgFile, overrides)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	a.cfg = cfg

	logger, err := logging.New(cfg.Log)
	if err != nil {
		return err
	}
	a.logger = logger
	a.metrics = metrics.NewCollector(cfg.Metrics.Namespace, logger)
	return nil
}

// open собирает сервис: SSRF guard, HTTP клиент, хранилище, шифр, vault, кэш токенов
func (a *app) open(ctx context.Context) (*registry.Service, error) {
	if a.service != nil {
		return a.service, nil
	}
	cfg := a.cfg

	guard := netguard.NewValidator(netguard.Config{
		AllowPrivateNetworks: cfg.Guard.AllowPrivateNetworks,
	}, a.metrics, a.logger)
	client := netguard.NewClient(guard, cfg.HTTP.Timeout)

	store, err := registry.NewFileStore(cfg.Store.Dir)
	if err != nil {
		return nil, err
	}

	var cipher *secrets.Cipher
	if cfg.Secrets.MasterKey != "" {
		key, err := secrets.ParseMasterKey(cfg.Secrets.MasterKey)
		if err != nil {
			return nil, err
		}
		if cipher, err = secrets.New(key); err != nil {
			return nil, err
		}
	}

	deps := registry.Deps{
		Store:   store,
		Tenants: store,
		Cipher:  cipher,
		Metrics: a.metrics,
		Logger:  a.logger,
	}
	if cfg.Vault.Addr != "" {
		vault, err := secrets.NewRedisVault(ctx, secrets.RedisConfig{
			Addr:      cfg.Vault.Addr,
			Password:  cfg.Vault.Password,
			DB:        cfg.Vault.DB,
			KeyPrefix: cfg.Vault.KeyPrefix,
		})
		if err != nil {
			return nil, err
		}
		a.vault = vault
		deps.Vault = vault
	}

	a.fetcher = registry.NewFetcher(client, guard, cfg.HTTP.MaxDocumentSize, a.logger)
	deps.Fetcher = a.fetcher
	deps.Tokens = auth.NewTokenCache(client, guard, auth.CacheConfig{
		ExpiryBuffer:    cfg.OAuth.ExpiryBuffer,
		DefaultLifetime: cfg.OAuth.DefaultLifetime,
	}, a.metrics, a.logger)
	deps.Invoker = invoke.NewInvoker(client, guard, invoke.Config{
		RatePerHost:      cfg.Invoke.RatePerHost,
		Burst:            cfg.Invoke.Burst,
		MaxResponseBytes: cfg.Invoke.MaxResponseBytes,
		UserAgent:        cfg.Invoke.UserAgent,
	}, a.metrics, a.logger)

	a.service = registry.NewService(deps, registry.Options{
		SkipValidation:     cfg.Parser.SkipValidation,
		MaxSchemaDepth:     cfg.Parser.MaxSchemaDepth,
		RefreshConcurrency: cfg.Parser.RefreshConcurrency,
	})
	return a.service, nil
}

func (a *app) close() error {
	var errs []error
	if a.cfg != nil && a.cfg.Metrics.File != "" {
		if err := a.metrics.WriteToTextfile(a.cfg.Metrics.File); err != nil {
			errs = append(errs, err)
		}
	}
	if a.vault != nil {
		if err := a.vault.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if a.logger != nil {
		_ = a.logger.Sync()
	}
	return errors.Join(errs...)
}
