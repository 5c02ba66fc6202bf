// Package registry управляет жизненным циклом зарегистрированных API:
// разбор и обновление описания, смена аутентификации, включение операций и вызов.
package registry

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/mdwit/spec2call/internal/auth"
	"github.com/mdwit/spec2call/internal/invoke"
	"github.com/mdwit/spec2call/internal/metrics"
	"github.com/mdwit/spec2call/internal/model"
	"github.com/mdwit/spec2call/internal/parser"
	"github.com/mdwit/spec2call/internal/secrets"
)

// DefaultRefreshConcurrency параллельных обновлений в RefreshAll
const DefaultRefreshConcurrency = 4

// Source откуда брать описание API
type Source struct {
	// URL адрес документа; для Introspect адрес GraphQL endpoint
	URL string
	// Data документ целиком; если задан, URL только запоминается как источник
	Data   []byte
	Format model.SpecFormat
	// Introspect URL указывает на живой GraphQL endpoint
	Introspect bool
	Name       string
	BaseURL    string
}

// Options параметры разбора
type Options struct {
	SkipValidation     bool
	MaxSchemaDepth     int
	RefreshConcurrency int
}

// Deps зависимости сервиса; nil Cipher/Vault отключают соответствующие ветки секретов
type Deps struct {
	Store   Store
	Tenants TenantProvider
	Fetcher *Fetcher
	Cipher  *secrets.Cipher
	Vault   secrets.Vault
	Tokens  *auth.TokenCache
	Invoker *invoke.Invoker
	Metrics *metrics.Collector
	Logger  *zap.Logger
}

// Service операции над регистрациями
type Service struct {
	store   Store
	tenants TenantProvider
	fetcher *Fetcher
	cipher  *secrets.Cipher
	vault   secrets.Vault
	tokens  *auth.TokenCache
	factory *auth.Factory
	invoker *invoke.Invoker
	metrics *metrics.Collector
	logger  *zap.Logger
	opts    Options
	now     func() time.Time

	refreshes singleflight.Group
}

// NewService создаёт сервис
func NewService(deps Deps, opts Options) *Service {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.RefreshConcurrency <= 0 {
		opts.RefreshConcurrency = DefaultRefreshConcurrency
	}
	fetcher := deps.Fetcher
	if fetcher == nil {
		fetcher = NewFetcher(nil, nil, 0, logger)
	}
	invoker := deps.Invoker
	if invoker == nil {
		invoker = invoke.NewInvoker(nil, nil, invoke.DefaultConfig(), deps.Metrics, logger)
	}
	return &Service{
		store:   deps.Store,
		tenants: deps.Tenants,
		fetcher: fetcher,
		cipher:  deps.Cipher,
		vault:   deps.Vault,
		tokens:  deps.Tokens,
		factory: auth.NewFactory(deps.Tokens),
		invoker: invoker,
		metrics: deps.Metrics,
		logger:  logger.With(zap.String("component", "registry")),
		opts:    opts,
		now:     time.Now,
	}
}

func (s *Service) parseOptions(src Source) *parser.ParseOptions {
	return &parser.ParseOptions{
		SourceURL:      src.URL,
		BaseURL:        src.BaseURL,
		Name:           src.Name,
		SkipValidation: s.opts.SkipValidation,
		MaxSchemaDepth: s.opts.MaxSchemaDepth,
		Logger:         s.logger,
	}
}

// Ingest разбирает описание без сохранения
func (s *Service) Ingest(ctx context.Context, src Source) (*model.Registration, error) {
	start := time.Now()
	reg, err := s.ingest(ctx, src)
	format := src.Format
	if reg != nil {
		format = reg.Format
	}
	s.metrics.RecordIngestion(string(format), time.Since(start), err)
	if err != nil {
		return nil, err
	}
	reg.NameOverride = src.Name
	reg.BaseURLOverride = src.BaseURL
	s.logger.Info("api description parsed",
		zap.String("id", reg.ID),
		zap.String("format", string(reg.Format)),
		zap.Int("endpoints", len(reg.Endpoints)),
	)
	return reg, nil
}

func (s *Service) ingest(ctx context.Context, src Source) (*model.Registration, error) {
	opts := s.parseOptions(src)
	switch {
	case src.Introspect:
		if src.URL == "" {
			return nil, ErrNoSource
		}
		return s.fetcher.Introspect(ctx, src.URL, opts)
	case len(src.Data) > 0:
		return parser.Parse(ctx, src.Data, src.Format, opts)
	case src.URL != "":
		data, err := s.fetcher.Fetch(ctx, src.URL)
		if err != nil {
			return nil, err
		}
		return parser.Parse(ctx, data, src.Format, opts)
	}
	return nil, ErrNoSource
}

// Register разбирает и сохраняет новую регистрацию владельца
func (s *Service) Register(ctx context.Context, ownerID string, src Source) (*model.Registration, error) {
	reg, err := s.Ingest(ctx, src)
	if err != nil {
		return nil, err
	}
	reg.OwnerID = ownerID
	reg.Enabled = true
	reg.CreatedAt = s.now().UTC()
	reg.UpdatedAt = reg.CreatedAt

	if err := s.store.Save(ctx, reg, ""); err != nil {
		if errors.Is(err, ErrConflict) {
			return nil, fmt.Errorf("%w: %s", ErrExists, reg.ID)
		}
		return nil, err
	}
	s.logger.Info("api registered", zap.String("id", reg.ID), zap.String("owner", ownerID))
	return reg, nil
}

// Get регистрация по id
func (s *Service) Get(ctx context.Context, id string) (*model.Registration, error) {
	return s.store.Get(ctx, id)
}

// List регистрации владельца
func (s *Service) List(ctx context.Context, ownerID string) ([]*model.Registration, error) {
	return s.store.List(ctx, ownerID)
}

// Refresh заново разбирает источник и заменяет эндпоинты целиком.
// ID, владелец, аутентификация и флаги включения сохраняются; имя и базовый URL
// берутся из документа, если не были заданы явно при регистрации.
// Одновременные обновления одной регистрации схлопываются в одно.
func (s *Service) Refresh(ctx context.Context, id string) (*model.Registration, error) {
	v, err, shared := s.refreshes.Do(id, func() (any, error) {
		return s.refresh(ctx, id)
	})
	if err != nil {
		return nil, err
	}
	if shared {
		s.logger.Debug("refresh shared", zap.String("id", id))
	}
	return v.(*model.Registration), nil
}

func (s *Service) refresh(ctx context.Context, id string) (*model.Registration, error) {
	prev, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !isRemote(prev.SourceURL) {
		return nil, fmt.Errorf("%w: %s", ErrNoSource, id)
	}

	next, err := s.Ingest(ctx, Source{
		URL:        prev.SourceURL,
		Format:     refreshFormat(prev.Format),
		Introspect: prev.Format == model.FormatGraphQL,
		Name:       prev.NameOverride,
		BaseURL:    prev.BaseURLOverride,
	})
	if err != nil {
		return nil, fmt.Errorf("refresh %s: %w", id, err)
	}

	model.CarryForward(prev, next)
	next.UpdatedAt = s.now().UTC()
	if err := s.store.Save(ctx, next, prev.ConcurrencyToken); err != nil {
		return nil, err
	}
	s.logger.Info("api refreshed",
		zap.String("id", id),
		zap.Int("endpoints_before", len(prev.Endpoints)),
		zap.Int("endpoints_after", len(next.Endpoints)),
	)
	return next, nil
}

// refreshFormat OpenAPI и Swagger определяются заново: источник мог сменить версию
func refreshFormat(f model.SpecFormat) model.SpecFormat {
	switch f {
	case model.FormatOpenAPI3, model.FormatSwagger2:
		return model.FormatUnknown
	}
	return f
}

func isRemote(raw string) bool {
	u, err := url.Parse(raw)
	return err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// RefreshResult итог обновления одной регистрации
type RefreshResult struct {
	ID        string
	Endpoints int
	Err       error
}

// RefreshAll обновляет все регистрации владельца с ограниченной параллельностью.
// Ошибка одной регистрации не останавливает остальные.
func (s *Service) RefreshAll(ctx context.Context, ownerID string) ([]RefreshResult, error) {
	regs, err := s.store.List(ctx, ownerID)
	if err != nil {
		return nil, err
	}

	results := make([]RefreshResult, len(regs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.RefreshConcurrency)
	for i, reg := range regs {
		results[i].ID = reg.ID
		if !isRemote(reg.SourceURL) {
			results[i].Err = ErrNoSource
			continue
		}
		g.Go(func() error {
			next, err := s.Refresh(gctx, reg.ID)
			if err != nil {
				results[i].Err = err
				return nil
			}
			results[i].Endpoints = len(next.Endpoints)
			return nil
		})
	}
	_ = g.Wait()
	return results, ctx.Err()
}

// UpdateAuth шифрует новые учётные данные ключом владельца и сбрасывает кэш OAuth2
func (s *Service) UpdateAuth(ctx context.Context, id string, in secrets.AuthInput) (*model.Registration, error) {
	reg, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	in = in.WithDefaults(reg.Auth)
	if s.cipher == nil && !in.VaultRefs && in.Type != model.AuthNone {
		return nil, fmt.Errorf("%w: master key is not configured", secrets.ErrMasterKey)
	}
	if s.tenants == nil {
		return nil, secrets.ErrTenantRequired
	}
	tenant, err := s.tenants.Tenant(ctx, reg.OwnerID)
	if err != nil {
		return nil, err
	}
	cfg, err := s.cipher.SealAuth(tenant, in)
	if err != nil {
		return nil, err
	}

	token := reg.ConcurrencyToken
	old := reg.Auth
	reg.Auth = cfg
	reg.UpdatedAt = s.now().UTC()
	if err := s.store.Save(ctx, reg, token); err != nil {
		return nil, err
	}
	s.invalidate(old, reg.OwnerID)
	s.logger.Info("auth updated", zap.String("id", id), zap.String("type", string(cfg.Type())))
	return reg, nil
}

func (s *Service) invalidate(cfg model.AuthConfig, ownerID string) {
	if s.tokens == nil {
		return
	}
	if v, ok := cfg.Variant().(model.OAuth2Auth); ok {
		s.tokens.Invalidate(v, ownerID)
	}
}

// SetEnabled включает или выключает регистрацию целиком
func (s *Service) SetEnabled(ctx context.Context, id string, enabled bool) error {
	reg, err := s.store.Get(ctx, id)
	if err != nil {
		return err
	}
	reg.Enabled = enabled
	reg.UpdatedAt = s.now().UTC()
	return s.store.Save(ctx, reg, reg.ConcurrencyToken)
}

// SetEndpointEnabled включает или выключает одну операцию
func (s *Service) SetEndpointEnabled(ctx context.Context, id, operation string, enabled bool) error {
	reg, err := s.store.Get(ctx, id)
	if err != nil {
		return err
	}
	ep, ok := reg.Endpoint(operation)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownOperation, operation)
	}
	ep.Enabled = enabled
	reg.UpdatedAt = s.now().UTC()
	return s.store.Save(ctx, reg, reg.ConcurrencyToken)
}

// Delete удаляет регистрацию вместе с эндпоинтами и состоянием токенов
func (s *Service) Delete(ctx context.Context, id string) error {
	reg, err := s.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := s.store.Delete(ctx, id); err != nil {
		return err
	}
	s.invalidate(reg.Auth, reg.OwnerID)
	s.logger.Info("api deleted", zap.String("id", id))
	return nil
}

// Call синтезирует запрос операции, применяет аутентификацию и выполняет его
func (s *Service) Call(ctx context.Context, id, operation string, params invoke.Params) (*invoke.Response, error) {
	reg, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !reg.Enabled {
		return nil, fmt.Errorf("registration %s: %w", id, ErrDisabled)
	}
	ep, ok := reg.Endpoint(operation)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownOperation, operation)
	}
	if !ep.Enabled {
		return nil, fmt.Errorf("operation %s: %w", ep.OperationID, ErrDisabled)
	}

	req, err := invoke.Synthesize(reg.BaseURL, ep, params)
	if err != nil {
		return nil, err
	}

	strategy, err := s.strategy(ctx, reg)
	if err != nil {
		return nil, err
	}
	return s.invoker.Do(ctx, req, strategy)
}

func (s *Service) strategy(ctx context.Context, reg *model.Registration) (auth.Strategy, error) {
	if reg.Auth.Type() == model.AuthNone {
		return s.factory.Strategy(reg.Auth, nil, reg.OwnerID)
	}
	var tenant *secrets.Tenant
	if s.tenants != nil {
		t, err := s.tenants.Tenant(ctx, reg.OwnerID)
		if err != nil {
			return nil, err
		}
		tenant = &t
	}
	resolver := secrets.NewResolver(s.cipher, s.vault, tenant)
	return s.factory.Strategy(reg.Auth, resolver, reg.OwnerID)
}
