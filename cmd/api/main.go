package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	cloudstorage "cloud.google.com/go/storage"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/gymhub/api/internal/di"
	"github.com/gymhub/api/internal/handlers"
	"github.com/gymhub/api/internal/platform/auth"
	"github.com/gymhub/api/internal/platform/config"
	"github.com/gymhub/api/internal/platform/events"
	pfirestore "github.com/gymhub/api/internal/platform/firestore"
	"github.com/gymhub/api/internal/platform/idempotency"
	"github.com/gymhub/api/internal/platform/observability"
	"github.com/gymhub/api/internal/platform/secrets"
	platformstorage "github.com/gymhub/api/internal/platform/storage"
	"github.com/gymhub/api/internal/repositories"
	firestoreRepo "github.com/gymhub/api/internal/repositories/firestore"
	"github.com/gymhub/api/internal/repositories/memory"
	"github.com/gymhub/api/internal/services"
)

const meterName = "github.com/gymhub/api"

func main() {
	ctx := context.Background()
	startedAt := time.Now().UTC()

	baseLogger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()

	logger := baseLogger.Named("api")
	ctx = observability.WithLogger(ctx, logger)
	meter := otel.Meter(meterName)

	envValues, err := config.EnvironmentValues()
	if err != nil {
		logger.Fatal("failed to read environment values", zap.Error(err))
	}

	fetcher, err := newSecretFetcher(ctx, logger, envValues, meter)
	if err != nil {
		logger.Fatal("failed to initialise secret fetcher", zap.Error(err))
	}
	defer func() {
		if err := fetcher.Close(); err != nil {
			logger.Warn("secret fetcher close error", zap.Error(err))
		}
	}()

	cfg, err := config.Load(ctx,
		config.WithSecretResolver(fetcher),
		config.WithRequiredSecrets(requiredSecretNames(envValues)...),
	)
	if err != nil {
		var missing *config.MissingSecretsError
		if errors.As(err, &missing) {
			logger.Fatal("missing required secrets", zap.Strings("secrets", missing.RedactedNames()))
		}
		logger.Fatal("failed to load configuration", zap.Error(err))
	}
	logger.Info("configuration loaded",
		zap.String("environment", cfg.Security.Environment),
		zap.String("persistence", cfg.Persistence.Driver),
	)

	var clientOpts []option.ClientOption
	if file := strings.TrimSpace(cfg.Firebase.CredentialsFile); file != "" {
		clientOpts = append(clientOpts, option.WithCredentialsFile(file))
	}

	var closers []func(context.Context) error
	closeAll := func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i](closeCtx); err != nil {
				logger.Warn("shutdown close error", zap.Error(err))
			}
		}
	}
	defer closeAll()

	checks := []repositories.DependencyCheck{secretManagerCheck(fetcher)}

	uploads, probe, err := newVoucherUploads(ctx, cfg, clientOpts)
	if err != nil {
		logger.Fatal("failed to initialise voucher uploads", zap.Error(err))
	}
	if probe != nil {
		closers = append(closers, probe.close)
		checks = append(checks, repositories.DependencyCheck{Name: "storage", Check: probe.Check})
	}

	publisher, stopEvents, err := newEventPublisher(ctx, cfg, clientOpts)
	if err != nil {
		logger.Fatal("failed to initialise event publisher", zap.Error(err))
	}
	if stopEvents != nil {
		closers = append(closers, stopEvents)
	}

	var (
		registry  repositories.Registry
		idemStore idempotency.Store
		nonces    auth.NonceStore
	)
	switch cfg.Persistence.Driver {
	case config.DriverMemory:
		checks = append(checks, repositories.DependencyCheck{Name: "memory", Check: func(context.Context) error { return nil }})
		health, err := repositories.NewDependencyHealthRepository(checks)
		if err != nil {
			logger.Fatal("failed to initialise health checks", zap.Error(err))
		}
		registry = memory.NewStore(health)
		idemStore = idempotency.NewMemoryStore()
		nonces = auth.NewMemoryNonceStore()
		logger.Warn("memory persistence selected; state is lost on restart")
	default:
		provider := pfirestore.NewProvider(cfg.Firestore, pfirestore.WithClientOptions(clientOpts...))
		client, err := provider.Client(ctx)
		if err != nil {
			logger.Fatal("failed to initialise firestore client", zap.Error(err))
		}
		checks = append(checks, repositories.DependencyCheck{Name: "firestore", Timeout: 1500 * time.Millisecond, Check: provider.Ping})
		health, err := repositories.NewDependencyHealthRepository(checks)
		if err != nil {
			logger.Fatal("failed to initialise health checks", zap.Error(err))
		}
		registry, err = firestoreRepo.NewRegistry(provider, health)
		if err != nil {
			logger.Fatal("failed to initialise firestore repositories", zap.Error(err))
		}
		idemStore = idempotency.NewFirestoreStore(client)
		nonces = auth.NewFirestoreNonceStore(client)
	}

	infra := di.Infrastructure{
		Logger: observability.EventLogger(logger.Named("services")),
		Meter:  meter,
		Build:  buildInfoFromEnv(envValues, cfg, startedAt),
	}
	if publisher != nil {
		infra.Events = publisher
	}
	if uploads != nil {
		infra.Uploads = uploads
	}
	container, err := di.NewContainer(cfg, registry, infra)
	if err != nil {
		logger.Fatal("failed to initialise services", zap.Error(err))
	}

	authenticator := newAuthenticator(ctx, logger, cfg)
	guard := idempotency.NewGuard(idemStore,
		idempotency.WithHeader(cfg.Idempotency.Header),
		idempotency.WithTTL(cfg.Idempotency.TTL),
		idempotency.WithLogger(logger.Named("idempotency")),
	)

	sweepCtx, stopSweep := context.WithCancel(context.Background())
	var sweepWG sync.WaitGroup
	sweepWG.Add(1)
	go func() {
		defer sweepWG.Done()
		idempotency.Sweep(sweepCtx, idemStore, cfg.Idempotency.CleanupInterval, cfg.Idempotency.CleanupBatchSize, logger.Named("idempotency"))
	}()

	svc := container.Services
	orderHandlers := handlers.NewOrderHandlers(authenticator, svc.Orders, handlers.WithOrderCreateGuard(guard.Require))
	saleHandlers := handlers.NewLocalSaleHandlers(authenticator, svc.LocalSales, handlers.WithSaleCreateGuard(guard.Require))
	transferHandlers := handlers.NewTransferHandlers(authenticator, svc.Transfers, handlers.WithVoucherRateLimit(10, time.Minute))
	movementHandlers := handlers.NewMovementHandlers(authenticator, svc.Movements)
	webhookHandlers := handlers.NewBankWebhookHandlers(svc.Transfers)
	internalHandlers := handlers.NewInternalHandlers(svc.Orders)
	healthHandlers := handlers.NewHealthHandlers(
		handlers.WithHealthBuildInfo(infra.Build),
		handlers.WithHealthSystemService(svc.System),
	)

	projectID := traceProjectID(cfg)
	httpLogger := logger.Named("http")
	opts := []handlers.Option{
		handlers.WithMiddlewares(
			observability.TraceMiddleware(projectID),
			observability.AccessLog(httpLogger),
			observability.Recover(httpLogger),
		),
		handlers.WithHealthHandlers(healthHandlers),
		handlers.WithOrderRoutes(orderHandlers.Routes),
		handlers.WithAdditionalRoutes(orderHandlers.BatchRoutes),
		handlers.WithLocalSaleRoutes(saleHandlers.Routes),
		handlers.WithTransferRoutes(transferHandlers.Routes),
		handlers.WithMovementRoutes(movementHandlers.Routes),
		handlers.WithWebhookRoutes(webhookHandlers.Routes),
		handlers.WithWebhookMiddlewares(newWebhookMiddleware(logger, cfg, nonces)),
		handlers.WithInternalRoutes(internalHandlers.Routes),
		handlers.WithInternalMiddlewares(newServiceMiddleware(logger, cfg)),
	}

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      handlers.NewRouter(opts...),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	serverLogger := httpLogger.With(zap.String("addr", server.Addr))
	go func() {
		serverLogger.Info("gymhub api listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverLogger.Fatal("http server error", zap.Error(err))
		}
	}()

	<-shutdown
	logger.Info("shutdown signal received; draining requests")

	stopSweep()
	sweepWG.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
	if err := container.Close(shutdownCtx); err != nil {
		logger.Warn("repository close error", zap.Error(err))
	}
}

func newAuthenticator(ctx context.Context, logger *zap.Logger, cfg config.Config) *auth.Authenticator {
	if strings.TrimSpace(cfg.Firebase.ProjectID) == "" {
		logger.Warn("auth: firebase project not configured; customer and staff routes will reject requests")
		return nil
	}
	client, err := auth.NewFirebaseClient(ctx, cfg.Firebase)
	if err != nil {
		logger.Fatal("failed to initialise firebase auth", zap.Error(err))
	}
	return auth.NewAuthenticator(client,
		auth.WithUserGetter(client),
		auth.WithLogger(logger.Named("auth")),
	)
}

func newServiceMiddleware(logger *zap.Logger, cfg config.Config) func(http.Handler) http.Handler {
	oidc := cfg.Security.OIDC
	if strings.TrimSpace(oidc.Audience) == "" {
		logger.Warn("auth: OIDC audience not configured; internal routes will reject requests")
	}
	keys := auth.NewKeySet(oidc.JWKSURL)
	verifier := auth.NewServiceVerifier(keys, oidc.Audience, oidc.Issuers,
		auth.WithAllowedCallers(oidc.AllowedCallers...),
		auth.WithServiceLogger(logger.Named("auth")),
	)
	return verifier.Require
}

func newWebhookMiddleware(logger *zap.Logger, cfg config.Config, nonces auth.NonceStore) func(http.Handler) http.Handler {
	hmacCfg := cfg.Security.HMAC
	sender := cfg.Webhooks.BankSecretName
	if !hasSecret(hmacCfg.Secrets, sender) {
		logger.Warn("auth: no webhook secret for bank; webhook routes will answer 503", zap.String("sender", sender))
	}
	verifier := auth.NewWebhookVerifier(hmacCfg.Secrets, nonces,
		auth.WithWebhookHeaders(auth.WebhookHeaders{
			Signature: hmacCfg.SignatureHeader,
			Timestamp: hmacCfg.TimestampHeader,
			Nonce:     hmacCfg.NonceHeader,
		}),
		auth.WithClockSkew(hmacCfg.ClockSkew),
		auth.WithNonceTTL(hmacCfg.NonceTTL),
		auth.WithWebhookLogger(logger.Named("auth")),
	)
	return verifier.Require(sender)
}

func hasSecret(secrets map[string]string, name string) bool {
	for key, value := range secrets {
		if strings.EqualFold(strings.TrimSpace(key), name) && strings.TrimSpace(value) != "" {
			return true
		}
	}
	return false
}

type bucketProbe struct {
	*platformstorage.BucketProbe
	client *cloudstorage.Client
}

func (p bucketProbe) close(context.Context) error { return p.client.Close() }

func newVoucherUploads(ctx context.Context, cfg config.Config, clientOpts []option.ClientOption) (*platformstorage.VoucherUploads, *bucketProbe, error) {
	bucket := strings.TrimSpace(cfg.Storage.VouchersBucket)
	if bucket == "" {
		return nil, nil, nil
	}
	key := strings.TrimSpace(cfg.Storage.SignerKey)
	if key == "" {
		return nil, nil, errors.New("storage signer key is required when a vouchers bucket is set")
	}
	signer, err := platformstorage.NewServiceAccountSignerFromJSON([]byte(key))
	if err != nil {
		return nil, nil, fmt.Errorf("parse storage signer key: %w", err)
	}
	signing, err := platformstorage.NewClient(signer)
	if err != nil {
		return nil, nil, err
	}
	uploads, err := platformstorage.NewVoucherUploads(signing, bucket, cfg.Storage.UploadURLTTL)
	if err != nil {
		return nil, nil, err
	}

	gcs, err := cloudstorage.NewClient(ctx, clientOpts...)
	if err != nil {
		return nil, nil, fmt.Errorf("storage client: %w", err)
	}
	probe, err := platformstorage.NewBucketProbe(gcs, bucket)
	if err != nil {
		_ = gcs.Close()
		return nil, nil, err
	}
	return uploads, &bucketProbe{BucketProbe: probe, client: gcs}, nil
}

func newEventPublisher(ctx context.Context, cfg config.Config, clientOpts []option.ClientOption) (*events.PubSubPublisher, func(context.Context) error, error) {
	project := strings.TrimSpace(cfg.Events.ProjectID)
	topicID := strings.TrimSpace(cfg.Events.TopicID)
	if project == "" || topicID == "" {
		return nil, nil, nil
	}
	client, err := pubsub.NewClient(ctx, project, clientOpts...)
	if err != nil {
		return nil, nil, fmt.Errorf("pubsub client: %w", err)
	}
	publisher, err := events.NewPubSubPublisher(client.Topic(topicID))
	if err != nil {
		_ = client.Close()
		return nil, nil, err
	}
	stop := func(context.Context) error {
		publisher.Stop()
		return client.Close()
	}
	return publisher, stop, nil
}

func secretManagerCheck(fetcher *secrets.Fetcher) repositories.DependencyCheck {
	const probeRef = "secret://system-healthz"
	return repositories.DependencyCheck{
		Name:    "secretManager",
		Timeout: time.Second,
		Check: func(ctx context.Context) error {
			_, err := fetcher.Resolve(ctx, probeRef)
			if err == nil || errors.Is(err, secrets.ErrNotFound) || status.Code(err) == codes.NotFound {
				return nil
			}
			return err
		},
	}
}

func buildInfoFromEnv(env map[string]string, cfg config.Config, started time.Time) services.BuildInfo {
	version := strings.TrimSpace(env["API_BUILD_VERSION"])
	if version == "" {
		version = "dev"
	}
	commit := strings.TrimSpace(env["API_BUILD_COMMIT_SHA"])
	if commit == "" {
		commit = "unknown"
	}
	return services.BuildInfo{
		Version:     version,
		CommitSHA:   commit,
		Environment: cfg.Security.Environment,
		StartedAt:   started,
	}
}

func traceProjectID(cfg config.Config) string {
	if id := strings.TrimSpace(cfg.Firebase.ProjectID); id != "" {
		return id
	}
	return strings.TrimSpace(cfg.Firestore.ProjectID)
}

func newSecretFetcher(ctx context.Context, logger *zap.Logger, env map[string]string, meter metric.Meter) (*secrets.Fetcher, error) {
	lookup := func(key string) string { return strings.TrimSpace(env[key]) }

	project := lookup("API_SECRET_PROJECT_ID")
	if project == "" {
		project = lookup("API_FIREBASE_PROJECT_ID")
	}
	localFile := lookup("API_SECRET_LOCAL_FILE")
	if localFile == "" {
		localFile = ".secrets.local"
	}

	opts := []secrets.Option{
		secrets.WithLogger(logger.Named("secrets")),
		secrets.WithProject(project),
		secrets.WithLocalFile(localFile),
		secrets.WithMeter(meter),
	}
	if pins := parseKeyValueList(lookup("API_SECRET_VERSION_PINS")); len(pins) > 0 {
		opts = append(opts, secrets.WithVersionPins(pins))
	}
	if file := lookup("API_FIREBASE_CREDENTIALS_FILE"); file != "" {
		opts = append(opts, secrets.WithClientOptions(option.WithCredentialsFile(file)))
	}
	return secrets.NewFetcher(ctx, opts...)
}

// requiredSecretNames lists config fields that must resolve to a value.
func requiredSecretNames(env map[string]string) []string {
	var required []string
	if strings.TrimSpace(env["API_STORAGE_VOUCHERS_BUCKET"]) != "" {
		required = append(required, "Storage.SignerKey")
	}
	if strings.TrimSpace(env["API_WEBHOOK_SIGNING_SECRET"]) != "" {
		required = append(required, "Webhooks.SigningSecret")
	}
	keys := make([]string, 0)
	for key := range parseKeyValueList(env["API_SECURITY_HMAC_SECRETS"]) {
		keys = append(keys, strings.ToLower(key))
	}
	sort.Strings(keys)
	for _, key := range keys {
		required = append(required, fmt.Sprintf("Security.HMAC.Secrets[%s]", key))
	}
	return required
}

// parseKeyValueList reads "a=1,b=2". Values may themselves contain "=".
func parseKeyValueList(raw string) map[string]string {
	result := make(map[string]string)
	for _, entry := range strings.Split(raw, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(entry), "=")
		key, value = strings.TrimSpace(key), strings.TrimSpace(value)
		if !ok || key == "" || value == "" {
			continue
		}
		result[key] = value
	}
	return result
}
