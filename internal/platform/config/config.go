package config

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Persistence drivers accepted by API_PERSISTENCE_DRIVER.
const (
	DriverFirestore = "firestore"
	DriverMemory    = "memory"
)

const (
	defaultEnvFile         = ".env"
	defaultPort            = "8080"
	defaultEventsTopic     = "gymhub-order-events"
	defaultMoneyTolerance  = "0.01"
	defaultAdvanceBatch    = 100
	defaultBankSecretName  = "bank"
	defaultEnvironment     = "local"
	defaultJWKSURL         = "https://www.googleapis.com/oauth2/v3/certs"
	defaultGoogleIssuer    = "https://accounts.google.com"
	defaultIAPIssuer       = "https://cloud.google.com/iap"
	defaultSignatureHeader = "X-Signature"
	defaultTimestampHeader = "X-Signature-Timestamp"
	defaultNonceHeader     = "X-Signature-Nonce"
	defaultIdemHeader      = "Idempotency-Key"
	defaultIdemBatch       = 200
)

// Config is the runtime configuration, grouped by concern.
type Config struct {
	Server      ServerConfig
	Firebase    FirebaseConfig
	Firestore   FirestoreConfig
	Persistence PersistenceConfig
	Storage     StorageConfig
	Events      EventsConfig
	Orders      OrdersConfig
	Webhooks    WebhookConfig
	Security    SecurityConfig
	Idempotency IdempotencyConfig
}

type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

type FirebaseConfig struct {
	ProjectID       string
	CredentialsFile string
}

type FirestoreConfig struct {
	ProjectID    string
	EmulatorHost string
}

// PersistenceConfig selects the repository implementation.
type PersistenceConfig struct {
	Driver string
}

// StorageConfig configures voucher uploads. An empty bucket disables signed uploads.
type StorageConfig struct {
	VouchersBucket string
	// SignerKey is the service account JSON used to sign upload URLs,
	// normally given as a secret:// reference.
	SignerKey    string
	UploadURLTTL time.Duration
}

// EventsConfig configures Pub/Sub publication. An empty topic disables it.
type EventsConfig struct {
	ProjectID string
	TopicID   string
}

type OrdersConfig struct {
	MoneyTolerance   decimal.Decimal
	AdvanceBatchSize int
}

type WebhookConfig struct {
	// BankSecretName keys the HMAC secret that verifies bank notifications.
	BankSecretName string
	// SigningSecret backs BankSecretName when Security.HMAC.Secrets lacks it.
	SigningSecret string
}

type SecurityConfig struct {
	Environment string
	OIDC        OIDCConfig
	HMAC        HMACConfig
}

// OIDCConfig controls verification of Google-signed service tokens.
type OIDCConfig struct {
	JWKSURL   string
	Audience  string
	Audiences map[string]string
	Issuers   []string
	// AllowedCallers restricts service tokens to these emails. Empty allows any verified email.
	AllowedCallers []string
}

type HMACConfig struct {
	Secrets         map[string]string
	SignatureHeader string
	TimestampHeader string
	NonceHeader     string
	ClockSkew       time.Duration
	NonceTTL        time.Duration
}

type IdempotencyConfig struct {
	Header           string
	TTL              time.Duration
	CleanupInterval  time.Duration
	CleanupBatchSize int
}

// ValidationError lists fields that are missing or out of range.
type ValidationError struct {
	fields []string
}

func (e *ValidationError) Error() string {
	return "config: invalid fields [" + strings.Join(e.fields, ", ") + "]"
}

// Fields returns a copy of the offending field names.
func (e *ValidationError) Fields() []string {
	return append([]string(nil), e.fields...)
}

// Option customises Load and EnvironmentValues.
type Option func(*options)

type options struct {
	envFile        string
	envMap         map[string]string
	systemEnv      bool
	resolver       SecretResolver
	required       []string
	panicOnMissing bool
}

func collect(opts []Option) options {
	o := options{envFile: defaultEnvFile, systemEnv: true}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	return o
}

// WithEnvFile reads fallback values from path. An empty path disables the file.
func WithEnvFile(path string) Option {
	return func(o *options) { o.envFile = path }
}

// WithEnvMap supplies values that take precedence over every other source.
func WithEnvMap(values map[string]string) Option {
	return func(o *options) {
		o.envMap = make(map[string]string, len(values))
		for k, v := range values {
			o.envMap[k] = v
		}
	}
}

// WithoutSystemEnv ignores the process environment.
func WithoutSystemEnv() Option {
	return func(o *options) { o.systemEnv = false }
}

func WithSecretResolver(r SecretResolver) Option {
	return func(o *options) { o.resolver = r }
}

// WithRequiredSecrets names secret fields (for example "Storage.SignerKey" or
// "Security.HMAC.Secrets[bank]") that must resolve to a non-empty value.
func WithRequiredSecrets(names ...string) Option {
	return func(o *options) { o.required = append(o.required, names...) }
}

// WithPanicOnMissingSecrets makes Load panic with *MissingSecretsError
// instead of returning it.
func WithPanicOnMissingSecrets() Option {
	return func(o *options) { o.panicOnMissing = true }
}

// EnvironmentValues returns the merged environment Load would see.
func EnvironmentValues(opts ...Option) (map[string]string, error) {
	e, err := loadEnv(collect(opts))
	if err != nil {
		return nil, err
	}
	return e.flatten(), nil
}

// Load builds the configuration from the envMap, process environment and
// dotenv file in that order of precedence, resolves secret references and
// validates the result.
func Load(ctx context.Context, opts ...Option) (Config, error) {
	o := collect(opts)
	e, err := loadEnv(o)
	if err != nil {
		return Config{}, err
	}
	cfg := fromEnv(e)

	secrets := &secretFields{ctx: ctx, resolver: o.resolver, resolved: make(map[string]string)}
	if err := cfg.resolveSecrets(secrets); err != nil {
		return Config{}, err
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	if missing := secrets.missing(o.required); missing != nil {
		if o.panicOnMissing {
			panic(missing)
		}
		return Config{}, missing
	}
	return cfg, nil
}

func fromEnv(e env) Config {
	firebaseProject := e.str("API_FIREBASE_PROJECT_ID", "")
	environment := e.lower("API_SECURITY_ENVIRONMENT", defaultEnvironment)
	audiences := e.pairs("API_SECURITY_OIDC_AUDIENCES")
	issuers := e.list("API_SECURITY_OIDC_ISSUERS")
	if len(issuers) == 0 {
		issuers = []string{defaultGoogleIssuer, defaultIAPIssuer}
	}

	return Config{
		Server: ServerConfig{
			Port:         e.str("API_SERVER_PORT", defaultPort),
			ReadTimeout:  e.duration("API_SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout: e.duration("API_SERVER_WRITE_TIMEOUT", 30*time.Second),
			IdleTimeout:  e.duration("API_SERVER_IDLE_TIMEOUT", 2*time.Minute),
		},
		Firebase: FirebaseConfig{
			ProjectID:       firebaseProject,
			CredentialsFile: e.str("API_FIREBASE_CREDENTIALS_FILE", ""),
		},
		Firestore: FirestoreConfig{
			ProjectID:    e.str("API_FIRESTORE_PROJECT_ID", firebaseProject),
			EmulatorHost: e.str("API_FIRESTORE_EMULATOR_HOST", ""),
		},
		Persistence: PersistenceConfig{
			Driver: e.lower("API_PERSISTENCE_DRIVER", DriverFirestore),
		},
		Storage: StorageConfig{
			VouchersBucket: e.str("API_STORAGE_VOUCHERS_BUCKET", ""),
			SignerKey:      e.str("API_STORAGE_SIGNER_KEY", ""),
			UploadURLTTL:   e.duration("API_STORAGE_UPLOAD_URL_TTL", 15*time.Minute),
		},
		Events: EventsConfig{
			ProjectID: e.str("API_EVENTS_PROJECT_ID", firebaseProject),
			TopicID:   e.str("API_EVENTS_TOPIC", defaultEventsTopic),
		},
		Orders: OrdersConfig{
			MoneyTolerance:   e.money("API_ORDERS_MONEY_TOLERANCE", defaultMoneyTolerance),
			AdvanceBatchSize: e.integer("API_ORDERS_ADVANCE_BATCH", defaultAdvanceBatch),
		},
		Webhooks: WebhookConfig{
			BankSecretName: e.lower("API_WEBHOOK_BANK_SECRET_NAME", defaultBankSecretName),
			SigningSecret:  e.str("API_WEBHOOK_SIGNING_SECRET", ""),
		},
		Security: SecurityConfig{
			Environment: environment,
			OIDC: OIDCConfig{
				JWKSURL:        e.str("API_SECURITY_OIDC_JWKS_URL", defaultJWKSURL),
				Audience:       e.str("API_SECURITY_OIDC_AUDIENCE", audiences[environment]),
				Audiences:      audiences,
				Issuers:        issuers,
				AllowedCallers: e.list("API_SECURITY_OIDC_ALLOWED_CALLERS"),
			},
			HMAC: HMACConfig{
				Secrets:         e.pairs("API_SECURITY_HMAC_SECRETS"),
				SignatureHeader: e.str("API_SECURITY_HMAC_HEADER_SIGNATURE", defaultSignatureHeader),
				TimestampHeader: e.str("API_SECURITY_HMAC_HEADER_TIMESTAMP", defaultTimestampHeader),
				NonceHeader:     e.str("API_SECURITY_HMAC_HEADER_NONCE", defaultNonceHeader),
				ClockSkew:       e.duration("API_SECURITY_HMAC_CLOCK_SKEW", 5*time.Minute),
				NonceTTL:        e.duration("API_SECURITY_HMAC_NONCE_TTL", 5*time.Minute),
			},
		},
		Idempotency: IdempotencyConfig{
			Header:           e.str("API_IDEMPOTENCY_HEADER", defaultIdemHeader),
			TTL:              e.duration("API_IDEMPOTENCY_TTL", 24*time.Hour),
			CleanupInterval:  e.duration("API_IDEMPOTENCY_CLEANUP_INTERVAL", time.Hour),
			CleanupBatchSize: e.integer("API_IDEMPOTENCY_CLEANUP_BATCH", defaultIdemBatch),
		},
	}
}

func (c *Config) resolveSecrets(s *secretFields) error {
	for name, value := range c.Security.HMAC.Secrets {
		v := value
		if err := s.resolve(fmt.Sprintf("Security.HMAC.Secrets[%s]", name), &v); err != nil {
			return err
		}
		c.Security.HMAC.Secrets[name] = v
	}
	if err := s.resolve("Webhooks.SigningSecret", &c.Webhooks.SigningSecret); err != nil {
		return err
	}
	if err := s.resolve("Storage.SignerKey", &c.Storage.SignerKey); err != nil {
		return err
	}

	bank := c.Webhooks.BankSecretName
	if secret := strings.TrimSpace(c.Webhooks.SigningSecret); secret != "" && bank != "" {
		if _, ok := c.Security.HMAC.Secrets[bank]; !ok {
			c.Security.HMAC.Secrets[bank] = secret
			s.resolved[fmt.Sprintf("Security.HMAC.Secrets[%s]", bank)] = secret
		}
	}
	return nil
}

func (c Config) validate() error {
	var bad []string
	check := func(ok bool, field string) {
		if !ok {
			bad = append(bad, field)
		}
	}

	check(c.Server.Port != "", "Server.Port")
	switch c.Persistence.Driver {
	case DriverMemory:
	case DriverFirestore:
		check(c.Firebase.ProjectID != "", "Firebase.ProjectID")
		check(c.Firestore.ProjectID != "", "Firestore.ProjectID")
	default:
		bad = append(bad, "Persistence.Driver")
	}
	if c.Storage.VouchersBucket != "" {
		check(c.Storage.UploadURLTTL > 0, "Storage.UploadURLTTL")
	}
	check(c.Orders.MoneyTolerance.IsPositive(), "Orders.MoneyTolerance")
	check(c.Orders.AdvanceBatchSize > 0, "Orders.AdvanceBatchSize")
	check(c.Idempotency.Header != "", "Idempotency.Header")
	check(c.Idempotency.TTL > 0, "Idempotency.TTL")
	check(c.Idempotency.CleanupInterval > 0, "Idempotency.CleanupInterval")
	check(c.Idempotency.CleanupBatchSize > 0, "Idempotency.CleanupBatchSize")

	if len(bad) > 0 {
		return &ValidationError{fields: bad}
	}
	return nil
}
