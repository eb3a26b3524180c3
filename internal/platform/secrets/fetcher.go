package secrets

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/googleapis/gax-go/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	defaultCacheTTL = 10 * time.Minute
	meterName       = "github.com/gymhub/api/internal/platform/secrets"
)

// ErrNotFound is returned when neither Secret Manager nor the local file
// knows the secret.
var ErrNotFound = errors.New("secrets: not found")

var newSecretManagerClient = func(ctx context.Context, opts ...option.ClientOption) (accessClient, error) {
	return secretmanager.NewClient(ctx, opts...)
}

type accessClient interface {
	AccessSecretVersion(ctx context.Context, req *secretmanagerpb.AccessSecretVersionRequest, opts ...gax.CallOption) (*secretmanagerpb.AccessSecretVersionResponse, error)
	Close() error
}

// Fetcher resolves secret references against Secret Manager, caching values
// for a bounded time and falling back to a local file when the remote is
// unreachable or no project is configured.
type Fetcher struct {
	client     accessClient
	ownsClient bool
	logger     *zap.Logger
	project    string
	pins       map[string]string
	ttl        time.Duration
	now        func() time.Time

	localPath string
	localOnce sync.Once
	local     localFile
	localErr  error

	mu    sync.Mutex
	cache map[string]cached

	fetches metric.Int64Counter
	latency metric.Float64Histogram
}

type cached struct {
	value    string
	source   string
	storedAt time.Time
}

type settings struct {
	logger     *zap.Logger
	project    string
	pins       map[string]string
	ttl        time.Duration
	localPath  string
	client     accessClient
	clientOpts []option.ClientOption
	meter      metric.Meter
	now        func() time.Time
}

// Option configures a Fetcher.
type Option func(*settings)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *settings) { s.logger = logger }
}

// WithProject sets the Google Cloud project that owns the secrets. An empty
// project leaves the fetcher in local-only mode.
func WithProject(project string) Option {
	return func(s *settings) { s.project = strings.TrimSpace(project) }
}

// WithVersionPins maps secret://name to a version used when a reference has
// no explicit ?version=.
func WithVersionPins(pins map[string]string) Option {
	return func(s *settings) {
		s.pins = make(map[string]string, len(pins))
		for k, v := range pins {
			if ref, err := ParseReference(k); err == nil && strings.TrimSpace(v) != "" {
				s.pins[ref.Key()] = strings.TrimSpace(v)
			}
		}
	}
}

// WithCacheTTL bounds how long a resolved value is served from memory.
func WithCacheTTL(ttl time.Duration) Option {
	return func(s *settings) { s.ttl = ttl }
}

// WithLocalFile points at the developer secrets file.
func WithLocalFile(path string) Option {
	return func(s *settings) { s.localPath = path }
}

// WithClientOptions forwards options to the Secret Manager client.
func WithClientOptions(opts ...option.ClientOption) Option {
	return func(s *settings) { s.clientOpts = append(s.clientOpts, opts...) }
}

// WithMeter overrides the global meter provider.
func WithMeter(m metric.Meter) Option {
	return func(s *settings) { s.meter = m }
}

func withClient(c accessClient) Option {
	return func(s *settings) { s.client = c }
}

func withClock(now func() time.Time) Option {
	return func(s *settings) { s.now = now }
}

// NewFetcher builds a Fetcher. A Secret Manager client that cannot be created
// is logged and the fetcher keeps serving from the local file.
func NewFetcher(ctx context.Context, opts ...Option) (*Fetcher, error) {
	s := settings{
		logger:    zap.NewNop(),
		ttl:       defaultCacheTTL,
		localPath: ".secrets.local",
		now:       time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&s)
		}
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.meter == nil {
		s.meter = otel.GetMeterProvider().Meter(meterName)
	}

	f := &Fetcher{
		logger:    s.logger,
		project:   s.project,
		pins:      s.pins,
		ttl:       s.ttl,
		now:       s.now,
		localPath: s.localPath,
		cache:     make(map[string]cached),
	}

	var err error
	if f.fetches, err = s.meter.Int64Counter("gymhub.secrets.fetches",
		metric.WithDescription("Secret resolutions by source and outcome")); err != nil {
		return nil, fmt.Errorf("secrets: register fetch counter: %w", err)
	}
	if f.latency, err = s.meter.Float64Histogram("gymhub.secrets.latency",
		metric.WithUnit("ms"),
		metric.WithDescription("Secret resolution latency")); err != nil {
		return nil, fmt.Errorf("secrets: register latency histogram: %w", err)
	}

	switch {
	case s.client != nil:
		f.client = s.client
	case s.project != "":
		client, err := newSecretManagerClient(ctx, s.clientOpts...)
		if err != nil {
			f.logger.Warn("secret manager unavailable, using local secrets only", zap.Error(err))
		} else {
			f.client = client
			f.ownsClient = true
		}
	}
	return f, nil
}

// Close releases the Secret Manager client when the fetcher created it.
func (f *Fetcher) Close() error {
	if f.ownsClient && f.client != nil {
		return f.client.Close()
	}
	return nil
}

// ResolveSecret implements config.SecretResolver.
func (f *Fetcher) ResolveSecret(ctx context.Context, ref string) (string, error) {
	return f.Resolve(ctx, ref)
}

// Resolve returns the value for ref.
func (f *Fetcher) Resolve(ctx context.Context, raw string) (string, error) {
	start := f.now()
	ref, err := ParseReference(raw)
	if err != nil {
		return "", err
	}
	version := f.version(ref)
	project := ref.Project
	if project == "" {
		project = f.project
	}
	key := project + "/" + ref.Name + "@" + version

	if value, ok := f.cached(key); ok {
		f.observe(ctx, start, "cache", nil)
		return value, nil
	}

	if f.client != nil && project != "" {
		value, err := f.access(ctx, project, ref.Name, version)
		if err == nil {
			f.store(key, value, "remote")
			f.observe(ctx, start, "remote", nil)
			return value, nil
		}
		if !canFallBack(err) {
			f.observe(ctx, start, "remote", err)
			return "", fmt.Errorf("secrets: access %s: %w", ref.Key(), err)
		}
		f.logger.Debug("falling back to local secrets", zap.String("secret", ref.Name), zap.Error(err))
	}

	value, err := f.lookupLocal(ref)
	if err != nil {
		f.observe(ctx, start, "local", err)
		return "", err
	}
	f.store(key, value, "local")
	f.observe(ctx, start, "local", nil)
	return value, nil
}

// Forget drops every cached version of ref so the next Resolve goes back to
// the source. Used after a secret rotation.
func (f *Fetcher) Forget(raw string) {
	ref, err := ParseReference(raw)
	if err != nil {
		return
	}
	suffix := "/" + ref.Name + "@"
	f.mu.Lock()
	defer f.mu.Unlock()
	for key := range f.cache {
		if strings.Contains(key, suffix) {
			delete(f.cache, key)
		}
	}
}

func (f *Fetcher) version(ref Reference) string {
	if ref.Version != "" {
		return ref.Version
	}
	if pin, ok := f.pins[ref.Key()]; ok {
		return pin
	}
	return "latest"
}

func (f *Fetcher) cached(key string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	entry, ok := f.cache[key]
	if !ok {
		return "", false
	}
	if f.ttl > 0 && f.now().Sub(entry.storedAt) >= f.ttl {
		delete(f.cache, key)
		return "", false
	}
	return entry.value, true
}

func (f *Fetcher) store(key, value, source string) {
	f.mu.Lock()
	f.cache[key] = cached{value: value, source: source, storedAt: f.now()}
	f.mu.Unlock()
}

func (f *Fetcher) access(ctx context.Context, project, name, version string) (string, error) {
	resource := fmt.Sprintf("projects/%s/secrets/%s/versions/%s", project, name, version)
	resp, err := f.client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{Name: resource})
	if err != nil {
		return "", err
	}
	if resp.GetPayload() == nil {
		return "", fmt.Errorf("empty payload for %s", resource)
	}
	return string(resp.GetPayload().GetData()), nil
}

func (f *Fetcher) lookupLocal(ref Reference) (string, error) {
	f.localOnce.Do(func() {
		f.local, f.localErr = loadLocalFile(f.localPath)
	})
	if f.localErr != nil {
		return "", f.localErr
	}
	value, ok := f.local.lookup(ref)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrNotFound, ref.Key())
	}
	return value, nil
}

func (f *Fetcher) observe(ctx context.Context, start time.Time, source string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	attrs := metric.WithAttributes(attribute.String("source", source), attribute.String("outcome", outcome))
	f.fetches.Add(ctx, 1, attrs)
	f.latency.Record(ctx, float64(f.now().Sub(start))/float64(time.Millisecond), attrs)
}

// canFallBack reports whether a Secret Manager failure is environmental
// (credentials, network) rather than a definitive answer about the secret.
func canFallBack(err error) bool {
	switch status.Code(err) {
	case codes.PermissionDenied, codes.Unauthenticated, codes.Unavailable, codes.DeadlineExceeded:
		return true
	default:
		return false
	}
}
