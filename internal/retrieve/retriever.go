package retrieve

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/ocha-dap/hdx-scraper-unep/pkg/domain"
)

// Config holds retriever settings.
type Config struct {
	RequestTimeout time.Duration
	Retry          RetryConfig
	RateLimit      RateLimiterConfig
	Breaker        CircuitBreakerConfig
	UserAgent      string

	// SavedDir is where response bodies are recorded (Save) or read back
	// (UseSaved). Save and UseSaved are mutually exclusive.
	SavedDir string
	Save     bool
	UseSaved bool
}

// Metrics receives observations about upstream requests. Implementations must
// be safe for concurrent use. A nil Metrics disables observation.
type Metrics interface {
	ObserveRequest(status int, duration time.Duration, bytes int)
	ObserveRetry()
	ObserveReplay(hit bool)
	ObserveBreakerState(state string)
}

// Retriever performs rate-limited, retried GETs against the feature service
// and optionally records or replays response bodies.
type Retriever struct {
	client  *http.Client
	retry   *RetryPolicy
	limiter *RateLimiter
	breaker *CircuitBreaker
	config  Config
	metrics Metrics
	logger  *slog.Logger
}

// New creates a Retriever. The HTTP client is instrumented with otelhttp so
// spans cover every upstream request.
func New(config Config, metrics Metrics, logger *slog.Logger) (*Retriever, error) {
	if config.RequestTimeout <= 0 {
		config.RequestTimeout = 30 * time.Second
	}
	if config.UserAgent == "" {
		config.UserAgent = "hdx-scraper-unep"
	}
	if config.Save && config.UseSaved {
		return nil, fmt.Errorf("%w: save and use_saved are mutually exclusive", domain.ErrConfigInvalid)
	}
	if (config.Save || config.UseSaved) && config.SavedDir == "" {
		return nil, fmt.Errorf("%w: saved dir is required for record/replay", domain.ErrConfigInvalid)
	}
	if config.Save {
		if err := os.MkdirAll(config.SavedDir, 0o755); err != nil {
			return nil, fmt.Errorf("create saved dir: %w", err)
		}
	}

	return &Retriever{
		client: &http.Client{
			Timeout:   config.RequestTimeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		retry:   NewRetryPolicy(config.Retry),
		limiter: NewRateLimiter(config.RateLimit),
		breaker: NewCircuitBreaker(config.Breaker),
		config:  config,
		metrics: metrics,
		logger:  logger,
	}, nil
}

// Replay reports whether the retriever serves responses from disk.
func (r *Retriever) Replay() bool {
	return r.config.UseSaved
}

// BreakerState exposes the circuit breaker state for metrics collection.
func (r *Retriever) BreakerState() CircuitBreakerState {
	return r.breaker.State()
}

func (r *Retriever) observeBreakerState() {
	if r.metrics != nil {
		r.metrics.ObserveBreakerState(string(r.BreakerState()))
	}
}

// Fetch returns the response body for url, honouring replay mode, the rate
// limit, the circuit breaker, and the retry policy.
func (r *Retriever) Fetch(ctx context.Context, url string) ([]byte, error) {
	if r.config.UseSaved {
		return r.readSaved(url)
	}

	if err := r.breaker.Allow(); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrUpstreamUnreachable, err)
	}

	var body []byte
	attempt := 0
	start := time.Now()
	status, err := r.retry.ExecuteWithRetry(ctx, http.MethodGet, func() (int, error) {
		if attempt > 0 && r.metrics != nil {
			r.metrics.ObserveRetry()
		}
		attempt++
		// Every attempt pays for a token, including retries.
		if err := r.limiter.Wait(ctx); err != nil {
			return 0, err
		}
		var fnStatus int
		var fnErr error
		fnStatus, body, fnErr = r.get(ctx, url)
		return fnStatus, fnErr
	})
	duration := time.Since(start)

	if r.metrics != nil {
		r.metrics.ObserveRequest(status, duration, len(body))
	}

	if err != nil {
		// A cancelled run says nothing about upstream health.
		if ctx.Err() == nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			r.breaker.RecordFailure()
		}
		r.observeBreakerState()
		return nil, fmt.Errorf("fetch %s: %w", url, err)
	}
	r.breaker.RecordSuccess()
	r.observeBreakerState()

	if r.config.Save {
		if err := r.writeSaved(url, body); err != nil {
			return nil, err
		}
	}

	return body, nil
}

// DownloadJSON fetches url and decodes the body into v.
func (r *Retriever) DownloadJSON(ctx context.Context, url string, v any) error {
	body, err := r.Fetch(ctx, url)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("decode response from %s: %w", url, err)
	}
	return nil
}

func (r *Retriever) get(ctx context.Context, url string) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("User-Agent", r.config.UserAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		// Drain so the connection can be reused across retries.
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<20))
		return resp.StatusCode, nil, fmt.Errorf("unexpected status %d from %s", resp.StatusCode, url)
	}

	body, err := io.ReadAll(resp.Body)
	return resp.StatusCode, body, err
}

func (r *Retriever) readSaved(url string) ([]byte, error) {
	path := filepath.Join(r.config.SavedDir, SavedName(url))
	data, err := os.ReadFile(path) // #nosec G304 -- replay dir is operator controlled
	if err != nil {
		if r.metrics != nil {
			r.metrics.ObserveReplay(false)
		}
		return nil, fmt.Errorf("%w: %s", domain.ErrReplayMiss, url)
	}
	if r.metrics != nil {
		r.metrics.ObserveReplay(true)
	}
	return data, nil
}

func (r *Retriever) writeSaved(url string, body []byte) error {
	path := filepath.Join(r.config.SavedDir, SavedName(url))
	if err := os.WriteFile(path, body, 0o644); err != nil {
		return fmt.Errorf("record response for %s: %w", url, err)
	}
	r.logger.Debug("Recorded response", "url", url, "path", path)
	return nil
}

// SavedName derives a deterministic filename for a URL so that recorded runs
// can be replayed byte for byte. The scheme is stripped, unsafe characters are
// replaced, and long names get a hash suffix to stay unique after truncation.
func SavedName(rawURL string) string {
	trimmed := strings.TrimPrefix(strings.TrimPrefix(rawURL, "https://"), "http://")

	var b strings.Builder
	b.Grow(len(trimmed))
	for _, r := range trimmed {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '.' || r == '-' || r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('-')
		}
	}

	name := b.String()
	if len(name) > 150 {
		sum := sha256.Sum256([]byte(rawURL))
		name = name[:150] + "-" + hex.EncodeToString(sum[:4])
	}
	return name + ".json"
}
