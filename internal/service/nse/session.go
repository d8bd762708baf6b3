package nse

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/sony/gobreaker"

	"ChainPulse/internal/domain/fault"
	"ChainPulse/internal/domain/models"
	"ChainPulse/internal/service/ratelimit"
	"ChainPulse/pkg/config"
	xhttp "ChainPulse/pkg/http"
	applogger "ChainPulse/pkg/logger"
)

var retryableStatus = map[int]bool{
	http.StatusTooManyRequests:     true,
	http.StatusInternalServerError: true,
	http.StatusBadGateway:          true,
	http.StatusServiceUnavailable:  true,
	http.StatusGatewayTimeout:      true,
}

var errAccessDenied = errors.New("upstream answered the warm-up with an access denied page")

// Session is a warmed cookie-bearing client for one chain kind.
type Session struct {
	Kind      models.ChainKind
	client    *xhttp.Client
	referer   string
	createdAt time.Time
}

// Referer is the landing page the session was warmed against.
func (s *Session) Referer() string { return s.referer }

// BrokerOption configures Broker.
type BrokerOption func(*Broker)

// WithSleep replaces the backoff sleeper.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) BrokerOption {
	return func(b *Broker) { b.sleep = fn }
}

// WithLimiter shares a limiter with other components.
func WithLimiter(l *ratelimit.Limiter) BrokerOption {
	return func(b *Broker) { b.limiter = l }
}

// Broker opens, warms and recycles upstream sessions and runs requests through the
// rate limiter, the per-kind circuit breaker and the retry policy.
type Broker struct {
	cfg      config.UpstreamConfig
	log      *applogger.Logger
	limiter  *ratelimit.Limiter
	capacity float64
	refill   float64
	sleep    func(ctx context.Context, d time.Duration) error

	mu       sync.Mutex
	sessions map[models.ChainKind]*Session
	breakers map[models.ChainKind]*gobreaker.CircuitBreaker
}

func NewBroker(cfg config.UpstreamConfig, log *applogger.Logger, opts ...BrokerOption) *Broker {
	if log == nil {
		log = applogger.Nop()
	}
	b := &Broker{
		cfg:      cfg,
		log:      log.Component("session_broker"),
		limiter:  ratelimit.New(),
		sleep:    sleepCtx,
		sessions: make(map[models.ChainKind]*Session, 2),
		breakers: make(map[models.ChainKind]*gobreaker.CircuitBreaker, 2),
	}
	b.capacity, b.refill = ratelimit.PerMinute(cfg.RequestsPerMinute)
	for _, opt := range opts {
		opt(b)
	}
	for _, kind := range []models.ChainKind{models.KindIndex, models.KindEquity} {
		b.breakers[kind] = b.newBreaker(kind)
	}
	return b
}

func (b *Broker) newBreaker(kind models.ChainKind) *gobreaker.CircuitBreaker {
	bc := b.cfg.Breaker
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "nse-" + string(kind),
		MaxRequests: 1,
		Interval:    bc.Interval,
		Timeout:     bc.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests == 0 || counts.Requests < bc.MinRequests {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= bc.FailureRatio
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			b.log.Warn("circuit breaker state changed",
				applogger.String("breaker", name), applogger.String("from", from.String()), applogger.String("to", to.String()))
		},
		// 4xx other than 429 count as successes
		IsSuccessful: func(err error) bool {
			if err == nil || errors.Is(err, context.Canceled) {
				return true
			}
			var se *xhttp.StatusError
			if errors.As(err, &se) {
				return se.StatusCode < 500 && se.StatusCode != http.StatusTooManyRequests
			}
			return false
		},
	})
}

// Acquire returns a live session for kind, warming a new one when none exists or
// the current one is older than the session TTL.
func (b *Broker) Acquire(ctx context.Context, kind models.ChainKind) (*Session, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if s, ok := b.sessions[kind]; ok && time.Since(s.createdAt) < b.cfg.SessionTTL {
		return s, nil
	}

	s, err := b.warm(ctx, kind)
	if err != nil {
		return nil, err
	}
	b.sessions[kind] = s
	return s, nil
}

// Invalidate drops the session for kind so the next Acquire warms a fresh one.
func (b *Broker) Invalidate(kind models.ChainKind) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if s, ok := b.sessions[kind]; ok {
		s.client.CloseIdle()
		delete(b.sessions, kind)
	}
}

// Close releases every session.
func (b *Broker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for kind, s := range b.sessions {
		s.client.CloseIdle()
		delete(b.sessions, kind)
	}
	return nil
}

func (b *Broker) landingURL(kind models.ChainKind) string {
	path := b.cfg.IndexLandingPath
	if kind == models.KindEquity {
		path = b.cfg.EquityLandingPath
		if strings.Contains(path, "%s") {
			path = fmt.Sprintf(path, url.QueryEscape(b.cfg.WarmupSymbol))
		}
	}
	return strings.TrimRight(b.cfg.BaseURL, "/") + path
}

func (b *Broker) warm(ctx context.Context, kind models.ChainKind) (*Session, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fault.Upstream("create cookie jar", err)
	}
	client := xhttp.NewClient(
		xhttp.WithTimeout(b.cfg.Timeout),
		xhttp.WithCookieJar(jar),
		xhttp.WithInsecureSkipVerify(b.cfg.InsecureSkipVerify),
		xhttp.WithHeader("User-Agent", b.cfg.UserAgent),
		xhttp.WithHeader("Accept-Language", "en-US,en;q=0.9"),
	)

	html := map[string]string{"Accept": "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8"}
	root := strings.TrimRight(b.cfg.BaseURL, "/") + "/"
	if err := client.SendAndParse(ctx, &xhttp.RequestOptions{Method: xhttp.MethodGet, URL: root, Headers: html}, nil); err != nil {
		return nil, fmt.Errorf("warm root: %w", err)
	}

	landing := b.landingURL(kind)
	html["Referer"] = root
	var page bytes.Buffer
	if err := client.SendAndParse(ctx, &xhttp.RequestOptions{Method: xhttp.MethodGet, URL: landing, Headers: html}, &page); err != nil {
		return nil, fmt.Errorf("warm landing: %w", err)
	}
	if blockedPage(&page) {
		return nil, errAccessDenied
	}

	base, err := url.Parse(root)
	if err != nil {
		return nil, fault.Upstream("parse base url", err)
	}
	if len(jar.Cookies(base)) == 0 {
		return nil, errors.New("warm-up produced no cookies")
	}

	b.log.Debug("session warmed", applogger.String("kind", string(kind)), applogger.Int("cookies", len(jar.Cookies(base))))
	return &Session{Kind: kind, client: client, referer: landing, createdAt: time.Now()}, nil
}

func blockedPage(page *bytes.Buffer) bool {
	if page.Len() == 0 {
		return false
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page.Bytes()))
	if err != nil {
		return false
	}
	title := strings.ToLower(doc.Find("title").First().Text())
	return strings.Contains(title, "access denied")
}

// Get performs an API GET against endpoint for kind. Throttling and 5xx answers
// are retried with exponential backoff; a 401 drops the session and retries once
// with a fresh one. Failures surface as UpstreamUnavailable or Cancellation.
func (b *Broker) Get(ctx context.Context, kind models.ChainKind, endpoint string, query map[string][]string) ([]byte, error) {
	op := "get " + endpoint
	body, err := b.getWithRetry(ctx, kind, endpoint, query)
	if isStatus(err, http.StatusUnauthorized) {
		b.log.Warn("session rejected, reacquiring", applogger.String("kind", string(kind)))
		b.Invalidate(kind)
		body, err = b.getWithRetry(ctx, kind, endpoint, query)
	}
	if err == nil {
		return body, nil
	}

	var fe *fault.Error
	switch {
	case errors.As(err, &fe):
		return nil, err
	case ctx.Err() != nil:
		return nil, fault.Cancelled(op, ctx.Err())
	default:
		return nil, fault.Upstream(op, err)
	}
}

func (b *Broker) getWithRetry(ctx context.Context, kind models.ChainKind, endpoint string, query map[string][]string) ([]byte, error) {
	attempts := max(1, b.cfg.MaxAttempts)
	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			wait := b.cfg.BackoffBase << (attempt - 1)
			b.log.Warn("retrying upstream request",
				applogger.String("kind", string(kind)), applogger.String("endpoint", endpoint),
				applogger.Int("attempt", attempt+1), applogger.Duration("backoff_ms", wait), applogger.Error(lastErr))
			if err := b.sleep(ctx, wait); err != nil {
				return nil, fault.Cancelled("backoff", err)
			}
		}

		body, err := b.once(ctx, kind, endpoint, query)
		if err == nil {
			return body, nil
		}
		lastErr = err
		if !retryable(ctx, err) {
			return nil, err
		}
	}
	return nil, fmt.Errorf("after %d attempts: %w", attempts, lastErr)
}

func (b *Broker) once(ctx context.Context, kind models.ChainKind, endpoint string, query map[string][]string) ([]byte, error) {
	if err := b.limiter.Wait(ctx, "nse", b.capacity, b.refill); err != nil {
		return nil, fault.Cancelled("rate limit", err)
	}

	// an in-flight request outlives shutdown and ends on its own timeout
	reqCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), b.cfg.Timeout)
	defer cancel()

	res, err := b.breakers[kind].Execute(func() (interface{}, error) {
		sess, err := b.Acquire(reqCtx, kind)
		if err != nil {
			return nil, err
		}
		var body []byte
		err = sess.client.SendAndParse(reqCtx, &xhttp.RequestOptions{
			Method:      xhttp.MethodGet,
			URL:         strings.TrimRight(b.cfg.BaseURL, "/") + endpoint,
			QueryParams: query,
			Headers: map[string]string{
				"Accept":           "application/json, text/plain, */*",
				"Referer":          sess.referer,
				"X-Requested-With": "XMLHttpRequest",
			},
		}, &body)
		return body, err
	})
	if err != nil {
		return nil, err
	}
	return res.([]byte), nil
}

func retryable(ctx context.Context, err error) bool {
	if ctx.Err() != nil || errors.Is(err, errAccessDenied) {
		return false
	}
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return false
	}
	var fe *fault.Error
	if errors.As(err, &fe) {
		return false
	}
	var se *xhttp.StatusError
	if errors.As(err, &se) {
		return retryableStatus[se.StatusCode]
	}
	// transport failure
	return true
}

func isStatus(err error, code int) bool {
	var se *xhttp.StatusError
	return errors.As(err, &se) && se.StatusCode == code
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
