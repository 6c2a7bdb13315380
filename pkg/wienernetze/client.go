package wienernetze

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
	"golang.org/x/time/rate"
)

const (
	DefaultBaseURL       = "https://api.wstw.at/gateway/WN_SMART_METER_API/1.0"
	DefaultTokenURL      = "https://api.wstw.at/oauth2/token"
	DefaultTimeout       = 30 * time.Second
	DefaultTokenLifetime = 3600 * time.Second
	// tokens expiring within this margin are refreshed before use
	TokenRefreshMargin = 5 * time.Minute

	APIKeyHeader = "x-Gateway-APIKey"

	maxAuthRetries = 1
	maxBodySize    = 10 << 20
)

// MeterReader is the read side of the smart meter API.
type MeterReader interface {
	Authenticate(ctx context.Context) error
	GetMeterPoints(ctx context.Context) ([]MeterPoint, error)
	GetConsumptionData(ctx context.Context, meterPointID, dateFrom, dateTo string, granularity Granularity) (*Consumption, error)
}

type Credentials struct {
	ClientID     string
	ClientSecret string
	APIKey       string
}

// RequestObserver is notified after every gateway call. status is 0 when
// no response was received.
type RequestObserver func(endpoint string, status int, duration time.Duration)

type Client struct {
	creds      Credentials
	baseURL    string
	tokenURL   string
	httpClient *http.Client
	timeout    time.Duration
	limiter    *rate.Limiter
	observer   RequestObserver
	now        func() time.Time
	logger     *zap.Logger

	mu    sync.Mutex
	token *Token
}

var _ MeterReader = (*Client)(nil)

type Option func(*Client)

func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = strings.TrimRight(u, "/") }
}

func WithTokenURL(u string) Option {
	return func(c *Client) { c.tokenURL = u }
}

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// WithRateLimit paces gateway calls to perSecond requests. Zero disables pacing.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(c *Client) {
		if perSecond <= 0 {
			c.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

func WithRequestObserver(o RequestObserver) Option {
	return func(c *Client) { c.observer = o }
}

func WithLogger(l *zap.Logger) Option {
	return func(c *Client) { c.logger = l }
}

func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

func NewClient(creds Credentials, opts ...Option) *Client {
	c := &Client{
		creds:      creds,
		baseURL:    DefaultBaseURL,
		tokenURL:   DefaultTokenURL,
		httpClient: &http.Client{},
		timeout:    DefaultTimeout,
		now:        time.Now,
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger.Debug("wienernetze client initialized", zap.String("base_url", c.baseURL))
	return c
}

// Authenticate performs a client-credentials exchange and replaces the
// current token.
func (c *Client) Authenticate(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.authenticateLocked(ctx)
}

// EnsureToken authenticates unless the current token is valid for more than
// TokenRefreshMargin, and returns the access token to send.
func (c *Client) EnsureToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.token.ValidAt(c.now(), TokenRefreshMargin) {
		if err := c.authenticateLocked(ctx); err != nil {
			return "", err
		}
	}
	return c.token.Value, nil
}

// Token returns a copy of the current token, or nil.
func (c *Client) Token() *Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token == nil {
		return nil
	}
	t := *c.token
	return &t
}

func (c *Client) InvalidateToken() {
	c.mu.Lock()
	c.token = nil
	c.mu.Unlock()
}

func (c *Client) setToken(t *Token) {
	c.mu.Lock()
	c.token = t
	c.mu.Unlock()
}

func (c *Client) authenticateLocked(ctx context.Context) error {
	c.logger.Debug("authenticating", zap.String("token_url", c.tokenURL))

	cfg := clientcredentials.Config{
		ClientID:     c.creds.ClientID,
		ClientSecret: c.creds.ClientSecret,
		TokenURL:     c.tokenURL,
		AuthStyle:    oauth2.AuthStyleInParams,
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.tokenHTTPClient())

	start := c.now()
	tok, err := cfg.Token(ctx)
	if err != nil {
		authErr := tokenError(err)
		c.observe("token", authErr.StatusCode, start)
		c.logger.Warn("authentication failed", zap.Error(authErr))
		return authErr
	}
	c.observe("token", http.StatusOK, start)

	expiresAt := tok.Expiry
	if expiresAt.IsZero() {
		expiresAt = c.now().Add(DefaultTokenLifetime)
	}
	c.token = &Token{Value: tok.AccessToken, ExpiresAt: expiresAt}

	c.logger.Info("authenticated with wienernetze api", zap.Time("expires_at", expiresAt))
	return nil
}

// tokenStatusError is a token endpoint answer other than 200.
type tokenStatusError struct {
	status int
	body   []byte
}

func (e *tokenStatusError) Error() string {
	return fmt.Sprintf("token endpoint returned %d", e.status)
}

// tokenTransport fails every token response that is not a 200, x/oauth2
// would accept any 2xx.
type tokenTransport struct {
	base http.RoundTripper
}

func (t tokenTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.base.RoundTrip(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
		return nil, &tokenStatusError{status: resp.StatusCode, body: body}
	}
	return resp, nil
}

func (c *Client) tokenHTTPClient() *http.Client {
	base := c.httpClient.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	hc := *c.httpClient
	hc.Transport = tokenTransport{base: base}
	return &hc
}

func tokenError(err error) *Error {
	var sErr *tokenStatusError
	if errors.As(err, &sErr) {
		if sErr.status == http.StatusUnauthorized {
			return newError(KindAuth, sErr.status, "invalid credentials", err)
		}
		return newError(KindAuth, sErr.status, fmt.Sprintf("authentication failed: %d - %s", sErr.status, sErr.body), err)
	}
	var rErr *oauth2.RetrieveError
	if errors.As(err, &rErr) {
		status := 0
		if rErr.Response != nil {
			status = rErr.Response.StatusCode
		}
		if status == http.StatusUnauthorized {
			return newError(KindAuth, status, "invalid credentials", err)
		}
		return newError(KindAuth, status, fmt.Sprintf("authentication failed: %d - %s", status, rErr.Body), err)
	}
	var uErr *url.Error
	if errors.As(err, &uErr) || errors.Is(err, context.DeadlineExceeded) {
		return transportError(err)
	}
	return newError(KindAuth, 0, "authentication failed", err)
}

// Request performs an authenticated gateway call and returns the raw JSON
// body. A 401 invalidates the token and the call is retried once.
func (c *Client) Request(ctx context.Context, method, endpoint string, params url.Values) (json.RawMessage, error) {
	for attempt := 0; ; attempt++ {
		token, err := c.EnsureToken(ctx)
		if err != nil {
			return nil, err
		}

		status, body, err := c.do(ctx, method, endpoint, token, params)
		if err != nil {
			return nil, err
		}

		if status == http.StatusUnauthorized && attempt < maxAuthRetries {
			c.logger.Warn("access token rejected, re-authenticating", zap.String("endpoint", endpoint))
			c.InvalidateToken()
			continue
		}

		if err := statusError(status, body); err != nil {
			return nil, err
		}
		return body, nil
	}
}

func (c *Client) do(ctx context.Context, method, endpoint, token string, params url.Values) (int, []byte, error) {
	u := c.baseURL + "/" + strings.TrimLeft(endpoint, "/")
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	route := path.Base(endpoint)

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return 0, nil, newError(KindTimeout, 0, "rate limiter wait", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, u, nil)
	if err != nil {
		return 0, nil, newError(KindBadRequest, 0, "invalid request", err)
	}
	for k, v := range c.headers(token) {
		req.Header.Set(k, v)
	}

	c.logger.Debug("api request", zap.String("method", method), zap.String("url", u))

	start := c.now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.observe(route, 0, start)
		return 0, nil, transportError(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	c.observe(route, resp.StatusCode, start)
	if err != nil {
		return 0, nil, transportError(err)
	}

	c.logger.Debug("api response", zap.Int("status", resp.StatusCode), zap.String("url", u))
	return resp.StatusCode, body, nil
}

func (c *Client) headers(token string) map[string]string {
	h := map[string]string{
		APIKeyHeader:   c.creds.APIKey,
		"Content-Type": "application/json",
		"Accept":       "application/json",
	}
	if token != "" {
		h["Authorization"] = "Bearer " + token
	}
	return h
}

func (c *Client) observe(route string, status int, start time.Time) {
	if c.observer != nil {
		c.observer(route, status, c.now().Sub(start))
	}
}

// GetMeterPoints lists the meter points visible to the credentials. The
// gateway answers either {"items": [...]} or a bare array.
func (c *Client) GetMeterPoints(ctx context.Context) ([]MeterPoint, error) {
	body, err := c.Request(ctx, http.MethodGet, "zaehlpunkte", nil)
	if err != nil {
		c.logger.Error("failed to fetch meter points", zap.Error(err))
		return nil, err
	}

	mps, err := decodeMeterPoints(body)
	if err != nil {
		return nil, err
	}
	c.logger.Info("retrieved meter points", zap.Int("count", len(mps)))
	return mps, nil
}

func decodeMeterPoints(body []byte) ([]MeterPoint, error) {
	trimmed := bytes.TrimSpace(body)
	mps := []MeterPoint{}
	if len(trimmed) > 0 && trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &mps); err != nil {
			return nil, newError(KindAPI, http.StatusOK, "invalid meter point list", err)
		}
		return mps, nil
	}
	var page struct {
		Items []MeterPoint `json:"items"`
	}
	if err := json.Unmarshal(trimmed, &page); err != nil {
		return nil, newError(KindAPI, http.StatusOK, "invalid meter point list", err)
	}
	if page.Items != nil {
		mps = page.Items
	}
	return mps, nil
}

// GetConsumptionData fetches the readings of a meter point for the inclusive
// date range [dateFrom, dateTo] (YYYY-MM-DD).
func (c *Client) GetConsumptionData(ctx context.Context, meterPointID, dateFrom, dateTo string, granularity Granularity) (*Consumption, error) {
	if err := validateConsumptionQuery(meterPointID, dateFrom, dateTo, granularity); err != nil {
		return nil, err
	}

	c.logger.Debug("fetching consumption data",
		zap.String("meter_point", meterPointID),
		zap.String("from", dateFrom),
		zap.String("to", dateTo),
		zap.String("granularity", string(granularity)))

	params := url.Values{}
	params.Set("datumVon", dateFrom)
	params.Set("datumBis", dateTo)
	params.Set("wertetyp", string(granularity))

	body, err := c.Request(ctx, http.MethodGet, fmt.Sprintf("zaehlpunkte/%s/messwerte", url.PathEscape(meterPointID)), params)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			c.logger.Error("meter point not found", zap.String("meter_point", meterPointID))
		} else {
			c.logger.Error("failed to fetch consumption data", zap.String("meter_point", meterPointID), zap.Error(err))
		}
		return nil, err
	}

	var consumption Consumption
	if err := json.Unmarshal(body, &consumption); err != nil {
		return nil, newError(KindAPI, http.StatusOK, "invalid consumption data", err)
	}

	c.logger.Info("retrieved readings",
		zap.String("meter_point", meterPointID),
		zap.Int("count", len(FlattenReadings(&consumption))))
	return &consumption, nil
}

func validateConsumptionQuery(meterPointID, dateFrom, dateTo string, granularity Granularity) error {
	if meterPointID == "" {
		return newError(KindBadRequest, 0, "empty meter point id", nil)
	}
	from, err := time.Parse(DateLayout, dateFrom)
	if err != nil {
		return newError(KindBadRequest, 0, fmt.Sprintf("invalid date %q", dateFrom), err)
	}
	to, err := time.Parse(DateLayout, dateTo)
	if err != nil {
		return newError(KindBadRequest, 0, fmt.Sprintf("invalid date %q", dateTo), err)
	}
	if to.Before(from) {
		return newError(KindBadRequest, 0, fmt.Sprintf("date range %s..%s is reversed", dateFrom, dateTo), nil)
	}
	if !granularity.Valid() {
		return newError(KindBadRequest, 0, fmt.Sprintf("invalid granularity %q", granularity), nil)
	}
	return nil
}
