package wienernetze

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeGateway struct {
	server *httptest.Server

	tokenCalls atomic.Int32
	apiCalls   atomic.Int32

	tokenStatus int
	expiresIn   int
	// statuses returned by the api, one per call; 200 once exhausted
	apiStatuses []int
	apiBody     string

	lastForm   atomic.Value
	lastHeader atomic.Value
	lastQuery  atomic.Value
}

func newFakeGateway(t *testing.T) *fakeGateway {
	g := &fakeGateway{tokenStatus: http.StatusOK, expiresIn: 3600, apiBody: `{"items":[]}`}
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth2/token", func(w http.ResponseWriter, r *http.Request) {
		n := g.tokenCalls.Add(1)
		_ = r.ParseForm()
		g.lastForm.Store(r.PostForm)
		if g.tokenStatus >= http.StatusMultipleChoices {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(g.tokenStatus)
			_, _ = w.Write([]byte(`{"error":"invalid_client"}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(g.tokenStatus)
		resp := map[string]any{
			"access_token": fmt.Sprintf("token-%d", n),
			"token_type":   "Bearer",
		}
		if g.expiresIn > 0 {
			resp["expires_in"] = g.expiresIn
		}
		_ = json.NewEncoder(w).Encode(resp)
	})
	mux.HandleFunc("/api/", func(w http.ResponseWriter, r *http.Request) {
		n := int(g.apiCalls.Add(1))
		g.lastHeader.Store(r.Header.Clone())
		g.lastQuery.Store(r.URL.Query())
		status := http.StatusOK
		if n <= len(g.apiStatuses) {
			status = g.apiStatuses[n-1]
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		if status == http.StatusOK {
			_, _ = w.Write([]byte(g.apiBody))
		} else {
			_, _ = w.Write([]byte(`{"message":"nope"}`))
		}
	})
	g.server = httptest.NewServer(mux)
	t.Cleanup(g.server.Close)
	return g
}

func (g *fakeGateway) client(opts ...Option) *Client {
	base := []Option{
		WithBaseURL(g.server.URL + "/api"),
		WithTokenURL(g.server.URL + "/oauth2/token"),
		WithTimeout(2 * time.Second),
		WithLogger(zap.NewNop()),
	}
	return NewClient(Credentials{ClientID: "id", ClientSecret: "secret", APIKey: "key"}, append(base, opts...)...)
}

func TestAuthenticateSendsClientCredentials(t *testing.T) {
	require := require.New(t)
	g := newFakeGateway(t)
	c := g.client()

	require.NoError(c.Authenticate(context.Background()))

	form := g.lastForm.Load().(url.Values)
	assert.Equal(t, []string{"client_credentials"}, form["grant_type"])
	assert.Equal(t, []string{"id"}, form["client_id"])
	assert.Equal(t, []string{"secret"}, form["client_secret"])

	tok := c.Token()
	require.NotNil(tok)
	assert.Equal(t, "token-1", tok.Value)
	assert.WithinDuration(t, time.Now().Add(time.Hour), tok.ExpiresAt, time.Minute)
}

func TestAuthenticateDefaultsExpiry(t *testing.T) {
	g := newFakeGateway(t)
	g.expiresIn = 0
	c := g.client()

	require.NoError(t, c.Authenticate(context.Background()))
	assert.WithinDuration(t, time.Now().Add(DefaultTokenLifetime), c.Token().ExpiresAt, time.Minute)
}

func TestAuthenticateInvalidCredentials(t *testing.T) {
	g := newFakeGateway(t)
	g.tokenStatus = http.StatusUnauthorized
	c := g.client()

	err := c.Authenticate(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAuth)
	assert.ErrorIs(t, err, ErrAPI)
	assert.NotErrorIs(t, err, ErrConnection)
	assert.Contains(t, err.Error(), "invalid credentials")
	assert.Nil(t, c.Token())
}

func TestAuthenticateOtherStatusIsAuthError(t *testing.T) {
	for _, status := range []int{http.StatusCreated, http.StatusBadRequest, http.StatusInternalServerError} {
		t.Run(http.StatusText(status), func(t *testing.T) {
			g := newFakeGateway(t)
			g.tokenStatus = status
			c := g.client()

			err := c.Authenticate(context.Background())
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrAuth)
			assert.Contains(t, err.Error(), fmt.Sprint(status))
			assert.Nil(t, c.Token(), "no token is stored")

			var authErr *Error
			require.True(t, errors.As(err, &authErr))
			assert.Equal(t, status, authErr.StatusCode)
		})
	}
}

func TestAuthenticateConnectionRefused(t *testing.T) {
	g := newFakeGateway(t)
	c := g.client()
	g.server.Close()

	err := c.Authenticate(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConnection)
	assert.NotErrorIs(t, err, ErrAuth)
}

func TestAuthenticateTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(300 * time.Millisecond)
	}))
	defer srv.Close()

	c := NewClient(Credentials{ClientID: "id", ClientSecret: "secret"},
		WithTokenURL(srv.URL), WithTimeout(50*time.Millisecond))

	err := c.Authenticate(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestEnsureTokenRefreshMargin(t *testing.T) {
	g := newFakeGateway(t)
	now := time.Date(2024, 11, 10, 12, 0, 0, 0, time.UTC)
	c := g.client(WithClock(func() time.Time { return now }))

	c.setToken(&Token{Value: "fresh", ExpiresAt: now.Add(10 * time.Minute)})
	token, err := c.EnsureToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "fresh", token)
	assert.Equal(t, int32(0), g.tokenCalls.Load(), "token valid for 10 minutes is kept")

	c.setToken(&Token{Value: "stale", ExpiresAt: now.Add(4 * time.Minute)})
	token, err = c.EnsureToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "token-1", token)
	assert.Equal(t, int32(1), g.tokenCalls.Load(), "token expiring in 4 minutes is refreshed")
	assert.Equal(t, "token-1", c.Token().Value)
}

func TestEnsureTokenFailureReturnsNoToken(t *testing.T) {
	g := newFakeGateway(t)
	g.tokenStatus = http.StatusUnauthorized
	c := g.client()

	token, err := c.EnsureToken(context.Background())
	require.Error(t, err)
	assert.Empty(t, token)
}

func TestRequestHeaders(t *testing.T) {
	g := newFakeGateway(t)
	c := g.client()

	_, err := c.GetMeterPoints(context.Background())
	require.NoError(t, err)

	h := g.lastHeader.Load().(http.Header)
	assert.Equal(t, "key", h.Get(APIKeyHeader))
	assert.Equal(t, "application/json", h.Get("Content-Type"))
	assert.Equal(t, "Bearer token-1", h.Get("Authorization"))
}

func TestRequestRetriesOnceOn401(t *testing.T) {
	g := newFakeGateway(t)
	g.apiStatuses = []int{http.StatusUnauthorized}
	c := g.client()

	_, err := c.GetMeterPoints(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(2), g.tokenCalls.Load(), "one initial and one re-authentication")
	assert.Equal(t, int32(2), g.apiCalls.Load(), "original and retried request")
	assert.Equal(t, "token-2", c.Token().Value)
}

func TestRequestSecond401IsNotRetried(t *testing.T) {
	g := newFakeGateway(t)
	g.apiStatuses = []int{http.StatusUnauthorized, http.StatusUnauthorized, http.StatusUnauthorized}
	c := g.client()

	_, err := c.GetMeterPoints(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAuth)
	assert.Equal(t, int32(2), g.tokenCalls.Load())
	assert.Equal(t, int32(2), g.apiCalls.Load())
}

func TestRequestStatusMapping(t *testing.T) {
	cases := []struct {
		status int
		target error
	}{
		{http.StatusBadRequest, ErrBadRequest},
		{http.StatusForbidden, ErrAuth},
		{http.StatusNotFound, ErrNotFound},
		{http.StatusRequestTimeout, ErrTimeout},
		{http.StatusTooManyRequests, ErrRateLimit},
		{http.StatusInternalServerError, ErrAPI},
		{http.StatusServiceUnavailable, ErrAPI},
		{http.StatusAccepted, ErrAPI},
		{http.StatusConflict, ErrAPI},
	}
	for _, tc := range cases {
		t.Run(http.StatusText(tc.status), func(t *testing.T) {
			g := newFakeGateway(t)
			g.apiStatuses = []int{tc.status}
			c := g.client()

			_, err := c.GetMeterPoints(context.Background())
			require.Error(t, err)
			assert.ErrorIs(t, err, tc.target)

			var apiErr *Error
			require.True(t, errors.As(err, &apiErr))
			assert.Equal(t, tc.status, apiErr.StatusCode)
			assert.Equal(t, int32(1), g.apiCalls.Load(), "no retry")
		})
	}
}

func TestServerErrorMessage(t *testing.T) {
	g := newFakeGateway(t)
	g.apiStatuses = []int{http.StatusBadGateway}
	c := g.client()

	_, err := c.GetMeterPoints(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server error: 502")

	var apiErr *Error
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, KindAPI, apiErr.Kind)
}

func TestRequestTimeout(t *testing.T) {
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(300 * time.Millisecond)
	}))
	defer slow.Close()

	c := NewClient(Credentials{ClientID: "id", ClientSecret: "secret", APIKey: "key"},
		WithBaseURL(slow.URL), WithTimeout(50*time.Millisecond), WithLogger(zap.NewNop()))
	c.setToken(&Token{Value: "valid", ExpiresAt: time.Now().Add(time.Hour)})

	_, err := c.GetMeterPoints(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTimeout)
	assert.NotErrorIs(t, err, ErrConnection)
}

func TestRequestConnectionError(t *testing.T) {
	g := newFakeGateway(t)
	c := g.client()
	require.NoError(t, c.Authenticate(context.Background()))
	c.baseURL = "http://127.0.0.1:1"

	_, err := c.GetMeterPoints(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConnection)
	assert.NotNil(t, errors.Unwrap(err), "transport failure is wrapped")
}

func TestGetMeterPointsItemsAndBareArray(t *testing.T) {
	mp := TestMeterPoint()
	raw, err := json.Marshal(mp)
	require.NoError(t, err)

	for name, body := range map[string]string{
		"items": fmt.Sprintf(`{"items":[%s]}`, raw),
		"array": fmt.Sprintf(`[%s]`, raw),
	} {
		t.Run(name, func(t *testing.T) {
			g := newFakeGateway(t)
			g.apiBody = body
			c := g.client()

			mps, err := c.GetMeterPoints(context.Background())
			require.NoError(t, err)
			require.Len(t, mps, 1)
			assert.Equal(t, mp.ID, mps[0].ID)
			assert.Equal(t, "Beispielgasse", mps[0].Address.Street)
		})
	}
}

func TestGetMeterPointsEmpty(t *testing.T) {
	g := newFakeGateway(t)
	g.apiBody = `{}`
	c := g.client()

	mps, err := c.GetMeterPoints(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, mps)
	assert.Empty(t, mps)
}

func TestGetConsumptionData(t *testing.T) {
	g := newFakeGateway(t)
	g.apiBody = `{
		"zaehlpunkt": "AT001",
		"zaehlwerke": [{
			"obisCode": "1-1:1.9.0",
			"einheit": "KWH",
			"messwerte": [
				{"messwert": 0.15, "qualitaet": "VAL", "zeitVon": "2024-11-10T00:00:00.000+01:00", "zeitBis": "2024-11-10T00:15:00.000+01:00"},
				{"messwert": 1, "qualitaet": "EST", "zeitVon": "2024-11-10T00:15:00.000+01:00", "zeitBis": "2024-11-10T00:30:00.000+01:00"}
			]
		}]
	}`
	c := g.client()

	cons, err := c.GetConsumptionData(context.Background(), "AT001", "2024-11-10", "2024-11-10", GranularityQuarterHour)
	require.NoError(t, err)

	q := g.lastQuery.Load().(url.Values)
	assert.Equal(t, []string{"2024-11-10"}, q["datumVon"])
	assert.Equal(t, []string{"2024-11-10"}, q["datumBis"])
	assert.Equal(t, []string{"QUARTER_HOUR"}, q["wertetyp"])

	assert.Equal(t, "AT001", cons.MeterPointID)
	readings := FlattenReadings(cons)
	require.Len(t, readings, 2)
	assert.Equal(t, QualityEstimated, readings[1].Quality)
	assert.InDelta(t, 1.15, TotalConsumption(readings), 1e-9)
}

func TestGetConsumptionDataNotFound(t *testing.T) {
	g := newFakeGateway(t)
	g.apiStatuses = []int{http.StatusNotFound}
	c := g.client()

	_, err := c.GetConsumptionData(context.Background(), "AT404", "2024-11-10", "2024-11-10", GranularityDay)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGetConsumptionDataValidatesQuery(t *testing.T) {
	g := newFakeGateway(t)
	c := g.client()
	ctx := context.Background()

	_, err := c.GetConsumptionData(ctx, "AT001", "10.11.2024", "2024-11-10", GranularityDay)
	assert.ErrorIs(t, err, ErrBadRequest)
	_, err = c.GetConsumptionData(ctx, "AT001", "2024-11-11", "2024-11-10", GranularityDay)
	assert.ErrorIs(t, err, ErrBadRequest)
	_, err = c.GetConsumptionData(ctx, "AT001", "2024-11-10", "2024-11-10", Granularity("HOURLY"))
	assert.ErrorIs(t, err, ErrBadRequest)
	_, err = c.GetConsumptionData(ctx, "", "2024-11-10", "2024-11-10", GranularityDay)
	assert.ErrorIs(t, err, ErrBadRequest)

	assert.Equal(t, int32(0), g.tokenCalls.Load(), "no I/O for invalid queries")
	assert.Equal(t, int32(0), g.apiCalls.Load())
}

func TestRequestObserver(t *testing.T) {
	g := newFakeGateway(t)
	var routes []string
	var statuses []int
	c := g.client(WithRequestObserver(func(endpoint string, status int, _ time.Duration) {
		routes = append(routes, endpoint)
		statuses = append(statuses, status)
	}))

	_, err := c.GetMeterPoints(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"token", "zaehlpunkte"}, routes)
	assert.Equal(t, []int{200, 200}, statuses)
}

func TestRateLimitedClient(t *testing.T) {
	g := newFakeGateway(t)
	c := g.client(WithRateLimit(1000, 1))

	for i := 0; i < 3; i++ {
		_, err := c.GetMeterPoints(context.Background())
		require.NoError(t, err)
	}
	assert.Equal(t, int32(3), g.apiCalls.Load())
	assert.Equal(t, int32(1), g.tokenCalls.Load(), "token is reused")
}
