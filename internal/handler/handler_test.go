package handler

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mindvault/credit-service/internal/auth"
	"mindvault/credit-service/internal/catalog"
	"mindvault/credit-service/internal/dedup"
	"mindvault/credit-service/internal/ledger"
	"mindvault/credit-service/internal/ledger/memstore"
)

const internalKey = "test-internal-key"

type testEnv struct {
	app *fiber.App
	key *rsa.PrivateKey
}

func testCatalog(t *testing.T) *catalog.Catalog {
	t.Helper()
	cat, err := catalog.New("test", []catalog.Bundle{
		{Price: decimal.RequireFromString("5.00"), Credits: 100, Metadata: json.RawMessage(`{"id":"starter","price_eur":5.0}`)},
		{Price: decimal.RequireFromString("9.99"), Credits: 220, BonusUnits: 1},
	})
	require.NoError(t, err)
	return cat
}

func newEnv(t *testing.T, l Ledger, guard *dedup.Guard) *testEnv {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	app := fiber.New()
	h := New(l, testCatalog(t), guard, time.Second, "memory")
	h.Register(app, auth.NewValidatorWithKey(&key.PublicKey, "mindvault-auth"), internalKey)
	return &testEnv{app: app, key: key}
}

func newMemEnv(t *testing.T) *testEnv {
	return newEnv(t, ledger.NewEngine(memstore.New(), nil), nil)
}

func (e *testEnv) do(t *testing.T, method, path, body string, headers map[string]string) (int, map[string]interface{}) {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := e.app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	out := map[string]interface{}{}
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if len(raw) > 0 {
		require.NoError(t, json.Unmarshal(raw, &out), string(raw))
	}
	return resp.StatusCode, out
}

func (e *testEnv) token(t *testing.T, uid string) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodRS256, &auth.Claims{
		UserID: uid,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "mindvault-auth",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}).SignedString(e.key)
	require.NoError(t, err)
	return tok
}

func result(t *testing.T, body map[string]interface{}) map[string]interface{} {
	t.Helper()
	assert.Equal(t, true, body["ok"])
	res, ok := body["result"].(map[string]interface{})
	require.True(t, ok, "result missing: %v", body)
	return res
}

func TestCryptoWebhookScenario(t *testing.T) {
	env := newMemEnv(t)
	payload := `{"eventId":"e1","userId":"u1","amount":5.00}`

	status, body := env.do(t, http.MethodPost, "/webhook/crypto", payload, nil)
	require.Equal(t, http.StatusOK, status)
	res := result(t, body)
	assert.Equal(t, "ok", res["status"])
	assert.Equal(t, map[string]interface{}{"id": "u1", "credits": float64(100), "lots_bonus": float64(0)}, res["user"])
	assert.Equal(t, map[string]interface{}{"id": "starter", "price_eur": 5.0}, res["bundle"])

	status, body = env.do(t, http.MethodPost, "/webhook/crypto", payload, nil)
	require.Equal(t, http.StatusOK, status)
	res = result(t, body)
	assert.Equal(t, "ignored", res["status"])
	assert.Equal(t, "duplicate_event", res["reason"])

	status, body = env.do(t, http.MethodGet, "/users/u1", "", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, map[string]interface{}{"id": "u1", "credits": float64(100), "lots_bonus": float64(0)}, body)

	status, body = env.do(t, http.MethodGet, "/users/unknown", "", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Empty(t, body)
}

func TestGetUserUnescapesID(t *testing.T) {
	env := newMemEnv(t)
	status, _ := env.do(t, http.MethodPost, "/internal/ledger/credit",
		`{"eventId":"e-team","userId":"team/7","amount":"5.00"}`, map[string]string{"X-Internal-Key": internalKey})
	require.Equal(t, http.StatusOK, status)

	status, body := env.do(t, http.MethodGet, "/users/team%2F7", "", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "team/7", body["id"])
	assert.Equal(t, float64(100), body["credits"])

	_, body = env.do(t, http.MethodGet, "/users/team", "", nil)
	assert.Empty(t, body)
}

func TestMollieAndPayPalWebhooks(t *testing.T) {
	env := newMemEnv(t)

	status, body := env.do(t, http.MethodPost, "/webhook/mollie",
		`{"id":"tr_1","amount":{"currency":"EUR","value":"9.99"},"metadata":{"userId":"u2"}}`, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ok", result(t, body)["status"])

	status, body = env.do(t, http.MethodPost, "/webhook/paypal",
		`{"id":"WH-1","resource":{"custom_id":"u2","amount":{"currency_code":"EUR","value":"5.00"}}}`, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ok", result(t, body)["status"])

	_, body = env.do(t, http.MethodGet, "/users/u2", "", nil)
	assert.Equal(t, float64(320), body["credits"])
	assert.Equal(t, float64(1), body["lots_bonus"])
}

func TestWebhookRejections(t *testing.T) {
	env := newMemEnv(t)

	cases := []struct {
		path, body, want string
	}{
		{"/webhook/crypto", `{"userId":"u1","amount":5}`, "invalid webhook payload"},
		{"/webhook/crypto", `garbage`, "invalid webhook payload"},
		{"/webhook/crypto", `{"eventId":"e9","userId":"u1","amount":9.97}`, "no matching bundle"},
		{"/webhook/mollie", `{"id":"tr_2","amount":{"value":"5.00"}}`, "invalid webhook payload"},
		{"/webhook/mollie", `{"id":"tr_3","amount":{"value":"1.00"},"metadata":{"userId":"u1"}}`, "no matching bundle"},
		{"/webhook/paypal", `{"id":"WH-2","resource":{"amount":{"value":"5.00"}}}`, "invalid webhook payload"},
	}
	for _, tc := range cases {
		status, body := env.do(t, http.MethodPost, tc.path, tc.body, nil)
		assert.Equal(t, http.StatusBadRequest, status, tc.body)
		assert.Equal(t, tc.want, body["error"], tc.body)
	}

	_, body := env.do(t, http.MethodGet, "/users/u1", "", nil)
	assert.Empty(t, body, "rejected requests must not create accounts")
}

type failingLedger struct{ err error }

func (f failingLedger) ApplyEvent(context.Context, string, catalog.Bundle, string) (*ledger.Result, error) {
	return nil, f.err
}

func (f failingLedger) GetAccount(context.Context, string) (*ledger.Account, error) {
	return nil, f.err
}

func TestStoreFailuresAreRetryable(t *testing.T) {
	env := newEnv(t, failingLedger{err: fmt.Errorf("%w: %w", ledger.ErrStoreUnavailable, errors.New("no primary"))}, nil)

	status, body := env.do(t, http.MethodPost, "/webhook/crypto", `{"eventId":"e1","userId":"u1","amount":5}`, nil)
	assert.Equal(t, http.StatusServiceUnavailable, status)
	assert.NotEmpty(t, body["error"])

	status, _ = env.do(t, http.MethodGet, "/users/u1", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, status)

	env = newEnv(t, failingLedger{err: ledger.ErrCounterOverflow}, nil)
	status, body = env.do(t, http.MethodPost, "/webhook/crypto", `{"eventId":"e1","userId":"u1","amount":5}`, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, status)
	assert.Equal(t, "credit limit exceeded", body["error"])

	env = newEnv(t, failingLedger{err: errors.New("unexpected")}, nil)
	status, _ = env.do(t, http.MethodPost, "/webhook/crypto", `{"eventId":"e1","userId":"u1","amount":5}`, nil)
	assert.Equal(t, http.StatusInternalServerError, status)
}

func TestConcurrentDuplicateDeliveries(t *testing.T) {
	env := newMemEnv(t)
	const n = 10

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		ok      int
		ignored int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			req := httptest.NewRequest(http.MethodPost, "/webhook/paypal",
				strings.NewReader(`{"id":"WH-dup","resource":{"custom_id":"u3","amount":{"value":"9.99"}}}`))
			req.Header.Set("Content-Type", "application/json")
			resp, err := env.app.Test(req, -1)
			if err != nil {
				return
			}
			defer resp.Body.Close()
			var body struct {
				Result struct {
					Status string `json:"status"`
				} `json:"result"`
			}
			if json.NewDecoder(resp.Body).Decode(&body) != nil {
				return
			}
			mu.Lock()
			defer mu.Unlock()
			switch body.Result.Status {
			case "ok":
				ok++
			case "ignored":
				ignored++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, ok)
	assert.Equal(t, n-1, ignored)
	_, body := env.do(t, http.MethodGet, "/users/u3", "", nil)
	assert.Equal(t, float64(220), body["credits"])
}

func TestInternalCreditRequiresKey(t *testing.T) {
	env := newMemEnv(t)
	payload := `{"eventId":"promo-1","userId":"u4","amount":"5.00","source":"PROMO"}`

	status, _ := env.do(t, http.MethodPost, "/internal/ledger/credit", payload, nil)
	assert.Equal(t, http.StatusForbidden, status)

	status, _ = env.do(t, http.MethodPost, "/internal/ledger/credit", payload, map[string]string{"X-Internal-Key": "wrong"})
	assert.Equal(t, http.StatusForbidden, status)

	status, body := env.do(t, http.MethodPost, "/internal/ledger/credit", payload, map[string]string{"X-Internal-Key": internalKey})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ok", result(t, body)["status"])
}

func TestBalanceRequiresToken(t *testing.T) {
	env := newMemEnv(t)

	status, _ := env.do(t, http.MethodGet, "/api/v1/credits/balance", "", nil)
	assert.Equal(t, http.StatusUnauthorized, status)

	bearer := map[string]string{"Authorization": "Bearer " + env.token(t, "u5")}
	status, body := env.do(t, http.MethodGet, "/api/v1/credits/balance", "", bearer)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "u5", body["id"])
	assert.Equal(t, float64(0), body["credits"])

	env.do(t, http.MethodPost, "/webhook/crypto", `{"eventId":"e5","userId":"u5","amount":9.99}`, nil)
	_, body = env.do(t, http.MethodGet, "/api/v1/credits/balance", "", bearer)
	assert.Equal(t, float64(220), body["credits"])
	assert.Equal(t, float64(1), body["lots_bonus"])
}

func TestHealthAndTraceID(t *testing.T) {
	env := newMemEnv(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-ID", "trace-123")
	resp, err := env.app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "trace-123", resp.Header.Get("X-Request-ID"))

	status, body := env.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "test", body["catalogVersion"])
	assert.Equal(t, float64(2), body["bundles"])
}

func TestCreditStreamRequiresUpgrade(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	guard := dedup.New(rdb, time.Minute)
	env := newEnv(t, ledger.NewEngine(memstore.New(), guard), guard)

	resp, err := env.app.Test(httptest.NewRequest(http.MethodGet, "/ws/credits", nil), -1)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUpgradeRequired, resp.StatusCode)

	// the redis marker short-circuits redeliveries once the ledger committed
	env.do(t, http.MethodPost, "/webhook/crypto", `{"eventId":"e6","userId":"u6","amount":5}`, nil)
	assert.True(t, mr.Exists("idempotency:credit:e6"))
	_, body := env.do(t, http.MethodPost, "/webhook/crypto", `{"eventId":"e6","userId":"u6","amount":5}`, nil)
	assert.Equal(t, "ignored", result(t, body)["status"])
}
