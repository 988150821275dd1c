package creditclient_test

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mindvault/credit-service/internal/catalog"
	"mindvault/credit-service/internal/creditclient"
	"mindvault/credit-service/internal/handler"
	"mindvault/credit-service/internal/ledger"
	"mindvault/credit-service/internal/ledger/memstore"
)

func TestAgainstService(t *testing.T) {
	cat, err := catalog.New("e2e", []catalog.Bundle{
		{Price: decimal.RequireFromString("4.99"), Credits: 100},
	})
	require.NoError(t, err)

	app := fiber.New()
	handler.New(ledger.NewEngine(memstore.New(), nil), cat, nil, time.Second, "memory").
		Register(app, nil, "svc-key")
	srv := httptest.NewServer(adaptor.FiberApp(app))
	defer srv.Close()

	ctx := context.Background()
	req := creditclient.CreditRequest{
		EventID: "referral-7",
		UserID:  "u7",
		Amount:  decimal.RequireFromString("5.00"),
		Source:  "REFERRAL",
	}

	_, err = creditclient.NewHTTPClient(srv.URL, "wrong").Credit(ctx, req)
	require.Error(t, err)

	c := creditclient.NewHTTPClient(srv.URL, "svc-key")
	res, err := c.Credit(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusOK, res.Status)

	res, err = c.Credit(ctx, req)
	require.NoError(t, err)
	assert.True(t, res.Duplicate())

	acct, err := c.Account(ctx, "u7")
	require.NoError(t, err)
	assert.Equal(t, int64(100), acct.Credits)
}

func TestAccountRoundTripsReservedCharacters(t *testing.T) {
	cat, err := catalog.New("e2e", []catalog.Bundle{
		{Price: decimal.RequireFromString("5.00"), Credits: 100},
	})
	require.NoError(t, err)

	app := fiber.New()
	handler.New(ledger.NewEngine(memstore.New(), nil), cat, nil, time.Second, "memory").
		Register(app, nil, "svc-key")
	srv := httptest.NewServer(adaptor.FiberApp(app))
	defer srv.Close()

	ctx := context.Background()
	c := creditclient.NewHTTPClient(srv.URL, "svc-key")
	for i, userID := range []string{"u#1", "team/7", "a b?c=d", "50%off"} {
		_, err := c.Credit(ctx, creditclient.CreditRequest{
			EventID: "evt-" + string(rune('a'+i)),
			UserID:  userID,
			Amount:  decimal.RequireFromString("5.00"),
		})
		require.NoError(t, err, userID)

		acct, err := c.Account(ctx, userID)
		require.NoError(t, err, userID)
		assert.Equal(t, userID, acct.UserID)
		assert.Equal(t, int64(100), acct.Credits, userID)
	}

	// a prefix of a reserved-character id is a different, unknown user
	acct, err := c.Account(ctx, "u")
	require.NoError(t, err)
	assert.Zero(t, acct.Credits)
}
