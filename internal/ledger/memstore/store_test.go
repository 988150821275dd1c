package memstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mindvault/credit-service/internal/ledger"
	"mindvault/credit-service/internal/ledger/ledgertest"
)

func TestStoreContract(t *testing.T) {
	ledgertest.Run(t, func(t *testing.T) ledger.Store {
		return New()
	})
}

func TestProcessed(t *testing.T) {
	s := New()
	assert.False(t, s.Processed("e1"))

	_, err := ledger.NewEngine(s, nil).ApplyEvent(context.Background(), "u1", ledgertest.Starter, "e1")
	require.NoError(t, err)
	assert.True(t, s.Processed("e1"))
}
