package model

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestTotalValueAndCents(t *testing.T) {
	items := []Item{
		{AssetID: "a1", Price: decimal.RequireFromString("1.25")},
		{AssetID: "a2", Price: decimal.RequireFromString("10.10")},
		{AssetID: "a3", Price: decimal.RequireFromString("0.009")},
	}

	total := TotalValue(items)
	assert.True(t, total.Equal(decimal.RequireFromString("11.359")))
	assert.Equal(t, int64(1135), Cents(total))
	assert.Equal(t, []string{"a1", "a2", "a3"}, AssetIDs(items))
}

func TestTransferOwners(t *testing.T) {
	tr := &Transfer{Entries: []TransferEntry{
		{OwnerID: "u1", AssetID: "a"},
		{OwnerID: "u2", AssetID: "b"},
		{OwnerID: "u1", AssetID: "c"},
	}}
	assert.Equal(t, []string{"u1", "u2"}, tr.Owners())
}

func TestTransferStatusTerminal(t *testing.T) {
	assert.False(t, TransferPending.Terminal())
	assert.True(t, TransferConfirmed.Terminal())
	assert.True(t, TransferCanceled.Terminal())
}
