package journal

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCSVRoundtrip(t *testing.T) {
	dir := t.TempDir()
	ordersPath := filepath.Join(dir, "orders.csv")
	fillsPath := filepath.Join(dir, "fills.csv")

	j, err := NewCSV(ordersPath, fillsPath)
	require.NoError(t, err)

	now := time.Date(2026, 3, 2, 15, 4, 5, 0, time.UTC)
	require.NoError(t, j.RecordOrder(OrderRecord{
		ID: "01ARZ3NDEKTSV4RRFFQ69G5FAV", BrokerID: "7", Symbol: "AAPL",
		Side: "BUY", Quantity: 10, Type: "LMT", LimitPrice: 150,
		Status: "Submitted", Time: now,
	}))
	require.NoError(t, j.RecordFill(FillRecord{OrderID: "7", Symbol: "AAPL", Quantity: 10, Price: 150, Time: now}))
	require.NoError(t, j.RecordEquity(EquitySnapshot{Time: now, Positions: 1, Exposure: 1500}))
	require.NoError(t, j.Close())

	orders, err := os.ReadFile(ordersPath)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(orders)), "\n")
	require.Len(t, lines, 3, "header, order, equity")
	assert.True(t, strings.HasPrefix(lines[0], "type,id,broker_id"))
	assert.Contains(t, lines[1], "AAPL")
	assert.Contains(t, lines[1], "Submitted")
	assert.True(t, strings.HasPrefix(lines[2], "equity"))

	fills, err := os.ReadFile(fillsPath)
	require.NoError(t, err)
	assert.Contains(t, string(fills), "7,AAPL,10,150,2026-03-02T15:04:05Z")

	// Reopening appends without duplicating headers.
	j, err = NewCSV(ordersPath, fillsPath)
	require.NoError(t, err)
	require.NoError(t, j.RecordFill(FillRecord{OrderID: "8", Symbol: "MSFT", Quantity: 5, Price: 300, Time: now}))
	require.NoError(t, j.Close())

	fills, err = os.ReadFile(fillsPath)
	require.NoError(t, err)
	flines := strings.Split(strings.TrimSpace(string(fills)), "\n")
	require.Len(t, flines, 3)
	assert.True(t, strings.HasPrefix(flines[0], "order_id"))
}
