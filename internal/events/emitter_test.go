package events

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmitter_FillHandlers(t *testing.T) {
	e := New(zerolog.Nop())

	var received []FillRecord
	e.OnFill(func(rec FillRecord) { received = append(received, rec) })

	rec := FillRecord{
		Symbol: "BTCUSDT",
		Side:   "BUY",
		Price:  decimal.RequireFromString("50000"),
		Amount: decimal.RequireFromString("0.5"),
	}
	e.EmitFill(rec)

	require.Len(t, received, 1)
	assert.Equal(t, "BTCUSDT", received[0].Symbol)
}

func TestEmitter_HandlersRunInRegistrationOrder(t *testing.T) {
	e := New(zerolog.Nop())

	var order []int
	e.OnInfo(func(string) { order = append(order, 1) })
	e.OnInfo(func(string) { order = append(order, 2) })
	e.OnInfo(func(string) { order = append(order, 3) })

	e.EmitInfo("hello")
	assert.Equal(t, []int{1, 2, 3}, order)
}

func TestEmitter_EmitWithoutHandlersIsSafe(t *testing.T) {
	e := New(zerolog.Nop())

	e.EmitFill(FillRecord{})
	e.EmitPositionUpdate(json.RawMessage(`{}`))
	e.EmitOrderManager(3)
	e.EmitBatchResolved([]BatchOutcome{{OrderID: "x", Err: errors.New("boom")}})
	e.EmitError("err")
	e.EmitInfo("info")
}

func TestEmitter_BatchResolved(t *testing.T) {
	e := New(zerolog.Nop())

	var outcomes []BatchOutcome
	e.OnBatchResolved(func(o []BatchOutcome) { outcomes = o })

	e.EmitBatchResolved([]BatchOutcome{
		{OrderID: "a"},
		{OrderID: "b", Err: errors.New("rejected")},
	})

	require.Len(t, outcomes, 2)
	assert.NoError(t, outcomes[0].Err)
	assert.Error(t, outcomes[1].Err)
}

func TestEmitter_OrderManagerDepth(t *testing.T) {
	e := New(zerolog.Nop())

	var depths []int
	e.OnOrderManager(func(depth int) { depths = append(depths, depth) })

	e.EmitOrderManager(5)
	e.EmitOrderManager(0)
	assert.Equal(t, []int{5, 0}, depths)
}
