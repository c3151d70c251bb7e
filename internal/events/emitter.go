package events

import (
	"encoding/json"
	"sync"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// FillRecord carries the derived fields of a trade execution
type FillRecord struct {
	Symbol        string
	ClientOrderID string
	Side          string
	Price         decimal.Decimal
	Amount        decimal.Decimal
	Notional      decimal.Decimal
	RealizedPnl   decimal.Decimal
	Commission    *decimal.Decimal // nil when the venue omits it
	ReduceOnly    bool
	Maker         bool
}

// BatchOutcome is the per-payload result of a dispatched batch
type BatchOutcome struct {
	OrderID string
	Err     error
}

// Emitter fans events out to registered handlers. Handlers run
// synchronously in registration order; registration is expected to
// happen before the adapter starts.
type Emitter struct {
	mu     sync.RWMutex
	logger zerolog.Logger

	fillHandlers           []func(FillRecord)
	positionUpdateHandlers []func(json.RawMessage)
	orderManagerHandlers   []func(int)
	batchResolvedHandlers  []func([]BatchOutcome)
	errorHandlers          []func(string)
	infoHandlers           []func(string)
}

// New creates a new emitter
func New(logger zerolog.Logger) *Emitter {
	return &Emitter{logger: logger}
}

// OnFill registers a fill handler
func (e *Emitter) OnFill(fn func(FillRecord)) {
	e.mu.Lock()
	e.fillHandlers = append(e.fillHandlers, fn)
	e.mu.Unlock()
}

// OnPositionUpdate registers a raw position update handler
func (e *Emitter) OnPositionUpdate(fn func(json.RawMessage)) {
	e.mu.Lock()
	e.positionUpdateHandlers = append(e.positionUpdateHandlers, fn)
	e.mu.Unlock()
}

// OnOrderManager registers a queue depth handler
func (e *Emitter) OnOrderManager(fn func(int)) {
	e.mu.Lock()
	e.orderManagerHandlers = append(e.orderManagerHandlers, fn)
	e.mu.Unlock()
}

// OnBatchResolved registers a batch outcome handler
func (e *Emitter) OnBatchResolved(fn func([]BatchOutcome)) {
	e.mu.Lock()
	e.batchResolvedHandlers = append(e.batchResolvedHandlers, fn)
	e.mu.Unlock()
}

// OnError registers an error handler
func (e *Emitter) OnError(fn func(string)) {
	e.mu.Lock()
	e.errorHandlers = append(e.errorHandlers, fn)
	e.mu.Unlock()
}

// OnInfo registers an info handler
func (e *Emitter) OnInfo(fn func(string)) {
	e.mu.Lock()
	e.infoHandlers = append(e.infoHandlers, fn)
	e.mu.Unlock()
}

// EmitFill emits a fill record
func (e *Emitter) EmitFill(rec FillRecord) {
	e.logger.Debug().
		Str("symbol", rec.Symbol).
		Str("side", rec.Side).
		Str("price", rec.Price.String()).
		Str("amount", rec.Amount.String()).
		Msg("fill")

	e.mu.RLock()
	handlers := e.fillHandlers
	e.mu.RUnlock()

	for _, fn := range handlers {
		fn(rec)
	}
}

// EmitPositionUpdate emits a raw ACCOUNT_UPDATE payload
func (e *Emitter) EmitPositionUpdate(raw json.RawMessage) {
	e.mu.RLock()
	handlers := e.positionUpdateHandlers
	e.mu.RUnlock()

	for _, fn := range handlers {
		fn(raw)
	}
}

// EmitOrderManager emits the current queue depth
func (e *Emitter) EmitOrderManager(depth int) {
	e.mu.RLock()
	handlers := e.orderManagerHandlers
	e.mu.RUnlock()

	for _, fn := range handlers {
		fn(depth)
	}
}

// EmitBatchResolved emits the outcome list of a dispatched batch
func (e *Emitter) EmitBatchResolved(outcomes []BatchOutcome) {
	e.mu.RLock()
	handlers := e.batchResolvedHandlers
	e.mu.RUnlock()

	for _, fn := range handlers {
		fn(outcomes)
	}
}

// EmitError emits an error message
func (e *Emitter) EmitError(msg string) {
	e.logger.Error().Msg(msg)

	e.mu.RLock()
	handlers := e.errorHandlers
	e.mu.RUnlock()

	for _, fn := range handlers {
		fn(msg)
	}
}

// EmitInfo emits an informational message
func (e *Emitter) EmitInfo(msg string) {
	e.logger.Info().Msg(msg)

	e.mu.RLock()
	handlers := e.infoHandlers
	e.mu.RUnlock()

	for _, fn := range handlers {
		fn(msg)
	}
}
