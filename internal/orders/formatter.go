package orders

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"safecex/internal/market"
	"safecex/internal/store"
)

// Formatter is the pure transform from placement intents to venue
// payloads. It reads market constraints from the catalog and current
// account state (hedge mode, tickers, positions) from the store.
type Formatter struct {
	catalog *market.Catalog
	store   *store.Store
	logger  zerolog.Logger

	newClientID func() string
}

// NewFormatter creates a new order formatter
func NewFormatter(catalog *market.Catalog, st *store.Store, logger zerolog.Logger) *Formatter {
	return &Formatter{
		catalog:     catalog,
		store:       st,
		logger:      logger,
		newClientID: func() string { return uuid.New().String() },
	}
}

// Format converts a simple intent into one or more venue payloads.
// Amounts above the market's max order size split into equal lots plus
// a remainder lot; attached stop-loss/take-profit become extra
// close-position payloads on the opposite side.
func (f *Formatter) Format(intent Intent) ([]*Payload, error) {
	m, err := f.catalog.Get(intent.Symbol)
	if err != nil {
		return nil, err
	}

	var payloads []*Payload

	if intent.Type == store.OrderTypeTrailingStopLoss {
		payloads, err = f.formatTrailing(intent, m)
		if err != nil {
			return nil, err
		}
		return f.assignClientIDs(payloads), nil
	}

	hedged := f.store.Hedged()
	posSide := orderPositionSide(hedged, intent.Side, intent.Type, intent.ReduceOnly)

	for _, lot := range f.splitLots(m, intent.Amount) {
		payloads = append(payloads, f.buildSimple(m, intent, posSide, lot, hedged))
	}

	if intent.StopLoss != nil {
		payloads = append(payloads, f.buildAttached(m, intent, store.OrderTypeStopLoss, *intent.StopLoss, hedged))
	}
	if intent.TakeProfit != nil {
		payloads = append(payloads, f.buildAttached(m, intent, store.OrderTypeTakeProfit, *intent.TakeProfit, hedged))
	}

	return f.assignClientIDs(payloads), nil
}

// FormatSplit converts a split intent into a ladder of limit payloads.
// The quote amount is distributed across rungs priced from FromPrice to
// ToPrice with sizes scaled linearly from FromScale to ToScale.
func (f *Formatter) FormatSplit(intent SplitIntent) ([]*Payload, error) {
	m, err := f.catalog.Get(intent.Symbol)
	if err != nil {
		return nil, err
	}
	if _, err := f.store.Ticker(intent.Symbol); err != nil {
		return nil, err
	}
	if intent.Orders < 2 {
		return nil, fmt.Errorf("split requires at least 2 orders, got %d", intent.Orders)
	}

	avgPrice := intent.FromPrice.Add(intent.ToPrice).Div(decimal.NewFromInt(2))
	totalQty := intent.Amount.Div(avgPrice)

	minSize := m.Limits.Amount.Min
	minNotional := m.Limits.MinNotional

	feasible := func(n int) bool {
		lowest := intent.FromScale.Div(weightSum(intent.FromScale, intent.ToScale, n)).Mul(totalQty)
		if lowest.LessThan(minSize) {
			return false
		}
		return lowest.Mul(intent.FromPrice).GreaterThanOrEqual(minNotional)
	}

	n := intent.Orders
	if !feasible(n) {
		if !intent.AutoReAdjust {
			return nil, fmt.Errorf("%w: Scale too extreme", ErrScaleInfeasible)
		}
		for n--; n >= 3; n-- {
			if feasible(n) {
				break
			}
		}
		if n < 3 {
			return nil, fmt.Errorf("%w: cannot split", ErrScaleInfeasible)
		}
		f.logger.Debug().
			Str("symbol", intent.Symbol).
			Int("requested", intent.Orders).
			Int("adjusted", n).
			Msg("split order count reduced to stay feasible")
	}

	hedged := f.store.Hedged()
	posSide := orderPositionSide(hedged, intent.Side, store.OrderTypeLimit, false)

	w := weightSum(intent.FromScale, intent.ToScale, n)
	scaleSpan := intent.ToScale.Sub(intent.FromScale)
	priceStep := intent.ToPrice.Sub(intent.FromPrice).Div(decimal.NewFromInt(int64(n - 1)))
	notionalFloor := minNotional.Mul(decimal.NewFromFloat(1.05))
	promoted := minNotional.Mul(decimal.NewFromFloat(1.1))

	payloads := make([]*Payload, 0, n)
	for i := 0; i < n; i++ {
		step := decimal.NewFromInt(int64(i)).Div(decimal.NewFromInt(int64(n - 1)))
		weight := intent.FromScale.Add(scaleSpan.Mul(step))
		size := totalQty.Mul(weight).Div(w)
		price := intent.FromPrice.Add(priceStep.Mul(decimal.NewFromInt(int64(i))))

		// Undersized rungs are bumped just above the venue minimum so a
		// partial fill elsewhere on the ladder cannot strand them.
		if size.Mul(price).LessThan(notionalFloor) {
			size = promoted.Div(price)
		}

		p := NewPayload()
		p.Set("symbol", m.Symbol)
		p.Set("side", venueSide(intent.Side))
		p.Set("positionSide", posSide)
		p.Set("type", venueTypeLimit)
		p.Set("quantity", m.SnapAmount(size).String())
		p.Set("price", m.SnapPrice(price).String())
		p.Set("timeInForce", timeInForceGTC)
		if !hedged {
			p.Set("reduceOnly", "false")
		}
		payloads = append(payloads, p)
	}

	return f.assignClientIDs(payloads), nil
}

// FormatUpdate produces the replacement payloads for a price/amount
// update. The venue has no in-place modify for the covered order
// types, so the caller cancels the returned client ID and places the
// replacement payloads.
func (f *Formatter) FormatUpdate(intent UpdateIntent) (cancelID string, payloads []*Payload, err error) {
	o := intent.Order

	price := o.Price
	if intent.Price != nil {
		price = *intent.Price
	}
	amount := o.Amount
	if intent.Amount != nil {
		amount = *intent.Amount
	}

	payloads, err = f.Format(Intent{
		Symbol:     o.Symbol,
		Type:       o.Type,
		Side:       o.Side,
		Price:      price,
		Amount:     amount,
		ReduceOnly: o.ReduceOnly,
	})
	if err != nil {
		return "", nil, err
	}

	return o.ID, payloads, nil
}

// formatTrailing emits a trailing stop closing the open position on
// the opposite position side, sized to the full position.
func (f *Formatter) formatTrailing(intent Intent, m *market.Market) ([]*Payload, error) {
	ticker, err := f.store.Ticker(intent.Symbol)
	if err != nil {
		return nil, err
	}

	targetSide := store.PositionSideShort
	if intent.Side == store.OrderSideSell {
		targetSide = store.PositionSideLong
	}
	position, err := f.store.Position(intent.Symbol, targetSide)
	if err != nil {
		return nil, err
	}

	hedged := f.store.Hedged()
	posSide := orderPositionSide(hedged, intent.Side, store.OrderTypeTrailingStopLoss, intent.ReduceOnly)

	priceDistance := m.SnapPrice(ticker.Last.Sub(intent.Price).Abs())
	callbackRate := priceDistance.Mul(decimal.NewFromInt(100)).Div(ticker.Last).Round(1)

	p := NewPayload()
	p.Set("symbol", m.Symbol)
	p.Set("side", venueSide(intent.Side))
	p.Set("positionSide", posSide)
	p.Set("type", venueTypeTrailingStop)
	p.Set("quantity", position.Contracts.String())
	p.Set("callbackRate", callbackRate.String())
	p.Set("priceProtect", "true")

	return []*Payload{p}, nil
}

// buildSimple emits the primary payload for one lot of a simple intent
func (f *Formatter) buildSimple(m *market.Market, intent Intent, posSide string, lot decimal.Decimal, hedged bool) *Payload {
	p := NewPayload()
	p.Set("symbol", m.Symbol)
	p.Set("side", venueSide(intent.Side))
	p.Set("positionSide", posSide)
	p.Set("type", venueOrderType(intent.Type))

	switch intent.Type {
	case store.OrderTypeStopLoss, store.OrderTypeTakeProfit:
		// Close-position stops carry no quantity, price or reduceOnly
		p.Set("stopPrice", m.SnapPrice(intent.Price).String())
		p.Set("closePosition", "true")

	case store.OrderTypeLimit:
		p.Set("quantity", lot.String())
		p.Set("price", m.SnapPrice(intent.Price).String())
		tif := intent.TimeInForce
		if tif == "" {
			tif = timeInForceGTC
		}
		p.Set("timeInForce", tif)
		if intent.ReduceOnly && !hedged {
			p.Set("reduceOnly", "true")
		}

	default: // market
		p.Set("quantity", lot.String())
		if intent.ReduceOnly && !hedged {
			p.Set("reduceOnly", "true")
		}
	}

	return p
}

// buildAttached emits the protective payload attached to a simple
// intent: a close-position stop on the opposite side.
func (f *Formatter) buildAttached(m *market.Market, intent Intent, typ store.OrderType, stopPrice decimal.Decimal, hedged bool) *Payload {
	posSide := orderPositionSide(hedged, intent.Side, typ, intent.ReduceOnly)

	p := NewPayload()
	p.Set("symbol", m.Symbol)
	p.Set("side", venueSide(oppositeSide(intent.Side)))
	p.Set("positionSide", posSide)
	p.Set("type", venueOrderType(typ))
	p.Set("stopPrice", m.SnapPrice(stopPrice).String())
	p.Set("closePosition", "true")

	return p
}

// splitLots divides an amount into lots honoring the market's max
// order size. The full lots are snapped; the remainder lot carries
// whatever the full lots left over.
func (f *Formatter) splitLots(m *market.Market, amount decimal.Decimal) []decimal.Decimal {
	maxAmount := m.Limits.Amount.Max
	if !maxAmount.IsPositive() || amount.LessThanOrEqual(maxAmount) {
		return []decimal.Decimal{m.SnapAmount(amount)}
	}

	n := amount.Div(maxAmount).Ceil().IntPart()
	full := m.SnapAmount(amount.Div(decimal.NewFromInt(n)))

	lots := make([]decimal.Decimal, 0, n+1)
	for i := int64(0); i < n; i++ {
		lots = append(lots, full)
	}

	remainder := amount.Sub(full.Mul(decimal.NewFromInt(n)))
	if remainder.IsPositive() {
		lots = append(lots, remainder)
	}
	return lots
}

// assignClientIDs gives every payload a fresh client ID. IDs are
// assigned last so every formatting path shares one source.
func (f *Formatter) assignClientIDs(payloads []*Payload) []*Payload {
	for _, p := range payloads {
		p.Set("newClientOrderId", f.newClientID())
	}
	return payloads
}

// orderPositionSide resolves the hedge-mode position side for an
// order. Protective and reduce-only orders flip to the side they
// close.
func orderPositionSide(hedged bool, side store.OrderSide, typ store.OrderType, reduceOnly bool) string {
	if !hedged {
		return positionSideBoth
	}

	ps := positionSideLong
	if side == store.OrderSideSell {
		ps = positionSideShort
	}

	if isProtective(typ) || reduceOnly {
		if ps == positionSideLong {
			ps = positionSideShort
		} else {
			ps = positionSideLong
		}
	}

	return ps
}

// weightSum is the normalizing constant of the linear rung scale
func weightSum(fromScale, toScale decimal.Decimal, n int) decimal.Decimal {
	if fromScale.Equal(toScale) {
		return fromScale.Mul(decimal.NewFromInt(int64(n)))
	}

	span := toScale.Sub(fromScale)
	denom := decimal.NewFromInt(int64(n - 1))
	sum := decimal.Zero
	for i := 0; i < n; i++ {
		w := fromScale.Add(span.Mul(decimal.NewFromInt(int64(i))).Div(denom))
		sum = sum.Add(w)
	}
	return sum
}
