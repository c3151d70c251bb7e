package rest

import (
	"context"

	"safecex/internal/events"
	"safecex/internal/orders"
)

// Submit is the dispatch queue's fast path: the single-order endpoint
// for one payload, the batch endpoint for more. When the batch request
// itself fails (transport, HTTP status or venue error), every payload
// in the lot maps to the same error.
func (c *Client) Submit(ctx context.Context, payloads []*orders.Payload) []events.BatchOutcome {
	outcomes := make([]events.BatchOutcome, 0, len(payloads))

	if len(payloads) == 1 {
		p := payloads[0]
		_, err := c.PlaceOrder(ctx, p)
		outcomes = append(outcomes, events.BatchOutcome{OrderID: p.ClientID(), Err: err})
		return outcomes
	}

	entries, err := c.PlaceBatch(ctx, payloads)
	if err != nil {
		for _, p := range payloads {
			outcomes = append(outcomes, events.BatchOutcome{OrderID: p.ClientID(), Err: err})
		}
		return outcomes
	}

	for i, p := range payloads {
		outcome := events.BatchOutcome{OrderID: p.ClientID()}
		if i < len(entries) && entries[i].IsError() {
			outcome.Err = &APIError{Code: entries[i].Code, Message: entries[i].Msg}
		}
		outcomes = append(outcomes, outcome)
	}
	return outcomes
}
