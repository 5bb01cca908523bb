package payments

import (
	"context"
	"fmt"
	"sync"
)

// stubGateway behaves like the processor for the calls the service makes:
// idempotency keys replay the first result and intents keep their state.
type stubGateway struct {
	mu sync.Mutex

	seq      int
	sessions []CheckoutSessionRequest
	intents  map[string]*PaymentIntent
	byKey    map[string]string

	refundCalls []RefundRequest
	refunds     map[string]*ProcessorRefund
	refundErrs  []error
	retrieveErr error
}

func newStubGateway() *stubGateway {
	return &stubGateway{
		intents: make(map[string]*PaymentIntent),
		byKey:   make(map[string]string),
		refunds: make(map[string]*ProcessorRefund),
	}
}

func (g *stubGateway) CreateCheckoutSession(_ context.Context, req CheckoutSessionRequest) (*CheckoutSession, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.seq++
	g.sessions = append(g.sessions, req)
	var total int64
	for _, line := range req.Lines {
		total += line.UnitAmountCents * int64(line.Quantity)
	}
	id := fmt.Sprintf("cs_test_%d", g.seq)
	return &CheckoutSession{ID: id, URL: "https://checkout.example/" + id, AmountTotalCents: total}, nil
}

func (g *stubGateway) CreatePaymentIntent(_ context.Context, req PaymentIntentRequest) (*PaymentIntent, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if id, ok := g.byKey[req.IdempotencyKey]; ok && req.IdempotencyKey != "" {
		copied := *g.intents[id]
		return &copied, nil
	}
	g.seq++
	intent := &PaymentIntent{
		ID:           fmt.Sprintf("pi_test_%d", g.seq),
		Status:       IntentRequiresPaymentMethod,
		AmountCents:  req.AmountCents,
		Currency:     req.Currency,
		Metadata:     req.Metadata,
		ClientSecret: fmt.Sprintf("pi_test_%d_secret", g.seq),
	}
	g.intents[intent.ID] = intent
	if req.IdempotencyKey != "" {
		g.byKey[req.IdempotencyKey] = intent.ID
	}
	copied := *intent
	return &copied, nil
}

func (g *stubGateway) RetrieveIntent(_ context.Context, id string) (*PaymentIntent, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.retrieveErr != nil {
		return nil, g.retrieveErr
	}
	intent, ok := g.intents[id]
	if !ok {
		return nil, fmt.Errorf("no such intent %s", id)
	}
	copied := *intent
	return &copied, nil
}

func (g *stubGateway) Refund(_ context.Context, req RefundRequest) (*ProcessorRefund, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.refundCalls = append(g.refundCalls, req)
	if len(g.refundErrs) > 0 {
		err := g.refundErrs[0]
		g.refundErrs = g.refundErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	if existing, ok := g.refunds[req.IdempotencyKey]; ok {
		copied := *existing
		return &copied, nil
	}
	amount := int64(0)
	if req.AmountCents != nil {
		amount = *req.AmountCents
	}
	r := &ProcessorRefund{ID: fmt.Sprintf("re_test_%d", len(g.refunds)+1), Status: "succeeded", AmountCents: amount}
	g.refunds[req.IdempotencyKey] = r
	copied := *r
	return &copied, nil
}

// setIntent moves an intent to a new processor state.
func (g *stubGateway) setIntent(id string, status IntentStatus, lastError string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.intents[id].Status = status
	g.intents[id].LastError = lastError
}

func (g *stubGateway) intent(id string) PaymentIntent {
	g.mu.Lock()
	defer g.mu.Unlock()
	return *g.intents[id]
}
