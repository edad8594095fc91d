// Package gateway adapts payment-gateway (Stripe) webhooks into the neutral
// purchase events consumed by the service layer.
//
// Signature verification uses stripe-go's webhook package. Event payloads are
// decoded into minimal structs that only carry what entitlement processing
// needs, so new fields in the gateway's API do not affect decoding.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	stripelib "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/checkout/session"
	"github.com/stripe/stripe-go/v82/webhook"
)

// Stripe event types handled by the processor.
const (
	EventCheckoutCompleted   = "checkout.session.completed"
	EventSubscriptionCreated = "customer.subscription.created"
	EventSubscriptionUpdated = "customer.subscription.updated"
	EventSubscriptionDeleted = "customer.subscription.deleted"
)

// ErrSignature is returned when a webhook payload fails verification.
var ErrSignature = errors.New("invalid webhook signature")

// Event is a decoded gateway event. Exactly one of Checkout or Subscription
// is set for handled types; both are nil for other types.
type Event struct {
	ID           string
	Type         string
	Checkout     *Checkout
	Subscription *Subscription
	Payload      []byte
}

// Checkout is a completed checkout session.
type Checkout struct {
	SessionID      string
	CustomerID     string
	SubscriptionID string
	Email          string
	PriceID        string
	AmountTotal    *int64
	Currency       string
}

// Subscription is the state of a gateway subscription after an event.
type Subscription struct {
	ID               string
	CustomerID       string
	Status           string
	PriceID          string
	UnitAmount       *int64
	Currency         string
	CurrentPeriodEnd *time.Time
}

// Verifier checks webhook signatures and decodes events. An empty Secret
// disables verification for deployments that authenticate upstream.
type Verifier struct {
	Secret string
}

// Parse verifies payload against the Stripe-Signature header and decodes it.
func (v Verifier) Parse(payload []byte, sigHeader string) (*Event, error) {
	var evt stripelib.Event
	if strings.TrimSpace(v.Secret) != "" {
		if strings.TrimSpace(sigHeader) == "" {
			return nil, ErrSignature
		}
		e, err := webhook.ConstructEventWithOptions(payload, sigHeader, v.Secret, webhook.ConstructEventOptions{
			IgnoreAPIVersionMismatch: true,
		})
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrSignature, err)
		}
		evt = e
	} else if err := json.Unmarshal(payload, &evt); err != nil {
		return nil, fmt.Errorf("decode event: %w", err)
	}
	return Decode(&evt, payload)
}

// Decode converts a Stripe event into an Event.
func Decode(evt *stripelib.Event, payload []byte) (*Event, error) {
	if strings.TrimSpace(evt.ID) == "" {
		return nil, errors.New("event id is missing")
	}
	out := &Event{ID: evt.ID, Type: string(evt.Type), Payload: payload}
	if evt.Data == nil {
		return out, nil
	}

	switch out.Type {
	case EventCheckoutCompleted:
		var s checkoutSession
		if err := json.Unmarshal(evt.Data.Raw, &s); err != nil {
			return nil, fmt.Errorf("decode checkout.session: %w", err)
		}
		out.Checkout = s.toCheckout()

	case EventSubscriptionCreated, EventSubscriptionUpdated, EventSubscriptionDeleted:
		var s subscription
		if err := json.Unmarshal(evt.Data.Raw, &s); err != nil {
			return nil, fmt.Errorf("decode subscription: %w", err)
		}
		out.Subscription = s.toSubscription()
	}
	return out, nil
}

// checkoutSession is a minimal representation of a Stripe checkout.session.
type checkoutSession struct {
	ID              string `json:"id"`
	Customer        string `json:"customer"`
	Subscription    string `json:"subscription"`
	CustomerEmail   string `json:"customer_email"`
	CustomerDetails struct {
		Email string `json:"email"`
	} `json:"customer_details"`
	AmountTotal *int64            `json:"amount_total"`
	Currency    string            `json:"currency"`
	Metadata    map[string]string `json:"metadata"`
	LineItems   *struct {
		Data []struct {
			Price struct {
				ID string `json:"id"`
			} `json:"price"`
		} `json:"data"`
	} `json:"line_items"`
}

func (s checkoutSession) toCheckout() *Checkout {
	c := &Checkout{
		SessionID:      s.ID,
		CustomerID:     strings.TrimSpace(s.Customer),
		SubscriptionID: strings.TrimSpace(s.Subscription),
		Email:          strings.TrimSpace(s.CustomerDetails.Email),
		AmountTotal:    s.AmountTotal,
		Currency:       strings.ToLower(s.Currency),
	}
	if c.Email == "" {
		c.Email = strings.TrimSpace(s.CustomerEmail)
	}
	if p := strings.TrimSpace(s.Metadata["price_id"]); p != "" {
		c.PriceID = p
	} else if s.LineItems != nil {
		for _, li := range s.LineItems.Data {
			if id := strings.TrimSpace(li.Price.ID); id != "" {
				c.PriceID = id
				break
			}
		}
	}
	return c
}

// subscription is a minimal representation of a Stripe subscription.
type subscription struct {
	ID               string `json:"id"`
	Customer         string `json:"customer"`
	Status           string `json:"status"`
	CurrentPeriodEnd int64  `json:"current_period_end"`
	Items            struct {
		Data []struct {
			CurrentPeriodEnd int64 `json:"current_period_end"`
			Price            struct {
				ID         string `json:"id"`
				UnitAmount *int64 `json:"unit_amount"`
				Currency   string `json:"currency"`
			} `json:"price"`
		} `json:"data"`
	} `json:"items"`
}

func (s subscription) toSubscription() *Subscription {
	out := &Subscription{
		ID:         s.ID,
		CustomerID: strings.TrimSpace(s.Customer),
		Status:     s.Status,
	}
	periodEnd := s.CurrentPeriodEnd
	for _, item := range s.Items.Data {
		if id := strings.TrimSpace(item.Price.ID); id != "" {
			out.PriceID = id
			out.UnitAmount = item.Price.UnitAmount
			out.Currency = strings.ToLower(item.Price.Currency)
			// Newer API versions report the period on the item.
			if item.CurrentPeriodEnd > 0 {
				periodEnd = item.CurrentPeriodEnd
			}
			break
		}
	}
	if periodEnd > 0 {
		t := time.Unix(periodEnd, 0).UTC()
		out.CurrentPeriodEnd = &t
	}
	return out
}

// PriceResolver looks up the price bought in a checkout session when the
// event itself does not carry it.
type PriceResolver interface {
	CheckoutPriceID(ctx context.Context, sessionID string) (string, error)
}

// LineItemResolver resolves prices by listing a session's line items through
// the Stripe API.
type LineItemResolver struct {
	client *session.Client
}

// NewLineItemResolver returns a resolver using apiKey.
func NewLineItemResolver(apiKey string) *LineItemResolver {
	return &LineItemResolver{
		client: &session.Client{B: stripelib.GetBackend(stripelib.APIBackend), Key: apiKey},
	}
}

// CheckoutPriceID returns the first price id among the session's line items.
func (r *LineItemResolver) CheckoutPriceID(ctx context.Context, sessionID string) (string, error) {
	params := &stripelib.CheckoutSessionListLineItemsParams{Session: stripelib.String(sessionID)}
	params.Context = ctx
	params.Limit = stripelib.Int64(10)

	it := r.client.ListLineItems(params)
	for it.Next() {
		li := it.LineItem()
		if li != nil && li.Price != nil && li.Price.ID != "" {
			return li.Price.ID, nil
		}
	}
	if err := it.Err(); err != nil {
		return "", fmt.Errorf("list line items: %w", err)
	}
	return "", nil
}
