// Package dispatch pushes access-tier changes to the remote products.
//
// A push is best effort: every target is called in parallel with its own
// timeout, a failing target never cancels or delays the others, and failures
// are logged and counted rather than retried. Remote products re-pull access
// on the user's next login, which corrects any push that was lost.
//
// Trigger is fire-and-forget and returns immediately; Wait drains in-flight
// batches during shutdown.
package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/tbourn/go-entitlements/internal/observability"
)

// SecretHeader carries the shared secret on outbound pushes.
const SecretHeader = "X-Shared-Secret"

// DefaultTimeout bounds each push when none is configured.
const DefaultTimeout = 5 * time.Second

// Push outcomes, also used as metric labels.
const (
	OutcomeOK             = "ok"
	OutcomeHTTPError      = "http_error"
	OutcomeTransportError = "transport_error"
	OutcomeTimeout        = "timeout"
)

// Target is one push to one remote product.
type Target struct {
	ProductID string
	URL       string
	Payload   Payload
}

// Payload is the JSON body a remote product receives.
type Payload struct {
	Email  string `json:"email"`
	Tier   string `json:"tier"`
	Source string `json:"source,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// Result is the outcome of one push.
type Result struct {
	Target   Target
	Outcome  string
	Status   int
	Err      error
	Duration time.Duration
}

// Dispatcher fans pushes out to remote products.
type Dispatcher struct {
	Client  *http.Client
	Secret  string
	Timeout time.Duration

	wg sync.WaitGroup
}

// New returns a Dispatcher with its own HTTP client. timeout <= 0 selects
// DefaultTimeout.
func New(secret string, timeout time.Duration) *Dispatcher {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Dispatcher{
		Client:  &http.Client{},
		Secret:  secret,
		Timeout: timeout,
	}
}

// Trigger starts pushing targets in the background and returns immediately.
// The batch is detached from ctx cancellation (the triggering request may
// finish first) but keeps its values for logging and tracing.
func (d *Dispatcher) Trigger(ctx context.Context, targets []Target) {
	if len(targets) == 0 {
		return
	}
	bg := context.WithoutCancel(ctx)
	d.wg.Add(1)
	observability.SyncInflight.Inc()
	go func() {
		defer d.wg.Done()
		defer observability.SyncInflight.Dec()
		d.Dispatch(bg, targets)
	}()
}

// Wait blocks until all triggered batches finish or ctx is done.
func (d *Dispatcher) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Dispatch pushes every target in parallel and returns one Result per target
// in input order. It never returns early because of a failing target.
func (d *Dispatcher) Dispatch(ctx context.Context, targets []Target) []Result {
	tr := otel.Tracer("dispatch/Dispatcher")
	ctx, span := tr.Start(ctx, "Dispatch",
		trace.WithAttributes(attribute.Int("targets", len(targets))),
	)
	defer span.End()

	results := make([]Result, len(targets))

	// Plain Group: no shared cancellation, each goroutine reports its own error.
	var g errgroup.Group
	for i, t := range targets {
		g.Go(func() error {
			results[i] = d.push(ctx, t)
			return nil
		})
	}
	_ = g.Wait()

	failed := 0
	for _, r := range results {
		observability.SyncPushesTotal.WithLabelValues(r.Target.ProductID, r.Outcome).Inc()
		observability.SyncPushDuration.WithLabelValues(r.Target.ProductID).Observe(r.Duration.Seconds())

		ev := log.Debug()
		if r.Err != nil {
			failed++
			ev = log.Warn().Err(r.Err)
		}
		ev.Str("product_id", r.Target.ProductID).
			Str("tier", r.Target.Payload.Tier).
			Str("outcome", r.Outcome).
			Int("status", r.Status).
			Dur("latency", r.Duration).
			Msg("sync push")
	}
	span.SetAttributes(attribute.Int("failed", failed))
	return results
}

func (d *Dispatcher) push(ctx context.Context, t Target) Result {
	start := time.Now()
	res := Result{Target: t}

	ctx, cancel := context.WithTimeout(ctx, d.timeout())
	defer cancel()

	body, err := json.Marshal(t.Payload)
	if err != nil {
		res.Outcome, res.Err = OutcomeTransportError, err
		return res
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.URL, bytes.NewReader(body))
	if err != nil {
		res.Outcome, res.Err = OutcomeTransportError, err
		return res
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(SecretHeader, d.Secret)
	observability.InjectHeaders(ctx, req.Header)

	resp, err := d.client().Do(req)
	res.Duration = time.Since(start)
	if err != nil {
		res.Err = err
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			res.Outcome = OutcomeTimeout
		} else {
			res.Outcome = OutcomeTransportError
		}
		return res
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	res.Status = resp.StatusCode
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		res.Outcome = OutcomeHTTPError
		res.Err = fmt.Errorf("sync %s: unexpected status %d", t.ProductID, resp.StatusCode)
		return res
	}
	res.Outcome = OutcomeOK
	return res
}

func (d *Dispatcher) timeout() time.Duration {
	if d.Timeout <= 0 {
		return DefaultTimeout
	}
	return d.Timeout
}

func (d *Dispatcher) client() *http.Client {
	if d.Client == nil {
		return http.DefaultClient
	}
	return d.Client
}
