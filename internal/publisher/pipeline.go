// Package publisher implements the Outbound Publisher Pipeline from
// SPEC_FULL.md §4.4: per-connection dispatch of mapped outbound signals
// through address rendering, reserved-header extraction, signing, a
// bounded-parallelism HTTP dispatch stage, and response correlation back to
// the sender. It is grounded on the teacher's webhook delivery engine (HTTP
// client with pooled transport, retry-free per-request delivery, atomic
// metrics counters) generalized from single-shot webhook sends to the
// full outbound signal → request → response → acknowledgment cycle.
package publisher

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/redbco/redb-connect/internal/addresstemplate"
	"github.com/redbco/redb-connect/internal/correlator"
	"github.com/redbco/redb-connect/internal/ditterr"
	"github.com/redbco/redb-connect/internal/model"
	"github.com/redbco/redb-connect/internal/signing"
	"github.com/redbco/redb-connect/internal/throttle"
	"github.com/redbco/redb-connect/internal/workerpool"
	"github.com/redbco/redb-connect/pkg/logger"
)

// RequestState is the per-request state machine SPEC_FULL.md §4.4 names:
// PENDING -> DISPATCHED -> (RESPONDED|FAILED|TIMED_OUT) -> REPLIED.
type RequestState string

const (
	StatePending    RequestState = "PENDING"
	StateDispatched RequestState = "DISPATCHED"
	StateResponded  RequestState = "RESPONDED"
	StateFailed     RequestState = "FAILED"
	StateTimedOut   RequestState = "TIMED_OUT"
	StateReplied    RequestState = "REPLIED"
)

const reservedHeaderMethod = "http.method"
const reservedHeaderPath = "http.path"
const reservedHeaderQuery = "http.query"

// ReplyFunc is invoked exactly once per mapped outbound signal with the
// resulting acknowledgments aggregate, fulfilling the "reply to the sender
// for any single outbound signal is emitted exactly once" ordering
// guarantee in SPEC_FULL.md §5.
type ReplyFunc func(agg *model.AcknowledgmentsAggregate)

// Pipeline is the per-connection outbound publisher.
type Pipeline struct {
	connection *model.Connection
	signer     signing.Signer // nil if the connection carries no credentials
	httpClient *http.Client
	pool       *workerpool.Pool
	log        *logger.Logger
	window     *throttle.Window // nil disables throttling-window accounting

	dispatched int64
	responded  int64
	failed     int64
	timedOut   int64
}

// Config tunes a Pipeline's dispatch stage.
type Config struct {
	MaxInFlight    int
	RequestTimeout time.Duration
}

// New builds a Pipeline for a Connection. window, when non-nil, is ticked on
// every dispatch so SPEC_FULL.md §4.4's "metrics counters advance in the
// throttling window" side effect is observable by the connection's
// throttling alert. New returns an error if the connection carries
// credentials for an unsupported/misconfigured signing algorithm.
func New(conn *model.Connection, cfg Config, log *logger.Logger, window *throttle.Window) (*Pipeline, error) {
	if cfg.MaxInFlight < 1 {
		cfg.MaxInFlight = 10
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}

	var signer signing.Signer
	if conn.Credentials != nil {
		s, err := signing.ForCredentials(*conn.Credentials)
		if err != nil {
			return nil, err
		}
		signer = s
	}

	httpClient := &http.Client{
		Timeout: cfg.RequestTimeout,
		Transport: &http.Transport{
			TLSClientConfig:     &tls.Config{InsecureSkipVerify: false},
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
		},
	}

	return &Pipeline{
		connection: conn,
		signer:     signer,
		httpClient: httpClient,
		pool:       workerpool.New(cfg.MaxInFlight),
		log:        log,
		window:     window,
	}, nil
}

// Dispatch renders, signs and sends one target's request for a mapped
// outbound signal, asynchronously. reply is invoked exactly once, from a
// pool worker goroutine, once the request's state machine reaches REPLIED.
func (p *Pipeline) Dispatch(ctx context.Context, signal model.MappedOutboundSignal, cmd correlator.Command, reply ReplyFunc) {
	p.pool.Submit(ctx, func(ctx context.Context) error {
		state := StatePending
		agg, err := p.deliver(ctx, signal, cmd, &state)
		state = StateReplied
		if reply != nil {
			reply(agg)
		}
		return err
	})
}

// deliver runs one request end to end: render address, extract reserved
// headers, sign, send, correlate. It never returns a hard error for
// per-signal failures (PlaceholderUnresolved, TransportFailure, Timeout all
// become acknowledgment aggregates); an error return is reserved for
// connection-lifecycle problems the caller should treat as fatal.
func (p *Pipeline) deliver(ctx context.Context, signal model.MappedOutboundSignal, cmd correlator.Command, state *RequestState) (*model.AcknowledgmentsAggregate, error) {
	rendered, err := addresstemplate.Render(signal.Target.Address, signal.Resolver)
	if err != nil {
		return failureAggregate(cmd, err), nil
	}
	rendered = ReservedOverrides(rendered, signal.Message.Headers)

	headers := extractReservedHeaders(rendered, signal.Message.Headers)

	body := []byte(signal.Message.TextPayload)
	if len(signal.Message.BytePayload) > 0 {
		body = signal.Message.BytePayload
	}

	req := signing.Request{
		Method:  rendered.Method,
		URI:     rendered.Path,
		Query:   parseQuery(rendered.Query),
		Headers: headers,
		Body:    body,
	}

	if p.signer != nil {
		signedReq, err := p.signer.Sign(req, time.Now())
		if err != nil {
			return failureAggregate(cmd, err), nil
		}
		req = signedReq
	}

	*state = StateDispatched
	atomic.AddInt64(&p.dispatched, 1)
	if p.window != nil {
		p.window.Tick(time.Now())
	}

	resp, err := p.send(ctx, req)
	if err != nil {
		*state = StateFailed
		atomic.AddInt64(&p.failed, 1)
		if ctxErrorIsDeadline(err) {
			*state = StateTimedOut
			atomic.AddInt64(&p.timedOut, 1)
			return timeoutAggregate(cmd), nil
		}
		return failureAggregate(cmd, ditterr.TransportFailure("outbound request failed", err)), nil
	}

	*state = StateResponded
	atomic.AddInt64(&p.responded, 1)
	return correlator.Correlate(cmd, *resp), nil
}

// send performs the signed HTTP request against the connection's base URI.
func (p *Pipeline) send(ctx context.Context, req signing.Request) (*correlator.Response, error) {
	target := p.connection.URI + req.URI
	if len(req.Query) > 0 {
		target += "?" + encodeQuery(req.Query)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, target, bytes.NewReader(req.Body))
	if err != nil {
		return nil, fmt.Errorf("build http request: %w", err)
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}

	httpResp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}

	respHeaders := make(map[string]string, len(httpResp.Header))
	for k := range httpResp.Header {
		respHeaders[k] = httpResp.Header.Get(k)
	}

	return &correlator.Response{
		Status:      httpResp.StatusCode,
		ContentType: httpResp.Header.Get("Content-Type"),
		Headers:     respHeaders,
		Body:        respBody,
	}, nil
}

// extractReservedHeaders returns a copy of a mapped signal's header map
// without http.method/http.path/http.query (per SPEC_FULL.md §6, these are
// reserved and never emitted as HTTP headers). Applying them to the rendered
// method/path/query is done by ReservedOverrides, not here.
func extractReservedHeaders(rendered addresstemplate.Rendered, headers map[string]string) map[string]string {
	out := make(map[string]string, len(headers))
	for k, v := range headers {
		switch k {
		case reservedHeaderMethod, reservedHeaderPath, reservedHeaderQuery:
			// applied by ReservedOverrides, never forwarded as an HTTP header
		default:
			out[k] = v
		}
	}
	return out
}

// ReservedOverrides applies http.method/http.path/http.query reserved
// headers on top of an address template's render result, matching
// SPEC_FULL.md §8 scenario 7.
func ReservedOverrides(rendered addresstemplate.Rendered, headers map[string]string) addresstemplate.Rendered {
	out := rendered
	if v, ok := headers[reservedHeaderMethod]; ok {
		out.Method = strings.ToUpper(v)
	}
	if v, ok := headers[reservedHeaderPath]; ok {
		out.Path = "/" + strings.TrimPrefix(v, "/")
	}
	if v, ok := headers[reservedHeaderQuery]; ok {
		out.Query = v
	}
	return out
}

func parseQuery(raw string) map[string][]string {
	values, err := url.ParseQuery(raw)
	if err != nil {
		return map[string][]string{}
	}
	return map[string][]string(values)
}

func encodeQuery(q map[string][]string) string {
	values := url.Values(q)
	return values.Encode()
}

func ctxErrorIsDeadline(err error) bool {
	return err == context.DeadlineExceeded || strings.Contains(err.Error(), "context deadline exceeded") ||
		strings.Contains(err.Error(), "Client.Timeout exceeded")
}

func failureAggregate(cmd correlator.Command, err error) *model.AcknowledgmentsAggregate {
	agg := model.NewAcknowledgmentsAggregate(cmd.CorrelationID)
	label := cmd.IssuedAckLabel
	if label == "" {
		label = "LIVE_RESPONSE"
	}
	agg.Put(model.AcknowledgmentEnvelope{Label: label, Status: 502, Payload: []byte(fmt.Sprintf("%q", err.Error()))})
	agg.FillTimeouts(cmd.RequestedAckLabels)
	return agg
}

func timeoutAggregate(cmd correlator.Command) *model.AcknowledgmentsAggregate {
	agg := model.NewAcknowledgmentsAggregate(cmd.CorrelationID)
	label := cmd.IssuedAckLabel
	if label == "" {
		label = "LIVE_RESPONSE"
	}
	agg.Put(model.AcknowledgmentEnvelope{Label: label, Status: int(model.AckGatewayTO), TimedOut: true})
	agg.FillTimeouts(cmd.RequestedAckLabels)
	return agg
}

// Metrics reports the pipeline's dispatch counters, the HTTP-delivery
// analogue of the teacher's webhooksSent/Succeeded/Failed counters.
func (p *Pipeline) Metrics() map[string]int64 {
	return map[string]int64{
		"dispatched": atomic.LoadInt64(&p.dispatched),
		"responded":  atomic.LoadInt64(&p.responded),
		"failed":     atomic.LoadInt64(&p.failed),
		"timed_out":  atomic.LoadInt64(&p.timedOut),
	}
}

// InFlight returns the number of in-flight requests this pipeline is
// currently dispatching.
func (p *Pipeline) InFlight() int {
	return p.pool.InFlight()
}

// Drain waits for all submitted dispatches to complete, or until ctx is
// cancelled — used when closing a connection per SPEC_FULL.md §5's
// "Closing a connection drains the publisher's in-flight set" rule.
func (p *Pipeline) Drain(ctx context.Context) {
	done := make(chan struct{})
	go func() {
		p.pool.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}
}
