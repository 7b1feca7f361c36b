package lookup

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/upilookup/am"
	"github.com/teranos/upilookup/errors"
	"github.com/teranos/upilookup/internal/httpclient"
	"github.com/teranos/upilookup/logger"
	"github.com/teranos/upilookup/pulse/budget"
)

// Placeholder is substituted with the UPI id in the endpoint template.
const Placeholder = "{upi_id}"

// UnknownBank is reported when the directory returns no bank name.
const UnknownBank = "Unknown Bank"

// maxBodyBytes caps how much of a response is read.
const maxBodyBytes = 1 << 20

// Client resolves one phone number. Implementations must be safe for concurrent use.
type Client interface {
	Lookup(ctx context.Context, phoneNumber string) Outcome
}

// Doer sends an HTTP request. *httpclient.SaferClient and *http.Client satisfy it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// HTTPClient queries the UPI directory over HTTP, probing each configured
// handle in order until one resolves.
type HTTPClient struct {
	doer     Doer
	endpoint string
	handles  []string
	timeout  time.Duration
	policy   RetryPolicy
	limiter  budget.Acquirer
	sleep    Sleeper
	logger   *zap.SugaredLogger
}

// Option configures an HTTPClient.
type Option func(*HTTPClient)

// WithDoer replaces the transport, mainly for tests.
func WithDoer(d Doer) Option {
	return func(c *HTTPClient) { c.doer = d }
}

// WithLimiter makes every request after a lookup's first acquire its own grant.
// The first request is covered by the caller's grant.
func WithLimiter(a budget.Acquirer) Option {
	return func(c *HTTPClient) { c.limiter = a }
}

// WithSleeper replaces the backoff sleeper.
func WithSleeper(s Sleeper) Option {
	return func(c *HTTPClient) { c.sleep = s }
}

// WithLogger sets the logger.
func WithLogger(l *zap.SugaredLogger) Option {
	return func(c *HTTPClient) { c.logger = l }
}

// NewHTTPClient builds a directory client from lookup config.
func NewHTTPClient(cfg am.LookupConfig, opts ...Option) (*HTTPClient, error) {
	if !strings.Contains(cfg.Endpoint, Placeholder) {
		return nil, errors.WithHint(
			errors.Newf("lookup endpoint %q has no %s placeholder", cfg.Endpoint, Placeholder),
			"set lookup.endpoint to a URL template such as https://host/upi.php?upi_id={upi_id}")
	}

	c := &HTTPClient{
		endpoint: cfg.Endpoint,
		handles:  append([]string(nil), cfg.Handles...),
		timeout:  cfg.Timeout(),
		policy:   PolicyFromConfig(cfg),
		sleep:    SleepContext,
		logger:   logger.Logger,
	}
	if len(c.handles) == 0 {
		// Bare number, no handle suffix
		c.handles = []string{""}
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.Named("lookup")

	if c.doer == nil {
		safer := httpclient.New(c.timeout, httpclient.Options{AllowPrivateIP: !cfg.BlockPrivateIPs})
		if _, err := safer.ValidateURL(c.buildURL("0")); err != nil {
			return nil, errors.Wrap(err, "lookup endpoint rejected")
		}
		c.doer = safer
	}

	return c, nil
}

type stopSignalKey struct{}

// WithStopSignal attaches stop to ctx. Once stop ends, Lookup sends no further
// requests for the phone number; a request already on the wire still
// completes and is classified. ctx itself keeps bounding that request.
func WithStopSignal(ctx, stop context.Context) context.Context {
	return context.WithValue(ctx, stopSignalKey{}, stop)
}

// stopped reports a lookup abandoned between requests.
func stopped(handle string) Outcome {
	return transient(fmt.Sprintf("lookup stopped before probing %q", handle))
}

// Lookup probes each handle in order. Not-found moves on to the next handle,
// fatal stops immediately, and exhausted transient errors move on but are
// remembered. The result is the first success, else the last transient
// outcome, else not-found.
func (c *HTTPClient) Lookup(ctx context.Context, phoneNumber string) Outcome {
	log := logger.FromContext(ctx, c.logger).With(logger.FieldPhone, phoneNumber)

	// waitCtx bounds rate limit waits and backoff; probes run on ctx
	waitCtx := ctx
	stop, _ := ctx.Value(stopSignalKey{}).(context.Context)
	if stop != nil {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithCancel(ctx)
		defer cancel()
		release := context.AfterFunc(stop, cancel)
		defer release()
	}
	halted := func() bool {
		return waitCtx.Err() != nil || (stop != nil && stop.Err() != nil)
	}

	var lastTransient *Outcome
	requests, attempts := 0, 0

	for _, handle := range c.handles {
		if requests > 0 && halted() {
			log.Debugw("Lookup stopped between handles", logger.FieldHandle, handle, "requests", requests)
			out := stopped(handle)
			out.Handle = handle
			if lastTransient == nil {
				lastTransient = &out
			}
			break
		}

		out := Retry(waitCtx, c.policy, c.sleep, func(waitCtx context.Context, n int) Outcome {
			if requests > 0 {
				if halted() {
					return stopped(handle)
				}
				if c.limiter != nil {
					if err := c.limiter.Acquire(waitCtx); err != nil {
						return transient(fmt.Sprintf("rate limiter: %v", err))
					}
				}
			}
			requests++
			return c.probe(ctx, log, phoneNumber, handle, n)
		})
		attempts += out.Attempts
		out.Attempts = attempts
		out.Handle = handle

		switch out.Kind {
		case KindSuccess, KindFatal:
			return out
		case KindTransient:
			lastTransient = &out
		}
	}

	if lastTransient != nil {
		lastTransient.Attempts = attempts
		return *lastTransient
	}
	return Outcome{
		Kind:     KindNotFound,
		Reason:   fmt.Sprintf("no account found across %d handle(s)", len(c.handles)),
		Attempts: attempts,
	}
}

// probe issues one request for phoneNumber+handle and classifies the response.
func (c *HTTPClient) probe(ctx context.Context, log *zap.SugaredLogger, phoneNumber, handle string, attempt int) Outcome {
	upiID := phoneNumber + handle
	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, c.buildURL(upiID), nil)
	if err != nil {
		return fatal(fmt.Sprintf("build request: %v", err))
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.doer.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || reqCtx.Err() != nil {
			log.Debugw("Lookup timed out", logger.FieldHandle, handle, logger.FieldAttempt, attempt)
			return transient(fmt.Sprintf("request timed out after %s", c.timeout))
		}
		log.Debugw("Lookup request failed", logger.FieldHandle, handle, logger.FieldAttempt, attempt, logger.FieldError, err)
		return transient(fmt.Sprintf("request failed: %v", err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return transient(fmt.Sprintf("read response: %v", err))
	}

	out := classify(resp.StatusCode, body, phoneNumber, handle)
	log.Debugw("Lookup response",
		logger.FieldHandle, handle,
		logger.FieldAttempt, attempt,
		logger.FieldStatus, resp.StatusCode,
		logger.FieldOutcome, out.Kind,
		logger.FieldDurationMS, time.Since(start).Milliseconds())
	return out
}

func (c *HTTPClient) buildURL(upiID string) string {
	return strings.ReplaceAll(c.endpoint, Placeholder, url.QueryEscape(upiID))
}

// directoryResponse is the subset of the directory payload we read.
type directoryResponse struct {
	Data struct {
		VPADetails struct {
			Name string `json:"name"`
			VPA  string `json:"vpa"`
			IFSC string `json:"ifsc"`
		} `json:"vpa_details"`
		BankDetails struct {
			Bank string `json:"BANK"`
		} `json:"bank_details_raw"`
	} `json:"data"`
}

// classify maps a status and body to an outcome.
func classify(status int, body []byte, phoneNumber, handle string) Outcome {
	switch {
	case status == http.StatusOK:
	case status == http.StatusNotFound:
		return notFound("directory returned 404")
	case status == http.StatusTooManyRequests:
		return transient("directory is throttling (429)")
	case status >= 500:
		return transient(fmt.Sprintf("directory server error %d", status))
	default:
		return fatal(fmt.Sprintf("unexpected status %d", status))
	}

	if !json.Valid(body) {
		return fatal("malformed JSON response")
	}

	// Well-formed JSON of an unexpected shape carries no account
	var payload directoryResponse
	if err := json.Unmarshal(body, &payload); err != nil {
		return notFound("response carries no account details")
	}

	name := strings.TrimSpace(payload.Data.VPADetails.Name)
	if name == "" || name == "N/A" {
		return notFound("no account holder for handle")
	}

	upiID := phoneNumber + handle
	rec := &UpiRecord{
		PhoneNumber:       phoneNumber,
		UpiID:             upiID,
		AccountHolderName: name,
		BankName:          UnknownBank,
		Handle:            handle,
		RawResponse:       json.RawMessage(body),
	}
	if vpa := strings.TrimSpace(payload.Data.VPADetails.VPA); vpa != "" && vpa != "N/A" {
		rec.UpiID = vpa
	}
	if bank := strings.TrimSpace(payload.Data.BankDetails.Bank); bank != "" {
		rec.BankName = bank
	}
	if ifsc := strings.TrimSpace(payload.Data.VPADetails.IFSC); ifsc != "" && ifsc != "N/A" {
		rec.IFSC = &ifsc
	}

	return Outcome{Kind: KindSuccess, Record: rec, Handle: handle}
}
