package httpc

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/loykin/psicash/internal/common"
	"github.com/loykin/psicash/internal/constants"
	"github.com/loykin/psicash/internal/dates"
	"github.com/loykin/psicash/internal/request"
)

type Httpc struct {
	TlsConfig *tls.Config
}

// New returns a resty.Client configured according to the receiver's TLS settings.
// Defaults: MinVersion TLS1.3 when MinVersion is zero.
func (h *Httpc) New() *resty.Client {
	c := resty.New()
	cfg := h.TlsConfig
	if cfg == nil {
		return c
	}
	if cfg.MinVersion == 0 {
		cfg.MinVersion = tls.VersionTLS13
	}
	// Apply TLS config via resty and ensure underlying client transport is set
	c.SetTLSClientConfig(cfg)
	return c
}

// Response is what the ledger returned for one attempt.
type Response struct {
	StatusCode int
	Body       []byte
	Header     http.Header
	// Date is the server's Date header; zero when absent or unparsable.
	Date time.Time
}

// Executor sends request descriptors over resty. Retries are left to the
// caller so every attempt gets its own descriptor.
type Executor struct {
	client         *resty.Client
	defaultTimeout time.Duration
}

// NewExecutor wraps client; a nil client gets a fresh one from Httpc.
func NewExecutor(client *resty.Client, defaultTimeout time.Duration) *Executor {
	if client == nil {
		client = (&Httpc{}).New()
	}
	client.SetRetryCount(0)
	if defaultTimeout <= 0 {
		defaultTimeout = constants.DefaultTimeout
	}
	return &Executor{client: client, defaultTimeout: defaultTimeout}
}

// Execute performs r once. The request timeout is applied as a context
// deadline. A returned error means no HTTP response was obtained.
func (e *Executor) Execute(ctx context.Context, r *request.Request) (*Response, error) {
	timeout := r.Timeout
	if timeout <= 0 {
		timeout = e.defaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	logger := common.GetLogger().WithComponent("httpc").WithRequest(r.Method, r.URL).WithAttempt(r.Attempt)
	logger.Debug("sending request", "headers", common.GetGlobalMasker().MaskHeader(r.Header))

	req := e.client.R().SetContext(ctx).SetHeaderMultiValues(r.Header)
	if len(r.Body) > 0 {
		req.SetBody(r.Body)
	}

	resp, err := req.Execute(r.Method, r.URL)
	if err != nil {
		logger.Debug("request failed", "error", err)
		return nil, fmt.Errorf("%s %s: %w", r.Method, r.URL, err)
	}

	out := &Response{
		StatusCode: resp.StatusCode(),
		Body:       resp.Body(),
		Header:     resp.Header(),
	}
	if d := resp.Header().Get(constants.DateHeader); d != "" {
		if t, perr := dates.ParseHTTPDate(d); perr == nil {
			out.Date = t
		}
	}
	logger.Debug("response received", "status", out.StatusCode, "duration", resp.Time())
	return out, nil
}
