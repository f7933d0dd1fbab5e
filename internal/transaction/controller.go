package transaction

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/loykin/psicash/internal/common"
	"github.com/loykin/psicash/internal/constants"
	"github.com/loykin/psicash/internal/dates"
	"github.com/loykin/psicash/internal/httpc"
	"github.com/loykin/psicash/internal/request"
	"github.com/loykin/psicash/internal/retry"
	"github.com/loykin/psicash/internal/userinfo"
)

// Executor performs one HTTP attempt.
type Executor interface {
	Execute(ctx context.Context, r *request.Request) (*httpc.Response, error)
}

// Config describes the ledger endpoint and request policy.
type Config struct {
	Scheme    string
	Hostname  string
	Port      int
	Timeout   time.Duration
	UserAgent string
	Retry     *retry.Config
}

// Controller runs the refresh-state and expiring-purchase protocols.
//
// Network exchanges run on the calling goroutine (or a spawned one for the
// Async variants). Every store write and every completion runs on a single
// worker goroutine, so writes are applied one at a time in the order their
// responses complete.
type Controller struct {
	cfg  Config
	user *userinfo.UserInfo
	exec Executor

	mu      sync.RWMutex
	mutator request.Mutator

	jobs      chan func()
	quit      chan struct{}
	stopped   chan struct{}
	closeOnce sync.Once
	inflight  sync.WaitGroup
}

// New starts a controller bound to user and exec.
func New(cfg Config, user *userinfo.UserInfo, exec Executor) (*Controller, error) {
	if user == nil {
		return nil, fmt.Errorf("transaction: nil user info")
	}
	if exec == nil {
		return nil, fmt.Errorf("transaction: nil executor")
	}
	if cfg.Hostname == "" {
		return nil, fmt.Errorf("transaction: empty hostname")
	}
	if cfg.Scheme == "" {
		cfg.Scheme = constants.DefaultScheme
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = constants.DefaultTimeout
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = constants.DefaultUserAgent
	}
	if cfg.Retry == nil {
		cfg.Retry = retry.DefaultRetryConfig()
	}

	c := &Controller{
		cfg:     cfg,
		user:    user,
		exec:    exec,
		jobs:    make(chan func()),
		quit:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	go c.run()
	return c, nil
}

// UserInfo returns the store the controller writes to.
func (c *Controller) UserInfo() *userinfo.UserInfo {
	return c.user
}

// Close stops the completion worker after waiting for asynchronous calls
// already in flight. It must not be called from a completion callback.
func (c *Controller) Close() error {
	c.inflight.Wait()
	c.closeOnce.Do(func() { close(c.quit) })
	<-c.stopped
	return nil
}

func (c *Controller) run() {
	defer close(c.stopped)
	for {
		select {
		case job := <-c.jobs:
			job()
		case <-c.quit:
			return
		}
	}
}

// dispatch runs job on the completion worker and waits for it.
func (c *Controller) dispatch(job func()) error {
	done := make(chan struct{})
	wrapped := func() {
		defer close(done)
		job()
	}
	select {
	case c.jobs <- wrapped:
	case <-c.quit:
		return ErrClosed
	}
	<-done
	return nil
}

// goAsync runs fn on its own goroutine, tracked so Close can wait for it.
func (c *Controller) goAsync(fn func()) {
	c.inflight.Add(1)
	go func() {
		defer c.inflight.Done()
		fn()
	}()
}

func (c *Controller) setMutator(m request.Mutator) {
	c.mu.Lock()
	c.mutator = m
	c.mu.Unlock()
}

func (c *Controller) currentMutator() request.Mutator {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.mutator
}

// exchange is one completed HTTP exchange, after retries.
type exchange struct {
	resp     *httpc.Response
	timeDiff time.Duration
	hasDate  bool
}

// call describes one protocol request.
type call struct {
	op        string
	method    string
	path      string
	query     []request.QueryItem
	tokens    []string
	headers   map[string]string
	noMutator bool
}

// do sends a call, retrying once on a 5xx response. A non-nil error is an
// *Error classified Invalid or ServerError.
func (c *Controller) do(ctx context.Context, cl call) (*exchange, error) {
	logger := common.GetLogger().WithComponent("transaction").WithOperation(cl.op)

	params := request.Params{
		Scheme:     c.cfg.Scheme,
		Hostname:   c.cfg.Hostname,
		Port:       c.cfg.Port,
		Method:     cl.method,
		Path:       cl.path,
		Query:      cl.query,
		AuthTokens: cl.tokens,
		Metadata:   c.user.RequestMetadata(),
		Timeout:    c.cfg.Timeout,
		UserAgent:  c.cfg.UserAgent,
	}
	if !cl.noMutator {
		params.Mutator = c.currentMutator()
	}
	builder := request.NewBuilder(params).AddHeaders(cl.headers)

	var ex *exchange
	err := retry.WithRetry(ctx, c.cfg.Retry, func(attempt int) error {
		builder.SetAttempt(attempt)
		req, err := builder.Request()
		if err != nil {
			return err
		}
		resp, err := c.exec.Execute(ctx, req)
		if err != nil {
			return err
		}
		if resp.StatusCode >= constants.StatusServerErrorThreshold {
			logger.WithAttempt(attempt).Warn("ledger server error", "status", resp.StatusCode)
			return retry.Transient(fmt.Errorf("server responded %d", resp.StatusCode))
		}
		ex = &exchange{resp: resp}
		if !resp.Date.IsZero() {
			ex.hasDate = true
			ex.timeDiff = dates.ServerTimeDiff(resp.Date, c.user.Now())
		}
		return nil
	})
	if err != nil {
		if retry.IsTransient(err) {
			return nil, newError(cl.op, ServerError, err)
		}
		logger.Debug("request failed", "error", err)
		return nil, newError(cl.op, Invalid, err)
	}
	logger.Debug("ledger responded", "status", ex.resp.StatusCode)
	return ex, nil
}

// clearForInvalidTokens wipes identity after the ledger rejected our tokens.
// Runs on the completion worker.
func (c *Controller) clearForInvalidTokens(ctx context.Context, op string) error {
	common.GetLogger().WithComponent("transaction").WithOperation(op).Info("ledger rejected tokens; clearing local state")
	if err := c.user.Clear(ctx); err != nil {
		return newError(op, InvalidTokens, err)
	}
	return nil
}
