// Package modelclient sends prompts to the model backend with credential
// rotation, exponential backoff and a model fallback chain.
package modelclient

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"codeforge/pkg/llm"
	"codeforge/pkg/llm/retry"
	"codeforge/pkg/llmerrors"
	"codeforge/pkg/logx"
	"codeforge/pkg/metrics"
)

// Config configures a Client.
type Config struct {
	Credentials []string // Rotated round-robin; an empty set sends one anonymous credential
	Models      []string // Fallback chain, primary first
	Retry       retry.Config
	CallTimeout time.Duration // Budget for each model of the chain within one Send
	MaxTokens   int

	ProxyBase     string
	HealthPath    string
	HealthTimeout time.Duration
}

// Client is shared by every stage of a session. Its rotation cursor and
// counters are guarded by one mutex; the cursor is a monotonic ticket
// counter taken modulo the credential count.
type Client struct {
	backend  llm.Backend
	cfg      Config
	policy   *retry.Policy
	recorder metrics.Recorder
	logger   *logx.Logger
	http     *http.Client

	mu          sync.Mutex
	cursor      int
	calls       int
	rateLimited []int
	exhausted   map[string]map[int]bool
	usage       map[llm.Role]llm.Usage
}

// New creates a client over backend. recorder may be nil.
func New(backend llm.Backend, cfg Config, recorder metrics.Recorder) (*Client, error) {
	if backend == nil {
		return nil, fmt.Errorf("backend is required")
	}
	if len(cfg.Models) == 0 {
		return nil, fmt.Errorf("at least one model is required")
	}
	if len(cfg.Credentials) == 0 {
		cfg.Credentials = []string{""}
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = llm.DefaultMaxTokens
	}
	if cfg.HealthPath == "" {
		cfg.HealthPath = "/health"
	}
	if cfg.HealthTimeout <= 0 {
		cfg.HealthTimeout = 10 * time.Second
	}
	if recorder == nil {
		recorder = metrics.Nop()
	}

	return &Client{
		backend:     backend,
		cfg:         cfg,
		policy:      retry.NewPolicy(cfg.Retry, nil),
		recorder:    recorder,
		logger:      logx.NewLogger("modelclient"),
		http:        &http.Client{Timeout: cfg.HealthTimeout},
		rateLimited: make([]int, len(cfg.Credentials)),
		exhausted:   make(map[string]map[int]bool),
		usage:       make(map[llm.Role]llm.Usage),
	}, nil
}

// Models returns the fallback chain.
func (c *Client) Models() []string {
	return append([]string(nil), c.cfg.Models...)
}

// Send issues prompt under role. Each call starts at the next credential in
// round-robin order. Rate-limit and auth failures rotate to the next
// credential; transient failures are retried on the same pair with backoff.
// When every credential has failed for a model, or the model used up its
// CallTimeout budget, the next model is tried. *llmerrors.ExhaustedError is
// returned once every pair has failed, and *llmerrors.TimeoutError when the
// last model in the chain ran out of time.
func (c *Client) Send(ctx context.Context, prompt string, role llm.Role) (llm.Response, error) {
	if err := ctx.Err(); err != nil {
		return llm.Response{}, fmt.Errorf("model call not started: %w", err)
	}

	st := &sendState{start: c.nextCredential()}
	for _, model := range c.cfg.Models {
		req := llm.NewRequest(role, prompt)
		req.Model = model
		req.MaxTokens = c.cfg.MaxTokens

		resp, err := c.sendModel(ctx, st, req)
		if err != nil {
			return llm.Response{}, err
		}
		if resp != nil {
			c.recordUsage(role, resp.Usage)
			return *resp, nil
		}
		c.logger.Info("model %s exhausted, falling back", model)
	}

	if st.timedOut != nil {
		return llm.Response{}, &llmerrors.TimeoutError{Op: "model call", Timeout: c.cfg.CallTimeout, Err: st.timedOut}
	}
	return llm.Response{}, &llmerrors.ExhaustedError{Attempts: st.attempts}
}

// sendState is the per-call rotation position, shared across the chain.
type sendState struct {
	start     int // Ticket taken from the shared cursor
	rotations int
	attempts  []llmerrors.Attempt
	timedOut  error // Set when the most recent model ran out of budget
}

// sendModel walks the credentials for one model within its own CallTimeout
// budget. A nil response with a nil error means fall back to the next model.
//
//nolint:gocritic // Request copied per model
func (c *Client) sendModel(ctx context.Context, st *sendState, req llm.Request) (*llm.Response, error) {
	modelCtx := ctx
	if c.cfg.CallTimeout > 0 {
		var cancel context.CancelFunc
		modelCtx, cancel = context.WithTimeout(ctx, c.cfg.CallTimeout)
		defer cancel()
	}
	st.timedOut = nil

	n := len(c.cfg.Credentials)
	for i := 0; i < n; i++ {
		pos := st.start + i
		cred := pos % n
		if st.rotations > 0 {
			if err := c.policy.Wait(modelCtx, st.rotations+1); err != nil {
				return nil, c.budgetSpent(ctx, st, req.Model, cred, err)
			}
		}

		req.Credential = c.cfg.Credentials[cred]
		resp, attempt := c.tryPair(modelCtx, req, cred)
		if attempt.Err == nil {
			// A result that lands after cancellation is discarded.
			if err := ctx.Err(); err != nil {
				return nil, fmt.Errorf("model call discarded: %w", err)
			}
			c.advanceTo(pos + 1)
			return &resp, nil
		}
		if modelCtx.Err() != nil {
			return nil, c.budgetSpent(ctx, st, req.Model, cred, attempt.Err)
		}

		st.attempts = append(st.attempts, attempt)
		c.markExhausted(req.Model, cred)
		c.logger.Warn("%s on credential #%d for %s after %d tries: %v",
			attempt.Type, cred, req.Model, attempt.Tries, attempt.Err)

		switch attempt.Type {
		case llmerrors.ErrorTypeBadPrompt:
			return nil, attempt.Err
		case llmerrors.ErrorTypeEmptyResponse:
			return nil, nil
		case llmerrors.ErrorTypeRateLimit, llmerrors.ErrorTypeAuth:
			st.rotations++
			c.advanceTo(pos + 1)
		default:
			st.rotations++
		}
	}
	return nil, nil
}

// budgetSpent ends the call when the caller cancelled; otherwise it records
// the model as timed out and lets the chain fall back.
func (c *Client) budgetSpent(parent context.Context, st *sendState, model string, cred int, err error) error {
	if parent.Err() != nil {
		return fmt.Errorf("model call cancelled: %w", parent.Err())
	}
	if err == nil {
		err = context.DeadlineExceeded
	}
	st.attempts = append(st.attempts, llmerrors.Attempt{
		Credential: cred,
		Model:      model,
		Type:       llmerrors.ErrorTypeTimeout,
		Err:        err,
	})
	st.timedOut = err
	st.rotations++
	c.markExhausted(model, cred)
	c.logger.Warn("%s used its %s budget on credential #%d", model, c.cfg.CallTimeout, cred)
	return nil
}

// tryPair sends req on one credential/model pair, retrying transient failures
// up to the policy's attempt bound.
//
//nolint:gocritic // Request copied per pair
func (c *Client) tryPair(ctx context.Context, req llm.Request, cred int) (llm.Response, llmerrors.Attempt) {
	attempt := llmerrors.Attempt{Credential: cred, Model: req.Model}
	began := time.Now()

	for try := 1; try <= c.policy.Config.MaxAttempts; try++ {
		if try > 1 {
			if err := c.policy.Wait(ctx, try); err != nil {
				attempt.Err = err
				attempt.Type = llmerrors.ErrorTypeTimeout
				attempt.Elapsed = time.Since(began)
				return llm.Response{}, attempt
			}
		}

		c.countCall()
		attempt.Tries = try
		resp, err := c.backend.Complete(ctx, req)
		if err == nil {
			attempt.Elapsed = time.Since(began)
			return resp, attempt
		}

		classified := llmerrors.Classify(err)
		attempt.Err = err
		attempt.Type = classified.Type

		if classified.Type == llmerrors.ErrorTypeRateLimit {
			c.noteRateLimit(req.Model, cred)
			break
		}
		if ctx.Err() != nil || !c.policy.ShouldRetry(err) {
			break
		}
		c.logger.Debug("transient failure on credential #%d for %s (try %d): %v", cred, req.Model, try, err)
	}

	attempt.Elapsed = time.Since(began)
	return llm.Response{}, attempt
}

// nextCredential hands out the next ticket of the shared cursor. Tickets
// only grow, so concurrent calls never start on the same credential.
func (c *Client) nextCredential() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	start := c.cursor
	c.cursor++
	return start
}

// advanceTo moves the shared cursor forward to pos. It never moves it back,
// which would hand out a credential another call still holds.
func (c *Client) advanceTo(pos int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if pos > c.cursor {
		c.cursor = pos
	}
}

func (c *Client) countCall() {
	c.mu.Lock()
	c.calls++
	c.mu.Unlock()
}

func (c *Client) noteRateLimit(model string, cred int) {
	c.mu.Lock()
	c.rateLimited[cred]++
	c.mu.Unlock()
	c.recorder.IncRateLimited(model, cred)
}

func (c *Client) markExhausted(model string, cred int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.exhausted[model] == nil {
		c.exhausted[model] = make(map[int]bool)
	}
	c.exhausted[model][cred] = true
}

func (c *Client) recordUsage(role llm.Role, u llm.Usage) {
	c.mu.Lock()
	defer c.mu.Unlock()
	total := c.usage[role]
	total.PromptTokens += u.PromptTokens
	total.CompletionTokens += u.CompletionTokens
	c.usage[role] = total
}
