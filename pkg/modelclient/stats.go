package modelclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"

	"codeforge/pkg/llm"
)

// Stats is a snapshot of local rotation state.
type Stats struct {
	Calls          int                    `json:"calls"`
	RateLimited    []int                  `json:"rate_limited_per_credential"`
	ExhaustedPairs map[string][]int       `json:"exhausted_pairs"`
	Usage          map[llm.Role]llm.Usage `json:"usage"`
}

// Stats returns a copy of the client's counters.
func (c *Client) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := Stats{
		Calls:          c.calls,
		RateLimited:    append([]int(nil), c.rateLimited...),
		ExhaustedPairs: make(map[string][]int, len(c.exhausted)),
		Usage:          make(map[llm.Role]llm.Usage, len(c.usage)),
	}
	for model, creds := range c.exhausted {
		for cred := range creds {
			s.ExhaustedPairs[model] = append(s.ExhaustedPairs[model], cred)
		}
		sort.Ints(s.ExhaustedPairs[model])
	}
	for role, u := range c.usage {
		s.Usage[role] = u
	}
	return s
}

// ProxyHealth is the body of the proxy's health endpoint.
type ProxyHealth struct {
	Status                string         `json:"status"`
	ValidKeys             int            `json:"valid_keys"`
	CooldownKeys          int            `json:"cooldown_keys"`
	ExhaustedKeysPerModel map[string]int `json:"exhausted_keys_per_model"`
}

// Health combines the proxy's view with local rotation statistics.
type Health struct {
	Proxy      *ProxyHealth `json:"proxy,omitempty"`
	ProxyError string       `json:"proxy_error,omitempty"`
	Local      Stats        `json:"local"`
}

// Healthy reports whether the proxy answered with status "ok" or no proxy is configured.
func (h Health) Healthy() bool {
	if h.ProxyError != "" {
		return false
	}
	return h.Proxy == nil || strings.EqualFold(h.Proxy.Status, "ok")
}

// Health probes the proxy health endpoint. A probe failure is reported in the
// result rather than as an error; only a cancelled ctx returns an error.
func (c *Client) Health(ctx context.Context) (Health, error) {
	h := Health{Local: c.Stats()}
	if c.cfg.ProxyBase == "" {
		return h, nil
	}

	proxy, err := c.probe(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return h, fmt.Errorf("health probe cancelled: %w", ctx.Err())
		}
		h.ProxyError = err.Error()
		return h, nil
	}
	h.Proxy = proxy
	return h, nil
}

func (c *Client) probe(ctx context.Context) (*ProxyHealth, error) {
	url := strings.TrimRight(c.cfg.ProxyBase, "/") + "/" + strings.TrimLeft(c.cfg.HealthPath, "/")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("failed to build health request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("health request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return nil, fmt.Errorf("failed to read health response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("health endpoint returned %d", resp.StatusCode)
	}

	var ph ProxyHealth
	if err := json.Unmarshal(body, &ph); err != nil {
		return nil, fmt.Errorf("failed to parse health response: %w", err)
	}
	return &ph, nil
}
