// Package gateway reaches the ledger, protocol and bridge services through
// an HTTP JSON gateway. Calls are POST /<service>/<method> with a JSON body.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/vadiminshakov/ckvault/internal/domain"
)

const (
	// EnvToken environment variable holding the gateway bearer token.
	EnvToken = "CKVAULT_API_TOKEN"
	// DefaultTimeout overall limit of a single call.
	DefaultTimeout = 60 * time.Second

	maxResponseBytes = 4 << 20
	maxErrorBody     = 256
)

const (
	serviceProtocol  = "protocol"
	serviceBtcLedger = "ckbtc_ledger"
	serviceUsdLedger = "ckusdc_ledger"
	serviceBtcMinter = "ckbtc_minter"
	serviceEthMinter = "cketh_minter"
)

// Client HTTP transport shared by the service adapters.
type Client struct {
	l       *zap.Logger
	baseURL string
	token   string
	http    *http.Client
	metrics *requestMetrics
}

// New creates a client for baseURL. timeout <= 0 means DefaultTimeout.
func New(l *zap.Logger, baseURL, token string, timeout time.Duration) (*Client, error) {
	u, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil {
		return nil, errors.Wrap(err, "parse gateway url")
	}
	if u.Scheme != "http" && u.Scheme != "https" || u.Host == "" {
		return nil, errors.Errorf("invalid gateway url %q", baseURL)
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	return &Client{
		l:       l,
		baseURL: strings.TrimRight(u.String(), "/"),
		token:   token,
		http:    &http.Client{Timeout: timeout},
		metrics: defaultRequestMetrics(),
	}, nil
}

// call posts req to service/method and decodes the response into out.
// Transport failures, non-2xx statuses and undecodable bodies are returned as
// *domain.TransportError.
func (c *Client) call(ctx context.Context, service, method string, req, out any) error {
	start := time.Now()
	err := c.do(ctx, service, method, req, out)
	elapsed := time.Since(start)

	c.metrics.observe(service, method, err, elapsed)
	c.l.Debug("gateway call",
		zap.String("service", service),
		zap.String("method", method),
		zap.Duration("elapsed", elapsed),
		zap.Error(err))

	return err
}

func (c *Client) do(ctx context.Context, service, method string, req, out any) error {
	op := service + "." + method

	payload := []byte("{}")
	if req != nil {
		b, err := json.Marshal(req)
		if err != nil {
			return errors.Wrapf(err, "encode %s request", op)
		}
		payload = b
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/"+service+"/"+method, bytes.NewReader(payload))
	if err != nil {
		return errors.Wrapf(err, "build %s request", op)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	if c.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return &domain.TransportError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return &domain.TransportError{Op: op, Err: errors.Wrap(err, "read response")}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &domain.TransportError{Op: op, Err: fmt.Errorf("gateway returned status %d: %s", resp.StatusCode, snippet(body))}
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return &domain.TransportError{Op: op, Err: errors.Wrap(err, "decode response")}
	}

	return nil
}

func snippet(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > maxErrorBody {
		s = s[:maxErrorBody] + "..."
	}
	if s == "" {
		return "empty body"
	}
	return s
}

// blockIndex converts a decoded Nat index, rejecting values wider than 64 bits.
func blockIndex(op string, n Nat) (uint64, error) {
	v, ok := n.Uint64()
	if !ok {
		return 0, &domain.TransportError{Op: op, Err: errors.Errorf("block index %s overflows uint64", n.v.Dec())}
	}
	return v, nil
}
