// Package services provides external service integrations and technical concerns like the SMS gateway and tokens
package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/amirphl/smsdispatch/config"
	"golang.org/x/time/rate"
)

// Gateway error codes produced by the client itself
const (
	GatewayCodeRateLimited = "rate_limited"
	GatewayCodeServerError = "server_error"
	GatewayCodeRejected    = "rejected"
)

// SMSGateway sends one message to one destination.
// A non-nil error means the call failed before the gateway produced an answer.
type SMSGateway interface {
	Send(ctx context.Context, req SendRequest) (*SendResult, error)
}

// SendRequest is one outbound message
type SendRequest struct {
	Destination string `json:"destination"`
	Body        string `json:"body"`
	// Reference is the client tracking id echoed back by the gateway
	Reference string `json:"reference"`
}

// SendResult is the gateway's answer to a SendRequest
type SendResult struct {
	Success   bool   `json:"success"`
	MessageID string `json:"message_id,omitempty"`
	ErrorCode string `json:"error_code,omitempty"`
}

// HTTPSMSGateway implements SMSGateway over the provider's JSON API
type HTTPSMSGateway struct {
	config  *config.GatewayConfig
	client  *http.Client
	limiter *rate.Limiter
}

type gatewaySendRequest struct {
	Source      string `json:"source,omitempty"`
	Destination string `json:"destination"`
	Body        string `json:"body"`
	Reference   string `json:"reference"`
}

type gatewaySendResponse struct {
	MessageID string `json:"message_id"`
	Status    string `json:"status"`
	ErrorCode string `json:"error_code"`
}

// NewHTTPSMSGateway creates a gateway client throttled to cfg.RatePerSec requests per second
func NewHTTPSMSGateway(cfg *config.GatewayConfig) *HTTPSMSGateway {
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	return &HTTPSMSGateway{
		config: cfg,
		// per-call deadlines come from the caller's context
		client:  &http.Client{},
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), burst),
	}
}

// Send posts a single message
func (g *HTTPSMSGateway) Send(ctx context.Context, req SendRequest) (*SendResult, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("gateway rate limiter: %w", err)
	}

	requestBody, err := json.Marshal(gatewaySendRequest{
		Source:      g.config.SourceNumber,
		Destination: req.Destination,
		Body:        req.Body,
		Reference:   req.Reference,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal SMS request: %w", err)
	}

	url := strings.TrimRight(g.config.BaseURL, "/") + "/messages"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(requestBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set(g.config.APIKeyHeader, g.config.APIKey)

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to send SMS request: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		_, _ = io.Copy(io.Discard, resp.Body)
		return &SendResult{ErrorCode: GatewayCodeRateLimited}, nil
	case resp.StatusCode >= 500:
		_, _ = io.Copy(io.Discard, resp.Body)
		return &SendResult{ErrorCode: GatewayCodeServerError}, nil
	}

	var body gatewaySendResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil && resp.StatusCode < 300 {
		return nil, fmt.Errorf("failed to decode SMS response: %w", err)
	}

	if resp.StatusCode >= 300 {
		code := body.ErrorCode
		if code == "" {
			code = GatewayCodeRejected
		}
		return &SendResult{ErrorCode: code}, nil
	}
	if body.ErrorCode != "" || body.MessageID == "" {
		code := body.ErrorCode
		if code == "" {
			code = GatewayCodeRejected
		}
		return &SendResult{ErrorCode: code}, nil
	}

	return &SendResult{Success: true, MessageID: body.MessageID}, nil
}

// MockResponse is one scripted answer of MockSMSGateway
type MockResponse struct {
	Result *SendResult
	Err    error
	// Delay blocks the call, honouring ctx, before answering
	Delay time.Duration
}

// MockSMSGateway implements SMSGateway for tests and local runs.
// Scripted responses are consumed per destination; unscripted calls succeed.
type MockSMSGateway struct {
	mu        sync.Mutex
	scripts   map[string][]MockResponse
	sent      []SendRequest
	seq       int
	onSending func(SendRequest)
}

// NewMockSMSGateway creates a new mock gateway
func NewMockSMSGateway() *MockSMSGateway {
	return &MockSMSGateway{
		scripts: make(map[string][]MockResponse),
	}
}

// Enqueue scripts the next answers for destination
func (m *MockSMSGateway) Enqueue(destination string, responses ...MockResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scripts[destination] = append(m.scripts[destination], responses...)
}

// OnSend registers a hook invoked for every call before it is answered
func (m *MockSMSGateway) OnSend(fn func(SendRequest)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onSending = fn
}

// Send answers with the next scripted response for the destination
func (m *MockSMSGateway) Send(ctx context.Context, req SendRequest) (*SendResult, error) {
	m.mu.Lock()
	m.sent = append(m.sent, req)
	m.seq++
	seq := m.seq
	hook := m.onSending
	var next *MockResponse
	if queue := m.scripts[req.Destination]; len(queue) > 0 {
		next = &queue[0]
		m.scripts[req.Destination] = queue[1:]
	}
	m.mu.Unlock()

	if hook != nil {
		hook(req)
	}

	if next == nil {
		return &SendResult{Success: true, MessageID: fmt.Sprintf("mock-%d", seq)}, nil
	}
	if next.Delay > 0 {
		timer := time.NewTimer(next.Delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
	if next.Err != nil {
		return nil, next.Err
	}
	if next.Result == nil {
		return &SendResult{Success: true, MessageID: fmt.Sprintf("mock-%d", seq)}, nil
	}
	result := *next.Result
	if result.Success && result.MessageID == "" {
		result.MessageID = fmt.Sprintf("mock-%d", seq)
	}
	return &result, nil
}

// Sent returns every request seen so far
func (m *MockSMSGateway) Sent() []SendRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]SendRequest, len(m.sent))
	copy(out, m.sent)
	return out
}

// CallsTo counts the requests for one destination
func (m *MockSMSGateway) CallsTo(destination string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, req := range m.sent {
		if req.Destination == destination {
			n++
		}
	}
	return n
}
