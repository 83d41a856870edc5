package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/todoencadena/agentfabric/internal/metrics"
)

// secretHeader carries the optional shared secret on every request
const secretHeader = "X-Fabric-Secret"

// Client is the outbound HTTP client for the control plane. Submission
// calls are best-effort: non-2xx responses are logged and swallowed, and
// the client never retries. Retry, if wanted, is a caller policy.
type Client struct {
	baseURL string
	secret  string
	http    *http.Client
	logger  zerolog.Logger
	metrics *metrics.Metrics
}

// Config holds bridge client configuration
type Config struct {
	BaseURL string
	Secret  string
	Timeout time.Duration
	Logger  zerolog.Logger
	Metrics *metrics.Metrics
}

// NewClient creates a bridge client, validating the base URL up front
func NewClient(cfg Config) (*Client, error) {
	if _, err := BuildURL(cfg.BaseURL, "/"); err != nil {
		return nil, fmt.Errorf("invalid control plane URL: %w", err)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &Client{
		baseURL: cfg.BaseURL,
		secret:  cfg.Secret,
		http:    &http.Client{Timeout: timeout},
		logger:  cfg.Logger,
		metrics: cfg.Metrics,
	}, nil
}

// ResponsePayload is the body of a submit-response call
type ResponsePayload struct {
	AgentID     string `json:"agentId"`
	ChannelID   string `json:"channelId"`
	Content     string `json:"content"`
	InReplyToID string `json:"inReplyToId,omitempty"`
}

// ActionPayload is the body of an action-start call
type ActionPayload struct {
	ID        string `json:"id"`
	AgentID   string `json:"agentId"`
	ChannelID string `json:"channelId"`
	Action    string `json:"action"`
	Status    string `json:"status"`
}

// ActionUpdatePayload is the body of an action-update call
type ActionUpdatePayload struct {
	Status string `json:"status"`
	Detail string `json:"detail,omitempty"`
}

// CompletionPayload is the body of a notify-completion call. It is a
// flow-control acknowledgement, not a result.
type CompletionPayload struct {
	AgentID   string `json:"agentId"`
	ChannelID string `json:"channelId"`
}

// SubmitResponse publishes an agent response for a channel
func (c *Client) SubmitResponse(ctx context.Context, p ResponsePayload) {
	c.send(ctx, http.MethodPost, "/api/messaging/submit", "submit", p)
}

// SubmitActionStart announces an action invocation to the control plane
func (c *Client) SubmitActionStart(ctx context.Context, p ActionPayload) {
	c.send(ctx, http.MethodPost, "/api/messaging/action", "action_start", p)
}

// UpdateAction reports progress for a previously announced action
func (c *Client) UpdateAction(ctx context.Context, actionID string, p ActionUpdatePayload) {
	c.send(ctx, http.MethodPatch, "/api/messaging/action/"+actionID, "action_update", p)
}

// NotifyComplete tells the control plane the agent finished processing a
// channel and is ready for more work
func (c *Client) NotifyComplete(ctx context.Context, p CompletionPayload) {
	c.send(ctx, http.MethodPost, "/api/messaging/complete", "complete", p)
}

// send performs a best-effort submission call
func (c *Client) send(ctx context.Context, method, path, endpoint string, payload any) {
	target, err := BuildURL(c.baseURL, path)
	if err != nil {
		c.record(endpoint, "invalid_url")
		c.logger.Error().Err(err).Str("endpoint", endpoint).Msg("Bridge URL construction failed")
		return
	}

	body, err := json.Marshal(payload)
	if err != nil {
		c.record(endpoint, "encode_error")
		c.logger.Error().Err(err).Str("endpoint", endpoint).Msg("Bridge payload encoding failed")
		return
	}

	req, err := http.NewRequestWithContext(ctx, method, target, bytes.NewReader(body))
	if err != nil {
		c.record(endpoint, "request_error")
		c.logger.Error().Err(err).Str("endpoint", endpoint).Msg("Bridge request construction failed")
		return
	}
	c.setHeaders(req)

	resp, err := c.http.Do(req)
	if err != nil {
		c.record(endpoint, "network_error")
		c.logger.Warn().Err(err).Str("endpoint", endpoint).Msg("Bridge request failed")
		return
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.record(endpoint, "http_error")
		c.logger.Warn().
			Str("endpoint", endpoint).
			Int("status", resp.StatusCode).
			Msg("Bridge request rejected")
		return
	}

	c.record(endpoint, "ok")
}

// GetChannelParticipants returns the participant ids of a central channel
func (c *Client) GetChannelParticipants(ctx context.Context, channelID string) ([]string, error) {
	var out []string
	err := c.get(ctx, "/api/messaging/channels/"+channelID+"/participants", "participants", &out)
	return out, err
}

// GetServerChannels returns the channel ids of a central server
func (c *Client) GetServerChannels(ctx context.Context, serverID string) ([]string, error) {
	var out []string
	err := c.get(ctx, "/api/messaging/message-servers/"+serverID+"/channels", "server_channels", &out)
	return out, err
}

// GetAgentServers returns the server ids an agent belongs to
func (c *Client) GetAgentServers(ctx context.Context, agentID string) ([]string, error) {
	var out []string
	err := c.get(ctx, "/api/messaging/agents/"+agentID+"/message-servers", "agent_servers", &out)
	return out, err
}

// lookupEnvelope is the control plane's response wrapper for lookups
type lookupEnvelope struct {
	Success bool     `json:"success"`
	Data    []string `json:"data"`
}

// get performs a lookup call; unlike submissions, failures surface to the
// caller because the result drives routing decisions
func (c *Client) get(ctx context.Context, path, endpoint string, out *[]string) error {
	target, err := BuildURL(c.baseURL, path)
	if err != nil {
		c.record(endpoint, "invalid_url")
		return fmt.Errorf("bridge URL construction failed: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		c.record(endpoint, "request_error")
		return err
	}
	c.setHeaders(req)

	resp, err := c.http.Do(req)
	if err != nil {
		c.record(endpoint, "network_error")
		return fmt.Errorf("bridge lookup failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.record(endpoint, "http_error")
		return fmt.Errorf("bridge lookup returned status %d", resp.StatusCode)
	}

	var envelope lookupEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		c.record(endpoint, "decode_error")
		return fmt.Errorf("bridge lookup decoding failed: %w", err)
	}

	c.record(endpoint, "ok")
	*out = envelope.Data
	return nil
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	if c.secret != "" {
		req.Header.Set(secretHeader, c.secret)
	}
}

func (c *Client) record(endpoint, status string) {
	if c.metrics != nil {
		c.metrics.BridgeRequestsTotal.WithLabelValues(endpoint, status).Inc()
	}
}
