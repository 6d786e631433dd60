// ABOUTME: HTTP client for the remote conversational agent backend
// ABOUTME: Creates conversations and exchanges turns, surfacing the backend's turn list

package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// ErrUnavailable indicates the backend could not be reached or returned a
// server-side failure.
var ErrUnavailable = errors.New("agent backend unavailable")

// Turn is one entry of the backend's conversation transcript.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// TurnResult is the backend's response to a completion call.
type TurnResult struct {
	Turns []Turn `json:"turns"`
}

// AssistantRole is the role the backend assigns to agent-authored turns.
const AssistantRole = "assistant"

// LatestReply extracts the newest agent-authored turn, preferring the
// assistant role and falling back to the last turn when none matches.
// Returns "" when the transcript is empty.
func (r *TurnResult) LatestReply() string {
	for i := len(r.Turns) - 1; i >= 0; i-- {
		if r.Turns[i].Role == AssistantRole {
			return r.Turns[i].Content
		}
	}
	if len(r.Turns) > 0 {
		return r.Turns[len(r.Turns)-1].Content
	}
	return ""
}

// Client defines the agent backend surface consumed by the relay.
type Client interface {
	// CreateConversation provisions a conversation for an agent, passing the
	// contact metadata as the agent's dynamic context. Returns the backend's
	// conversation id.
	CreateConversation(ctx context.Context, agentID string, contactContext map[string]string) (string, error)
	// SendTurn forwards a message to a conversation and returns the updated
	// transcript.
	SendTurn(ctx context.Context, conversationID, text string) (*TurnResult, error)
}

// HTTPClient talks to the agent backend over HTTP/JSON.
type HTTPClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// New creates a backend client. timeout bounds each call; zero means 30s.
func New(baseURL, apiKey string, timeout time.Duration) *HTTPClient {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPClient{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		apiKey:  apiKey,
		client:  &http.Client{Timeout: timeout},
	}
}

type createConversationRequest struct {
	Context map[string]string `json:"context,omitempty"`
}

type createConversationResponse struct {
	ConversationID string `json:"conversation_id"`
}

// CreateConversation implements Client.
func (c *HTTPClient) CreateConversation(ctx context.Context, agentID string, contactContext map[string]string) (string, error) {
	var resp createConversationResponse
	path := fmt.Sprintf("/v1/agents/%s/conversations", agentID)
	if err := c.post(ctx, path, createConversationRequest{Context: contactContext}, &resp); err != nil {
		return "", err
	}
	if resp.ConversationID == "" {
		return "", fmt.Errorf("%w: empty conversation id", ErrUnavailable)
	}
	return resp.ConversationID, nil
}

type sendTurnRequest struct {
	Text string `json:"text"`
}

// SendTurn implements Client.
func (c *HTTPClient) SendTurn(ctx context.Context, conversationID, text string) (*TurnResult, error) {
	var result TurnResult
	path := fmt.Sprintf("/v1/conversations/%s/turns", conversationID)
	if err := c.post(ctx, path, sendTurnRequest{Text: text}, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// post issues a JSON POST and decodes the JSON response into out.
func (c *HTTPClient) post(ctx context.Context, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("backend returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}
