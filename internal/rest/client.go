package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/openflea/fleachat/internal/auth"
	"github.com/openflea/fleachat/internal/model"
	"go.uber.org/zap"
)

// Client is the stateless façade over the messaging REST API. Every call is
// a single attempt: sendMessage is not idempotent at the transport level, so
// retry policy belongs to the caller.
type Client struct {
	baseURL string
	http    *http.Client
	creds   auth.Source
	logger  *zap.Logger
}

// NewClient creates a backend client for the given API base URL.
func NewClient(baseURL string, creds auth.Source, logger *zap.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{},
		creds:   creds,
		logger:  logger,
	}
}

// ListChats returns the caller's chats ordered by most recent activity.
func (c *Client) ListChats(ctx context.Context) ([]*model.Chat, error) {
	var chats []*model.Chat
	if err := c.do(ctx, http.MethodGet, "/chats", nil, &chats); err != nil {
		return nil, err
	}
	return chats, nil
}

// GetChat fetches a single chat.
func (c *Client) GetChat(ctx context.Context, chatID string) (*model.Chat, error) {
	var chat model.Chat
	if err := c.do(ctx, http.MethodGet, "/chats/"+url.PathEscape(chatID), nil, &chat); err != nil {
		return nil, err
	}
	return &chat, nil
}

// GetMessages fetches the full message history of a chat, oldest first.
func (c *Client) GetMessages(ctx context.Context, chatID string) ([]*model.Message, error) {
	var msgs []*model.Message
	if err := c.do(ctx, http.MethodGet, "/chats/"+url.PathEscape(chatID)+"/messages", nil, &msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

// CreateChat opens a chat with the receiver, optionally anchored to a
// product. The backend returns the existing chat when one already exists
// for the same pair and product instead of duplicating it.
func (c *Client) CreateChat(ctx context.Context, receiverID, productID string) (*model.Chat, error) {
	body := map[string]string{"receiverId": receiverID}
	if productID != "" {
		body["productId"] = productID
	}
	var chat model.Chat
	if err := c.do(ctx, http.MethodPost, "/chats", body, &chat); err != nil {
		return nil, err
	}
	return &chat, nil
}

// SendMessage persists one message and returns the confirmed record.
func (c *Client) SendMessage(ctx context.Context, chatID, content string, attachments []string) (*model.Message, error) {
	body := map[string]any{"content": content}
	if len(attachments) > 0 {
		body["attachments"] = attachments
	}
	var msg model.Message
	if err := c.do(ctx, http.MethodPost, "/chats/"+url.PathEscape(chatID)+"/messages", body, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// MarkRead zeroes the caller's unread count for the chat server-side.
func (c *Client) MarkRead(ctx context.Context, chatID string) error {
	return c.do(ctx, http.MethodPut, "/chats/"+url.PathEscape(chatID)+"/read", nil, nil)
}

// DeleteChat removes the chat for the caller.
func (c *Client) DeleteChat(ctx context.Context, chatID string) error {
	return c.do(ctx, http.MethodDelete, "/chats/"+url.PathEscape(chatID), nil, nil)
}

// do issues one request with the bearer credential and decodes the response
// into out (when non-nil). Failures come back as *Error, classified per
// status code; transport errors classify as network failures.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	creds, err := c.creds.Credentials()
	if err != nil {
		return &Error{Kind: KindUnauthorized, Message: err.Error()}
	}

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+creds.Token)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return &Error{Kind: KindNetworkFailure, Message: err.Error()}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		apiErr := &Error{
			Kind:    classify(resp.StatusCode),
			Status:  resp.StatusCode,
			Message: errorMessage(resp.Body, resp.StatusCode),
		}
		if c.logger != nil {
			c.logger.Warn("backend request failed",
				zap.String("method", method),
				zap.String("path", path),
				zap.Int("status", resp.StatusCode),
				zap.String("kind", string(apiErr.Kind)),
			)
		}
		return apiErr
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &Error{
			Kind:    KindServerError,
			Status:  resp.StatusCode,
			Message: fmt.Sprintf("decode response: %v", err),
		}
	}
	return nil
}

// errorMessage extracts the backend's {"error": "..."} payload, falling back
// to the generic status text.
func errorMessage(r io.Reader, status int) string {
	var payload struct {
		Error string `json:"error"`
	}
	if err := json.NewDecoder(io.LimitReader(r, 4096)).Decode(&payload); err == nil && payload.Error != "" {
		return payload.Error
	}
	return http.StatusText(status)
}
