// Package chatclient is a Go client for the chat server's HTTP API and its
// real-time WebSocket channel.
package chatclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/uuid"
	"github.com/vedran77/chatten/internal/domain"
)

// APIError is a non-2xx response from the server.
type APIError struct {
	Status  int
	Code    string `json:"code"`
	Message string `json:"message"`
	// ConversationID is set on CONVERSATION_EXISTS conflicts.
	ConversationID uuid.UUID `json:"conversationId"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%d %s: %s", e.Status, e.Code, e.Message)
}

type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

func New(baseURL, token string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    http.DefaultClient,
	}
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		r = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, r)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var envelope struct {
			Error APIError `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&envelope)
		envelope.Error.Status = resp.StatusCode
		return &envelope.Error
	}

	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// Me returns the authenticated user, or nil when the token is not accepted.
func (c *Client) Me(ctx context.Context) (*domain.User, error) {
	var resp struct {
		Authenticated bool         `json:"authenticated"`
		User          *domain.User `json:"user"`
	}
	if err := c.do(ctx, http.MethodGet, "/auth/check", nil, &resp); err != nil {
		return nil, err
	}
	if !resp.Authenticated {
		return nil, nil
	}
	return resp.User, nil
}

func (c *Client) Users(ctx context.Context) ([]domain.UserSummary, error) {
	var users []domain.UserSummary
	err := c.do(ctx, http.MethodGet, "/users", nil, &users)
	return users, err
}

func (c *Client) Conversations(ctx context.Context, search string) ([]domain.Conversation, error) {
	path := "/conversations"
	if search != "" {
		path += "?search=" + url.QueryEscape(search)
	}
	var convs []domain.Conversation
	err := c.do(ctx, http.MethodGet, path, nil, &convs)
	return convs, err
}

// CreateConversation starts a conversation with participants. On a conflict
// the returned *APIError carries the existing conversation's id.
func (c *Client) CreateConversation(ctx context.Context, participants []uuid.UUID) (*domain.Conversation, error) {
	ids := make([]string, len(participants))
	for i, id := range participants {
		ids[i] = id.String()
	}
	var conv domain.Conversation
	if err := c.do(ctx, http.MethodPost, "/conversations", map[string]any{"participants": ids}, &conv); err != nil {
		return nil, err
	}
	return &conv, nil
}

func (c *Client) DeleteConversation(ctx context.Context, id uuid.UUID) error {
	return c.do(ctx, http.MethodDelete, "/conversations/"+id.String(), nil, nil)
}

func (c *Client) SendMessage(ctx context.Context, conversationID uuid.UUID, text string) (*domain.Message, error) {
	var msg domain.Message
	err := c.do(ctx, http.MethodPost, "/messages", map[string]string{
		"conversationId": conversationID.String(),
		"text":           text,
	}, &msg)
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

func (c *Client) Messages(ctx context.Context, conversationID uuid.UUID) ([]domain.Message, error) {
	var messages []domain.Message
	err := c.do(ctx, http.MethodGet, "/messages/"+conversationID.String(), nil, &messages)
	return messages, err
}

func (c *Client) Block(ctx context.Context, contactID uuid.UUID) error {
	return c.do(ctx, http.MethodPost, "/users/block", map[string]string{"contactId": contactID.String()}, nil)
}

func (c *Client) Unblock(ctx context.Context, contactID uuid.UUID) error {
	return c.do(ctx, http.MethodPost, "/users/unblock", map[string]string{"contactId": contactID.String()}, nil)
}
