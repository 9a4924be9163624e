package relay

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

	"github.com/parleyhq/parley/internal/models"
	"github.com/parleyhq/parley/internal/ticket"
)

// API is the support-server surface the relay consumes. Abstracted so the
// router and poller can be tested against a fake.
type API interface {
	ListTickets(ctx context.Context, status models.Status) ([]models.TicketSummary, error)
	GetTicket(ctx context.Context, id, after int64) (models.TicketSummary, []models.Message, error)
	Decide(ctx context.Context, id int64, decision models.Status, operatorChatID string) (models.TicketSummary, error)
	PostMessage(ctx context.Context, id int64, text, operatorChatID string) (models.Message, error)
}

// Client talks to the support API over HTTP using the admin token. It is
// the relay-side half of the polling contract: the same read endpoint the
// visitor's browser polls, consumed with the relay's own cursors.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// ClientOpts holds parameters for creating a Client.
type ClientOpts struct {
	BaseURL string
	Token   string
	Timeout time.Duration // defaults to 10s
}

// NewClient creates a support API client.
func NewClient(opts ClientOpts) (*Client, error) {
	if opts.BaseURL == "" {
		return nil, fmt.Errorf("relay: client: base URL is required")
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		token:   opts.Token,
		http:    &http.Client{Timeout: timeout},
	}, nil
}

type listEnvelope struct {
	Items []models.TicketSummary `json:"items"`
}

type ticketEnvelope struct {
	Item     models.TicketSummary `json:"item"`
	Messages []models.Message     `json:"messages"`
	Message  models.Message       `json:"message"`
	Error    string               `json:"error"`
}

// ListTickets fetches ticket summaries, optionally filtered by status.
func (c *Client) ListTickets(ctx context.Context, status models.Status) ([]models.TicketSummary, error) {
	path := "/api/support/requests"
	if status != "" {
		path += "?status=" + url.QueryEscape(string(status))
	}
	var env listEnvelope
	if err := c.do(ctx, http.MethodGet, path, nil, &env); err != nil {
		return nil, err
	}
	return env.Items, nil
}

// GetTicket fetches a ticket snapshot plus all messages with id > after.
func (c *Client) GetTicket(ctx context.Context, id, after int64) (models.TicketSummary, []models.Message, error) {
	path := fmt.Sprintf("/api/support/requests/%d?after=%d", id, after)
	var env ticketEnvelope
	if err := c.do(ctx, http.MethodGet, path, nil, &env); err != nil {
		return models.TicketSummary{}, nil, err
	}
	return env.Item, env.Messages, nil
}

// Decide posts an approve/deny decision for a ticket.
func (c *Client) Decide(ctx context.Context, id int64, decision models.Status, operatorChatID string) (models.TicketSummary, error) {
	body := map[string]any{
		"decision":       string(decision),
		"operatorChatId": operatorChatID,
	}
	var env ticketEnvelope
	path := fmt.Sprintf("/api/support/requests/%d/decision", id)
	if err := c.do(ctx, http.MethodPost, path, body, &env); err != nil {
		return models.TicketSummary{}, err
	}
	return env.Item, nil
}

// PostMessage appends an operator message to a ticket.
func (c *Client) PostMessage(ctx context.Context, id int64, text, operatorChatID string) (models.Message, error) {
	body := map[string]any{
		"from":           string(models.AuthorOperator),
		"text":           text,
		"operatorChatId": operatorChatID,
	}
	var env ticketEnvelope
	path := fmt.Sprintf("/api/support/requests/%d/message", id)
	if err := c.do(ctx, http.MethodPost, path, body, &env); err != nil {
		return models.Message{}, err
	}
	return env.Message, nil
}

// do executes one API call and decodes the response envelope. Error
// statuses are mapped back onto the lifecycle sentinels so callers can use
// errors.Is across the process boundary.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("relay: client: encode body: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("relay: client: build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("relay: client: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("relay: client: read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		var env ticketEnvelope
		msg := http.StatusText(resp.StatusCode)
		if json.Unmarshal(data, &env) == nil && env.Error != "" {
			msg = env.Error
		}
		return fmt.Errorf("relay: client: %s %s: %s: %w", method, path, msg, statusError(resp.StatusCode))
	}

	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("relay: client: decode response: %w", err)
		}
	}
	return nil
}

// statusError maps HTTP error statuses onto the ticket sentinels.
func statusError(code int) error {
	switch code {
	case http.StatusBadRequest, http.StatusRequestEntityTooLarge:
		return ticket.ErrValidation
	case http.StatusUnauthorized, http.StatusForbidden:
		return ticket.ErrForbidden
	case http.StatusNotFound:
		return ticket.ErrNotFound
	case http.StatusConflict:
		return ticket.ErrConflict
	default:
		return fmt.Errorf("HTTP %d", code)
	}
}
