package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/parleyhq/parley/internal/api"
	"github.com/parleyhq/parley/internal/models"
	"github.com/parleyhq/parley/internal/store"
	"github.com/parleyhq/parley/internal/ticket"
)

const clientTestToken = "client-test-token"

// newTestServer runs the real support API over httptest so the client is
// exercised against the actual wire contract.
func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "tickets.json"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	manager, err := ticket.NewManager(st)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	router, err := api.NewRouter(api.Options{
		Manager:    manager,
		AdminToken: clientTestToken,
	})
	if err != nil {
		t.Fatalf("new router: %v", err)
	}

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv
}

func newTestClient(t *testing.T, srv *httptest.Server) *Client {
	t.Helper()
	c, err := NewClient(ClientOpts{BaseURL: srv.URL, Token: clientTestToken})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return c
}

// createVisitorTicket goes through the HTTP surface the way the widget
// does, so the relay client sees server-assigned ids.
func createVisitorTicket(t *testing.T, srv *httptest.Server, visitorID, message string) int64 {
	t.Helper()
	body, _ := json.Marshal(map[string]string{"visitorId": visitorID, "message": message})
	resp, err := http.Post(srv.URL+"/api/support/request", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("create ticket: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create ticket: status %d", resp.StatusCode)
	}
	var out struct {
		Item models.TicketSummary `json:"item"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return out.Item.ID
}

func TestNewClient_RequiresBaseURL(t *testing.T) {
	_, err := NewClient(ClientOpts{})
	if err == nil {
		t.Fatal("expected error for missing base URL")
	}
}

func TestClient_ListTickets(t *testing.T) {
	srv := newTestServer(t)
	c := newTestClient(t, srv)
	createVisitorTicket(t, srv, "visitor-aaaa-bbbb", "help")
	createVisitorTicket(t, srv, "visitor-cccc-dddd", "also help")

	items, err := c.ListTickets(context.Background(), models.StatusPending)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("expected 2 tickets, got %d", len(items))
	}
	for _, it := range items {
		if it.LastMessage == nil {
			t.Fatalf("ticket %d missing admin preview", it.ID)
		}
	}
}

func TestClient_DecideAndGet(t *testing.T) {
	srv := newTestServer(t)
	c := newTestClient(t, srv)
	id := createVisitorTicket(t, srv, "visitor-aaaa-bbbb", "help")

	decided, err := c.Decide(context.Background(), id, models.StatusApproved, "chan-1")
	if err != nil {
		t.Fatalf("decide: %v", err)
	}
	if decided.Status != models.StatusApproved {
		t.Fatalf("expected approved, got %s", decided.Status)
	}
	if decided.OperatorChatID == nil || *decided.OperatorChatID != "chan-1" {
		t.Fatal("admin view should carry the operator channel")
	}

	snap, msgs, err := c.GetTicket(context.Background(), id, 0)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if snap.ID != id || len(msgs) != 3 {
		t.Fatalf("expected 3 messages on #%d, got %d", id, len(msgs))
	}

	// Cursor read: only messages past the given id.
	_, tail, err := c.GetTicket(context.Background(), id, msgs[1].ID)
	if err != nil {
		t.Fatalf("cursor get: %v", err)
	}
	if len(tail) != 1 || tail[0].ID != msgs[2].ID {
		t.Fatalf("unexpected cursor read: %+v", tail)
	}
}

func TestClient_PostMessage(t *testing.T) {
	srv := newTestServer(t)
	c := newTestClient(t, srv)
	id := createVisitorTicket(t, srv, "visitor-aaaa-bbbb", "help")
	if _, err := c.Decide(context.Background(), id, models.StatusApproved, "chan-1"); err != nil {
		t.Fatalf("decide: %v", err)
	}

	m, err := c.PostMessage(context.Background(), id, "on it", "chan-1")
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	if m.From != models.AuthorOperator || m.Text != "on it" {
		t.Fatalf("unexpected message: %+v", m)
	}
	if m.ID == 0 {
		t.Fatal("expected server-assigned message id")
	}
}

func TestClient_ErrorMapping(t *testing.T) {
	srv := newTestServer(t)
	c := newTestClient(t, srv)
	id := createVisitorTicket(t, srv, "visitor-aaaa-bbbb", "help")

	if _, _, err := c.GetTicket(context.Background(), 404, 0); !errors.Is(err, ticket.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	if _, err := c.Decide(context.Background(), id, models.StatusApproved, "chan-1"); err != nil {
		t.Fatalf("decide: %v", err)
	}
	if _, err := c.Decide(context.Background(), id, models.StatusDenied, "chan-1"); !errors.Is(err, ticket.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}

	if _, err := c.PostMessage(context.Background(), id, "", "chan-1"); !errors.Is(err, ticket.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

func TestClient_BadTokenIsForbidden(t *testing.T) {
	srv := newTestServer(t)
	c, err := NewClient(ClientOpts{BaseURL: srv.URL, Token: "wrong"})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	id := createVisitorTicket(t, srv, "visitor-aaaa-bbbb", "help")

	_, decideErr := c.Decide(context.Background(), id, models.StatusApproved, "chan-1")
	if !errors.Is(decideErr, ticket.ErrForbidden) {
		t.Fatalf("expected ErrForbidden for bad token, got %v", decideErr)
	}
}
