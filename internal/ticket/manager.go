// Package ticket implements the support-ticket lifecycle: single active
// ticket per visitor, the pending→approved|denied state machine, and the
// append-only conversation log the polling protocol reads from.
package ticket

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/parleyhq/parley/internal/models"
	"github.com/parleyhq/parley/internal/store"
)

// Input bounds, matching the public contract.
const (
	VisitorNameMaxLen    = 80
	InitialMessageMaxLen = 800
	MessageMaxLen        = 1200

	DefaultVisitorName = "Guest"
)

// System message texts inserted by the lifecycle manager.
const (
	msgCreated  = "Support request created. Please wait for approval."
	msgApproved = "Support approved this chat. You can start messaging."
	msgDenied   = "Support denied this request."
)

// Manager owns all ticket mutations. Every write goes through the store's
// single writer, so two concurrent calls cannot lose each other's changes.
type Manager struct {
	store *store.Store
	now   func() time.Time
}

// NewManager creates a Manager over the given store.
func NewManager(st *store.Store) (*Manager, error) {
	if st == nil {
		return nil, fmt.Errorf("ticket: store is required")
	}
	return &Manager{store: st, now: time.Now}, nil
}

// CreateOrGet returns the visitor's active (pending or approved) ticket if
// one exists, or creates a new pending ticket with a system announcement
// and, optionally, an initial visitor message. The created return is false
// when an existing ticket was reused.
func (m *Manager) CreateOrGet(visitorID, visitorName, initialMessage string) (models.Ticket, bool, error) {
	visitorID = truncate(visitorID, VisitorIDMaxLen)
	if err := RequireVisitor(visitorID, ""); err != nil {
		return models.Ticket{}, false, err
	}
	visitorName = truncate(visitorName, VisitorNameMaxLen)
	if visitorName == "" {
		visitorName = DefaultVisitorName
	}
	initialMessage = truncate(initialMessage, InitialMessageMaxLen)

	var out models.Ticket
	var created bool
	err := m.store.Update(func(tx *store.Tx) error {
		// Idempotence: both the lookup and the insert run inside one
		// serialized transaction, so concurrent creates for the same
		// visitor converge on a single ticket.
		for _, t := range tx.Tickets() {
			if t.VisitorID == visitorID && t.Active() {
				out = t.Clone()
				return nil
			}
		}

		now := m.now().UTC()
		t := models.Ticket{
			VisitorID:   visitorID,
			VisitorName: visitorName,
			Status:      models.StatusPending,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		t.Messages = append(t.Messages, models.Message{
			ID:        1,
			From:      models.AuthorSystem,
			Text:      msgCreated,
			CreatedAt: now,
		})
		if initialMessage != "" {
			t.Messages = append(t.Messages, models.Message{
				ID:        2,
				From:      models.AuthorVisitor,
				Text:      initialMessage,
				CreatedAt: now,
			})
		}
		out = tx.Insert(t).Clone()
		created = true
		return nil
	})
	if err != nil {
		return models.Ticket{}, false, err
	}
	return out, created, nil
}

// Decide moves a pending ticket to approved or denied, records which
// operator channel decided, and appends a system message describing the
// outcome. Deciding an already-decided ticket fails with ErrConflict:
// a decision has operator-visible side effects, so a stale double-click
// should surface rather than silently no-op.
func (m *Manager) Decide(ticketID int64, decision models.Status, operatorChatID string) (models.Ticket, error) {
	if !decision.Decision() {
		return models.Ticket{}, fmt.Errorf("decision must be %s or %s: %w",
			models.StatusApproved, models.StatusDenied, ErrValidation)
	}

	var out models.Ticket
	err := m.store.Update(func(tx *store.Tx) error {
		t := tx.Find(ticketID)
		if t == nil {
			return fmt.Errorf("ticket %d: %w", ticketID, ErrNotFound)
		}
		if t.Status != models.StatusPending {
			return fmt.Errorf("ticket %d is %s: %w", ticketID, t.Status, ErrConflict)
		}

		now := m.now().UTC()
		t.Status = decision
		t.UpdatedAt = now
		t.OperatorChatID = operatorChatID
		text := msgApproved
		if decision == models.StatusDenied {
			text = msgDenied
		}
		t.Messages = append(t.Messages, models.Message{
			ID:        tx.NextMessageID(t),
			From:      models.AuthorSystem,
			Text:      text,
			CreatedAt: now,
		})
		out = t.Clone()
		tx.MarkDirty()
		return nil
	})
	if err != nil {
		return models.Ticket{}, err
	}
	return out, nil
}

// Append adds a visitor or operator message to an approved ticket. Visitor
// appends must pass the identity guard against the ticket's owner; operator
// appends assume the caller was already authenticated as administrator.
// Denied tickets reject all appends.
func (m *Manager) Append(ticketID int64, from models.Author, text, callerVisitorID, operatorChatID string) (models.Ticket, models.Message, error) {
	if from != models.AuthorVisitor && from != models.AuthorOperator {
		return models.Ticket{}, models.Message{}, fmt.Errorf("from must be %s or %s: %w",
			models.AuthorVisitor, models.AuthorOperator, ErrValidation)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return models.Ticket{}, models.Message{}, fmt.Errorf("message text is required: %w", ErrValidation)
	}
	if len(text) > MessageMaxLen {
		return models.Ticket{}, models.Message{}, fmt.Errorf("message text exceeds %d characters: %w", MessageMaxLen, ErrValidation)
	}

	var outTicket models.Ticket
	var outMsg models.Message
	err := m.store.Update(func(tx *store.Tx) error {
		t := tx.Find(ticketID)
		if t == nil {
			return fmt.Errorf("ticket %d: %w", ticketID, ErrNotFound)
		}
		if t.Status == models.StatusDenied {
			return fmt.Errorf("ticket %d is denied: %w", ticketID, ErrForbidden)
		}
		if from == models.AuthorVisitor {
			if err := RequireVisitor(callerVisitorID, t.VisitorID); err != nil {
				return err
			}
		}
		if t.Status != models.StatusApproved {
			return fmt.Errorf("ticket %d is not approved yet: %w", ticketID, ErrForbidden)
		}

		now := m.now().UTC()
		msg := models.Message{
			ID:        tx.NextMessageID(t),
			From:      from,
			Text:      text,
			CreatedAt: now,
		}
		t.Messages = append(t.Messages, msg)
		t.UpdatedAt = now
		if from == models.AuthorOperator && operatorChatID != "" {
			t.OperatorChatID = operatorChatID
		}
		outTicket = t.Clone()
		outMsg = msg
		tx.MarkDirty()
		return nil
	})
	if err != nil {
		return models.Ticket{}, models.Message{}, err
	}
	return outTicket, outMsg, nil
}

// List returns ticket summaries, newest-updated first. Admin callers may
// filter by status and visitor freely and get a last-message preview;
// non-admin callers are always constrained to their own visitor id, which
// is taken from the request identity rather than the filter they pass.
func (m *Manager) List(status models.Status, visitorID string, admin bool) ([]models.TicketSummary, error) {
	if status != "" && !status.Valid() {
		return nil, fmt.Errorf("unknown status %q: %w", status, ErrValidation)
	}
	if !admin {
		if err := RequireVisitor(visitorID, ""); err != nil {
			return nil, err
		}
	}

	tickets := m.store.Snapshot()
	out := make([]models.TicketSummary, 0, len(tickets))
	for i := range tickets {
		t := &tickets[i]
		if status != "" && t.Status != status {
			continue
		}
		if visitorID != "" && t.VisitorID != visitorID {
			continue
		}
		s := t.Summary(admin)
		if admin && len(t.Messages) > 0 {
			last := t.Messages[len(t.Messages)-1]
			s.LastMessage = &last
		}
		out = append(out, s)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out, nil
}

// Get returns the ticket snapshot plus all messages with id > after in
// ascending id order. Non-admin callers must own the ticket.
func (m *Manager) Get(ticketID, after int64, callerVisitorID string, admin bool) (models.TicketSummary, []models.Message, error) {
	t, ok := m.store.Find(ticketID)
	if !ok {
		return models.TicketSummary{}, nil, fmt.Errorf("ticket %d: %w", ticketID, ErrNotFound)
	}
	if !admin {
		if err := RequireVisitor(callerVisitorID, t.VisitorID); err != nil {
			return models.TicketSummary{}, nil, err
		}
	}
	return t.Summary(admin), t.MessagesAfter(after), nil
}
