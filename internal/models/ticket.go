// Package models defines the support-ticket domain types and the relay
// state records.
package models

import "time"

// Status is the lifecycle state of a support ticket.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusDenied   Status = "denied"
)

// Valid reports whether s is a known ticket status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusApproved, StatusDenied:
		return true
	}
	return false
}

// Decision reports whether s is a terminal state an operator can set.
func (s Status) Decision() bool {
	return s == StatusApproved || s == StatusDenied
}

// Author identifies who wrote a ticket message.
type Author string

const (
	AuthorSystem   Author = "system"
	AuthorVisitor  Author = "visitor"
	AuthorOperator Author = "operator"
)

// Valid reports whether a is a known message author.
func (a Author) Valid() bool {
	switch a {
	case AuthorSystem, AuthorVisitor, AuthorOperator:
		return true
	}
	return false
}

// Message is a single entry in a ticket's append-only conversation log.
// IDs are unique and strictly increasing within one ticket, so the highest
// id a reader has seen doubles as its polling cursor.
type Message struct {
	ID        int64     `json:"id"`
	From      Author    `json:"from"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"createdAt"`
}

// Ticket is one visitor support conversation. Messages are append-only and
// ordered by id; Status only ever moves pending→approved or pending→denied.
type Ticket struct {
	ID             int64     `json:"id"`
	VisitorID      string    `json:"visitorId"`
	VisitorName    string    `json:"visitorName"`
	Status         Status    `json:"status"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
	OperatorChatID string    `json:"operatorChatId"` // empty until decided
	Messages       []Message `json:"messages"`
}

// Active reports whether the ticket still claims its visitor's single
// active-ticket slot.
func (t *Ticket) Active() bool {
	return t.Status == StatusPending || t.Status == StatusApproved
}

// LastMessageID returns the id of the newest message, or 0 for an empty log.
func (t *Ticket) LastMessageID() int64 {
	if len(t.Messages) == 0 {
		return 0
	}
	return t.Messages[len(t.Messages)-1].ID
}

// MessagesAfter returns all messages with id > after, in ascending id order.
func (t *Ticket) MessagesAfter(after int64) []Message {
	out := make([]Message, 0, len(t.Messages))
	for _, m := range t.Messages {
		if m.ID > after {
			out = append(out, m)
		}
	}
	return out
}

// Clone returns a deep copy of the ticket.
func (t *Ticket) Clone() Ticket {
	c := *t
	c.Messages = make([]Message, len(t.Messages))
	copy(c.Messages, t.Messages)
	return c
}

// TicketSummary is the wire view of a ticket: the snapshot fields without
// the full message log. OperatorChatID is elided (null) for non-admin
// callers; LastMessage is only populated in admin listings.
type TicketSummary struct {
	ID             int64     `json:"id"`
	VisitorID      string    `json:"visitorId"`
	VisitorName    string    `json:"visitorName"`
	Status         Status    `json:"status"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
	OperatorChatID *string   `json:"operatorChatId"`
	LastMessage    *Message  `json:"lastMessage,omitempty"`
}

// Summary builds the wire view of the ticket. Operator-only fields are
// included only when admin is true.
func (t *Ticket) Summary(admin bool) TicketSummary {
	s := TicketSummary{
		ID:          t.ID,
		VisitorID:   t.VisitorID,
		VisitorName: t.VisitorName,
		Status:      t.Status,
		CreatedAt:   t.CreatedAt,
		UpdatedAt:   t.UpdatedAt,
	}
	if admin && t.OperatorChatID != "" {
		id := t.OperatorChatID
		s.OperatorChatID = &id
	}
	return s
}
