package relay

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/parleyhq/parley/internal/models"
)

// SessionStore persists which ticket each operator channel is currently
// focused on, plus per-(channel,ticket) delivery cursors, so a relay
// restart never re-forwards messages the operator already saw.
type SessionStore struct {
	db  *gorm.DB
	now func() time.Time
}

// NewSessionStore creates a SessionStore over an already-migrated database.
func NewSessionStore(db *gorm.DB) (*SessionStore, error) {
	if db == nil {
		return nil, fmt.Errorf("relay: session store: database handle is required")
	}
	return &SessionStore{db: db, now: time.Now}, nil
}

// Open focuses channelID on ticketID, replacing any previous focus.
func (s *SessionStore) Open(channelID string, ticketID int64) error {
	now := s.now()
	sess := models.OperatorSession{
		ChannelID: channelID,
		TicketID:  ticketID,
		OpenedAt:  now,
		UpdatedAt: now,
	}
	err := s.db.Where(models.OperatorSession{ChannelID: channelID}).
		Assign(models.OperatorSession{TicketID: ticketID, OpenedAt: now, UpdatedAt: now}).
		FirstOrCreate(&sess).Error
	if err != nil {
		return fmt.Errorf("relay: session store: open channel %s: %w", channelID, err)
	}
	return nil
}

// Active returns the ticket channelID is focused on, or false if none.
func (s *SessionStore) Active(channelID string) (int64, bool, error) {
	var sess models.OperatorSession
	err := s.db.Where("channel_id = ?", channelID).First(&sess).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("relay: session store: active channel %s: %w", channelID, err)
	}
	return sess.TicketID, true, nil
}

// Close drops the focus for channelID. Closing an unfocused channel is a
// no-op.
func (s *SessionStore) Close(channelID string) error {
	err := s.db.Where("channel_id = ?", channelID).Delete(&models.OperatorSession{}).Error
	if err != nil {
		return fmt.Errorf("relay: session store: close channel %s: %w", channelID, err)
	}
	return nil
}

// OpenSessions lists every focused channel, for the poller sweep.
func (s *SessionStore) OpenSessions() ([]models.OperatorSession, error) {
	var sessions []models.OperatorSession
	if err := s.db.Order("channel_id").Find(&sessions).Error; err != nil {
		return nil, fmt.Errorf("relay: session store: list sessions: %w", err)
	}
	return sessions, nil
}

// Cursor returns the last delivered message id for (channelID, ticketID).
// A missing cursor reads as 0, meaning deliver from the beginning.
func (s *SessionStore) Cursor(channelID string, ticketID int64) (int64, error) {
	var cur models.DeliveryCursor
	err := s.db.Where("channel_id = ? AND ticket_id = ?", channelID, ticketID).First(&cur).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("relay: session store: cursor %s/%d: %w", channelID, ticketID, err)
	}
	return cur.LastMessageID, nil
}

// AdvanceCursor moves the cursor forward to lastMessageID. Moves backwards
// are ignored so a stale poll can never cause re-delivery.
func (s *SessionStore) AdvanceCursor(channelID string, ticketID, lastMessageID int64) error {
	current, err := s.Cursor(channelID, ticketID)
	if err != nil {
		return err
	}
	if lastMessageID <= current {
		return nil
	}
	cur := models.DeliveryCursor{
		ChannelID:     channelID,
		TicketID:      ticketID,
		LastMessageID: lastMessageID,
	}
	err = s.db.Where(models.DeliveryCursor{ChannelID: channelID, TicketID: ticketID}).
		Assign(models.DeliveryCursor{LastMessageID: lastMessageID}).
		FirstOrCreate(&cur).Error
	if err != nil {
		return fmt.Errorf("relay: session store: advance cursor %s/%d: %w", channelID, ticketID, err)
	}
	return nil
}

// DropCursor forgets the cursor for (channelID, ticketID), used when a
// ticket disappears from the server.
func (s *SessionStore) DropCursor(channelID string, ticketID int64) error {
	err := s.db.Where("channel_id = ? AND ticket_id = ?", channelID, ticketID).
		Delete(&models.DeliveryCursor{}).Error
	if err != nil {
		return fmt.Errorf("relay: session store: drop cursor %s/%d: %w", channelID, ticketID, err)
	}
	return nil
}
