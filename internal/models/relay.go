package models

import "time"

// OperatorSession records which ticket an operator channel currently has in
// reply mode. At most one ticket is active per channel; free text from that
// channel is routed to the active ticket.
type OperatorSession struct {
	ID        uint   `gorm:"primaryKey;autoIncrement"`
	ChannelID string `gorm:"size:128;uniqueIndex;not null"`
	TicketID  int64  `gorm:"not null;index"`
	OpenedAt  time.Time
	UpdatedAt time.Time
}

// DeliveryCursor stores the highest message id a (channel, ticket) pair has
// consumed. The poller only requests messages past this id, so nothing is
// re-delivered and nothing is skipped as long as the cursor tracks the true
// maximum id seen.
type DeliveryCursor struct {
	ChannelID     string `gorm:"primaryKey;size:128"`
	TicketID      int64  `gorm:"primaryKey;autoIncrement:false"`
	LastMessageID int64  `gorm:"not null;default:0"`
	UpdatedAt     time.Time
}
