package relay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/parleyhq/parley/internal/models"
	"github.com/parleyhq/parley/internal/ticket"
)

// DefaultPollInterval is how often the poller sweeps open sessions.
const DefaultPollInterval = 4 * time.Second

// Poller sweeps every open operator session, fetches the messages past
// each session's delivery cursor, and forwards the visitor-authored ones
// to the operator channel. A session whose ticket turns denied or
// disappears is closed with a notice instead of polling forever.
type Poller struct {
	api      API
	sessions *SessionStore
	adapter  Adapter
	interval time.Duration
	out      io.Writer
}

// PollerOpts holds parameters for creating a Poller.
type PollerOpts struct {
	API      API
	Sessions *SessionStore
	Adapter  Adapter
	Interval time.Duration // defaults to DefaultPollInterval
	Out      io.Writer     // defaults to os.Stdout
}

// NewPoller creates a Poller.
func NewPoller(opts PollerOpts) (*Poller, error) {
	if opts.API == nil {
		return nil, fmt.Errorf("relay: poller: api client is required")
	}
	if opts.Sessions == nil {
		return nil, fmt.Errorf("relay: poller: session store is required")
	}
	if opts.Adapter == nil {
		return nil, fmt.Errorf("relay: poller: adapter is required")
	}
	interval := opts.Interval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	out := opts.Out
	if out == nil {
		out = os.Stdout
	}
	return &Poller{
		api:      opts.API,
		sessions: opts.Sessions,
		adapter:  opts.Adapter,
		interval: interval,
		out:      out,
	}, nil
}

// Run polls on the configured interval until the context is cancelled.
func (p *Poller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.Poll(ctx); err != nil {
				log.Printf("relay: poller: %v", err)
			}
		}
	}
}

// Poll runs one sweep over all open sessions.
func (p *Poller) Poll(ctx context.Context) error {
	sessions, err := p.sessions.OpenSessions()
	if err != nil {
		return err
	}
	for _, sess := range sessions {
		if err := p.pollSession(ctx, sess); err != nil {
			log.Printf("relay: poller: session %s/#%d: %v", sess.ChannelID, sess.TicketID, err)
		}
	}
	return nil
}

// pollSession delivers new messages for one session and advances its
// cursor past everything returned, operator echoes included, so a restart
// only ever replays what was never fetched.
func (p *Poller) pollSession(ctx context.Context, sess models.OperatorSession) error {
	cursor, err := p.sessions.Cursor(sess.ChannelID, sess.TicketID)
	if err != nil {
		return err
	}

	t, msgs, err := p.api.GetTicket(ctx, sess.TicketID, cursor)
	if errors.Is(err, ticket.ErrNotFound) {
		return p.endSession(ctx, sess, fmt.Sprintf("Ticket #%d no longer exists. Session closed.", sess.TicketID))
	}
	if err != nil {
		return err
	}

	for _, m := range msgs {
		if m.From != models.AuthorVisitor {
			continue
		}
		fmt.Fprintf(p.out, "relay: poller: deliver #%d msg %d → ch=%s\n", t.ID, m.ID, sess.ChannelID)
		for _, chunk := range chunkMessage(formatTicketMessage(t, m)) {
			if err := p.adapter.Send(ctx, OutboundMessage{ChannelID: sess.ChannelID, Text: chunk}); err != nil {
				return fmt.Errorf("send: %w", err)
			}
		}
	}

	if n := len(msgs); n > 0 {
		if err := p.sessions.AdvanceCursor(sess.ChannelID, sess.TicketID, msgs[n-1].ID); err != nil {
			return err
		}
	}

	if t.Status == models.StatusDenied {
		return p.endSession(ctx, sess, fmt.Sprintf("Ticket #%d was denied. Session closed.", sess.TicketID))
	}
	return nil
}

// endSession closes a dead session and tells the operator why.
func (p *Poller) endSession(ctx context.Context, sess models.OperatorSession, notice string) error {
	if err := p.sessions.Close(sess.ChannelID); err != nil {
		return err
	}
	if err := p.sessions.DropCursor(sess.ChannelID, sess.TicketID); err != nil {
		return err
	}
	if err := p.adapter.Send(ctx, OutboundMessage{ChannelID: sess.ChannelID, Text: notice}); err != nil {
		return fmt.Errorf("send close notice: %w", err)
	}
	return nil
}
