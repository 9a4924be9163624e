package relay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/parleyhq/parley/internal/models"
	"github.com/parleyhq/parley/internal/ticket"
)

// commandPrefix is the prefix that triggers support command handling.
const commandPrefix = "!sp"

// Router classifies inbound chat messages: "!sp" commands go to the
// command table, everything else in a channel with an open session is
// forwarded to that session's visitor.
type Router struct {
	api       API
	sessions  *SessionStore
	adapter   Adapter
	botUserID string // the bot's own user ID (to filter self-messages)
	out       io.Writer
}

// RouterOpts holds parameters for creating a Router.
type RouterOpts struct {
	API       API
	Sessions  *SessionStore
	Adapter   Adapter
	BotUserID string    // bot's user ID for self-message filtering
	Out       io.Writer // defaults to os.Stdout
}

// NewRouter creates a Router.
func NewRouter(opts RouterOpts) (*Router, error) {
	if opts.API == nil {
		return nil, fmt.Errorf("relay: router: api client is required")
	}
	if opts.Sessions == nil {
		return nil, fmt.Errorf("relay: router: session store is required")
	}
	if opts.Adapter == nil {
		return nil, fmt.Errorf("relay: router: adapter is required")
	}
	out := opts.Out
	if out == nil {
		out = os.Stdout
	}
	return &Router{
		api:       opts.API,
		sessions:  opts.Sessions,
		adapter:   opts.Adapter,
		botUserID: opts.BotUserID,
		out:       out,
	}, nil
}

// Handle classifies and routes a single inbound message. Routing paths:
//  1. Bot self-message → ignore
//  2. Command prefix "!sp" → command table
//  3. Channel with an open session → forward to the visitor
//  4. Everything else → ignore
func (r *Router) Handle(ctx context.Context, msg InboundMessage) {
	if r.isSelfMessage(msg) {
		return
	}

	text := strings.TrimSpace(msg.Text)
	if text == "" {
		return
	}
	fmt.Fprintf(r.out, "relay: router: recv [ch=%s user=%s] %q\n",
		msg.ChannelID, msg.UserName, truncate(text, 80))

	if isCommand(text) {
		r.handleCommand(ctx, msg, text)
		return
	}

	ticketID, ok, err := r.sessions.Active(msg.ChannelID)
	if err != nil {
		log.Printf("relay: router: session lookup: %v", err)
		return
	}
	if !ok {
		fmt.Fprintf(r.out, "relay: router: → ignore (no open session)\n")
		return
	}

	fmt.Fprintf(r.out, "relay: router: → forward to #%d\n", ticketID)
	r.forward(ctx, msg.ChannelID, ticketID, text)
}

// forward posts the operator's free-text reply to the focused ticket. A
// dead ticket (denied or deleted) closes the session and tells the
// operator instead of failing silently.
func (r *Router) forward(ctx context.Context, channelID string, ticketID int64, text string) {
	_, err := r.api.PostMessage(ctx, ticketID, text, channelID)
	switch {
	case err == nil:
		// Only the poller moves the cursor, and only past messages it has
		// fetched. Jumping it to the reply's id here could skip a visitor
		// message that arrived since the last sweep; the reply itself is
		// operator-authored, so the poller never echoes it back anyway.
	case errors.Is(err, ticket.ErrNotFound), errors.Is(err, ticket.ErrForbidden):
		if err := r.sessions.Close(channelID); err != nil {
			log.Printf("relay: router: close dead session: %v", err)
		}
		r.reply(ctx, channelID, fmt.Sprintf("Ticket #%d is no longer writable. Session closed.", ticketID))
	default:
		log.Printf("relay: router: forward to #%d: %v", ticketID, err)
		r.reply(ctx, channelID, "Could not deliver that message. Try again.")
	}
}

// handleCommand dispatches one "!sp" command and sends the response.
func (r *Router) handleCommand(ctx context.Context, msg InboundMessage, text string) {
	args := strings.Fields(strings.TrimPrefix(text, commandPrefix))
	if len(args) == 0 {
		r.reply(ctx, msg.ChannelID, helpText)
		return
	}

	var response string
	switch args[0] {
	case "queue":
		response = r.cmdQueue(ctx)
	case "open":
		response = r.cmdOpen(ctx, msg.ChannelID, args[1:])
	case "approve":
		response = r.cmdDecide(ctx, msg.ChannelID, models.StatusApproved, args[1:])
	case "deny":
		response = r.cmdDecide(ctx, msg.ChannelID, models.StatusDenied, args[1:])
	case "leave":
		response = r.cmdLeave(msg.ChannelID)
	case "help":
		response = helpText
	default:
		response = fmt.Sprintf("Unknown command %q.\n%s", args[0], helpText)
	}
	r.reply(ctx, msg.ChannelID, response)
}

const helpText = `Support commands:
!sp queue        — list pending support requests
!sp approve <id> — approve a request and open its thread here
!sp deny <id>    — deny a request
!sp open <id>    — focus this channel on a ticket
!sp leave        — stop relaying the focused ticket
!sp help         — this message

While a ticket is focused, plain messages in this channel go to the visitor.`

func (r *Router) cmdQueue(ctx context.Context) string {
	items, err := r.api.ListTickets(ctx, models.StatusPending)
	if err != nil {
		log.Printf("relay: router: queue: %v", err)
		return "Could not fetch the queue."
	}
	return formatQueue(items)
}

// cmdOpen focuses the channel on a ticket and replays the recent history.
// The delivery cursor jumps to the newest message so the poller only picks
// up what arrives after this point.
func (r *Router) cmdOpen(ctx context.Context, channelID string, args []string) string {
	id, ok := parseTicketID(args)
	if !ok {
		return "Usage: !sp open <id>"
	}
	t, msgs, err := r.api.GetTicket(ctx, id, 0)
	if err != nil {
		if errors.Is(err, ticket.ErrNotFound) {
			return fmt.Sprintf("Ticket #%d not found.", id)
		}
		log.Printf("relay: router: open #%d: %v", id, err)
		return "Could not open that ticket."
	}
	if err := r.sessions.Open(channelID, id); err != nil {
		log.Printf("relay: router: open session: %v", err)
		return "Could not open that ticket."
	}
	last := int64(0)
	if n := len(msgs); n > 0 {
		last = msgs[n-1].ID
	}
	if err := r.sessions.AdvanceCursor(channelID, id, last); err != nil {
		log.Printf("relay: router: seed cursor: %v", err)
	}
	return formatHistory(t, msgs)
}

// cmdDecide applies an approve/deny decision. Approving also opens the
// thread in this channel, mirroring the operator workflow of deciding and
// greeting in one step.
func (r *Router) cmdDecide(ctx context.Context, channelID string, decision models.Status, args []string) string {
	id, ok := parseTicketID(args)
	if !ok {
		return fmt.Sprintf("Usage: !sp %s <id>", decisionVerb(decision))
	}
	t, err := r.api.Decide(ctx, id, decision, channelID)
	switch {
	case errors.Is(err, ticket.ErrNotFound):
		return fmt.Sprintf("Ticket #%d not found.", id)
	case errors.Is(err, ticket.ErrConflict):
		return fmt.Sprintf("Ticket #%d was already decided.", id)
	case err != nil:
		log.Printf("relay: router: %s #%d: %v", decisionVerb(decision), id, err)
		return "Could not apply that decision."
	}

	if decision != models.StatusApproved {
		return fmt.Sprintf("Denied #%d (%s).", t.ID, t.VisitorName)
	}
	return r.cmdOpen(ctx, channelID, args)
}

func (r *Router) cmdLeave(channelID string) string {
	id, ok, err := r.sessions.Active(channelID)
	if err != nil {
		log.Printf("relay: router: leave: %v", err)
		return "Could not close the session."
	}
	if !ok {
		return "No ticket is focused in this channel."
	}
	if err := r.sessions.Close(channelID); err != nil {
		log.Printf("relay: router: leave: %v", err)
		return "Could not close the session."
	}
	return fmt.Sprintf("Left #%d. Messages here are no longer relayed.", id)
}

// reply sends a response, chunked to the platform limit.
func (r *Router) reply(ctx context.Context, channelID, text string) {
	for _, chunk := range chunkMessage(text) {
		if err := r.adapter.Send(ctx, OutboundMessage{ChannelID: channelID, Text: chunk}); err != nil {
			log.Printf("relay: router: send reply: %v", err)
			return
		}
	}
}

// isSelfMessage returns true if the message is from the bot itself.
func (r *Router) isSelfMessage(msg InboundMessage) bool {
	return r.botUserID != "" && msg.UserID == r.botUserID
}

// isCommand returns true if the text starts with the command prefix.
func isCommand(text string) bool {
	return strings.HasPrefix(text, commandPrefix+" ") || text == commandPrefix
}

func parseTicketID(args []string) (int64, bool) {
	if len(args) != 1 {
		return 0, false
	}
	id, err := strconv.ParseInt(strings.TrimPrefix(args[0], "#"), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

func decisionVerb(decision models.Status) string {
	if decision == models.StatusApproved {
		return "approve"
	}
	return "deny"
}

// truncate returns s truncated to maxLen runes with "..." appended if
// needed, never splitting a rune.
func truncate(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	return string(r[:maxLen]) + "..."
}
