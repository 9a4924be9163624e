package relay

import (
	"fmt"
	"strings"

	"github.com/parleyhq/parley/internal/models"
)

// maxChunkLen keeps outbound chat messages under the platform ceilings
// (Discord caps at 2000, Slack well above that).
const maxChunkLen = 1900

// historyTail is how many trailing messages the open command replays.
const historyTail = 8

func statusLabel(s models.Status) string {
	switch s {
	case models.StatusPending:
		return "PENDING"
	case models.StatusApproved:
		return "APPROVED"
	case models.StatusDenied:
		return "DENIED"
	default:
		return strings.ToUpper(string(s))
	}
}

// formatQueue renders the pending queue for the queue command and digest.
func formatQueue(items []models.TicketSummary) string {
	if len(items) == 0 {
		return "No pending support requests."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Pending support requests (%d):\n", len(items))
	for _, it := range items {
		fmt.Fprintf(&b, "#%d %s — %s", it.ID, it.VisitorName, statusLabel(it.Status))
		if it.LastMessage != nil {
			fmt.Fprintf(&b, " — %s", oneLine(it.LastMessage.Text, 80))
		}
		b.WriteByte('\n')
	}
	return strings.TrimRight(b.String(), "\n")
}

// formatHistory renders the tail of a conversation when a thread opens.
func formatHistory(t models.TicketSummary, msgs []models.Message) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Opened #%d (%s, %s).", t.ID, t.VisitorName, statusLabel(t.Status))
	if len(msgs) > historyTail {
		msgs = msgs[len(msgs)-historyTail:]
	}
	for _, m := range msgs {
		b.WriteByte('\n')
		b.WriteString(formatTicketMessage(t, m))
	}
	b.WriteString("\nReplies in this channel go to the visitor. Use !sp leave to stop.")
	return b.String()
}

// formatTicketMessage renders one conversation line for the operator.
func formatTicketMessage(t models.TicketSummary, m models.Message) string {
	switch m.From {
	case models.AuthorVisitor:
		return fmt.Sprintf("Client #%d (%s): %s", t.ID, t.VisitorName, m.Text)
	case models.AuthorOperator:
		return fmt.Sprintf("You: %s", m.Text)
	default:
		return fmt.Sprintf("[system] %s", m.Text)
	}
}

// oneLine collapses text to a single truncated line for list views.
// Truncation is by rune so multi-byte text is never cut mid-sequence.
func oneLine(s string, max int) string {
	s = strings.Join(strings.Fields(s), " ")
	if r := []rune(s); len(r) > max {
		s = string(r[:max-1]) + "…"
	}
	return s
}

// chunkMessage splits text into platform-sized pieces, preferring line
// boundaries.
func chunkMessage(text string) []string {
	if len(text) <= maxChunkLen {
		return []string{text}
	}
	var chunks []string
	for len(text) > maxChunkLen {
		cut := strings.LastIndexByte(text[:maxChunkLen], '\n')
		if cut <= 0 {
			cut = maxChunkLen
		}
		chunks = append(chunks, strings.TrimRight(text[:cut], "\n"))
		text = strings.TrimLeft(text[cut:], "\n")
	}
	if text != "" {
		chunks = append(chunks, text)
	}
	return chunks
}
