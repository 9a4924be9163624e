package slack

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	slackapi "github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"

	"github.com/parleyhq/parley/internal/relay"
)

// --- Mock Slack clients ---

type mockClient struct {
	mu          sync.Mutex
	authErr     error
	authUserID  string
	posted      []postedMessage
	postErr     error
	users       map[string]*slackapi.User
	userInfoErr error
}

type postedMessage struct {
	channelID string
	options   int
}

func newMockClient() *mockClient {
	return &mockClient{
		authUserID: "BOT_USER_ID",
		users:      make(map[string]*slackapi.User),
	}
}

func (m *mockClient) AuthTest() (*slackapi.AuthTestResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.authErr != nil {
		return nil, m.authErr
	}
	return &slackapi.AuthTestResponse{UserID: m.authUserID}, nil
}

func (m *mockClient) PostMessage(channelID string, options ...slackapi.MsgOption) (string, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.postErr != nil {
		return "", "", m.postErr
	}
	m.posted = append(m.posted, postedMessage{channelID: channelID, options: len(options)})
	return channelID, "1234567890.123456", nil
}

func (m *mockClient) GetUserInfo(userID string) (*slackapi.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.userInfoErr != nil {
		return nil, m.userInfoErr
	}
	if u, ok := m.users[userID]; ok {
		return u, nil
	}
	return nil, fmt.Errorf("user not found: %s", userID)
}

func (m *mockClient) postedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.posted)
}

func (m *mockClient) lastPosted() postedMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.posted[len(m.posted)-1]
}

type mockSocket struct {
	mu       sync.Mutex
	events   chan socketmode.Event
	runErr   error
	runCalls int
	acked    []socketmode.Request
}

func newMockSocket() *mockSocket {
	return &mockSocket{events: make(chan socketmode.Event, 10)}
}

func (m *mockSocket) Run() error {
	m.mu.Lock()
	m.runCalls++
	err := m.runErr
	m.mu.Unlock()
	if err != nil {
		return err
	}
	// Block like the real client until the event channel closes.
	for range m.events {
	}
	return nil
}

func (m *mockSocket) EventsChan() chan socketmode.Event {
	return m.events
}

func (m *mockSocket) Ack(req socketmode.Request, payload ...interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.acked = append(m.acked, req)
}

func (m *mockSocket) ackCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.acked)
}

// --- Helper to create a connected adapter ---

func newTestAdapter(t *testing.T) (*Adapter, *mockClient, *mockSocket) {
	t.Helper()
	client := newMockClient()
	socket := newMockSocket()

	a, err := New(AdapterOpts{
		Client:    client,
		Socket:    socket,
		ChannelID: "C_DEFAULT",
	})
	if err != nil {
		t.Fatalf("new adapter: %v", err)
	}
	if err := a.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	return a, client, socket
}

// --- New tests ---

func TestNew_RequiresBotToken(t *testing.T) {
	_, err := New(AdapterOpts{AppToken: "xapp-123"})
	if err == nil {
		t.Fatal("expected error for missing bot token")
	}
	if !strings.Contains(err.Error(), "bot token") {
		t.Errorf("error = %q", err.Error())
	}
}

func TestNew_RequiresAppToken(t *testing.T) {
	_, err := New(AdapterOpts{Client: newMockClient()})
	if err == nil {
		t.Fatal("expected error for missing app token")
	}
	if !strings.Contains(err.Error(), "app token") {
		t.Errorf("error = %q", err.Error())
	}
}

func TestNew_WithMocks(t *testing.T) {
	a, err := New(AdapterOpts{Client: newMockClient(), Socket: newMockSocket()})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a == nil {
		t.Fatal("expected non-nil adapter")
	}
}

// --- Connect tests ---

func TestConnect_SetsBotUserID(t *testing.T) {
	a, _, _ := newTestAdapter(t)
	if got := a.BotUserID(); got != "BOT_USER_ID" {
		t.Errorf("BotUserID = %q", got)
	}
}

func TestConnect_AuthError(t *testing.T) {
	client := newMockClient()
	client.authErr = fmt.Errorf("invalid_auth")

	a, _ := New(AdapterOpts{Client: client, Socket: newMockSocket()})
	err := a.Connect(context.Background())
	if err == nil {
		t.Fatal("expected auth error")
	}
	if !strings.Contains(err.Error(), "auth test") {
		t.Errorf("error = %q", err.Error())
	}
}

func TestConnect_AlreadyClosed(t *testing.T) {
	a, _, _ := newTestAdapter(t)
	a.Close()
	if err := a.Connect(context.Background()); err == nil {
		t.Fatal("expected error for closed adapter")
	}
}

func TestConnect_Idempotent(t *testing.T) {
	a, _, _ := newTestAdapter(t)
	if err := a.Connect(context.Background()); err != nil {
		t.Fatalf("second connect should not error: %v", err)
	}
}

// --- Listen and event pump tests ---

func TestListen_NotConnected(t *testing.T) {
	a, _ := New(AdapterOpts{Client: newMockClient(), Socket: newMockSocket()})
	if _, err := a.Listen(context.Background()); err == nil {
		t.Fatal("expected error for not connected")
	}
}

func TestListen_ReceivesMessages(t *testing.T) {
	a, client, socket := newTestAdapter(t)
	client.users["U_ALICE"] = &slackapi.User{
		Profile:  slackapi.UserProfile{DisplayName: "alice"},
		RealName: "Alice A",
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := a.Listen(ctx)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	socket.events <- messageEvent("C1", "U_ALICE", "hello", "1700000000.000100")

	select {
	case msg := <-ch:
		if msg.Platform != "slack" {
			t.Errorf("platform = %q, want slack", msg.Platform)
		}
		if msg.ChannelID != "C1" {
			t.Errorf("channel = %q, want C1", msg.ChannelID)
		}
		if msg.UserName != "alice" {
			t.Errorf("username = %q, want alice", msg.UserName)
		}
		if msg.Text != "hello" {
			t.Errorf("text = %q, want hello", msg.Text)
		}
		if msg.Timestamp.Unix() != 1700000000 {
			t.Errorf("timestamp = %v", msg.Timestamp)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for inbound message")
	}

	if socket.ackCount() != 1 {
		t.Errorf("ack count = %d, want 1", socket.ackCount())
	}
}

func TestListen_FiltersSelfAndBots(t *testing.T) {
	a, _, socket := newTestAdapter(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, _ := a.Listen(ctx)

	// Self-message.
	socket.events <- messageEvent("C1", "BOT_USER_ID", "from self", "1700000000.1")
	// Message with a subtype (edit) is dropped.
	a.handleMessage(&slackevents.MessageEvent{
		Channel: "C1", User: "U_EVE", Text: "edited", SubType: "message_changed",
	})
	// Real message.
	socket.events <- messageEvent("C1", "U_BOB", "from human", "1700000000.3")

	select {
	case msg := <-ch:
		if msg.Text != "from human" {
			t.Errorf("expected human message, got %q", msg.Text)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout")
	}
}

// --- Send tests ---

func TestSend_NotConnected(t *testing.T) {
	a, _ := New(AdapterOpts{Client: newMockClient(), Socket: newMockSocket()})
	if err := a.Send(context.Background(), relay.OutboundMessage{ChannelID: "C1", Text: "hi"}); err == nil {
		t.Fatal("expected error for not connected")
	}
}

func TestSend_Success(t *testing.T) {
	a, client, _ := newTestAdapter(t)

	if err := a.Send(context.Background(), relay.OutboundMessage{ChannelID: "C1", Text: "hello"}); err != nil {
		t.Fatalf("send: %v", err)
	}
	if client.postedCount() != 1 {
		t.Fatalf("posted count = %d, want 1", client.postedCount())
	}
	if last := client.lastPosted(); last.channelID != "C1" {
		t.Errorf("channel = %q, want C1", last.channelID)
	}
}

func TestSend_DefaultChannel(t *testing.T) {
	a, client, _ := newTestAdapter(t)

	if err := a.Send(context.Background(), relay.OutboundMessage{Text: "to default"}); err != nil {
		t.Fatalf("send: %v", err)
	}
	if last := client.lastPosted(); last.channelID != "C_DEFAULT" {
		t.Errorf("channel = %q, want C_DEFAULT", last.channelID)
	}
}

func TestSend_NoChannel(t *testing.T) {
	client := newMockClient()
	a, _ := New(AdapterOpts{Client: client, Socket: newMockSocket()})
	if err := a.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}

	err := a.Send(context.Background(), relay.OutboundMessage{Text: "nowhere"})
	if err == nil {
		t.Fatal("expected error for missing channel")
	}
	if !strings.Contains(err.Error(), "no channel") {
		t.Errorf("error = %q", err.Error())
	}
}

func TestSend_NonRateLimitErrorNotRetried(t *testing.T) {
	a, client, _ := newTestAdapter(t)
	client.postErr = fmt.Errorf("channel_not_found")

	err := a.Send(context.Background(), relay.OutboundMessage{ChannelID: "C1", Text: "hi"})
	if err == nil {
		t.Fatal("expected post error")
	}
	if !strings.Contains(err.Error(), "channel_not_found") {
		t.Errorf("error = %q", err.Error())
	}
}

// --- retryOnRateLimit tests ---

func TestRetryOnRateLimit_RespectsRetryAfter(t *testing.T) {
	var calls int
	err := retryOnRateLimit(context.Background(), func() error {
		calls++
		if calls == 1 {
			return &slackapi.RateLimitedError{RetryAfter: time.Millisecond}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if calls != 2 {
		t.Errorf("calls = %d, want 2", calls)
	}
}

func TestRetryOnRateLimit_GivesUp(t *testing.T) {
	var calls int
	err := retryOnRateLimit(context.Background(), func() error {
		calls++
		return &slackapi.RateLimitedError{RetryAfter: time.Millisecond}
	})
	if err == nil {
		t.Fatal("expected rate limit error after exhausting retries")
	}
	if calls != maxRetries+1 {
		t.Errorf("calls = %d, want %d", calls, maxRetries+1)
	}
}

func TestRetryOnRateLimit_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := retryOnRateLimit(ctx, func() error {
		return &slackapi.RateLimitedError{RetryAfter: time.Minute}
	})
	if err != context.Canceled {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

// --- runWithReconnect tests ---

func TestRunWithReconnect_GivesUpAfterMaxAttempts(t *testing.T) {
	a, _, socket := newTestAdapter(t)
	a.baseBackoff = time.Millisecond
	a.maxBackoff = 5 * time.Millisecond
	a.maxReconnect = 3

	socket.mu.Lock()
	socket.runErr = fmt.Errorf("socket closed")
	socket.mu.Unlock()

	done := make(chan struct{})
	go func() {
		a.runWithReconnect(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("runWithReconnect did not give up")
	}

	socket.mu.Lock()
	calls := socket.runCalls
	socket.mu.Unlock()
	if calls != 3 {
		t.Errorf("run calls = %d, want 3", calls)
	}
}

// --- Close tests ---

func TestClose_Idempotent(t *testing.T) {
	a, _, _ := newTestAdapter(t)
	if err := a.Close(); err != nil {
		t.Fatalf("first close: %v", err)
	}
	if err := a.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
}

func TestClose_ClosesInboundChannel(t *testing.T) {
	a, _, _ := newTestAdapter(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, _ := a.Listen(ctx)
	a.Close()

	select {
	case _, ok := <-ch:
		if ok {
			t.Fatal("channel should be closed")
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for channel close")
	}
}

func TestClose_DiscardsLateEvents(t *testing.T) {
	a, _, _ := newTestAdapter(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, _ := a.Listen(ctx)
	if err := a.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	// An event racing Close must be dropped, not sent on the closed
	// inbound channel.
	a.handleMessage(&slackevents.MessageEvent{
		Channel: "C1", User: "U_BOB", Text: "too late", TimeStamp: "1700000000.9",
	})

	select {
	case msg, ok := <-ch:
		if ok {
			t.Fatalf("unexpected message after close: %q", msg.Text)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for channel close")
	}
}

// --- resolveUserName tests ---

func TestResolveUserName(t *testing.T) {
	a, client, _ := newTestAdapter(t)
	client.users["U1"] = &slackapi.User{
		Profile:  slackapi.UserProfile{DisplayName: "dana"},
		RealName: "Dana D",
	}
	client.users["U2"] = &slackapi.User{RealName: "No Display"}

	if got := a.resolveUserName("U1"); got != "dana" {
		t.Errorf("display name lookup = %q", got)
	}
	if got := a.resolveUserName("U2"); got != "No Display" {
		t.Errorf("real name fallback = %q", got)
	}
	// Lookup failure falls back to the raw user id.
	if got := a.resolveUserName("U_MISSING"); got != "U_MISSING" {
		t.Errorf("missing user fallback = %q", got)
	}
	if got := a.resolveUserName(""); got != "" {
		t.Errorf("empty user = %q", got)
	}
}

// --- parseSlackTimestamp tests ---

func TestParseSlackTimestamp(t *testing.T) {
	ts := parseSlackTimestamp("1700000000.000100")
	if ts.Unix() != 1700000000 {
		t.Errorf("Unix = %d", ts.Unix())
	}
	if !parseSlackTimestamp("garbage").IsZero() {
		t.Error("garbage timestamp should be zero time")
	}
}

// --- Event helpers ---

// messageEvent builds a Socket Mode Events API event carrying one message.
func messageEvent(channel, user, text, ts string) socketmode.Event {
	inner := slackevents.EventsAPIInnerEvent{
		Data: &slackevents.MessageEvent{
			Channel:   channel,
			User:      user,
			Text:      text,
			TimeStamp: ts,
		},
	}
	req := &socketmode.Request{EnvelopeID: "env-" + ts}
	return socketmode.Event{
		Type: socketmode.EventTypeEventsAPI,
		Data: slackevents.EventsAPIEvent{
			Type:       slackevents.CallbackEvent,
			InnerEvent: inner,
		},
		Request: req,
	}
}
