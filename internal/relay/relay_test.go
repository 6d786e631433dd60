// ABOUTME: Tests for the inbound message relay
// ABOUTME: Covers conversation resolution under the creation lock, reply delivery and the apology path

package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/chatline/internal/activity"
	"github.com/2389/chatline/internal/backend"
	"github.com/2389/chatline/internal/cache"
	"github.com/2389/chatline/internal/channel"
	"github.com/2389/chatline/internal/session"
	"github.com/2389/chatline/internal/store"
)

type fakeBackend struct {
	mu        sync.Mutex
	created   int
	createErr error
	sendErr   error
	reply     string
	lastText  string
}

func (f *fakeBackend) CreateConversation(ctx context.Context, agentID string, _ map[string]string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return "", f.createErr
	}
	f.created++
	return fmt.Sprintf("backend-conv-%d", f.created), nil
}

func (f *fakeBackend) SendTurn(ctx context.Context, conversationID, text string) (*backend.TurnResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return nil, f.sendErr
	}
	f.lastText = text
	return &backend.TurnResult{Turns: []backend.Turn{
		{Role: "contact", Content: text},
		{Role: "assistant", Content: f.reply},
	}}, nil
}

func (f *fakeBackend) createdCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.created
}

type fakeSender struct {
	mu      sync.Mutex
	sent    []string
	sendErr error
}

func (f *fakeSender) SendMessage(ctx context.Context, to, body string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return "", f.sendErr
	}
	f.sent = append(f.sent, body)
	return "sent-1", nil
}

func (f *fakeSender) messages() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sent...)
}

type relayFixture struct {
	relay   *Relay
	store   *store.SQLiteStore
	backend *fakeBackend
	sender  *fakeSender
	cache   cache.Cache
	key     session.Key
}

func newFixture(t *testing.T) *relayFixture {
	t.Helper()
	st, err := store.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	mr := miniredis.RunT(t)
	c, err := cache.NewRedis(cache.RedisConfig{Addr: mr.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	be := &fakeBackend{reply: "hello from the agent"}
	key, err := session.NewKey("t1", "a1")
	require.NoError(t, err)

	return &relayFixture{
		relay:   New(st, be, c, activity.NewSync(st, logger), logger),
		store:   st,
		backend: be,
		sender:  &fakeSender{},
		cache:   c,
		key:     key,
	}
}

func inbound(id, text string) channel.Message {
	return channel.Message{ID: id, Sender: "15551234567", Text: text, Timestamp: time.Now()}
}

func TestRelay_SkipsEmptyMessage(t *testing.T) {
	f := newFixture(t)
	f.relay.Handle(context.Background(), f.key, channel.Message{ID: "m1", Sender: "15551234567"}, f.sender)

	assert.Equal(t, 0, f.backend.createdCount())
	assert.Empty(t, f.sender.messages())
}

func TestRelay_CreatesConversationAndRelaysReply(t *testing.T) {
	f := newFixture(t)
	f.relay.Handle(context.Background(), f.key, inbound("m1", "hi there"), f.sender)

	require.Equal(t, []string{"hello from the agent"}, f.sender.messages())
	assert.Equal(t, 1, f.backend.createdCount())
	assert.Equal(t, "hi there", f.backend.lastText)

	conv, err := f.store.GetOngoingConversation(context.Background(), "t1:a1", "+15551234567")
	require.NoError(t, err)
	assert.Equal(t, "backend-conv-1", conv.BackendID)

	turns, err := f.store.GetTurns(context.Background(), conv.ID, 0)
	require.NoError(t, err)
	require.Len(t, turns, 2)
	assert.Equal(t, store.RoleContact, turns[0].Role)
	assert.Equal(t, store.RoleAssistant, turns[1].Role)
}

func TestRelay_ReusesOngoingConversation(t *testing.T) {
	f := newFixture(t)
	f.relay.Handle(context.Background(), f.key, inbound("m1", "first"), f.sender)
	f.relay.Handle(context.Background(), f.key, inbound("m2", "second"), f.sender)

	assert.Equal(t, 1, f.backend.createdCount())
	convs, err := f.store.ListConversations(context.Background(), "t1:a1", 10, 0)
	require.NoError(t, err)
	assert.Len(t, convs, 1)
}

func TestRelay_ConcurrentFirstMessagesCreateOneConversation(t *testing.T) {
	f := newFixture(t)

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			f.relay.Handle(context.Background(), f.key, inbound(fmt.Sprintf("m%d", n), "hi"), f.sender)
		}(i)
	}
	wg.Wait()

	convs, err := f.store.ListConversations(context.Background(), "t1:a1", 10, 0)
	require.NoError(t, err)
	assert.Len(t, convs, 1, "near-simultaneous first messages must share one conversation")
	assert.Equal(t, 1, f.backend.createdCount())
	assert.Len(t, f.sender.messages(), 2)
}

func TestRelay_LockContention_AdoptsConcurrentCreation(t *testing.T) {
	f := newFixture(t)

	// Another process holds the creation lock and finishes its create while
	// we wait.
	lockKey := creationLockKey(f.key, "+15551234567")
	held, err := f.cache.SetIfAbsent(context.Background(), lockKey, "1", time.Minute)
	require.NoError(t, err)
	require.True(t, held)

	go func() {
		time.Sleep(100 * time.Millisecond)
		_ = f.store.CreateConversation(context.Background(), &store.Conversation{
			ID:             "existing",
			SessionKey:     "t1:a1",
			ContactAddress: "+15551234567",
			BackendID:      "backend-other",
		})
	}()

	f.relay.Handle(context.Background(), f.key, inbound("m1", "hi"), f.sender)

	assert.Equal(t, 0, f.backend.createdCount(), "must adopt the concurrently created conversation")
	assert.Len(t, f.sender.messages(), 1)
}

func TestRelay_LockStillHeld_ProceedsWithWarning(t *testing.T) {
	f := newFixture(t)

	lockKey := creationLockKey(f.key, "+15551234567")
	held, err := f.cache.SetIfAbsent(context.Background(), lockKey, "1", time.Minute)
	require.NoError(t, err)
	require.True(t, held)

	f.relay.Handle(context.Background(), f.key, inbound("m1", "hi"), f.sender)

	// Availability wins over strict mutual exclusion: the conversation is
	// still created.
	assert.Equal(t, 1, f.backend.createdCount())
	assert.Len(t, f.sender.messages(), 1)
}

func TestRelay_BackendFailureSendsOneApology(t *testing.T) {
	f := newFixture(t)
	f.backend.sendErr = errors.New("backend down")

	f.relay.Handle(context.Background(), f.key, inbound("m1", "hi"), f.sender)

	require.Len(t, f.sender.messages(), 1)
	assert.Equal(t, apologyMessage, f.sender.messages()[0])
}

func TestRelay_ApologyFailureDoesNotPanic(t *testing.T) {
	f := newFixture(t)
	f.backend.createErr = errors.New("backend down")
	f.sender.sendErr = errors.New("channel down")

	assert.NotPanics(t, func() {
		f.relay.Handle(context.Background(), f.key, inbound("m1", "hi"), f.sender)
	})
}

func TestRelay_EmptyReplyNotSent(t *testing.T) {
	f := newFixture(t)
	f.backend.reply = ""

	f.relay.Handle(context.Background(), f.key, inbound("m1", "hi"), f.sender)
	assert.Empty(t, f.sender.messages())
}

func TestRelay_MediaOnlyMessageForwardsPlaceholder(t *testing.T) {
	f := newFixture(t)
	f.relay.Handle(context.Background(), f.key, channel.Message{
		ID: "m1", Sender: "15551234567", HasMedia: true,
	}, f.sender)

	assert.Equal(t, attachmentPlaceholder, f.backend.lastText)
	assert.Len(t, f.sender.messages(), 1)
}
