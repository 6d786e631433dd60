// ABOUTME: Inbound message relay between the channel and the agent backend
// ABOUTME: Resolves conversations under a creation lock, forwards turns and sends replies back

package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/2389/chatline/internal/activity"
	"github.com/2389/chatline/internal/backend"
	"github.com/2389/chatline/internal/cache"
	"github.com/2389/chatline/internal/channel"
	"github.com/2389/chatline/internal/session"
	"github.com/2389/chatline/internal/store"
)

// Creation lock timings. The TTL bounds the blast radius of a crashed lock
// holder; the wait gives a concurrent creator time to finish before we
// re-check.
const (
	lockTTL  = 10 * time.Second
	lockWait = 500 * time.Millisecond
)

// apologyMessage is sent to the contact when relaying fails mid-flight.
const apologyMessage = "Sorry, something went wrong on our end. Please try again in a moment."

// attachmentPlaceholder stands in for media-only messages when forwarding
// to the agent backend.
const attachmentPlaceholder = "[attachment received]"

// Sender is the outbound surface of the connector that delivered the
// message; replies go back through it.
type Sender interface {
	SendMessage(ctx context.Context, to, body string) (string, error)
}

// Relay forwards inbound channel messages to the agent backend and relays
// replies back to the contact.
type Relay struct {
	store    store.Store
	backend  backend.Client
	cache    cache.Cache
	activity *activity.Recorder
	logger   *slog.Logger
}

// New creates a relay.
func New(st store.Store, be backend.Client, c cache.Cache, act *activity.Recorder, logger *slog.Logger) *Relay {
	if c == nil {
		c = cache.NewNoop()
	}
	return &Relay{
		store:    st,
		backend:  be,
		cache:    c,
		activity: act,
		logger:   logger.With("component", "relay"),
	}
}

// Handle processes one inbound message for a session. It never propagates
// an error to the caller: mid-flight failures are logged and answered with
// a generic apology to the contact, best-effort.
func (r *Relay) Handle(ctx context.Context, key session.Key, msg channel.Message, sender Sender) {
	if msg.Text == "" && !msg.HasMedia {
		return
	}

	contact, err := contactAddress(msg.Sender)
	if err != nil {
		r.logger.Warn("dropping message with unusable sender", "session", key.String(), "sender", msg.Sender, "error", err)
		return
	}

	logger := r.logger.With("session", key.String(), "contact", contact)

	if err := r.relay(ctx, key, msg, contact, sender); err != nil {
		logger.Error("relaying message failed", "error", err)
		if _, sendErr := sender.SendMessage(ctx, contact, apologyMessage); sendErr != nil {
			logger.Warn("sending apology failed", "error", sendErr)
		}
	}
}

func (r *Relay) relay(ctx context.Context, key session.Key, msg channel.Message, contact string, sender Sender) error {
	conv, err := r.resolveConversation(ctx, key, msg, contact)
	if err != nil {
		return err
	}

	text := msg.Text
	if text == "" {
		text = attachmentPlaceholder
	}

	result, err := r.backend.SendTurn(ctx, conv.BackendID, text)
	if err != nil {
		return fmt.Errorf("forwarding turn to backend: %w", err)
	}

	r.persistTurn(ctx, conv.ID, store.RoleContact, text)

	reply := result.LatestReply()
	if reply == "" {
		r.logger.Debug("backend produced no reply", "conversation", conv.ID)
		return nil
	}
	r.persistTurn(ctx, conv.ID, store.RoleAssistant, reply)

	if _, err := sender.SendMessage(ctx, contact, reply); err != nil {
		return fmt.Errorf("sending reply: %w", err)
	}
	r.activity.Record(key.String(), "message.relayed", contact)
	return nil
}

// resolveConversation finds the ongoing conversation for the contact or
// creates one. Creation runs under a distributed set-if-absent lock; when
// the lock is contended we wait briefly and re-check once, then proceed
// with a warning rather than deadlock the relay.
func (r *Relay) resolveConversation(ctx context.Context, key session.Key, msg channel.Message, contact string) (*store.Conversation, error) {
	conv, err := r.store.GetOngoingConversation(ctx, key.String(), contact)
	if err == nil {
		return conv, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("looking up conversation: %w", err)
	}

	lockKey := creationLockKey(key, contact)
	acquired, lockErr := r.cache.SetIfAbsent(ctx, lockKey, "1", lockTTL)
	if lockErr != nil {
		r.logger.Warn("creation lock unavailable, proceeding without it", "error", lockErr)
		acquired = false
	} else if !acquired {
		// A concurrent request is creating the conversation; give it a
		// moment, then re-check once before proceeding anyway.
		select {
		case <-time.After(lockWait):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		conv, err = r.store.GetOngoingConversation(ctx, key.String(), contact)
		if err == nil {
			return conv, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("re-checking conversation: %w", err)
		}
		r.logger.Warn("creation lock still held, creating anyway", "contact", contact)
	}
	if acquired {
		defer func() {
			if err := r.cache.Del(context.WithoutCancel(ctx), lockKey); err != nil {
				r.logger.Warn("releasing creation lock failed", "error", err)
			}
		}()
		// The previous holder may have finished between our lookup and the
		// lock grant.
		conv, err = r.store.GetOngoingConversation(ctx, key.String(), contact)
		if err == nil {
			return conv, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("re-checking conversation: %w", err)
		}
	}

	return r.createConversation(ctx, key, msg, contact)
}

func (r *Relay) createConversation(ctx context.Context, key session.Key, msg channel.Message, contact string) (*store.Conversation, error) {
	backendID, err := r.backend.CreateConversation(ctx, key.AgentID, map[string]string{
		"contact_address": contact,
		"channel":         "chat",
	})
	if err != nil {
		return nil, fmt.Errorf("creating backend conversation: %w", err)
	}

	conv := &store.Conversation{
		ID:             uuid.New().String(),
		SessionKey:     key.String(),
		ContactAddress: contact,
		BackendID:      backendID,
	}
	if err := r.store.CreateConversation(ctx, conv); err != nil {
		if errors.Is(err, store.ErrDuplicateConversation) {
			// Lost the race after all; adopt the winner's conversation.
			return r.store.GetOngoingConversation(ctx, key.String(), contact)
		}
		return nil, fmt.Errorf("persisting conversation: %w", err)
	}

	r.activity.Record(key.String(), "conversation.created", contact)
	return conv, nil
}

// persistTurn saves a transcript entry best-effort; transcript loss is
// logged, never fatal to the relay path.
func (r *Relay) persistTurn(ctx context.Context, conversationID, role, content string) {
	err := r.store.SaveTurn(ctx, &store.Turn{
		ID:             uuid.New().String(),
		ConversationID: conversationID,
		Role:           role,
		Content:        content,
		CreatedAt:      time.Now().UTC(),
	})
	if err != nil {
		r.logger.Warn("saving transcript turn failed", "conversation", conversationID, "error", err)
	}
}

// contactAddress derives a stable contact address from the raw sender
// identifier on the channel.
func contactAddress(sender string) (string, error) {
	digits, err := channel.NormalizeRecipient(sender)
	if err != nil {
		return "", err
	}
	return "+" + digits, nil
}

func creationLockKey(key session.Key, contact string) string {
	return "lock:conversation:" + key.String() + ":" + contact
}
