// ABOUTME: Store interface and data types for chatline persistence
// ABOUTME: Defines ConnectionRecord, Conversation and transcript structs plus the Store interface

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrDuplicateConversation is returned when an ongoing conversation already
// exists for the same session key and contact address.
var ErrDuplicateConversation = errors.New("ongoing conversation already exists")

// Connection status values.
const (
	ConnectionPending      = "pending"
	ConnectionConnected    = "connected"
	ConnectionDisconnected = "disconnected"
)

// ConnectionRecord is the persisted view of a channel session, one per
// session key. It is written by connector lifecycle callbacks and consulted
// only when no live connector exists; it is never authoritative over a live
// connector's actual state.
type ConnectionRecord struct {
	SessionKey  string
	Status      string // pending, connected, disconnected
	PhoneNumber string
	Platform    string
	DisplayName string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Conversation status values.
const (
	ConversationOngoing = "ongoing"
	ConversationEnded   = "ended"
)

// Conversation is a logical back-and-forth with one contact, tracked against
// the remote agent backend. At most one ongoing conversation exists per
// (session key, contact address).
type Conversation struct {
	ID             string // local identifier
	SessionKey     string
	ContactAddress string
	ContactName    string
	BackendID      string // conversation id assigned by the agent backend
	Status         string // ongoing, ended
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Turn roles within a conversation transcript.
const (
	RoleContact   = "contact"
	RoleAssistant = "assistant"
)

// Turn is one transcript entry of a conversation.
type Turn struct {
	ID             string
	ConversationID string
	Role           string // contact, assistant
	Content        string
	CreatedAt      time.Time
}

// ActivityEntry is a fire-and-forget record of a session lifecycle or relay
// event.
type ActivityEntry struct {
	ID         string
	SessionKey string
	Event      string
	Detail     string
	CreatedAt  time.Time
}

// Store defines the persistence surface for connection records,
// conversations and activity entries.
type Store interface {
	// Connection records
	UpsertConnection(ctx context.Context, rec *ConnectionRecord) error
	GetConnection(ctx context.Context, sessionKey string) (*ConnectionRecord, error)
	DeleteConnection(ctx context.Context, sessionKey string) error

	// Conversations
	CreateConversation(ctx context.Context, conv *Conversation) error
	GetOngoingConversation(ctx context.Context, sessionKey, contactAddress string) (*Conversation, error)
	ListConversations(ctx context.Context, sessionKey string, limit, offset int) ([]*Conversation, error)
	EndConversation(ctx context.Context, id string) error
	EndAllConversations(ctx context.Context, sessionKey string) (int, error)

	// Transcript
	SaveTurn(ctx context.Context, turn *Turn) error
	GetTurns(ctx context.Context, conversationID string, limit int) ([]*Turn, error)

	// Activity log
	SaveActivity(ctx context.Context, entry *ActivityEntry) error

	// Close releases any resources held by the store
	Close() error
}
