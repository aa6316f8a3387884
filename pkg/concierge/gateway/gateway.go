// Package gateway defines the typed contract between Concierge and the
// remote messaging platform. The platform speaks a REST + long-poll
// protocol: clients register an event queue, then poll it with a cursor.
// All request/response shapes are explicit structs so the rest of the
// codebase never touches the wire format.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Event types a queue can subscribe to.
const (
	EventMessage  = "message"
	EventReaction = "reaction"
)

// User is a platform account.
type User struct {
	ID       int64
	Email    string
	FullName string
	IsBot    bool
}

// Channel is a shared stream of topic-threaded messages. A channel may
// belong to a folder (organizational grouping); FolderID is zero when it
// does not.
type Channel struct {
	ID          int64
	Name        string
	Description string
	FolderID    int64
	FolderName  string
}

// Message is a single message as delivered by the platform.
type Message struct {
	ID             int64
	SenderID       int64
	SenderEmail    string
	SenderFullName string

	// Type is "stream" for channel messages, "private" for DMs.
	Type string

	Channel   string
	ChannelID int64
	Topic     string

	Content   string
	Timestamp time.Time
}

// IsStream reports whether the message was posted to a shared channel.
func (m *Message) IsStream() bool { return m.Type == "stream" }

// ReactionEvent describes an emoji reaction being added to or removed
// from a message.
type ReactionEvent struct {
	// Op is "add" or "remove".
	Op        string
	UserID    int64
	EmojiName string
	MessageID int64
}

// Added reports whether the reaction was added (as opposed to removed).
func (r *ReactionEvent) Added() bool { return r.Op == "add" }

// Event is one entry from the event queue.
type Event struct {
	ID   int64
	Type string

	// Message is set for message-type events.
	Message *Message

	// Flags carries per-recipient message flags ("mentioned", "read", ...).
	Flags []string

	// Reaction is set for reaction-type events.
	Reaction *ReactionEvent
}

// HasFlag reports whether the event carries the given flag.
func (e *Event) HasFlag(flag string) bool {
	for _, f := range e.Flags {
		if f == flag {
			return true
		}
	}
	return false
}

// Queue identifies a registered event queue and its poll cursor.
type Queue struct {
	ID          string
	LastEventID int64
}

// Client is the full surface Concierge consumes from the platform.
type Client interface {
	// Me returns the bot's own identity.
	Me(ctx context.Context) (User, error)

	// RegisterQueue registers an event queue for the given event types
	// and returns its id plus the initial cursor.
	RegisterQueue(ctx context.Context, eventTypes []string) (Queue, error)

	// Events long-polls the queue for events after lastEventID.
	// Returns ErrQueueInvalid (via errors.Is) when the queue expired.
	Events(ctx context.Context, queueID string, lastEventID int64) ([]Event, error)

	// SendMessage posts a message to (channel, topic) and returns its id.
	SendMessage(ctx context.Context, channel, topic, content string) (int64, error)

	// UpdateMessage replaces the content of an existing message.
	// Returns ErrMessageGone (via errors.Is) when the message no longer exists.
	UpdateMessage(ctx context.Context, messageID int64, content string) error

	// DeleteMessage removes a message.
	DeleteMessage(ctx context.Context, messageID int64) error

	// AddReaction adds a named emoji reaction to a message.
	AddReaction(ctx context.Context, messageID int64, emoji string) error

	// RemoveReaction removes a named emoji reaction from a message.
	RemoveReaction(ctx context.Context, messageID int64, emoji string) error

	// GetMessage fetches a single message by id.
	GetMessage(ctx context.Context, messageID int64) (Message, error)

	// RecentMessages returns the most recent messages in (channel, topic),
	// oldest first, at most limit entries.
	RecentMessages(ctx context.Context, channel, topic string, limit int) ([]Message, error)

	// ListChannels returns all channels visible to the bot.
	ListChannels(ctx context.Context) ([]Channel, error)

	// ChannelSubscribers returns the subscriber emails of a channel.
	ChannelSubscribers(ctx context.Context, channel string) ([]string, error)

	// CreateChannel creates a channel (optionally inside a folder) and
	// subscribes the given principals.
	CreateChannel(ctx context.Context, name, description string, folderID int64, subscribers []string) error

	// GetUser fetches a user by id.
	GetUser(ctx context.Context, userID int64) (User, error)

	// ListUsers returns all users visible to the bot.
	ListUsers(ctx context.Context) ([]User, error)
}

// Sentinel conditions. Both are reported through *APIError and matched
// with errors.Is so callers never inspect wire codes.
var (
	// ErrQueueInvalid means the event queue id is no longer valid and a
	// fresh queue must be registered. Expected during normal operation
	// (server restarts, queue GC), not an error to report.
	ErrQueueInvalid = errors.New("gateway: event queue invalid")

	// ErrMessageGone means the target message no longer exists (deleted
	// out of band).
	ErrMessageGone = errors.New("gateway: message no longer exists")
)

// APIError is a structured failure response from the platform.
type APIError struct {
	HTTPStatus int
	Code       string
	Msg        string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("gateway: %s (%s, http %d)", e.Msg, e.Code, e.HTTPStatus)
	}
	return fmt.Sprintf("gateway: %s (http %d)", e.Msg, e.HTTPStatus)
}

// Is maps well-known platform error codes onto the package sentinels.
func (e *APIError) Is(target error) bool {
	switch target {
	case ErrQueueInvalid:
		return e.Code == "BAD_EVENT_QUEUE_ID"
	case ErrMessageGone:
		return e.Code == "MESSAGE_NOT_FOUND" || e.HTTPStatus == 404
	}
	return false
}
