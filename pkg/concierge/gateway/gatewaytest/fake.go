// Package gatewaytest provides an in-memory gateway.Client for tests.
// It records every outbound call and lets tests script poll results and
// per-message failures.
package gatewaytest

import (
	"context"
	"fmt"
	"sync"

	"github.com/conciergebot/concierge/pkg/concierge/gateway"
)

// SentMessage records one SendMessage call.
type SentMessage struct {
	ID      int64
	Channel string
	Topic   string
	Content string
}

// UpdatedMessage records one UpdateMessage call.
type UpdatedMessage struct {
	ID      int64
	Content string
}

// ReactionCall records one AddReaction/RemoveReaction call.
type ReactionCall struct {
	MessageID int64
	Emoji     string
	Remove    bool
}

// CreatedChannel records one CreateChannel call.
type CreatedChannel struct {
	Name        string
	Description string
	FolderID    int64
	Subscribers []string
}

// Fake is a scripted gateway.Client.
type Fake struct {
	mu sync.Mutex

	Self         gateway.User
	Users        []gateway.User
	Channels     []gateway.Channel
	Members      map[string][]string // channel name -> subscriber emails
	MessagesByID map[int64]gateway.Message
	Recent       []gateway.Message

	// EventsFn scripts poll results. Nil means "no events, no error".
	EventsFn func(queueID string, lastEventID int64) ([]gateway.Event, error)

	// UpdateErr maps message ids to errors returned by UpdateMessage.
	UpdateErr map[int64]error

	// SendErr, if set, fails every SendMessage call.
	SendErr error

	// RegisterErrs scripts RegisterQueue outcomes, one entry consumed
	// per call; nil entries succeed. Exhausted means success.
	RegisterErrs []error

	nextID int64

	Sent          []SentMessage
	Updated       []UpdatedMessage
	Deleted       []int64
	Reactions     []ReactionCall
	Created       []CreatedChannel
	RegisterCalls int
	EventsCalls   []int64 // cursors passed to Events
}

// New returns an empty fake with a default bot identity.
func New() *Fake {
	return &Fake{
		Self:         gateway.User{ID: 1, Email: "bot@example.com", FullName: "Concierge", IsBot: true},
		Members:      make(map[string][]string),
		MessagesByID: make(map[int64]gateway.Message),
		UpdateErr:    make(map[int64]error),
		nextID:       100,
	}
}

// AddMessage seeds a message retrievable via GetMessage.
func (f *Fake) AddMessage(m gateway.Message) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.MessagesByID[m.ID] = m
}

// LastSent returns the most recent SendMessage call.
func (f *Fake) LastSent() SentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.Sent) == 0 {
		return SentMessage{}
	}
	return f.Sent[len(f.Sent)-1]
}

// SentCount returns how many messages were sent.
func (f *Fake) SentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Sent)
}

// UpdateCount returns how many message edits happened.
func (f *Fake) UpdateCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Updated)
}

func (f *Fake) Me(ctx context.Context) (gateway.User, error) {
	return f.Self, nil
}

func (f *Fake) RegisterQueue(ctx context.Context, eventTypes []string) (gateway.Queue, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.RegisterCalls++
	if len(f.RegisterErrs) > 0 {
		err := f.RegisterErrs[0]
		f.RegisterErrs = f.RegisterErrs[1:]
		if err != nil {
			return gateway.Queue{}, err
		}
	}
	return gateway.Queue{ID: fmt.Sprintf("q%d", f.RegisterCalls), LastEventID: -1}, nil
}

func (f *Fake) Events(ctx context.Context, queueID string, lastEventID int64) ([]gateway.Event, error) {
	f.mu.Lock()
	f.EventsCalls = append(f.EventsCalls, lastEventID)
	fn := f.EventsFn
	f.mu.Unlock()
	if fn == nil {
		return nil, nil
	}
	return fn(queueID, lastEventID)
}

func (f *Fake) SendMessage(ctx context.Context, channel, topic, content string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.SendErr != nil {
		return 0, f.SendErr
	}
	f.nextID++
	id := f.nextID
	f.Sent = append(f.Sent, SentMessage{ID: id, Channel: channel, Topic: topic, Content: content})
	f.MessagesByID[id] = gateway.Message{
		ID: id, Type: "stream", Channel: channel, Topic: topic, Content: content,
		SenderID: f.Self.ID, SenderEmail: f.Self.Email, SenderFullName: f.Self.FullName,
	}
	return id, nil
}

func (f *Fake) UpdateMessage(ctx context.Context, messageID int64, content string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.UpdateErr[messageID]; err != nil {
		return err
	}
	f.Updated = append(f.Updated, UpdatedMessage{ID: messageID, Content: content})
	if m, ok := f.MessagesByID[messageID]; ok {
		m.Content = content
		f.MessagesByID[messageID] = m
	}
	return nil
}

func (f *Fake) DeleteMessage(ctx context.Context, messageID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Deleted = append(f.Deleted, messageID)
	delete(f.MessagesByID, messageID)
	return nil
}

func (f *Fake) AddReaction(ctx context.Context, messageID int64, emoji string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Reactions = append(f.Reactions, ReactionCall{MessageID: messageID, Emoji: emoji})
	return nil
}

func (f *Fake) RemoveReaction(ctx context.Context, messageID int64, emoji string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Reactions = append(f.Reactions, ReactionCall{MessageID: messageID, Emoji: emoji, Remove: true})
	return nil
}

func (f *Fake) GetMessage(ctx context.Context, messageID int64) (gateway.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.MessagesByID[messageID]
	if !ok {
		return gateway.Message{}, &gateway.APIError{HTTPStatus: 404, Code: "MESSAGE_NOT_FOUND", Msg: "no such message"}
	}
	return m, nil
}

func (f *Fake) RecentMessages(ctx context.Context, channel, topic string, limit int) ([]gateway.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	msgs := f.Recent
	if len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	return append([]gateway.Message(nil), msgs...), nil
}

func (f *Fake) ListChannels(ctx context.Context) ([]gateway.Channel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]gateway.Channel(nil), f.Channels...), nil
}

func (f *Fake) ChannelSubscribers(ctx context.Context, channel string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.Members[channel]...), nil
}

func (f *Fake) CreateChannel(ctx context.Context, name, description string, folderID int64, subscribers []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Created = append(f.Created, CreatedChannel{
		Name: name, Description: description, FolderID: folderID, Subscribers: subscribers,
	})
	f.Channels = append(f.Channels, gateway.Channel{
		ID: int64(1000 + len(f.Channels)), Name: name, Description: description, FolderID: folderID,
	})
	f.Members[name] = subscribers
	return nil
}

func (f *Fake) GetUser(ctx context.Context, userID int64) (gateway.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if userID == f.Self.ID {
		return f.Self, nil
	}
	for _, u := range f.Users {
		if u.ID == userID {
			return u, nil
		}
	}
	return gateway.User{}, &gateway.APIError{HTTPStatus: 404, Code: "USER_NOT_FOUND", Msg: "no such user"}
}

func (f *Fake) ListUsers(ctx context.Context) ([]gateway.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]gateway.User(nil), f.Users...), nil
}

var _ gateway.Client = (*Fake)(nil)
