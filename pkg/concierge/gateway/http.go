package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// HTTPClient implements Client against the platform's REST API.
// Authentication is HTTP basic auth with the bot's email and API key.
// Writes are form-encoded, responses are a JSON envelope with a
// "result" field ("success" or "error") plus an error code on failure.
type HTTPClient struct {
	baseURL string
	email   string
	apiKey  string
	http    *http.Client
}

// NewHTTPClient creates a client for the given API root
// (e.g. "https://chat.example.com").
func NewHTTPClient(baseURL, email, apiKey string) *HTTPClient {
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		email:   email,
		apiKey:  apiKey,
		http: &http.Client{
			// No global timeout: Events long-polls and can legitimately
			// hold the connection open for minutes. Per-call deadlines
			// come from the caller's context.
			Transport: &http.Transport{
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 5,
				IdleConnTimeout:     120 * time.Second,
				TLSHandshakeTimeout: 10 * time.Second,
			},
		},
	}
}

// envelope is the common response wrapper.
type envelope struct {
	Result string `json:"result"`
	Code   string `json:"code"`
	Msg    string `json:"msg"`
}

func (c *HTTPClient) do(ctx context.Context, method, path string, form url.Values, out any) error {
	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.SetBasicAuth(c.email, c.apiKey)
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return &APIError{HTTPStatus: resp.StatusCode, Msg: fmt.Sprintf("malformed response: %.120s", raw)}
	}
	if env.Result != "success" {
		return &APIError{HTTPStatus: resp.StatusCode, Code: env.Code, Msg: env.Msg}
	}

	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

// get is a convenience wrapper putting params in the query string.
func (c *HTTPClient) get(ctx context.Context, path string, params url.Values, out any) error {
	if len(params) > 0 {
		path += "?" + params.Encode()
	}
	return c.do(ctx, http.MethodGet, path, nil, out)
}

// ---------- wire shapes ----------

type wireUser struct {
	UserID   int64  `json:"user_id"`
	Email    string `json:"email"`
	FullName string `json:"full_name"`
	IsBot    bool   `json:"is_bot"`
}

func (u wireUser) toUser() User {
	return User{ID: u.UserID, Email: u.Email, FullName: u.FullName, IsBot: u.IsBot}
}

type wireChannel struct {
	ChannelID   int64  `json:"stream_id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	FolderID    int64  `json:"folder_id"`
	FolderName  string `json:"folder_name"`
}

func (ch wireChannel) toChannel() Channel {
	return Channel{
		ID:          ch.ChannelID,
		Name:        ch.Name,
		Description: ch.Description,
		FolderID:    ch.FolderID,
		FolderName:  ch.FolderName,
	}
}

type wireMessage struct {
	ID             int64  `json:"id"`
	SenderID       int64  `json:"sender_id"`
	SenderEmail    string `json:"sender_email"`
	SenderFullName string `json:"sender_full_name"`
	Type           string `json:"type"`
	DisplayRecip   string `json:"display_recipient"`
	ChannelID      int64  `json:"stream_id"`
	Subject        string `json:"subject"`
	Content        string `json:"content"`
	Timestamp      int64  `json:"timestamp"`
}

func (m wireMessage) toMessage() Message {
	return Message{
		ID:             m.ID,
		SenderID:       m.SenderID,
		SenderEmail:    m.SenderEmail,
		SenderFullName: m.SenderFullName,
		Type:           m.Type,
		Channel:        m.DisplayRecip,
		ChannelID:      m.ChannelID,
		Topic:          m.Subject,
		Content:        m.Content,
		Timestamp:      time.Unix(m.Timestamp, 0),
	}
}

type wireEvent struct {
	ID      int64        `json:"id"`
	Type    string       `json:"type"`
	Message *wireMessage `json:"message"`
	Flags   []string     `json:"flags"`

	// Reaction events inline their fields.
	Op        string `json:"op"`
	UserID    int64  `json:"user_id"`
	EmojiName string `json:"emoji_name"`
	MessageID int64  `json:"message_id"`
}

func (e wireEvent) toEvent() Event {
	ev := Event{ID: e.ID, Type: e.Type, Flags: e.Flags}
	if e.Message != nil {
		m := e.Message.toMessage()
		ev.Message = &m
	}
	if e.Type == EventReaction {
		ev.Reaction = &ReactionEvent{
			Op:        e.Op,
			UserID:    e.UserID,
			EmojiName: e.EmojiName,
			MessageID: e.MessageID,
		}
	}
	return ev
}

// ---------- Client implementation ----------

func (c *HTTPClient) Me(ctx context.Context) (User, error) {
	var resp struct {
		envelope
		wireUser
	}
	if err := c.get(ctx, "/api/v1/users/me", nil, &resp); err != nil {
		return User{}, err
	}
	return resp.wireUser.toUser(), nil
}

func (c *HTTPClient) RegisterQueue(ctx context.Context, eventTypes []string) (Queue, error) {
	types, err := json.Marshal(eventTypes)
	if err != nil {
		return Queue{}, fmt.Errorf("encode event types: %w", err)
	}
	form := url.Values{"event_types": {string(types)}}

	var resp struct {
		envelope
		QueueID     string `json:"queue_id"`
		LastEventID int64  `json:"last_event_id"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/v1/register", form, &resp); err != nil {
		return Queue{}, err
	}
	return Queue{ID: resp.QueueID, LastEventID: resp.LastEventID}, nil
}

func (c *HTTPClient) Events(ctx context.Context, queueID string, lastEventID int64) ([]Event, error) {
	params := url.Values{
		"queue_id":      {queueID},
		"last_event_id": {strconv.FormatInt(lastEventID, 10)},
	}
	var resp struct {
		envelope
		Events []wireEvent `json:"events"`
	}
	if err := c.get(ctx, "/api/v1/events", params, &resp); err != nil {
		return nil, err
	}
	events := make([]Event, 0, len(resp.Events))
	for _, we := range resp.Events {
		events = append(events, we.toEvent())
	}
	return events, nil
}

func (c *HTTPClient) SendMessage(ctx context.Context, channel, topic, content string) (int64, error) {
	form := url.Values{
		"type":    {"stream"},
		"to":      {channel},
		"topic":   {topic},
		"content": {content},
	}
	var resp struct {
		envelope
		ID int64 `json:"id"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/v1/messages", form, &resp); err != nil {
		return 0, err
	}
	return resp.ID, nil
}

func (c *HTTPClient) UpdateMessage(ctx context.Context, messageID int64, content string) error {
	form := url.Values{"content": {content}}
	return c.do(ctx, http.MethodPatch, "/api/v1/messages/"+strconv.FormatInt(messageID, 10), form, nil)
}

func (c *HTTPClient) DeleteMessage(ctx context.Context, messageID int64) error {
	return c.do(ctx, http.MethodDelete, "/api/v1/messages/"+strconv.FormatInt(messageID, 10), nil, nil)
}

func (c *HTTPClient) AddReaction(ctx context.Context, messageID int64, emoji string) error {
	form := url.Values{"emoji_name": {emoji}}
	return c.do(ctx, http.MethodPost,
		fmt.Sprintf("/api/v1/messages/%d/reactions", messageID), form, nil)
}

func (c *HTTPClient) RemoveReaction(ctx context.Context, messageID int64, emoji string) error {
	form := url.Values{"emoji_name": {emoji}}
	return c.do(ctx, http.MethodDelete,
		fmt.Sprintf("/api/v1/messages/%d/reactions", messageID), form, nil)
}

func (c *HTTPClient) GetMessage(ctx context.Context, messageID int64) (Message, error) {
	var resp struct {
		envelope
		Message wireMessage `json:"message"`
	}
	if err := c.get(ctx, "/api/v1/messages/"+strconv.FormatInt(messageID, 10), nil, &resp); err != nil {
		return Message{}, err
	}
	return resp.Message.toMessage(), nil
}

func (c *HTTPClient) RecentMessages(ctx context.Context, channel, topic string, limit int) ([]Message, error) {
	narrow, err := json.Marshal([]map[string]string{
		{"operator": "channel", "operand": channel},
		{"operator": "topic", "operand": topic},
	})
	if err != nil {
		return nil, fmt.Errorf("encode narrow: %w", err)
	}
	params := url.Values{
		"anchor":     {"newest"},
		"num_before": {strconv.Itoa(limit)},
		"num_after":  {"0"},
		"narrow":     {string(narrow)},
	}
	var resp struct {
		envelope
		Messages []wireMessage `json:"messages"`
	}
	if err := c.get(ctx, "/api/v1/messages", params, &resp); err != nil {
		return nil, err
	}
	msgs := make([]Message, 0, len(resp.Messages))
	for _, wm := range resp.Messages {
		msgs = append(msgs, wm.toMessage())
	}
	return msgs, nil
}

func (c *HTTPClient) ListChannels(ctx context.Context) ([]Channel, error) {
	var resp struct {
		envelope
		Channels []wireChannel `json:"streams"`
	}
	if err := c.get(ctx, "/api/v1/streams", nil, &resp); err != nil {
		return nil, err
	}
	chans := make([]Channel, 0, len(resp.Channels))
	for _, wc := range resp.Channels {
		chans = append(chans, wc.toChannel())
	}
	return chans, nil
}

func (c *HTTPClient) ChannelSubscribers(ctx context.Context, channel string) ([]string, error) {
	var resp struct {
		envelope
		Subscribers []string `json:"subscribers"`
	}
	path := "/api/v1/streams/" + url.PathEscape(channel) + "/members"
	if err := c.get(ctx, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Subscribers, nil
}

func (c *HTTPClient) CreateChannel(ctx context.Context, name, description string, folderID int64, subscribers []string) error {
	subs, err := json.Marshal([]map[string]string{{"name": name, "description": description}})
	if err != nil {
		return fmt.Errorf("encode subscriptions: %w", err)
	}
	principals, err := json.Marshal(subscribers)
	if err != nil {
		return fmt.Errorf("encode principals: %w", err)
	}
	form := url.Values{
		"subscriptions": {string(subs)},
		"principals":    {string(principals)},
	}
	if folderID != 0 {
		form.Set("folder_id", strconv.FormatInt(folderID, 10))
	}
	return c.do(ctx, http.MethodPost, "/api/v1/users/me/subscriptions", form, nil)
}

func (c *HTTPClient) GetUser(ctx context.Context, userID int64) (User, error) {
	var resp struct {
		envelope
		User wireUser `json:"user"`
	}
	if err := c.get(ctx, "/api/v1/users/"+strconv.FormatInt(userID, 10), nil, &resp); err != nil {
		return User{}, err
	}
	return resp.User.toUser(), nil
}

func (c *HTTPClient) ListUsers(ctx context.Context) ([]User, error) {
	var resp struct {
		envelope
		Members []wireUser `json:"members"`
	}
	if err := c.get(ctx, "/api/v1/users", nil, &resp); err != nil {
		return nil, err
	}
	users := make([]User, 0, len(resp.Members))
	for _, wu := range resp.Members {
		users = append(users, wu.toUser())
	}
	return users, nil
}

var _ Client = (*HTTPClient)(nil)
