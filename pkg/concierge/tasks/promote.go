package tasks

import (
	"context"
	"errors"
	"fmt"

	"github.com/conciergebot/concierge/pkg/concierge/gateway"
	"github.com/conciergebot/concierge/pkg/concierge/store"
)

// promoteOpts carries the knobs of a single promotion.
type promoteOpts struct {
	// creator is the user the task is recorded as created by.
	creator gateway.User

	// assignees are display names to attach at creation time.
	assignees []string

	// ownTopic posts the card under a dedicated topic named after the
	// task instead of the shared card topic.
	ownTopic bool
}

// promote turns a source message into a tracked task: a row in the
// store, a card posted to the resolved tasks channel, a marker reaction
// on the source. Returns store.ErrTaskExists when the message is already
// tracked.
func (s *Service) promote(ctx context.Context, source gateway.Message, opts promoteOpts) (store.Task, error) {
	if _, err := s.env.Store.TaskBySource(ctx, source.ID); err == nil {
		return store.Task{}, store.ErrTaskExists
	} else if !errors.Is(err, store.ErrTaskNotFound) {
		return store.Task{}, err
	}

	// Resolve the destination before touching the store, so a channel
	// failure leaves nothing behind and the promotion can be retried.
	channel, err := s.destination(ctx, source.Channel)
	if err != nil {
		return store.Task{}, err
	}
	topic := s.env.Config.Tasks.CardTopic
	if opts.ownTopic {
		topic = topicForTask(source.Content)
	}

	t := store.Task{
		Content:         source.Content,
		CreatorName:     opts.creator.FullName,
		CreatorID:       opts.creator.ID,
		SourceChannel:   source.Channel,
		SourceTopic:     source.Topic,
		SourceMessageID: source.ID,
		OwnTopic:        opts.ownTopic,
	}
	if err := s.env.Store.CreateTask(ctx, &t); err != nil {
		return store.Task{}, err
	}
	if err := s.env.Store.AddAssignees(ctx, t.ID, opts.assignees); err != nil {
		return store.Task{}, fmt.Errorf("attach assignees: %w", err)
	}

	assignees, err := s.env.Store.Assignees(ctx, t.ID)
	if err != nil {
		return store.Task{}, err
	}
	cardID, err := s.env.Client.SendMessage(ctx, channel, topic, s.renderCard(&t, assignees))
	if err != nil {
		return store.Task{}, fmt.Errorf("post card: %w", err)
	}
	if err := s.env.Store.SetTaskCard(ctx, t.ID, channel, topic, cardID); err != nil {
		return store.Task{}, err
	}
	t.CardChannel, t.CardTopic, t.CardMessageID = channel, topic, cardID

	// The marker is informational; failing to place it does not undo
	// the promotion.
	if err := s.env.Client.AddReaction(ctx, source.ID, s.env.Config.Tasks.MarkerEmoji); err != nil {
		s.logger.Warn("marker reaction failed", "task", t.ID, "message_id", source.ID, "error", err)
	}

	s.logger.Info("task promoted",
		"task", t.ID, "source", source.ID, "card_channel", channel, "card_topic", topic,
		"creator", opts.creator.FullName, "assignees", len(opts.assignees))
	return t, nil
}
