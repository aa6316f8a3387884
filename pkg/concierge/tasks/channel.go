package tasks

import (
	"context"
	"fmt"
	"strings"
)

// isTasksChannel reports whether a channel name is a designated tasks
// channel under the configured prefix.
func (s *Service) isTasksChannel(name string) bool {
	prefix := s.env.Config.Tasks.ChannelPrefix
	return name == prefix || strings.HasPrefix(name, prefix+"-")
}

// destination resolves the channel a card for the given source channel
// belongs in, creating it when needed.
//
// Policy, in order:
//  1. A message already in a tasks channel keeps its card there.
//  2. With folder colocation on and the source channel in a folder, the
//     card goes to the folder's shared tasks channel (created inside the
//     folder on first use).
//  3. Otherwise the card goes to "<prefix>-<source channel>", created on
//     first use with the source channel's subscribers copied over.
func (s *Service) destination(ctx context.Context, sourceChannel string) (string, error) {
	if s.isTasksChannel(sourceChannel) {
		return sourceChannel, nil
	}

	channels, err := s.env.Client.ListChannels(ctx)
	if err != nil {
		return "", fmt.Errorf("list channels: %w", err)
	}
	byName := make(map[string]int, len(channels))
	for i, ch := range channels {
		byName[ch.Name] = i
	}

	cfg := s.env.Config.Tasks
	src, haveSrc := byName[sourceChannel]

	if cfg.FolderColocate && haveSrc && channels[src].FolderID != 0 {
		folderID := channels[src].FolderID
		for _, ch := range channels {
			if ch.FolderID == folderID && s.isTasksChannel(ch.Name) {
				return ch.Name, nil
			}
		}
		name := cfg.ChannelPrefix + "-" + slug(channels[src].FolderName)
		if _, ok := byName[name]; ok {
			return name, nil
		}
		desc := fmt.Sprintf("Tasks for the %s folder", channels[src].FolderName)
		subs, err := s.env.Client.ChannelSubscribers(ctx, sourceChannel)
		if err != nil {
			return "", fmt.Errorf("subscribers of %q: %w", sourceChannel, err)
		}
		if err := s.env.Client.CreateChannel(ctx, name, desc, folderID, subs); err != nil {
			return "", fmt.Errorf("create channel %q: %w", name, err)
		}
		s.logger.Info("created tasks channel", "channel", name, "folder", channels[src].FolderName)
		return name, nil
	}

	name := cfg.ChannelPrefix + "-" + sourceChannel
	if _, ok := byName[name]; ok {
		return name, nil
	}
	desc := fmt.Sprintf("Tasks promoted from #%s", sourceChannel)
	subs, err := s.env.Client.ChannelSubscribers(ctx, sourceChannel)
	if err != nil {
		return "", fmt.Errorf("subscribers of %q: %w", sourceChannel, err)
	}
	if err := s.env.Client.CreateChannel(ctx, name, desc, 0, subs); err != nil {
		return "", fmt.Errorf("create channel %q: %w", name, err)
	}
	s.logger.Info("created tasks channel", "channel", name, "source", sourceChannel)
	return name, nil
}

// slug lowercases a name and collapses everything outside [a-z0-9] into
// single dashes, for use in derived channel names.
func slug(name string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			dash = false
		default:
			if !dash && b.Len() > 0 {
				b.WriteByte('-')
				dash = true
			}
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}
