package snipe

import (
	"context"
	"fmt"
	"strings"

	"ex-snipe/pkg/otogi"
)

const (
	replyDisabled      = "Sniping is disabled."
	replyEmpty         = "No messages to snipe."
	replyRateLimited   = "Sniping too fast, try again in a moment."
	replyNotAllowed    = "You are not allowed to perform this action!"
	replyUnsnipeUsage  = "Reply to a snipe response with /unsnipe to delete it."
	replyConfigDenied  = "Only snipe admins can use this command."
	configAppliedEmoji = "👌"
)

func (m *Module) handleCommand(ctx context.Context, event *otogi.Event) error {
	if event == nil || event.Command == nil || event.Article == nil {
		return nil
	}
	if event.Kind != otogi.EventKindCommandReceived {
		return nil
	}

	switch event.Command.Name {
	case snipeCommandName:
		return m.snipe(ctx, event)
	case unsnipeCommandName:
		return m.unsnipe(ctx, event)
	default:
		return nil
	}
}

// snipe resolves and presents the latest eligible change of the invoking
// conversation.
func (m *Module) snipe(ctx context.Context, event *otogi.Event) error {
	target, err := otogi.OutboundTargetFromEvent(event)
	if err != nil {
		return fmt.Errorf("snipe derive outbound target: %w", err)
	}

	channel := ChannelFromEvent(event)
	now := m.now()
	settings := m.currentSettings()
	if settings.SnipingEnabled() && !m.limiter.allow(channel, now, settings.RateLimit) {
		m.metrics.limited()
		return m.reply(ctx, channel, target, event.Article.ID, replyRateLimited)
	}

	resolution := Resolve(m.store, settings, channel, now)
	m.metrics.snipeResolved(resolution.Outcome)
	switch resolution.Outcome {
	case OutcomeDisabled:
		return m.reply(ctx, channel, target, event.Article.ID, replyDisabled)
	case OutcomeEmpty:
		return m.reply(ctx, channel, target, event.Article.ID, replyEmpty)
	case OutcomeSniped:
	default:
		return fmt.Errorf("snipe: unexpected outcome %q", resolution.Outcome)
	}

	snipe := resolution.Snipe
	response, err := m.present(ctx, settings.ResponseType, presentation{
		target:           target,
		commandArticleID: event.Article.ID,
		snipe:            snipe,
		confirmTimeout:   settings.ConfirmTimeout,
		now:              now,
	})
	if err != nil {
		return fmt.Errorf("snipe present %s: %w", snipe.MessageID, err)
	}
	if response == nil {
		return nil
	}

	m.confirmations.rememberResponse(channel, response.ID, now.Add(responseRetention))
	id, err := m.confirmations.register(
		channel,
		*response,
		event.Actor.ID,
		snipe.Latest.Content.Author.ID,
		now,
		settings.ConfirmTimeout,
	)
	if err != nil {
		return fmt.Errorf("snipe arm delete confirmation: %w", err)
	}

	m.logger.InfoContext(ctx,
		"snipe presented",
		"module", m.Name(),
		"conversation_id", channel.ConversationID,
		"article_id", snipe.MessageID,
		"kind", snipe.Latest.Kind,
		"response_id", response.ID,
		"confirmation_id", id.String(),
	)

	return nil
}

// present renders with the configured strategy. A failed webhook send falls
// back to the embed; the snipe stays consumed either way.
func (m *Module) present(
	ctx context.Context,
	responseType ResponseType,
	p presentation,
) (*otogi.OutboundMessage, error) {
	switch responseType {
	case ResponseTypeEmbed:
		return presentEmbed(ctx, m.dispatcher, p)
	case ResponseTypeWebhook:
		message, err := presentWebhook(ctx, m.dispatcher, p)
		if err == nil {
			return message, nil
		}
		reason := otogi.OutboundErrorKindOf(err)
		m.metrics.presentationFellBack(reason)
		m.logger.WarnContext(ctx,
			"snipe webhook presentation failed, falling back to embed",
			"module", m.Name(),
			"conversation_id", p.target.Conversation.ID,
			"reason", reason,
			"error", err,
		)
		return presentEmbed(ctx, m.dispatcher, p)
	default:
		return nil, fmt.Errorf("%w: unsupported response type %q", ErrInvalidSetting, responseType)
	}
}

func (m *Module) unsnipe(ctx context.Context, event *otogi.Event) error {
	target, err := otogi.OutboundTargetFromEvent(event)
	if err != nil {
		return fmt.Errorf("unsnipe derive outbound target: %w", err)
	}
	channel := ChannelFromEvent(event)
	responseID := event.Article.ReplyToArticleID
	if responseID == "" {
		return m.reply(ctx, channel, target, event.Article.ID, replyUnsnipeUsage)
	}

	return m.acknowledge(ctx, target, channel, responseID, event.Actor.ID, event.Article.ID)
}

func (m *Module) handleReaction(ctx context.Context, event *otogi.Event) error {
	if event == nil || event.Reaction == nil {
		return nil
	}
	if event.Kind != otogi.EventKindArticleReactionAdded || event.Reaction.Emoji != deleteEmoji {
		return nil
	}

	target, err := otogi.OutboundTargetFromEvent(event)
	if err != nil {
		return fmt.Errorf("snipe reaction derive outbound target: %w", err)
	}
	responseID := event.Reaction.ArticleID

	return m.acknowledge(ctx, target, ChannelFromEvent(event), responseID, event.Actor.ID, responseID)
}

// acknowledge completes the delete confirmation of responseID when actorID
// is the sniper or the sniped author.
func (m *Module) acknowledge(
	ctx context.Context,
	target otogi.OutboundTarget,
	channel Channel,
	responseID string,
	actorID string,
	replyToID string,
) error {
	pending, outcome := m.confirmations.acknowledge(channel, responseID, actorID, m.now())
	switch outcome {
	case ackIgnored:
		return nil
	case ackDenied:
		return m.reply(ctx, channel, target, replyToID, replyNotAllowed)
	case ackAccepted:
	}

	err := m.dispatcher.DeleteMessage(ctx, otogi.DeleteMessageRequest{
		Target:    pending.response.Target,
		MessageID: pending.response.ID,
		Revoke:    true,
	})
	switch otogi.OutboundErrorKindOf(err) {
	case "":
		m.metrics.responseDeleted()
	case otogi.OutboundErrorKindNotFound:
		// Someone removed the response before the acknowledgment landed.
	default:
		return fmt.Errorf("snipe delete response %s: %w", pending.response.ID, err)
	}
	m.logger.InfoContext(ctx,
		"snipe response deleted",
		"module", m.Name(),
		"conversation_id", channel.ConversationID,
		"response_id", pending.response.ID,
		"confirmation_id", pending.id.String(),
		"actor_id", actorID,
		"already_gone", err != nil,
	)

	return nil
}

// handleConfigCommand serves ~snipe-config [key [value]] for admins.
func (m *Module) handleConfigCommand(ctx context.Context, event *otogi.Event) error {
	if event == nil || event.Command == nil || event.Article == nil {
		return nil
	}
	if event.Kind != otogi.EventKindSystemCommandReceived || event.Command.Name != configCommandName {
		return nil
	}

	target, err := otogi.OutboundTargetFromEvent(event)
	if err != nil {
		return fmt.Errorf("snipe config derive outbound target: %w", err)
	}
	channel := ChannelFromEvent(event)
	settings := m.currentSettings()
	if !settings.IsAdmin(event.Actor.ID) {
		m.metrics.settingsWritten("denied")
		return m.reply(ctx, channel, target, event.Article.ID, replyConfigDenied)
	}

	args := event.Command.Args
	switch len(args) {
	case 0:
		return m.reply(ctx, channel, target, event.Article.ID, renderSettings(settings))
	case 1:
		value, found := settings.Value(args[0])
		if !found {
			return m.reply(ctx, channel, target, event.Article.ID, fmt.Sprintf("unknown setting %q", args[0]))
		}
		return m.reply(ctx, channel, target, event.Article.ID, args[0]+" = "+value)
	}

	next, err := settings.With(args[0], strings.Join(args[1:], " "))
	if err == nil {
		err = m.ApplySettings(next)
	} else {
		m.metrics.settingsWritten("rejected")
	}
	if err != nil {
		return m.reply(ctx, channel, target, event.Article.ID, err.Error())
	}

	m.logger.InfoContext(ctx,
		"snipe settings changed",
		"module", m.Name(),
		"key", args[0],
		"actor_id", event.Actor.ID,
	)
	if err := m.dispatcher.SetReaction(ctx, otogi.SetReactionRequest{
		Target:    target,
		MessageID: event.Article.ID,
		Emoji:     configAppliedEmoji,
		Action:    otogi.ReactionActionAdd,
	}); err != nil {
		return fmt.Errorf("snipe config acknowledge: %w", err)
	}

	return nil
}

func renderSettings(settings Settings) string {
	lines := make([]string, 0, len(settings.Fields())+1)
	lines = append(lines, "Snipe settings:")
	for _, field := range settings.Fields() {
		lines = append(lines, field[0]+" = "+field[1])
	}

	return strings.Join(lines, "\n")
}

// reply sends text in channel and remembers the sent message as the
// module's own, so editing or deleting it is never tracked.
func (m *Module) reply(
	ctx context.Context,
	channel Channel,
	target otogi.OutboundTarget,
	replyToID string,
	text string,
) error {
	message, err := m.dispatcher.SendMessage(ctx, otogi.SendMessageRequest{
		Target:           target,
		Text:             text,
		ReplyToMessageID: replyToID,
	})
	if err != nil {
		return fmt.Errorf("snipe reply: %w", err)
	}
	if message != nil {
		m.confirmations.rememberResponse(channel, message.ID, m.now().Add(responseRetention))
	}

	return nil
}
