package dispatch

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/parsascontentcorner/discordlitegateway/internal/models"
	"github.com/parsascontentcorner/discordlitegateway/internal/snowflake"
)

// handleMessageCreate does not cache the message itself. The author and
// mentioned users are upserted so the notification carries fresh snapshots.
func handleMessageCreate(_ context.Context, r *Router, data json.RawMessage) error {
	var p models.MessagePayload
	if err := decode("MESSAGE_CREATE", data, &p); err != nil {
		return err
	}

	r.logger.Debug("received MESSAGE_CREATE event",
		zap.String("message_id", p.ID.String()),
		zap.String("channel_id", p.ChannelID.String()),
	)

	author := r.cache.UpsertUser(p.Author)
	mentions := make([]models.User, 0, len(p.Mentions))
	for _, u := range p.Mentions {
		mentions = append(mentions, r.cache.UpsertUser(u))
	}
	r.cache.SetChannelLastMessage(p.ChannelID, p.ID)

	msg := models.Message{
		ID:              p.ID,
		ChannelID:       p.ChannelID,
		GuildID:         p.GuildID,
		Author:          author,
		Content:         p.Content,
		Timestamp:       p.Timestamp,
		TTS:             p.TTS,
		MentionEveryone: p.MentionEveryone,
		Mentions:        mentions,
		MentionRoles:    p.MentionRoles,
		Attachments:     p.Attachments,
		Embeds:          p.Embeds,
		Pinned:          p.Pinned,
		Type:            p.Type,
		WebhookID:       p.WebhookID,
	}
	if p.EditedTimestamp != nil {
		msg.EditedTimestamp = *p.EditedTimestamp
	}
	if p.MessageReference != nil {
		msg.ReferencedID = p.MessageReference.MessageID
	}

	r.publish(MessageCreated{Message: msg})
	return nil
}

func handleMessageUpdate(_ context.Context, r *Router, data json.RawMessage) error {
	var p models.MessageUpdate
	if err := decode("MESSAGE_UPDATE", data, &p); err != nil {
		return err
	}

	r.logger.Debug("received MESSAGE_UPDATE event",
		zap.String("message_id", p.ID.String()),
		zap.String("channel_id", p.ChannelID.String()),
	)

	ev := MessageUpdated{Update: p}
	if p.Author != nil {
		author := r.cache.UpsertUser(*p.Author)
		ev.Author = &author
	}
	if mentions, ok := p.Mentions.Get(); ok {
		for _, u := range mentions {
			r.cache.UpsertUser(u)
		}
	}

	r.publish(ev)
	return nil
}

type messageDeletePayload struct {
	ID        snowflake.Snowflake   `json:"id"`
	IDs       []snowflake.Snowflake `json:"ids"`
	ChannelID snowflake.Snowflake   `json:"channel_id"`
	GuildID   snowflake.Snowflake   `json:"guild_id"`
}

func handleMessageDelete(_ context.Context, r *Router, data json.RawMessage) error {
	var p messageDeletePayload
	if err := decode("MESSAGE_DELETE", data, &p); err != nil {
		return err
	}
	publishDeleted(r, p, []snowflake.Snowflake{p.ID})
	return nil
}

// handleMessageDeleteBulk raises one MessageDeleted per id, in payload order.
func handleMessageDeleteBulk(_ context.Context, r *Router, data json.RawMessage) error {
	var p messageDeletePayload
	if err := decode("MESSAGE_DELETE_BULK", data, &p); err != nil {
		return err
	}
	publishDeleted(r, p, p.IDs)
	return nil
}

func publishDeleted(r *Router, p messageDeletePayload, ids []snowflake.Snowflake) {
	ch, _ := r.cache.Channel(p.ChannelID)
	for _, id := range ids {
		r.publish(MessageDeleted{
			MessageID: id,
			ChannelID: p.ChannelID,
			GuildID:   p.GuildID,
			Channel:   ch,
		})
	}
}

type reactionPayload struct {
	UserID    snowflake.Snowflake   `json:"user_id"`
	ChannelID snowflake.Snowflake   `json:"channel_id"`
	MessageID snowflake.Snowflake   `json:"message_id"`
	GuildID   snowflake.Snowflake   `json:"guild_id"`
	Member    *models.MemberPayload `json:"member"`
	Emoji     models.ReactionEmoji  `json:"emoji"`
}

// reaction decodes a reaction event. User is the cached snapshot, or just
// the id when the reacting user is not cached.
func reaction(r *Router, event string, data json.RawMessage) (reactionPayload, models.User, error) {
	var p reactionPayload
	if err := decode(event, data, &p); err != nil {
		return p, models.User{}, err
	}
	if p.Member != nil {
		r.cache.UpsertUser(p.Member.User)
	}
	user, ok := r.cache.User(p.UserID)
	if !ok {
		user = models.User{ID: p.UserID}
	}
	return p, user, nil
}

func handleReactionAdd(_ context.Context, r *Router, data json.RawMessage) error {
	p, user, err := reaction(r, "MESSAGE_REACTION_ADD", data)
	if err != nil {
		return err
	}
	r.publish(MessageReactionAdded{
		UserID:    p.UserID,
		User:      user,
		MessageID: p.MessageID,
		ChannelID: p.ChannelID,
		GuildID:   p.GuildID,
		Emoji:     p.Emoji,
	})
	return nil
}

func handleReactionRemove(_ context.Context, r *Router, data json.RawMessage) error {
	p, user, err := reaction(r, "MESSAGE_REACTION_REMOVE", data)
	if err != nil {
		return err
	}
	r.publish(MessageReactionRemoved{
		UserID:    p.UserID,
		User:      user,
		MessageID: p.MessageID,
		ChannelID: p.ChannelID,
		GuildID:   p.GuildID,
		Emoji:     p.Emoji,
	})
	return nil
}

func handleReactionRemoveAll(_ context.Context, r *Router, data json.RawMessage) error {
	var p reactionPayload
	if err := decode("MESSAGE_REACTION_REMOVE_ALL", data, &p); err != nil {
		return err
	}
	r.publish(MessageReactionsCleared{
		MessageID: p.MessageID,
		ChannelID: p.ChannelID,
		GuildID:   p.GuildID,
	})
	return nil
}
