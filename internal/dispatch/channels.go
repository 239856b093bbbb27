package dispatch

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/parsascontentcorner/discordlitegateway/internal/models"
	"github.com/parsascontentcorner/discordlitegateway/internal/snowflake"
)

func handleChannelCreate(_ context.Context, r *Router, data json.RawMessage) error {
	ch, err := upsertChannel(r, "CHANNEL_CREATE", data)
	if err != nil {
		return err
	}
	r.publish(ChannelCreated{Channel: ch})
	return nil
}

func handleChannelUpdate(_ context.Context, r *Router, data json.RawMessage) error {
	ch, err := upsertChannel(r, "CHANNEL_UPDATE", data)
	if err != nil {
		return err
	}
	r.publish(ChannelUpdated{Channel: ch})
	return nil
}

func upsertChannel(r *Router, event string, data json.RawMessage) (models.Channel, error) {
	var p models.ChannelPayload
	if err := decode(event, data, &p); err != nil {
		return nil, err
	}

	for _, u := range p.Recipients {
		r.cache.UpsertUser(u)
	}
	ch, created, err := r.cache.UpsertChannel(p.Build(0))
	if err != nil {
		return nil, err
	}

	r.logger.Debug("channel upserted",
		zap.String("event", event),
		zap.String("channel_id", p.ID.String()),
		zap.Bool("created", created),
	)
	return ch, nil
}

// handleChannelDelete falls back to the payload when the channel was never
// cached, so subscribers still see what was deleted.
func handleChannelDelete(_ context.Context, r *Router, data json.RawMessage) error {
	var p models.ChannelPayload
	if err := decode("CHANNEL_DELETE", data, &p); err != nil {
		return err
	}

	ch, ok := r.cache.RemoveChannel(p.ID)
	if !ok {
		ch = p.Build(0)
	}
	if p.Type.IsGuild() {
		if _, err := r.guild(p.GuildID); err != nil {
			return err
		}
	}
	r.publish(ChannelRemoved{Channel: ch})
	return nil
}

type pinsPayload struct {
	GuildID          snowflake.Snowflake `json:"guild_id"`
	ChannelID        snowflake.Snowflake `json:"channel_id"`
	LastPinTimestamp *time.Time          `json:"last_pin_timestamp"`
}

func handleChannelPinsUpdate(_ context.Context, r *Router, data json.RawMessage) error {
	var p pinsPayload
	if err := decode("CHANNEL_PINS_UPDATE", data, &p); err != nil {
		return err
	}

	var at time.Time
	if p.LastPinTimestamp != nil {
		at = *p.LastPinTimestamp
	}
	ch, err := r.cache.SetChannelLastPin(p.ChannelID, at)
	if err != nil {
		return err
	}
	r.publish(ChannelPinsUpdated{Channel: ch, LastPinTimestamp: at})
	return nil
}
