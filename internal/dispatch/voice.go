package dispatch

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/parsascontentcorner/discordlitegateway/internal/models"
)

// handleVoiceStateUpdate updates the cache and, when the state belongs to
// the current user, feeds the voice handshake.
func handleVoiceStateUpdate(_ context.Context, r *Router, data json.RawMessage) error {
	var p models.VoiceStatePayload
	if err := decode("VOICE_STATE_UPDATE", data, &p); err != nil {
		return err
	}

	if p.GuildID.IsZero() {
		r.logger.Debug("ignoring voice state outside a guild",
			zap.String("user_id", p.UserID.String()),
		)
		return nil
	}

	prev, hadPrev, err := r.cache.UpdateVoiceState(p)
	if err != nil {
		return err
	}

	if r.voice != nil && p.UserID == r.cache.CurrentUserID() {
		r.voice.HandleVoiceStateUpdate(p.VoiceState)
	}

	r.publish(VoiceStateUpdated{State: p.VoiceState, Previous: prev, HadPrevious: hadPrev})
	return nil
}

func handleVoiceServerUpdate(_ context.Context, r *Router, data json.RawMessage) error {
	var p models.VoiceServer
	if err := decode("VOICE_SERVER_UPDATE", data, &p); err != nil {
		return err
	}

	r.logger.Debug("received VOICE_SERVER_UPDATE event",
		zap.String("guild_id", p.GuildID.String()),
		zap.String("endpoint", p.EndpointHost()),
	)

	if r.voice == nil {
		return nil
	}
	return r.voice.HandleVoiceServerUpdate(p)
}
