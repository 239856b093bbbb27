package rest

import (
	"context"
	"net/url"

	"go.uber.org/zap"

	"github.com/parsascontentcorner/discordlitegateway/internal/models"
	"github.com/parsascontentcorner/discordlitegateway/internal/snowflake"
)

// GatewayBot is the GET /gateway/bot response.
type GatewayBot struct {
	URL               string            `json:"url"`
	Shards            int               `json:"shards"`
	SessionStartLimit SessionStartLimit `json:"session_start_limit"`
}

// SessionStartLimit reports how many identifies are left.
type SessionStartLimit struct {
	Total          int `json:"total"`
	Remaining      int `json:"remaining"`
	ResetAfter     int `json:"reset_after"`
	MaxConcurrency int `json:"max_concurrency"`
}

// PartialGuild is a guild as listed by GET /users/@me/guilds.
type PartialGuild struct {
	ID          snowflake.Snowflake `json:"id"`
	Name        string              `json:"name"`
	Icon        string              `json:"icon"`
	Owner       bool                `json:"owner"`
	Permissions models.Permissions  `json:"permissions"`
	Features    []string            `json:"features"`
}

// GuildsQuery pages through the current user's guilds.
type GuildsQuery struct {
	Limit  int
	Before snowflake.Snowflake
	After  snowflake.Snowflake
}

func (q GuildsQuery) values() url.Values {
	v := url.Values{}
	if q.Limit > 0 {
		limit := q.Limit
		if limit > 200 {
			limit = 200
		}
		v.Set("limit", itoa(limit))
	}
	if !q.Before.IsZero() {
		v.Set("before", q.Before.String())
	}
	if !q.After.IsZero() {
		v.Set("after", q.After.String())
	}
	return v
}

// GetGatewayBot returns the recommended shard count and the gateway URL.
func (c *Client) GetGatewayBot(ctx context.Context) (*GatewayBot, error) {
	var out GatewayBot
	if err := c.get(ctx, "/gateway/bot", "/gateway/bot", nil, &out); err != nil {
		return nil, err
	}
	c.logger.Debug("fetched gateway bot info",
		zap.String("url", out.URL),
		zap.Int("shards", out.Shards),
		zap.Int("max_concurrency", out.SessionStartLimit.MaxConcurrency),
		zap.Int("remaining", out.SessionStartLimit.Remaining),
	)
	return &out, nil
}

// GetCurrentUser fetches the authenticated user.
func (c *Client) GetCurrentUser(ctx context.Context) (models.UserPayload, error) {
	var out models.UserPayload
	err := c.get(ctx, "/users/@me", "/users/@me", nil, &out)
	return out, err
}

// GetUser fetches a user by id.
func (c *Client) GetUser(ctx context.Context, id snowflake.Snowflake) (models.UserPayload, error) {
	var out models.UserPayload
	err := c.get(ctx, "/users/:id", "/users/"+id.String(), nil, &out)
	return out, err
}

// GetCurrentUserGuilds lists the guilds the current user is in.
func (c *Client) GetCurrentUserGuilds(ctx context.Context, q GuildsQuery) ([]PartialGuild, error) {
	var out []PartialGuild
	if err := c.get(ctx, "/users/@me/guilds", "/users/@me/guilds", q.values(), &out); err != nil {
		return nil, err
	}
	c.logger.Debug("fetched current user guilds", zap.Int("guild_count", len(out)))
	return out, nil
}

// GetGuildMember fetches one member of a guild.
func (c *Client) GetGuildMember(ctx context.Context, guildID, userID snowflake.Snowflake) (models.MemberPayload, error) {
	var out models.MemberPayload
	// The major parameter (guild) scopes the bucket.
	route := "/guilds/" + guildID.String() + "/members/:id"
	if err := c.get(ctx, route, "/guilds/"+guildID.String()+"/members/"+userID.String(), nil, &out); err != nil {
		return models.MemberPayload{}, err
	}
	out.GuildID = guildID
	return out, nil
}

// GetCurrentUserDMs lists the current user's DM channels.
func (c *Client) GetCurrentUserDMs(ctx context.Context) ([]models.ChannelPayload, error) {
	var out []models.ChannelPayload
	if err := c.get(ctx, "/users/@me/channels", "/users/@me/channels", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}
