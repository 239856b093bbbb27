package dispatch

// DefaultHandlers returns the dispatch table. Every event the gateway client
// understands is listed here exactly once.
func DefaultHandlers() []Handler {
	return []Handler{
		{"READY", handleReady},
		{"RESUMED", handleResumed},

		{"GUILD_CREATE", handleGuildCreate},
		{"GUILD_UPDATE", handleGuildUpdate},
		{"GUILD_DELETE", handleGuildDelete},
		{"GUILD_BAN_ADD", handleGuildBanAdd},
		{"GUILD_BAN_REMOVE", handleGuildBanRemove},
		{"GUILD_EMOJIS_UPDATE", handleGuildEmojisUpdate},
		{"GUILD_INTEGRATIONS_UPDATE", handleGuildIntegrationsUpdate},
		{"GUILD_MEMBER_ADD", handleGuildMemberAdd},
		{"GUILD_MEMBER_UPDATE", handleGuildMemberUpdate},
		{"GUILD_MEMBER_REMOVE", handleGuildMemberRemove},
		{"GUILD_MEMBERS_CHUNK", handleGuildMembersChunk},
		{"GUILD_ROLE_CREATE", handleGuildRoleCreate},
		{"GUILD_ROLE_UPDATE", handleGuildRoleUpdate},
		{"GUILD_ROLE_DELETE", handleGuildRoleDelete},

		{"CHANNEL_CREATE", handleChannelCreate},
		{"CHANNEL_UPDATE", handleChannelUpdate},
		{"CHANNEL_DELETE", handleChannelDelete},
		{"CHANNEL_PINS_UPDATE", handleChannelPinsUpdate},

		{"MESSAGE_CREATE", handleMessageCreate},
		{"MESSAGE_UPDATE", handleMessageUpdate},
		{"MESSAGE_DELETE", handleMessageDelete},
		{"MESSAGE_DELETE_BULK", handleMessageDeleteBulk},
		{"MESSAGE_REACTION_ADD", handleReactionAdd},
		{"MESSAGE_REACTION_REMOVE", handleReactionRemove},
		{"MESSAGE_REACTION_REMOVE_ALL", handleReactionRemoveAll},

		{"PRESENCE_UPDATE", handlePresenceUpdate},
		{"TYPING_START", handleTypingStart},
		{"USER_UPDATE", handleUserUpdate},
		{"VOICE_STATE_UPDATE", handleVoiceStateUpdate},
		{"VOICE_SERVER_UPDATE", handleVoiceServerUpdate},
	}
}
