package models

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/parsascontentcorner/discordlitegateway/internal/snowflake"
)

// User is an immutable snapshot of a cached user.
type User struct {
	ID            snowflake.Snowflake `json:"id"`
	Username      string              `json:"username"`
	Discriminator string              `json:"discriminator"`
	GlobalName    string              `json:"global_name,omitempty"`
	Avatar        string              `json:"avatar,omitempty"`
	Bot           bool                `json:"bot,omitempty"`
	System        bool                `json:"system,omitempty"`
	MFAEnabled    bool                `json:"mfa_enabled,omitempty"`
	Verified      bool                `json:"verified,omitempty"`
	Email         string              `json:"email,omitempty"`
}

// Tag returns "name#0000", or just the username for accounts migrated to
// unique usernames.
func (u User) Tag() string {
	if u.Discriminator == "" || u.Discriminator == "0" {
		return u.Username
	}
	return fmt.Sprintf("%s#%s", u.Username, u.Discriminator)
}

// Mention returns the chat markup that mentions the user.
func (u User) Mention() string {
	return "<@" + u.ID.String() + ">"
}

// CreatedAt returns the account creation time.
func (u User) CreatedAt() time.Time {
	return u.ID.Time()
}

// UserPayload is a user object as received on the wire. Any field but the id
// may be missing.
type UserPayload struct {
	ID            snowflake.Snowflake `json:"id"`
	Username      Field[string]       `json:"username"`
	Discriminator Field[string]       `json:"discriminator"`
	GlobalName    Field[string]       `json:"global_name"`
	Avatar        Field[string]       `json:"avatar"`
	Bot           Field[bool]         `json:"bot"`
	System        Field[bool]         `json:"system"`
	MFAEnabled    Field[bool]         `json:"mfa_enabled"`
	Verified      Field[bool]         `json:"verified"`
	Email         Field[string]       `json:"email"`
}

// IsReference reports whether the payload carries nothing but an id.
func (p UserPayload) IsReference() bool {
	return !p.Username.Set && !p.Discriminator.Set && !p.GlobalName.Set &&
		!p.Avatar.Set && !p.Bot.Set && !p.System.Set &&
		!p.MFAEnabled.Set && !p.Verified.Set && !p.Email.Set
}

// ApplyTo merges the present fields into u.
func (p UserPayload) ApplyTo(u *User) {
	u.ID = p.ID
	p.Username.Apply(&u.Username)
	p.Discriminator.Apply(&u.Discriminator)
	p.GlobalName.Apply(&u.GlobalName)
	p.Avatar.Apply(&u.Avatar)
	p.Bot.Apply(&u.Bot)
	p.System.Apply(&u.System)
	p.MFAEnabled.Apply(&u.MFAEnabled)
	p.Verified.Apply(&u.Verified)
	p.Email.Apply(&u.Email)
}

// User builds a user from the payload alone.
func (p UserPayload) User() User {
	var u User
	p.ApplyTo(&u)
	return u
}

// PayloadFromUser converts a full user into a payload with every field set.
func PayloadFromUser(u User) UserPayload {
	return UserPayload{
		ID:            u.ID,
		Username:      Some(u.Username),
		Discriminator: Some(u.Discriminator),
		GlobalName:    Some(u.GlobalName),
		Avatar:        Some(u.Avatar),
		Bot:           Some(u.Bot),
		System:        Some(u.System),
		MFAEnabled:    Some(u.MFAEnabled),
		Verified:      Some(u.Verified),
		Email:         Some(u.Email),
	}
}

// UserRef points at a user either by embedding it or by id only. Which case
// applies depends on the event that carried it; readers resolve the
// reference-only case through the cache.
type UserRef struct {
	id      snowflake.Snowflake
	payload *UserPayload
}

// Inline wraps a full user value.
func Inline(u User) UserRef {
	p := PayloadFromUser(u)
	return UserRef{id: u.ID, payload: &p}
}

// ReferenceOnly refers to a user by id.
func ReferenceOnly(id snowflake.Snowflake) UserRef {
	return UserRef{id: id}
}

// RefFromPayload classifies a decoded user object.
func RefFromPayload(p UserPayload) UserRef {
	if p.IsReference() {
		return ReferenceOnly(p.ID)
	}
	return UserRef{id: p.ID, payload: &p}
}

// ID returns the referenced user id.
func (r UserRef) ID() snowflake.Snowflake {
	return r.id
}

// IsInline reports whether the reference carries user data.
func (r UserRef) IsInline() bool {
	return r.payload != nil
}

// Inline returns the embedded user, if any.
func (r UserRef) Inline() (User, bool) {
	if r.payload == nil {
		return User{}, false
	}
	return r.payload.User(), true
}

// Payload returns the embedded fields for merging into a cached record.
func (r UserRef) Payload() (UserPayload, bool) {
	if r.payload == nil {
		return UserPayload{}, false
	}
	return *r.payload, true
}

// UnmarshalJSON decodes a user object of either shape.
func (r *UserRef) UnmarshalJSON(b []byte) error {
	var p UserPayload
	if err := json.Unmarshal(b, &p); err != nil {
		return fmt.Errorf("failed to decode user reference: %w", err)
	}
	*r = RefFromPayload(p)
	return nil
}

// MarshalJSON writes the inline user, or an id-only object.
func (r UserRef) MarshalJSON() ([]byte, error) {
	if u, ok := r.Inline(); ok {
		return json.Marshal(u)
	}
	return json.Marshal(struct {
		ID snowflake.Snowflake `json:"id"`
	}{ID: r.id})
}
