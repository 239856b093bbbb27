package cache

import (
	"errors"
	"fmt"

	"github.com/parsascontentcorner/discordlitegateway/internal/snowflake"
)

// ErrNotCached is wrapped by every IntegrityError.
var ErrNotCached = errors.New("entity not cached")

// IntegrityError reports an event that referenced an entity the protocol
// guarantees to be cached, but which is absent.
type IntegrityError struct {
	Entity  string
	GuildID snowflake.Snowflake
	ID      snowflake.Snowflake
}

// Error implements the error interface.
func (e *IntegrityError) Error() string {
	if e.GuildID.IsZero() || e.Entity == "guild" {
		return fmt.Sprintf("cache integrity: %s %s was not in the cache", e.Entity, e.ID)
	}
	return fmt.Sprintf("cache integrity: %s %s was not in the guild %s cache", e.Entity, e.ID, e.GuildID)
}

// Unwrap returns ErrNotCached.
func (e *IntegrityError) Unwrap() error {
	return ErrNotCached
}

// IsIntegrityError checks if an error is an *IntegrityError.
func IsIntegrityError(err error) bool {
	var ie *IntegrityError
	return errors.As(err, &ie)
}

func missingGuild(id snowflake.Snowflake) error {
	return &IntegrityError{Entity: "guild", GuildID: id, ID: id}
}

func missing(entity string, guild, id snowflake.Snowflake) error {
	return &IntegrityError{Entity: entity, GuildID: guild, ID: id}
}
