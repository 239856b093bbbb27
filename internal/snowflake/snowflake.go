// Package snowflake implements the 64-bit identifiers used for every entity
// on the chat service.
package snowflake

import (
	"bytes"
	"fmt"
	"strconv"
	"time"
)

// Epoch is the service epoch in milliseconds (first second of 2015).
const Epoch int64 = 1420070400000

// Snowflake is a unique id with an embedded creation timestamp.
type Snowflake uint64

// Parse parses a decimal snowflake string.
func Parse(s string) (Snowflake, error) {
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid snowflake %q: %w", s, err)
	}
	return Snowflake(v), nil
}

// MustParse is Parse for constants in tests and fixtures.
func MustParse(s string) Snowflake {
	id, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return id
}

// String returns the decimal form.
func (s Snowflake) String() string {
	return strconv.FormatUint(uint64(s), 10)
}

// IsZero reports whether the id is unset.
func (s Snowflake) IsZero() bool {
	return s == 0
}

// Time returns the creation time encoded in the id.
func (s Snowflake) Time() time.Time {
	ms := int64(s>>22) + Epoch
	return time.UnixMilli(ms).UTC()
}

// MarshalJSON encodes the id as a JSON string, matching the wire format.
func (s Snowflake) MarshalJSON() ([]byte, error) {
	return []byte(strconv.Quote(s.String())), nil
}

// UnmarshalJSON accepts a quoted string, a bare number or null.
func (s *Snowflake) UnmarshalJSON(b []byte) error {
	if bytes.Equal(b, []byte("null")) {
		*s = 0
		return nil
	}
	raw := string(b)
	if len(b) >= 2 && b[0] == '"' && b[len(b)-1] == '"' {
		raw = string(b[1 : len(b)-1])
	}
	if raw == "" {
		*s = 0
		return nil
	}
	v, err := Parse(raw)
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// Shard returns the shard index that owns the guild with this id.
func (s Snowflake) Shard(count int) int {
	if count <= 1 {
		return 0
	}
	return int((uint64(s) >> 22) % uint64(count))
}
