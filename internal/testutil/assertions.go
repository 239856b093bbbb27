package testutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/parsascontentcorner/discordlitegateway/internal/models"
)

// AssertShardSessionEqual compares the resume state of two sessions.
// Row ids and creation timestamps are ignored.
func AssertShardSessionEqual(t *testing.T, expected, actual *models.ShardSession) {
	t.Helper()

	assert.Equal(t, expected.ShardID, actual.ShardID, "ShardID should match")
	assert.Equal(t, expected.ShardCount, actual.ShardCount, "ShardCount should match")
	assert.Equal(t, expected.SessionID, actual.SessionID, "SessionID should match")
	assert.Equal(t, expected.ResumeGatewayURL, actual.ResumeGatewayURL, "ResumeGatewayURL should match")
	assert.Equal(t, expected.Sequence, actual.Sequence, "Sequence should match")
	assert.Equal(t, expected.Status, actual.Status, "Status should match")

	if !expected.ExpiresAt.IsZero() {
		AssertTimeAlmostEqual(t, expected.ExpiresAt, actual.ExpiresAt, 2*time.Second)
	}
}

// AssertTimeAlmostEqual checks if two times are within a specified delta.
// Useful for timestamp comparisons where exact equality isn't expected.
func AssertTimeAlmostEqual(t *testing.T, expected, actual time.Time, delta time.Duration) {
	t.Helper()

	diff := expected.Sub(actual)
	if diff < 0 {
		diff = -diff
	}

	assert.True(t,
		diff <= delta,
		"Times should be within %v of each other. Expected: %v, Actual: %v, Diff: %v",
		delta, expected, actual, diff,
	)
}
