package snowflake

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    Snowflake
		wantErr bool
	}{
		{name: "valid", input: "175928847299117063", want: 175928847299117063},
		{name: "zero", input: "0", want: 0},
		{name: "negative", input: "-1", wantErr: true},
		{name: "garbage", input: "abc", wantErr: true},
		{name: "empty", input: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSnowflake_Time(t *testing.T) {
	id := Snowflake(175928847299117063)
	want := time.Date(2016, 4, 30, 11, 18, 25, 796000000, time.UTC)
	assert.Equal(t, want, id.Time())
}

func TestSnowflake_JSON(t *testing.T) {
	type wrapper struct {
		ID     Snowflake  `json:"id"`
		Parent *Snowflake `json:"parent_id"`
	}

	t.Run("string form", func(t *testing.T) {
		var w wrapper
		require.NoError(t, json.Unmarshal([]byte(`{"id":"42","parent_id":"7"}`), &w))
		assert.Equal(t, Snowflake(42), w.ID)
		require.NotNil(t, w.Parent)
		assert.Equal(t, Snowflake(7), *w.Parent)
	})

	t.Run("numeric form", func(t *testing.T) {
		var w wrapper
		require.NoError(t, json.Unmarshal([]byte(`{"id":42}`), &w))
		assert.Equal(t, Snowflake(42), w.ID)
		assert.Nil(t, w.Parent)
	})

	t.Run("null", func(t *testing.T) {
		var w wrapper
		require.NoError(t, json.Unmarshal([]byte(`{"id":null,"parent_id":null}`), &w))
		assert.True(t, w.ID.IsZero())
		assert.Nil(t, w.Parent)
	})

	t.Run("encodes as string", func(t *testing.T) {
		b, err := json.Marshal(wrapper{ID: 42})
		require.NoError(t, err)
		assert.JSONEq(t, `{"id":"42","parent_id":null}`, string(b))
	})

	t.Run("invalid", func(t *testing.T) {
		var w wrapper
		assert.Error(t, json.Unmarshal([]byte(`{"id":"x1"}`), &w))
	})
}

func TestSnowflake_Shard(t *testing.T) {
	id := Snowflake(81384788765712384)
	assert.Equal(t, 0, id.Shard(1))
	assert.Equal(t, int((uint64(id)>>22)%4), id.Shard(4))
}
