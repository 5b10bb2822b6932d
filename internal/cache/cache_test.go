package cache_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/AfricasVoices/Engagement-Data-Pipeline/internal/cache"
	"github.com/AfricasVoices/Engagement-Data-Pipeline/internal/model"
)

func newTestCache(t *testing.T) *cache.Cache {
	t.Helper()
	c, err := cache.New(t.TempDir(), zap.NewNop())
	require.NoError(t, err)
	return c
}

func TestStringRoundTrip(t *testing.T) {
	c := newTestCache(t)

	require.NoError(t, c.SetString("k1", "hello"))
	v, ok := c.GetString("k1")
	require.True(t, ok)
	require.Equal(t, "hello", v)

	_, ok = c.GetString("missing")
	require.False(t, ok)
}

func TestTimestampRoundTripAndMonotonicAdvance(t *testing.T) {
	c := newTestCache(t)

	t1 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, c.SetTimestamp("watermark", t1))
	got, ok := c.GetTimestamp("watermark")
	require.True(t, ok)
	require.True(t, got.Equal(t1))

	t2 := t1.Add(24 * time.Hour)
	require.NoError(t, c.SetTimestamp("watermark", t2))
	got, ok = c.GetTimestamp("watermark")
	require.True(t, ok)
	require.True(t, got.Equal(t2), "a later watermark write must overwrite, not merge with, the earlier one")
}

func TestClearTimestamp(t *testing.T) {
	c := newTestCache(t)
	require.NoError(t, c.SetTimestamp("watermark", time.Now()))

	require.NoError(t, c.ClearTimestamp("watermark"))

	_, ok := c.GetTimestamp("watermark")
	require.False(t, ok)

	// Clearing an already-absent key is not an error.
	require.NoError(t, c.ClearTimestamp("watermark"))
}

func TestCorruptedTimestampTreatedAsAbsent(t *testing.T) {
	c := newTestCache(t)
	require.NoError(t, c.SetString("watermark", "not-a-timestamp"))

	_, ok := c.GetTimestamp("watermark")
	require.False(t, ok)
}

func TestMessageRoundTrip(t *testing.T) {
	c := newTestCache(t)
	msg := model.Message{MessageID: "m1", Text: "hello", OriginID: "origin-1"}

	require.NoError(t, c.SetMessage("origin-1", msg))

	got, ok := c.GetMessage("origin-1")
	require.True(t, ok)
	require.Equal(t, msg.MessageID, got.MessageID)
	require.Equal(t, msg.Text, got.Text)
}

func TestMessagesBatchRoundTrip(t *testing.T) {
	c := newTestCache(t)
	msgs := []model.Message{
		{MessageID: "m1", OriginID: "o1"},
		{MessageID: "m2", OriginID: "o2"},
	}

	require.NoError(t, c.SetMessages("batch", msgs))

	got, ok := c.GetMessages("batch")
	require.True(t, ok)
	require.Len(t, got, 2)
	require.Equal(t, "m1", got[0].MessageID)
	require.Equal(t, "m2", got[1].MessageID)
}
