package voice

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCacheRoundTrip(t *testing.T) {
	c := NewTranscriptionCache(time.Minute)
	audio := []byte("pretend this is a waveform")

	_, ok := c.Get(audio)
	assert.False(t, ok)

	c.Put(audio, Transcription{Text: "bump order 123", Confidence: 0.9})
	got, ok := c.Get(audio)
	require.True(t, ok)
	assert.Equal(t, "bump order 123", got.Text)
}

func TestCacheExpires(t *testing.T) {
	c := NewTranscriptionCache(time.Minute)
	at := time.Now()
	c.now = func() time.Time { return at }

	audio := []byte("short clip")
	c.Put(audio, Transcription{Text: "fire order 9"})

	at = at.Add(2 * time.Minute)
	_, ok := c.Get(audio)
	assert.False(t, ok)
}

// Near-duplicate recordings land on the same fingerprint; genuinely
// different audio does not.
func TestFingerprintToleratesSmallDifferences(t *testing.T) {
	base := make([]byte, 6400)
	for i := range base {
		base[i] = byte(i % 200)
	}
	nudged := make([]byte, len(base))
	copy(nudged, base)
	nudged[100]++

	assert.Equal(t, Fingerprint(base), Fingerprint(nudged))

	different := make([]byte, len(base))
	for i := range different {
		different[i] = byte(255 - i%200)
	}
	assert.NotEqual(t, Fingerprint(base), Fingerprint(different))
}
