package voice

import (
	"hash/fnv"
	"sync"
	"time"
)

// TranscriptionCache reuses prior transcriptions for near-duplicate audio,
// cutting cost and latency on repeated utterances. Only the transcription
// step is ever cached; permission checks always run fresh.
type TranscriptionCache struct {
	mu      sync.Mutex
	entries map[uint64]cacheEntry
	ttl     time.Duration
	now     func() time.Time
}

type cacheEntry struct {
	t  Transcription
	at time.Time
}

// NewTranscriptionCache creates a cache whose entries expire after ttl.
func NewTranscriptionCache(ttl time.Duration) *TranscriptionCache {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &TranscriptionCache{
		entries: make(map[uint64]cacheEntry),
		ttl:     ttl,
		now:     time.Now,
	}
}

// Fingerprint reduces audio to a coarse signature: the byte stream is
// bucketed into 64 windows and each window's mean contributes to an FNV
// hash, so small recording differences (padding, trailing silence) still
// collide onto the same print.
func Fingerprint(audio []byte) uint64 {
	h := fnv.New64a()
	if len(audio) == 0 {
		return h.Sum64()
	}
	window := len(audio) / 64
	if window == 0 {
		window = 1
	}
	for start := 0; start < len(audio); start += window {
		end := start + window
		if end > len(audio) {
			end = len(audio)
		}
		var sum int
		for _, b := range audio[start:end] {
			sum += int(b)
		}
		mean := byte(sum / (end - start))
		// Quantize to absorb minor level differences.
		h.Write([]byte{mean >> 3})
	}
	return h.Sum64()
}

// Get returns a previously cached transcription for audio, if fresh.
func (c *TranscriptionCache) Get(audio []byte) (Transcription, bool) {
	key := Fingerprint(audio)
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return Transcription{}, false
	}
	if c.now().Sub(e.at) > c.ttl {
		delete(c.entries, key)
		return Transcription{}, false
	}
	return e.t, true
}

// Put stores a transcription under the audio's fingerprint.
func (c *TranscriptionCache) Put(audio []byte, t Transcription) {
	key := Fingerprint(audio)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = cacheEntry{t: t, at: c.now()}
}
