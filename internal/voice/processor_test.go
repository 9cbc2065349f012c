package voice

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"expediter/internal/config"
	"expediter/internal/errs"
	"expediter/internal/models"
	"expediter/internal/router"
	"expediter/internal/store"
)

type fakeTranscriber struct {
	result Transcription
	err    error
	calls  int
}

func (f *fakeTranscriber) Transcribe(ctx context.Context, audio []byte) (Transcription, error) {
	f.calls++
	return f.result, f.err
}

// voiceKitchen builds a grill+fryer kitchen with order 123 at table 5
// routed, and a processor over it.
func voiceKitchen(t *testing.T, ft Transcriber, budget *Budget) (*store.MemoryStore, *Processor) {
	t.Helper()
	ctx := context.Background()
	st := store.NewMemory()
	require.NoError(t, st.CreateStation(ctx, &models.Station{Name: "Grill", Type: models.StationTypeGrill}))
	require.NoError(t, st.CreateStation(ctx, &models.Station{Name: "Fryer", Type: models.StationTypeFryer}))
	o := &models.Order{
		Number:      123,
		TableNumber: "5",
		Items: []models.OrderItem{
			{Name: "Burger", Quantity: 1, StationType: models.StationTypeGrill},
			{Name: "Fries", Quantity: 1, StationType: models.StationTypeFryer},
		},
	}
	_, err := router.New(st, nil).Route(ctx, o)
	require.NoError(t, err)

	if budget == nil {
		budget = NewBudget(1, 0.01, nil)
	}
	x := router.NewExecutor(st, nil, config.Default(), nil, nil)
	p := NewProcessor(ft, NewTranscriptionCache(time.Minute), budget, x, st, nil, 0.7, time.Second)
	return st, p
}

func voiceRequest(key string) Request {
	return Request{
		Audio:          []byte("waveform"),
		Tenant:         "cafe",
		ActorID:        "marco",
		Role:           "cook",
		IdempotencyKey: key,
	}
}

func TestProcessExecutesCommand(t *testing.T) {
	ctx := context.Background()
	ft := &fakeTranscriber{result: Transcription{Text: "bump order 123", Confidence: 0.95}}
	st, p := voiceKitchen(t, ft, nil)

	out, err := p.Process(ctx, voiceRequest("v1"))
	require.NoError(t, err)

	assert.True(t, out.Executed)
	require.NotNil(t, out.Result)
	assert.Equal(t, 2, out.Result.AffectedCount)
	assert.Contains(t, out.Feedback, "Order 123")
	assert.Contains(t, out.Feedback, "5")

	records, err := st.ListRouting(ctx, store.RoutingFilter{})
	require.NoError(t, err)
	for _, r := range records {
		assert.Equal(t, string(models.RoutingStatusReady), r.Status)
	}

	history, err := st.ListCommandRecords(ctx, 0)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, models.SourceVoice, history[0].Source)
	assert.Equal(t, "bump order 123", history[0].Transcript)

	// The session table is cleared once the pipeline finishes.
	assert.Error(t, p.Cancel(out.SessionID))
}

// Below the confidence threshold nothing mutates: the outcome carries
// suggestions, the kitchen state is untouched, and only an "unknown"
// history entry is written.
func TestLowConfidenceNeverExecutes(t *testing.T) {
	ctx := context.Background()
	ft := &fakeTranscriber{result: Transcription{Text: "bump order 123", Confidence: 0.4}}
	st, p := voiceKitchen(t, ft, nil)

	out, err := p.Process(ctx, voiceRequest("v1"))
	require.NoError(t, err)

	assert.False(t, out.Executed)
	assert.Nil(t, out.Result)
	assert.NotEmpty(t, out.Suggestions)

	records, err := st.ListRouting(ctx, store.RoutingFilter{})
	require.NoError(t, err)
	for _, r := range records {
		assert.Equal(t, string(models.RoutingStatusNew), r.Status)
	}

	history, err := st.ListCommandRecords(ctx, 0)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "unknown", history[0].Action)
	assert.False(t, history[0].Success)
}

func TestUnknownUtteranceSuggests(t *testing.T) {
	ctx := context.Background()
	ft := &fakeTranscriber{result: Transcription{Text: "xylophone concerto", Confidence: 0.99}}
	_, p := voiceKitchen(t, ft, nil)

	out, err := p.Process(ctx, voiceRequest("v1"))
	require.NoError(t, err)
	assert.False(t, out.Executed)
	assert.Len(t, out.Suggestions, 3)
	assert.Contains(t, out.Feedback, "Try:")
}

func TestBudgetExhaustedFailsFast(t *testing.T) {
	ctx := context.Background()
	ft := &fakeTranscriber{result: Transcription{Text: "bump order 123", Confidence: 0.95}}
	budget := NewBudget(0, 0.01, nil)
	st, p := voiceKitchen(t, ft, budget)

	_, err := p.Process(ctx, voiceRequest("v1"))
	var exceeded *errs.BudgetExceededError
	require.ErrorAs(t, err, &exceeded)

	// Fail-fast: the transcription service is never called.
	assert.Zero(t, ft.calls)

	history, err := st.ListCommandRecords(ctx, 0)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Contains(t, history[0].Feedback, "budget")
}

func TestCacheHitSkipsTranscriptionAndBudget(t *testing.T) {
	ctx := context.Background()
	ft := &fakeTranscriber{err: errors.New("should not be called")}
	budget := NewBudget(1, 0.01, nil)
	_, p := voiceKitchen(t, ft, budget)

	req := voiceRequest("v1")
	p.cache.Put(req.Audio, Transcription{Text: "bump order 123", Confidence: 0.95})

	out, err := p.Process(ctx, req)
	require.NoError(t, err)
	assert.True(t, out.Executed)
	assert.Zero(t, ft.calls)
	assert.Zero(t, budget.Spent(req.Tenant))
}

func TestTransientTranscriptionIsRetried(t *testing.T) {
	ctx := context.Background()
	ft := &flakyTranscriber{failures: 2, result: Transcription{Text: "bump order 123", Confidence: 0.95}}
	_, p := voiceKitchen(t, ft, nil)

	out, err := p.Process(ctx, voiceRequest("v1"))
	require.NoError(t, err)
	assert.True(t, out.Executed)
	assert.Equal(t, 3, ft.calls)
}

type flakyTranscriber struct {
	failures int
	result   Transcription
	calls    int
}

func (f *flakyTranscriber) Transcribe(ctx context.Context, audio []byte) (Transcription, error) {
	f.calls++
	if f.calls <= f.failures {
		return Transcription{}, &errs.TransientError{Op: "transcribe", Err: errors.New("gateway timeout")}
	}
	return f.result, nil
}

func TestPermissionDenialIsRecorded(t *testing.T) {
	ctx := context.Background()
	ft := &fakeTranscriber{result: Transcription{Text: "recall order 123", Confidence: 0.95}}
	st, p := voiceKitchen(t, ft, nil)

	req := voiceRequest("v1")
	req.Role = "server"
	_, err := p.Process(ctx, req)
	var perm *errs.PermissionError
	require.ErrorAs(t, err, &perm)

	history, err := st.ListCommandRecords(ctx, 0)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Contains(t, history[0].Feedback, "Not allowed")
}

func TestProcessValidation(t *testing.T) {
	ctx := context.Background()
	_, p := voiceKitchen(t, &fakeTranscriber{}, nil)
	var validation *errs.ValidationError

	_, err := p.Process(ctx, Request{Audio: nil, IdempotencyKey: "v1"})
	require.ErrorAs(t, err, &validation)

	_, err = p.Process(ctx, Request{Audio: []byte("x")})
	require.ErrorAs(t, err, &validation)
}

func TestCancelUnknownSession(t *testing.T) {
	_, p := voiceKitchen(t, &fakeTranscriber{}, nil)
	var notFound *errs.NotFoundError
	require.ErrorAs(t, p.Cancel("no-such-session"), &notFound)
}
