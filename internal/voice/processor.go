// Package voice turns operator utterances into validated mutations executed
// through the same command path as touch input. There is no voice-only
// mutation route.
package voice

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"expediter/internal/errs"
	"expediter/internal/models"
	"expediter/internal/monitoring"
	"expediter/internal/router"
	"expediter/internal/store"
)

// Request is one utterance to process.
type Request struct {
	Audio          []byte
	Tenant         string
	ActorID        string
	Role           string
	IdempotencyKey string
}

// Outcome reports what became of an utterance. Executed is false for
// unknown and low-confidence commands; Suggestions then carries ranked
// alternatives for the operator.
type Outcome struct {
	SessionID   string         `json:"session_id"`
	Transcript  string         `json:"transcript"`
	Confidence  float64        `json:"confidence"`
	Executed    bool           `json:"executed"`
	Result      *router.Result `json:"result,omitempty"`
	Suggestions []string       `json:"suggestions,omitempty"`
	Feedback    string         `json:"feedback"`
}

// Processor owns the recording-to-execution pipeline and the live session
// table.
type Processor struct {
	transcriber Transcriber
	cache       *TranscriptionCache
	budget      *Budget
	executor    *router.Executor
	store       store.Store
	metrics     *monitoring.Metrics
	threshold   float64
	timeout     time.Duration

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewProcessor wires the pipeline. threshold is the combined-confidence
// floor T below which nothing executes.
func NewProcessor(t Transcriber, cache *TranscriptionCache, budget *Budget, x *router.Executor, st store.Store, m *monitoring.Metrics, threshold float64, timeout time.Duration) *Processor {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Processor{
		transcriber: t,
		cache:       cache,
		budget:      budget,
		executor:    x,
		store:       st,
		metrics:     m,
		threshold:   threshold,
		timeout:     timeout,
		sessions:    make(map[string]*Session),
	}
}

// Cancel aborts a live session if it has not reached executing.
func (p *Processor) Cancel(sessionID string) error {
	p.mu.Lock()
	s, ok := p.sessions[sessionID]
	p.mu.Unlock()
	if !ok {
		return &errs.NotFoundError{Kind: "voice session", ID: sessionID}
	}
	return s.Cancel()
}

// Process runs one utterance through the full pipeline. The returned
// Outcome always carries human-readable feedback; errors are reserved for
// budget, permission and infrastructure failures.
func (p *Processor) Process(ctx context.Context, req Request) (*Outcome, error) {
	if len(req.Audio) == 0 {
		return nil, &errs.ValidationError{Field: "audio", Reason: "empty"}
	}
	if req.IdempotencyKey == "" {
		return nil, &errs.ValidationError{Field: "idempotency_key", Reason: "required"}
	}

	session := NewSession()
	p.mu.Lock()
	p.sessions[session.ID] = session
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		delete(p.sessions, session.ID)
		p.mu.Unlock()
		session.Finish()
	}()

	out := &Outcome{SessionID: session.ID}

	if err := session.Advance(StateRecording); err != nil {
		return nil, err
	}
	if err := session.Advance(StateTranscribing); err != nil {
		return nil, err
	}

	transcription, err := p.transcribe(ctx, req)
	if err != nil {
		var budgetErr *errs.BudgetExceededError
		if errors.As(err, &budgetErr) {
			p.writeHistory(ctx, req, "unknown", "", 0, false, "Voice budget exhausted for today")
			return nil, err
		}
		p.writeHistory(ctx, req, "unknown", "", 0, false, "Transcription unavailable")
		return nil, err
	}
	out.Transcript = transcription.Text

	if session.Cancelled() {
		out.Feedback = "Cancelled"
		return out, nil
	}
	if err := session.Advance(StateParsing); err != nil {
		out.Feedback = "Cancelled"
		return out, nil
	}

	parsed := Parse(transcription.Text)
	combined := transcription.Confidence * parsed.Score
	out.Confidence = combined

	if parsed.Action == "" || combined < p.threshold {
		out.Suggestions = Suggestions(transcription.Text)
		out.Feedback = fmt.Sprintf("Didn't catch that (%q). Try: %s", transcription.Text, strings.Join(out.Suggestions, ", "))
		p.writeHistory(ctx, req, "unknown", transcription.Text, combined, false, out.Feedback)
		return out, nil
	}

	cmd, err := commandFrom(parsed)
	if err != nil {
		out.Suggestions = Suggestions(transcription.Text)
		out.Feedback = err.Error()
		p.writeHistory(ctx, req, parsed.Action, transcription.Text, combined, false, out.Feedback)
		return out, nil
	}

	// Past this point the command is committed: cancellation no longer
	// applies and the executor reports a definite outcome.
	if err := session.Advance(StateExecuting); err != nil {
		out.Feedback = "Cancelled"
		return out, nil
	}

	actor := router.Actor{
		ID:         req.ActorID,
		Role:       req.Role,
		Source:     models.SourceVoice,
		Transcript: transcription.Text,
		Confidence: combined,
	}
	res, err := p.executor.Execute(ctx, req.IdempotencyKey, actor, cmd)
	if err != nil {
		var perm *errs.PermissionError
		if errors.As(err, &perm) {
			p.writeHistory(ctx, req, parsed.Action, transcription.Text, combined, false, "Not allowed: "+perm.Error())
		}
		return nil, err
	}

	out.Executed = true
	out.Result = res
	out.Feedback = res.Feedback
	return out, nil
}

// transcribe serves the text from the fingerprint cache when possible and
// otherwise charges the budget and calls the service with bounded retry.
func (p *Processor) transcribe(ctx context.Context, req Request) (Transcription, error) {
	if t, ok := p.cache.Get(req.Audio); ok {
		p.metrics.CacheHit()
		return t, nil
	}
	if err := p.budget.Charge(req.Tenant); err != nil {
		return Transcription{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	var t Transcription
	err := errs.Retry(ctx, errs.DefaultRetry, func() error {
		var callErr error
		t, callErr = p.transcriber.Transcribe(ctx, req.Audio)
		return callErr
	})
	if err != nil {
		return Transcription{}, err
	}
	p.cache.Put(req.Audio, t)
	return t, nil
}

// commandFrom maps a parsed utterance onto the closed command set.
func commandFrom(p Parsed) (router.Command, error) {
	switch p.Action {
	case "bump":
		switch p.Target {
		case TargetOrder:
			return router.BumpOrder{OrderNumber: p.OrderNumber}, nil
		case TargetTable:
			return router.BumpTable{TableNumber: p.Table}, nil
		case TargetAll:
			return router.BumpAll{}, nil
		}
	case "start":
		if p.Target == TargetOrder {
			return router.StartOrder{OrderNumber: p.OrderNumber}, nil
		}
	case "recall":
		if p.Target == TargetOrder {
			return router.RecallOrder{OrderNumber: p.OrderNumber}, nil
		}
	case "priority":
		if p.Target == TargetOrder {
			return router.SetOrderPriority{OrderNumber: p.OrderNumber, Level: p.Level}, nil
		}
	}
	return nil, fmt.Errorf("%s needs an order number, table, or \"all\"", p.Action)
}

// writeHistory appends a command record for attempts that never reached the
// executor, so the history reflects every utterance outcome.
func (p *Processor) writeHistory(ctx context.Context, req Request, action, transcript string, confidence float64, success bool, feedback string) {
	rec := &models.CommandRecord{
		IdempotencyKey: req.IdempotencyKey,
		Action:         action,
		ActorID:        req.ActorID,
		Role:           req.Role,
		Source:         models.SourceVoice,
		Transcript:     transcript,
		Confidence:     confidence,
		Success:        success,
		Feedback:       feedback,
		ExecutedAt:     time.Now(),
	}
	if err := p.store.CreateCommandRecord(ctx, rec); err != nil {
		log.Printf("voice: history write failed: %v", err)
	}
	p.metrics.Command(action, models.SourceVoice, success)
}
