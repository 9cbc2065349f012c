package voice

import (
	"context"
	"fmt"
	"math"

	"github.com/Azure/azure-sdk-for-go/sdk/ai/azopenai"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"

	"expediter/internal/errs"
)

// Transcription is the output of the speech-to-text service.
type Transcription struct {
	Text       string
	Confidence float64
}

// Transcriber converts raw audio to text. Implementations are treated as
// unreliable and metered; callers retry with bounded backoff and account
// for cost.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte) (Transcription, error)
}

// AzureTranscriber implements Transcriber on the Azure OpenAI audio
// transcription endpoint.
type AzureTranscriber struct {
	client     *azopenai.Client
	deployment string
}

// NewAzureTranscriber creates a transcriber against the given deployment.
func NewAzureTranscriber(endpoint, apiKey, deployment string) (*AzureTranscriber, error) {
	if endpoint == "" || apiKey == "" || deployment == "" {
		return nil, fmt.Errorf("azure transcriber configuration missing: endpoint, api key and deployment are required")
	}
	keyCredential := azcore.NewKeyCredential(apiKey)
	client, err := azopenai.NewClientWithKeyCredential(endpoint, keyCredential, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create Azure OpenAI client: %w", err)
	}
	return &AzureTranscriber{client: client, deployment: deployment}, nil
}

func (t *AzureTranscriber) Transcribe(ctx context.Context, audio []byte) (Transcription, error) {
	resp, err := t.client.GetAudioTranscription(ctx, azopenai.AudioTranscriptionOptions{
		File:           audio,
		DeploymentName: to.Ptr(t.deployment),
		ResponseFormat: to.Ptr(azopenai.AudioTranscriptionFormatVerboseJSON),
	}, nil)
	if err != nil {
		return Transcription{}, &errs.TransientError{Op: "transcribe", Err: err}
	}

	out := Transcription{Confidence: 1.0}
	if resp.Text != nil {
		out.Text = *resp.Text
	}

	// Verbose output carries per-segment average log probabilities; their
	// mean, exponentiated, serves as the transcription confidence.
	if len(resp.Segments) > 0 {
		var sum float64
		var n int
		for _, seg := range resp.Segments {
			if seg.AvgLogProb != nil {
				sum += float64(*seg.AvgLogProb)
				n++
			}
		}
		if n > 0 {
			out.Confidence = math.Exp(sum / float64(n))
		}
	}
	return out, nil
}
