package generate

import (
	"context"

	"alttext/internal/platform/eino"
)

// Outcome is the terminal state of one image's generation attempt.
type Outcome string

const (
	// OutcomeGenerated: a provider in the chain returned usable text.
	OutcomeGenerated Outcome = "generated"
	// OutcomeFailed: every provider errored or timed out.
	OutcomeFailed Outcome = "generation_failed"
	// OutcomeQuotaExceeded: the account's monthly quota was exhausted
	// before the first attempt. Distinct from OutcomeFailed so users can
	// tell "we tried and failed" from "you hit your limit".
	OutcomeQuotaExceeded Outcome = "quota_exceeded"
)

// Provider is one tier of the fallback chain. eino.Captioner satisfies it.
type Provider interface {
	Model() string
	Caption(ctx context.Context, req eino.CaptionRequest) (*eino.CaptionResult, error)
}

// Quota is the billing collaborator's check-and-reserve capability.
type Quota interface {
	CheckAndReserve(ctx context.Context, account string, n int) (bool, error)
}

// ImageLoader retrieves image payloads; fetch.Fetcher satisfies it.
type ImageLoader interface {
	FetchImage(ctx context.Context, imageURL string) ([]byte, string, error)
}

// ImageRef identifies one distinct image to generate for.
type ImageRef struct {
	CanonicalURL string
	SourceURL    string
}

// BatchRequest carries the per-job generation parameters.
type BatchRequest struct {
	Account   string
	Language  string
	Tone      string
	WCAGLevel string
}

// Result is the recorded outcome for one distinct image.
type Result struct {
	Outcome  Outcome `json:"outcome"`
	Text     string  `json:"text,omitempty"`
	Model    string  `json:"model,omitempty"`
	CarbonMg float64 `json:"carbon_mg,omitempty"`
}
