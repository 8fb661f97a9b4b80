package diagnose

import (
	"context"
	"errors"

	"plant-debugger/api/internal/cost"
)

// FinalInput carries everything the final diagnosis call needs beyond the
// images themselves.
type FinalInput struct {
	Plant            string
	RankedConditions string
	Transcript       []AnsweredQuestion
	Comment          string
}

// AnsweredQuestion is one line of the user's question/answer transcript.
type AnsweredQuestion struct {
	Question string
	Answer   string // "yes" | "no" | "skipped"
}

// Engine is the opaque model capability behind every pipeline step. One
// implementation wraps Gemini; tests substitute a double.
type Engine interface {
	Name() string

	// Identify returns the plant name, possibly empty for "no plant detected".
	Identify(ctx context.Context, images []Image) (PlantIdentification, cost.Usage, error)

	// Questions produces 2-5 yes/no clarifying questions (without ids; the
	// orchestrator assigns stable synthetic ids).
	Questions(ctx context.Context, images []Image, plant string) ([]DiagnosticQuestion, cost.Usage, error)

	// NoPlantMessage generates the one-shot "no plant detected" message.
	NoPlantMessage(ctx context.Context) (string, cost.Usage, error)

	// InitialDiagnosis runs one expert pass with the variant's sampling
	// parameters and returns the raw diagnosis text.
	InitialDiagnosis(ctx context.Context, images []Image, plant string, variant ExpertVariant) (string, cost.Usage, error)

	// Aggregate ranks the candidate conditions across the expert texts and
	// returns a comma-separated list, most agreed-upon first.
	Aggregate(ctx context.Context, plant string, expertTexts []string) (string, cost.Usage, error)

	// FinalDiagnosis returns the structured diagnosis.
	FinalDiagnosis(ctx context.Context, images []Image, in FinalInput) (DiagnosisResult, cost.Usage, error)
}

// ErrNoImages is returned when a step is requested without any accepted images.
var ErrNoImages = errors.New("no images provided")

// ValidateImages rejects an empty image set before any paid call is made.
func ValidateImages(images []Image) error {
	if len(images) == 0 {
		return ErrNoImages
	}
	return nil
}
