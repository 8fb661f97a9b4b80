// Package diagnose implements the multi-stage plant diagnosis pipeline:
// identification, question generation, parallel multi-expert initial
// diagnosis, consensus aggregation, and the final structured diagnosis.
package diagnose

import (
	"fmt"
	"strings"
)

// Image is an accepted upload: immutable bytes plus MIME type.
type Image struct {
	ID   string `json:"id"`
	MIME string `json:"mime"`
	Size int64  `json:"size"`
	Data []byte `json:"data"`
}

// PlantIdentification holds the identified plant. Empty Name means no plant
// was detected on the images.
type PlantIdentification struct {
	Name       string   `json:"name"`
	Confidence *float64 `json:"confidence,omitempty"`
}

type QuestionType string

const (
	QuestionYesNo          QuestionType = "yes_no"
	QuestionMultipleChoice QuestionType = "multiple_choice"
)

type DiagnosticQuestion struct {
	ID       string       `json:"id"`
	Question string       `json:"question"`
	Type     QuestionType `json:"type"`
	Required bool         `json:"required"`
}

// DiagnosticAnswer maps to a question by id; re-answering overwrites.
type DiagnosticAnswer struct {
	QuestionID string `json:"questionId"`
	Answer     bool   `json:"answer"`
	Skipped    bool   `json:"skipped"`
}

type ConfidenceTier string

const (
	ConfidenceHigh   ConfidenceTier = "High"
	ConfidenceMedium ConfidenceTier = "Medium"
	ConfidenceLow    ConfidenceTier = "Low"
)

// Condition is one diagnosed condition with its full explanation.
type Condition struct {
	Condition  string         `json:"condition"`
	Confidence ConfidenceTier `json:"confidence"`
	Summary    string         `json:"summary"`
	Reasoning  string         `json:"reasoning"`
	Treatment  string         `json:"treatment"`
	Prevention string         `json:"prevention"`
}

// DiagnosisResult is the final structured diagnosis. Immutable once produced;
// invalidated whenever images, answers, or the comment change.
type DiagnosisResult struct {
	Plant     string     `json:"plant"`
	Primary   Condition  `json:"primary"`
	Secondary *Condition `json:"secondary,omitempty"`
	CareTips  string     `json:"careTips"`
}

// validateResult enforces the output contract. A response missing required
// structured fields is a contract failure, never silently defaulted.
func validateResult(r *DiagnosisResult) error {
	if strings.TrimSpace(r.Primary.Condition) == "" {
		return fmt.Errorf("diagnosis missing primary condition")
	}
	if err := validateConfidence(r.Primary.Confidence); err != nil {
		return fmt.Errorf("primary: %w", err)
	}
	if r.Secondary != nil {
		if strings.TrimSpace(r.Secondary.Condition) == "" {
			// An empty secondary block is treated as absent.
			r.Secondary = nil
		} else if err := validateConfidence(r.Secondary.Confidence); err != nil {
			return fmt.Errorf("secondary: %w", err)
		}
	}
	return nil
}

func validateConfidence(c ConfidenceTier) error {
	switch c {
	case ConfidenceHigh, ConfidenceMedium, ConfidenceLow:
		return nil
	}
	return fmt.Errorf("confidence %q not in {High, Medium, Low}", c)
}

// ExpertVariant is one of the three sampling configurations used to get
// diverse initial opinions from the same underlying model.
type ExpertVariant struct {
	Label       string
	Temperature float32
	TopP        float32
}

// ExpertVariants is ordered by increasing temperature and top-p.
var ExpertVariants = [3]ExpertVariant{
	{Label: "conservative", Temperature: 0.3, TopP: 0.8},
	{Label: "balanced", Temperature: 0.7, TopP: 0.9},
	{Label: "exploratory", Temperature: 1.0, TopP: 0.95},
}

// Phase tracks where a session's run currently is.
type Phase string

const (
	PhaseIdle              Phase = "idle"
	PhaseIdentifying       Phase = "identifying"
	PhaseNoPlant           Phase = "no_plant"
	PhaseAwaitingAnswers   Phase = "awaiting_answers"
	PhaseDiagnosingInitial Phase = "diagnosing_initial"
	PhaseAggregating       Phase = "aggregating"
	PhaseDiagnosingFinal   Phase = "diagnosing_final"
	PhaseComplete          Phase = "complete"
	PhaseError             Phase = "error"
)
