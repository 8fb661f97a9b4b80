// Package gemini implements the diagnose.Engine capability on the Gemini API.
package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/generative-ai-go/genai"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"plant-debugger/api/internal/cost"
	"plant-debugger/api/internal/diagnose"
	"plant-debugger/api/internal/diagnose/prompt"
	"plant-debugger/api/internal/resilience"
	"plant-debugger/api/internal/util"
)

// Engine maps pipeline steps to model tiers: the pro model serves the final
// diagnosis, flash the identification and expert passes, flash-lite the cheap
// auxiliary calls. Retries happen in the resilience layer, not here.
type Engine struct {
	APIKey    string
	Pro       string
	Flash     string
	FlashLite string

	log *zap.Logger

	mu     sync.Mutex
	client *genai.Client
}

func New(apiKey, pro, flash, flashLite string, log *zap.Logger) *Engine {
	return &Engine{
		APIKey:    strings.TrimSpace(apiKey),
		Pro:       strings.TrimSpace(pro),
		Flash:     strings.TrimSpace(flash),
		FlashLite: strings.TrimSpace(flashLite),
		log:       log,
	}
}

func (e *Engine) Name() string { return "gemini" }

// clientFor lazily constructs the API client on first use and reuses it for
// every later call.
func (e *Engine) clientFor(ctx context.Context) (*genai.Client, error) {
	if e.APIKey == "" {
		return nil, errors.New("GEMINI_API_KEY is empty")
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.client != nil {
		return e.client, nil
	}
	cl, err := genai.NewClient(ctx, option.WithAPIKey(e.APIKey))
	if err != nil {
		return nil, err
	}
	e.client = cl
	return cl, nil
}

func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.client == nil {
		return nil
	}
	err := e.client.Close()
	e.client = nil
	return err
}

func ptrFloat32(v float32) *float32 { return &v }

func tierFor(model string, e *Engine) cost.Tier {
	switch model {
	case e.Pro:
		return cost.TierHigh
	case e.FlashLite:
		return cost.TierLow
	default:
		return cost.TierMedium
	}
}

func usageFrom(resp *genai.GenerateContentResponse, tier cost.Tier) cost.Usage {
	u := cost.Usage{Tier: tier}
	if resp != nil && resp.UsageMetadata != nil {
		u.PromptTokens = int64(resp.UsageMetadata.PromptTokenCount)
		u.OutputTokens = int64(resp.UsageMetadata.CandidatesTokenCount)
	}
	return u
}

func firstText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var b strings.Builder
	for _, p := range resp.Candidates[0].Content.Parts {
		if t, ok := p.(genai.Text); ok {
			b.WriteString(string(t))
		}
	}
	return strings.TrimSpace(b.String())
}

// imageParts converts accepted images to inline payload parts, preserving the
// per-image MIME type.
func imageParts(images []diagnose.Image) []genai.Part {
	parts := make([]genai.Part, 0, len(images))
	for _, img := range images {
		mime := util.PickMIME(img.MIME, "", img.Data)
		parts = append(parts, &genai.Blob{MIMEType: mime, Data: img.Data})
	}
	return parts
}

// generate is the single entry to the model: builds the model handle, sends
// the parts, and returns the raw text plus token usage. A response with no
// candidates or blank text is resilience.ErrEmptyResult.
func (e *Engine) generate(ctx context.Context, model, system string, parts []genai.Part, gc genai.GenerationConfig) (string, cost.Usage, error) {
	tier := tierFor(model, e)
	cl, err := e.clientFor(ctx)
	if err != nil {
		return "", cost.Usage{Tier: tier}, err
	}

	m := cl.GenerativeModel(model)
	m.GenerationConfig = gc
	m.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(system)}}

	resp, err := m.GenerateContent(ctx, parts...)
	u := usageFrom(resp, tier)
	if err != nil {
		return "", u, fmt.Errorf("gemini %s: %w", model, err)
	}
	e.log.Debug("model call",
		zap.String("model", model),
		zap.Int64("prompt_tokens", u.PromptTokens),
		zap.Int64("output_tokens", u.OutputTokens))
	txt := firstText(resp)
	if txt == "" {
		return "", u, resilience.ErrEmptyResult
	}
	return util.StripCodeFences(txt), u, nil
}

func (e *Engine) Identify(ctx context.Context, images []diagnose.Image) (diagnose.PlantIdentification, cost.Usage, error) {
	parts := append([]genai.Part{genai.Text("Identify the plant. Respond with the JSON only.")}, imageParts(images)...)
	gc := genai.GenerationConfig{
		Temperature:      ptrFloat32(0),
		ResponseMIMEType: "application/json",
	}
	txt, u, err := e.generate(ctx, e.Flash, prompt.IdentifySystem, parts, gc)
	if err != nil {
		return diagnose.PlantIdentification{}, u, err
	}
	var id diagnose.PlantIdentification
	if err := json.Unmarshal([]byte(txt), &id); err != nil {
		return diagnose.PlantIdentification{}, u, fmt.Errorf("identify: bad JSON: %w", err)
	}
	id.Name = strings.TrimSpace(id.Name)
	return id, u, nil
}

func (e *Engine) Questions(ctx context.Context, images []diagnose.Image, plant string) ([]diagnose.DiagnosticQuestion, cost.Usage, error) {
	user := "Generate the clarifying questions. Respond with the JSON array only."
	if plant != "" {
		user += " The plant is: " + plant + "."
	}
	parts := append([]genai.Part{genai.Text(user)}, imageParts(images)...)
	gc := genai.GenerationConfig{
		Temperature:      ptrFloat32(0.4),
		ResponseMIMEType: "application/json",
	}
	txt, u, err := e.generate(ctx, e.FlashLite, prompt.QuestionsSystem, parts, gc)
	if err != nil {
		return nil, u, err
	}
	var raw []struct {
		Question string `json:"question"`
		Type     string `json:"type"`
	}
	if err := json.Unmarshal([]byte(txt), &raw); err != nil {
		return nil, u, fmt.Errorf("questions: bad JSON: %w", err)
	}
	qs := make([]diagnose.DiagnosticQuestion, 0, len(raw))
	for _, r := range raw {
		q := strings.TrimSpace(r.Question)
		if q == "" {
			continue
		}
		qs = append(qs, diagnose.DiagnosticQuestion{
			Question: q,
			Type:     diagnose.QuestionYesNo,
			Required: true,
		})
	}
	return qs, u, nil
}

func (e *Engine) NoPlantMessage(ctx context.Context) (string, cost.Usage, error) {
	parts := []genai.Part{genai.Text("Write the message.")}
	gc := genai.GenerationConfig{Temperature: ptrFloat32(0.7)}
	return e.generate(ctx, e.FlashLite, prompt.NoPlantSystem, parts, gc)
}

func (e *Engine) InitialDiagnosis(ctx context.Context, images []diagnose.Image, plant string, variant diagnose.ExpertVariant) (string, cost.Usage, error) {
	user := fmt.Sprintf("EXPERT VARIANT: %s. Diagnose the plant on the photo(s).", variant.Label)
	if plant != "" {
		user += " The plant is: " + plant + "."
	}
	parts := append([]genai.Part{genai.Text(user)}, imageParts(images)...)
	gc := genai.GenerationConfig{
		Temperature: ptrFloat32(variant.Temperature),
		TopP:        ptrFloat32(variant.TopP),
	}
	return e.generate(ctx, e.Flash, prompt.ExpertSystem, parts, gc)
}

func (e *Engine) Aggregate(ctx context.Context, plant string, expertTexts []string) (string, cost.Usage, error) {
	var b strings.Builder
	if plant != "" {
		fmt.Fprintf(&b, "Plant: %s\n\n", plant)
	}
	for i, txt := range expertTexts {
		fmt.Fprintf(&b, "--- Expert %d ---\n%s\n\n", i+1, txt)
	}
	b.WriteString("Output the ranked comma-separated list of at most 5 conditions.")
	parts := []genai.Part{genai.Text(b.String())}
	gc := genai.GenerationConfig{Temperature: ptrFloat32(0)}
	return e.generate(ctx, e.Flash, prompt.AggregateSystem, parts, gc)
}

func (e *Engine) FinalDiagnosis(ctx context.Context, images []diagnose.Image, in diagnose.FinalInput) (diagnose.DiagnosisResult, cost.Usage, error) {
	var b strings.Builder
	if in.Plant != "" {
		fmt.Fprintf(&b, "Plant: %s\n", in.Plant)
	}
	fmt.Fprintf(&b, "Ranked candidate conditions: %s\n", in.RankedConditions)
	if len(in.Transcript) > 0 {
		b.WriteString("Owner's answers:\n")
		for _, aq := range in.Transcript {
			fmt.Fprintf(&b, "- %s -> %s\n", aq.Question, aq.Answer)
		}
	}
	if strings.TrimSpace(in.Comment) != "" {
		fmt.Fprintf(&b, "Owner's comment: %s\n", in.Comment)
	}
	b.WriteString("Respond with the JSON only.")

	parts := append([]genai.Part{genai.Text(b.String())}, imageParts(images)...)
	gc := genai.GenerationConfig{
		Temperature:      ptrFloat32(0.2),
		ResponseMIMEType: "application/json",
	}
	system := prompt.FinalSystem + "\n\nfinal.schema.json:\n" + prompt.FinalSchema

	txt, u, err := e.generate(ctx, e.Pro, system, parts, gc)
	if err != nil {
		return diagnose.DiagnosisResult{}, u, err
	}
	var r diagnose.DiagnosisResult
	if err := json.Unmarshal([]byte(txt), &r); err != nil {
		return diagnose.DiagnosisResult{}, u, fmt.Errorf("final diagnosis: bad JSON: %w", err)
	}
	return r, u, nil
}
