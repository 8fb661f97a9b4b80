package diagnose

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"plant-debugger/api/internal/cost"
	"plant-debugger/api/internal/resilience"
)

// fakeEngine is a scriptable Engine double with per-method call counters.
type fakeEngine struct {
	mu     sync.Mutex
	counts map[string]int

	identification PlantIdentification
	identifyErr    error
	questions      []DiagnosticQuestion
	questionsErr   error
	noPlantMsg     string
	expertText     func(variant ExpertVariant) (string, error)
	aggregateText  string
	aggregateErr   error
	finalResult    DiagnosisResult
	finalErr       error
	lastFinal      FinalInput
	onFinal        func()
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{
		counts:         make(map[string]int),
		identification: PlantIdentification{Name: "Monstera"},
		questions: []DiagnosticQuestion{
			{Question: "Yellow leaves?"},
			{Question: "Soggy soil?"},
			{Question: "Direct sun?"},
		},
		noPlantMsg: "I could not find a plant in these photos.",
		expertText: func(v ExpertVariant) (string, error) {
			switch v.Label {
			case "conservative":
				return "Root rot, Overwatering", nil
			case "balanced":
				return "Overwatering", nil
			default:
				return "Spider mites", nil
			}
		},
		aggregateText: "Overwatering, Root rot, Spider mites",
		finalResult: DiagnosisResult{
			Plant:    "Monstera",
			Primary:  Condition{Condition: "Overwatering", Confidence: ConfidenceHigh, Treatment: "Let the soil dry."},
			CareTips: "Water when the top inch is dry.",
		},
	}
}

func (f *fakeEngine) bump(name string) {
	f.mu.Lock()
	f.counts[name]++
	f.mu.Unlock()
}

func (f *fakeEngine) count(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.counts[name]
}

func (f *fakeEngine) Name() string { return "fake" }

func (f *fakeEngine) Identify(ctx context.Context, images []Image) (PlantIdentification, cost.Usage, error) {
	f.bump("identify")
	return f.identification, cost.Usage{Tier: cost.TierMedium, PromptTokens: 100, OutputTokens: 10}, f.identifyErr
}

func (f *fakeEngine) Questions(ctx context.Context, images []Image, plant string) ([]DiagnosticQuestion, cost.Usage, error) {
	f.bump("questions")
	return append([]DiagnosticQuestion(nil), f.questions...), cost.Usage{Tier: cost.TierLow, PromptTokens: 50, OutputTokens: 20}, f.questionsErr
}

func (f *fakeEngine) NoPlantMessage(ctx context.Context) (string, cost.Usage, error) {
	f.bump("noplant")
	return f.noPlantMsg, cost.Usage{Tier: cost.TierLow, PromptTokens: 10, OutputTokens: 10}, nil
}

func (f *fakeEngine) InitialDiagnosis(ctx context.Context, images []Image, plant string, variant ExpertVariant) (string, cost.Usage, error) {
	f.bump("expert")
	txt, err := f.expertText(variant)
	return txt, cost.Usage{Tier: cost.TierMedium, PromptTokens: 200, OutputTokens: 50}, err
}

func (f *fakeEngine) Aggregate(ctx context.Context, plant string, expertTexts []string) (string, cost.Usage, error) {
	f.bump("aggregate")
	return f.aggregateText, cost.Usage{Tier: cost.TierMedium, PromptTokens: 80, OutputTokens: 15}, f.aggregateErr
}

func (f *fakeEngine) FinalDiagnosis(ctx context.Context, images []Image, in FinalInput) (DiagnosisResult, cost.Usage, error) {
	f.bump("final")
	f.mu.Lock()
	f.lastFinal = in
	f.mu.Unlock()
	if f.onFinal != nil {
		f.onFinal()
	}
	return f.finalResult, cost.Usage{Tier: cost.TierHigh, PromptTokens: 500, OutputTokens: 100}, f.finalErr
}

// newTestOrchestrator disables the breakers' call spacing so back-to-back
// pipeline runs don't trip the frequency throttle; the throttle itself is
// covered by TestDiagnoseThrottledBetweenAttempts.
func newTestOrchestrator(f *fakeEngine) (*Orchestrator, *cost.Tracker) {
	costs := cost.NewTracker()
	o := NewOrchestrator(f, costs, zap.NewNop())
	o.initialBreaker = resilience.NewBreaker("initial-diagnosis", 2, 30*time.Second, 0)
	o.finalBreaker = resilience.NewBreaker("final-diagnosis", 2, 30*time.Second, 0)
	return o, costs
}

func sessionWithImages(ids ...string) *Session {
	s := NewSession("s1", "c1")
	images := make([]Image, 0, len(ids))
	for _, id := range ids {
		images = append(images, Image{ID: id, MIME: "image/jpeg"})
	}
	s.SetImages(images)
	return s
}

func TestIdentifyCommitsAndRecordsUsage(t *testing.T) {
	f := newFakeEngine()
	o, costs := newTestOrchestrator(f)
	sess := sessionWithImages("a")

	id, err := o.Identify(context.Background(), sess)
	require.NoError(t, err)
	require.Equal(t, "Monstera", id.Name)
	require.Equal(t, "Monstera", sess.Identification().Name)
	require.Equal(t, 1, costs.Totals("c1").Calls)
}

func TestIdentifyEmptyResultMeansNoPlant(t *testing.T) {
	f := newFakeEngine()
	f.identifyErr = resilience.ErrEmptyResult
	o, _ := newTestOrchestrator(f)
	sess := sessionWithImages("a")

	id, err := o.Identify(context.Background(), sess)
	require.NoError(t, err)
	require.Empty(t, id.Name)
	require.Equal(t, 1, f.count("identify"), "blank output is valid data, not retried")
	require.Equal(t, PhaseNoPlant, sess.Phase())
}

func TestIdentifyRequiresImages(t *testing.T) {
	f := newFakeEngine()
	o, _ := newTestOrchestrator(f)
	sess := NewSession("s1", "c1")

	_, err := o.Identify(context.Background(), sess)
	require.ErrorIs(t, err, ErrNoImages)
	require.Zero(t, f.count("identify"))
}

func TestGenerateQuestionsAssignsStableIDs(t *testing.T) {
	f := newFakeEngine()
	o, _ := newTestOrchestrator(f)
	sess := sessionWithImages("a")

	qs, err := o.GenerateQuestions(context.Background(), sess)
	require.NoError(t, err)
	require.Len(t, qs, 3)
	require.Equal(t, "q1", qs[0].ID)
	require.Equal(t, "q3", qs[2].ID)
	for _, q := range qs {
		require.Equal(t, QuestionYesNo, q.Type)
		require.True(t, q.Required)
	}
}

func TestGenerateQuestionsRejectsTooFew(t *testing.T) {
	f := newFakeEngine()
	f.questions = f.questions[:1]
	o, _ := newTestOrchestrator(f)
	sess := sessionWithImages("a")

	_, err := o.GenerateQuestions(context.Background(), sess)
	require.Error(t, err)
	require.Contains(t, err.Error(), "need at least 2")
	require.Equal(t, PhaseError, sess.Phase())
}

func TestGenerateQuestionsTrimsExcess(t *testing.T) {
	f := newFakeEngine()
	f.questions = []DiagnosticQuestion{
		{Question: "1?"}, {Question: "2?"}, {Question: "3?"},
		{Question: "4?"}, {Question: "5?"}, {Question: "6?"}, {Question: "7?"},
	}
	o, _ := newTestOrchestrator(f)
	sess := sessionWithImages("a")

	qs, err := o.GenerateQuestions(context.Background(), sess)
	require.NoError(t, err)
	require.Len(t, qs, 5)
}

func TestNoPlantMessageFetchedOncePerSignature(t *testing.T) {
	f := newFakeEngine()
	o, _ := newTestOrchestrator(f)
	sess := sessionWithImages("a")

	m1, err := o.NoPlantMessage(context.Background(), sess)
	require.NoError(t, err)
	m2, err := o.NoPlantMessage(context.Background(), sess)
	require.NoError(t, err)

	require.Equal(t, m1, m2)
	require.Equal(t, 1, f.count("noplant"))

	// A new image set gets a fresh message.
	o.ReplaceImages(sess, []Image{{ID: "b"}})
	_, err = o.NoPlantMessage(context.Background(), sess)
	require.NoError(t, err)
	require.Equal(t, 2, f.count("noplant"))
}

func TestDiagnoseHappyPath(t *testing.T) {
	f := newFakeEngine()
	o, costs := newTestOrchestrator(f)
	sess := sessionWithImages("a", "b")
	sess.commitIdentification(sess.CurrentSignature(), PlantIdentification{Name: "Monstera"})

	res, err := o.Diagnose(context.Background(), sess)
	require.NoError(t, err)
	require.Equal(t, "Overwatering", res.Primary.Condition)
	require.Equal(t, PhaseComplete, sess.Phase())

	require.Equal(t, 3, f.count("expert"), "all three experts run")
	require.Equal(t, 1, f.count("aggregate"))
	require.Equal(t, 1, f.count("final"))

	// expert x3 + aggregate + final
	require.Equal(t, 5, costs.Totals("c1").Calls)
}

func TestDiagnoseReturnsCachedResult(t *testing.T) {
	f := newFakeEngine()
	o, _ := newTestOrchestrator(f)
	sess := sessionWithImages("a")

	_, err := o.Diagnose(context.Background(), sess)
	require.NoError(t, err)

	res, err := o.Diagnose(context.Background(), sess)
	require.NoError(t, err)
	require.NotNil(t, res)
	require.Equal(t, 1, f.count("final"), "no second pipeline run for unchanged inputs")
}

func TestDiagnoseRerunsAfterAnswerChange(t *testing.T) {
	f := newFakeEngine()
	o, _ := newTestOrchestrator(f)
	sess := sessionWithImages("a")

	_, err := o.Diagnose(context.Background(), sess)
	require.NoError(t, err)

	// An answer change invalidates the result; the same image set must be
	// allowed to run again.
	sess.SetAnswer(DiagnosticAnswer{QuestionID: "q1", Answer: true})
	require.Nil(t, sess.Result())

	_, err = o.Diagnose(context.Background(), sess)
	require.NoError(t, err)
	require.Equal(t, 2, f.count("final"))
}

func TestDiagnoseExpertFailureFailsTheRun(t *testing.T) {
	f := newFakeEngine()
	f.expertText = func(v ExpertVariant) (string, error) {
		if v.Label == "balanced" {
			return "", errors.New("400 invalid argument")
		}
		return "Overwatering", nil
	}
	o, _ := newTestOrchestrator(f)
	sess := sessionWithImages("a")

	_, err := o.Diagnose(context.Background(), sess)
	require.Error(t, err)
	require.Nil(t, sess.Result())
	require.Equal(t, PhaseError, sess.Phase())
	require.Zero(t, f.count("final"))
}

func TestDiagnoseAggregateFallsBackToFrequencyRanking(t *testing.T) {
	f := newFakeEngine()
	f.aggregateErr = resilience.ErrEmptyResult
	o, _ := newTestOrchestrator(f)
	sess := sessionWithImages("a")

	res, err := o.Diagnose(context.Background(), sess)
	require.NoError(t, err)
	require.NotNil(t, res)
	require.Equal(t, 1, f.count("aggregate"), "empty aggregation output is not retried")

	// The final step received the deterministic frequency ranking built from
	// the expert texts, most agreed-upon condition first.
	require.Equal(t, "Overwatering, Root rot, Spider mites", f.lastFinal.RankedConditions)
}

func TestDiagnoseFinalContractFailure(t *testing.T) {
	f := newFakeEngine()
	f.finalResult.Primary.Confidence = "Very High"
	o, _ := newTestOrchestrator(f)
	sess := sessionWithImages("a")

	_, err := o.Diagnose(context.Background(), sess)
	require.Error(t, err)
	require.Contains(t, err.Error(), `not in {High, Medium, Low}`)
	require.Nil(t, sess.Result())
}

func TestDiagnoseSupersededByImageChange(t *testing.T) {
	f := newFakeEngine()
	o, _ := newTestOrchestrator(f)
	sess := sessionWithImages("a")
	f.onFinal = func() {
		o.ReplaceImages(sess, []Image{{ID: "z"}})
	}

	_, err := o.Diagnose(context.Background(), sess)
	require.ErrorIs(t, err, ErrRunSuperseded)
	require.True(t, IsAborted(err))
	require.Nil(t, sess.Result())
}

func TestDiagnoseThrottledBetweenAttempts(t *testing.T) {
	f := newFakeEngine()
	f.expertText = func(ExpertVariant) (string, error) {
		return "", errors.New("400 invalid argument")
	}
	// Real breaker configuration, call spacing included.
	o := NewOrchestrator(f, cost.NewTracker(), zap.NewNop())
	sess := sessionWithImages("a")

	_, err := o.Diagnose(context.Background(), sess)
	require.Error(t, err)

	// Immediate retry hits the initial breaker's call spacing, and the
	// throttle carries a wait hint for the caller.
	_, err = o.Diagnose(context.Background(), sess)
	wait, ok := resilience.WaitHint(err)
	require.True(t, ok)
	require.Greater(t, wait, 0*time.Second)
	require.Equal(t, 3, f.count("expert"), "throttled attempt made no new expert calls")
}
