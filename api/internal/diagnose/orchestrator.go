package diagnose

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"plant-debugger/api/internal/cost"
	"plant-debugger/api/internal/resilience"
)

var (
	// ErrRunInProgress means another run already holds the signature.
	ErrRunInProgress = errors.New("diagnosis run already in progress")

	// ErrRunSuperseded means the inputs changed while the run was in flight;
	// its results were discarded. Treated like an abort, not a user-visible error.
	ErrRunSuperseded = errors.New("diagnosis run superseded by newer inputs")
)

// IsAborted reports whether err represents cancellation rather than failure.
// Aborted runs reset state silently so the user can restart cleanly.
func IsAborted(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, ErrRunSuperseded)
}

const (
	minQuestions = 2
	maxQuestions = 5
)

// Orchestrator sequences the pipeline steps and applies the resilience layers:
// the retry executor inside each step call, and per-endpoint circuit breakers
// around the initial and final diagnosis steps. One instance is shared across
// requests.
type Orchestrator struct {
	engine Engine
	guard  *Guard
	costs  *cost.Tracker
	retry  resilience.RetryOptions

	// The final-diagnosis breaker is deliberately tighter on call spacing than
	// the initial one; it guards the most expensive call.
	initialBreaker *resilience.Breaker
	finalBreaker   *resilience.Breaker

	log *zap.Logger
}

func NewOrchestrator(engine Engine, costs *cost.Tracker, log *zap.Logger) *Orchestrator {
	return &Orchestrator{
		engine:         engine,
		guard:          NewGuard(),
		costs:          costs,
		initialBreaker: resilience.NewBreaker("initial-diagnosis", 2, 30*time.Second, 10*time.Second),
		finalBreaker:   resilience.NewBreaker("final-diagnosis", 2, 30*time.Second, 5*time.Second),
		log:            log,
	}
}

func (o *Orchestrator) Guard() *Guard { return o.guard }

// ReplaceImages swaps the session's image set. A signature change clears all
// derived state, aborts any in-flight run, and re-arms the dedup guard.
func (o *Orchestrator) ReplaceImages(sess *Session, images []Image) (string, bool) {
	sig, changed := sess.SetImages(images)
	if changed {
		o.guard.InvalidateCompleted()
	}
	return sig, changed
}

func (o *Orchestrator) recordUsage(sess *Session, u cost.Usage) {
	if u.PromptTokens == 0 && u.OutputTokens == 0 {
		return
	}
	o.costs.Record(sess.ClientID, u)
}

// Identify runs the identification step. An empty name is valid data meaning
// "no plant detected", so blank model output is not retried.
func (o *Orchestrator) Identify(ctx context.Context, sess *Session) (PlantIdentification, error) {
	images := sess.Images()
	if err := ValidateImages(images); err != nil {
		return PlantIdentification{}, err
	}
	sig := Signature(images)
	sess.setPhase(PhaseIdentifying)

	id, err := resilience.WithRetryAllowEmpty(ctx, "identify", o.retry,
		func(ctx context.Context) (PlantIdentification, error) {
			id, u, err := o.engine.Identify(ctx, images)
			o.recordUsage(sess, u)
			return id, err
		})
	if errors.Is(err, resilience.ErrEmptyResult) {
		id, err = PlantIdentification{}, nil
	}
	if err != nil {
		o.failPhase(sess, err)
		return PlantIdentification{}, err
	}
	if !sess.commitIdentification(sig, id) {
		return PlantIdentification{}, ErrRunSuperseded
	}
	o.log.Info("identification complete",
		zap.String("session", sess.ID),
		zap.String("plant", id.Name),
		zap.Bool("no_plant", id.Name == ""))
	return id, nil
}

// GenerateQuestions produces the clarifying questions with stable synthetic
// ids (q1, q2, ...). Fewer than two questions is a contract failure.
func (o *Orchestrator) GenerateQuestions(ctx context.Context, sess *Session) ([]DiagnosticQuestion, error) {
	images := sess.Images()
	if err := ValidateImages(images); err != nil {
		return nil, err
	}
	sig := Signature(images)
	plant := ""
	if id := sess.Identification(); id != nil {
		plant = id.Name
	}

	qs, err := resilience.WithRetry(ctx, "generate questions", o.retry,
		func(ctx context.Context) ([]DiagnosticQuestion, error) {
			qs, u, err := o.engine.Questions(ctx, images, plant)
			o.recordUsage(sess, u)
			return qs, err
		})
	if err != nil {
		o.failPhase(sess, err)
		return nil, err
	}
	if len(qs) < minQuestions {
		err := fmt.Errorf("question generation returned %d questions, need at least %d", len(qs), minQuestions)
		o.failPhase(sess, err)
		return nil, err
	}
	if len(qs) > maxQuestions {
		qs = qs[:maxQuestions]
	}
	for i := range qs {
		qs[i].ID = fmt.Sprintf("q%d", i+1)
		if qs[i].Type == "" {
			qs[i].Type = QuestionYesNo
		}
		qs[i].Required = true
	}
	if !sess.commitQuestions(sig, qs) {
		return nil, ErrRunSuperseded
	}
	return qs, nil
}

// NoPlantMessage fetches the "no plant detected" message exactly once per
// image signature; repeat triggers return the cached message.
func (o *Orchestrator) NoPlantMessage(ctx context.Context, sess *Session) (string, error) {
	images := sess.Images()
	if err := ValidateImages(images); err != nil {
		return "", err
	}
	if msg := sess.NoPlantMessage(); msg != "" {
		return msg, nil
	}

	sig := Signature(images)
	key := "noplant:" + sig
	if !o.guard.TryAcquire(key) {
		return "", ErrRunInProgress
	}
	defer o.guard.Release(key)

	// Re-check under the claim: a concurrent trigger may have won.
	if msg := sess.NoPlantMessage(); msg != "" {
		return msg, nil
	}

	msg, err := resilience.WithRetry(ctx, "no-plant message", o.retry,
		func(ctx context.Context) (string, error) {
			msg, u, err := o.engine.NoPlantMessage(ctx)
			o.recordUsage(sess, u)
			return msg, err
		})
	if err != nil {
		return "", err
	}
	msg, ok := sess.commitNoPlantMessage(sig, msg)
	if !ok {
		return "", ErrRunSuperseded
	}
	return msg, nil
}

// Diagnose runs the guarded initial → aggregate → final sequence for the
// session's current image set. At most one run per signature may be in flight
// process-wide; a completed, still-valid result also blocks a restart.
func (o *Orchestrator) Diagnose(ctx context.Context, sess *Session) (*DiagnosisResult, error) {
	images := sess.Images()
	if err := ValidateImages(images); err != nil {
		return nil, err
	}
	sig := Signature(images)

	if r := sess.Result(); r != nil {
		return r, nil
	}
	// No current result means any previously completed run for this signature
	// was invalidated (answers or comment changed), so it must not block a
	// fresh run.
	o.guard.ClearCompleted(sig)
	if !o.guard.TryAcquire(sig) {
		return nil, ErrRunInProgress
	}
	defer o.guard.Release(sig)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	sess.bindRun(cancel)
	defer sess.unbindRun()

	plant := ""
	if id := sess.Identification(); id != nil {
		plant = id.Name
	}

	sess.setPhase(PhaseDiagnosingInitial)
	texts, err := resilience.Call(o.initialBreaker, func() ([]string, error) {
		return o.runExperts(runCtx, sess, images, plant)
	})
	if err != nil {
		o.failPhase(sess, err)
		return nil, err
	}

	sess.setPhase(PhaseAggregating)
	ranked, err := o.aggregate(runCtx, sess, plant, texts)
	if err != nil {
		o.failPhase(sess, err)
		return nil, err
	}

	sess.setPhase(PhaseDiagnosingFinal)
	result, err := resilience.Call(o.finalBreaker, func() (DiagnosisResult, error) {
		return o.finalDiagnosis(runCtx, sess, images, plant, ranked)
	})
	if err != nil {
		o.failPhase(sess, err)
		return nil, err
	}

	if !sess.commitResult(sig, result) {
		// Inputs changed while the run was in flight; the result is stale.
		return nil, ErrRunSuperseded
	}
	o.guard.MarkCompleted(sig)
	o.log.Info("diagnosis complete",
		zap.String("session", sess.ID),
		zap.String("plant", result.Plant),
		zap.String("primary", result.Primary.Condition),
		zap.String("confidence", string(result.Primary.Confidence)))
	return &result, nil
}

// runExperts issues the three expert calls concurrently. All three must
// succeed; any permanent failure or cancellation fails the step as a unit.
func (o *Orchestrator) runExperts(ctx context.Context, sess *Session, images []Image, plant string) ([]string, error) {
	var texts [3]string
	g, gctx := errgroup.WithContext(ctx)
	for i, variant := range ExpertVariants {
		g.Go(func() error {
			txt, err := resilience.WithRetry(gctx, "initial diagnosis ("+variant.Label+")", o.retry,
				func(ctx context.Context) (string, error) {
					txt, u, err := o.engine.InitialDiagnosis(ctx, images, plant, variant)
					o.recordUsage(sess, u)
					return txt, err
				})
			if err != nil {
				return err
			}
			texts[i] = txt
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return texts[:], nil
}

// aggregate asks the model for a consensus ranking of the expert findings.
// Ranking is model-driven; the deterministic frequency fallback only kicks in
// when the model yields nothing usable.
func (o *Orchestrator) aggregate(ctx context.Context, sess *Session, plant string, texts []string) (string, error) {
	raw, err := resilience.WithRetryAllowEmpty(ctx, "aggregate diagnosis", o.retry,
		func(ctx context.Context) (string, error) {
			raw, u, err := o.engine.Aggregate(ctx, plant, texts)
			o.recordUsage(sess, u)
			return raw, err
		})
	if err != nil && !errors.Is(err, resilience.ErrEmptyResult) {
		return "", err
	}
	var conditions []string
	if err == nil {
		conditions = ParseRankedList(raw, maxRankedConditions)
	}
	if len(conditions) == 0 {
		conditions = RankConditions(texts, maxRankedConditions)
	}
	if len(conditions) == 0 {
		return "", fmt.Errorf("aggregation produced no conditions")
	}
	return strings.Join(conditions, ", "), nil
}

func (o *Orchestrator) finalDiagnosis(ctx context.Context, sess *Session, images []Image, plant, ranked string) (DiagnosisResult, error) {
	in := FinalInput{
		Plant:            plant,
		RankedConditions: ranked,
		Transcript:       o.transcript(sess),
		Comment:          sess.Comment(),
	}
	result, err := resilience.WithRetry(ctx, "final diagnosis", o.retry,
		func(ctx context.Context) (DiagnosisResult, error) {
			r, u, err := o.engine.FinalDiagnosis(ctx, images, in)
			o.recordUsage(sess, u)
			return r, err
		})
	if err != nil {
		return DiagnosisResult{}, err
	}
	if err := validateResult(&result); err != nil {
		return DiagnosisResult{}, err
	}
	if result.Plant == "" {
		result.Plant = plant
	}
	return result, nil
}

// transcript renders the question/answer history, one line per question.
func (o *Orchestrator) transcript(sess *Session) []AnsweredQuestion {
	questions := sess.Questions()
	answers := sess.Answers()
	out := make([]AnsweredQuestion, 0, len(questions))
	for _, q := range questions {
		aq := AnsweredQuestion{Question: q.Question, Answer: "skipped"}
		if a, ok := answers[q.ID]; ok && !a.Skipped {
			if a.Answer {
				aq.Answer = "yes"
			} else {
				aq.Answer = "no"
			}
		}
		out = append(out, aq)
	}
	return out
}

// failPhase applies the failure semantics: aborts reset state silently so the
// run can restart; other errors land in the error phase with a retry
// affordance. Either way no stuck "in progress" flag remains.
func (o *Orchestrator) failPhase(sess *Session, err error) {
	if IsAborted(err) {
		sess.setPhase(PhaseIdle)
		return
	}
	sess.setPhase(PhaseError)
	o.log.Warn("pipeline step failed", zap.String("session", sess.ID), zap.Error(err))
}
