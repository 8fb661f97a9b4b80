package diagnose

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func conf(v float64) *float64 { return &v }

func populatedSession(t *testing.T) *Session {
	t.Helper()
	s := NewSession("s1", "c1")
	s.SetImages([]Image{{ID: "a"}, {ID: "b"}})
	require.True(t, s.commitIdentification(s.CurrentSignature(), PlantIdentification{Name: "Monstera", Confidence: conf(0.9)}))
	require.True(t, s.commitQuestions(s.CurrentSignature(), []DiagnosticQuestion{
		{ID: "q1", Question: "Yellow leaves?"},
		{ID: "q2", Question: "Soggy soil?"},
	}))
	s.SetAnswer(DiagnosticAnswer{QuestionID: "q1", Answer: true})
	s.SetComment("droopy for a week")
	require.True(t, s.commitResult(s.CurrentSignature(), DiagnosisResult{
		Plant:   "Monstera",
		Primary: Condition{Condition: "Overwatering", Confidence: ConfidenceHigh},
	}))
	return s
}

func TestImageChangeClearsEverything(t *testing.T) {
	s := populatedSession(t)

	_, changed := s.SetImages([]Image{{ID: "a"}, {ID: "b"}, {ID: "c"}})
	require.True(t, changed)

	require.Nil(t, s.Identification())
	require.Empty(t, s.Questions())
	require.Empty(t, s.Answers())
	require.Nil(t, s.Result())
	require.Empty(t, s.NoPlantMessage())
	require.Equal(t, PhaseIdle, s.Phase())
}

func TestSameImagesDoNotInvalidate(t *testing.T) {
	s := populatedSession(t)

	_, changed := s.SetImages([]Image{{ID: "a"}, {ID: "b"}})
	require.False(t, changed)
	require.NotNil(t, s.Result())
	require.NotNil(t, s.Identification())
}

func TestAnswerChangeClearsOnlyResult(t *testing.T) {
	s := populatedSession(t)

	s.SetAnswer(DiagnosticAnswer{QuestionID: "q1", Answer: false})

	require.Nil(t, s.Result())
	require.NotNil(t, s.Identification())
	require.Len(t, s.Questions(), 2)
	require.False(t, s.Answers()["q1"].Answer)
}

func TestCommentChangeClearsOnlyResult(t *testing.T) {
	s := populatedSession(t)

	s.SetComment("new detail")
	require.Nil(t, s.Result())
	require.NotNil(t, s.Identification())

	// Setting the identical comment again is not a change.
	require.True(t, s.commitResult(s.CurrentSignature(), DiagnosisResult{
		Plant:   "Monstera",
		Primary: Condition{Condition: "Overwatering", Confidence: ConfidenceHigh},
	}))
	s.SetComment("new detail")
	require.NotNil(t, s.Result())
}

func TestPlantNameEditInvalidatesNothing(t *testing.T) {
	s := populatedSession(t)

	s.SetPlantName("Monstera deliciosa")

	id := s.Identification()
	require.NotNil(t, id)
	require.Equal(t, "Monstera deliciosa", id.Name)
	require.NotNil(t, s.Result())
	require.Len(t, s.Questions(), 2)
}

func TestImageChangeAbortsInFlightRun(t *testing.T) {
	s := populatedSession(t)

	cancelled := false
	s.bindRun(func() { cancelled = true })
	s.SetImages([]Image{{ID: "z"}})
	require.True(t, cancelled)
}

func TestStaleCommitsAreDiscarded(t *testing.T) {
	s := NewSession("s1", "c1")
	s.SetImages([]Image{{ID: "a"}})
	oldSig := s.CurrentSignature()
	s.SetImages([]Image{{ID: "b"}})

	require.False(t, s.commitIdentification(oldSig, PlantIdentification{Name: "Fern"}))
	require.False(t, s.commitQuestions(oldSig, []DiagnosticQuestion{{ID: "q1"}}))
	require.False(t, s.commitResult(oldSig, DiagnosisResult{Plant: "Fern"}))
	_, ok := s.commitNoPlantMessage(oldSig, "nope")
	require.False(t, ok)

	require.Nil(t, s.Identification())
	require.Nil(t, s.Result())
}

func TestNoPlantMessageStoredOncePerSignature(t *testing.T) {
	s := NewSession("s1", "c1")
	s.SetImages([]Image{{ID: "a"}})
	sig := s.CurrentSignature()

	msg, ok := s.commitNoPlantMessage(sig, "first")
	require.True(t, ok)
	require.Equal(t, "first", msg)

	msg, ok = s.commitNoPlantMessage(sig, "second")
	require.True(t, ok)
	require.Equal(t, "first", msg)
}

func TestManagerGetOrCreate(t *testing.T) {
	m := NewManager()
	s1 := m.GetOrCreate("s1", "c1")
	s2 := m.GetOrCreate("s1", "c1")
	require.Same(t, s1, s2)

	m.Delete("s1")
	s3 := m.GetOrCreate("s1", "c1")
	require.NotSame(t, s1, s3)
}

func TestManagerGeneratesIDWhenEmpty(t *testing.T) {
	m := NewManager()
	s := m.GetOrCreate("", "c1")
	require.NotEmpty(t, s.ID)
}

func TestSnapshotRoundTrip(t *testing.T) {
	s := populatedSession(t)
	st := s.Snapshot()

	restored := RestoreSession(st)
	require.Equal(t, s.ID, restored.ID)
	require.Equal(t, s.CurrentSignature(), restored.CurrentSignature())
	require.Equal(t, "Monstera", restored.Identification().Name)
	require.Len(t, restored.Questions(), 2)
	require.Equal(t, "droopy for a week", restored.Comment())
	require.NotNil(t, restored.Result())
}
