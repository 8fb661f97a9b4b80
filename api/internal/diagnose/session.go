package diagnose

import (
	"sync"

	"github.com/google/uuid"
)

// Session owns the diagnosis domain state for one logical user session. All
// mutation goes through methods so the invalidation rules hold:
//
//   - changing the image set clears identification, questions, answers,
//     no-plant message, and result together, and abandons any in-flight run;
//   - changing an answer or the free-text comment clears only the result;
//   - editing the plant name overwrites the identification's name without
//     invalidating anything downstream.
type Session struct {
	mu sync.Mutex

	ID       string
	ClientID string

	images         []Image
	identification *PlantIdentification
	questions      []DiagnosticQuestion
	answers        map[string]DiagnosticAnswer
	comment        string
	noPlantMessage string
	result         *DiagnosisResult
	phase          Phase

	cancel func() // cancels the in-flight run, if any
}

func NewSession(id, clientID string) *Session {
	if id == "" {
		id = uuid.NewString()
	}
	return &Session{
		ID:       id,
		ClientID: clientID,
		answers:  make(map[string]DiagnosticAnswer),
		phase:    PhaseIdle,
	}
}

// SetImages replaces the image set. When the signature changes, all derived
// state is cleared atomically and any in-flight run for the old signature is
// aborted. Returns the new signature and whether it changed.
func (s *Session) SetImages(images []Image) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	newSig := Signature(images)
	if newSig == Signature(s.images) {
		s.images = images
		return newSig, false
	}

	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.images = images
	s.identification = nil
	s.questions = nil
	s.answers = make(map[string]DiagnosticAnswer)
	s.noPlantMessage = ""
	s.result = nil
	s.phase = PhaseIdle
	return newSig, true
}

func (s *Session) Images() []Image {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Image(nil), s.images...)
}

func (s *Session) CurrentSignature() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Signature(s.images)
}

// SetAnswer records one answer. Any mutation invalidates a previously computed
// diagnosis, forcing the final step to re-run.
func (s *Session) SetAnswer(a DiagnosticAnswer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.answers[a.QuestionID] = a
	s.result = nil
}

// SetComment updates the free-text comment; a change invalidates the result.
func (s *Session) SetComment(comment string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.comment == comment {
		return
	}
	s.comment = comment
	s.result = nil
}

// SetPlantName applies a manual edit of the identified name. Nothing
// downstream is invalidated.
func (s *Session) SetPlantName(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.identification == nil {
		s.identification = &PlantIdentification{}
	}
	s.identification.Name = name
}

func (s *Session) Identification() *PlantIdentification {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.identification == nil {
		return nil
	}
	cp := *s.identification
	return &cp
}

func (s *Session) Questions() []DiagnosticQuestion {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]DiagnosticQuestion(nil), s.questions...)
}

func (s *Session) Answers() map[string]DiagnosticAnswer {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]DiagnosticAnswer, len(s.answers))
	for k, v := range s.answers {
		out[k] = v
	}
	return out
}

func (s *Session) Comment() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.comment
}

func (s *Session) NoPlantMessage() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.noPlantMessage
}

func (s *Session) Result() *DiagnosisResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.result == nil {
		return nil
	}
	cp := *s.result
	return &cp
}

func (s *Session) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

func (s *Session) setPhase(p Phase) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.phase = p
}

// bindRun attaches the run's cancel func so an image change can abort it.
func (s *Session) bindRun(cancel func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancel = cancel
}

func (s *Session) unbindRun() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancel = nil
}

// commitIdentification stores the identification only when the signature still
// matches; stale results from an abandoned run are discarded.
func (s *Session) commitIdentification(sig string, id PlantIdentification) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if Signature(s.images) != sig {
		return false
	}
	s.identification = &id
	if id.Name == "" {
		s.phase = PhaseNoPlant
	}
	return true
}

func (s *Session) commitQuestions(sig string, qs []DiagnosticQuestion) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if Signature(s.images) != sig {
		return false
	}
	s.questions = qs
	s.phase = PhaseAwaitingAnswers
	return true
}

// commitNoPlantMessage stores the message once per signature; a message that
// already exists for the signature wins.
func (s *Session) commitNoPlantMessage(sig, msg string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if Signature(s.images) != sig {
		return "", false
	}
	if s.noPlantMessage != "" {
		return s.noPlantMessage, true
	}
	s.noPlantMessage = msg
	return msg, true
}

func (s *Session) commitResult(sig string, r DiagnosisResult) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if Signature(s.images) != sig {
		return false
	}
	s.result = &r
	s.phase = PhaseComplete
	return true
}

// Manager hands out sessions keyed by session id, shared across requests
// within the process.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*Session
}

func NewManager() *Manager {
	return &Manager{sessions: make(map[string]*Session)}
}

func (m *Manager) GetOrCreate(id, clientID string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[id]; ok {
		if s.ClientID == "" || s.ClientID == "unknown" {
			s.ClientID = clientID
		}
		return s
	}
	s := NewSession(id, clientID)
	m.sessions[s.ID] = s
	return s
}

func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	return s, ok
}

func (m *Manager) Delete(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
}

// Put registers a session restored from the persistent store.
func (m *Manager) Put(s *Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.ID] = s
}
