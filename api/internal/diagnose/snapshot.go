package diagnose

// SessionState is the serializable snapshot of a session, persisted as a JSON
// blob and reconstructed into a usable session on load.
type SessionState struct {
	ID             string                      `json:"id"`
	ClientID       string                      `json:"client_id"`
	Images         []Image                     `json:"images,omitempty"`
	Identification *PlantIdentification        `json:"identification,omitempty"`
	Questions      []DiagnosticQuestion        `json:"questions,omitempty"`
	Answers        map[string]DiagnosticAnswer `json:"answers,omitempty"`
	Comment        string                      `json:"comment,omitempty"`
	NoPlantMessage string                      `json:"no_plant_message,omitempty"`
	Result         *DiagnosisResult            `json:"result,omitempty"`
	Phase          Phase                       `json:"phase"`
}

func (s *Session) Snapshot() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := SessionState{
		ID:             s.ID,
		ClientID:       s.ClientID,
		Images:         append([]Image(nil), s.images...),
		Questions:      append([]DiagnosticQuestion(nil), s.questions...),
		Answers:        make(map[string]DiagnosticAnswer, len(s.answers)),
		Comment:        s.comment,
		NoPlantMessage: s.noPlantMessage,
		Phase:          s.phase,
	}
	for k, v := range s.answers {
		st.Answers[k] = v
	}
	if s.identification != nil {
		cp := *s.identification
		st.Identification = &cp
	}
	if s.result != nil {
		cp := *s.result
		st.Result = &cp
	}
	return st
}

// RestoreSession rebuilds a session from a persisted snapshot.
func RestoreSession(st SessionState) *Session {
	s := NewSession(st.ID, st.ClientID)
	s.images = append([]Image(nil), st.Images...)
	s.questions = append([]DiagnosticQuestion(nil), st.Questions...)
	for k, v := range st.Answers {
		s.answers[k] = v
	}
	s.comment = st.Comment
	s.noPlantMessage = st.NoPlantMessage
	if st.Identification != nil {
		cp := *st.Identification
		s.identification = &cp
	}
	if st.Result != nil {
		cp := *st.Result
		s.result = &cp
	}
	if st.Phase != "" {
		s.phase = st.Phase
	}
	return s
}
