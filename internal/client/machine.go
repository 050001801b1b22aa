package client

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"live-poll-service/internal/domain"
)

// State is the viewer's position in the answer flow.
type State string

const (
	StateLoading          State = "loading"
	StateAwaitingAnswer   State = "awaiting_answer"
	StateAnswerSelected   State = "answer_selected"
	StateSubmitting       State = "submitting"
	StateNoActiveQuestion State = "no_active_question"
	StateSessionEnded     State = "session_ended"
)

// ConnStatus reports the push channel's health.
type ConnStatus string

const (
	ConnDisabled     ConnStatus = "disabled"
	ConnConnecting   ConnStatus = "connecting"
	ConnConnected    ConnStatus = "connected"
	ConnDisconnected ConnStatus = "disconnected"
)

// Outcome tags how the last submission attempt resolved.
type Outcome string

const (
	OutcomeNone     Outcome = ""
	OutcomeSaved    Outcome = "saved"
	OutcomeFailed   Outcome = "failed"
	OutcomeTimedOut Outcome = "timed_out"
)

var (
	// ErrCannotSubmit is returned by BeginSubmit when submit is disabled.
	ErrCannotSubmit = errors.New("submit is disabled")
	// ErrNotSelectable is returned by Select outside of the answer states.
	ErrNotSelectable = errors.New("no question is open for answers")
)

// Snapshot is a copy of the machine's observable state.
type Snapshot struct {
	State      State
	Question   *domain.Question
	Selection  []int64
	Submitted  []int64
	Connection ConnStatus
	Outcome    Outcome
	Err        error
	Attempt    uint64
	CanSubmit  bool
}

// Machine holds one viewer's session state. All methods are safe for concurrent use.
type Machine struct {
	mu sync.Mutex

	state         State
	requireSocket bool
	conn          ConnStatus

	// lastActive is the last-known activeQuestionId used for compare-and-skip.
	lastActive *int64
	question   *domain.Question
	selection  []int64
	submitted  []int64

	attempt uint64
	outcome Outcome
	err     error
}

// NewMachine starts in Loading. With requireSocket set, submit is disabled while the
// push channel is down.
func NewMachine(requireSocket bool) *Machine {
	conn := ConnDisabled
	if requireSocket {
		conn = ConnConnecting
	}
	return &Machine{state: StateLoading, requireSocket: requireSocket, conn: conn}
}

// Observe applies a pulled register view. It reports whether the active question
// changed and the detail for questionID must be fetched.
func (m *Machine) Observe(view domain.ActiveQuestion) (questionID int64, changed bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state == StateSessionEnded {
		return 0, false
	}
	if view.Ended {
		m.endLocked()
		return 0, false
	}
	if view.ActiveQuestionID == nil {
		m.lastActive = nil
		m.question = nil
		m.selection = nil
		m.state = StateNoActiveQuestion
		return 0, false
	}
	if m.lastActive != nil && *m.lastActive == *view.ActiveQuestionID {
		return 0, false
	}

	id := *view.ActiveQuestionID
	m.lastActive = &id
	m.state = StateLoading
	return id, true
}

// QuestionLoaded installs fetched question detail. Detail for a question that is no
// longer the last-known active one is dropped.
func (m *Machine) QuestionLoaded(q domain.Question) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state == StateSessionEnded || m.lastActive == nil || *m.lastActive != q.ID {
		return false
	}
	if m.question == nil || m.question.ID != q.ID || m.question.Type != q.Type {
		m.selection = nil
		m.submitted = nil
		m.outcome = OutcomeNone
		m.err = nil
	}
	m.question = &q
	if m.state == StateSubmitting {
		return true
	}
	if len(m.selection) > 0 {
		m.state = StateAnswerSelected
	} else {
		m.state = StateAwaitingAnswer
	}
	return true
}

// ForgetActive clears the last-known value after a failed detail fetch so the next
// poll fetches again.
func (m *Machine) ForgetActive(questionID int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.lastActive != nil && *m.lastActive == questionID && m.state == StateLoading {
		m.lastActive = nil
	}
}

// Select applies one option click: MCQ replaces, MSQ toggles.
func (m *Machine) Select(optionID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.question == nil || (m.state != StateAwaitingAnswer && m.state != StateAnswerSelected) {
		return ErrNotSelectable
	}
	if !m.question.HasOption(optionID) {
		return fmt.Errorf("%w: option %d is not part of question %d", domain.ErrInvalidInput, optionID, m.question.ID)
	}

	switch m.question.Type {
	case domain.QuestionTypeMSQ:
		m.selection = toggle(m.selection, optionID)
	default:
		m.selection = []int64{optionID}
	}
	if len(m.selection) == 0 {
		m.state = StateAwaitingAnswer
	} else {
		m.state = StateAnswerSelected
	}
	return nil
}

// BeginSubmit moves to Submitting and returns a fresh attempt id with the ids to send.
func (m *Machine) BeginSubmit() (attempt uint64, questionID int64, optionIDs []int64, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.canSubmitLocked() {
		return 0, 0, nil, ErrCannotSubmit
	}
	m.attempt++
	m.state = StateSubmitting
	m.err = nil
	return m.attempt, m.question.ID, append([]int64(nil), m.selection...), nil
}

// SubmitSucceeded resolves attempt as saved. Stale attempts are ignored.
func (m *Machine) SubmitSucceeded(attempt uint64, responses []domain.Response) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.currentLocked(attempt) {
		return false
	}
	m.submitted = m.submitted[:0]
	for _, r := range responses {
		m.submitted = append(m.submitted, r.OptionID)
	}
	m.selection = nil
	m.outcome = OutcomeSaved
	m.state = StateAwaitingAnswer
	return true
}

// SubmitFailed resolves attempt as failed and re-enables submit.
func (m *Machine) SubmitFailed(attempt uint64, err error) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.currentLocked(attempt) {
		return false
	}
	m.outcome = OutcomeFailed
	m.err = err
	m.restoreAfterSubmitLocked()
	return true
}

// SubmitTimedOut resolves attempt after the bounded wait elapsed without an answer.
func (m *Machine) SubmitTimedOut(attempt uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.currentLocked(attempt) {
		return false
	}
	m.outcome = OutcomeTimedOut
	m.err = nil
	m.state = StateAwaitingAnswer
	return true
}

// SetConnection records the push channel status.
func (m *Machine) SetConnection(status ConnStatus) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.requireSocket {
		return
	}
	m.conn = status
}

// EndSession moves to the terminal SessionEnded state.
func (m *Machine) EndSession() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.endLocked()
}

func (m *Machine) Ended() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state == StateSessionEnded
}

// CanSubmit reports whether a submission may start now.
func (m *Machine) CanSubmit() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.canSubmitLocked()
}

func (m *Machine) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := Snapshot{
		State:      m.state,
		Selection:  append([]int64(nil), m.selection...),
		Submitted:  append([]int64(nil), m.submitted...),
		Connection: m.conn,
		Outcome:    m.outcome,
		Err:        m.err,
		Attempt:    m.attempt,
		CanSubmit:  m.canSubmitLocked(),
	}
	if m.question != nil {
		q := *m.question
		q.Options = append([]domain.Option(nil), m.question.Options...)
		snap.Question = &q
	}
	return snap
}

func (m *Machine) canSubmitLocked() bool {
	if m.question == nil || len(m.selection) == 0 {
		return false
	}
	if m.state != StateAnswerSelected && m.state != StateAwaitingAnswer {
		return false
	}
	if m.requireSocket && m.conn != ConnConnected {
		return false
	}
	return true
}

func (m *Machine) currentLocked(attempt uint64) bool {
	return attempt == m.attempt && m.state == StateSubmitting
}

func (m *Machine) restoreAfterSubmitLocked() {
	if len(m.selection) > 0 {
		m.state = StateAnswerSelected
	} else {
		m.state = StateAwaitingAnswer
	}
}

func (m *Machine) endLocked() {
	m.state = StateSessionEnded
	m.lastActive = nil
	m.question = nil
	m.selection = nil
}

func toggle(ids []int64, id int64) []int64 {
	out := make([]int64, 0, len(ids)+1)
	found := false
	for _, existing := range ids {
		if existing == id {
			found = true
			continue
		}
		out = append(out, existing)
	}
	if !found {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
