package client

import (
	"errors"
	"testing"

	"live-poll-service/internal/domain"
)

func ptr(id int64) *int64 { return &id }

func question(id int64, qType domain.QuestionType, optionIDs ...int64) domain.Question {
	q := domain.Question{ID: id, SessionID: 1, Text: "q", Type: qType}
	for _, oid := range optionIDs {
		q.Options = append(q.Options, domain.Option{ID: oid, QuestionID: id, Text: "o"})
	}
	return q
}

func loaded(t *testing.T, m *Machine, q domain.Question) {
	t.Helper()
	id, changed := m.Observe(domain.ActiveQuestion{ActiveQuestionID: ptr(q.ID), TotalQuestions: 2})
	if !changed || id != q.ID {
		t.Fatalf("expected change to %d, got %d %v", q.ID, id, changed)
	}
	if !m.QuestionLoaded(q) {
		t.Fatalf("question %d not installed", q.ID)
	}
}

func TestObserveComparesAndSkips(t *testing.T) {
	m := NewMachine(false)
	if m.Snapshot().State != StateLoading {
		t.Fatalf("expected loading start state")
	}

	view := domain.ActiveQuestion{ActiveQuestionID: ptr(7)}
	if _, changed := m.Observe(view); !changed {
		t.Fatalf("first observation must report a change")
	}
	if _, changed := m.Observe(view); changed {
		t.Fatalf("same active id must be skipped")
	}

	if _, changed := m.Observe(domain.ActiveQuestion{}); changed {
		t.Fatalf("nil active id is not a fetchable change")
	}
	if m.Snapshot().State != StateNoActiveQuestion {
		t.Fatalf("expected no_active_question, got %s", m.Snapshot().State)
	}

	if _, changed := m.Observe(view); !changed {
		t.Fatalf("a pointer set after no_active_question must be fetched")
	}
}

func TestStaleDetailDropped(t *testing.T) {
	m := NewMachine(false)
	m.Observe(domain.ActiveQuestion{ActiveQuestionID: ptr(1)})
	m.Observe(domain.ActiveQuestion{ActiveQuestionID: ptr(2)})
	if m.QuestionLoaded(question(1, domain.QuestionTypeMCQ, 10, 11)) {
		t.Fatalf("detail for a superseded question must be dropped")
	}
	if !m.QuestionLoaded(question(2, domain.QuestionTypeMCQ, 20, 21)) {
		t.Fatalf("detail for the active question must be installed")
	}
	if m.Snapshot().State != StateAwaitingAnswer {
		t.Fatalf("expected awaiting_answer, got %s", m.Snapshot().State)
	}
}

func TestMCQSelectionReplaces(t *testing.T) {
	m := NewMachine(false)
	loaded(t, m, question(1, domain.QuestionTypeMCQ, 10, 11))

	if err := m.Select(10); err != nil {
		t.Fatalf("select: %v", err)
	}
	if err := m.Select(11); err != nil {
		t.Fatalf("select: %v", err)
	}
	snap := m.Snapshot()
	if snap.State != StateAnswerSelected || len(snap.Selection) != 1 || snap.Selection[0] != 11 {
		t.Fatalf("expected single selection [11], got %+v", snap)
	}
	if err := m.Select(99); !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("expected invalid input for foreign option, got %v", err)
	}
}

func TestMSQSelectionToggles(t *testing.T) {
	m := NewMachine(false)
	loaded(t, m, question(1, domain.QuestionTypeMSQ, 10, 11, 12))

	for _, id := range []int64{12, 10, 11, 11} {
		if err := m.Select(id); err != nil {
			t.Fatalf("select %d: %v", id, err)
		}
	}
	snap := m.Snapshot()
	if len(snap.Selection) != 2 || snap.Selection[0] != 10 || snap.Selection[1] != 12 {
		t.Fatalf("expected [10 12], got %v", snap.Selection)
	}

	_ = m.Select(10)
	_ = m.Select(12)
	snap = m.Snapshot()
	if snap.State != StateAwaitingAnswer || snap.CanSubmit {
		t.Fatalf("empty set must disable submit, got %+v", snap)
	}
}

func TestQuestionTypeChangeResetsSelection(t *testing.T) {
	m := NewMachine(false)
	loaded(t, m, question(1, domain.QuestionTypeMSQ, 10, 11))
	_ = m.Select(10)
	_ = m.Select(11)

	// same question reloaded with a different type
	if !m.QuestionLoaded(question(1, domain.QuestionTypeMCQ, 10, 11)) {
		t.Fatalf("reload not installed")
	}
	if snap := m.Snapshot(); len(snap.Selection) != 0 || snap.State != StateAwaitingAnswer {
		t.Fatalf("type change must reset selection, got %+v", snap)
	}

	_ = m.Select(10)
	loaded(t, m, question(2, domain.QuestionTypeMCQ, 20, 21))
	if snap := m.Snapshot(); len(snap.Selection) != 0 {
		t.Fatalf("new question must start with an empty selection, got %v", snap.Selection)
	}
}

func TestSubmitLifecycle(t *testing.T) {
	m := NewMachine(false)
	loaded(t, m, question(1, domain.QuestionTypeMCQ, 10, 11))

	if _, _, _, err := m.BeginSubmit(); !errors.Is(err, ErrCannotSubmit) {
		t.Fatalf("submit without selection must be disabled, got %v", err)
	}
	_ = m.Select(11)

	attempt, qID, ids, err := m.BeginSubmit()
	if err != nil || qID != 1 || len(ids) != 1 || ids[0] != 11 {
		t.Fatalf("begin submit: %d %v %v", qID, ids, err)
	}
	if m.CanSubmit() {
		t.Fatalf("submit must be disabled while in flight")
	}
	if err := m.Select(10); !errors.Is(err, ErrNotSelectable) {
		t.Fatalf("selection must be frozen while submitting, got %v", err)
	}

	if !m.SubmitSucceeded(attempt, []domain.Response{{UserID: 2, QuestionID: 1, OptionID: 11}}) {
		t.Fatalf("current attempt must resolve")
	}
	snap := m.Snapshot()
	if snap.State != StateAwaitingAnswer || snap.Outcome != OutcomeSaved || len(snap.Submitted) != 1 {
		t.Fatalf("unexpected state after success %+v", snap)
	}
	if m.SubmitSucceeded(attempt, nil) {
		t.Fatalf("an attempt resolves once")
	}
}

func TestSubmitFailureAndTimeout(t *testing.T) {
	m := NewMachine(false)
	loaded(t, m, question(1, domain.QuestionTypeMCQ, 10, 11))
	_ = m.Select(10)

	attempt, _, _, _ := m.BeginSubmit()
	m.SubmitFailed(attempt, errors.New("boom"))
	snap := m.Snapshot()
	if snap.State != StateAnswerSelected || snap.Outcome != OutcomeFailed || !snap.CanSubmit {
		t.Fatalf("failure must re-enable submit, got %+v", snap)
	}

	attempt, _, _, _ = m.BeginSubmit()
	if !m.SubmitTimedOut(attempt) {
		t.Fatalf("timeout must resolve the attempt")
	}
	snap = m.Snapshot()
	if snap.State != StateAwaitingAnswer || snap.Outcome != OutcomeTimedOut || !snap.CanSubmit {
		t.Fatalf("timeout must return to awaiting_answer with submit enabled, got %+v", snap)
	}

	// a late reply for the timed-out attempt is ignored
	if m.SubmitSucceeded(attempt, nil) {
		t.Fatalf("late reply must be ignored")
	}
}

func TestQuestionChangeDuringSubmitDropsReply(t *testing.T) {
	m := NewMachine(false)
	loaded(t, m, question(1, domain.QuestionTypeMCQ, 10, 11))
	_ = m.Select(10)
	attempt, _, _, _ := m.BeginSubmit()

	m.Observe(domain.ActiveQuestion{ActiveQuestionID: ptr(2)})
	if m.SubmitSucceeded(attempt, nil) {
		t.Fatalf("reply after the question moved on must be ignored")
	}
	if m.Snapshot().State != StateLoading {
		t.Fatalf("expected loading, got %s", m.Snapshot().State)
	}
}

func TestSocketGatesSubmit(t *testing.T) {
	m := NewMachine(true)
	loaded(t, m, question(1, domain.QuestionTypeMCQ, 10, 11))
	_ = m.Select(10)

	if m.CanSubmit() {
		t.Fatalf("submit must wait for the socket")
	}
	m.SetConnection(ConnConnected)
	if !m.CanSubmit() {
		t.Fatalf("connected socket must enable submit")
	}
	m.SetConnection(ConnDisconnected)
	if m.CanSubmit() {
		t.Fatalf("socket loss must disable submit")
	}
}

func TestSessionEndedIsTerminal(t *testing.T) {
	m := NewMachine(false)
	loaded(t, m, question(1, domain.QuestionTypeMCQ, 10, 11))

	m.Observe(domain.ActiveQuestion{Ended: true})
	if !m.Ended() {
		t.Fatalf("expected session_ended")
	}
	if _, changed := m.Observe(domain.ActiveQuestion{ActiveQuestionID: ptr(3)}); changed {
		t.Fatalf("ended session must not leave the terminal state")
	}
	if err := m.Select(10); !errors.Is(err, ErrNotSelectable) {
		t.Fatalf("expected not selectable, got %v", err)
	}
}
