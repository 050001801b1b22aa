package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"live-poll-service/internal/domain"
)

const wildcardText = "Wildcard question"

var wildcardOptionLabels = []string{"A", "B", "C", "D"}

// GetActiveQuestion returns the session's active question pointer and progress.
func (s *PollService) GetActiveQuestion(ctx context.Context, sessionID int64) (domain.ActiveQuestion, error) {
	session, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return domain.ActiveQuestion{}, err
	}
	total, err := s.store.CountQuestions(ctx, sessionID)
	if err != nil {
		return domain.ActiveQuestion{}, err
	}

	view := domain.ActiveQuestion{TotalQuestions: total, Ended: !session.Open()}
	if session.ActiveQuestionID == nil {
		return view, nil
	}
	activeID := *session.ActiveQuestionID
	view.ActiveQuestionID = &activeID

	q, err := s.questions.GetQuestion(ctx, activeID)
	switch {
	case err == nil:
		position := q.Position
		view.Position = &position
	case errors.Is(err, domain.ErrQuestionNotFound):
		// pointer outlived its question; report it without progress
	default:
		return domain.ActiveQuestion{}, err
	}
	return view, nil
}

// SetActiveQuestion moves the session's pointer to questionID and broadcasts the change.
func (s *PollService) SetActiveQuestion(ctx context.Context, sessionID, questionID, requesterID int64) (domain.Session, error) {
	unlock := s.locks.Lock(sessionKey(sessionID))
	defer unlock()

	session, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return domain.Session{}, err
	}
	if err := s.authorizeLecturer(ctx, session.CourseID, requesterID); err != nil {
		return domain.Session{}, err
	}
	if !session.Open() {
		return domain.Session{}, fmt.Errorf("%w: session %d has ended", domain.ErrInvalidState, sessionID)
	}

	q, err := s.questions.GetQuestion(ctx, questionID)
	if errors.Is(err, domain.ErrQuestionNotFound) {
		return domain.Session{}, fmt.Errorf("%w: question %d does not exist", domain.ErrInvalidState, questionID)
	}
	if err != nil {
		return domain.Session{}, err
	}
	if q.SessionID != sessionID {
		return domain.Session{}, fmt.Errorf("%w: question %d does not belong to session %d", domain.ErrInvalidState, questionID, sessionID)
	}
	return s.activateLocked(ctx, session, questionID)
}

// AdvanceQuestion activates the question following the active one by position.
// It returns domain.ErrEndOfSession when the active question is the last one.
func (s *PollService) AdvanceQuestion(ctx context.Context, sessionID, requesterID int64) (domain.Session, error) {
	unlock := s.locks.Lock(sessionKey(sessionID))
	defer unlock()

	session, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return domain.Session{}, err
	}
	if err := s.authorizeLecturer(ctx, session.CourseID, requesterID); err != nil {
		return domain.Session{}, err
	}
	if !session.Open() {
		return domain.Session{}, fmt.Errorf("%w: session %d has ended", domain.ErrInvalidState, sessionID)
	}

	questions, err := s.store.ListQuestions(ctx, sessionID)
	if err != nil {
		return domain.Session{}, err
	}
	if len(questions) == 0 {
		return domain.Session{}, fmt.Errorf("%w: session %d has no questions", domain.ErrInvalidState, sessionID)
	}
	next, ok := nextQuestion(questions, session.ActiveQuestionID)
	if !ok {
		return domain.Session{}, domain.ErrEndOfSession
	}
	return s.activateLocked(ctx, session, next.ID)
}

// OpenSession returns today's open session for the course, creating it if needed,
// and activates its first question when none is active yet.
func (s *PollService) OpenSession(ctx context.Context, courseID, requesterID int64) (domain.Session, error) {
	if err := s.authorizeLecturer(ctx, courseID, requesterID); err != nil {
		return domain.Session{}, err
	}

	unlockCourse := s.locks.Lock(courseKey(courseID))
	defer unlockCourse()

	session, unlock, err := s.lockTodaySession(ctx, courseID)
	if err != nil {
		return domain.Session{}, err
	}
	defer unlock()
	return s.ensureDefaultActiveLocked(ctx, session)
}

// EndSession runs the end-of-poll action: sets the end time and clears the pointer.
func (s *PollService) EndSession(ctx context.Context, sessionID, requesterID int64) (domain.Session, error) {
	unlock := s.locks.Lock(sessionKey(sessionID))
	defer unlock()

	session, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return domain.Session{}, err
	}
	if err := s.authorizeLecturer(ctx, session.CourseID, requesterID); err != nil {
		return domain.Session{}, err
	}
	if !session.Open() {
		return session, nil
	}

	end := s.now()
	if err := s.store.EndSession(ctx, sessionID, end); err != nil {
		return domain.Session{}, err
	}
	session.EndTime = &end
	session.ActiveQuestionID = nil

	s.log.Info().Int64("session_id", sessionID).Msg("Session ended")
	s.notify(domain.Event{Type: domain.EventSessionEnded, SessionID: sessionID})
	return session, nil
}

// CreateQuestion appends a question to the course's session for today. The session
// is created implicitly when the lecturer has not opened one yet.
func (s *PollService) CreateQuestion(ctx context.Context, courseID, requesterID int64, nq domain.NewQuestion) (domain.Question, error) {
	if err := validateNewQuestion(nq); err != nil {
		return domain.Question{}, err
	}
	if err := s.authorizeLecturer(ctx, courseID, requesterID); err != nil {
		return domain.Question{}, err
	}

	unlockCourse := s.locks.Lock(courseKey(courseID))
	defer unlockCourse()

	session, unlock, err := s.lockTodaySession(ctx, courseID)
	if err != nil {
		return domain.Question{}, err
	}
	defer unlock()

	count, err := s.store.CountQuestions(ctx, session.ID)
	if err != nil {
		return domain.Question{}, err
	}
	q, err := s.store.InsertQuestion(ctx, session.ID, count, nq)
	if err != nil {
		return domain.Question{}, err
	}
	if _, err := s.ensureDefaultActiveLocked(ctx, session); err != nil {
		return domain.Question{}, err
	}
	return q, nil
}

// CreateWildcardQuestion inserts an ad-hoc question with placeholder options at position.
// Questions at or after position shift right by one; position is clamped to the end.
func (s *PollService) CreateWildcardQuestion(ctx context.Context, sessionID, requesterID int64, position int, qType domain.QuestionType) (domain.Question, error) {
	if !qType.Valid() {
		return domain.Question{}, fmt.Errorf("%w: unknown question type %q", domain.ErrInvalidInput, qType)
	}
	if position < 0 {
		return domain.Question{}, fmt.Errorf("%w: position must not be negative", domain.ErrInvalidInput)
	}

	unlock := s.locks.Lock(sessionKey(sessionID))
	defer unlock()

	session, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return domain.Question{}, err
	}
	if err := s.authorizeLecturer(ctx, session.CourseID, requesterID); err != nil {
		return domain.Question{}, err
	}
	if !session.Open() {
		return domain.Question{}, fmt.Errorf("%w: session %d has ended", domain.ErrInvalidState, sessionID)
	}

	existing, err := s.store.ListQuestions(ctx, sessionID)
	if err != nil {
		return domain.Question{}, err
	}
	if position > len(existing) {
		position = len(existing)
	}

	q, err := s.store.InsertQuestion(ctx, sessionID, position, wildcardQuestion(qType))
	if err != nil {
		return domain.Question{}, err
	}

	shifted := make([]int64, 0, len(existing))
	for _, e := range existing {
		if e.Position >= position {
			shifted = append(shifted, e.ID)
		}
	}
	s.questions.Invalidate(ctx, shifted...)

	if _, err := s.ensureDefaultActiveLocked(ctx, session); err != nil {
		return domain.Question{}, err
	}
	s.log.Info().
		Int64("session_id", sessionID).
		Int64("question_id", q.ID).
		Int("position", position).
		Msg("Wildcard question inserted")
	return q, nil
}

// QuestionForViewer returns the question with correctness flags only for the course lecturer.
func (s *PollService) QuestionForViewer(ctx context.Context, questionID, viewerID int64) (domain.Question, error) {
	q, err := s.questions.GetQuestion(ctx, questionID)
	if err != nil {
		return domain.Question{}, err
	}
	lecturer, err := s.viewerIsLecturer(ctx, q.SessionID, viewerID)
	if err != nil {
		return domain.Question{}, err
	}
	if lecturer {
		return q, nil
	}
	return q.Redacted(), nil
}

// SessionQuestionsForViewer lists the session's questions ordered by position.
func (s *PollService) SessionQuestionsForViewer(ctx context.Context, sessionID, viewerID int64) ([]domain.Question, error) {
	if _, err := s.store.GetSession(ctx, sessionID); err != nil {
		return nil, err
	}
	questions, err := s.store.ListQuestions(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	lecturer, err := s.viewerIsLecturer(ctx, sessionID, viewerID)
	if err != nil {
		return nil, err
	}
	if !lecturer {
		for i := range questions {
			questions[i] = questions[i].Redacted()
		}
	}
	return questions, nil
}

func (s *PollService) viewerIsLecturer(ctx context.Context, sessionID, viewerID int64) (bool, error) {
	if viewerID <= 0 {
		return false, nil
	}
	return s.IsLecturer(ctx, sessionID, viewerID)
}

func (s *PollService) todaySession(ctx context.Context, courseID int64) (domain.Session, error) {
	now := s.now()
	from := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	to := from.AddDate(0, 0, 1)

	session, err := s.store.FindOpenSession(ctx, courseID, from, to)
	if err == nil {
		return session, nil
	}
	if !errors.Is(err, domain.ErrSessionNotFound) {
		return domain.Session{}, err
	}

	session, err = s.store.CreateSession(ctx, courseID, now)
	if err != nil {
		return domain.Session{}, err
	}
	s.log.Info().
		Int64("course_id", courseID).
		Int64("session_id", session.ID).
		Msg("Session opened")
	return session, nil
}

// lockTodaySession finds or creates today's session and returns it re-read under its
// session lock. EndSession only takes the session lock, so a session found under the
// course lock may have ended before the session lock was acquired; that one is skipped
// and today's lookup runs again. The caller must hold the course lock.
func (s *PollService) lockTodaySession(ctx context.Context, courseID int64) (domain.Session, func(), error) {
	const attempts = 3
	for i := 0; i < attempts; i++ {
		found, err := s.todaySession(ctx, courseID)
		if err != nil {
			return domain.Session{}, nil, err
		}
		unlock := s.locks.Lock(sessionKey(found.ID))
		session, err := s.store.GetSession(ctx, found.ID)
		if err != nil {
			unlock()
			return domain.Session{}, nil, err
		}
		if session.Open() {
			return session, unlock, nil
		}
		unlock()
		s.log.Debug().
			Int64("course_id", courseID).
			Int64("session_id", found.ID).
			Msg("Session ended while opening; retrying")
	}
	return domain.Session{}, nil, fmt.Errorf("%w: course %d sessions keep ending while opening", domain.ErrInvalidState, courseID)
}

// ensureDefaultActiveLocked activates the first question of an open session with no pointer.
func (s *PollService) ensureDefaultActiveLocked(ctx context.Context, session domain.Session) (domain.Session, error) {
	if !session.Open() || session.ActiveQuestionID != nil {
		return session, nil
	}
	questions, err := s.store.ListQuestions(ctx, session.ID)
	if err != nil {
		return domain.Session{}, err
	}
	first, ok := nextQuestion(questions, nil)
	if !ok {
		return session, nil
	}
	return s.activateLocked(ctx, session, first.ID)
}

// activateLocked persists the pointer, then broadcasts. A broadcast never undoes the write.
func (s *PollService) activateLocked(ctx context.Context, session domain.Session, questionID int64) (domain.Session, error) {
	id := questionID
	if err := s.store.SetActiveQuestion(ctx, session.ID, &id); err != nil {
		return domain.Session{}, err
	}
	session.ActiveQuestionID = &id

	s.log.Info().
		Int64("session_id", session.ID).
		Int64("question_id", questionID).
		Msg("Active question changed")
	s.notify(domain.Event{Type: domain.EventQuestionChanged, SessionID: session.ID, QuestionID: &id})
	return session, nil
}

// nextQuestion picks the question with the smallest position greater than the active one's.
// With no active pointer (or a dangling one) it picks the first question.
func nextQuestion(questions []domain.Question, activeID *int64) (domain.Question, bool) {
	current := -1
	if activeID != nil {
		for _, q := range questions {
			if q.ID == *activeID {
				current = q.Position
				break
			}
		}
	}

	var next domain.Question
	found := false
	for _, q := range questions {
		if q.Position <= current {
			continue
		}
		if !found || q.Position < next.Position {
			next = q
			found = true
		}
	}
	return next, found
}

func validateNewQuestion(nq domain.NewQuestion) error {
	if strings.TrimSpace(nq.Text) == "" {
		return fmt.Errorf("%w: question text is required", domain.ErrInvalidInput)
	}
	if !nq.Type.Valid() {
		return fmt.Errorf("%w: unknown question type %q", domain.ErrInvalidInput, nq.Type)
	}
	if len(nq.Options) < 2 {
		return fmt.Errorf("%w: a question needs at least two options", domain.ErrInvalidInput)
	}
	correct := 0
	for _, opt := range nq.Options {
		if opt.IsCorrect {
			correct++
		}
	}
	switch {
	case nq.Type == domain.QuestionTypeMCQ && correct != 1:
		return fmt.Errorf("%w: MCQ needs exactly one correct option, got %d", domain.ErrInvalidInput, correct)
	case nq.Type == domain.QuestionTypeMSQ && correct < 1:
		return fmt.Errorf("%w: MSQ needs at least one correct option", domain.ErrInvalidInput)
	}
	return nil
}

func wildcardQuestion(qType domain.QuestionType) domain.NewQuestion {
	options := make([]domain.NewOption, len(wildcardOptionLabels))
	for i, label := range wildcardOptionLabels {
		options[i] = domain.NewOption{Text: label, IsCorrect: i == 0}
	}
	return domain.NewQuestion{Text: wildcardText, Type: qType, Options: options}
}
