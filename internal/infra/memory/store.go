package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"live-poll-service/internal/domain"
)

// Store is an in-memory Session Store. It backs the demo server and tests.
type Store struct {
	mu sync.RWMutex

	nextSessionID  int64
	nextQuestionID int64
	nextOptionID   int64

	sessions  map[int64]*domain.Session
	questions map[int64]*domain.Question
	// responses[questionID][userID] holds that user's current answer set.
	responses map[int64]map[int64][]domain.Response
	members   map[int64]map[int64]domain.Role
}

func NewStore() *Store {
	return &Store{
		sessions:  make(map[int64]*domain.Session),
		questions: make(map[int64]*domain.Question),
		responses: make(map[int64]map[int64][]domain.Response),
		members:   make(map[int64]map[int64]domain.Role),
	}
}

// AddCourseMember grants userID the given role on courseID.
func (s *Store) AddCourseMember(courseID, userID int64, role domain.Role) {
	s.mu.Lock()
	defer s.mu.Unlock()
	roles, ok := s.members[courseID]
	if !ok {
		roles = make(map[int64]domain.Role)
		s.members[courseID] = roles
	}
	roles[userID] = role
}

func (s *Store) CourseRole(_ context.Context, courseID, userID int64) (domain.Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.members[courseID][userID], nil
}

func (s *Store) GetSession(_ context.Context, sessionID int64) (domain.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[sessionID]
	if !ok {
		return domain.Session{}, domain.ErrSessionNotFound
	}
	return copySession(session), nil
}

func (s *Store) FindOpenSession(_ context.Context, courseID int64, from, to time.Time) (domain.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var found *domain.Session
	for _, session := range s.sessions {
		if session.CourseID != courseID || !session.Open() {
			continue
		}
		if session.StartTime.Before(from) || !session.StartTime.Before(to) {
			continue
		}
		if found == nil || session.ID > found.ID {
			found = session
		}
	}
	if found == nil {
		return domain.Session{}, domain.ErrSessionNotFound
	}
	return copySession(found), nil
}

func (s *Store) CreateSession(_ context.Context, courseID int64, startTime time.Time) (domain.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextSessionID++
	session := &domain.Session{ID: s.nextSessionID, CourseID: courseID, StartTime: startTime}
	s.sessions[session.ID] = session
	return copySession(session), nil
}

func (s *Store) SetActiveQuestion(_ context.Context, sessionID int64, questionID *int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[sessionID]
	if !ok {
		return domain.ErrSessionNotFound
	}
	session.ActiveQuestionID = copyID(questionID)
	return nil
}

func (s *Store) EndSession(_ context.Context, sessionID int64, endTime time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[sessionID]
	if !ok {
		return domain.ErrSessionNotFound
	}
	end := endTime
	session.EndTime = &end
	session.ActiveQuestionID = nil
	return nil
}

func (s *Store) GetQuestion(_ context.Context, questionID int64) (domain.Question, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	q, ok := s.questions[questionID]
	if !ok {
		return domain.Question{}, domain.ErrQuestionNotFound
	}
	return copyQuestion(q), nil
}

func (s *Store) ListQuestions(_ context.Context, sessionID int64) ([]domain.Question, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sessionQuestionsLocked(sessionID), nil
}

func (s *Store) CountQuestions(_ context.Context, sessionID int64) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	count := 0
	for _, q := range s.questions {
		if q.SessionID == sessionID {
			count++
		}
	}
	return count, nil
}

func (s *Store) InsertQuestion(_ context.Context, sessionID int64, position int, nq domain.NewQuestion) (domain.Question, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[sessionID]; !ok {
		return domain.Question{}, domain.ErrSessionNotFound
	}

	for _, q := range s.questions {
		if q.SessionID == sessionID && q.Position >= position {
			q.Position++
		}
	}

	s.nextQuestionID++
	q := &domain.Question{
		ID:        s.nextQuestionID,
		SessionID: sessionID,
		Text:      nq.Text,
		Type:      nq.Type,
		Position:  position,
		Options:   make([]domain.Option, 0, len(nq.Options)),
	}
	for _, opt := range nq.Options {
		s.nextOptionID++
		correct := opt.IsCorrect
		q.Options = append(q.Options, domain.Option{
			ID:         s.nextOptionID,
			QuestionID: q.ID,
			Text:       opt.Text,
			IsCorrect:  &correct,
		})
	}
	s.questions[q.ID] = q
	return copyQuestion(q), nil
}

func (s *Store) ReplaceResponses(_ context.Context, userID, questionID int64, optionIDs []int64, answeredAt time.Time) ([]domain.Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.questions[questionID]; !ok {
		return nil, domain.ErrQuestionNotFound
	}

	rows := make([]domain.Response, 0, len(optionIDs))
	for _, id := range optionIDs {
		rows = append(rows, domain.Response{
			UserID:     userID,
			QuestionID: questionID,
			OptionID:   id,
			AnsweredAt: answeredAt,
		})
	}

	byUser, ok := s.responses[questionID]
	if !ok {
		byUser = make(map[int64][]domain.Response)
		s.responses[questionID] = byUser
	}
	byUser[userID] = rows

	out := make([]domain.Response, len(rows))
	copy(out, rows)
	return out, nil
}

func (s *Store) ListResponses(_ context.Context, questionID int64) ([]domain.Response, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Response, 0)
	for _, rows := range s.responses[questionID] {
		out = append(out, rows...)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].UserID != out[j].UserID {
			return out[i].UserID < out[j].UserID
		}
		return out[i].OptionID < out[j].OptionID
	})
	return out, nil
}

func (s *Store) sessionQuestionsLocked(sessionID int64) []domain.Question {
	out := make([]domain.Question, 0)
	for _, q := range s.questions {
		if q.SessionID == sessionID {
			out = append(out, copyQuestion(q))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Position < out[j].Position })
	return out
}

func copySession(s *domain.Session) domain.Session {
	out := *s
	out.ActiveQuestionID = copyID(s.ActiveQuestionID)
	if s.EndTime != nil {
		end := *s.EndTime
		out.EndTime = &end
	}
	return out
}

func copyQuestion(q *domain.Question) domain.Question {
	out := *q
	out.Options = make([]domain.Option, len(q.Options))
	for i, opt := range q.Options {
		if opt.IsCorrect != nil {
			correct := *opt.IsCorrect
			opt.IsCorrect = &correct
		}
		out.Options[i] = opt
	}
	return out
}

func copyID(id *int64) *int64 {
	if id == nil {
		return nil
	}
	v := *id
	return &v
}
