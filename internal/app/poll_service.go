package app

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"live-poll-service/internal/domain"
)

// Store is the durable record of sessions, questions, options and responses.
// Missing rows are reported as domain.ErrSessionNotFound / domain.ErrQuestionNotFound.
type Store interface {
	GetSession(ctx context.Context, sessionID int64) (domain.Session, error)
	// FindOpenSession returns the open session of a course started within [from, to).
	FindOpenSession(ctx context.Context, courseID int64, from, to time.Time) (domain.Session, error)
	CreateSession(ctx context.Context, courseID int64, startTime time.Time) (domain.Session, error)
	SetActiveQuestion(ctx context.Context, sessionID int64, questionID *int64) error
	// EndSession sets the end time and clears the active question.
	EndSession(ctx context.Context, sessionID int64, endTime time.Time) error

	GetQuestion(ctx context.Context, questionID int64) (domain.Question, error)
	// ListQuestions returns the session's questions ordered by position.
	ListQuestions(ctx context.Context, sessionID int64) ([]domain.Question, error)
	CountQuestions(ctx context.Context, sessionID int64) (int, error)
	// InsertQuestion shifts every question at or after position by one and inserts q there.
	InsertQuestion(ctx context.Context, sessionID int64, position int, q domain.NewQuestion) (domain.Question, error)

	// ReplaceResponses atomically swaps the user's answer set for a question.
	ReplaceResponses(ctx context.Context, userID, questionID int64, optionIDs []int64, answeredAt time.Time) ([]domain.Response, error)
	ListResponses(ctx context.Context, questionID int64) ([]domain.Response, error)

	CourseRole(ctx context.Context, courseID, userID int64) (domain.Role, error)
}

// QuestionRepository serves question detail, typically through a cache.
type QuestionRepository interface {
	GetQuestion(ctx context.Context, questionID int64) (domain.Question, error)
	Invalidate(ctx context.Context, questionIDs ...int64)
}

// Notifier fans session events out to connected clients. Delivery is best-effort.
type Notifier interface {
	Broadcast(sessionID int64, event domain.Event) int
}

// PollService implements the active-question register and the response recorder.
// REST handlers and the socket handler both call into it.
type PollService struct {
	store     Store
	questions QuestionRepository
	notifier  Notifier
	locks     *keyedMutex
	now       func() time.Time
	log       zerolog.Logger
}

func NewPollService(store Store, questions QuestionRepository, notifier Notifier, log zerolog.Logger) *PollService {
	return NewPollServiceWithClock(store, questions, notifier, log, time.Now)
}

// NewPollServiceWithClock is used by tests that need deterministic timestamps.
func NewPollServiceWithClock(store Store, questions QuestionRepository, notifier Notifier, log zerolog.Logger, now func() time.Time) *PollService {
	if questions == nil {
		questions = storeQuestions{store: store}
	}
	if notifier == nil {
		notifier = nopNotifier{}
	}
	return &PollService{
		store:     store,
		questions: questions,
		notifier:  notifier,
		locks:     newKeyedMutex(),
		now:       now,
		log:       log.With().Str("component", "poll_service").Logger(),
	}
}

// IsLecturer reports whether userID holds the lecturer role on the session's course.
func (s *PollService) IsLecturer(ctx context.Context, sessionID, userID int64) (bool, error) {
	session, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return false, err
	}
	err = s.authorizeLecturer(ctx, session.CourseID, userID)
	if errors.Is(err, domain.ErrUnauthorized) {
		return false, nil
	}
	return err == nil, err
}

func (s *PollService) authorizeLecturer(ctx context.Context, courseID, userID int64) error {
	if userID <= 0 {
		return fmt.Errorf("%w: missing identity", domain.ErrUnauthorized)
	}
	role, err := s.store.CourseRole(ctx, courseID, userID)
	if err != nil {
		return err
	}
	if role != domain.RoleLecturer {
		return fmt.Errorf("%w: user %d is not the lecturer of course %d", domain.ErrUnauthorized, userID, courseID)
	}
	return nil
}

func (s *PollService) notify(event domain.Event) {
	delivered := s.notifier.Broadcast(event.SessionID, event)
	s.log.Debug().
		Str("event", string(event.Type)).
		Int64("session_id", event.SessionID).
		Int("delivered", delivered).
		Msg("Broadcast sent")
}

func sessionKey(sessionID int64) string {
	return "session:" + strconv.FormatInt(sessionID, 10)
}

func courseKey(courseID int64) string {
	return "course:" + strconv.FormatInt(courseID, 10)
}

func responseKey(userID, questionID int64) string {
	return "response:" + strconv.FormatInt(userID, 10) + ":" + strconv.FormatInt(questionID, 10)
}

type storeQuestions struct {
	store Store
}

func (q storeQuestions) GetQuestion(ctx context.Context, questionID int64) (domain.Question, error) {
	return q.store.GetQuestion(ctx, questionID)
}

func (storeQuestions) Invalidate(context.Context, ...int64) {}

type nopNotifier struct{}

func (nopNotifier) Broadcast(int64, domain.Event) int { return 0 }
