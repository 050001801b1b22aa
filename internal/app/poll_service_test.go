package app_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"live-poll-service/internal/app"
	"live-poll-service/internal/domain"
	"live-poll-service/internal/infra/memory"
)

const (
	courseID   int64 = 10
	lecturerID int64 = 1
	studentA   int64 = 2
	studentB   int64 = 3
)

type fixture struct {
	service *app.PollService
	store   *memory.Store
	hub     *app.Hub
	session domain.Session
}

func newFixture(t *testing.T, questions ...domain.NewQuestion) fixture {
	t.Helper()
	store := memory.NewStore()
	store.AddCourseMember(courseID, lecturerID, domain.RoleLecturer)
	store.AddCourseMember(courseID, studentA, domain.RoleStudent)
	store.AddCourseMember(courseID, studentB, domain.RoleStudent)

	hub := app.NewHub()
	now := func() time.Time { return time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC) }
	service := app.NewPollServiceWithClock(store, memory.NewQuestionCache(store, time.Minute), hub, zerolog.Nop(), now)

	ctx := context.Background()
	for _, nq := range questions {
		if _, err := service.CreateQuestion(ctx, courseID, lecturerID, nq); err != nil {
			t.Fatalf("create question: %v", err)
		}
	}
	session, err := service.OpenSession(ctx, courseID, lecturerID)
	if err != nil {
		t.Fatalf("open session: %v", err)
	}
	return fixture{service: service, store: store, hub: hub, session: session}
}

func mcq(text string) domain.NewQuestion {
	return domain.NewQuestion{
		Text: text,
		Type: domain.QuestionTypeMCQ,
		Options: []domain.NewOption{
			{Text: "wrong"},
			{Text: "right", IsCorrect: true},
			{Text: "also wrong"},
		},
	}
}

func msq(text string) domain.NewQuestion {
	return domain.NewQuestion{
		Text: text,
		Type: domain.QuestionTypeMSQ,
		Options: []domain.NewOption{
			{Text: "a", IsCorrect: true},
			{Text: "b"},
			{Text: "c", IsCorrect: true},
		},
	}
}

func (f fixture) questions(t *testing.T) []domain.Question {
	t.Helper()
	qs, err := f.store.ListQuestions(context.Background(), f.session.ID)
	if err != nil {
		t.Fatalf("list questions: %v", err)
	}
	return qs
}

func TestOpenSessionActivatesFirstQuestion(t *testing.T) {
	f := newFixture(t, mcq("q1"), mcq("q2"))
	qs := f.questions(t)

	if f.session.ActiveQuestionID == nil || *f.session.ActiveQuestionID != qs[0].ID {
		t.Fatalf("expected first question active, got %v", f.session.ActiveQuestionID)
	}

	view, err := f.service.GetActiveQuestion(context.Background(), f.session.ID)
	if err != nil {
		t.Fatalf("get active: %v", err)
	}
	if view.TotalQuestions != 2 || view.Position == nil || *view.Position != 0 || view.Ended {
		t.Fatalf("unexpected active view %+v", view)
	}
}

func TestOpenSessionIsIdempotentForTheDay(t *testing.T) {
	f := newFixture(t, mcq("q1"))
	again, err := f.service.OpenSession(context.Background(), courseID, lecturerID)
	if err != nil {
		t.Fatalf("open again: %v", err)
	}
	if again.ID != f.session.ID {
		t.Fatalf("expected the same session, got %d and %d", f.session.ID, again.ID)
	}
}

func TestGetActiveQuestionUnknownSession(t *testing.T) {
	f := newFixture(t)
	if _, err := f.service.GetActiveQuestion(context.Background(), 999); !errors.Is(err, domain.ErrSessionNotFound) {
		t.Fatalf("expected session not found, got %v", err)
	}
}

func TestSetActiveQuestionRequiresLecturer(t *testing.T) {
	f := newFixture(t, mcq("q1"), mcq("q2"))
	qs := f.questions(t)
	ctx := context.Background()

	if _, err := f.service.SetActiveQuestion(ctx, f.session.ID, qs[1].ID, studentA); !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("expected unauthorized for student, got %v", err)
	}
	if _, err := f.service.SetActiveQuestion(ctx, f.session.ID, qs[1].ID, 0); !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("expected unauthorized for anonymous, got %v", err)
	}

	view, _ := f.service.GetActiveQuestion(ctx, f.session.ID)
	if *view.ActiveQuestionID != qs[0].ID {
		t.Fatalf("unauthorized call must not move the pointer, got %d", *view.ActiveQuestionID)
	}
}

func TestSetActiveQuestionRejectsForeignQuestion(t *testing.T) {
	f := newFixture(t, mcq("q1"))
	ctx := context.Background()

	other, err := f.store.CreateSession(ctx, courseID+1, time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("create other session: %v", err)
	}
	foreign, err := f.store.InsertQuestion(ctx, other.ID, 0, mcq("elsewhere"))
	if err != nil {
		t.Fatalf("insert foreign: %v", err)
	}

	if _, err := f.service.SetActiveQuestion(ctx, f.session.ID, foreign.ID, lecturerID); !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("expected invalid state for foreign question, got %v", err)
	}
	if _, err := f.service.SetActiveQuestion(ctx, f.session.ID, 12345, lecturerID); !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("expected invalid state for unknown question, got %v", err)
	}
}

func TestSetActiveQuestionBroadcastsToSessionOnly(t *testing.T) {
	f := newFixture(t, mcq("q1"), mcq("q2"))
	qs := f.questions(t)

	mine := f.hub.Subscribe(f.session.ID)
	defer mine.Close()
	other := f.hub.Subscribe(f.session.ID + 100)
	defer other.Close()

	if _, err := f.service.SetActiveQuestion(context.Background(), f.session.ID, qs[1].ID, lecturerID); err != nil {
		t.Fatalf("set active: %v", err)
	}

	select {
	case ev := <-mine.Events():
		if ev.Type != domain.EventQuestionChanged || ev.QuestionID == nil || *ev.QuestionID != qs[1].ID {
			t.Fatalf("unexpected event %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatalf("expected question_changed event")
	}
	select {
	case ev := <-other.Events():
		t.Fatalf("other session received %+v", ev)
	default:
	}
}

func TestAdvanceVisitsEveryPositionThenEnds(t *testing.T) {
	f := newFixture(t, mcq("q1"), mcq("q2"), msq("q3"))
	ctx := context.Background()
	if _, err := f.service.CreateWildcardQuestion(ctx, f.session.ID, lecturerID, 1, domain.QuestionTypeMCQ); err != nil {
		t.Fatalf("wildcard: %v", err)
	}

	qs := f.questions(t)
	visited := []int64{*f.session.ActiveQuestionID}
	for {
		session, err := f.service.AdvanceQuestion(ctx, f.session.ID, lecturerID)
		if errors.Is(err, domain.ErrEndOfSession) {
			break
		}
		if err != nil {
			t.Fatalf("advance: %v", err)
		}
		visited = append(visited, *session.ActiveQuestionID)
		if len(visited) > len(qs) {
			t.Fatalf("advance visited more questions than exist: %v", visited)
		}
	}

	if len(visited) != len(qs) {
		t.Fatalf("expected %d visits, got %v", len(qs), visited)
	}
	for i, q := range qs {
		if visited[i] != q.ID {
			t.Fatalf("visit %d: expected question %d, got %d", i, q.ID, visited[i])
		}
	}
}

func TestConcurrentAdvancesDoNotSkip(t *testing.T) {
	f := newFixture(t, mcq("q1"), mcq("q2"), mcq("q3"), mcq("q4"), mcq("q5"))
	ctx := context.Background()

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		seen = make(map[int64]int)
		ends int
	)
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			session, err := f.service.AdvanceQuestion(ctx, f.session.ID, lecturerID)
			mu.Lock()
			defer mu.Unlock()
			if errors.Is(err, domain.ErrEndOfSession) {
				ends++
				return
			}
			if err != nil {
				t.Errorf("advance: %v", err)
				return
			}
			seen[*session.ActiveQuestionID]++
		}()
	}
	wg.Wait()

	if len(seen) != 4 || ends != 2 {
		t.Fatalf("expected 4 distinct advances and 2 end-of-session, got %v and %d", seen, ends)
	}
	for id, n := range seen {
		if n != 1 {
			t.Fatalf("question %d activated %d times", id, n)
		}
	}
}

func TestWildcardShiftsAndClamps(t *testing.T) {
	f := newFixture(t, mcq("q1"), mcq("q2"))
	ctx := context.Background()

	wild, err := f.service.CreateWildcardQuestion(ctx, f.session.ID, lecturerID, 0, domain.QuestionTypeMSQ)
	if err != nil {
		t.Fatalf("wildcard at 0: %v", err)
	}
	if wild.Position != 0 || wild.Text != "Wildcard question" || len(wild.Options) != 4 {
		t.Fatalf("unexpected wildcard %+v", wild)
	}

	tail, err := f.service.CreateWildcardQuestion(ctx, f.session.ID, lecturerID, 50, domain.QuestionTypeMCQ)
	if err != nil {
		t.Fatalf("wildcard past end: %v", err)
	}
	if tail.Position != 3 {
		t.Fatalf("expected clamped position 3, got %d", tail.Position)
	}

	qs := f.questions(t)
	for i, q := range qs {
		if q.Position != i {
			t.Fatalf("positions not dense: %d at index %d", q.Position, i)
		}
	}

	// active pointer still references q1, now at position 1
	view, err := f.service.GetActiveQuestion(ctx, f.session.ID)
	if err != nil {
		t.Fatalf("get active: %v", err)
	}
	if view.Position == nil || *view.Position != 1 {
		t.Fatalf("expected active question renumbered to 1, got %+v", view)
	}

	if _, err := f.service.CreateWildcardQuestion(ctx, f.session.ID, lecturerID, -1, domain.QuestionTypeMCQ); !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("expected invalid input for negative position, got %v", err)
	}
	if _, err := f.service.CreateWildcardQuestion(ctx, f.session.ID, studentA, 0, domain.QuestionTypeMCQ); !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("expected unauthorized for student, got %v", err)
	}
}

func TestCreateQuestionValidates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	bad := mcq("two correct")
	bad.Options[0].IsCorrect = true
	if _, err := f.service.CreateQuestion(ctx, courseID, lecturerID, bad); !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("expected invalid input for MCQ with two correct options, got %v", err)
	}

	none := msq("none correct")
	for i := range none.Options {
		none.Options[i].IsCorrect = false
	}
	if _, err := f.service.CreateQuestion(ctx, courseID, lecturerID, none); !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("expected invalid input for MSQ without a correct option, got %v", err)
	}

	if _, err := f.service.CreateQuestion(ctx, courseID, studentA, mcq("student")); !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
}

func TestCreateQuestionActivatesFirstInOpenSession(t *testing.T) {
	f := newFixture(t)
	if f.session.ActiveQuestionID != nil {
		t.Fatalf("empty session should have no active question")
	}
	q, err := f.service.CreateQuestion(context.Background(), courseID, lecturerID, mcq("first"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if q.SessionID != f.session.ID {
		t.Fatalf("expected question in today's session %d, got %d", f.session.ID, q.SessionID)
	}
	view, _ := f.service.GetActiveQuestion(context.Background(), f.session.ID)
	if view.ActiveQuestionID == nil || *view.ActiveQuestionID != q.ID {
		t.Fatalf("expected new question active, got %+v", view)
	}
}

func TestEndSession(t *testing.T) {
	f := newFixture(t, mcq("q1"))
	ctx := context.Background()
	sub := f.hub.Subscribe(f.session.ID)
	defer sub.Close()

	ended, err := f.service.EndSession(ctx, f.session.ID, lecturerID)
	if err != nil {
		t.Fatalf("end: %v", err)
	}
	if ended.Open() || ended.ActiveQuestionID != nil {
		t.Fatalf("expected ended session, got %+v", ended)
	}
	if ev := <-sub.Events(); ev.Type != domain.EventSessionEnded {
		t.Fatalf("expected session_ended, got %+v", ev)
	}

	if _, err := f.service.EndSession(ctx, f.session.ID, lecturerID); err != nil {
		t.Fatalf("second end should be a no-op: %v", err)
	}
	if _, err := f.service.AdvanceQuestion(ctx, f.session.ID, lecturerID); !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("expected invalid state after end, got %v", err)
	}

	view, _ := f.service.GetActiveQuestion(ctx, f.session.ID)
	if !view.Ended || view.ActiveQuestionID != nil {
		t.Fatalf("expected ended view, got %+v", view)
	}
}

func TestQuestionViewsRedactForStudents(t *testing.T) {
	f := newFixture(t, mcq("q1"))
	ctx := context.Background()
	q := f.questions(t)[0]

	student, err := f.service.QuestionForViewer(ctx, q.ID, studentA)
	if err != nil {
		t.Fatalf("student view: %v", err)
	}
	for _, opt := range student.Options {
		if opt.IsCorrect != nil {
			t.Fatalf("student must not see correctness, got %+v", opt)
		}
	}

	lecturer, err := f.service.QuestionForViewer(ctx, q.ID, lecturerID)
	if err != nil {
		t.Fatalf("lecturer view: %v", err)
	}
	if len(lecturer.CorrectOptionIDs()) != 1 {
		t.Fatalf("lecturer should see the correct option, got %+v", lecturer.Options)
	}

	list, err := f.service.SessionQuestionsForViewer(ctx, f.session.ID, 0)
	if err != nil {
		t.Fatalf("anonymous list: %v", err)
	}
	if len(list) != 1 || list[0].Options[1].IsCorrect != nil {
		t.Fatalf("anonymous list must be redacted, got %+v", list)
	}
}

// endingStore ends the session it finds, once, before handing it back.
type endingStore struct {
	*memory.Store
	once   sync.Once
	onFind func(sessionID int64)
}

func (s *endingStore) FindOpenSession(ctx context.Context, courseID int64, from, to time.Time) (domain.Session, error) {
	session, err := s.Store.FindOpenSession(ctx, courseID, from, to)
	if err == nil && s.onFind != nil {
		s.once.Do(func() { s.onFind(session.ID) })
	}
	return session, err
}

func TestCreateQuestionSkipsSessionEndedWhileOpening(t *testing.T) {
	mem := memory.NewStore()
	mem.AddCourseMember(courseID, lecturerID, domain.RoleLecturer)
	store := &endingStore{Store: mem}
	hub := app.NewHub()
	now := func() time.Time { return time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC) }
	service := app.NewPollServiceWithClock(store, nil, hub, zerolog.Nop(), now)
	ctx := context.Background()

	first, err := service.OpenSession(ctx, courseID, lecturerID)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	sub := hub.Subscribe(first.ID)
	defer sub.Close()

	store.onFind = func(sessionID int64) {
		if _, err := service.EndSession(ctx, sessionID, lecturerID); err != nil {
			t.Errorf("end: %v", err)
		}
	}
	q, err := service.CreateQuestion(ctx, courseID, lecturerID, mcq("q1"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if q.SessionID == first.ID {
		t.Fatalf("question landed in ended session %d", first.ID)
	}

	ended, err := mem.GetSession(ctx, first.ID)
	if err != nil {
		t.Fatalf("get ended: %v", err)
	}
	if ended.Open() || ended.ActiveQuestionID != nil {
		t.Fatalf("ended session must keep no active question, got %+v", ended)
	}
	if ev := <-sub.Events(); ev.Type != domain.EventSessionEnded {
		t.Fatalf("expected session_ended, got %+v", ev)
	}
	select {
	case ev := <-sub.Events():
		t.Fatalf("unexpected event after session_ended: %+v", ev)
	default:
	}

	fresh, err := mem.GetSession(ctx, q.SessionID)
	if err != nil {
		t.Fatalf("get fresh: %v", err)
	}
	if !fresh.Open() || fresh.ActiveQuestionID == nil || *fresh.ActiveQuestionID != q.ID {
		t.Fatalf("expected new session with question active, got %+v", fresh)
	}
}
