package postgres

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/fnv"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"live-poll-service/internal/domain"
)

// Store is the Postgres Session Store. Multi-row writes run in one transaction.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

const sessionColumns = `id, course_id, start_time, end_time, active_question_id`

func (s *Store) GetSession(ctx context.Context, sessionID int64) (domain.Session, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = $1`, sessionID)
	session, err := scanSession(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Session{}, domain.ErrSessionNotFound
	}
	if err != nil {
		return domain.Session{}, fmt.Errorf("get session: %w", err)
	}
	return session, nil
}

func (s *Store) FindOpenSession(ctx context.Context, courseID int64, from, to time.Time) (domain.Session, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+sessionColumns+`
		FROM sessions
		WHERE course_id = $1 AND end_time IS NULL AND start_time >= $2 AND start_time < $3
		ORDER BY id DESC
		LIMIT 1`, courseID, from, to)
	session, err := scanSession(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Session{}, domain.ErrSessionNotFound
	}
	if err != nil {
		return domain.Session{}, fmt.Errorf("find open session: %w", err)
	}
	return session, nil
}

func (s *Store) CreateSession(ctx context.Context, courseID int64, startTime time.Time) (domain.Session, error) {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO sessions (course_id, start_time)
		VALUES ($1, $2)
		RETURNING `+sessionColumns, courseID, startTime)
	session, err := scanSession(row)
	if err != nil {
		return domain.Session{}, fmt.Errorf("create session: %w", err)
	}
	return session, nil
}

func (s *Store) SetActiveQuestion(ctx context.Context, sessionID int64, questionID *int64) error {
	tag, err := s.pool.Exec(ctx, `UPDATE sessions SET active_question_id = $2 WHERE id = $1`, sessionID, questionID)
	if err != nil {
		return fmt.Errorf("set active question: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrSessionNotFound
	}
	return nil
}

func (s *Store) EndSession(ctx context.Context, sessionID int64, endTime time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE sessions SET end_time = $2, active_question_id = NULL
		WHERE id = $1`, sessionID, endTime)
	if err != nil {
		return fmt.Errorf("end session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrSessionNotFound
	}
	return nil
}

func (s *Store) GetQuestion(ctx context.Context, questionID int64) (domain.Question, error) {
	q, err := scanQuestion(s.pool.QueryRow(ctx, `
		SELECT id, session_id, text, type, position
		FROM questions WHERE id = $1`, questionID))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Question{}, domain.ErrQuestionNotFound
	}
	if err != nil {
		return domain.Question{}, fmt.Errorf("get question: %w", err)
	}

	questions := []domain.Question{q}
	if err := loadOptions(ctx, s.pool, questions); err != nil {
		return domain.Question{}, err
	}
	return questions[0], nil
}

func (s *Store) ListQuestions(ctx context.Context, sessionID int64) ([]domain.Question, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, session_id, text, type, position
		FROM questions WHERE session_id = $1
		ORDER BY position`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list questions: %w", err)
	}
	defer rows.Close()

	questions := make([]domain.Question, 0)
	for rows.Next() {
		q, err := scanQuestion(rows)
		if err != nil {
			return nil, fmt.Errorf("scan question: %w", err)
		}
		questions = append(questions, q)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list questions: %w", err)
	}
	if err := loadOptions(ctx, s.pool, questions); err != nil {
		return nil, err
	}
	return questions, nil
}

func (s *Store) CountQuestions(ctx context.Context, sessionID int64) (int, error) {
	var n int
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM questions WHERE session_id = $1`, sessionID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count questions: %w", err)
	}
	return n, nil
}

// InsertQuestion shifts later questions and inserts in one transaction; the
// (session_id, position) constraint is deferred until commit.
func (s *Store) InsertQuestion(ctx context.Context, sessionID int64, position int, nq domain.NewQuestion) (domain.Question, error) {
	q := domain.Question{SessionID: sessionID, Text: nq.Text, Type: nq.Type, Position: position}

	err := s.pool.BeginFunc(ctx, func(tx pgx.Tx) error {
		var locked int64
		err := tx.QueryRow(ctx, `SELECT id FROM sessions WHERE id = $1 FOR UPDATE`, sessionID).Scan(&locked)
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ErrSessionNotFound
		}
		if err != nil {
			return err
		}

		if _, err := tx.Exec(ctx, `
			UPDATE questions SET position = position + 1
			WHERE session_id = $1 AND position >= $2`, sessionID, position); err != nil {
			return err
		}

		if err := tx.QueryRow(ctx, `
			INSERT INTO questions (session_id, text, type, position)
			VALUES ($1, $2, $3, $4)
			RETURNING id`, sessionID, nq.Text, string(nq.Type), position).Scan(&q.ID); err != nil {
			return err
		}

		q.Options = make([]domain.Option, 0, len(nq.Options))
		for _, opt := range nq.Options {
			correct := opt.IsCorrect
			o := domain.Option{QuestionID: q.ID, Text: opt.Text, IsCorrect: &correct}
			if err := tx.QueryRow(ctx, `
				INSERT INTO options (question_id, text, is_correct)
				VALUES ($1, $2, $3)
				RETURNING id`, q.ID, opt.Text, opt.IsCorrect).Scan(&o.ID); err != nil {
				return err
			}
			q.Options = append(q.Options, o)
		}
		return nil
	})
	if errors.Is(err, domain.ErrSessionNotFound) {
		return domain.Question{}, err
	}
	if err != nil {
		return domain.Question{}, fmt.Errorf("insert question: %w", err)
	}
	return q, nil
}

// responseLockKey folds both full ids into the single bigint advisory-lock key space.
func responseLockKey(userID, questionID int64) int64 {
	var buf [16]byte
	binary.BigEndian.PutUint64(buf[:8], uint64(userID))
	binary.BigEndian.PutUint64(buf[8:], uint64(questionID))
	h := fnv.New64a()
	_, _ = h.Write(buf[:])
	return int64(h.Sum64())
}

// ReplaceResponses deletes the user's rows and inserts the new set in one transaction.
// An advisory lock on (user, question) serializes concurrent submissions across instances.
func (s *Store) ReplaceResponses(ctx context.Context, userID, questionID int64, optionIDs []int64, answeredAt time.Time) ([]domain.Response, error) {
	responses := make([]domain.Response, 0, len(optionIDs))

	err := s.pool.BeginFunc(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, responseLockKey(userID, questionID)); err != nil {
			return err
		}

		var exists bool
		if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM questions WHERE id = $1)`, questionID).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return domain.ErrQuestionNotFound
		}

		if _, err := tx.Exec(ctx, `DELETE FROM responses WHERE user_id = $1 AND question_id = $2`, userID, questionID); err != nil {
			return err
		}

		batch := &pgx.Batch{}
		for _, id := range optionIDs {
			batch.Queue(`
				INSERT INTO responses (user_id, question_id, option_id, answered_at)
				VALUES ($1, $2, $3, $4)`, userID, questionID, id, answeredAt)
			responses = append(responses, domain.Response{
				UserID:     userID,
				QuestionID: questionID,
				OptionID:   id,
				AnsweredAt: answeredAt,
			})
		}
		br := tx.SendBatch(ctx, batch)
		for range optionIDs {
			if _, err := br.Exec(); err != nil {
				_ = br.Close()
				return err
			}
		}
		return br.Close()
	})
	if errors.Is(err, domain.ErrQuestionNotFound) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("replace responses: %w", err)
	}
	return responses, nil
}

func (s *Store) ListResponses(ctx context.Context, questionID int64) ([]domain.Response, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT user_id, question_id, option_id, answered_at
		FROM responses WHERE question_id = $1
		ORDER BY user_id, option_id`, questionID)
	if err != nil {
		return nil, fmt.Errorf("list responses: %w", err)
	}
	defer rows.Close()

	out := make([]domain.Response, 0)
	for rows.Next() {
		var r domain.Response
		if err := rows.Scan(&r.UserID, &r.QuestionID, &r.OptionID, &r.AnsweredAt); err != nil {
			return nil, fmt.Errorf("scan response: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list responses: %w", err)
	}
	return out, nil
}

func (s *Store) CourseRole(ctx context.Context, courseID, userID int64) (domain.Role, error) {
	var role string
	err := s.pool.QueryRow(ctx, `
		SELECT role FROM course_members
		WHERE course_id = $1 AND user_id = $2`, courseID, userID).Scan(&role)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.RoleNone, nil
	}
	if err != nil {
		return domain.RoleNone, fmt.Errorf("course role: %w", err)
	}
	return domain.Role(role), nil
}

// AddCourseMember creates the course if needed and upserts the member's role.
func (s *Store) AddCourseMember(ctx context.Context, courseID, userID int64, role domain.Role) error {
	return s.pool.BeginFunc(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `INSERT INTO courses (id) VALUES ($1) ON CONFLICT (id) DO NOTHING`, courseID); err != nil {
			return fmt.Errorf("ensure course: %w", err)
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO course_members (course_id, user_id, role) VALUES ($1, $2, $3)
			ON CONFLICT (course_id, user_id) DO UPDATE SET role = EXCLUDED.role`,
			courseID, userID, string(role)); err != nil {
			return fmt.Errorf("add course member: %w", err)
		}
		return nil
	})
}

type querier interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
}

// loadOptions fills Options for every question with a single query.
func loadOptions(ctx context.Context, db querier, questions []domain.Question) error {
	if len(questions) == 0 {
		return nil
	}
	ids := make([]int64, len(questions))
	index := make(map[int64]int, len(questions))
	for i := range questions {
		ids[i] = questions[i].ID
		index[questions[i].ID] = i
		questions[i].Options = make([]domain.Option, 0)
	}

	rows, err := db.Query(ctx, `
		SELECT id, question_id, text, is_correct
		FROM options WHERE question_id = ANY($1)
		ORDER BY id`, ids)
	if err != nil {
		return fmt.Errorf("load options: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			opt     domain.Option
			correct bool
		)
		if err := rows.Scan(&opt.ID, &opt.QuestionID, &opt.Text, &correct); err != nil {
			return fmt.Errorf("scan option: %w", err)
		}
		opt.IsCorrect = &correct
		i := index[opt.QuestionID]
		questions[i].Options = append(questions[i].Options, opt)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("load options: %w", err)
	}
	return nil
}

func scanSession(row pgx.Row) (domain.Session, error) {
	var s domain.Session
	err := row.Scan(&s.ID, &s.CourseID, &s.StartTime, &s.EndTime, &s.ActiveQuestionID)
	return s, err
}

func scanQuestion(row pgx.Row) (domain.Question, error) {
	var (
		q     domain.Question
		qType string
	)
	err := row.Scan(&q.ID, &q.SessionID, &q.Text, &qType, &q.Position)
	q.Type = domain.QuestionType(qType)
	return q, err
}
