package domain

import "time"

// QuestionType distinguishes single-select from multi-select questions.
type QuestionType string

const (
	QuestionTypeMCQ QuestionType = "MCQ"
	QuestionTypeMSQ QuestionType = "MSQ"
)

// Valid reports whether t is a known question type.
func (t QuestionType) Valid() bool {
	return t == QuestionTypeMCQ || t == QuestionTypeMSQ
}

// Role is a user's role within one course.
type Role string

const (
	RoleNone     Role = ""
	RoleLecturer Role = "LECTURER"
	RoleStudent  Role = "STUDENT"
)

// Session is one lecturer-run polling period for a course on one date.
type Session struct {
	ID               int64      `json:"id"`
	CourseID         int64      `json:"courseId"`
	StartTime        time.Time  `json:"startTime"`
	EndTime          *time.Time `json:"endTime"`
	ActiveQuestionID *int64     `json:"activeQuestionId"`
}

// Open reports whether the session has not been ended.
func (s Session) Open() bool {
	return s.EndTime == nil
}

// Option is a possible answer for a question.
type Option struct {
	ID         int64  `json:"id"`
	QuestionID int64  `json:"questionId"`
	Text       string `json:"text"`
	IsCorrect  *bool  `json:"isCorrect,omitempty"`
}

// Correct treats a redacted flag as incorrect.
func (o Option) Correct() bool {
	return o.IsCorrect != nil && *o.IsCorrect
}

// Question belongs to exactly one session; Position orders it within the session.
type Question struct {
	ID        int64        `json:"id"`
	SessionID int64        `json:"sessionId"`
	Text      string       `json:"text"`
	Type      QuestionType `json:"type"`
	Position  int          `json:"position"`
	Options   []Option     `json:"options"`
}

// HasOption reports whether optionID is one of the question's options.
func (q Question) HasOption(optionID int64) bool {
	for _, opt := range q.Options {
		if opt.ID == optionID {
			return true
		}
	}
	return false
}

// CorrectOptionIDs returns the ids of all options flagged correct.
func (q Question) CorrectOptionIDs() []int64 {
	ids := make([]int64, 0, 1)
	for _, opt := range q.Options {
		if opt.Correct() {
			ids = append(ids, opt.ID)
		}
	}
	return ids
}

// Redacted returns a copy with correctness flags stripped, safe to show students.
func (q Question) Redacted() Question {
	out := q
	out.Options = make([]Option, len(q.Options))
	for i, opt := range q.Options {
		opt.IsCorrect = nil
		out.Options[i] = opt
	}
	return out
}

// Response is one student's selection of one option.
type Response struct {
	UserID     int64     `json:"userId"`
	QuestionID int64     `json:"questionId"`
	OptionID   int64     `json:"optionId"`
	AnsweredAt time.Time `json:"answeredAt"`
}

// ActiveQuestion is the pull-channel view of a session's register.
type ActiveQuestion struct {
	ActiveQuestionID *int64 `json:"activeQuestionId"`
	Position         *int   `json:"position"`
	TotalQuestions   int    `json:"totalQuestions"`
	Ended            bool   `json:"ended"`
}

// ResponseCounts aggregates the current answer sets for one question.
type ResponseCounts struct {
	QuestionID    int64         `json:"questionId"`
	OptionCounts  map[int64]int `json:"optionCounts"`
	ResponseCount int           `json:"responseCount"`
	CorrectCount  int           `json:"correctCount"`
}

// SubmitResult summarizes a recorded submission for the submitting user.
type SubmitResult struct {
	QuestionID int64      `json:"questionId"`
	Responses  []Response `json:"responses"`
	Correct    bool       `json:"-"`
}

// NewQuestion is the input for creating a question.
type NewQuestion struct {
	Text    string
	Type    QuestionType
	Options []NewOption
}

// NewOption is the input for creating an option.
type NewOption struct {
	Text      string
	IsCorrect bool
}
