package app

import (
	"context"
	"fmt"
	"sort"

	"live-poll-service/internal/domain"
)

// SubmitResponse replaces the user's answer set for a question and scores it.
// REST and socket submissions both land here.
func (s *PollService) SubmitResponse(ctx context.Context, userID, questionID int64, optionIDs []int64) (domain.SubmitResult, error) {
	if userID <= 0 {
		return domain.SubmitResult{}, fmt.Errorf("%w: missing identity", domain.ErrUnauthorized)
	}
	if len(optionIDs) == 0 {
		return domain.SubmitResult{}, fmt.Errorf("%w: at least one option is required", domain.ErrInvalidInput)
	}

	q, err := s.questions.GetQuestion(ctx, questionID)
	if err != nil {
		return domain.SubmitResult{}, err
	}

	ids := dedupeIDs(optionIDs)
	for _, id := range ids {
		if !q.HasOption(id) {
			return domain.SubmitResult{}, fmt.Errorf("%w: option %d does not belong to question %d", domain.ErrInvalidInput, id, questionID)
		}
	}
	if q.Type == domain.QuestionTypeMCQ && len(ids) != 1 {
		return domain.SubmitResult{}, fmt.Errorf("%w: MCQ accepts a single option, got %d", domain.ErrInvalidInput, len(ids))
	}

	unlock := s.locks.Lock(responseKey(userID, questionID))
	defer unlock()

	responses, err := s.store.ReplaceResponses(ctx, userID, questionID, ids, s.now())
	if err != nil {
		return domain.SubmitResult{}, err
	}

	correct := ScoreSelection(q, ids)
	s.log.Debug().
		Int64("user_id", userID).
		Int64("question_id", questionID).
		Int("options", len(ids)).
		Bool("correct", correct).
		Msg("Response recorded")

	return domain.SubmitResult{QuestionID: questionID, Responses: responses, Correct: correct}, nil
}

// GetResponseCounts aggregates current answer sets for a question. Lecturer only.
func (s *PollService) GetResponseCounts(ctx context.Context, questionID, requesterID int64) (domain.ResponseCounts, error) {
	q, err := s.questions.GetQuestion(ctx, questionID)
	if err != nil {
		return domain.ResponseCounts{}, err
	}
	session, err := s.store.GetSession(ctx, q.SessionID)
	if err != nil {
		return domain.ResponseCounts{}, err
	}
	if err := s.authorizeLecturer(ctx, session.CourseID, requesterID); err != nil {
		return domain.ResponseCounts{}, err
	}

	responses, err := s.store.ListResponses(ctx, questionID)
	if err != nil {
		return domain.ResponseCounts{}, err
	}
	return tally(q, responses), nil
}

// ScoreSelection reports whether ids is a correct answer for q. MCQ needs the single
// correct option; MSQ needs exactly the correct set.
func ScoreSelection(q domain.Question, ids []int64) bool {
	selected := dedupeIDs(ids)
	correct := q.CorrectOptionIDs()
	if len(correct) == 0 || len(selected) != len(correct) {
		return false
	}
	if q.Type == domain.QuestionTypeMCQ && len(selected) != 1 {
		return false
	}
	want := make(map[int64]struct{}, len(correct))
	for _, id := range correct {
		want[id] = struct{}{}
	}
	for _, id := range selected {
		if _, ok := want[id]; !ok {
			return false
		}
	}
	return true
}

func tally(q domain.Question, responses []domain.Response) domain.ResponseCounts {
	counts := domain.ResponseCounts{
		QuestionID:   q.ID,
		OptionCounts: make(map[int64]int, len(q.Options)),
	}
	for _, opt := range q.Options {
		counts.OptionCounts[opt.ID] = 0
	}

	byUser := make(map[int64][]int64)
	for _, r := range responses {
		counts.OptionCounts[r.OptionID]++
		byUser[r.UserID] = append(byUser[r.UserID], r.OptionID)
	}
	counts.ResponseCount = len(byUser)
	for _, ids := range byUser {
		if ScoreSelection(q, ids) {
			counts.CorrectCount++
		}
	}
	return counts
}

// dedupeIDs returns the distinct ids in ascending order.
func dedupeIDs(ids []int64) []int64 {
	seen := make(map[int64]struct{}, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
