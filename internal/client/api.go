package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"live-poll-service/internal/domain"
)

// APIError is a non-2xx reply from the pull channel.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%d %s: %s", e.Status, e.Code, e.Message)
}

// Unwrap maps the wire code back onto the domain sentinel so callers can use errors.Is.
func (e *APIError) Unwrap() error {
	switch e.Code {
	case "UNAUTHORIZED":
		return domain.ErrUnauthorized
	case "NOT_FOUND":
		if strings.Contains(e.Message, domain.ErrSessionNotFound.Error()) {
			return domain.ErrSessionNotFound
		}
		return domain.ErrQuestionNotFound
	case "INVALID_INPUT":
		return domain.ErrInvalidInput
	case "INVALID_STATE":
		return domain.ErrInvalidState
	case "END_OF_SESSION":
		return domain.ErrEndOfSession
	default:
		return nil
	}
}

// API is a thin REST client for /api/v1.
type API struct {
	baseURL string
	userID  int64
	token   string
	http    *http.Client
}

// NewAPI targets baseURL (scheme://host:port). A token, when set, is sent as a bearer
// credential; otherwise userID travels in X-User-ID.
func NewAPI(baseURL string, userID int64, token string, httpClient *http.Client) *API {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &API{
		baseURL: strings.TrimRight(baseURL, "/"),
		userID:  userID,
		token:   token,
		http:    httpClient,
	}
}

func (a *API) ActiveQuestion(ctx context.Context, sessionID int64) (domain.ActiveQuestion, error) {
	var view domain.ActiveQuestion
	err := a.do(ctx, http.MethodGet, "/api/v1/getActiveQuestion", url.Values{"sessionId": {itoa(sessionID)}}, nil, &view)
	return view, err
}

func (a *API) Question(ctx context.Context, questionID int64) (domain.Question, error) {
	var q domain.Question
	err := a.do(ctx, http.MethodGet, "/api/v1/getQuestionById", url.Values{"questionId": {itoa(questionID)}}, nil, &q)
	return q, err
}

func (a *API) SessionQuestions(ctx context.Context, sessionID int64) ([]domain.Question, error) {
	var out struct {
		Questions []domain.Question `json:"questions"`
	}
	err := a.do(ctx, http.MethodGet, "/api/v1/getSessionQuestions", url.Values{"sessionId": {itoa(sessionID)}}, nil, &out)
	return out.Questions, err
}

// Submit records the caller's answer set and returns the stored rows.
func (a *API) Submit(ctx context.Context, questionID int64, optionIDs []int64) ([]domain.Response, error) {
	body := map[string]interface{}{"questionId": questionID, "optionIds": optionIDs}
	var out struct {
		Success   bool              `json:"success"`
		Responses []domain.Response `json:"responses"`
	}
	if err := a.do(ctx, http.MethodPost, "/api/v1/submitResponse", nil, body, &out); err != nil {
		return nil, err
	}
	return out.Responses, nil
}

func (a *API) ResponseCounts(ctx context.Context, questionID int64) (domain.ResponseCounts, error) {
	var counts domain.ResponseCounts
	err := a.do(ctx, http.MethodGet, "/api/v1/getResponseCounts", url.Values{"questionId": {itoa(questionID)}}, nil, &counts)
	return counts, err
}

func (a *API) Advance(ctx context.Context, sessionID int64) (domain.Session, error) {
	var session domain.Session
	err := a.do(ctx, http.MethodPost, "/api/v1/sessions/"+itoa(sessionID)+"/advance", nil, nil, &session)
	return session, err
}

func (a *API) do(ctx context.Context, method, path string, query url.Values, body, dst interface{}) error {
	target := a.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if a.token != "" {
		req.Header.Set("Authorization", "Bearer "+a.token)
	} else if a.userID > 0 {
		req.Header.Set("X-User-ID", itoa(a.userID))
	}

	resp, err := a.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		var wire struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&wire)
		return &APIError{Status: resp.StatusCode, Code: wire.Error.Code, Message: wire.Error.Message}
	}
	if dst == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

func itoa(id int64) string {
	return strconv.FormatInt(id, 10)
}
