package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"live-poll-service/internal/domain"
)

const socketWriteWait = 10 * time.Second

// Message is one push-channel envelope.
type Message struct {
	Type    domain.EventType `json:"type"`
	Payload json.RawMessage  `json:"payload"`
}

// QuestionChanged is the payload of question_changed.
type QuestionChanged struct {
	QuestionID *int64 `json:"questionId"`
}

// ResponseSaved is the payload of response_saved.
type ResponseSaved struct {
	QuestionID int64             `json:"questionId"`
	Responses  []domain.Response `json:"responses"`
}

// SocketError is the payload of error.
type SocketError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type outbound struct {
	Type    domain.EventType `json:"type"`
	Payload interface{}      `json:"payload"`
}

type studentResponse struct {
	QuestionID int64   `json:"questionId"`
	OptionIDs  []int64 `json:"optionIds"`
}

// Socket is the client end of /ws. Reads happen on one goroutine; writes are serialized.
type Socket struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

// SocketURL derives the ws:// URL for a session from the REST base URL.
func SocketURL(baseURL string, sessionID, userID int64, token string) string {
	base := strings.TrimRight(baseURL, "/")
	switch {
	case strings.HasPrefix(base, "https://"):
		base = "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	q := url.Values{"sessionId": {itoa(sessionID)}, "userId": {itoa(userID)}}
	if token != "" {
		q.Set("token", token)
	}
	return base + "/ws?" + q.Encode()
}

// DialSocket opens the push channel.
func DialSocket(ctx context.Context, socketURL string) (*Socket, error) {
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, socketURL, nil)
	if err != nil {
		if resp != nil {
			return nil, &APIError{Status: resp.StatusCode, Code: http.StatusText(resp.StatusCode), Message: err.Error()}
		}
		return nil, err
	}
	return &Socket{conn: conn}, nil
}

// Next blocks for the next envelope. Non-JSON frames are skipped. Pings are answered
// while Next is reading.
func (s *Socket) Next() (Message, error) {
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			return Message{}, err
		}
		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		return msg, nil
	}
}

// SendResponse writes a student_response message.
func (s *Socket) SendResponse(questionID int64, optionIDs []int64) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(socketWriteWait))
	return s.conn.WriteJSON(outbound{
		Type:    domain.EventStudentResponse,
		Payload: studentResponse{QuestionID: questionID, OptionIDs: optionIDs},
	})
}

func (s *Socket) Close() error {
	s.writeMu.Lock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(time.Second))
	_ = s.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	s.writeMu.Unlock()
	return s.conn.Close()
}
