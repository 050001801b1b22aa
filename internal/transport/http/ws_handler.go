package http

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"live-poll-service/internal/app"
	"live-poll-service/internal/domain"
)

const (
	defaultPingInterval = 30 * time.Second
	defaultPongWait     = 60 * time.Second
	writeWait           = 10 * time.Second
	maxMessageSize      = 64 * 1024
)

// WSConfig tunes the socket heartbeat; zero values use the defaults.
type WSConfig struct {
	PingInterval   time.Duration
	PongWait       time.Duration
	AllowedOrigins []string
}

// WSHandler is the push channel: one socket per client, subscribed to one session.
type WSHandler struct {
	service      *app.PollService
	hub          *app.Hub
	presence     Presence
	identity     *IdentityResolver
	upgrader     websocket.Upgrader
	pingInterval time.Duration
	pongWait     time.Duration
	log          zerolog.Logger
}

func NewWSHandler(service *app.PollService, hub *app.Hub, presence Presence, identity *IdentityResolver, cfg WSConfig, log zerolog.Logger) *WSHandler {
	h := &WSHandler{
		service:      service,
		hub:          hub,
		presence:     presence,
		identity:     identity,
		upgrader:     buildUpgrader(cfg.AllowedOrigins),
		pingInterval: cfg.PingInterval,
		pongWait:     cfg.PongWait,
		log:          log.With().Str("component", "ws_handler").Logger(),
	}
	if h.pingInterval <= 0 {
		h.pingInterval = defaultPingInterval
	}
	if h.pongWait <= 0 {
		h.pongWait = defaultPongWait
	}
	return h
}

func buildUpgrader(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowedOrigins) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			for _, allowed := range allowedOrigins {
				if strings.EqualFold(allowed, origin) {
					return true
				}
			}
			return false
		},
	}
}

type inboundMessage struct {
	Type    domain.EventType `json:"type"`
	Payload json.RawMessage  `json:"payload"`
}

type studentResponsePayload struct {
	QuestionID int64   `json:"questionId"`
	OptionIDs  []int64 `json:"optionIds"`
}

type outboundMessage[T any] struct {
	Type    domain.EventType `json:"type"`
	Payload T                `json:"payload"`
}

type connectedPayload struct {
	SessionID        int64  `json:"sessionId"`
	UserID           int64  `json:"userId"`
	ActiveQuestionID *int64 `json:"activeQuestionId"`
}

type questionChangedPayload struct {
	QuestionID *int64 `json:"questionId"`
}

type sessionEndedPayload struct {
	SessionID int64 `json:"sessionId"`
}

type responseSavedPayload struct {
	QuestionID int64             `json:"questionId"`
	Responses  []domain.Response `json:"responses"`
}

type errorPayload struct {
	Code    ErrCode `json:"code"`
	Message string  `json:"message"`
}

// ServeWS upgrades GET /ws?sessionId=&userId= and pumps session events to the client.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	sessionID, err := strconv.ParseInt(r.URL.Query().Get("sessionId"), 10, 64)
	if err != nil || sessionID <= 0 {
		http.Error(w, "missing or invalid sessionId", http.StatusBadRequest)
		return
	}
	userID, ok := h.resolveUser(w, r)
	if !ok {
		return
	}

	view, err := h.service.GetActiveQuestion(r.Context(), sessionID)
	if err != nil {
		status, code := classify(err)
		http.Error(w, string(code), status)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	clientID := uuid.New().String()
	wsLog := h.log.With().
		Int64("session_id", sessionID).
		Int64("user_id", userID).
		Str("client_id", clientID).
		Logger()

	sub := h.hub.Subscribe(sessionID)
	defer sub.Close()

	// Leave must still run after the request context is canceled.
	presenceCtx := context.Background()
	h.joinPresence(presenceCtx, wsLog, sessionID, clientID)
	defer h.leavePresence(presenceCtx, wsLog, sessionID, clientID)

	wsLog.Info().Msg("Client connected")

	send := make(chan outboundMessage[any], 16)
	closeSignals := make(chan struct{})
	writerDone := make(chan struct{})
	eventsDone := make(chan struct{})

	go h.writePump(conn, send, writerDone, wsLog)

	go func() {
		defer close(eventsDone)
		for {
			select {
			case event, ok := <-sub.Events():
				if !ok {
					return
				}
				select {
				case send <- toOutbound(event):
				case <-closeSignals:
					return
				}
			case <-closeSignals:
				return
			}
		}
	}()

	send <- outboundMessage[any]{Type: domain.EventConnected, Payload: connectedPayload{
		SessionID:        sessionID,
		UserID:           userID,
		ActiveQuestionID: view.ActiveQuestionID,
	}}

	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(h.pongWait))
	conn.SetPongHandler(func(string) error {
		h.joinPresence(presenceCtx, wsLog, sessionID, clientID)
		return conn.SetReadDeadline(time.Now().Add(h.pongWait))
	})

	h.readLoop(r.Context(), conn, send, userID, wsLog)

	close(closeSignals)
	<-eventsDone
	close(send)
	<-writerDone
	wsLog.Info().Msg("Client disconnected")
}

func (h *WSHandler) readLoop(ctx context.Context, conn *websocket.Conn, send chan<- outboundMessage[any], userID int64, wsLog zerolog.Logger) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				wsLog.Warn().Err(err).Msg("Unexpected close")
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(h.pongWait))

		var inbound inboundMessage
		if err := json.Unmarshal(data, &inbound); err != nil {
			wsLog.Warn().Err(err).Int("bytes", len(data)).Msg("Ignoring non-JSON frame")
			continue
		}

		switch inbound.Type {
		case domain.EventStudentResponse:
			send <- h.handleStudentResponse(ctx, userID, inbound.Payload, wsLog)
		default:
			send <- errorMessage(ErrInvalidInput, "unsupported message type")
		}
	}
}

// handleStudentResponse goes through the same service call as the REST submit.
func (h *WSHandler) handleStudentResponse(ctx context.Context, userID int64, raw json.RawMessage, wsLog zerolog.Logger) outboundMessage[any] {
	var payload studentResponsePayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return errorMessage(ErrInvalidInput, "invalid student_response payload")
	}

	result, err := h.service.SubmitResponse(ctx, userID, payload.QuestionID, payload.OptionIDs)
	if err != nil {
		_, code := classify(err)
		if code == ErrInternal {
			wsLog.Error().Err(err).Int64("question_id", payload.QuestionID).Msg("Socket submission failed")
		}
		return errorMessage(code, publicMessage(code, err))
	}
	return outboundMessage[any]{Type: domain.EventResponseSaved, Payload: responseSavedPayload{
		QuestionID: result.QuestionID,
		Responses:  result.Responses,
	}}
}

func (h *WSHandler) writePump(conn *websocket.Conn, send <-chan outboundMessage[any], done chan<- struct{}, wsLog zerolog.Logger) {
	defer close(done)
	ticker := time.NewTicker(h.pingInterval)
	defer ticker.Stop()

	failed := false
	for {
		select {
		case msg, ok := <-send:
			if !ok {
				if !failed {
					_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
					_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				}
				return
			}
			if failed {
				continue
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(msg); err != nil {
				wsLog.Debug().Err(err).Msg("WebSocket write failed")
				failed = true
				// unblock the read loop so the handler can unwind
				_ = conn.Close()
			}
		case <-ticker.C:
			if failed {
				continue
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				failed = true
				_ = conn.Close()
			}
		}
	}
}

// resolveUser requires a userId; a token, when sent, must name the same user.
func (h *WSHandler) resolveUser(w http.ResponseWriter, r *http.Request) (int64, bool) {
	raw := r.URL.Query().Get("userId")
	claimed, err := strconv.ParseInt(raw, 10, 64)
	if raw != "" && (err != nil || claimed <= 0) {
		http.Error(w, "invalid userId", http.StatusBadRequest)
		return 0, false
	}

	resolved, err := h.identity.Resolve(r)
	if err != nil {
		http.Error(w, string(ErrUnauthorized), http.StatusUnauthorized)
		return 0, false
	}
	switch {
	case resolved <= 0:
		http.Error(w, string(ErrUnauthorized), http.StatusUnauthorized)
		return 0, false
	case raw != "" && claimed != resolved:
		http.Error(w, string(ErrUnauthorized), http.StatusUnauthorized)
		return 0, false
	}
	return resolved, true
}

func (h *WSHandler) joinPresence(ctx context.Context, wsLog zerolog.Logger, sessionID int64, clientID string) {
	if h.presence == nil {
		return
	}
	if err := h.presence.Join(ctx, sessionID, clientID); err != nil {
		wsLog.Warn().Err(err).Msg("Presence join failed")
	}
}

func (h *WSHandler) leavePresence(ctx context.Context, wsLog zerolog.Logger, sessionID int64, clientID string) {
	if h.presence == nil {
		return
	}
	if err := h.presence.Leave(ctx, sessionID, clientID); err != nil {
		wsLog.Warn().Err(err).Msg("Presence leave failed")
	}
}

func toOutbound(event domain.Event) outboundMessage[any] {
	switch event.Type {
	case domain.EventSessionEnded:
		return outboundMessage[any]{Type: event.Type, Payload: sessionEndedPayload{SessionID: event.SessionID}}
	default:
		return outboundMessage[any]{Type: event.Type, Payload: questionChangedPayload{QuestionID: event.QuestionID}}
	}
}

func errorMessage(code ErrCode, message string) outboundMessage[any] {
	return outboundMessage[any]{Type: domain.EventError, Payload: errorPayload{Code: code, Message: message}}
}
