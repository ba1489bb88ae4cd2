package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"quiz-session-service/internal/app"
	"quiz-session-service/internal/domain"
)

// Connection roles.
const (
	RolePlayer     = "player"
	RoleTeacher    = "teacher"
	RoleProjection = "projection"
)

// Handler upgrades websocket connections and dispatches inbound messages to
// the session services. One handler serves all three roles; the role decides
// which rooms the connection joins and which message types it may send.
type Handler struct {
	hub      *Hub
	catalog  app.Catalog
	state    *app.GameStateService
	scoring  *app.ScoringService
	control  *app.ControlService
	deferred *app.DeferredRunner
	upgrader websocket.Upgrader
	log      zerolog.Logger
}

func NewHandler(hub *Hub, catalog app.Catalog, state *app.GameStateService, scoring *app.ScoringService, control *app.ControlService, deferred *app.DeferredRunner, log zerolog.Logger) *Handler {
	return &Handler{
		hub:      hub,
		catalog:  catalog,
		state:    state,
		scoring:  scoring,
		control:  control,
		deferred: deferred,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		log: log.With().Str("component", "ws-handler").Logger(),
	}
}

type inboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type answerPayload struct {
	QuestionUID string             `json:"questionUid"`
	Answer      domain.AnswerValue `json:"answer"`
	TimeSpentMs int64              `json:"timeSpent"`
}

type setQuestionPayload struct {
	Index int `json:"index"`
}

type timerActionPayload struct {
	Action      string `json:"action"`
	QuestionUID string `json:"questionUid"`
	DurationMs  int64  `json:"durationMs"`
}

type lockPayload struct {
	Locked bool `json:"locked"`
}

type togglePayload struct {
	Show bool `json:"show"`
}

// ServeWS upgrades the request and runs the read loop for the connection's
// role. Required query parameters: accessCode, userId, role; players also
// send username.
func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request) {
	accessCode := r.URL.Query().Get("accessCode")
	userID := r.URL.Query().Get("userId")
	username := r.URL.Query().Get("username")
	avatar := r.URL.Query().Get("avatar")
	role := r.URL.Query().Get("role")
	if role == "" {
		role = RolePlayer
	}
	if accessCode == "" || userID == "" {
		http.Error(w, "missing accessCode or userId", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("ws upgrade failed")
		return
	}
	defer conn.Close()

	client := NewClient(conn, userID, h.log)
	defer h.hub.Detach(client)
	go client.WritePump()

	ctx := r.Context()
	switch role {
	case RolePlayer:
		h.servePlayer(ctx, client, accessCode, userID, username, avatar)
	case RoleTeacher:
		h.serveTeacher(ctx, client, accessCode, userID)
	case RoleProjection:
		h.serveProjection(ctx, client, accessCode)
	default:
		client.Send("error", domain.Reject(domain.CodeInvalidPayload, "unknown role "+role))
	}
}

func (h *Handler) servePlayer(ctx context.Context, client *Client, accessCode, userID, username, avatar string) {
	instance, err := h.catalog.GameInstanceByAccessCode(ctx, accessCode)
	if err != nil {
		client.Send("error", rejectionFor(err))
		return
	}
	if h.deferred.Replayable(instance) {
		// Tournaments inside their replay window are played through private
		// deferred sessions. The live state may be completed or gone, so the
		// connection skips the live join and waits for join_deferred.
		client.Send("joined", domain.Participant{
			UserID:            userID,
			Username:          username,
			AvatarEmoji:       avatar,
			ParticipationType: domain.ParticipationDeferred,
		})
	} else {
		participant, err := h.state.Join(ctx, accessCode, userID, username, avatar)
		if err != nil {
			client.Send("error", rejectionFor(err))
			return
		}
		h.hub.JoinRoom(app.LiveRoom(accessCode), client)
		client.Send("joined", participant)
	}

	deferredAttempt := 0

	for {
		var inbound inboundMessage
		if err := client.conn.ReadJSON(&inbound); err != nil {
			return
		}
		switch inbound.Type {
		case "game_answer":
			var payload answerPayload
			if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
				client.Send("answer_received", app.SubmitResult{
					Rejection: domain.Reject(domain.CodeInvalidPayload, "invalid answer payload"),
				})
				continue
			}
			result := h.scoring.Submit(ctx, app.SubmitRequest{
				AccessCode:        accessCode,
				UserID:            userID,
				Username:          username,
				AvatarEmoji:       avatar,
				QuestionUID:       payload.QuestionUID,
				Answer:            payload.Answer,
				ClientTimeSpentMs: payload.TimeSpentMs,
				DeferredAttempt:   deferredAttempt,
			})
			client.Send("answer_received", result)
		case "join_deferred":
			attempt, sessionCtx, err := h.deferred.Start(ctx, accessCode, userID, username, avatar)
			if err != nil {
				client.Send("error", rejectionFor(err))
				continue
			}
			deferredAttempt = attempt
			h.hub.JoinRoom(app.DeferredRoom(accessCode, userID), client)
			// The session context belongs to the registry slot, so the replay
			// runs to completion even if this connection drops.
			go func() {
				if err := h.deferred.Run(sessionCtx, accessCode, userID, attempt); err != nil && !errors.Is(err, context.Canceled) {
					h.log.Warn().Err(err).Str("accessCode", accessCode).Str("userId", userID).
						Msg("deferred session aborted")
				}
			}()
		default:
			client.Send("error", domain.Reject(domain.CodeInvalidPayload, "unsupported message type "+inbound.Type))
		}
	}
}

func (h *Handler) serveTeacher(ctx context.Context, client *Client, accessCode, userID string) {
	instance, err := h.catalog.GameInstanceByAccessCode(ctx, accessCode)
	if err != nil {
		client.Send("error", rejectionFor(err))
		return
	}
	h.hub.JoinRoom(app.DashboardRoom(instance.ID), client)

	for {
		var inbound inboundMessage
		if err := client.conn.ReadJSON(&inbound); err != nil {
			return
		}
		switch inbound.Type {
		case "start_game":
			state, err := h.control.InitializeGame(ctx, accessCode, userID)
			h.ack(client, "game_initialized", state, err)
		case "set_question":
			var payload setQuestionPayload
			if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
				client.Send("error", domain.Reject(domain.CodeInvalidPayload, "invalid set_question payload"))
				continue
			}
			state, err := h.control.SetQuestion(ctx, accessCode, userID, payload.Index)
			h.ack(client, "question_set", state, err)
		case "quiz_timer_action":
			var payload timerActionPayload
			if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
				client.Send("error", domain.Reject(domain.CodeInvalidPayload, "invalid timer action payload"))
				continue
			}
			snap, err := h.control.TimerAction(ctx, accessCode, userID, payload.Action, payload.QuestionUID, payload.DurationMs)
			h.ack(client, "timer_action_result", snap, err)
		case "lock_answers":
			var payload lockPayload
			if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
				client.Send("error", domain.Reject(domain.CodeInvalidPayload, "invalid lock payload"))
				continue
			}
			err := h.control.LockAnswers(ctx, accessCode, userID, payload.Locked)
			h.ack(client, "answers_lock_set", payload, err)
		case "end_game":
			err := h.control.EndGame(ctx, accessCode, userID)
			h.ack(client, "game_end_result", struct{}{}, err)
		case "show_correct_answers":
			err := h.control.ShowCorrectAnswers(ctx, accessCode, userID)
			h.ack(client, "correct_answers_shown", struct{}{}, err)
		case "toggle_projection_stats":
			var payload togglePayload
			if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
				client.Send("error", domain.Reject(domain.CodeInvalidPayload, "invalid toggle payload"))
				continue
			}
			display, err := h.control.ToggleProjectionStats(ctx, accessCode, userID, payload.Show)
			h.ack(client, "projection_stats_toggled", display, err)
		default:
			client.Send("error", domain.Reject(domain.CodeInvalidPayload, "unsupported message type "+inbound.Type))
		}
	}
}

func (h *Handler) serveProjection(ctx context.Context, client *Client, accessCode string) {
	full, err := h.state.FullGameState(ctx, accessCode)
	if err != nil {
		client.Send("error", rejectionFor(err))
		return
	}
	h.hub.JoinRoom(app.ProjectionRoom(full.GameState.GameID), client)
	client.Send("game_state", full)

	for {
		var inbound inboundMessage
		if err := client.conn.ReadJSON(&inbound); err != nil {
			return
		}
		switch inbound.Type {
		case "get_full_state":
			full, err := h.state.FullGameState(ctx, accessCode)
			if err != nil {
				client.Send("error", rejectionFor(err))
				continue
			}
			client.Send("game_state", full)
		default:
			client.Send("error", domain.Reject(domain.CodeInvalidPayload, "unsupported message type "+inbound.Type))
		}
	}
}

// ack sends either the success payload or the mapped rejection.
func (h *Handler) ack(client *Client, event string, payload any, err error) {
	if err != nil {
		client.Send("error", rejectionFor(err))
		return
	}
	client.Send(event, payload)
}

// rejectionFor maps internal errors to client-facing rejections without
// leaking store details.
func rejectionFor(err error) *domain.Rejection {
	var rej *domain.Rejection
	switch {
	case errors.As(err, &rej):
		return rej
	case errors.Is(err, domain.ErrGameNotFound):
		return domain.Reject(domain.CodeGameNotFound, "game not found")
	case errors.Is(err, domain.ErrNotAuthorized):
		return domain.Reject(domain.CodeNotAuthorized, "not authorized for this game")
	case errors.Is(err, domain.ErrSessionAlreadyRunning):
		return domain.Reject(domain.CodeDeferredNotAvailable, "a deferred session is already running")
	case errors.Is(err, domain.ErrInvalidQuestionIndex):
		return domain.Reject(domain.CodeInvalidPayload, "question index out of range")
	case errors.Is(err, domain.ErrIllegalTransition):
		return domain.Reject(domain.CodeGameNotActive, "game lifecycle does not allow this action")
	default:
		return domain.Reject(domain.CodeSubmissionError, "internal error")
	}
}
