package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/mcdev12/ludus/go/internal/game/orchestrator"
	"github.com/mcdev12/ludus/go/internal/models"
	"github.com/rs/zerolog/log"
)

const maxBodyBytes = 1 << 20

// MessageHistory lists recent chat messages of a room.
type MessageHistory interface {
	History(ctx context.Context, roomID string, offset, limit int64) ([]models.ChatMessage, error)
}

// Handler serves the game HTTP API
type Handler struct {
	games   *orchestrator.Orchestrator
	history MessageHistory
}

// NewHandler creates the API handler. history may be nil.
func NewHandler(games *orchestrator.Orchestrator, history MessageHistory) *Handler {
	return &Handler{games: games, history: history}
}

// RegisterRoutes registers the game routes with an HTTP mux
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/games", h.CreateGame)
	mux.HandleFunc("POST /api/games/{id}/generate", h.GenerateQuestions)
	mux.HandleFunc("POST /api/games/{id}/start", h.StartGame)
	mux.HandleFunc("POST /api/games/{id}/answers", h.SubmitAnswer)
	mux.HandleFunc("GET /api/games/{id}/status", h.GetStatus)
	mux.HandleFunc("GET /api/games/{id}/question", h.GetCurrentQuestion)
	mux.HandleFunc("GET /api/games/{id}/ranking", h.GetRanking)
	mux.HandleFunc("GET /api/rooms/{roomID}/game", h.GetActiveGame)
	mux.HandleFunc("DELETE /api/rooms/{roomID}/games", h.CleanupRoom)
	if h.history != nil {
		mux.HandleFunc("GET /api/rooms/{roomID}/messages", h.GetMessages)
	}
}

// CreateGameRequest is the body of POST /api/games
type CreateGameRequest struct {
	RoomID         string              `json:"room_id"`
	ParticipantIDs []string            `json:"participant_ids"`
	Settings       models.GameSettings `json:"settings"`
}

// CreateGame handles POST /api/games. Questions are generated in the
// background; progress arrives as room events.
func (h *Handler) CreateGame(w http.ResponseWriter, r *http.Request) {
	var req CreateGameRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Settings.RequestedQuestions() <= 0 {
		writeError(w, http.StatusBadRequest, "settings must request at least one question")
		return
	}

	session, err := h.games.Create(r.Context(), orchestrator.CreateGameRequest{
		RoomID:         req.RoomID,
		HostUserID:     r.Header.Get("X-User-ID"),
		ParticipantIDs: req.ParticipantIDs,
		Settings:       req.Settings,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if err := h.games.GenerateAsync(session.ID, orchestrator.GenerateRequest{}); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, session)
}

// GenerateRequest is the optional body of POST /api/games/{id}/generate
type GenerateRequest struct {
	Settings *models.GameSettings `json:"settings,omitempty"`
}

// GenerateQuestions handles POST /api/games/{id}/generate, retrying
// generation for a game that is still preparing.
func (h *Handler) GenerateQuestions(w http.ResponseWriter, r *http.Request) {
	gameID, ok := pathGameID(w, r)
	if !ok {
		return
	}
	var req GenerateRequest
	if r.ContentLength != 0 && !decodeBody(w, r, &req) {
		return
	}
	if req.Settings != nil && req.Settings.RequestedQuestions() <= 0 {
		writeError(w, http.StatusBadRequest, "settings must request at least one question")
		return
	}
	if _, err := h.games.GetStatus(r.Context(), gameID); err != nil {
		writeServiceError(w, err)
		return
	}
	if err := h.games.GenerateAsync(gameID, orchestrator.GenerateRequest{Settings: req.Settings}); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// StartGame handles POST /api/games/{id}/start
func (h *Handler) StartGame(w http.ResponseWriter, r *http.Request) {
	gameID, ok := pathGameID(w, r)
	if !ok {
		return
	}
	if err := h.games.Start(r.Context(), gameID); err != nil {
		writeServiceError(w, err)
		return
	}
	status, err := h.games.GetStatus(r.Context(), gameID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// SubmitAnswerRequest is the body of POST /api/games/{id}/answers. Without
// question_index the answer targets the current question.
type SubmitAnswerRequest struct {
	Answer        string `json:"answer"`
	QuestionIndex *int   `json:"question_index,omitempty"`
	MessageID     string `json:"message_id,omitempty"`
	UserName      string `json:"user_name,omitempty"`
}

// SubmitAnswer handles POST /api/games/{id}/answers
func (h *Handler) SubmitAnswer(w http.ResponseWriter, r *http.Request) {
	gameID, ok := pathGameID(w, r)
	if !ok {
		return
	}
	userID := r.Header.Get("X-User-ID")
	if userID == "" {
		writeError(w, http.StatusUnauthorized, "X-User-ID header is required")
		return
	}
	var req SubmitAnswerRequest
	if !decodeBody(w, r, &req) {
		return
	}

	index := 0
	if req.QuestionIndex != nil {
		index = *req.QuestionIndex
	} else {
		status, err := h.games.GetStatus(r.Context(), gameID)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		index = status.CurrentQuestionIndex
	}

	result, err := h.games.SubmitAnswer(r.Context(), orchestrator.SubmitAnswerRequest{
		GameID:        gameID,
		UserID:        userID,
		UserName:      req.UserName,
		MessageID:     req.MessageID,
		QuestionIndex: index,
		Answer:        req.Answer,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// GetStatus handles GET /api/games/{id}/status
func (h *Handler) GetStatus(w http.ResponseWriter, r *http.Request) {
	gameID, ok := pathGameID(w, r)
	if !ok {
		return
	}
	status, err := h.games.GetStatus(r.Context(), gameID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// GetCurrentQuestion handles GET /api/games/{id}/question
func (h *Handler) GetCurrentQuestion(w http.ResponseWriter, r *http.Request) {
	gameID, ok := pathGameID(w, r)
	if !ok {
		return
	}
	question, err := h.games.GetCurrentQuestion(r.Context(), gameID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, question)
}

// GetRanking handles GET /api/games/{id}/ranking
func (h *Handler) GetRanking(w http.ResponseWriter, r *http.Request) {
	gameID, ok := pathGameID(w, r)
	if !ok {
		return
	}
	ranking, err := h.games.Ranking(r.Context(), gameID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"game_id": gameID, "ranking": ranking})
}

// GetActiveGame handles GET /api/rooms/{roomID}/game
func (h *Handler) GetActiveGame(w http.ResponseWriter, r *http.Request) {
	gameID, err := h.games.ActiveGame(r.Context(), r.PathValue("roomID"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	status, err := h.games.GetStatus(r.Context(), gameID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// CleanupRoom handles DELETE /api/rooms/{roomID}/games
func (h *Handler) CleanupRoom(w http.ResponseWriter, r *http.Request) {
	deleted, err := h.games.CleanupRoom(r.Context(), r.PathValue("roomID"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"deleted": deleted})
}

// GetMessages handles GET /api/rooms/{roomID}/messages?offset=&limit=
func (h *Handler) GetMessages(w http.ResponseWriter, r *http.Request) {
	offset := queryInt(r, "offset", 0)
	limit := queryInt(r, "limit", 50)
	if offset < 0 || limit <= 0 || limit > 200 {
		writeError(w, http.StatusBadRequest, "offset must be >= 0 and limit in 1..200")
		return
	}
	messages, err := h.history.History(r.Context(), r.PathValue("roomID"), int64(offset), int64(limit))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"messages": messages})
}

func pathGameID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	gameID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid game id format")
		return uuid.Nil, false
	}
	return gameID, true
}

func queryInt(r *http.Request, key string, fallback int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return -1
	}
	return n
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	return true
}

// statusFor maps service errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, orchestrator.ErrGameNotFound),
		errors.Is(err, orchestrator.ErrNoCurrentQuestion):
		return http.StatusNotFound
	case errors.Is(err, orchestrator.ErrInvalidRequest),
		errors.Is(err, orchestrator.ErrQuestionMismatch):
		return http.StatusBadRequest
	case errors.Is(err, orchestrator.ErrInvalidTransition),
		errors.Is(err, orchestrator.ErrNotAcceptingAnswers),
		errors.Is(err, orchestrator.ErrNoQuestions),
		errors.Is(err, orchestrator.ErrTransitionInProgress),
		errors.Is(err, orchestrator.ErrGenerationInProgress):
		return http.StatusConflict
	case errors.Is(err, orchestrator.ErrOrchestratorIsClosing):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeServiceError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		log.Error().Err(err).Msg("request failed")
		writeError(w, status, "internal error")
		return
	}
	writeError(w, status, strings.TrimSpace(err.Error()))
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
