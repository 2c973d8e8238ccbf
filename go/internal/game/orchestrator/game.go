package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/mcdev12/ludus/go/internal/game/events"
	"github.com/mcdev12/ludus/go/internal/game/store"
	"github.com/mcdev12/ludus/go/internal/models"
	"github.com/rs/zerolog/log"
)

// CreateGameRequest describes a new game.
type CreateGameRequest struct {
	RoomID         string
	HostUserID     string
	ParticipantIDs []string
	Settings       models.GameSettings
}

// SubmitAnswerRequest is one player's answer to the current question.
type SubmitAnswerRequest struct {
	GameID        uuid.UUID
	UserID        string
	UserName      string
	MessageID     string
	QuestionIndex int
	Answer        string
}

// AnswerResult is the graded outcome of a submission.
type AnswerResult struct {
	Submission models.AnswerSubmission `json:"submission"`
	TotalScore int                     `json:"total_score"`
	// ClosedQuestion is true when this answer ended the question.
	ClosedQuestion bool `json:"closed_question"`
}

// GameStatusView is the public status of a game.
type GameStatusView struct {
	GameID               uuid.UUID         `json:"game_id"`
	RoomID               string            `json:"room_id"`
	Status               models.GameStatus `json:"status"`
	CurrentQuestionIndex int               `json:"current_question_index"`
	TotalQuestions       int               `json:"total_questions"`
	ParticipantCount     int               `json:"participant_count"`
	Scores               map[string]int    `json:"scores"`
}

// CurrentQuestion is the open question without its answer material.
type CurrentQuestion struct {
	Question events.QuestionView `json:"question"`
	Index    int                 `json:"index"`
	Total    int                 `json:"total"`
}

// Create registers a new game in the preparing state and makes it the room's active game.
func (o *Orchestrator) Create(ctx context.Context, req CreateGameRequest) (*models.GameSession, error) {
	if strings.TrimSpace(req.RoomID) == "" {
		return nil, fmt.Errorf("%w: room id is required", ErrInvalidRequest)
	}

	session := &models.GameSession{
		ID:         uuid.New(),
		RoomID:     req.RoomID,
		HostUserID: req.HostUserID,
		Status:     models.GameStatusPreparing,
		Settings:   req.Settings,
		CreatedAt:  o.clock.Now().UTC(),
	}
	if err := o.store.CreateSession(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to create game: %w", err)
	}

	for _, userID := range req.ParticipantIDs {
		if userID == "" {
			continue
		}
		if err := o.join(ctx, session.ID, userID); err != nil {
			return nil, err
		}
	}

	if err := o.store.AddRoomGame(ctx, session.RoomID, session.ID); err != nil {
		return nil, fmt.Errorf("failed to index game: %w", err)
	}
	if err := o.store.SetActiveGame(ctx, session.RoomID, session.ID); err != nil {
		return nil, fmt.Errorf("failed to set active game: %w", err)
	}

	log.Info().
		Str("game_id", session.ID.String()).
		Str("room_id", session.RoomID).
		Int("participants", len(req.ParticipantIDs)).
		Msg("game created")
	return session, nil
}

// join adds userID to the game with a zeroed score record.
func (o *Orchestrator) join(ctx context.Context, gameID uuid.UUID, userID string) error {
	if _, err := o.store.AddParticipant(ctx, gameID, userID); err != nil {
		return fmt.Errorf("failed to add participant %s: %w", userID, err)
	}
	if err := o.store.InitScore(ctx, gameID, userID); err != nil {
		return fmt.Errorf("failed to init score for %s: %w", userID, err)
	}
	return nil
}

// MarkReady stores the questions and moves the game to ready.
func (o *Orchestrator) MarkReady(ctx context.Context, gameID uuid.UUID, questions []models.Question) error {
	if len(questions) == 0 {
		return ErrNoQuestions
	}

	session, err := o.getSession(ctx, gameID)
	if err != nil {
		return err
	}
	if !canPrepare(session.Status) {
		return fmt.Errorf("%w: cannot mark %s game ready", ErrInvalidTransition, session.Status)
	}

	if err := o.store.SaveQuestions(ctx, gameID, questions); err != nil {
		return fmt.Errorf("failed to save questions: %w", err)
	}

	updated, err := o.store.UpdateSession(ctx, gameID, func(s *models.GameSession) error {
		if !canPrepare(s.Status) {
			return fmt.Errorf("%w: cannot mark %s game ready", ErrInvalidTransition, s.Status)
		}
		s.Status = models.GameStatusReady
		s.TotalQuestions = len(questions)
		s.CurrentQuestionIndex = 0
		return nil
	})
	if err != nil {
		return err
	}

	log.Info().Str("game_id", gameID.String()).Int("questions", len(questions)).Msg("game ready")
	o.emitStatus(ctx, updated)
	return nil
}

func canPrepare(status models.GameStatus) bool {
	return status == models.GameStatusPreparing || status == models.GameStatusGenerating
}

// Start opens the first question. Valid only from ready.
func (o *Orchestrator) Start(ctx context.Context, gameID uuid.UUID) error {
	owner := o.leaseOwner()
	ok, err := o.store.AcquireLease(ctx, gameID, leaseAdvance, owner, o.cfg.AdvanceLeaseTTL)
	if err != nil {
		return fmt.Errorf("failed to acquire lease: %w", err)
	}
	if !ok {
		return ErrTransitionInProgress
	}
	defer o.releaseLease(ctx, gameID, leaseAdvance, owner)

	session, err := o.getSession(ctx, gameID)
	if err != nil {
		return err
	}
	if session.Status != models.GameStatusReady {
		return fmt.Errorf("%w: cannot start %s game", ErrInvalidTransition, session.Status)
	}
	questions, err := o.store.GetQuestions(ctx, gameID)
	if err != nil {
		return fmt.Errorf("failed to load questions: %w", err)
	}
	if len(questions) == 0 {
		return ErrNoQuestions
	}

	token, err := o.store.IssueTimerToken(ctx, gameID, 0)
	if err != nil {
		return fmt.Errorf("failed to issue timer token: %w", err)
	}

	now := o.clock.Now().UTC()
	updated, err := o.store.UpdateSession(ctx, gameID, func(s *models.GameSession) error {
		if s.Status != models.GameStatusReady {
			return fmt.Errorf("%w: cannot start %s game", ErrInvalidTransition, s.Status)
		}
		s.Status = models.GameStatusPlaying
		s.CurrentQuestionIndex = 0
		s.StartedAt = &now
		return nil
	})
	if err != nil {
		return err
	}

	log.Info().
		Str("game_id", gameID.String()).
		Str("room_id", updated.RoomID).
		Int("total_questions", updated.TotalQuestions).
		Msg("game started")

	o.openQuestion(ctx, updated, questions[0], token)
	return nil
}

// SubmitAnswer grades an answer for the open question and records its score.
func (o *Orchestrator) SubmitAnswer(ctx context.Context, req SubmitAnswerRequest) (*AnswerResult, error) {
	if strings.TrimSpace(req.UserID) == "" {
		return nil, fmt.Errorf("%w: user id is required", ErrInvalidRequest)
	}

	session, err := o.getSession(ctx, req.GameID)
	if err != nil {
		return nil, err
	}
	if session.Status != models.GameStatusPlaying {
		return nil, ErrNotAcceptingAnswers
	}
	if req.QuestionIndex != session.CurrentQuestionIndex {
		return nil, ErrQuestionMismatch
	}

	questions, err := o.store.GetQuestions(ctx, req.GameID)
	if err != nil {
		return nil, fmt.Errorf("failed to load questions: %w", err)
	}
	if req.QuestionIndex < 0 || req.QuestionIndex >= len(questions) {
		return nil, ErrNoCurrentQuestion
	}
	question := questions[req.QuestionIndex]

	// Accepted: grading and recording finish even if the caller goes away.
	ctx = context.WithoutCancel(ctx)

	joined, err := o.store.AddParticipant(ctx, req.GameID, req.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to add participant: %w", err)
	}
	if joined {
		if err := o.store.InitScore(ctx, req.GameID, req.UserID); err != nil {
			return nil, fmt.Errorf("failed to init score: %w", err)
		}
		log.Info().Str("game_id", req.GameID.String()).Str("user_id", req.UserID).Msg("late participant joined")
	}

	grade := o.grade(ctx, question, req.Answer)
	submittedAt := o.clock.Now().UTC()

	submission := models.AnswerSubmission{
		UserID:        req.UserID,
		UserName:      req.UserName,
		MessageID:     req.MessageID,
		QuestionIndex: req.QuestionIndex,
		Answer:        req.Answer,
		Score:         grade.Score,
		IsCorrect:     grade.IsCorrect,
		Feedback:      grade.Feedback,
		SubmittedAt:   submittedAt,
	}
	if err := o.store.AppendAnswer(ctx, req.GameID, submission); err != nil {
		return nil, fmt.Errorf("failed to record answer: %w", err)
	}
	recorded, err := o.ledger.Record(ctx, req.GameID, req.UserID, req.QuestionIndex, grade.Score, submittedAt)
	if err != nil {
		return nil, err
	}

	o.emit(session.RoomID, session.ID, events.EventTypeGradingResult, events.GradingResultPayload{
		GameID:        session.ID.String(),
		UserID:        req.UserID,
		UserName:      req.UserName,
		MessageID:     req.MessageID,
		QuestionIndex: req.QuestionIndex,
		IsCorrect:     grade.IsCorrect,
		Score:         grade.Score,
		Feedback:      grade.Feedback,
	})

	log.Info().
		Str("game_id", req.GameID.String()).
		Str("user_id", req.UserID).
		Int("question_index", req.QuestionIndex).
		Int("score", grade.Score).
		Bool("correct", grade.IsCorrect).
		Msg("answer graded")

	result := &AnswerResult{Submission: submission, TotalScore: recorded.Record.TotalScore}
	if !grade.IsCorrect {
		return result, nil
	}

	closed, token, err := o.closeQuestion(ctx, req.GameID, req.QuestionIndex)
	if err != nil {
		log.Error().Err(err).Str("game_id", req.GameID.String()).Msg("failed to close question after correct answer")
		return result, nil
	}
	if !closed {
		return result, nil
	}
	result.ClosedQuestion = true

	name := req.UserName
	if name == "" {
		name = fallbackName(req.UserID)
	}
	last := req.QuestionIndex+1 >= session.TotalQuestions
	o.tasks.Go("explain-then-advance", req.GameID, func(ctx context.Context) error {
		o.announceThenAdvance(ctx, token, o.cfg.ticks(o.cfg.ExplanationDelayTicks), func(ctx context.Context) {
			o.postSystem(ctx, session.RoomID, correctMessage(name, question, last), MessageTypeGameAnswer)
		})
		return nil
	})
	return result, nil
}

// errQuestionClosed aborts closeQuestion when the question already moved on.
var errQuestionClosed = errors.New("question already closed")

// closeQuestion moves playing -> waiting_next for questionIndex. Exactly one
// caller per index gets closed=true, together with a fresh token that
// supersedes the running timer and guards the delayed advance.
func (o *Orchestrator) closeQuestion(ctx context.Context, gameID uuid.UUID, questionIndex int) (bool, store.TimerToken, error) {
	updated, err := o.store.UpdateSession(ctx, gameID, func(s *models.GameSession) error {
		if s.Status != models.GameStatusPlaying || s.CurrentQuestionIndex != questionIndex {
			return errQuestionClosed
		}
		s.Status = models.GameStatusWaitingNext
		return nil
	})
	if errors.Is(err, errQuestionClosed) {
		return false, store.TimerToken{}, nil
	}
	if err != nil {
		return false, store.TimerToken{}, err
	}

	log.Info().Str("game_id", gameID.String()).Int("question_index", questionIndex).Msg("question closed")
	o.emitStatus(ctx, updated)

	token, err := o.store.IssueTimerToken(ctx, gameID, questionIndex)
	if err != nil {
		// The old timer still stops on the status change. An empty token makes
		// the delayed advance skip its supersede check.
		log.Error().Err(err).Str("game_id", gameID.String()).Msg("failed to issue timer token on close")
		return true, store.TimerToken{GameID: gameID, QuestionIndex: questionIndex}, nil
	}
	return true, token, nil
}

// GetStatus returns the public status of a game.
func (o *Orchestrator) GetStatus(ctx context.Context, gameID uuid.UUID) (*GameStatusView, error) {
	session, err := o.getSession(ctx, gameID)
	if err != nil {
		return nil, err
	}
	participants, err := o.store.Participants(ctx, gameID)
	if err != nil {
		return nil, fmt.Errorf("failed to load participants: %w", err)
	}
	scores, err := o.store.Scores(ctx, gameID)
	if err != nil {
		return nil, fmt.Errorf("failed to load scores: %w", err)
	}

	totals := make(map[string]int, len(scores))
	for userID, record := range scores {
		totals[userID] = record.TotalScore
	}
	return &GameStatusView{
		GameID:               session.ID,
		RoomID:               session.RoomID,
		Status:               session.Status,
		CurrentQuestionIndex: session.CurrentQuestionIndex,
		TotalQuestions:       session.TotalQuestions,
		ParticipantCount:     len(participants),
		Scores:               totals,
	}, nil
}

// GetCurrentQuestion returns the open question of a playing game.
func (o *Orchestrator) GetCurrentQuestion(ctx context.Context, gameID uuid.UUID) (*CurrentQuestion, error) {
	session, err := o.getSession(ctx, gameID)
	if err != nil {
		return nil, err
	}
	if session.Status != models.GameStatusPlaying && session.Status != models.GameStatusWaitingNext {
		return nil, ErrNoCurrentQuestion
	}
	questions, err := o.store.GetQuestions(ctx, gameID)
	if err != nil {
		return nil, fmt.Errorf("failed to load questions: %w", err)
	}
	idx := session.CurrentQuestionIndex
	if idx < 0 || idx >= len(questions) {
		return nil, ErrNoCurrentQuestion
	}
	return &CurrentQuestion{
		Question: events.NewQuestionView(questions[idx]),
		Index:    idx,
		Total:    session.TotalQuestions,
	}, nil
}

// ActiveGame returns the game currently running in roomID.
func (o *Orchestrator) ActiveGame(ctx context.Context, roomID string) (uuid.UUID, error) {
	gameID, err := o.store.ActiveGame(ctx, roomID)
	if errors.Is(err, store.ErrNotFound) {
		return uuid.Nil, ErrGameNotFound
	}
	return gameID, err
}

// CleanupRoom deletes every game of roomID and returns how many were removed.
func (o *Orchestrator) CleanupRoom(ctx context.Context, roomID string) (int, error) {
	gameIDs, err := o.store.RoomGames(ctx, roomID)
	if err != nil {
		return 0, fmt.Errorf("failed to list room games: %w", err)
	}
	deleted := 0
	for _, gameID := range gameIDs {
		if err := o.store.DeleteGame(ctx, gameID); err != nil {
			return deleted, fmt.Errorf("failed to delete game %s: %w", gameID, err)
		}
		deleted++
	}
	if err := o.store.DeleteRoom(ctx, roomID); err != nil {
		return deleted, fmt.Errorf("failed to delete room keys: %w", err)
	}
	log.Info().Str("room_id", roomID).Int("games", deleted).Msg("room games cleaned up")
	return deleted, nil
}
