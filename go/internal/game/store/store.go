package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mcdev12/ludus/go/internal/models"
)

var (
	// ErrNotFound is returned when a game or value does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when an optimistic update keeps losing to concurrent writers.
	ErrConflict = errors.New("concurrent update conflict")
)

// maxUpdateRetries bounds optimistic read-modify-write loops.
const maxUpdateRetries = 16

// TimerToken identifies one issued question timer. Only the most recently
// issued token for a game is active.
type TimerToken struct {
	GameID        uuid.UUID
	QuestionIndex int
	Seq           int64
}

func (t TimerToken) String() string {
	return fmt.Sprintf("%s/%d/%d", t.GameID, t.QuestionIndex, t.Seq)
}

// SessionUpdate mutates a session in place. Returning an error aborts the
// update without writing anything.
type SessionUpdate func(s *models.GameSession) error

// ScoreUpdate mutates a score record in place and reports whether it changed.
type ScoreUpdate func(r *models.ScoreRecord) bool

// Store is the persistence contract of the game engine. Every method is
// atomic on its own; no method spans a transaction across games.
type Store interface {
	CreateSession(ctx context.Context, session *models.GameSession) error
	GetSession(ctx context.Context, gameID uuid.UUID) (*models.GameSession, error)
	UpdateSession(ctx context.Context, gameID uuid.UUID, fn SessionUpdate) (*models.GameSession, error)

	AddParticipant(ctx context.Context, gameID uuid.UUID, userID string) (bool, error)
	IsParticipant(ctx context.Context, gameID uuid.UUID, userID string) (bool, error)
	Participants(ctx context.Context, gameID uuid.UUID) ([]string, error)

	InitScore(ctx context.Context, gameID uuid.UUID, userID string) error
	GetScore(ctx context.Context, gameID uuid.UUID, userID string) (*models.ScoreRecord, error)
	UpdateScore(ctx context.Context, gameID uuid.UUID, userID string, fn ScoreUpdate) (models.ScoreRecord, error)
	Scores(ctx context.Context, gameID uuid.UUID) (map[string]models.ScoreRecord, error)

	SaveQuestions(ctx context.Context, gameID uuid.UUID, questions []models.Question) error
	GetQuestions(ctx context.Context, gameID uuid.UUID) ([]models.Question, error)

	AppendAnswer(ctx context.Context, gameID uuid.UUID, answer models.AnswerSubmission) error
	Answers(ctx context.Context, gameID uuid.UUID, questionIndex int) ([]models.AnswerSubmission, error)

	IssueTimerToken(ctx context.Context, gameID uuid.UUID, questionIndex int) (TimerToken, error)
	TimerActive(ctx context.Context, token TimerToken) (bool, error)

	AcquireLease(ctx context.Context, gameID uuid.UUID, name, owner string, ttl time.Duration) (bool, error)
	ReleaseLease(ctx context.Context, gameID uuid.UUID, name, owner string) error

	SetActiveGame(ctx context.Context, roomID string, gameID uuid.UUID) error
	ActiveGame(ctx context.Context, roomID string) (uuid.UUID, error)
	ClearActiveGame(ctx context.Context, roomID string, gameID uuid.UUID) error
	AddRoomGame(ctx context.Context, roomID string, gameID uuid.UUID) error
	RoomGames(ctx context.Context, roomID string) ([]uuid.UUID, error)

	DeleteGame(ctx context.Context, gameID uuid.UUID) error
	DeleteRoom(ctx context.Context, roomID string) error
}

func gameKey(gameID uuid.UUID) string {
	return fmt.Sprintf("game:%s", gameID)
}

func participantsKey(gameID uuid.UUID) string {
	return fmt.Sprintf("game:%s:participants", gameID)
}

func scoreKey(gameID uuid.UUID, userID string) string {
	return fmt.Sprintf("game:%s:score:%s", gameID, userID)
}

func questionsKey(gameID uuid.UUID) string {
	return fmt.Sprintf("game:%s:questions", gameID)
}

func answersKey(gameID uuid.UUID, questionIndex int) string {
	return fmt.Sprintf("game:%s:answers:%d", gameID, questionIndex)
}

func timerKey(gameID uuid.UUID) string {
	return fmt.Sprintf("game:%s:timer", gameID)
}

func leaseKey(gameID uuid.UUID, name string) string {
	return fmt.Sprintf("game:%s:lease:%s", gameID, name)
}

func activeGameKey(roomID string) string {
	return fmt.Sprintf("room:%s:active_game", roomID)
}

func roomGamesKey(roomID string) string {
	return fmt.Sprintf("room:%s:games", roomID)
}

var (
	_ Store = (*RedisStore)(nil)
	_ Store = (*MemoryStore)(nil)
)
