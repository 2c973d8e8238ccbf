package models

import (
	"time"

	"github.com/google/uuid"
)

// GameStatus defines the lifecycle state of a game session.
type GameStatus string

const (
	GameStatusPreparing   GameStatus = "preparing"
	GameStatusGenerating  GameStatus = "generating"
	GameStatusReady       GameStatus = "ready"
	GameStatusPlaying     GameStatus = "playing"
	GameStatusWaitingNext GameStatus = "waiting_next"
	GameStatusFinished    GameStatus = "finished"
)

// IsValid reports whether s is one of the known statuses.
func (s GameStatus) IsValid() bool {
	switch s {
	case GameStatusPreparing, GameStatusGenerating, GameStatusReady,
		GameStatusPlaying, GameStatusWaitingNext, GameStatusFinished:
		return true
	}
	return false
}

// ProblemSpec asks for Count questions of one kind.
type ProblemSpec struct {
	Content string `json:"content"`
	Count   int    `json:"count"`
}

// GameSettings holds the generation settings chosen by the host.
type GameSettings struct {
	DocumentIDs         []string      `json:"document_ids,omitempty"`
	Problems            []ProblemSpec `json:"problems"`
	UseGeneralKnowledge bool          `json:"use_general_knowledge,omitempty"`
	AutoStart           bool          `json:"auto_start"`
}

// RequestedQuestions is the number of questions the settings ask for.
func (s GameSettings) RequestedQuestions() int {
	total := 0
	for _, p := range s.Problems {
		total += p.Count
	}
	return total
}

// GameSession represents one trivia game played in a room.
type GameSession struct {
	ID                   uuid.UUID    `json:"id"`
	RoomID               string       `json:"room_id"`
	HostUserID           string       `json:"host_user_id"`
	Status               GameStatus   `json:"status"`
	CurrentQuestionIndex int          `json:"current_question_index"`
	TotalQuestions       int          `json:"total_questions"`
	Settings             GameSettings `json:"settings"`
	CreatedAt            time.Time    `json:"created_at"`
	StartedAt            *time.Time   `json:"started_at,omitempty"`
	FinishedAt           *time.Time   `json:"finished_at,omitempty"`
}
