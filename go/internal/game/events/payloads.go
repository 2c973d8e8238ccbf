package events

import (
	"github.com/mcdev12/ludus/go/internal/models"
)

// Payload types shared between the orchestrator, chat and gateway packages

// StatusUpdatePayload is the payload for a game_status_update event
type StatusUpdatePayload struct {
	GameID               string         `json:"game_id"`
	Status               string         `json:"status"`
	CurrentQuestionIndex int            `json:"current_question_index"`
	TotalQuestions       int            `json:"total_questions"`
	Scores               map[string]int `json:"scores"`
}

// QuestionView is the part of a question players may see while it is open.
type QuestionView struct {
	Text        string `json:"question"`
	Context     string `json:"context,omitempty"`
	ProblemType string `json:"problem_type,omitempty"`
}

// NewQuestionView strips the answer material from q.
func NewQuestionView(q models.Question) QuestionView {
	return QuestionView{Text: q.Text, Context: q.Context, ProblemType: q.ProblemType}
}

// QuestionPayload is the payload for a game_question event
type QuestionPayload struct {
	GameID         string       `json:"game_id"`
	Question       QuestionView `json:"question"`
	QuestionIndex  int          `json:"question_index"`
	TotalQuestions int          `json:"total_questions"`
	TimeLimit      int          `json:"time_limit"`
}

// TimerPayload is the payload for a game_timer event
type TimerPayload struct {
	GameID        string `json:"game_id"`
	QuestionIndex int    `json:"question_index"`
	TimeRemaining int    `json:"time_remaining"`
}

// GradingResultPayload is the payload for a game_grading_result event
type GradingResultPayload struct {
	GameID        string `json:"game_id"`
	UserID        string `json:"user_id"`
	UserName      string `json:"user_name,omitempty"`
	MessageID     string `json:"message_id,omitempty"`
	QuestionIndex int    `json:"question_index"`
	IsCorrect     bool   `json:"is_correct"`
	Score         int    `json:"score"`
	Feedback      string `json:"feedback"`
}

// RankingPayload is the payload for a game_ranking event
type RankingPayload struct {
	GameID  string                `json:"game_id"`
	Ranking []models.RankingEntry `json:"ranking"`
}

// MessagePayload is the payload for a message event
type MessagePayload struct {
	Message models.ChatMessage `json:"message"`
}
