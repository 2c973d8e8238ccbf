package models

import "time"

// ScoreRecord is a participant's cumulative score for one game.
//
// TotalScore always equals the sum of PerQuestionBest.
type ScoreRecord struct {
	UserID          string      `json:"user_id"`
	TotalScore      int         `json:"total_score"`
	CorrectAnswers  int         `json:"correct_answers"`
	PerQuestionBest map[int]int `json:"per_question_best"`
	FirstCorrectAt  *time.Time  `json:"first_correct_at,omitempty"`
}

// NewScoreRecord returns a zeroed record for userID.
func NewScoreRecord(userID string) ScoreRecord {
	return ScoreRecord{
		UserID:          userID,
		PerQuestionBest: make(map[int]int),
	}
}

// RankingEntry is one row of the final ranking.
type RankingEntry struct {
	Rank           int    `json:"rank"`
	UserID         string `json:"user_id"`
	UserName       string `json:"user_name"`
	TotalScore     int    `json:"total_score"`
	CorrectAnswers int    `json:"correct_answers"`
}

// RoomMember is a user belonging to a chat room.
type RoomMember struct {
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name"`
}

// ChatMessage is a message posted to a room's chat.
type ChatMessage struct {
	ID          string    `json:"id"`
	RoomID      string    `json:"room_id"`
	UserID      string    `json:"user_id"`
	UserName    string    `json:"user_name"`
	Content     string    `json:"content"`
	MessageType string    `json:"message_type"`
	CreatedAt   time.Time `json:"created_at"`
}
