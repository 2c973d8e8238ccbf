package models

import "time"

// Question is a single generated trivia question. Immutable once stored.
type Question struct {
	Text            string `json:"question"`
	ReferenceAnswer string `json:"reference_answer"`
	Hint            string `json:"hint,omitempty"`
	Explanation     string `json:"explanation,omitempty"`
	Context         string `json:"context,omitempty"`
	SourceExcerpt   string `json:"source_chunk,omitempty"`
	ProblemType     string `json:"problem_type,omitempty"`
}

// AnswerSubmission is one graded answer. Submissions are append-only.
type AnswerSubmission struct {
	UserID        string    `json:"user_id"`
	UserName      string    `json:"user_name,omitempty"`
	MessageID     string    `json:"message_id,omitempty"`
	QuestionIndex int       `json:"question_index"`
	Answer        string    `json:"answer"`
	Score         int       `json:"score"`
	IsCorrect     bool      `json:"is_correct"`
	Feedback      string    `json:"feedback"`
	SubmittedAt   time.Time `json:"submitted_at"`
}

// GradeRequest is the input to an answer grader.
type GradeRequest struct {
	QuestionText    string
	ReferenceAnswer string
	UserAnswer      string
	Context         string
}

// GradeResult is a graded answer. Score is in 0..100.
type GradeResult struct {
	Score     int    `json:"score"`
	IsCorrect bool   `json:"is_correct"`
	Feedback  string `json:"feedback"`
}
