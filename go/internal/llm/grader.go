package llm

import (
	"context"
	"fmt"

	"github.com/mcdev12/ludus/go/internal/models"
	"github.com/rs/zerolog/log"
)

// Grader scores free-text answers with Gemini on a 100/70/30/0 rubric.
type Grader struct {
	client *Client
	config Config
}

// NewGrader creates an answer grader
func NewGrader(client *Client, config Config) *Grader {
	return &Grader{client: client, config: config}
}

// Grade scores req.UserAnswer against req.ReferenceAnswer.
func (g *Grader) Grade(ctx context.Context, req models.GradeRequest) (models.GradeResult, error) {
	prompt := fmt.Sprintf(gradePrompt, req.QuestionText, req.ReferenceAnswer, req.Context, req.UserAnswer)

	var result models.GradeResult
	if err := g.client.GenerateJSON(ctx, g.config.GradeModel, prompt, &result); err != nil {
		return models.GradeResult{}, fmt.Errorf("grade answer: %w", err)
	}
	log.Debug().Int("score", result.Score).Bool("is_correct", result.IsCorrect).Msg("graded answer")
	return result, nil
}

const gradePrompt = `You are a fair and accurate quiz grader.

Question: %s
Reference answer: %s
Background: %s
Player answer: %s

Scoring:
- 100: fully correct, same meaning as the reference answer
- 70: the main idea is right but something is incomplete
- 30: heading the right way but inaccurate
- 0: wrong or empty

Accept differences in spelling variant, script, abbreviation versus full name,
word order, particles and letter case.

Reply with JSON only, in this shape:
{
  "score": 100,
  "is_correct": true,
  "feedback": "short feedback for the player"
}`
