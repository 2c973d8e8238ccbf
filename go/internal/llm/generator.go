package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/mcdev12/ludus/go/internal/models"
	"github.com/rs/zerolog/log"
)

// Generator writes trivia questions with Gemini.
type Generator struct {
	client *Client
	config Config
}

// NewGenerator creates a question generator
func NewGenerator(client *Client, config Config) *Generator {
	return &Generator{client: client, config: config}
}

type generatedQuestions struct {
	Questions []models.Question `json:"questions"`
}

// Generate writes count questions of problemType drawn from excerpts.
func (g *Generator) Generate(ctx context.Context, problemType string, count int, excerpts []string) ([]models.Question, error) {
	var material strings.Builder
	for i, excerpt := range excerpts {
		fmt.Fprintf(&material, "[Excerpt %d]\n%s\n\n", i+1, excerpt)
	}
	prompt := fmt.Sprintf(generatePrompt, problemType, count, "Use only the study material below.\n\nMaterial:\n"+material.String())
	return g.generate(ctx, problemType, prompt)
}

// GenerateFromGeneralKnowledge writes count questions without study material.
func (g *Generator) GenerateFromGeneralKnowledge(ctx context.Context, problemType string, count int) ([]models.Question, error) {
	prompt := fmt.Sprintf(generatePrompt, problemType, count, "Draw on well established general knowledge.")
	return g.generate(ctx, problemType, prompt)
}

func (g *Generator) generate(ctx context.Context, problemType, prompt string) ([]models.Question, error) {
	var out generatedQuestions
	if err := g.client.GenerateJSON(ctx, g.config.Model, prompt, &out); err != nil {
		return nil, fmt.Errorf("generate %q questions: %w", problemType, err)
	}
	log.Info().Str("problem_type", problemType).Int("questions", len(out.Questions)).Msg("generated questions")
	return out.Questions, nil
}

const generatePrompt = `You write educational quiz questions.

Write %[2]d questions of the kind "%[1]s".

Rules:
- No two questions cover the same fact.
- Intermediate difficulty.
- Answers are short, one to three words where possible.
- Include a hint that does not give the answer away.
- Include a one or two sentence explanation of the answer.
- Include background context for the question.

%[3]s

Reply with JSON only, in this shape:
{
  "questions": [
    {
      "question": "question text",
      "reference_answer": "model answer",
      "hint": "hint",
      "explanation": "why the answer is right",
      "context": "background information",
      "source_chunk": "first 50 characters of the excerpt used"
    }
  ]
}`
