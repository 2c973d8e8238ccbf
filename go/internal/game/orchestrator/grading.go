package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/mcdev12/ludus/go/internal/models"
	"github.com/rs/zerolog/log"
)

// grade scores answer with the configured grader, falling back to exact
// matching when the grader is missing, errors or times out.
func (o *Orchestrator) grade(ctx context.Context, q models.Question, answer string) models.GradeResult {
	if o.grader == nil {
		return FallbackGrade(q.ReferenceAnswer, answer, o.cfg.CorrectThreshold)
	}

	gctx, cancel := context.WithTimeout(ctx, o.cfg.GradingTimeout)
	defer cancel()

	result, err := o.grader.Grade(gctx, models.GradeRequest{
		QuestionText:    q.Text,
		ReferenceAnswer: q.ReferenceAnswer,
		UserAnswer:      answer,
		Context:         q.Context,
	})
	if err != nil {
		log.Warn().Err(err).Msg("grader failed, using exact match")
		return FallbackGrade(q.ReferenceAnswer, answer, o.cfg.CorrectThreshold)
	}

	result.Score = min(max(result.Score, 0), 100)
	return result
}

// FallbackGrade compares answers case-insensitively after trimming: a match
// scores 100, anything else 0.
func FallbackGrade(reference, answer string, threshold int) models.GradeResult {
	if strings.EqualFold(strings.TrimSpace(reference), strings.TrimSpace(answer)) && strings.TrimSpace(answer) != "" {
		return models.GradeResult{Score: 100, IsCorrect: 100 > threshold, Feedback: "Correct!"}
	}
	return models.GradeResult{Score: 0, IsCorrect: false, Feedback: fmt.Sprintf("The expected answer was %q.", reference)}
}

const sourcePreviewRunes = 50

// FallbackQuestions builds up to count fill-in-the-blank questions, one per
// excerpt, for when the generator is unavailable. The longest word of each
// excerpt's first sentence becomes the blank.
func FallbackQuestions(problemType string, count int, excerpts []string) []models.Question {
	var questions []models.Question
	for _, excerpt := range excerpts {
		if len(questions) >= count {
			break
		}
		sentence := firstSentence(strings.TrimSpace(excerpt))
		word := longestWord(sentence)
		if word == "" {
			continue
		}
		questions = append(questions, models.Question{
			Text:            "Fill in the blank:\n\n" + strings.Replace(sentence, word, "_____", 1),
			ReferenceAnswer: word,
			Hint:            fmt.Sprintf("%d letters, starting with %q.", utf8.RuneCountInString(word), firstRune(word)),
			Explanation:     sentence,
			SourceExcerpt:   preview(excerpt, sourcePreviewRunes),
			ProblemType:     problemType,
		})
	}
	return questions
}

func firstSentence(s string) string {
	if i := strings.IndexAny(s, ".!?\n"); i > 0 {
		return strings.TrimSpace(s[:i])
	}
	return s
}

// longestWord returns the longest word of at least four letters, or "".
func longestWord(s string) string {
	var best string
	for _, field := range strings.Fields(s) {
		word := strings.TrimFunc(field, func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsDigit(r)
		})
		if utf8.RuneCountInString(word) >= 4 && utf8.RuneCountInString(word) > utf8.RuneCountInString(best) {
			best = word
		}
	}
	return best
}

func firstRune(s string) string {
	r, _ := utf8.DecodeRuneInString(s)
	return string(r)
}

func preview(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n]) + "..."
}
