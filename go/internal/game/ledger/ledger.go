package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mcdev12/ludus/go/internal/game/store"
	"github.com/mcdev12/ludus/go/internal/models"
)

// DefaultCorrectThreshold is the score a question's best must exceed to count
// as a correct answer.
const DefaultCorrectThreshold = 70

// ScoreStore is the subset of the game store the ledger writes through.
type ScoreStore interface {
	UpdateScore(ctx context.Context, gameID uuid.UUID, userID string, fn store.ScoreUpdate) (models.ScoreRecord, error)
}

// Result describes the effect of recording one score.
type Result struct {
	DeltaTotal   int
	DeltaCorrect int
	Record       models.ScoreRecord
}

// Improved reports whether the recorded score raised the question's best.
func (r Result) Improved() bool {
	return r.DeltaTotal > 0
}

// Ledger keeps per-question best scores for each participant.
type Ledger struct {
	store     ScoreStore
	threshold int
}

// New creates a ledger. A non-positive threshold selects the default.
func New(s ScoreStore, threshold int) *Ledger {
	if threshold <= 0 {
		threshold = DefaultCorrectThreshold
	}
	return &Ledger{store: s, threshold: threshold}
}

// Threshold returns the configured correct threshold.
func (l *Ledger) Threshold() int {
	return l.threshold
}

// Record applies score for userID on questionIndex and returns the deltas.
func (l *Ledger) Record(ctx context.Context, gameID uuid.UUID, userID string, questionIndex, score int, at time.Time) (Result, error) {
	var result Result
	record, err := l.store.UpdateScore(ctx, gameID, userID, func(r *models.ScoreRecord) bool {
		var changed bool
		result.DeltaTotal, result.DeltaCorrect, changed = Apply(r, questionIndex, score, l.threshold)
		if result.DeltaCorrect > 0 && r.FirstCorrectAt == nil {
			t := at
			r.FirstCorrectAt = &t
		}
		return changed
	})
	if err != nil {
		return Result{}, fmt.Errorf("failed to record score: %w", err)
	}
	result.Record = record
	return result, nil
}

// Apply folds score into r and returns the change in total score and in
// correct answers. Scores that do not beat the prior best leave r untouched
// and report changed as false.
func Apply(r *models.ScoreRecord, questionIndex, score, threshold int) (deltaTotal, deltaCorrect int, changed bool) {
	if r.PerQuestionBest == nil {
		r.PerQuestionBest = make(map[int]int)
	}

	prior, seen := r.PerQuestionBest[questionIndex]
	if seen && score <= prior {
		return 0, 0, false
	}

	wasCorrect := seen && prior > threshold
	isCorrect := score > threshold

	r.PerQuestionBest[questionIndex] = score
	if seen {
		deltaTotal = score - prior
	} else {
		deltaTotal = score
	}
	switch {
	case isCorrect && !wasCorrect:
		deltaCorrect = 1
	case !isCorrect && wasCorrect:
		deltaCorrect = -1
	}

	r.TotalScore += deltaTotal
	r.CorrectAnswers += deltaCorrect
	return deltaTotal, deltaCorrect, true
}
