package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mcdev12/ludus/go/internal/game/events"
	"github.com/mcdev12/ludus/go/internal/game/store"
	"github.com/mcdev12/ludus/go/internal/models"
	"github.com/rs/zerolog/log"
)

// AdvanceOutcome is the result of an Advance call.
type AdvanceOutcome int

const (
	// AdvanceBusy means another caller holds the advance lease.
	AdvanceBusy AdvanceOutcome = iota
	// AdvanceStale means the game already moved past expectedIndex.
	AdvanceStale
	// AdvanceNext means the next question was opened.
	AdvanceNext
	// AdvanceFinished means the last question closed and the game finished.
	AdvanceFinished
)

func (a AdvanceOutcome) String() string {
	switch a {
	case AdvanceBusy:
		return "busy"
	case AdvanceStale:
		return "stale"
	case AdvanceNext:
		return "next"
	case AdvanceFinished:
		return "finished"
	}
	return fmt.Sprintf("AdvanceOutcome(%d)", int(a))
}

// Advance moves a waiting_next game past expectedIndex, either to the next
// question or to finished. At most one call per index has an effect.
func (o *Orchestrator) Advance(ctx context.Context, gameID uuid.UUID, expectedIndex int) (AdvanceOutcome, error) {
	owner := o.leaseOwner()
	ok, err := o.store.AcquireLease(ctx, gameID, leaseAdvance, owner, o.cfg.AdvanceLeaseTTL)
	if err != nil {
		return AdvanceBusy, fmt.Errorf("failed to acquire lease: %w", err)
	}
	if !ok {
		log.Debug().Str("game_id", gameID.String()).Int("expected_index", expectedIndex).Msg("advance lease held elsewhere")
		return AdvanceBusy, nil
	}
	defer o.releaseLease(ctx, gameID, leaseAdvance, owner)

	session, err := o.getSession(ctx, gameID)
	if err != nil {
		return AdvanceStale, err
	}
	if session.Status != models.GameStatusWaitingNext || session.CurrentQuestionIndex != expectedIndex {
		log.Debug().
			Str("game_id", gameID.String()).
			Str("status", string(session.Status)).
			Int("index", session.CurrentQuestionIndex).
			Int("expected_index", expectedIndex).
			Msg("stale advance ignored")
		return AdvanceStale, nil
	}

	if expectedIndex+1 >= session.TotalQuestions {
		if err := o.finish(ctx, gameID, expectedIndex); err != nil {
			return AdvanceStale, err
		}
		return AdvanceFinished, nil
	}

	questions, err := o.store.GetQuestions(ctx, gameID)
	if err != nil {
		return AdvanceStale, fmt.Errorf("failed to load questions: %w", err)
	}
	next := expectedIndex + 1
	if next >= len(questions) {
		return AdvanceStale, fmt.Errorf("question %d missing from stored set of %d", next, len(questions))
	}

	token, err := o.store.IssueTimerToken(ctx, gameID, next)
	if err != nil {
		return AdvanceStale, fmt.Errorf("failed to issue timer token: %w", err)
	}
	updated, err := o.store.UpdateSession(ctx, gameID, func(s *models.GameSession) error {
		if s.Status != models.GameStatusWaitingNext || s.CurrentQuestionIndex != expectedIndex {
			return errQuestionClosed
		}
		s.Status = models.GameStatusPlaying
		s.CurrentQuestionIndex = next
		return nil
	})
	if err != nil {
		return AdvanceStale, err
	}

	log.Info().Str("game_id", gameID.String()).Int("question_index", next).Msg("advanced to next question")
	o.openQuestion(ctx, updated, questions[next], token)
	return AdvanceNext, nil
}

// openQuestion announces a freshly opened question and starts its timer.
func (o *Orchestrator) openQuestion(ctx context.Context, session *models.GameSession, question models.Question, token store.TimerToken) {
	index := session.CurrentQuestionIndex
	o.emitStatus(ctx, session)
	o.emit(session.RoomID, session.ID, events.EventTypeQuestion, events.QuestionPayload{
		GameID:         session.ID.String(),
		Question:       events.NewQuestionView(question),
		QuestionIndex:  index,
		TotalQuestions: session.TotalQuestions,
		TimeLimit:      int(o.cfg.ticks(o.cfg.QuestionTicks).Seconds()),
	})
	o.postSystem(ctx, session.RoomID, questionMessage(index, session.TotalQuestions, question, o.cfg.ticks(o.cfg.QuestionTicks)), MessageTypeGameQuestion)

	roomID := session.RoomID
	o.tasks.Go("question-timer", session.ID, func(ctx context.Context) error {
		return o.runQuestionTimer(ctx, roomID, question, token, session.TotalQuestions)
	})
}

// finish closes the game after its last question.
func (o *Orchestrator) finish(ctx context.Context, gameID uuid.UUID, expectedIndex int) error {
	now := o.clock.Now().UTC()
	updated, err := o.store.UpdateSession(ctx, gameID, func(s *models.GameSession) error {
		if s.Status != models.GameStatusWaitingNext || s.CurrentQuestionIndex != expectedIndex {
			return errQuestionClosed
		}
		s.Status = models.GameStatusFinished
		s.FinishedAt = &now
		return nil
	})
	if err != nil {
		return err
	}

	ranking, err := o.Ranking(ctx, gameID)
	if err != nil {
		log.Error().Err(err).Str("game_id", gameID.String()).Msg("failed to compute final ranking")
	}

	log.Info().Str("game_id", gameID.String()).Int("players", len(ranking)).Msg("game finished")

	o.emitStatus(ctx, updated)
	o.emit(updated.RoomID, gameID, events.EventTypeRanking, events.RankingPayload{
		GameID:  gameID.String(),
		Ranking: ranking,
	})
	o.postSystem(ctx, updated.RoomID, rankingMessage(ranking), MessageTypeGameResult)

	if err := o.store.ClearActiveGame(ctx, updated.RoomID, gameID); err != nil {
		log.Warn().Err(err).Str("game_id", gameID.String()).Msg("failed to clear active game")
	}
	return nil
}

// announceThenAdvance runs announce, waits delay and then advances past
// token's question. The advance runs even when announce fails or panics,
// unless the orchestrator is shutting down or the token was superseded.
func (o *Orchestrator) announceThenAdvance(ctx context.Context, token store.TimerToken, delay time.Duration, announce func(ctx context.Context)) {
	defer func() {
		if ctx.Err() != nil {
			return
		}
		if token.Seq != 0 {
			active, err := o.store.TimerActive(ctx, token)
			if err != nil {
				log.Warn().Err(err).Str("token", token.String()).Msg("failed to check token before advance")
			} else if !active {
				log.Debug().Str("token", token.String()).Msg("delayed advance superseded")
				return
			}
		}
		o.advanceUntilSettled(ctx, token.GameID, token.QuestionIndex)
	}()

	announce(ctx)
	o.sleep(ctx, delay)
}

// advanceUntilSettled retries Advance while the lease is busy, so a delayed
// advance is not lost to a lease left behind by a crashed holder.
func (o *Orchestrator) advanceUntilSettled(ctx context.Context, gameID uuid.UUID, expectedIndex int) {
	attempts := int(o.cfg.AdvanceLeaseTTL/o.cfg.Tick) + 2
	for i := 0; i < attempts; i++ {
		outcome, err := o.Advance(ctx, gameID, expectedIndex)
		if err != nil {
			log.Error().Err(err).Str("game_id", gameID.String()).Int("expected_index", expectedIndex).Msg("advance failed")
			return
		}
		if outcome != AdvanceBusy {
			log.Debug().Str("game_id", gameID.String()).Stringer("outcome", outcome).Msg("delayed advance settled")
			return
		}
		if !o.sleep(ctx, o.cfg.Tick) {
			return
		}
	}
	log.Warn().Str("game_id", gameID.String()).Int("expected_index", expectedIndex).Msg("gave up waiting for advance lease")
}
