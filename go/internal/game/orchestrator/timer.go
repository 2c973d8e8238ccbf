package orchestrator

import (
	"context"
	"errors"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/ludus/go/internal/game/events"
	"github.com/mcdev12/ludus/go/internal/game/store"
	"github.com/mcdev12/ludus/go/internal/models"
	"github.com/rs/zerolog/log"
)

// runQuestionTimer counts a question down one tick at a time. It exits
// silently as soon as token is superseded or the question is no longer open.
func (o *Orchestrator) runQuestionTimer(ctx context.Context, roomID string, question models.Question, token store.TimerToken, total int) error {
	logger := log.With().Str("game_id", token.GameID.String()).Int("question_index", token.QuestionIndex).Logger()
	logger.Debug().Int64("seq", token.Seq).Msg("question timer started")

	for elapsed := 0; elapsed < o.cfg.QuestionTicks; elapsed++ {
		o.emit(roomID, token.GameID, events.EventTypeTimer, events.TimerPayload{
			GameID:        token.GameID.String(),
			QuestionIndex: token.QuestionIndex,
			TimeRemaining: o.cfg.QuestionTicks - elapsed,
		})

		if !o.sleep(ctx, o.cfg.Tick) {
			logger.Debug().Msg("question timer cancelled")
			return nil
		}

		current, err := o.timerCurrent(ctx, token)
		if err != nil {
			// Keep counting; the expiry transition is conditional anyway.
			logger.Warn().Err(err).Msg("timer check failed")
		} else if !current {
			logger.Debug().Int64("seq", token.Seq).Msg("question timer superseded")
			return nil
		}

		if elapsed+1 == o.cfg.HintAtTick {
			o.postSystem(ctx, roomID, hintMessage(question), MessageTypeGameHint)
		}
	}

	return o.expireQuestion(ctx, roomID, question, token, total)
}

// timerCurrent reports whether token is still the active token and its
// question is still open.
func (o *Orchestrator) timerCurrent(ctx context.Context, token store.TimerToken) (bool, error) {
	active, err := o.store.TimerActive(ctx, token)
	if err != nil {
		return false, err
	}
	if !active {
		return false, nil
	}
	session, err := o.store.GetSession(ctx, token.GameID)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return session.Status == models.GameStatusPlaying && session.CurrentQuestionIndex == token.QuestionIndex, nil
}

// expireQuestion closes the question on timeout, reveals the answer and
// advances after the grace period.
func (o *Orchestrator) expireQuestion(ctx context.Context, roomID string, question models.Question, token store.TimerToken, total int) error {
	closed, next, err := o.closeQuestion(ctx, token.GameID, token.QuestionIndex)
	if err != nil {
		return err
	}
	if !closed {
		log.Debug().Str("game_id", token.GameID.String()).Int("question_index", token.QuestionIndex).Msg("question already closed before timeout")
		return nil
	}

	log.Info().Str("game_id", token.GameID.String()).Int("question_index", token.QuestionIndex).Msg("question timed out")

	last := token.QuestionIndex+1 >= total
	o.announceThenAdvance(ctx, next, o.cfg.ticks(o.cfg.TimeoutGraceTicks), func(ctx context.Context) {
		o.postSystem(ctx, roomID, timeoutMessage(question, last), MessageTypeGameAnswer)
	})
	return nil
}

// sleep waits d on the orchestrator clock. It returns false if ctx ended first.
func (o *Orchestrator) sleep(ctx context.Context, d time.Duration) bool {
	timer := o.clock.NewTimer(d)
	select {
	case <-timer.Chan():
		return true
	case <-ctx.Done():
		stopAndDrainTimer(timer)
		return false
	}
}

// stopAndDrainTimer safely stops a timer and drains its channel to prevent goroutine leaks.
func stopAndDrainTimer(timer clockwork.Timer) {
	if !timer.Stop() {
		select {
		case <-timer.Chan():
		default:
		}
	}
}
