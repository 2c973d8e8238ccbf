package orchestrator

import (
	"context"
	"errors"

	"github.com/mcdev12/ludus/go/internal/game/events"
	"github.com/mcdev12/ludus/go/internal/models"
)

// RoomSnapshot returns the events that bring a late subscriber up to date
// with the room's active game: its status and, while a question is open,
// the question itself. A room without an active game yields no events.
func (o *Orchestrator) RoomSnapshot(ctx context.Context, roomID string) ([]*events.Event, error) {
	gameID, err := o.ActiveGame(ctx, roomID)
	if errors.Is(err, ErrGameNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	session, err := o.getSession(ctx, gameID)
	if errors.Is(err, ErrGameNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	now := o.clock.Now()
	status, err := events.New(events.EventTypeStatusUpdate, roomID, gameID, o.statusPayload(ctx, session), now)
	if err != nil {
		return nil, err
	}
	snapshot := []*events.Event{status}

	if session.Status != models.GameStatusPlaying {
		return snapshot, nil
	}
	current, err := o.GetCurrentQuestion(ctx, gameID)
	if err != nil {
		return snapshot, nil
	}
	question, err := events.New(events.EventTypeQuestion, roomID, gameID, events.QuestionPayload{
		GameID:         gameID.String(),
		Question:       current.Question,
		QuestionIndex:  current.Index,
		TotalQuestions: current.Total,
		TimeLimit:      int(o.cfg.ticks(o.cfg.QuestionTicks).Seconds()),
	}, now)
	if err != nil {
		return nil, err
	}
	return append(snapshot, question), nil
}
