package orchestrator

import (
	"context"
	"testing"

	"github.com/mcdev12/ludus/go/internal/game/events"
)

func TestRoomSnapshot(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	snapshot, err := h.o.RoomSnapshot(ctx, "room-empty")
	if err != nil || len(snapshot) != 0 {
		t.Fatalf("empty room snapshot = %v, %v", snapshot, err)
	}

	gameID := h.readyGame(t, 2, "alice")
	snapshot, err = h.o.RoomSnapshot(ctx, "room-1")
	if err != nil {
		t.Fatalf("RoomSnapshot: %v", err)
	}
	if len(snapshot) != 1 || snapshot[0].Type != events.EventTypeStatusUpdate || snapshot[0].GameID != gameID.String() {
		t.Fatalf("ready snapshot = %+v", snapshot)
	}

	if err := h.o.Start(ctx, gameID); err != nil {
		t.Fatalf("Start: %v", err)
	}
	snapshot, err = h.o.RoomSnapshot(ctx, "room-1")
	if err != nil {
		t.Fatalf("RoomSnapshot: %v", err)
	}
	if len(snapshot) != 2 || snapshot[1].Type != events.EventTypeQuestion {
		t.Fatalf("playing snapshot = %+v", snapshot)
	}
	payload, err := events.ParsePayload(snapshot[1])
	if err != nil {
		t.Fatalf("ParsePayload: %v", err)
	}
	if q := payload.(events.QuestionPayload); q.QuestionIndex != 0 || q.Question.Text != "Question A" {
		t.Fatalf("question payload = %+v", q)
	}
}
