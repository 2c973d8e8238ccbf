package chat

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/ludus/go/internal/game/events"
	"github.com/redis/go-redis/v9"
)

type recordingBroadcaster struct {
	events []*events.Event
}

func (b *recordingBroadcaster) Broadcast(_ string, event *events.Event) {
	b.events = append(b.events, event)
}

func newService(t *testing.T, config Config) (*Service, *miniredis.Miniredis, *recordingBroadcaster) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	bc := &recordingBroadcaster{}
	clock := clockwork.NewFakeClockAt(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	return NewService(client, bc, clock, config), mr, bc
}

func TestSendSystemMessage(t *testing.T) {
	svc, mr, bc := newService(t, DefaultConfig())
	ctx := context.Background()

	msg, err := svc.SendSystemMessage(ctx, "room-1", "Time's up!", "game_answer")
	if err != nil {
		t.Fatalf("SendSystemMessage: %v", err)
	}
	if msg.UserID != SystemUserID || msg.UserName != SystemUserName || msg.MessageType != "game_answer" {
		t.Fatalf("message = %+v", msg)
	}

	if got := mr.HGet("messages:"+msg.ID, "content"); got != "Time's up!" {
		t.Fatalf("stored content = %q", got)
	}
	if ttl := mr.TTL("messages:" + msg.ID); ttl != 24*time.Hour {
		t.Fatalf("ttl = %v", ttl)
	}

	if len(bc.events) != 1 || bc.events[0].Type != events.EventTypeMessage || bc.events[0].GameID != "" {
		t.Fatalf("events = %+v", bc.events)
	}
	payload, err := events.ParsePayload(bc.events[0])
	if err != nil {
		t.Fatalf("ParsePayload: %v", err)
	}
	if got := payload.(events.MessagePayload).Message; got.ID != msg.ID || got.Content != msg.Content {
		t.Fatalf("payload = %+v", got)
	}
}

func TestHistoryNewestFirstAndTrimmed(t *testing.T) {
	svc, mr, _ := newService(t, Config{HistoryLength: 3, MessageTTL: time.Hour})
	ctx := context.Background()

	var ids []string
	for i := 0; i < 5; i++ {
		msg, err := svc.SendSystemMessage(ctx, "room-1", fmt.Sprintf("msg %d", i), "game_info")
		if err != nil {
			t.Fatalf("SendSystemMessage: %v", err)
		}
		ids = append(ids, msg.ID)
	}

	history, err := svc.History(ctx, "room-1", 0, 10)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(history) != 3 || history[0].Content != "msg 4" || history[2].Content != "msg 2" {
		t.Fatalf("history = %+v", history)
	}
	if !history[0].CreatedAt.Equal(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)) {
		t.Fatalf("created at = %v", history[0].CreatedAt)
	}

	page, err := svc.History(ctx, "room-1", 1, 1)
	if err != nil || len(page) != 1 || page[0].Content != "msg 3" {
		t.Fatalf("page = %+v, %v", page, err)
	}

	mr.Del("messages:" + ids[3])
	history, err = svc.History(ctx, "room-1", 0, 10)
	if err != nil || len(history) != 2 {
		t.Fatalf("history after expiry = %+v, %v", history, err)
	}
}

func TestSendSystemMessageRedisDown(t *testing.T) {
	svc, mr, bc := newService(t, DefaultConfig())
	mr.Close()

	if _, err := svc.SendSystemMessage(context.Background(), "room-1", "hi", "game_info"); err == nil {
		t.Fatal("expected error with redis down")
	}
	if len(bc.events) != 0 {
		t.Fatal("unsaved message was broadcast")
	}
}
