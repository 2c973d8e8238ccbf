package orchestrator

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/ludus/go/internal/game/events"
	"github.com/mcdev12/ludus/go/internal/game/store"
	"github.com/mcdev12/ludus/go/internal/models"
)

const testTick = time.Second

type recordingBroadcaster struct {
	mu     sync.Mutex
	events []*events.Event
}

func (b *recordingBroadcaster) Broadcast(_ string, event *events.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, event)
}

func (b *recordingBroadcaster) count(t events.EventType) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, e := range b.events {
		if e.Type == t {
			n++
		}
	}
	return n
}

func (b *recordingBroadcaster) total() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.events)
}

func (b *recordingBroadcaster) payloads(t *testing.T, eventType events.EventType) []interface{} {
	t.Helper()
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []interface{}
	for _, e := range b.events {
		if e.Type != eventType {
			continue
		}
		p, err := events.ParsePayload(e)
		if err != nil {
			t.Fatalf("ParsePayload: %v", err)
		}
		out = append(out, p)
	}
	return out
}

// statusCount counts game_status_update events carrying status.
func (b *recordingBroadcaster) statusCount(t *testing.T, status models.GameStatus) int {
	n := 0
	for _, p := range b.payloads(t, events.EventTypeStatusUpdate) {
		if p.(events.StatusUpdatePayload).Status == string(status) {
			n++
		}
	}
	return n
}

type recordingChat struct {
	mu       sync.Mutex
	messages []models.ChatMessage
	panicOn  string
}

func (c *recordingChat) SendSystemMessage(_ context.Context, roomID, content, messageType string) (*models.ChatMessage, error) {
	if c.panicOn != "" && messageType == c.panicOn {
		panic("chat unavailable")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	msg := models.ChatMessage{ID: uuid.NewString(), RoomID: roomID, Content: content, MessageType: messageType}
	c.messages = append(c.messages, msg)
	return &msg, nil
}

func (c *recordingChat) byType(messageType string) []models.ChatMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []models.ChatMessage
	for _, m := range c.messages {
		if m.MessageType == messageType {
			out = append(out, m)
		}
	}
	return out
}

type fakeRooms struct {
	members []models.RoomMember
	err     error
}

func (r *fakeRooms) GetMembers(context.Context, string) ([]models.RoomMember, error) {
	return r.members, r.err
}

// exactGrader scores an answer 100 when it matches the reference exactly.
type exactGrader struct {
	err   error
	block bool
}

func (g *exactGrader) Grade(ctx context.Context, req models.GradeRequest) (models.GradeResult, error) {
	if g.block {
		<-ctx.Done()
		return models.GradeResult{}, ctx.Err()
	}
	if g.err != nil {
		return models.GradeResult{}, g.err
	}
	if req.UserAnswer == req.ReferenceAnswer {
		return models.GradeResult{Score: 100, IsCorrect: true, Feedback: "ok"}, nil
	}
	if strings.Contains(req.ReferenceAnswer, req.UserAnswer) && req.UserAnswer != "" {
		return models.GradeResult{Score: 30, Feedback: "close"}, nil
	}
	return models.GradeResult{Score: 0, Feedback: "no"}, nil
}

// fixedGrader returns the same verdict for every answer.
type fixedGrader struct {
	result models.GradeResult
}

func (g *fixedGrader) Grade(context.Context, models.GradeRequest) (models.GradeResult, error) {
	return g.result, nil
}

// gatedGrader signals started and holds the verdict until release closes.
// It fails if its context was cancelled by then.
type gatedGrader struct {
	started chan struct{}
	release chan struct{}
}

func (g *gatedGrader) Grade(ctx context.Context, req models.GradeRequest) (models.GradeResult, error) {
	close(g.started)
	<-g.release
	if err := ctx.Err(); err != nil {
		return models.GradeResult{}, err
	}
	return models.GradeResult{Score: 100, IsCorrect: true, Feedback: "paraphrase accepted"}, nil
}

type fakeGenerator struct {
	questions []models.Question
	err       error
	calls     int
	mu        sync.Mutex
}

func (g *fakeGenerator) Generate(_ context.Context, problemType string, count int, excerpts []string) ([]models.Question, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	return g.questions, g.err
}

func (g *fakeGenerator) GenerateFromGeneralKnowledge(_ context.Context, problemType string, count int) ([]models.Question, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	return g.questions, g.err
}

type fakeMaterials struct {
	excerpts []string
	err      error
}

func (m *fakeMaterials) Excerpts(context.Context, []string, int) ([]string, error) {
	return m.excerpts, m.err
}

var errBoom = errors.New("boom")

type harness struct {
	o     *Orchestrator
	clock *clockwork.FakeClock
	store *store.MemoryStore
	bc    *recordingBroadcaster
	chat  *recordingChat
	rooms *fakeRooms
}

func newHarness(t *testing.T, mutate func(cfg *Config, deps *Dependencies)) *harness {
	t.Helper()
	clock := clockwork.NewFakeClockAt(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	h := &harness{
		clock: clock,
		store: store.NewMemoryStore(clock),
		bc:    &recordingBroadcaster{},
		chat:  &recordingChat{},
		rooms: &fakeRooms{},
	}
	cfg := DefaultConfig()
	cfg.Tick = testTick
	deps := Dependencies{
		Store:       h.store,
		Broadcaster: h.bc,
		Chat:        h.chat,
		Rooms:       h.rooms,
		Grader:      &exactGrader{},
		Clock:       clock,
	}
	if mutate != nil {
		mutate(&cfg, &deps)
	}
	h.o = NewOrchestrator(cfg, deps)
	t.Cleanup(h.o.Close)
	return h
}

func testQuestions(n int) []models.Question {
	qs := make([]models.Question, n)
	for i := range qs {
		qs[i] = models.Question{
			Text:            "Question " + string(rune('A'+i)),
			ReferenceAnswer: "answer-" + string(rune('a'+i)),
			Hint:            "hint-" + string(rune('a'+i)),
			Explanation:     "because " + string(rune('a'+i)),
		}
	}
	return qs
}

// readyGame creates a game with n questions in the ready state.
func (h *harness) readyGame(t *testing.T, n int, participants ...string) uuid.UUID {
	t.Helper()
	ctx := context.Background()
	session, err := h.o.Create(ctx, CreateGameRequest{RoomID: "room-1", HostUserID: "host", ParticipantIDs: participants})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := h.o.MarkReady(ctx, session.ID, testQuestions(n)); err != nil {
		t.Fatalf("MarkReady: %v", err)
	}
	return session.ID
}

// startedGame creates and starts a game and waits for its timer to block.
func (h *harness) startedGame(t *testing.T, n int, participants ...string) uuid.UUID {
	t.Helper()
	gameID := h.readyGame(t, n, participants...)
	if err := h.o.Start(context.Background(), gameID); err != nil {
		t.Fatalf("Start: %v", err)
	}
	h.blockUntil(t, 1)
	return gameID
}

func (h *harness) blockUntil(t *testing.T, waiters int) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := h.clock.BlockUntilContext(ctx, waiters); err != nil {
		t.Fatalf("waiting for %d clock waiters: %v", waiters, err)
	}
}

// tick advances the clock by n ticks, one at a time, waiting for a sleeper
// before each step.
func (h *harness) tick(t *testing.T, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		h.blockUntil(t, 1)
		h.clock.Advance(testTick)
	}
}

// drive keeps advancing the clock until cond holds.
func (h *harness) drive(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not reached while driving the clock")
		}
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		_ = h.clock.BlockUntilContext(ctx, 1)
		cancel()
		h.clock.Advance(testTick)
	}
}

func (h *harness) status(t *testing.T, gameID uuid.UUID) *models.GameSession {
	t.Helper()
	session, err := h.store.GetSession(context.Background(), gameID)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	return session
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for condition")
		}
		time.Sleep(time.Millisecond)
	}
}
