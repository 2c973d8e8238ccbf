package orchestrator

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/ludus/go/internal/game/events"
	"github.com/mcdev12/ludus/go/internal/game/ledger"
	"github.com/mcdev12/ludus/go/internal/game/store"
	"github.com/mcdev12/ludus/go/internal/models"
	"github.com/rs/zerolog/log"
)

var (
	ErrGameNotFound          = errors.New("game not found")
	ErrInvalidRequest        = errors.New("invalid request")
	ErrInvalidTransition     = errors.New("invalid status transition")
	ErrNoQuestions           = errors.New("no questions available")
	ErrNotAcceptingAnswers   = errors.New("game is not accepting answers")
	ErrQuestionMismatch      = errors.New("answer is for a different question")
	ErrTransitionInProgress  = errors.New("another transition is in progress")
	ErrGenerationInProgress  = errors.New("question generation already in progress")
	ErrNoCurrentQuestion     = errors.New("no current question")
	ErrOrchestratorIsClosing = errors.New("orchestrator is shutting down")
)

// Lease names. Each guards one kind of transition per game.
const (
	leaseAdvance  = "advance"
	leaseGenerate = "generate"
)

// Clock is the interface we use for time operations.
// In production, use clockwork.NewRealClock(). In tests, a FakeClock.
type Clock interface {
	Now() time.Time
	NewTimer(d time.Duration) clockwork.Timer
}

// Broadcaster fans events out to everyone in a room. Implementations must not block.
type Broadcaster interface {
	Broadcast(roomID string, event *events.Event)
}

// ChatService posts system messages into a room's chat.
type ChatService interface {
	SendSystemMessage(ctx context.Context, roomID, content, messageType string) (*models.ChatMessage, error)
}

// RoomService resolves room membership for display names.
type RoomService interface {
	GetMembers(ctx context.Context, roomID string) ([]models.RoomMember, error)
}

// QuestionGenerator produces questions with an external model.
type QuestionGenerator interface {
	Generate(ctx context.Context, problemType string, count int, excerpts []string) ([]models.Question, error)
	GenerateFromGeneralKnowledge(ctx context.Context, problemType string, count int) ([]models.Question, error)
}

// AnswerGrader scores a free-text answer against the reference answer.
type AnswerGrader interface {
	Grade(ctx context.Context, req models.GradeRequest) (models.GradeResult, error)
}

// MaterialSource returns study material excerpts for the given documents.
type MaterialSource interface {
	Excerpts(ctx context.Context, documentIDs []string, limit int) ([]string, error)
}

// Config holds the pacing and scoring knobs of the game engine.
type Config struct {
	Tick                  time.Duration `yaml:"tick"`
	QuestionTicks         int           `yaml:"question_ticks"`
	HintAtTick            int           `yaml:"hint_at_tick"`
	ExplanationDelayTicks int           `yaml:"explanation_delay_ticks"`
	TimeoutGraceTicks     int           `yaml:"timeout_grace_ticks"`
	CorrectThreshold      int           `yaml:"correct_threshold"`
	AdvanceLeaseTTL       time.Duration `yaml:"advance_lease_ttl"`
	GenerationLeaseTTL    time.Duration `yaml:"generation_lease_ttl"`
	GradingTimeout        time.Duration `yaml:"grading_timeout"`
	GenerationTimeout     time.Duration `yaml:"generation_timeout"`
	AutoStartDelay        time.Duration `yaml:"auto_start_delay"`
	MaxContextChunks      int           `yaml:"max_context_chunks"`
}

// DefaultConfig returns the standard pacing: 20 one-second ticks per question,
// a hint halfway through, 5s to read the explanation and 3s of grace on timeout.
func DefaultConfig() Config {
	return Config{
		Tick:                  time.Second,
		QuestionTicks:         20,
		HintAtTick:            10,
		ExplanationDelayTicks: 5,
		TimeoutGraceTicks:     3,
		CorrectThreshold:      ledger.DefaultCorrectThreshold,
		AdvanceLeaseTTL:       5 * time.Second,
		GenerationLeaseTTL:    2 * time.Minute,
		GradingTimeout:        15 * time.Second,
		GenerationTimeout:     60 * time.Second,
		AutoStartDelay:        time.Second,
		MaxContextChunks:      20,
	}
}

// withDefaults fills zero fields from DefaultConfig.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Tick <= 0 {
		c.Tick = d.Tick
	}
	if c.QuestionTicks <= 0 {
		c.QuestionTicks = d.QuestionTicks
	}
	if c.HintAtTick <= 0 {
		c.HintAtTick = d.HintAtTick
	}
	if c.ExplanationDelayTicks <= 0 {
		c.ExplanationDelayTicks = d.ExplanationDelayTicks
	}
	if c.TimeoutGraceTicks <= 0 {
		c.TimeoutGraceTicks = d.TimeoutGraceTicks
	}
	if c.CorrectThreshold <= 0 {
		c.CorrectThreshold = d.CorrectThreshold
	}
	if c.AdvanceLeaseTTL <= 0 {
		c.AdvanceLeaseTTL = d.AdvanceLeaseTTL
	}
	if c.GenerationLeaseTTL <= 0 {
		c.GenerationLeaseTTL = d.GenerationLeaseTTL
	}
	if c.GradingTimeout <= 0 {
		c.GradingTimeout = d.GradingTimeout
	}
	if c.GenerationTimeout <= 0 {
		c.GenerationTimeout = d.GenerationTimeout
	}
	if c.AutoStartDelay <= 0 {
		c.AutoStartDelay = d.AutoStartDelay
	}
	if c.MaxContextChunks <= 0 {
		c.MaxContextChunks = d.MaxContextChunks
	}
	return c
}

// ticks converts a tick count into wall time.
func (c Config) ticks(n int) time.Duration {
	return time.Duration(n) * c.Tick
}

// Dependencies are the collaborators of the orchestrator. Store and
// Broadcaster are required; the rest may be nil.
type Dependencies struct {
	Store       store.Store
	Broadcaster Broadcaster
	Chat        ChatService
	Rooms       RoomService
	Generator   QuestionGenerator
	Grader      AnswerGrader
	Materials   MaterialSource
	Clock       Clock
}

// Orchestrator drives trivia games: the status machine, per-question timers
// and delayed transitions. Any number of instances may share one store.
type Orchestrator struct {
	cfg         Config
	store       store.Store
	ledger      *ledger.Ledger
	broadcaster Broadcaster
	chat        ChatService
	rooms       RoomService
	generator   QuestionGenerator
	grader      AnswerGrader
	materials   MaterialSource
	clock       Clock
	tasks       *taskRegistry
	instanceID  string // unique ID for this instance, used as lease owner prefix
}

// NewOrchestrator creates an orchestrator. Background tasks run until Close.
func NewOrchestrator(cfg Config, deps Dependencies) *Orchestrator {
	cfg = cfg.withDefaults()
	clock := deps.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	o := &Orchestrator{
		cfg:         cfg,
		store:       deps.Store,
		ledger:      ledger.New(deps.Store, cfg.CorrectThreshold),
		broadcaster: deps.Broadcaster,
		chat:        deps.Chat,
		rooms:       deps.Rooms,
		generator:   deps.Generator,
		grader:      deps.Grader,
		materials:   deps.Materials,
		clock:       clock,
		instanceID:  uuid.New().String()[:8],
	}
	o.tasks = newTaskRegistry(o.instanceID)
	return o
}

// Config returns the effective configuration.
func (o *Orchestrator) Config() Config {
	return o.cfg
}

// Close cancels all timers and delayed transitions and waits for them to exit.
func (o *Orchestrator) Close() {
	log.Info().Str("instance", o.instanceID).Msg("orchestrator shutting down")
	o.tasks.Close()
	log.Info().Str("instance", o.instanceID).Msg("all game tasks stopped")
}

// ActiveTasks reports the number of running background tasks.
func (o *Orchestrator) ActiveTasks() int {
	return o.tasks.Active()
}

// emit builds and broadcasts an event. Failures are logged only.
func (o *Orchestrator) emit(roomID string, gameID uuid.UUID, eventType events.EventType, payload interface{}) {
	event, err := events.New(eventType, roomID, gameID, payload, o.clock.Now())
	if err != nil {
		log.Error().Err(err).Str("game_id", gameID.String()).Str("event_type", string(eventType)).Msg("failed to build event")
		return
	}
	o.broadcaster.Broadcast(roomID, event)
}

// emitStatus broadcasts the session's status together with current totals.
func (o *Orchestrator) emitStatus(ctx context.Context, session *models.GameSession) {
	o.emit(session.RoomID, session.ID, events.EventTypeStatusUpdate, o.statusPayload(ctx, session))
}

func (o *Orchestrator) statusPayload(ctx context.Context, session *models.GameSession) events.StatusUpdatePayload {
	totals := make(map[string]int)
	scores, err := o.store.Scores(ctx, session.ID)
	if err != nil {
		log.Warn().Err(err).Str("game_id", session.ID.String()).Msg("failed to load scores for status update")
	}
	for userID, record := range scores {
		totals[userID] = record.TotalScore
	}
	return events.StatusUpdatePayload{
		GameID:               session.ID.String(),
		Status:               string(session.Status),
		CurrentQuestionIndex: session.CurrentQuestionIndex,
		TotalQuestions:       session.TotalQuestions,
		Scores:               totals,
	}
}

// postSystem posts a system chat message. Chat is best effort.
func (o *Orchestrator) postSystem(ctx context.Context, roomID, content, messageType string) {
	if o.chat == nil || content == "" {
		return
	}
	if _, err := o.chat.SendSystemMessage(ctx, roomID, content, messageType); err != nil {
		log.Warn().Err(err).Str("room_id", roomID).Str("message_type", messageType).Msg("failed to post system message")
	}
}

// getSession maps store.ErrNotFound to ErrGameNotFound.
func (o *Orchestrator) getSession(ctx context.Context, gameID uuid.UUID) (*models.GameSession, error) {
	session, err := o.store.GetSession(ctx, gameID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrGameNotFound
	}
	return session, err
}

// leaseOwner returns a unique owner string for one lease acquisition.
func (o *Orchestrator) leaseOwner() string {
	return o.instanceID + ":" + uuid.New().String()
}

// releaseLease releases a lease even when ctx is already cancelled.
func (o *Orchestrator) releaseLease(ctx context.Context, gameID uuid.UUID, name, owner string) {
	if err := o.store.ReleaseLease(context.WithoutCancel(ctx), gameID, name, owner); err != nil {
		log.Warn().Err(err).Str("game_id", gameID.String()).Str("lease", name).Msg("failed to release lease")
	}
}
