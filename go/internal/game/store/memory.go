package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/ludus/go/internal/models"
)

type memoryLease struct {
	owner     string
	expiresAt time.Time
}

type memoryGame struct {
	session      models.GameSession
	participants map[string]bool
	scores       map[string]models.ScoreRecord
	questions    []models.Question
	answers      map[int][]models.AnswerSubmission
	timerSeq     int64
}

// MemoryStore is an in-process Store for tests and single-node development.
// Lease expiry follows the injected clock.
type MemoryStore struct {
	mu    sync.Mutex
	clock clockwork.Clock

	games      map[uuid.UUID]*memoryGame
	leases     map[string]memoryLease
	activeGame map[string]uuid.UUID
	roomGames  map[string]map[uuid.UUID]bool

	// revision counts successful mutations.
	revision uint64
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore(clock clockwork.Clock) *MemoryStore {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &MemoryStore{
		clock:      clock,
		games:      make(map[uuid.UUID]*memoryGame),
		leases:     make(map[string]memoryLease),
		activeGame: make(map[string]uuid.UUID),
		roomGames:  make(map[string]map[uuid.UUID]bool),
	}
}

// Revision returns the number of mutations applied so far.
func (m *MemoryStore) Revision() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.revision
}

func (m *MemoryStore) game(gameID uuid.UUID) (*memoryGame, error) {
	g, ok := m.games[gameID]
	if !ok {
		return nil, ErrNotFound
	}
	return g, nil
}

func (m *MemoryStore) CreateSession(_ context.Context, session *models.GameSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.games[session.ID] = &memoryGame{
		session:      cloneSession(*session),
		participants: make(map[string]bool),
		scores:       make(map[string]models.ScoreRecord),
		answers:      make(map[int][]models.AnswerSubmission),
	}
	m.revision++
	return nil
}

func (m *MemoryStore) GetSession(_ context.Context, gameID uuid.UUID) (*models.GameSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	g, err := m.game(gameID)
	if err != nil {
		return nil, err
	}
	session := cloneSession(g.session)
	return &session, nil
}

func (m *MemoryStore) UpdateSession(_ context.Context, gameID uuid.UUID, fn SessionUpdate) (*models.GameSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	g, err := m.game(gameID)
	if err != nil {
		return nil, err
	}
	session := cloneSession(g.session)
	if err := fn(&session); err != nil {
		return nil, err
	}
	g.session = cloneSession(session)
	m.revision++
	return &session, nil
}

func (m *MemoryStore) AddParticipant(_ context.Context, gameID uuid.UUID, userID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	g, err := m.game(gameID)
	if err != nil {
		return false, err
	}
	if g.participants[userID] {
		return false, nil
	}
	g.participants[userID] = true
	m.revision++
	return true, nil
}

func (m *MemoryStore) IsParticipant(_ context.Context, gameID uuid.UUID, userID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	g, ok := m.games[gameID]
	if !ok {
		return false, nil
	}
	return g.participants[userID], nil
}

func (m *MemoryStore) Participants(_ context.Context, gameID uuid.UUID) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	g, ok := m.games[gameID]
	if !ok {
		return nil, nil
	}
	users := make([]string, 0, len(g.participants))
	for userID := range g.participants {
		users = append(users, userID)
	}
	sort.Strings(users)
	return users, nil
}

func (m *MemoryStore) InitScore(_ context.Context, gameID uuid.UUID, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	g, err := m.game(gameID)
	if err != nil {
		return err
	}
	if _, ok := g.scores[userID]; ok {
		return nil
	}
	g.scores[userID] = models.NewScoreRecord(userID)
	m.revision++
	return nil
}

func (m *MemoryStore) GetScore(_ context.Context, gameID uuid.UUID, userID string) (*models.ScoreRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	g, err := m.game(gameID)
	if err != nil {
		return nil, err
	}
	record, ok := g.scores[userID]
	if !ok {
		return nil, ErrNotFound
	}
	record = cloneScore(record)
	return &record, nil
}

func (m *MemoryStore) UpdateScore(_ context.Context, gameID uuid.UUID, userID string, fn ScoreUpdate) (models.ScoreRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	g, err := m.game(gameID)
	if err != nil {
		return models.ScoreRecord{}, err
	}
	record, ok := g.scores[userID]
	if !ok {
		record = models.NewScoreRecord(userID)
	}
	record = cloneScore(record)
	if fn(&record) {
		g.scores[userID] = cloneScore(record)
		m.revision++
	}
	return record, nil
}

func (m *MemoryStore) Scores(_ context.Context, gameID uuid.UUID) (map[string]models.ScoreRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	scores := make(map[string]models.ScoreRecord)
	g, ok := m.games[gameID]
	if !ok {
		return scores, nil
	}
	for userID := range g.participants {
		record, ok := g.scores[userID]
		if !ok {
			record = models.NewScoreRecord(userID)
		}
		scores[userID] = cloneScore(record)
	}
	return scores, nil
}

func (m *MemoryStore) SaveQuestions(_ context.Context, gameID uuid.UUID, questions []models.Question) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	g, err := m.game(gameID)
	if err != nil {
		return err
	}
	g.questions = append([]models.Question(nil), questions...)
	m.revision++
	return nil
}

func (m *MemoryStore) GetQuestions(_ context.Context, gameID uuid.UUID) ([]models.Question, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	g, err := m.game(gameID)
	if err != nil {
		return nil, err
	}
	if g.questions == nil {
		return nil, ErrNotFound
	}
	return append([]models.Question(nil), g.questions...), nil
}

func (m *MemoryStore) AppendAnswer(_ context.Context, gameID uuid.UUID, answer models.AnswerSubmission) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	g, err := m.game(gameID)
	if err != nil {
		return err
	}
	g.answers[answer.QuestionIndex] = append(g.answers[answer.QuestionIndex], answer)
	m.revision++
	return nil
}

func (m *MemoryStore) Answers(_ context.Context, gameID uuid.UUID, questionIndex int) ([]models.AnswerSubmission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	g, ok := m.games[gameID]
	if !ok {
		return nil, nil
	}
	return append([]models.AnswerSubmission(nil), g.answers[questionIndex]...), nil
}

func (m *MemoryStore) IssueTimerToken(_ context.Context, gameID uuid.UUID, questionIndex int) (TimerToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	g, err := m.game(gameID)
	if err != nil {
		return TimerToken{}, err
	}
	g.timerSeq++
	m.revision++
	return TimerToken{GameID: gameID, QuestionIndex: questionIndex, Seq: g.timerSeq}, nil
}

func (m *MemoryStore) TimerActive(_ context.Context, token TimerToken) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	g, ok := m.games[token.GameID]
	if !ok {
		return false, nil
	}
	return g.timerSeq == token.Seq, nil
}

func (m *MemoryStore) AcquireLease(_ context.Context, gameID uuid.UUID, name, owner string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := leaseKey(gameID, name)
	now := m.clock.Now()
	if lease, ok := m.leases[key]; ok && now.Before(lease.expiresAt) {
		return false, nil
	}
	m.leases[key] = memoryLease{owner: owner, expiresAt: now.Add(ttl)}
	m.revision++
	return true, nil
}

func (m *MemoryStore) ReleaseLease(_ context.Context, gameID uuid.UUID, name, owner string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := leaseKey(gameID, name)
	if lease, ok := m.leases[key]; ok && lease.owner == owner {
		delete(m.leases, key)
		m.revision++
	}
	return nil
}

func (m *MemoryStore) SetActiveGame(_ context.Context, roomID string, gameID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.activeGame[roomID] = gameID
	m.revision++
	return nil
}

func (m *MemoryStore) ActiveGame(_ context.Context, roomID string) (uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	gameID, ok := m.activeGame[roomID]
	if !ok {
		return uuid.Nil, ErrNotFound
	}
	return gameID, nil
}

func (m *MemoryStore) ClearActiveGame(_ context.Context, roomID string, gameID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if current, ok := m.activeGame[roomID]; ok && current == gameID {
		delete(m.activeGame, roomID)
		m.revision++
	}
	return nil
}

func (m *MemoryStore) AddRoomGame(_ context.Context, roomID string, gameID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.roomGames[roomID] == nil {
		m.roomGames[roomID] = make(map[uuid.UUID]bool)
	}
	m.roomGames[roomID][gameID] = true
	m.revision++
	return nil
}

func (m *MemoryStore) RoomGames(_ context.Context, roomID string) ([]uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ids := make([]uuid.UUID, 0, len(m.roomGames[roomID]))
	for id := range m.roomGames[roomID] {
		ids = append(ids, id)
	}
	return ids, nil
}

func (m *MemoryStore) DeleteGame(_ context.Context, gameID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.games, gameID)
	prefix := gameKey(gameID)
	for key := range m.leases {
		if strings.HasPrefix(key, prefix) {
			delete(m.leases, key)
		}
	}
	m.revision++
	return nil
}

func (m *MemoryStore) DeleteRoom(_ context.Context, roomID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.activeGame, roomID)
	delete(m.roomGames, roomID)
	m.revision++
	return nil
}

func cloneSession(s models.GameSession) models.GameSession {
	out := s
	out.Settings.DocumentIDs = append([]string(nil), s.Settings.DocumentIDs...)
	out.Settings.Problems = append([]models.ProblemSpec(nil), s.Settings.Problems...)
	if s.StartedAt != nil {
		t := *s.StartedAt
		out.StartedAt = &t
	}
	if s.FinishedAt != nil {
		t := *s.FinishedAt
		out.FinishedAt = &t
	}
	return out
}

func cloneScore(r models.ScoreRecord) models.ScoreRecord {
	out := r
	out.PerQuestionBest = make(map[int]int, len(r.PerQuestionBest))
	for k, v := range r.PerQuestionBest {
		out.PerQuestionBest[k] = v
	}
	if r.FirstCorrectAt != nil {
		t := *r.FirstCorrectAt
		out.FirstCorrectAt = &t
	}
	return out
}
