package store

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/ludus/go/internal/models"
	"github.com/redis/go-redis/v9"
)

// backend bundles a store with a way to move its notion of time forward.
type backend struct {
	store   Store
	advance func(d time.Duration)
}

func backends(t *testing.T) map[string]func(t *testing.T) backend {
	t.Helper()
	return map[string]func(t *testing.T) backend{
		"memory": func(t *testing.T) backend {
			clock := clockwork.NewFakeClock()
			return backend{store: NewMemoryStore(clock), advance: clock.Advance}
		},
		"redis": func(t *testing.T) backend {
			mr := miniredis.RunT(t)
			client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
			t.Cleanup(func() { _ = client.Close() })
			return backend{store: NewRedisStore(client), advance: mr.FastForward}
		},
	}
}

func newSession(roomID string) *models.GameSession {
	return &models.GameSession{
		ID:         uuid.New(),
		RoomID:     roomID,
		HostUserID: "host",
		Status:     models.GameStatusPreparing,
		Settings: models.GameSettings{
			DocumentIDs: []string{"doc-1"},
			Problems:    []models.ProblemSpec{{Content: "vocabulary", Count: 2}},
			AutoStart:   true,
		},
		CreatedAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestSessionRoundTrip(t *testing.T) {
	for name, newBackend := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := newBackend(t).store

			session := newSession("room-1")
			if err := s.CreateSession(ctx, session); err != nil {
				t.Fatalf("CreateSession: %v", err)
			}

			got, err := s.GetSession(ctx, session.ID)
			if err != nil {
				t.Fatalf("GetSession: %v", err)
			}
			if got.RoomID != "room-1" || got.Status != models.GameStatusPreparing {
				t.Fatalf("unexpected session: %+v", got)
			}
			if !got.CreatedAt.Equal(session.CreatedAt) {
				t.Fatalf("created_at = %v, want %v", got.CreatedAt, session.CreatedAt)
			}
			if got.StartedAt != nil || got.FinishedAt != nil {
				t.Fatalf("expected nil timestamps, got %v %v", got.StartedAt, got.FinishedAt)
			}
			if len(got.Settings.Problems) != 1 || got.Settings.Problems[0].Count != 2 {
				t.Fatalf("settings not preserved: %+v", got.Settings)
			}

			if _, err := s.GetSession(ctx, uuid.New()); !errors.Is(err, ErrNotFound) {
				t.Fatalf("expected ErrNotFound, got %v", err)
			}
		})
	}
}

func TestUpdateSession(t *testing.T) {
	errAbort := errors.New("abort")

	for name, newBackend := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := newBackend(t).store
			session := newSession("room-1")
			if err := s.CreateSession(ctx, session); err != nil {
				t.Fatalf("CreateSession: %v", err)
			}

			started := time.Date(2026, 3, 1, 12, 5, 0, 0, time.UTC)
			updated, err := s.UpdateSession(ctx, session.ID, func(gs *models.GameSession) error {
				gs.Status = models.GameStatusPlaying
				gs.TotalQuestions = 3
				gs.StartedAt = &started
				return nil
			})
			if err != nil {
				t.Fatalf("UpdateSession: %v", err)
			}
			if updated.Status != models.GameStatusPlaying {
				t.Fatalf("returned status = %s", updated.Status)
			}

			_, err = s.UpdateSession(ctx, session.ID, func(gs *models.GameSession) error {
				gs.Status = models.GameStatusFinished
				return errAbort
			})
			if !errors.Is(err, errAbort) {
				t.Fatalf("expected abort error, got %v", err)
			}

			got, err := s.GetSession(ctx, session.ID)
			if err != nil {
				t.Fatalf("GetSession: %v", err)
			}
			if got.Status != models.GameStatusPlaying || got.TotalQuestions != 3 {
				t.Fatalf("aborted update leaked: %+v", got)
			}
			if got.StartedAt == nil || !got.StartedAt.Equal(started) {
				t.Fatalf("started_at = %v, want %v", got.StartedAt, started)
			}

			if _, err := s.UpdateSession(ctx, uuid.New(), func(*models.GameSession) error { return nil }); !errors.Is(err, ErrNotFound) {
				t.Fatalf("expected ErrNotFound, got %v", err)
			}
		})
	}
}

func TestUpdateSessionSingleWinner(t *testing.T) {
	errNotPlaying := errors.New("not playing")

	for name, newBackend := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := newBackend(t).store
			session := newSession("room-1")
			session.Status = models.GameStatusPlaying
			if err := s.CreateSession(ctx, session); err != nil {
				t.Fatalf("CreateSession: %v", err)
			}

			const callers = 8
			var wg sync.WaitGroup
			var mu sync.Mutex
			winners := 0
			for i := 0; i < callers; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					_, err := s.UpdateSession(ctx, session.ID, func(gs *models.GameSession) error {
						if gs.Status != models.GameStatusPlaying {
							return errNotPlaying
						}
						gs.Status = models.GameStatusWaitingNext
						return nil
					})
					if err == nil {
						mu.Lock()
						winners++
						mu.Unlock()
					}
				}()
			}
			wg.Wait()

			if winners != 1 {
				t.Fatalf("expected exactly one winner, got %d", winners)
			}
		})
	}
}

func TestParticipantsAndScores(t *testing.T) {
	for name, newBackend := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := newBackend(t).store
			session := newSession("room-1")
			if err := s.CreateSession(ctx, session); err != nil {
				t.Fatalf("CreateSession: %v", err)
			}

			added, err := s.AddParticipant(ctx, session.ID, "alice")
			if err != nil || !added {
				t.Fatalf("AddParticipant alice = %v, %v", added, err)
			}
			added, err = s.AddParticipant(ctx, session.ID, "alice")
			if err != nil || added {
				t.Fatalf("second AddParticipant alice = %v, %v", added, err)
			}
			if _, err := s.AddParticipant(ctx, session.ID, "bob"); err != nil {
				t.Fatalf("AddParticipant bob: %v", err)
			}

			ok, err := s.IsParticipant(ctx, session.ID, "bob")
			if err != nil || !ok {
				t.Fatalf("IsParticipant bob = %v, %v", ok, err)
			}
			ok, err = s.IsParticipant(ctx, session.ID, "carol")
			if err != nil || ok {
				t.Fatalf("IsParticipant carol = %v, %v", ok, err)
			}

			for _, user := range []string{"alice", "bob"} {
				if err := s.InitScore(ctx, session.ID, user); err != nil {
					t.Fatalf("InitScore %s: %v", user, err)
				}
			}

			record, err := s.UpdateScore(ctx, session.ID, "alice", func(r *models.ScoreRecord) bool {
				r.PerQuestionBest[0] = 80
				r.TotalScore = 80
				r.CorrectAnswers = 1
				return true
			})
			if err != nil {
				t.Fatalf("UpdateScore: %v", err)
			}
			if record.TotalScore != 80 {
				t.Fatalf("returned total = %d", record.TotalScore)
			}

			// InitScore must not clobber an existing record.
			if err := s.InitScore(ctx, session.ID, "alice"); err != nil {
				t.Fatalf("InitScore: %v", err)
			}

			scores, err := s.Scores(ctx, session.ID)
			if err != nil {
				t.Fatalf("Scores: %v", err)
			}
			if len(scores) != 2 {
				t.Fatalf("expected 2 score records, got %d", len(scores))
			}
			if scores["alice"].TotalScore != 80 || scores["alice"].PerQuestionBest[0] != 80 {
				t.Fatalf("alice record = %+v", scores["alice"])
			}
			if scores["bob"].TotalScore != 0 {
				t.Fatalf("bob record = %+v", scores["bob"])
			}

			unchanged, err := s.UpdateScore(ctx, session.ID, "bob", func(r *models.ScoreRecord) bool { return false })
			if err != nil || unchanged.UserID != "bob" {
				t.Fatalf("no-op UpdateScore = %+v, %v", unchanged, err)
			}
		})
	}
}

func TestQuestionsAndAnswers(t *testing.T) {
	for name, newBackend := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := newBackend(t).store
			session := newSession("room-1")
			if err := s.CreateSession(ctx, session); err != nil {
				t.Fatalf("CreateSession: %v", err)
			}

			if _, err := s.GetQuestions(ctx, session.ID); !errors.Is(err, ErrNotFound) {
				t.Fatalf("expected ErrNotFound before save, got %v", err)
			}

			questions := []models.Question{
				{Text: "Capital of France?", ReferenceAnswer: "Paris", Hint: "City of light"},
				{Text: "2 + 2?", ReferenceAnswer: "4"},
			}
			if err := s.SaveQuestions(ctx, session.ID, questions); err != nil {
				t.Fatalf("SaveQuestions: %v", err)
			}
			got, err := s.GetQuestions(ctx, session.ID)
			if err != nil {
				t.Fatalf("GetQuestions: %v", err)
			}
			if len(got) != 2 || got[0].ReferenceAnswer != "Paris" || got[1].Text != "2 + 2?" {
				t.Fatalf("unexpected questions: %+v", got)
			}

			for _, answer := range []string{"Lyon", "Paris"} {
				err := s.AppendAnswer(ctx, session.ID, models.AnswerSubmission{
					UserID:        "alice",
					QuestionIndex: 0,
					Answer:        answer,
				})
				if err != nil {
					t.Fatalf("AppendAnswer: %v", err)
				}
			}
			answers, err := s.Answers(ctx, session.ID, 0)
			if err != nil {
				t.Fatalf("Answers: %v", err)
			}
			if len(answers) != 2 || answers[0].Answer != "Lyon" || answers[1].Answer != "Paris" {
				t.Fatalf("answers not appended in order: %+v", answers)
			}
			none, err := s.Answers(ctx, session.ID, 1)
			if err != nil || len(none) != 0 {
				t.Fatalf("expected no answers for index 1, got %+v, %v", none, err)
			}
		})
	}
}

func TestTimerTokens(t *testing.T) {
	for name, newBackend := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := newBackend(t).store
			session := newSession("room-1")
			if err := s.CreateSession(ctx, session); err != nil {
				t.Fatalf("CreateSession: %v", err)
			}

			first, err := s.IssueTimerToken(ctx, session.ID, 0)
			if err != nil {
				t.Fatalf("IssueTimerToken: %v", err)
			}
			active, err := s.TimerActive(ctx, first)
			if err != nil || !active {
				t.Fatalf("first token active = %v, %v", active, err)
			}

			second, err := s.IssueTimerToken(ctx, session.ID, 0)
			if err != nil {
				t.Fatalf("IssueTimerToken: %v", err)
			}
			if second.Seq <= first.Seq {
				t.Fatalf("tokens not monotonic: %d then %d", first.Seq, second.Seq)
			}
			if active, _ := s.TimerActive(ctx, first); active {
				t.Fatal("superseded token still active")
			}
			if active, _ := s.TimerActive(ctx, second); !active {
				t.Fatal("latest token not active")
			}
		})
	}
}

func TestLeases(t *testing.T) {
	for name, newBackend := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			b := newBackend(t)
			s := b.store
			gameID := uuid.New()

			ok, err := s.AcquireLease(ctx, gameID, "advance", "owner-a", 2*time.Second)
			if err != nil || !ok {
				t.Fatalf("first acquire = %v, %v", ok, err)
			}
			ok, err = s.AcquireLease(ctx, gameID, "advance", "owner-b", 2*time.Second)
			if err != nil || ok {
				t.Fatalf("second acquire = %v, %v", ok, err)
			}

			// Releasing with the wrong owner keeps the lease.
			if err := s.ReleaseLease(ctx, gameID, "advance", "owner-b"); err != nil {
				t.Fatalf("ReleaseLease: %v", err)
			}
			if ok, _ := s.AcquireLease(ctx, gameID, "advance", "owner-b", 2*time.Second); ok {
				t.Fatal("lease stolen after foreign release")
			}

			if err := s.ReleaseLease(ctx, gameID, "advance", "owner-a"); err != nil {
				t.Fatalf("ReleaseLease: %v", err)
			}
			ok, err = s.AcquireLease(ctx, gameID, "advance", "owner-b", 2*time.Second)
			if err != nil || !ok {
				t.Fatalf("acquire after release = %v, %v", ok, err)
			}

			// Leases are independent per name.
			if ok, _ := s.AcquireLease(ctx, gameID, "generate", "owner-c", time.Minute); !ok {
				t.Fatal("generate lease blocked by advance lease")
			}

			b.advance(3 * time.Second)
			ok, err = s.AcquireLease(ctx, gameID, "advance", "owner-c", 2*time.Second)
			if err != nil || !ok {
				t.Fatalf("acquire after expiry = %v, %v", ok, err)
			}
		})
	}
}

func TestRoomPointersAndDelete(t *testing.T) {
	for name, newBackend := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := newBackend(t).store

			first := newSession("room-1")
			second := newSession("room-1")
			for _, session := range []*models.GameSession{first, second} {
				if err := s.CreateSession(ctx, session); err != nil {
					t.Fatalf("CreateSession: %v", err)
				}
				if err := s.AddRoomGame(ctx, "room-1", session.ID); err != nil {
					t.Fatalf("AddRoomGame: %v", err)
				}
				if _, err := s.AddParticipant(ctx, session.ID, "alice"); err != nil {
					t.Fatalf("AddParticipant: %v", err)
				}
				if err := s.InitScore(ctx, session.ID, "alice"); err != nil {
					t.Fatalf("InitScore: %v", err)
				}
				if _, err := s.IssueTimerToken(ctx, session.ID, 0); err != nil {
					t.Fatalf("IssueTimerToken: %v", err)
				}
			}

			if err := s.SetActiveGame(ctx, "room-1", second.ID); err != nil {
				t.Fatalf("SetActiveGame: %v", err)
			}
			active, err := s.ActiveGame(ctx, "room-1")
			if err != nil || active != second.ID {
				t.Fatalf("ActiveGame = %v, %v", active, err)
			}

			// Clearing for a game that is no longer active is a no-op.
			if err := s.ClearActiveGame(ctx, "room-1", first.ID); err != nil {
				t.Fatalf("ClearActiveGame: %v", err)
			}
			if active, _ := s.ActiveGame(ctx, "room-1"); active != second.ID {
				t.Fatal("active game cleared by stale game id")
			}

			games, err := s.RoomGames(ctx, "room-1")
			if err != nil || len(games) != 2 {
				t.Fatalf("RoomGames = %v, %v", games, err)
			}

			if err := s.DeleteGame(ctx, first.ID); err != nil {
				t.Fatalf("DeleteGame: %v", err)
			}
			if _, err := s.GetSession(ctx, first.ID); !errors.Is(err, ErrNotFound) {
				t.Fatalf("deleted session still readable: %v", err)
			}
			if _, err := s.GetScore(ctx, first.ID, "alice"); !errors.Is(err, ErrNotFound) {
				t.Fatalf("deleted score still readable: %v", err)
			}
			if _, err := s.GetSession(ctx, second.ID); err != nil {
				t.Fatalf("other game affected by delete: %v", err)
			}

			if err := s.DeleteRoom(ctx, "room-1"); err != nil {
				t.Fatalf("DeleteRoom: %v", err)
			}
			if _, err := s.ActiveGame(ctx, "room-1"); !errors.Is(err, ErrNotFound) {
				t.Fatalf("expected ErrNotFound after DeleteRoom, got %v", err)
			}
			games, _ = s.RoomGames(ctx, "room-1")
			if len(games) != 0 {
				t.Fatalf("room games survived DeleteRoom: %v", games)
			}
		})
	}
}

func TestRedisDeleteGameRemovesAllKeys(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	s := NewRedisStore(client)

	session := newSession("room-1")
	if err := s.CreateSession(ctx, session); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if _, err := s.AddParticipant(ctx, session.ID, "alice"); err != nil {
		t.Fatalf("AddParticipant: %v", err)
	}
	if err := s.SaveQuestions(ctx, session.ID, []models.Question{{Text: "q"}}); err != nil {
		t.Fatalf("SaveQuestions: %v", err)
	}
	if err := s.AppendAnswer(ctx, session.ID, models.AnswerSubmission{UserID: "alice"}); err != nil {
		t.Fatalf("AppendAnswer: %v", err)
	}
	if _, err := s.AcquireLease(ctx, session.ID, "advance", "me", time.Minute); err != nil {
		t.Fatalf("AcquireLease: %v", err)
	}
	mr.Set("unrelated", "value")

	if err := s.DeleteGame(ctx, session.ID); err != nil {
		t.Fatalf("DeleteGame: %v", err)
	}

	keys := mr.Keys()
	if len(keys) != 1 || keys[0] != "unrelated" {
		t.Fatalf("expected only the unrelated key to remain, got %v", keys)
	}
}

func TestWritesAfterDeleteGame(t *testing.T) {
	for name, newBackend := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := newBackend(t).store
			session := newSession("room-1")
			if err := s.CreateSession(ctx, session); err != nil {
				t.Fatalf("CreateSession: %v", err)
			}
			if err := s.DeleteGame(ctx, session.ID); err != nil {
				t.Fatalf("DeleteGame: %v", err)
			}

			if _, err := s.AddParticipant(ctx, session.ID, "alice"); !errors.Is(err, ErrNotFound) {
				t.Fatalf("AddParticipant = %v", err)
			}
			if err := s.InitScore(ctx, session.ID, "alice"); !errors.Is(err, ErrNotFound) {
				t.Fatalf("InitScore = %v", err)
			}
			if err := s.AppendAnswer(ctx, session.ID, models.AnswerSubmission{UserID: "alice"}); !errors.Is(err, ErrNotFound) {
				t.Fatalf("AppendAnswer = %v", err)
			}
			if _, err := s.IssueTimerToken(ctx, session.ID, 0); !errors.Is(err, ErrNotFound) {
				t.Fatalf("IssueTimerToken = %v", err)
			}

			if users, _ := s.Participants(ctx, session.ID); len(users) != 0 {
				t.Fatalf("participants recreated: %v", users)
			}
			if _, err := s.GetScore(ctx, session.ID, "alice"); !errors.Is(err, ErrNotFound) {
				t.Fatalf("score recreated: %v", err)
			}
			if answers, _ := s.Answers(ctx, session.ID, 0); len(answers) != 0 {
				t.Fatalf("answers recreated: %v", answers)
			}
		})
	}
}
