package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/mcdev12/ludus/go/internal/dbconfig"
	"github.com/mcdev12/ludus/go/internal/models"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// compareAndDelete removes KEYS[1] only while it still holds ARGV[1].
var compareAndDelete = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// The guarded writes below run only while the session hash KEYS[1] exists,
// so a write racing DeleteGame cannot recreate keys of a deleted game.
// They return -1 when the game is gone.
var (
	guardedSAdd = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 0 then
	return -1
end
return redis.call("SADD", KEYS[2], ARGV[1])
`)
	guardedSetNX = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 0 then
	return -1
end
return redis.call("SETNX", KEYS[2], ARGV[1])
`)
	guardedRPush = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 0 then
	return -1
end
return redis.call("RPUSH", KEYS[2], ARGV[1])
`)
	guardedIncr = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 0 then
	return -1
end
return redis.call("INCR", KEYS[2])
`)
)

const deleteBatchSize = 100

// NewRedisClient connects to Redis and verifies the connection.
func NewRedisClient(cfg dbconfig.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return client, nil
}

// RedisStore implements Store on top of Redis.
type RedisStore struct {
	client redis.UniversalClient
}

// NewRedisStore creates a Redis-backed store.
func NewRedisStore(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) CreateSession(ctx context.Context, session *models.GameSession) error {
	fields, err := encodeSession(session)
	if err != nil {
		return err
	}
	if err := s.client.HSet(ctx, gameKey(session.ID), fields).Err(); err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

func (s *RedisStore) GetSession(ctx context.Context, gameID uuid.UUID) (*models.GameSession, error) {
	fields, err := s.client.HGetAll(ctx, gameKey(gameID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	if len(fields) == 0 {
		return nil, ErrNotFound
	}
	return decodeSession(gameID, fields)
}

// UpdateSession runs fn inside a WATCH on the session hash and retries when
// another writer commits first.
func (s *RedisStore) UpdateSession(ctx context.Context, gameID uuid.UUID, fn SessionUpdate) (*models.GameSession, error) {
	key := gameKey(gameID)
	var updated *models.GameSession

	txf := func(tx *redis.Tx) error {
		fields, err := tx.HGetAll(ctx, key).Result()
		if err != nil {
			return err
		}
		if len(fields) == 0 {
			return ErrNotFound
		}
		session, err := decodeSession(gameID, fields)
		if err != nil {
			return err
		}
		if err := fn(session); err != nil {
			return err
		}
		encoded, err := encodeSession(session)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key, encoded)
			return nil
		})
		if err != nil {
			return err
		}
		updated = session
		return nil
	}

	for attempt := 0; attempt < maxUpdateRetries; attempt++ {
		err := s.client.Watch(ctx, txf, key)
		if err == nil {
			return updated, nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			log.Debug().Str("game_id", gameID.String()).Int("attempt", attempt+1).Msg("session update conflict, retrying")
			continue
		}
		return nil, err
	}
	return nil, ErrConflict
}

func (s *RedisStore) AddParticipant(ctx context.Context, gameID uuid.UUID, userID string) (bool, error) {
	added, err := guardedSAdd.Run(ctx, s.client, []string{gameKey(gameID), participantsKey(gameID)}, userID).Int64()
	if err != nil {
		return false, fmt.Errorf("failed to add participant: %w", err)
	}
	if added < 0 {
		return false, ErrNotFound
	}
	return added == 1, nil
}

func (s *RedisStore) IsParticipant(ctx context.Context, gameID uuid.UUID, userID string) (bool, error) {
	return s.client.SIsMember(ctx, participantsKey(gameID), userID).Result()
}

func (s *RedisStore) Participants(ctx context.Context, gameID uuid.UUID) ([]string, error) {
	return s.client.SMembers(ctx, participantsKey(gameID)).Result()
}

func (s *RedisStore) InitScore(ctx context.Context, gameID uuid.UUID, userID string) error {
	data, err := json.Marshal(models.NewScoreRecord(userID))
	if err != nil {
		return err
	}
	res, err := guardedSetNX.Run(ctx, s.client, []string{gameKey(gameID), scoreKey(gameID, userID)}, data).Int64()
	if err != nil {
		return fmt.Errorf("failed to init score: %w", err)
	}
	if res < 0 {
		return ErrNotFound
	}
	return nil
}

func (s *RedisStore) GetScore(ctx context.Context, gameID uuid.UUID, userID string) (*models.ScoreRecord, error) {
	data, err := s.client.Get(ctx, scoreKey(gameID, userID)).Bytes()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get score: %w", err)
	}
	return decodeScore(userID, data)
}

// UpdateScore is an optimistic read-modify-write on the user's own key, so
// updates for different users never conflict.
func (s *RedisStore) UpdateScore(ctx context.Context, gameID uuid.UUID, userID string, fn ScoreUpdate) (models.ScoreRecord, error) {
	key := scoreKey(gameID, userID)
	var result models.ScoreRecord

	txf := func(tx *redis.Tx) error {
		record := models.NewScoreRecord(userID)
		data, err := tx.Get(ctx, key).Bytes()
		switch {
		case err == redis.Nil:
		case err != nil:
			return err
		default:
			decoded, err := decodeScore(userID, data)
			if err != nil {
				return err
			}
			record = *decoded
		}

		if !fn(&record) {
			result = record
			return nil
		}

		encoded, err := json.Marshal(record)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, encoded, 0)
			return nil
		})
		if err != nil {
			return err
		}
		result = record
		return nil
	}

	for attempt := 0; attempt < maxUpdateRetries; attempt++ {
		err := s.client.Watch(ctx, txf, key)
		if err == nil {
			return result, nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return models.ScoreRecord{}, fmt.Errorf("failed to update score: %w", err)
	}
	return models.ScoreRecord{}, ErrConflict
}

func (s *RedisStore) Scores(ctx context.Context, gameID uuid.UUID) (map[string]models.ScoreRecord, error) {
	users, err := s.Participants(ctx, gameID)
	if err != nil {
		return nil, fmt.Errorf("failed to list participants: %w", err)
	}
	scores := make(map[string]models.ScoreRecord, len(users))
	if len(users) == 0 {
		return scores, nil
	}

	keys := make([]string, len(users))
	for i, userID := range users {
		keys[i] = scoreKey(gameID, userID)
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get scores: %w", err)
	}

	for i, value := range values {
		userID := users[i]
		raw, ok := value.(string)
		if !ok {
			scores[userID] = models.NewScoreRecord(userID)
			continue
		}
		record, err := decodeScore(userID, []byte(raw))
		if err != nil {
			return nil, err
		}
		scores[userID] = *record
	}
	return scores, nil
}

func (s *RedisStore) SaveQuestions(ctx context.Context, gameID uuid.UUID, questions []models.Question) error {
	data, err := json.Marshal(questions)
	if err != nil {
		return fmt.Errorf("failed to marshal questions: %w", err)
	}
	if err := s.client.Set(ctx, questionsKey(gameID), data, 0).Err(); err != nil {
		return fmt.Errorf("failed to save questions: %w", err)
	}
	return nil
}

func (s *RedisStore) GetQuestions(ctx context.Context, gameID uuid.UUID) ([]models.Question, error) {
	data, err := s.client.Get(ctx, questionsKey(gameID)).Bytes()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get questions: %w", err)
	}
	var questions []models.Question
	if err := json.Unmarshal(data, &questions); err != nil {
		return nil, fmt.Errorf("failed to unmarshal questions: %w", err)
	}
	return questions, nil
}

func (s *RedisStore) AppendAnswer(ctx context.Context, gameID uuid.UUID, answer models.AnswerSubmission) error {
	data, err := json.Marshal(answer)
	if err != nil {
		return err
	}
	res, err := guardedRPush.Run(ctx, s.client, []string{gameKey(gameID), answersKey(gameID, answer.QuestionIndex)}, data).Int64()
	if err != nil {
		return fmt.Errorf("failed to append answer: %w", err)
	}
	if res < 0 {
		return ErrNotFound
	}
	return nil
}

func (s *RedisStore) Answers(ctx context.Context, gameID uuid.UUID, questionIndex int) ([]models.AnswerSubmission, error) {
	values, err := s.client.LRange(ctx, answersKey(gameID, questionIndex), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get answers: %w", err)
	}
	answers := make([]models.AnswerSubmission, 0, len(values))
	for _, value := range values {
		var answer models.AnswerSubmission
		if err := json.Unmarshal([]byte(value), &answer); err != nil {
			return nil, fmt.Errorf("failed to unmarshal answer: %w", err)
		}
		answers = append(answers, answer)
	}
	return answers, nil
}

// IssueTimerToken bumps the game's timer counter. The counter value is the
// token, so the last issued token is always the active one.
func (s *RedisStore) IssueTimerToken(ctx context.Context, gameID uuid.UUID, questionIndex int) (TimerToken, error) {
	seq, err := guardedIncr.Run(ctx, s.client, []string{gameKey(gameID), timerKey(gameID)}).Int64()
	if err != nil {
		return TimerToken{}, fmt.Errorf("failed to issue timer token: %w", err)
	}
	if seq < 0 {
		return TimerToken{}, ErrNotFound
	}
	return TimerToken{GameID: gameID, QuestionIndex: questionIndex, Seq: seq}, nil
}

func (s *RedisStore) TimerActive(ctx context.Context, token TimerToken) (bool, error) {
	seq, err := s.client.Get(ctx, timerKey(token.GameID)).Int64()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read timer token: %w", err)
	}
	return seq == token.Seq, nil
}

func (s *RedisStore) AcquireLease(ctx context.Context, gameID uuid.UUID, name, owner string, ttl time.Duration) (bool, error) {
	ok, err := s.client.SetNX(ctx, leaseKey(gameID, name), owner, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to acquire %s lease: %w", name, err)
	}
	return ok, nil
}

func (s *RedisStore) ReleaseLease(ctx context.Context, gameID uuid.UUID, name, owner string) error {
	if err := compareAndDelete.Run(ctx, s.client, []string{leaseKey(gameID, name)}, owner).Err(); err != nil && err != redis.Nil {
		return fmt.Errorf("failed to release %s lease: %w", name, err)
	}
	return nil
}

func (s *RedisStore) SetActiveGame(ctx context.Context, roomID string, gameID uuid.UUID) error {
	return s.client.Set(ctx, activeGameKey(roomID), gameID.String(), 0).Err()
}

func (s *RedisStore) ActiveGame(ctx context.Context, roomID string) (uuid.UUID, error) {
	value, err := s.client.Get(ctx, activeGameKey(roomID)).Result()
	if err == redis.Nil {
		return uuid.Nil, ErrNotFound
	}
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to get active game: %w", err)
	}
	return uuid.Parse(value)
}

func (s *RedisStore) ClearActiveGame(ctx context.Context, roomID string, gameID uuid.UUID) error {
	if err := compareAndDelete.Run(ctx, s.client, []string{activeGameKey(roomID)}, gameID.String()).Err(); err != nil && err != redis.Nil {
		return fmt.Errorf("failed to clear active game: %w", err)
	}
	return nil
}

func (s *RedisStore) AddRoomGame(ctx context.Context, roomID string, gameID uuid.UUID) error {
	return s.client.SAdd(ctx, roomGamesKey(roomID), gameID.String()).Err()
}

func (s *RedisStore) RoomGames(ctx context.Context, roomID string) ([]uuid.UUID, error) {
	members, err := s.client.SMembers(ctx, roomGamesKey(roomID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list room games: %w", err)
	}
	ids := make([]uuid.UUID, 0, len(members))
	for _, member := range members {
		id, err := uuid.Parse(member)
		if err != nil {
			log.Warn().Str("room_id", roomID).Str("value", member).Msg("skipping malformed game id")
			continue
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// DeleteGame removes every key that belongs to the game.
func (s *RedisStore) DeleteGame(ctx context.Context, gameID uuid.UUID) error {
	pattern := gameKey(gameID) + "*"
	var cursor uint64
	for {
		keys, next, err := s.client.Scan(ctx, cursor, pattern, deleteBatchSize).Result()
		if err != nil {
			return fmt.Errorf("failed to scan game keys: %w", err)
		}
		if len(keys) > 0 {
			if err := s.client.Del(ctx, keys...).Err(); err != nil {
				return fmt.Errorf("failed to delete game keys: %w", err)
			}
		}
		cursor = next
		if cursor == 0 {
			return nil
		}
	}
}

func (s *RedisStore) DeleteRoom(ctx context.Context, roomID string) error {
	return s.client.Del(ctx, activeGameKey(roomID), roomGamesKey(roomID)).Err()
}

func encodeSession(session *models.GameSession) (map[string]interface{}, error) {
	settings, err := json.Marshal(session.Settings)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal settings: %w", err)
	}
	return map[string]interface{}{
		"room_id":                session.RoomID,
		"host_user_id":           session.HostUserID,
		"status":                 string(session.Status),
		"current_question_index": session.CurrentQuestionIndex,
		"total_questions":        session.TotalQuestions,
		"settings":               string(settings),
		"created_at":             formatTime(&session.CreatedAt),
		"started_at":             formatTime(session.StartedAt),
		"finished_at":            formatTime(session.FinishedAt),
	}, nil
}

func decodeSession(gameID uuid.UUID, fields map[string]string) (*models.GameSession, error) {
	session := &models.GameSession{
		ID:         gameID,
		RoomID:     fields["room_id"],
		HostUserID: fields["host_user_id"],
		Status:     models.GameStatus(fields["status"]),
	}

	var err error
	if session.CurrentQuestionIndex, err = strconv.Atoi(fields["current_question_index"]); err != nil {
		return nil, fmt.Errorf("invalid current_question_index: %w", err)
	}
	if session.TotalQuestions, err = strconv.Atoi(fields["total_questions"]); err != nil {
		return nil, fmt.Errorf("invalid total_questions: %w", err)
	}
	if raw := fields["settings"]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &session.Settings); err != nil {
			return nil, fmt.Errorf("invalid settings: %w", err)
		}
	}

	createdAt, err := parseTime(fields["created_at"])
	if err != nil {
		return nil, err
	}
	if createdAt != nil {
		session.CreatedAt = *createdAt
	}
	if session.StartedAt, err = parseTime(fields["started_at"]); err != nil {
		return nil, err
	}
	if session.FinishedAt, err = parseTime(fields["finished_at"]); err != nil {
		return nil, err
	}
	return session, nil
}

func decodeScore(userID string, data []byte) (*models.ScoreRecord, error) {
	record := models.NewScoreRecord(userID)
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("failed to unmarshal score: %w", err)
	}
	if record.PerQuestionBest == nil {
		record.PerQuestionBest = make(map[int]int)
	}
	return &record, nil
}

func formatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(value string) (*time.Time, error) {
	if value == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return nil, fmt.Errorf("invalid timestamp %q: %w", value, err)
	}
	return &t, nil
}
