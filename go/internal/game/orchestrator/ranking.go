package orchestrator

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/mcdev12/ludus/go/internal/models"
	"github.com/rs/zerolog/log"
)

// Ranking orders every participant by total score. Ties go to more correct
// answers, then to whoever first crossed the threshold, then to user id.
func (o *Orchestrator) Ranking(ctx context.Context, gameID uuid.UUID) ([]models.RankingEntry, error) {
	session, err := o.getSession(ctx, gameID)
	if err != nil {
		return nil, err
	}
	scores, err := o.store.Scores(ctx, gameID)
	if err != nil {
		return nil, fmt.Errorf("failed to load scores: %w", err)
	}

	names := make(map[string]string)
	if o.rooms != nil {
		members, err := o.rooms.GetMembers(ctx, session.RoomID)
		if err != nil {
			log.Warn().Err(err).Str("room_id", session.RoomID).Msg("failed to load room members for ranking")
		}
		for _, m := range members {
			names[m.UserID] = m.DisplayName
		}
	}

	return rank(scores, names), nil
}

func rank(scores map[string]models.ScoreRecord, names map[string]string) []models.RankingEntry {
	records := make([]models.ScoreRecord, 0, len(scores))
	for _, record := range scores {
		records = append(records, record)
	}

	sort.Slice(records, func(i, j int) bool {
		a, b := records[i], records[j]
		if a.TotalScore != b.TotalScore {
			return a.TotalScore > b.TotalScore
		}
		if a.CorrectAnswers != b.CorrectAnswers {
			return a.CorrectAnswers > b.CorrectAnswers
		}
		switch {
		case a.FirstCorrectAt != nil && b.FirstCorrectAt == nil:
			return true
		case a.FirstCorrectAt == nil && b.FirstCorrectAt != nil:
			return false
		case a.FirstCorrectAt != nil && !a.FirstCorrectAt.Equal(*b.FirstCorrectAt):
			return a.FirstCorrectAt.Before(*b.FirstCorrectAt)
		}
		return a.UserID < b.UserID
	})

	ranking := make([]models.RankingEntry, len(records))
	for i, record := range records {
		name := names[record.UserID]
		if name == "" {
			name = fallbackName(record.UserID)
		}
		ranking[i] = models.RankingEntry{
			Rank:           i + 1,
			UserID:         record.UserID,
			UserName:       name,
			TotalScore:     record.TotalScore,
			CorrectAnswers: record.CorrectAnswers,
		}
	}
	return ranking
}

// fallbackName is the display name of a user with no known member record.
func fallbackName(userID string) string {
	suffix := userID
	if len(suffix) > 4 {
		suffix = suffix[len(suffix)-4:]
	}
	return "Player-" + suffix
}
