package rooms

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/mcdev12/ludus/go/internal/models"
	"github.com/mcdev12/ludus/go/internal/sqlutil"
)

const listMembers = `
SELECT rm.user_id, u.name
FROM room_members rm
LEFT JOIN users u ON u.id = rm.user_id
WHERE rm.room_id = $1
ORDER BY rm.joined_at`

// Repository reads room membership from Postgres
type Repository struct {
	db sqlutil.Querier
}

// NewRepository creates a new rooms repository
func NewRepository(db sqlutil.Querier) *Repository {
	return &Repository{db: db}
}

// GetMembers lists the members of roomID in join order. Members without a
// user record have an empty display name.
func (r *Repository) GetMembers(ctx context.Context, roomID string) ([]models.RoomMember, error) {
	rows, err := r.db.Query(ctx, listMembers, roomID)
	if err != nil {
		return nil, fmt.Errorf("failed to query room members: %w", err)
	}
	defer rows.Close()

	var members []models.RoomMember
	for rows.Next() {
		var (
			userID string
			name   pgtype.Text
		)
		if err := rows.Scan(&userID, &name); err != nil {
			return nil, fmt.Errorf("failed to scan room member: %w", err)
		}
		members = append(members, models.RoomMember{
			UserID:      userID,
			DisplayName: sqlutil.FromText(name, ""),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read room members: %w", err)
	}
	return members, nil
}
