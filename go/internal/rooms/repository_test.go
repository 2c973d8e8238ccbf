package rooms

import (
	"context"
	"errors"
	"testing"

	"github.com/mcdev12/ludus/go/internal/sqlutil/sqltest"
)

func TestGetMembers(t *testing.T) {
	db := &sqltest.Querier{Rows: [][]any{
		{"u-1", "Alice"},
		{"u-2", nil},
	}}
	members, err := NewRepository(db).GetMembers(context.Background(), "room-1")
	if err != nil {
		t.Fatalf("GetMembers: %v", err)
	}
	if len(members) != 2 || members[0].DisplayName != "Alice" || members[1].UserID != "u-2" || members[1].DisplayName != "" {
		t.Fatalf("members = %+v", members)
	}
	if len(db.Args) != 1 || db.Args[0] != "room-1" {
		t.Fatalf("args = %v", db.Args)
	}
}

func TestGetMembersErrors(t *testing.T) {
	boom := errors.New("connection refused")
	if _, err := NewRepository(&sqltest.Querier{Err: boom}).GetMembers(context.Background(), "r"); !errors.Is(err, boom) {
		t.Fatalf("query error = %v", err)
	}
	if _, err := NewRepository(&sqltest.Querier{Rows: [][]any{{"u-1", 42}}}).GetMembers(context.Background(), "r"); err == nil {
		t.Fatal("expected scan error")
	}
}
