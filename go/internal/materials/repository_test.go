package materials

import (
	"context"
	"errors"
	"testing"

	"github.com/mcdev12/ludus/go/internal/sqlutil/sqltest"
)

func TestExcerpts(t *testing.T) {
	db := &sqltest.Querier{Rows: [][]any{{"Mitochondria make ATP."}, {"   "}, {"Osmosis moves water."}}}
	excerpts, err := NewRepository(db).Excerpts(context.Background(), []string{"doc-1", "doc-2"}, 20)
	if err != nil {
		t.Fatalf("Excerpts: %v", err)
	}
	if len(excerpts) != 2 || excerpts[1] != "Osmosis moves water." {
		t.Fatalf("excerpts = %q", excerpts)
	}
	if ids, ok := db.Args[0].([]string); !ok || len(ids) != 2 || db.Args[1] != 20 {
		t.Fatalf("args = %v", db.Args)
	}
}

func TestExcerptsNothingToLoad(t *testing.T) {
	db := &sqltest.Querier{Err: errors.New("must not query")}
	repo := NewRepository(db)
	if got, err := repo.Excerpts(context.Background(), nil, 20); err != nil || got != nil {
		t.Fatalf("no documents = %v, %v", got, err)
	}
	if got, err := repo.Excerpts(context.Background(), []string{"doc-1"}, 0); err != nil || got != nil {
		t.Fatalf("zero limit = %v, %v", got, err)
	}
	if db.SQL != "" {
		t.Fatal("queried without documents")
	}
}

func TestExcerptsQueryError(t *testing.T) {
	boom := errors.New("timeout")
	if _, err := NewRepository(&sqltest.Querier{Err: boom}).Excerpts(context.Background(), []string{"d"}, 5); !errors.Is(err, boom) {
		t.Fatalf("Excerpts = %v", err)
	}
}
