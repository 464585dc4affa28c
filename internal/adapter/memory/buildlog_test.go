package memory

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/Strob0t/ForgeBot/internal/domain"
	"github.com/Strob0t/ForgeBot/internal/domain/build"
)

func scored(id string, seq int, codes ...string) build.Record {
	s := 100 - 25*len(codes)
	return build.Record{BuildID: id, Seq: seq, Stage: build.StageTesting, IssueCodes: codes, Score: &s}
}

func TestBuildLog_AppendList(t *testing.T) {
	l := NewBuildLog(0)
	ctx := context.Background()

	for seq := 1; seq <= 3; seq++ {
		if err := l.Append(ctx, build.Record{BuildID: "b1", Seq: seq, Stage: build.StageBuilding}); err != nil {
			t.Fatal(err)
		}
	}
	recs, err := l.List(ctx, "b1")
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 3 || recs[2].Seq != 3 {
		t.Fatalf("records = %+v", recs)
	}
	if err := l.Append(ctx, build.Record{BuildID: "b1", Seq: 2}); !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("out-of-order append: %v", err)
	}
	if _, err := l.List(ctx, "nope"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestBuildLog_SummarizeIssueCodes(t *testing.T) {
	l := NewBuildLog(0)
	ctx := context.Background()
	_ = l.Append(ctx, scored("old", 1, "img_no_alt", "img_no_alt"))
	_ = l.Append(ctx, scored("b1", 1, "no_script", "truncated"))
	_ = l.Append(ctx, build.Record{BuildID: "b1", Seq: 2, Stage: build.StageBuilding, IssueCodes: []string{"no_script"}})
	_ = l.Append(ctx, scored("b2", 1, "no_script"))
	_ = l.Append(ctx, scored("b2", 2, "no_title"))

	got, err := l.SummarizeIssueCodes(ctx, 2, 2)
	if err != nil {
		t.Fatal(err)
	}
	want := []build.IssueCount{{Code: "no_script", Count: 2}, {Code: "no_title", Count: 1}}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestBuildLog_EvictsOldestBuild(t *testing.T) {
	l := NewBuildLog(2)
	ctx := context.Background()
	for _, id := range []string{"a", "b", "c"} {
		if err := l.Append(ctx, build.Record{BuildID: id, Seq: 1}); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := l.List(ctx, "a"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("oldest build should be evicted, got %v", err)
	}
	if _, err := l.List(ctx, "c"); err != nil {
		t.Fatal(err)
	}
}
