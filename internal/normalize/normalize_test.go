package normalize

import (
	"testing"

	"github.com/openrating/core/internal/apperr"
	"github.com/openrating/core/internal/rating"
	"github.com/openrating/core/internal/ratingparams"
)

func sub(sideA, sideB []string, games ...RawGame) Submission {
	return Submission{
		Sport: "badminton", Discipline: "singles", Format: "rally21",
		SideA: sideA, SideB: sideB, Games: games,
	}
}

func TestBadmintonSingles_StraightWin(t *testing.T) {
	p := ratingparams.Default()
	rule := NewBadmintonSingles()
	in, err := rule.Normalize(p, sub([]string{"a"}, []string{"b"},
		RawGame{GameNo: 1, A: 21, B: 15},
		RawGame{GameNo: 2, A: 21, B: 18},
	))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if in.Winner == nil || *in.Winner != rating.SideA {
		t.Fatalf("expected side A to win, got %v", in.Winner)
	}
	if in.MovWeight < p.MovMin || in.MovWeight > p.MovMax {
		t.Errorf("mov_weight out of range: %v", in.MovWeight)
	}
}

func TestBadmintonSingles_DeuceRequiresTwoPointLead(t *testing.T) {
	p := ratingparams.Default()
	rule := NewBadmintonSingles()
	_, err := rule.Normalize(p, sub([]string{"a"}, []string{"b"},
		RawGame{GameNo: 1, A: 22, B: 21},
	))
	if err == nil {
		t.Fatal("expected validation error for 22-21 (not a 2-point lead)")
	}
	appErr, ok := apperr.As(err)
	if !ok || appErr.Kind != apperr.KindValidation {
		t.Fatalf("expected validation_error kind, got %v", err)
	}
}

func TestBadmintonSingles_CapAt30(t *testing.T) {
	p := ratingparams.Default()
	rule := NewBadmintonSingles()
	_, err := rule.Normalize(p, sub([]string{"a"}, []string{"b"},
		RawGame{GameNo: 1, A: 30, B: 29},
	))
	if err != nil {
		t.Fatalf("30-29 should be a valid capped game: %v", err)
	}

	_, err = rule.Normalize(p, sub([]string{"a"}, []string{"b"},
		RawGame{GameNo: 1, A: 30, B: 27},
	))
	if err == nil {
		t.Fatal("30-27 should be rejected: cap game requires opponent score >= 28")
	}
}

func TestBadmintonDoubles_WrongSideShapeRejected(t *testing.T) {
	p := ratingparams.Default()
	rule := NewBadmintonDoubles()
	_, err := rule.Normalize(p, Submission{
		Sport: "badminton", Discipline: "doubles", Format: "rally21",
		SideA: []string{"a"}, SideB: []string{"b", "c"},
	})
	if err == nil {
		t.Fatal("expected validation error: doubles requires exactly two players per side")
	}
}

func TestBadmintonSingles_DuplicateGameNoRejected(t *testing.T) {
	p := ratingparams.Default()
	rule := NewBadmintonSingles()
	_, err := rule.Normalize(p, sub([]string{"a"}, []string{"b"},
		RawGame{GameNo: 1, A: 21, B: 10},
		RawGame{GameNo: 1, A: 21, B: 12},
	))
	if err == nil {
		t.Fatal("expected validation error for duplicate game_no")
	}
}

func TestBadmintonSingles_ScorelessSubmissionIsUnrated(t *testing.T) {
	p := ratingparams.Default()
	rule := NewBadmintonSingles()
	in, err := rule.Normalize(p, sub([]string{"a"}, []string{"b"}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if in.Winner != nil {
		t.Fatal("a scoreless submission should have a nil winner (unrated)")
	}
}

func TestRegistry_UnsupportedFormat(t *testing.T) {
	r := NewRegistry()
	RegisterDefaults(r)
	p := ratingparams.Default()
	_, err := r.Normalize(p, Submission{Sport: "tennis", Discipline: "singles", Format: "sets3"})
	appErr, ok := apperr.As(err)
	if !ok || appErr.Kind != apperr.KindUnsupportedFormat {
		t.Fatalf("expected unsupported_format, got %v", err)
	}
}

func TestRegistry_Badminton(t *testing.T) {
	r := NewRegistry()
	RegisterDefaults(r)
	p := ratingparams.Default()
	in, err := r.Normalize(p, sub([]string{"a"}, []string{"b"}, RawGame{GameNo: 1, A: 21, B: 5}, RawGame{GameNo: 2, A: 21, B: 3}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if in.Winner == nil || *in.Winner != rating.SideA {
		t.Fatalf("expected side A to win")
	}
}
