package domain_test

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"classifieds/internal/cards/domain"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want domain.Kind
	}{
		{name: "sentinel", err: domain.ErrCardNotFound, want: domain.KindNotFound},
		{name: "wrapped with cause", err: fmt.Errorf("%w: %v", domain.ErrCommentsNotDeleted, errors.New("503")), want: domain.KindRemoteCall},
		{name: "link failure is remote", err: domain.ErrCardNotLinked, want: domain.KindRemoteCall},
		{name: "api key", err: domain.ErrInvalidAPIKey, want: domain.KindTokenInvalid},
		{name: "unclassified", err: errors.New("boom"), want: domain.KindInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := domain.KindOf(tt.err); got != tt.want {
				t.Errorf("KindOf = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestErrCardNotLinked_MatchesCardNotSaved(t *testing.T) {
	err := fmt.Errorf("%w: identity returned 502", domain.ErrCardNotLinked)

	if !errors.Is(err, domain.ErrCardNotSaved) {
		t.Error("expected link failure to match ErrCardNotSaved")
	}
	if errors.Is(domain.ErrCardNotSaved, domain.ErrCardNotLinked) {
		t.Error("the parent sentinel must not match its refinement")
	}
}

func TestNewComplaint(t *testing.T) {
	now := time.Now()

	t.Run("valid card complaint", func(t *testing.T) {
		c, err := domain.NewComplaint(domain.ComplaintCard, 7, " spam ", 42, now)
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if c.Reason() != "spam" || c.TargetID() != 7 || c.AuthorID() != 42 {
			t.Errorf("unexpected complaint %+v", c)
		}
	})

	t.Run("blank reason", func(t *testing.T) {
		_, err := domain.NewComplaint(domain.ComplaintUser, 3, " ", 42, now)
		if !errors.Is(err, domain.ErrInvalidComplaint) {
			t.Errorf("expected ErrInvalidComplaint, got %v", err)
		}
	})

	t.Run("type parsing ignores case", func(t *testing.T) {
		kind, err := domain.ParseComplaintType("card")
		if err != nil || kind != domain.ComplaintCard {
			t.Errorf("got %q, %v", kind, err)
		}
		if domain.ComplaintFilter("everything") != "" {
			t.Error("unknown filter must select all complaints")
		}
	})
}

func TestNewPageInfo(t *testing.T) {
	info := domain.NewPageInfo(domain.PageRequest{Page: 1, Limit: 10}, 25, 10)

	if info.TotalPages != 3 || info.First || info.Last || info.NumberOfElements != 10 {
		t.Errorf("unexpected page info %+v", info)
	}

	empty := domain.NewPageInfo(domain.PageRequest{Page: 0, Limit: 10}, 0, 0)
	if !empty.First || !empty.Last || empty.TotalPages != 0 {
		t.Errorf("unexpected empty page info %+v", empty)
	}
}
