package lifecycle_test

import (
	"errors"
	"testing"
	"time"

	"pgregory.net/rapid"

	"opsboard/internal/domain"
	"opsboard/internal/lifecycle"
)

var now = time.Date(2024, 2, 5, 9, 30, 0, 0, time.UTC)

func pending(evidenceRequired bool) domain.TaskInstance {
	tpl := "t1"
	return domain.TaskInstance{
		ID:               "inst-1",
		TemplateID:       &tpl,
		Date:             "2024-02-05",
		Title:            "Reconcile payouts",
		OwnerID:          "ana",
		EvidenceRequired: evidenceRequired,
		PointsOnComplete: 10,
		PointsOnSkip:     -5,
		Status:           domain.StatusPending,
	}
}

var owner = lifecycle.Actor{OwnerID: "ana"}

func TestCompleteAwardsFrozenPoints(t *testing.T) {
	in := pending(true)
	out, entry, err := lifecycle.Complete(in, []string{"  http://evidence ", ""}, owner, now)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if out.Status != domain.StatusDone || out.CompletedAt == nil || out.SkippedAt != nil {
		t.Fatalf("unexpected instance: %+v", out)
	}
	if len(out.Evidence) != 1 || out.Evidence[0] != "http://evidence" {
		t.Fatalf("evidence not cleaned: %v", out.Evidence)
	}
	if out.PointsAwarded == nil || *out.PointsAwarded != 10 {
		t.Fatalf("points awarded: %v", out.PointsAwarded)
	}
	if entry.Amount != 10 || entry.SourceKind != domain.SourceTaskDone || entry.OwnerID != "ana" {
		t.Fatalf("unexpected entry: %+v", entry)
	}
	if entry.SourceID == nil || *entry.SourceID != in.ID || entry.Date != in.Date {
		t.Fatalf("entry not linked to instance: %+v", entry)
	}
	if entry.ID != lifecycle.EntryID(domain.SourceTaskDone, in.ID) {
		t.Fatalf("entry id not deterministic")
	}
	if in.Status != domain.StatusPending || in.CompletedAt != nil {
		t.Fatalf("input instance was mutated")
	}
}

func TestCompleteWithoutEvidence(t *testing.T) {
	_, _, err := lifecycle.Complete(pending(true), []string{" "}, owner, now)
	if !errors.Is(err, lifecycle.ErrEvidenceRequired) {
		t.Fatalf("expected ErrEvidenceRequired, got %v", err)
	}
	out, _, err := lifecycle.Complete(pending(false), nil, owner, now)
	if err != nil {
		t.Fatalf("evidence optional: %v", err)
	}
	if len(out.Evidence) != 0 {
		t.Fatalf("unexpected evidence: %v", out.Evidence)
	}
}

func TestSkip(t *testing.T) {
	out, entry, err := lifecycle.Skip(pending(true), "blocked by vendor", owner, now)
	if err != nil {
		t.Fatalf("skip: %v", err)
	}
	if out.Status != domain.StatusSkipped || out.SkippedAt == nil || out.CompletedAt != nil || out.SkipReason != "blocked by vendor" {
		t.Fatalf("unexpected instance: %+v", out)
	}
	if entry.Amount != -5 || entry.SourceKind != domain.SourceTaskSkipped {
		t.Fatalf("unexpected entry: %+v", entry)
	}
	if _, _, err := lifecycle.Skip(pending(true), "   ", owner, now); !errors.Is(err, lifecycle.ErrSkipReasonRequired) {
		t.Fatalf("expected ErrSkipReasonRequired, got %v", err)
	}
}

func TestSecondTransitionRejected(t *testing.T) {
	done, _, err := lifecycle.Complete(pending(false), nil, owner, now)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	var ste lifecycle.InvalidStateTransitionError
	if _, _, err := lifecycle.Complete(done, []string{"x"}, owner, now); !errors.As(err, &ste) {
		t.Fatalf("expected InvalidStateTransitionError, got %v", err)
	}
	if ste.From != domain.StatusDone || ste.To != domain.StatusDone {
		t.Fatalf("unexpected error fields: %+v", ste)
	}
	if _, _, err := lifecycle.Skip(done, "late", owner, now); !errors.As(err, &ste) {
		t.Fatalf("expected InvalidStateTransitionError on skip, got %v", err)
	}
}

func TestForbidden(t *testing.T) {
	_, _, err := lifecycle.Complete(pending(false), nil, lifecycle.Actor{OwnerID: "ben"}, now)
	var fe lifecycle.ForbiddenError
	if !errors.As(err, &fe) || fe.ActorID != "ben" || fe.OwnerID != "ana" {
		t.Fatalf("expected ForbiddenError, got %v", err)
	}
	if _, _, err := lifecycle.Skip(pending(false), "x", lifecycle.Actor{}, now); !errors.As(err, &fe) {
		t.Fatalf("anonymous actor must be forbidden, got %v", err)
	}
	if _, _, err := lifecycle.Complete(pending(false), nil, lifecycle.Actor{OwnerID: "ben", Elevated: true}, now); err != nil {
		t.Fatalf("elevated actor: %v", err)
	}
}

func TestPropertyEvidenceGating(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		inst := pending(true)
		inst.PointsOnComplete = rapid.IntRange(-50, 50).Draw(rt, "points")
		blanks := rapid.SliceOf(rapid.SampledFrom([]string{"", " ", "\t", "\n "})).Draw(rt, "evidence")
		elevated := rapid.Bool().Draw(rt, "elevated")
		_, _, err := lifecycle.Complete(inst, blanks, lifecycle.Actor{OwnerID: inst.OwnerID, Elevated: elevated}, now)
		if !errors.Is(err, lifecycle.ErrEvidenceRequired) {
			rt.Fatalf("expected ErrEvidenceRequired, got %v", err)
		}
	})
}

func TestPropertySingleTransition(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		inst := pending(rapid.Bool().Draw(rt, "evidenceRequired"))
		first := rapid.SampledFrom([]string{"complete", "skip"}).Draw(rt, "first")
		second := rapid.SampledFrom([]string{"complete", "skip"}).Draw(rt, "second")
		apply := func(op string, in domain.TaskInstance) (domain.TaskInstance, error) {
			if op == "complete" {
				out, _, err := lifecycle.Complete(in, []string{"proof"}, owner, now)
				return out, err
			}
			out, _, err := lifecycle.Skip(in, "reason", owner, now)
			return out, err
		}
		after, err := apply(first, inst)
		if err != nil {
			rt.Fatalf("first %s: %v", first, err)
		}
		_, err = apply(second, after)
		var ste lifecycle.InvalidStateTransitionError
		if !errors.As(err, &ste) {
			rt.Fatalf("second %s: expected InvalidStateTransitionError, got %v", second, err)
		}
	})
}
