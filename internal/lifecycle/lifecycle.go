package lifecycle

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"opsboard/internal/domain"
)

var (
	ErrEvidenceRequired   = errors.New("evidence required to complete this task")
	ErrSkipReasonRequired = errors.New("skip reason required")
)

// InvalidStateTransitionError is returned when a task is no longer pending.
type InvalidStateTransitionError struct {
	InstanceID string
	From       domain.InstanceStatus
	To         domain.InstanceStatus
}

func (e InvalidStateTransitionError) Error() string {
	return fmt.Sprintf("task %s already %s; cannot move to %s", e.InstanceID, strings.ToLower(string(e.From)), e.To)
}

// ForbiddenError is returned when the actor neither owns the task nor holds
// an elevated role.
type ForbiddenError struct {
	ActorID string
	OwnerID string
}

func (e ForbiddenError) Error() string {
	return fmt.Sprintf("actor %s may not change a task owned by %s", e.ActorID, e.OwnerID)
}

// Actor is whoever requests the transition.
type Actor struct {
	OwnerID  string
	Elevated bool
}

var entryNamespace = uuid.NewSHA1(uuid.NameSpaceOID, []byte("opsboard.points-entry"))

// EntryID is the deterministic ledger id for the transition of an instance.
func EntryID(kind domain.SourceKind, instanceID string) string {
	return uuid.NewSHA1(entryNamespace, []byte(string(kind)+"|"+instanceID)).String()
}

func authorize(inst domain.TaskInstance, actor Actor) error {
	if actor.Elevated || (actor.OwnerID != "" && actor.OwnerID == inst.OwnerID) {
		return nil
	}
	return ForbiddenError{ActorID: actor.OwnerID, OwnerID: inst.OwnerID}
}

func ensurePending(inst domain.TaskInstance, to domain.InstanceStatus) error {
	if inst.Status != domain.StatusPending {
		return InvalidStateTransitionError{InstanceID: inst.ID, From: inst.Status, To: to}
	}
	return nil
}

// CleanEvidence trims entries and drops blank ones.
func CleanEvidence(evidence []string) []string {
	var out []string
	for _, item := range evidence {
		item = strings.TrimSpace(item)
		if item != "" {
			out = append(out, item)
		}
	}
	return out
}

// Complete marks a pending instance DONE and returns the updated copy with the
// ledger entry that must be stored together with it.
func Complete(inst domain.TaskInstance, evidence []string, actor Actor, now time.Time) (domain.TaskInstance, domain.PointsEntry, error) {
	if err := authorize(inst, actor); err != nil {
		return domain.TaskInstance{}, domain.PointsEntry{}, err
	}
	if err := ensurePending(inst, domain.StatusDone); err != nil {
		return domain.TaskInstance{}, domain.PointsEntry{}, err
	}
	evidence = CleanEvidence(evidence)
	if inst.EvidenceRequired && len(evidence) == 0 {
		return domain.TaskInstance{}, domain.PointsEntry{}, ErrEvidenceRequired
	}
	ts := now.UTC().Format(time.RFC3339)
	points := inst.PointsOnComplete

	out := inst
	out.Status = domain.StatusDone
	out.Evidence = evidence
	out.CompletedAt = &ts
	out.PointsAwarded = &points
	return out, entryFor(out, domain.SourceTaskDone, points, ts), nil
}

// Skip marks a pending instance SKIPPED with a mandatory reason.
func Skip(inst domain.TaskInstance, reason string, actor Actor, now time.Time) (domain.TaskInstance, domain.PointsEntry, error) {
	if err := authorize(inst, actor); err != nil {
		return domain.TaskInstance{}, domain.PointsEntry{}, err
	}
	if err := ensurePending(inst, domain.StatusSkipped); err != nil {
		return domain.TaskInstance{}, domain.PointsEntry{}, err
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return domain.TaskInstance{}, domain.PointsEntry{}, ErrSkipReasonRequired
	}
	ts := now.UTC().Format(time.RFC3339)
	points := inst.PointsOnSkip

	out := inst
	out.Status = domain.StatusSkipped
	out.SkipReason = reason
	out.SkippedAt = &ts
	out.PointsAwarded = &points
	return out, entryFor(out, domain.SourceTaskSkipped, points, ts), nil
}

func entryFor(inst domain.TaskInstance, kind domain.SourceKind, amount int, ts string) domain.PointsEntry {
	sourceID := inst.ID
	reason := inst.Title
	if kind == domain.SourceTaskSkipped && inst.SkipReason != "" {
		reason = inst.Title + ": " + inst.SkipReason
	}
	return domain.PointsEntry{
		ID:         EntryID(kind, inst.ID),
		OwnerID:    inst.OwnerID,
		Date:       inst.Date,
		Amount:     amount,
		Reason:     reason,
		SourceKind: kind,
		SourceID:   &sourceID,
		CreatedAt:  ts,
	}
}
