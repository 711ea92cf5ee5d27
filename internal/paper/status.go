package paper

import (
	"errors"
	"time"
)

// statusInput holds the status fields of an imported submission.
type statusInput struct {
	withdrawn        *bool
	submitted        *bool
	draft            *bool
	submittedAt      *time.Time
	withdrawnAt      *time.Time
	withdrawReason   *string
	finalSubmittedAt *time.Time
}

func (s statusInput) given() bool {
	return s.withdrawn != nil || s.submitted != nil || s.draft != nil
}

// statusChange is the outcome of applying status input to a record.
type statusChange struct {
	status         Status
	submittedAt    time.Time
	withdrawnAt    time.Time
	withdrawReason string
	changed        bool
}

var errIllegalTransition = errors.New("illegal status transition")

// nextStatus applies the state machine. Legal moves on a stored record are
// draft to submitted, submitted to withdrawn and withdrawn to submitted.
// A new record may start in any state, so exported history can be
// imported. On errIllegalTransition the returned change holds the rejected
// target.
func nextStatus(in statusInput, existing *Record, now time.Time) (statusChange, error) {
	cur := statusChange{}
	if existing != nil {
		cur = statusChange{
			status:         existing.Status,
			submittedAt:    existing.SubmittedAt,
			withdrawnAt:    existing.WithdrawnAt,
			withdrawReason: existing.WithdrawReason,
		}
	}
	if !in.given() {
		return cur, nil
	}

	var submitted bool
	switch {
	case in.submitted != nil:
		submitted = *in.submitted
	case in.draft != nil:
		submitted = !*in.draft
	case existing != nil:
		submitted = existing.Status != StatusDraft
	}
	target := StatusDraft
	if in.withdrawn != nil && *in.withdrawn {
		target = StatusWithdrawn
	} else if submitted {
		target = StatusSubmitted
	}

	next := cur
	next.status = target
	switch {
	case existing == nil:
		next = statusChange{status: target, changed: true}
		switch target {
		case StatusSubmitted:
			next.submittedAt = valueOr(in.submittedAt, now)
		case StatusWithdrawn:
			// Zero means submitted at an unknown time.
			next.submittedAt = valueOr(in.submittedAt, time.Time{})
			next.withdrawnAt = valueOr(in.withdrawnAt, now)
			next.withdrawReason = valueOr(in.withdrawReason, "")
		}
		return next, nil
	case target == cur.status:
		if target == StatusWithdrawn && in.withdrawReason != nil && *in.withdrawReason != cur.withdrawReason {
			next.withdrawReason = *in.withdrawReason
			next.changed = true
		}
		return next, nil
	case cur.status == StatusDraft && target == StatusSubmitted:
		next.submittedAt = valueOr(in.submittedAt, now)
	case cur.status == StatusSubmitted && target == StatusWithdrawn:
		next.withdrawnAt = valueOr(in.withdrawnAt, now)
		next.withdrawReason = valueOr(in.withdrawReason, "")
	case cur.status == StatusWithdrawn && target == StatusSubmitted:
		if next.submittedAt.IsZero() {
			next.submittedAt = valueOr(in.submittedAt, now)
		}
		next.withdrawnAt = time.Time{}
		next.withdrawReason = ""
	default:
		return next, errIllegalTransition
	}
	next.changed = true
	return next, nil
}

func valueOr[T any](p *T, fallback T) T {
	if p != nil {
		return *p
	}
	return fallback
}

func transitionMessage(from, to Status) string {
	switch {
	case from == StatusDraft && to == StatusWithdrawn:
		return "A draft cannot be withdrawn; submit it first or leave it unsubmitted."
	case to == StatusDraft:
		return "A submitted paper cannot return to draft; withdraw it instead."
	}
	return "That status change is not allowed."
}
