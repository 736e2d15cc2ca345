package domain

import "errors"

// Mutation outcomes shared with the authoritative store. Every store
// implementation maps its own failures onto exactly these sentinels so
// callers can branch with errors.Is.
var (
	// ErrCapacityExceeded means the activity was full when the store
	// processed the join. A client-side pre-check passing does not guarantee
	// a slot; only the store's answer is authoritative.
	ErrCapacityExceeded = errors.New("activity capacity exceeded")

	// ErrAlreadyPast rejects joins, leaves, edits and cancellations once the
	// scheduled time has elapsed.
	ErrAlreadyPast = errors.New("activity already past")

	// ErrForbidden rejects organizer-only operations for non-organizers.
	ErrForbidden = errors.New("forbidden")

	// ErrNotFound means the instance or series vanished; callers should
	// refetch, not retry.
	ErrNotFound = errors.New("not found")

	// ErrIllegalTransition rejects a participation transition the state
	// machine does not permit.
	ErrIllegalTransition = errors.New("illegal participation transition")
)
