package entitlement

import (
	"fmt"

	"exampro/pkg/domain"
)

// ErrInvalidTransition is returned when an admin acts on a proof whose
// current status does not permit the requested transition.
type ErrInvalidTransition struct {
	From domain.PaymentStatus
	To   domain.PaymentStatus
}

func (e *ErrInvalidTransition) Error() string {
	return fmt.Sprintf("payment already %s, cannot mark %s", e.From, e.To)
}

// Decision describes what a requested transition should do.
type Decision struct {
	// Apply is false when the stored status already matches (re-approving
	// an already approved proof); the grant side effect may still run.
	Apply bool
	// GrantPremium is true when the linked user must be upgraded as a
	// side effect of this transition.
	GrantPremium bool
}

// Decide validates a requested status transition.
//
// PENDING may move to APPROVED or REJECTED. APPROVED_PENDING_GRANT marks an
// approval whose premium grant failed; approving it again retries only the
// grant. Re-approving a fully APPROVED proof skips the status write but still
// re-confirms the grant, so a proof stranded in APPROVED with a non-premium
// user stays recoverable. Everything else is a state error: terminal states
// are never re-opened.
func Decide(from, to domain.PaymentStatus) (Decision, error) {
	switch to {
	case domain.PaymentApproved:
		switch from {
		case domain.PaymentPending:
			return Decision{Apply: true, GrantPremium: true}, nil
		case domain.PaymentApprovedPendingGrant:
			return Decision{Apply: true, GrantPremium: true}, nil
		case domain.PaymentApproved:
			return Decision{GrantPremium: true}, nil
		}
	case domain.PaymentRejected:
		if from == domain.PaymentPending {
			return Decision{Apply: true}, nil
		}
	}
	return Decision{}, &ErrInvalidTransition{From: from, To: to}
}

// Terminal reports whether a status permits no further admin action.
func Terminal(status domain.PaymentStatus) bool {
	return status == domain.PaymentApproved || status == domain.PaymentRejected
}
