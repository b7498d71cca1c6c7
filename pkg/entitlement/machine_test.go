package entitlement

import (
	"errors"
	"testing"

	"exampro/pkg/domain"
)

func TestDecideApprovesPending(t *testing.T) {
	d, err := Decide(domain.PaymentPending, domain.PaymentApproved)
	if err != nil {
		t.Fatalf("approve pending: %v", err)
	}
	if !d.Apply || !d.GrantPremium {
		t.Fatalf("expected apply+grant, got %+v", d)
	}
}

func TestDecideRejectsPendingWithoutGrant(t *testing.T) {
	d, err := Decide(domain.PaymentPending, domain.PaymentRejected)
	if err != nil {
		t.Fatalf("reject pending: %v", err)
	}
	if !d.Apply || d.GrantPremium {
		t.Fatalf("reject must not grant premium, got %+v", d)
	}
}

func TestDecideReapprovalReconfirmsGrant(t *testing.T) {
	d, err := Decide(domain.PaymentApproved, domain.PaymentApproved)
	if err != nil {
		t.Fatalf("re-approve: %v", err)
	}
	if d.Apply {
		t.Fatalf("re-approval must not rewrite the status, got %+v", d)
	}
	if !d.GrantPremium {
		t.Fatalf("re-approval must re-confirm the grant, got %+v", d)
	}
}

func TestDecideRetriesGrantFromPendingGrant(t *testing.T) {
	d, err := Decide(domain.PaymentApprovedPendingGrant, domain.PaymentApproved)
	if err != nil {
		t.Fatalf("retry grant: %v", err)
	}
	if !d.Apply || !d.GrantPremium {
		t.Fatalf("pending-grant approval must retry the grant, got %+v", d)
	}
}

func TestDecideTerminalStatesAreNotReopened(t *testing.T) {
	cases := []struct {
		from, to domain.PaymentStatus
	}{
		{domain.PaymentRejected, domain.PaymentApproved},
		{domain.PaymentApproved, domain.PaymentRejected},
		{domain.PaymentRejected, domain.PaymentRejected},
		{domain.PaymentApprovedPendingGrant, domain.PaymentRejected},
	}
	for _, tc := range cases {
		if _, err := Decide(tc.from, tc.to); err == nil {
			t.Fatalf("expected state error for %s -> %s", tc.from, tc.to)
		} else {
			var invalid *ErrInvalidTransition
			if !errors.As(err, &invalid) {
				t.Fatalf("expected ErrInvalidTransition for %s -> %s, got %v", tc.from, tc.to, err)
			}
		}
	}
}
