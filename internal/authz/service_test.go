package authz

import (
	"testing"

	"github.com/angelmondragon/shipsplit-backend/pkg/db/dbtest"
	"github.com/angelmondragon/shipsplit-backend/pkg/enums"
)

func setupAuthz(t *testing.T) *Service {
	t.Helper()
	svc, err := NewService(dbtest.Open(t).DB())
	if err != nil {
		t.Fatalf("new authz service: %v", err)
	}
	return svc
}

func TestDefaultCapabilities(t *testing.T) {
	svc := setupAuthz(t)
	cases := []struct {
		role   enums.ActorRole
		object string
		action string
		allow  bool
	}{
		{enums.ActorCustomer, ResourceCheckout, ActionCreate, true},
		{enums.ActorCustomer, ResourceRefunds, ActionCreate, false},
		{enums.ActorDriver, ResourceDeliveries, ActionClaim, true},
		{enums.ActorDriver, ResourceDeliveries, ActionAssign, false},
		{enums.ActorVendor, ResourceOrders, ActionUpdate, true},
		{enums.ActorVendor, ResourceDeliveries, ActionClaim, false},
		{enums.ActorAdmin, ResourceRefunds, ActionCreate, true},
		{enums.ActorAdmin, ResourcePayees, ActionSettle, true},
	}
	for _, tc := range cases {
		allow, err := svc.Can(tc.role, tc.object, tc.action)
		if err != nil {
			t.Fatalf("enforce %s %s %s: %v", tc.role, tc.object, tc.action, err)
		}
		if allow != tc.allow {
			t.Fatalf("%s %s %s: expected allow=%v", tc.role, tc.object, tc.action, tc.allow)
		}
	}
}

func TestGrantAndRevoke(t *testing.T) {
	svc := setupAuthz(t)
	policy := Policy{Role: enums.ActorVendor, Object: ResourceRefunds, Action: ActionCreate}
	if err := svc.Grant(policy); err != nil {
		t.Fatalf("grant: %v", err)
	}
	if allow, _ := svc.Can(enums.ActorVendor, ResourceRefunds, ActionCreate); !allow {
		t.Fatalf("expected granted capability")
	}
	if err := svc.Revoke(policy); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if allow, _ := svc.Can(enums.ActorVendor, ResourceRefunds, ActionCreate); allow {
		t.Fatalf("expected revoked capability")
	}
	if err := svc.Grant(Policy{Role: "nobody", Object: "x", Action: "y"}); err == nil {
		t.Fatalf("expected invalid role error")
	}
}
