package authz

import (
	"fmt"
	"strings"

	"github.com/casbin/casbin/v3"
	"github.com/casbin/casbin/v3/model"
	gormadapter "github.com/casbin/gorm-adapter/v3"
	"gorm.io/gorm"

	"github.com/angelmondragon/shipsplit-backend/pkg/enums"
)

const casbinTableName = "casbin_rule"

const capabilityModel = `
[request_definition]
r = sub, obj, act

[policy_definition]
p = sub, obj, act

[policy_effect]
e = some(where (p.eft == allow))

[matchers]
m = r.sub == p.sub && (p.obj == "*" || r.obj == p.obj) && (p.act == "*" || r.act == p.act)
`

// Resources and actions checked by the API.
const (
	ResourceCheckout   = "checkout"
	ResourceOrders     = "orders"
	ResourceRefunds    = "refunds"
	ResourceDeliveries = "deliveries"
	ResourceEarnings   = "earnings"
	ResourcePayees     = "payees"

	ActionCreate = "create"
	ActionRead   = "read"
	ActionUpdate = "update"
	ActionClaim  = "claim"
	ActionAssign = "assign"
	ActionSettle = "settle"
)

// Policy is one role capability.
type Policy struct {
	Role   enums.ActorRole
	Object string
	Action string
}

// DefaultPolicies seeds an empty policy table.
var DefaultPolicies = []Policy{
	{enums.ActorCustomer, ResourceCheckout, ActionCreate},
	{enums.ActorCustomer, ResourceOrders, ActionRead},
	{enums.ActorVendor, ResourceOrders, ActionRead},
	{enums.ActorVendor, ResourceOrders, ActionUpdate},
	{enums.ActorVendor, ResourceEarnings, ActionRead},
	{enums.ActorVendor, ResourceEarnings, ActionSettle},
	{enums.ActorDriver, ResourceDeliveries, ActionRead},
	{enums.ActorDriver, ResourceDeliveries, ActionClaim},
	{enums.ActorDriver, ResourceDeliveries, ActionUpdate},
	{enums.ActorDriver, ResourceEarnings, ActionRead},
	{enums.ActorDriver, ResourceEarnings, ActionSettle},
	{enums.ActorAdmin, "*", "*"},
}

// Service answers role capability questions from policies stored in the database.
type Service struct {
	enforcer *casbin.SyncedEnforcer
}

func NewService(db *gorm.DB) (*Service, error) {
	if db == nil {
		return nil, fmt.Errorf("authz db is nil")
	}
	adapter, err := gormadapter.NewAdapterByDBUseTableName(db, "", casbinTableName)
	if err != nil {
		return nil, fmt.Errorf("create authz adapter: %w", err)
	}
	m, err := model.NewModelFromString(capabilityModel)
	if err != nil {
		return nil, fmt.Errorf("load authz model: %w", err)
	}
	enforcer, err := casbin.NewSyncedEnforcer(m, adapter)
	if err != nil {
		return nil, fmt.Errorf("init authz enforcer: %w", err)
	}
	enforcer.EnableAutoSave(true)
	if err := enforcer.LoadPolicy(); err != nil {
		return nil, fmt.Errorf("load authz policy: %w", err)
	}
	svc := &Service{enforcer: enforcer}
	if err := svc.seed(); err != nil {
		return nil, err
	}
	return svc, nil
}

func (s *Service) seed() error {
	existing, err := s.enforcer.GetPolicy()
	if err != nil {
		return fmt.Errorf("read authz policy: %w", err)
	}
	if len(existing) > 0 {
		return nil
	}
	rules := make([][]string, 0, len(DefaultPolicies))
	for _, p := range DefaultPolicies {
		rules = append(rules, []string{string(p.Role), p.Object, p.Action})
	}
	if _, err := s.enforcer.AddPolicies(rules); err != nil {
		return fmt.Errorf("seed authz policy: %w", err)
	}
	return nil
}

// Can reports whether role may perform action on object.
func (s *Service) Can(role enums.ActorRole, object, action string) (bool, error) {
	if s == nil || s.enforcer == nil {
		return false, fmt.Errorf("authz service unavailable")
	}
	return s.enforcer.Enforce(string(role), strings.ToLower(strings.TrimSpace(object)), strings.ToLower(strings.TrimSpace(action)))
}

// Grant adds a capability at runtime.
func (s *Service) Grant(p Policy) error {
	if !p.Role.IsValid() || p.Object == "" || p.Action == "" {
		return fmt.Errorf("role, object and action required")
	}
	if _, err := s.enforcer.AddPolicy(string(p.Role), p.Object, p.Action); err != nil {
		return fmt.Errorf("grant policy: %w", err)
	}
	return nil
}

// Revoke removes a capability.
func (s *Service) Revoke(p Policy) error {
	if _, err := s.enforcer.RemovePolicy(string(p.Role), p.Object, p.Action); err != nil {
		return fmt.Errorf("revoke policy: %w", err)
	}
	return nil
}
