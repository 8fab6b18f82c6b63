package rbac

import (
	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
)

type Permission string

const (
	PermSignalsIngest       Permission = "signals.ingest"
	PermWorkflowsRead       Permission = "workflows.read"
	PermIncidentsAck        Permission = "incidents.ack"
	PermMaintenanceComplete Permission = "maintenance.complete"
	PermVerificationManage  Permission = "verification.manage"
)

const (
	RoleOperator = "operator"
	RoleViewer   = "viewer"
)

const modelText = `
[request_definition]
r = sub, obj

[policy_definition]
p = sub, obj

[role_definition]
g = _, _

[policy_effect]
e = some(where (p.eft == allow))

[matchers]
m = g(r.sub, p.sub) && r.obj == p.obj
`

type Policy struct {
	enforcer *casbin.Enforcer
}

// NewPolicy builds the static role model: viewers read, operators do
// everything a viewer does plus the mutating operations.
func NewPolicy() (*Policy, error) {
	m, err := model.NewModelFromString(modelText)
	if err != nil {
		return nil, err
	}
	e, err := casbin.NewEnforcer(m)
	if err != nil {
		return nil, err
	}
	rules := [][]string{
		{RoleViewer, string(PermWorkflowsRead)},
		{RoleOperator, string(PermSignalsIngest)},
		{RoleOperator, string(PermIncidentsAck)},
		{RoleOperator, string(PermMaintenanceComplete)},
		{RoleOperator, string(PermVerificationManage)},
	}
	if _, err := e.AddPolicies(rules); err != nil {
		return nil, err
	}
	if _, err := e.AddGroupingPolicy(RoleOperator, RoleViewer); err != nil {
		return nil, err
	}
	return &Policy{enforcer: e}, nil
}

func (p *Policy) Allowed(role string, perm Permission) bool {
	if p == nil || p.enforcer == nil {
		return false
	}
	ok, err := p.enforcer.Enforce(role, string(perm))
	return err == nil && ok
}
