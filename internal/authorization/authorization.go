// Package authorization maps roles to capability sets. It is the only place
// in the engine that branches on role.
package authorization

import (
	"bufio"
	_ "embed"
	"fmt"
	"strings"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	"github.com/smallbiznis/greenledger/pkg/apperr"
	"go.uber.org/fx"
)

//go:embed model.conf
var modelText string

//go:embed policy.csv
var policyText string

type Role string

const (
	RoleAdministrator         Role = "administrator"
	RoleSustainabilityManager Role = "sustainability_manager"
	RoleDecisionMaker         Role = "decision_maker"
	RoleViewer                Role = "viewer"
)

// Roles lists every role in descending privilege.
var Roles = []Role{RoleAdministrator, RoleSustainabilityManager, RoleDecisionMaker, RoleViewer}

func (r Role) Valid() bool {
	for _, role := range Roles {
		if r == role {
			return true
		}
	}
	return false
}

// Feature is a capability name checked by CanAccess.
type Feature string

const (
	FeatureCarbonRead         Feature = "carbon.read"
	FeatureCarbonWrite        Feature = "carbon.write"
	FeatureCarbonVerify       Feature = "carbon.verify"
	FeatureCarbonOverride     Feature = "carbon.override"
	FeatureEwasteRead         Feature = "ewaste.read"
	FeatureEwasteWrite        Feature = "ewaste.write"
	FeatureEwasteDemote       Feature = "ewaste.demote"
	FeatureOffsetsRead        Feature = "offsets.read"
	FeatureOffsetsPurchase    Feature = "offsets.purchase"
	FeatureOffsetsManage      Feature = "offsets.manage"
	FeatureComplianceRead     Feature = "compliance.read"
	FeatureComplianceWrite    Feature = "compliance.write"
	FeatureRegulatoryPublish  Feature = "regulatory.publish"
	FeatureIntegrationsRead   Feature = "integrations.read"
	FeatureIntegrationsManage Feature = "integrations.manage"
	FeatureImportsRun         Feature = "imports.run"
	FeatureAnalyticsRead      Feature = "analytics.read"
	FeatureAIUse              Feature = "ai.use"
	FeatureCompanyManage      Feature = "company.manage"
)

// Features lists every capability known to the engine.
var Features = []Feature{
	FeatureCarbonRead, FeatureCarbonWrite, FeatureCarbonVerify, FeatureCarbonOverride,
	FeatureEwasteRead, FeatureEwasteWrite, FeatureEwasteDemote,
	FeatureOffsetsRead, FeatureOffsetsPurchase, FeatureOffsetsManage,
	FeatureComplianceRead, FeatureComplianceWrite, FeatureRegulatoryPublish,
	FeatureIntegrationsRead, FeatureIntegrationsManage,
	FeatureImportsRun, FeatureAnalyticsRead, FeatureAIUse, FeatureCompanyManage,
}

var ErrForbidden = apperr.New(apperr.KindForbidden, "forbidden")

var Module = fx.Module("authorization",
	fx.Provide(New),
)

// Authorizer answers role capability questions from a static policy.
type Authorizer struct {
	enforcer *casbin.SyncedEnforcer
}

func New() (*Authorizer, error) {
	m, err := model.NewModelFromString(modelText)
	if err != nil {
		return nil, err
	}
	enforcer, err := casbin.NewSyncedEnforcer(m)
	if err != nil {
		return nil, err
	}
	if err := loadPolicy(enforcer, policyText); err != nil {
		return nil, err
	}
	return &Authorizer{enforcer: enforcer}, nil
}

// CanAccess reports whether role carries feature. Unknown roles carry nothing.
func (a *Authorizer) CanAccess(role Role, feature Feature) bool {
	if a == nil || !role.Valid() {
		return false
	}
	ok, err := a.enforcer.Enforce(subject(role), string(feature))
	return err == nil && ok
}

// Require returns ErrForbidden unless role carries feature.
func (a *Authorizer) Require(role Role, feature Feature) error {
	if !a.CanAccess(role, feature) {
		return ErrForbidden
	}
	return nil
}

// Capabilities returns the features role carries, in declaration order.
func (a *Authorizer) Capabilities(role Role) []Feature {
	out := make([]Feature, 0, len(Features))
	for _, f := range Features {
		if a.CanAccess(role, f) {
			out = append(out, f)
		}
	}
	return out
}

func subject(role Role) string {
	return "role:" + string(role)
}

func loadPolicy(enforcer *casbin.SyncedEnforcer, text string) error {
	var policies, groupings [][]string
	scanner := bufio.NewScanner(strings.NewReader(text))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Split(line, ",")
		for i := range fields {
			fields[i] = strings.TrimSpace(fields[i])
		}
		switch fields[0] {
		case "p":
			policies = append(policies, fields[1:])
		case "g":
			groupings = append(groupings, fields[1:])
		default:
			return fmt.Errorf("authorization: unknown policy line %q", line)
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	if _, err := enforcer.AddPolicies(policies); err != nil {
		return err
	}
	if _, err := enforcer.AddGroupingPolicies(groupings); err != nil {
		return err
	}
	return nil
}
