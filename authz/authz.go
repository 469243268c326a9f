// Package authz provides the authorization decision engine.
// This package follows Clean Architecture with separated concerns:
// - Engine: answers "is this allowed?" and "which instances may this user see?"
// - AccessService: grants, updates and revokes instance-level ACL entries
// - AdminService: manages roles, groups and global permission grants
// - Stores: persistence interfaces with SQL and in-memory implementations
package authz

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Action represents an operation that can be performed on a resource.
// The set is closed: values outside the constants below are rejected by ParseAction.
type Action uint8

const (
	ActionRead   Action = iota // Read access
	ActionCreate               // Create new resources
	ActionUpdate               // Modify existing resources
	ActionDelete               // Remove resources
	ActionExport               // Export data
	ActionManage               // Full control, including ACL management

	numActions
)

var actionNames = [numActions]string{
	ActionRead:   "read",
	ActionCreate: "create",
	ActionUpdate: "update",
	ActionDelete: "delete",
	ActionExport: "export",
	ActionManage: "manage",
}

// AllActions lists every action in declaration order.
var AllActions = []Action{ActionRead, ActionCreate, ActionUpdate, ActionDelete, ActionExport, ActionManage}

// Valid reports whether a is one of the declared actions.
func (a Action) Valid() bool {
	return a < numActions
}

func (a Action) String() string {
	if !a.Valid() {
		return fmt.Sprintf("action(%d)", uint8(a))
	}
	return actionNames[a]
}

// ParseAction converts a wire value into an Action.
func ParseAction(s string) (Action, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for i, name := range actionNames {
		if name == s {
			return Action(i), nil
		}
	}
	return 0, fmt.Errorf("%w: unknown action %q", ErrInvalidArgument, s)
}

func (a Action) MarshalText() ([]byte, error) {
	if !a.Valid() {
		return nil, fmt.Errorf("%w: unknown action %d", ErrInvalidArgument, uint8(a))
	}
	return []byte(actionNames[a]), nil
}

func (a *Action) UnmarshalText(text []byte) error {
	parsed, err := ParseAction(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// ActionSet is a set of actions stored as a bitmask.
type ActionSet uint8

// FullControl is the action set granted to a resource's creator.
const FullControl ActionSet = 1<<numActions - 1

// NewActionSet builds a set from the given actions. Invalid actions are ignored.
func NewActionSet(actions ...Action) ActionSet {
	var s ActionSet
	for _, a := range actions {
		s = s.Add(a)
	}
	return s
}

// ParseActionSet parses wire values, rejecting unknown actions.
func ParseActionSet(values []string) (ActionSet, error) {
	var s ActionSet
	for _, v := range values {
		a, err := ParseAction(v)
		if err != nil {
			return 0, err
		}
		s = s.Add(a)
	}
	return s, nil
}

func (s ActionSet) Add(a Action) ActionSet {
	if !a.Valid() {
		return s
	}
	return s | 1<<a
}

func (s ActionSet) Has(a Action) bool {
	return a.Valid() && s&(1<<a) != 0
}

func (s ActionSet) Union(other ActionSet) ActionSet {
	return s | other
}

func (s ActionSet) IsEmpty() bool {
	return s&FullControl == 0
}

// Actions returns the members in declaration order.
func (s ActionSet) Actions() []Action {
	out := make([]Action, 0, numActions)
	for _, a := range AllActions {
		if s.Has(a) {
			out = append(out, a)
		}
	}
	return out
}

// Strings returns the wire names of the members in declaration order.
func (s ActionSet) Strings() []string {
	out := make([]string, 0, numActions)
	for _, a := range s.Actions() {
		out = append(out, a.String())
	}
	return out
}

func (s ActionSet) String() string {
	return "{" + strings.Join(s.Strings(), ",") + "}"
}

func (s ActionSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Strings())
}

func (s *ActionSet) UnmarshalJSON(data []byte) error {
	var values []string
	if err := json.Unmarshal(data, &values); err != nil {
		return err
	}
	parsed, err := ParseActionSet(values)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Implies returns the actions that holding a satisfies in addition to a itself.
// The relation is one level deep; manage is the top of the lattice.
func Implies(a Action) ActionSet {
	switch a {
	case ActionManage:
		return NewActionSet(ActionRead, ActionCreate, ActionUpdate, ActionDelete, ActionExport)
	case ActionCreate, ActionUpdate, ActionDelete, ActionExport:
		return NewActionSet(ActionRead)
	case ActionRead:
		return 0
	default:
		return 0
	}
}

// ActionSatisfies reports whether granted covers required, either literally
// or through the implication set of one of the granted actions.
func ActionSatisfies(granted ActionSet, required Action) bool {
	if !required.Valid() {
		return false
	}
	if granted.Has(required) {
		return true
	}
	for _, a := range granted.Actions() {
		if Implies(a).Has(required) {
			return true
		}
	}
	return false
}

// ResourceType identifies a domain entity class. The engine treats it as an opaque tag.
type ResourceType string

const (
	ResourceProject             ResourceType = "project"
	ResourceObject              ResourceType = "object"
	ResourceChecklist           ResourceType = "checklist"
	ResourceTask                ResourceType = "task"
	ResourceEvidence            ResourceType = "evidence"
	ResourceIncident            ResourceType = "incident"
	ResourceReport              ResourceType = "report"
	ResourceAuditLog            ResourceType = "audit_log"
	ResourceReferentiel         ResourceType = "referentiel"
	ResourceFrameworkControl    ResourceType = "framework_control"
	ResourceCartographyAsset    ResourceType = "cartography_asset"
	ResourceCartographyRelation ResourceType = "cartography_relation"
	ResourceIntegration         ResourceType = "integration"
	ResourceUser                ResourceType = "user"
	ResourceUserGroup           ResourceType = "user_group"
	ResourceRole                ResourceType = "role"
)

var resourceTypes = map[ResourceType]struct{}{
	ResourceProject:             {},
	ResourceObject:              {},
	ResourceChecklist:           {},
	ResourceTask:                {},
	ResourceEvidence:            {},
	ResourceIncident:            {},
	ResourceReport:              {},
	ResourceAuditLog:            {},
	ResourceReferentiel:         {},
	ResourceFrameworkControl:    {},
	ResourceCartographyAsset:    {},
	ResourceCartographyRelation: {},
	ResourceIntegration:         {},
	ResourceUser:                {},
	ResourceUserGroup:           {},
	ResourceRole:                {},
}

// AllResourceTypes returns every known resource type, sorted.
func AllResourceTypes() []ResourceType {
	out := make([]ResourceType, 0, len(resourceTypes))
	for rt := range resourceTypes {
		out = append(out, rt)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (rt ResourceType) Valid() bool {
	_, ok := resourceTypes[rt]
	return ok
}

// ParseResourceType converts a wire value into a ResourceType. Hyphens are accepted
// in place of underscores so URL segments like "audit-log" resolve.
func ParseResourceType(s string) (ResourceType, error) {
	rt := ResourceType(strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "-", "_"))
	if !rt.Valid() {
		return "", fmt.Errorf("%w: unknown resource type %q", ErrInvalidArgument, s)
	}
	return rt, nil
}

func (rt *ResourceType) UnmarshalText(text []byte) error {
	parsed, err := ParseResourceType(string(text))
	if err != nil {
		return err
	}
	*rt = parsed
	return nil
}
