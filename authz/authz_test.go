package authz

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestActionSatisfies(t *testing.T) {
	tests := []struct {
		name     string
		granted  ActionSet
		required Action
		want     bool
	}{
		// Exact match
		{"read grants read", NewActionSet(ActionRead), ActionRead, true},
		{"update grants update", NewActionSet(ActionUpdate), ActionUpdate, true},
		{"export grants export", NewActionSet(ActionExport), ActionExport, true},

		// Implied read
		{"create implies read", NewActionSet(ActionCreate), ActionRead, true},
		{"update implies read", NewActionSet(ActionUpdate), ActionRead, true},
		{"delete implies read", NewActionSet(ActionDelete), ActionRead, true},
		{"export implies read", NewActionSet(ActionExport), ActionRead, true},

		// Manage implies everything
		{"manage implies read", NewActionSet(ActionManage), ActionRead, true},
		{"manage implies create", NewActionSet(ActionManage), ActionCreate, true},
		{"manage implies update", NewActionSet(ActionManage), ActionUpdate, true},
		{"manage implies delete", NewActionSet(ActionManage), ActionDelete, true},
		{"manage implies export", NewActionSet(ActionManage), ActionExport, true},

		// Not implied
		{"read does not imply update", NewActionSet(ActionRead), ActionUpdate, false},
		{"update does not imply delete", NewActionSet(ActionUpdate), ActionDelete, false},
		{"create does not imply update", NewActionSet(ActionCreate), ActionUpdate, false},
		{"export does not imply manage", NewActionSet(ActionExport), ActionManage, false},
		{"update and delete do not imply manage", NewActionSet(ActionUpdate, ActionDelete), ActionManage, false},
		{"empty set grants nothing", 0, ActionRead, false},

		// Union of grants
		{"read+delete grants delete", NewActionSet(ActionRead, ActionDelete), ActionDelete, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ActionSatisfies(tt.granted, tt.required)
			if got != tt.want {
				t.Errorf("ActionSatisfies(%v, %s) = %v, want %v", tt.granted, tt.required, got, tt.want)
			}
		})
	}
}

func TestActionSatisfies_Monotonic(t *testing.T) {
	// Adding actions to a granted set never removes a satisfied requirement.
	for base := ActionSet(0); base <= FullControl; base++ {
		for _, extra := range AllActions {
			wider := base.Add(extra)
			for _, required := range AllActions {
				if ActionSatisfies(base, required) && !ActionSatisfies(wider, required) {
					t.Fatalf("adding %s to %v lost %s", extra, base, required)
				}
			}
		}
	}
}

func TestFullControl(t *testing.T) {
	for _, a := range AllActions {
		if !FullControl.Has(a) {
			t.Errorf("FullControl missing %s", a)
		}
	}
	if len(FullControl.Actions()) != len(AllActions) {
		t.Errorf("FullControl has %d actions, want %d", len(FullControl.Actions()), len(AllActions))
	}
}

func TestParseAction(t *testing.T) {
	tests := []struct {
		input   string
		want    Action
		wantErr bool
	}{
		{"read", ActionRead, false},
		{"CREATE", ActionCreate, false},
		{" update ", ActionUpdate, false},
		{"delete", ActionDelete, false},
		{"export", ActionExport, false},
		{"manage", ActionManage, false},
		{"view", 0, true},
		{"", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseAction(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseAction(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidArgument) {
					t.Errorf("ParseAction(%q) error = %v, want ErrInvalidArgument", tt.input, err)
				}
				return
			}
			if got != tt.want {
				t.Errorf("ParseAction(%q) = %s, want %s", tt.input, got, tt.want)
			}
		})
	}
}

func TestActionSet_JSON(t *testing.T) {
	set := NewActionSet(ActionManage, ActionRead)
	b, err := json.Marshal(set)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	if string(b) != `["read","manage"]` {
		t.Errorf("Marshal() = %s, want [\"read\",\"manage\"]", b)
	}

	var decoded ActionSet
	if err := json.Unmarshal([]byte(`["export","read","export"]`), &decoded); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if decoded != NewActionSet(ActionRead, ActionExport) {
		t.Errorf("Unmarshal() = %v, want read,export", decoded)
	}

	if err := json.Unmarshal([]byte(`["read","approve"]`), &decoded); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("Unmarshal() unknown action error = %v, want ErrInvalidArgument", err)
	}
}

func TestParseResourceType(t *testing.T) {
	tests := []struct {
		input   string
		want    ResourceType
		wantErr bool
	}{
		{"object", ResourceObject, false},
		{"audit_log", ResourceAuditLog, false},
		{"audit-log", ResourceAuditLog, false},
		{"framework-control", ResourceFrameworkControl, false},
		{"user_group", ResourceUserGroup, false},
		{"organization", "", true},
		{"", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseResourceType(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseResourceType(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseResourceType(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestAllResourceTypes(t *testing.T) {
	types := AllResourceTypes()
	if len(types) != 16 {
		t.Fatalf("AllResourceTypes() returned %d types, want 16", len(types))
	}
	for _, rt := range types {
		if !rt.Valid() {
			t.Errorf("%q reported invalid", rt)
		}
	}
}
