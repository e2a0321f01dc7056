package rbac

import "testing"

func TestCan(t *testing.T) {
	cases := []struct {
		name   string
		role   Role
		action Action
		allow  bool
	}{
		{name: "viewer read", role: RoleViewer, action: ActionRead, allow: true},
		{name: "viewer write", role: RoleViewer, action: ActionWrite, allow: false},
		{name: "welder write", role: RoleWelder, action: ActionWrite, allow: true},
		{name: "welder delete", role: RoleWelder, action: ActionDelete, allow: false},
		{name: "inspector approve", role: RoleInspector, action: ActionApprove, allow: true},
		{name: "inspector delete", role: RoleInspector, action: ActionDelete, allow: true},
		{name: "inspector admin", role: RoleInspector, action: ActionAdmin, allow: false},
		{name: "admin admin", role: RoleAdmin, action: ActionAdmin, allow: true},
		{name: "unknown role", role: Role("ghost"), action: ActionRead, allow: false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Can(tc.role, tc.action); got != tc.allow {
				t.Fatalf("Can(%q, %q) = %v, want %v", tc.role, tc.action, got, tc.allow)
			}
		})
	}
}

func TestNormalize(t *testing.T) {
	if got := Normalize("inspector"); got != RoleInspector {
		t.Fatalf("Normalize(inspector) = %q", got)
	}
	if got := Normalize("superuser"); got != RoleViewer {
		t.Fatalf("unknown roles must fall back to viewer, got %q", got)
	}
}
