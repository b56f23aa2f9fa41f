package models

import (
	"testing"
	"time"
)

func TestNormalizeIdentifier(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{name: "already normalized", input: "a@u.edu", expected: "a@u.edu"},
		{name: "upper case", input: "A@U.EDU", expected: "a@u.edu"},
		{name: "surrounding spaces", input: "  b@u.edu\t", expected: "b@u.edu"},
		{name: "national id", input: " 12345678901 ", expected: "12345678901"},
		{name: "empty", input: "   ", expected: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NormalizeIdentifier(tt.input); got != tt.expected {
				t.Errorf("NormalizeIdentifier(%q) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}

func TestRoleSetContains(t *testing.T) {
	tests := []struct {
		name     string
		set      RoleSet
		role     Role
		expected bool
	}{
		{name: "member", set: RoleSet{RoleTeacher, RoleAdmin}, role: RoleAdmin, expected: true},
		{name: "not a member", set: RoleSet{RoleAdmin}, role: RoleStudent, expected: false},
		{name: "empty set", set: RoleSet{}, role: RoleStudent, expected: false},
		{name: "nil set", set: nil, role: RoleAdmin, expected: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.set.Contains(tt.role); got != tt.expected {
				t.Errorf("RoleSet(%v).Contains(%q) = %v, want %v", tt.set, tt.role, got, tt.expected)
			}
		})
	}
}

func TestRoleValid(t *testing.T) {
	for _, role := range []Role{RoleStudent, RoleTeacher, RoleAdmin} {
		if !role.Valid() {
			t.Errorf("expected %q to be valid", role)
		}
	}
	if Role("janitor").Valid() {
		t.Errorf("expected unknown role to be invalid")
	}
}

func TestAttemptRecordIsLocked(t *testing.T) {
	now := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)
	future := now.Add(30 * time.Second)
	past := now.Add(-time.Second)

	if (&AttemptRecord{}).IsLocked(now) {
		t.Errorf("record without lock should not be locked")
	}
	if !(&AttemptRecord{LockedUntil: &future}).IsLocked(now) {
		t.Errorf("record with future lock should be locked")
	}
	if (&AttemptRecord{LockedUntil: &past}).IsLocked(now) {
		t.Errorf("record with expired lock should not be locked")
	}
	if (&AttemptRecord{LockedUntil: &now}).IsLocked(now) {
		t.Errorf("lock ending exactly now should not be locked")
	}
}
