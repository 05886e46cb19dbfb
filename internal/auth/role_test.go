package auth

import (
	"errors"
	"testing"
)

func TestParseRole(t *testing.T) {
	testCases := []struct {
		input    string
		expected Role
		valid    bool
	}{
		{input: "USER", expected: RoleUser, valid: true},
		{input: " admin ", expected: RoleAdmin, valid: true},
		{input: "moderator", valid: false},
		{input: "", valid: false},
	}
	for _, testCase := range testCases {
		role, err := ParseRole(testCase.input)
		if testCase.valid {
			if err != nil || role != testCase.expected {
				t.Fatalf("ParseRole(%q) = %q, %v", testCase.input, role, err)
			}
			continue
		}
		if !errors.Is(err, ErrInvalidRole) {
			t.Fatalf("expected ErrInvalidRole for %q, got %v", testCase.input, err)
		}
	}
}

func TestPrincipalCanModify(t *testing.T) {
	owner := "owner-1"
	other := "other-1"

	testCases := []struct {
		name      string
		principal Principal
		ownerID   *string
		expected  bool
	}{
		{name: "owner", principal: Principal{UserID: owner, Role: RoleUser}, ownerID: &owner, expected: true},
		{name: "stranger", principal: Principal{UserID: other, Role: RoleUser}, ownerID: &owner, expected: false},
		{name: "admin", principal: Principal{UserID: other, Role: RoleAdmin}, ownerID: &owner, expected: true},
		{name: "ownerless user", principal: Principal{UserID: owner, Role: RoleUser}, ownerID: nil, expected: false},
		{name: "ownerless admin", principal: Principal{UserID: other, Role: RoleAdmin}, ownerID: nil, expected: true},
		{name: "anonymous", principal: Principal{}, ownerID: &owner, expected: false},
		{name: "anonymous admin role", principal: Principal{Role: RoleAdmin}, ownerID: nil, expected: false},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			if got := testCase.principal.CanModify(testCase.ownerID); got != testCase.expected {
				t.Fatalf("CanModify = %v, want %v", got, testCase.expected)
			}
		})
	}
}
