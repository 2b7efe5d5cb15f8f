package authz

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"proctoring-engine/internal/platform/errs"
)

var testKey = []byte("0123456789abcdef0123456789abcdef")

func TestRequireSelfOrSupervisor(t *testing.T) {
	testCases := []struct {
		name    string
		caller  Caller
		student string
		allowed bool
	}{
		{"own session", Caller{Subject: "stu-1", Role: RoleStudent}, "stu-1", true},
		{"other student", Caller{Subject: "stu-2", Role: RoleStudent}, "stu-1", false},
		{"proctor", Caller{Subject: "p-1", Role: RoleProctor}, "stu-1", true},
		{"admin", Caller{Subject: "a-1", Role: RoleAdmin}, "stu-1", true},
		{"system", System, "stu-1", true},
		{"anonymous", Caller{}, "stu-1", false},
		{"student without subject", Caller{Role: RoleStudent}, "", false},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			err := RequireSelfOrSupervisor(tc.caller, tc.student)
			if tc.allowed && err != nil {
				t.Errorf("err = %v, want nil", err)
			}
			if !tc.allowed && !errors.Is(err, errs.ErrUnauthorized) {
				t.Errorf("err = %v, want ErrUnauthorized", err)
			}
		})
	}
}

func TestRequireSupervisor(t *testing.T) {
	if err := RequireSupervisor(Caller{Subject: "p", Role: RoleProctor}); err != nil {
		t.Errorf("proctor: %v", err)
	}
	if err := RequireSupervisor(Caller{Subject: "s", Role: RoleStudent}); !errors.Is(err, errs.ErrUnauthorized) {
		t.Errorf("student err = %v", err)
	}
}

func TestCallerContext(t *testing.T) {
	if _, ok := CallerFrom(context.Background()); ok {
		t.Fatal("empty context should have no caller")
	}
	want := Caller{Subject: "stu-1", Role: RoleStudent}
	got, ok := CallerFrom(WithCaller(context.Background(), want))
	if !ok || got != want {
		t.Errorf("CallerFrom = %+v, %v", got, ok)
	}
}

func TestTokens_IssueAndValidate(t *testing.T) {
	tokens, err := NewTokens(testKey, time.Minute)
	if err != nil {
		t.Fatalf("NewTokens: %v", err)
	}
	token, exp, err := tokens.Issue(Caller{Subject: "p-1", Role: RoleProctor})
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if !exp.After(time.Now()) {
		t.Errorf("expiry %v in the past", exp)
	}
	c, err := tokens.Validate(token)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if c.Subject != "p-1" || c.Role != RoleProctor {
		t.Errorf("caller = %+v", c)
	}
}

func TestTokens_Rejects(t *testing.T) {
	tokens, err := NewTokens(testKey, time.Minute)
	if err != nil {
		t.Fatalf("NewTokens: %v", err)
	}
	other, err := NewTokens([]byte("another-signing-key-of-32-bytes!"), time.Minute)
	if err != nil {
		t.Fatalf("NewTokens: %v", err)
	}
	foreign, _, err := other.Issue(Caller{Subject: "p-1", Role: RoleProctor})
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	expired, err := NewTokens(testKey, time.Minute)
	if err != nil {
		t.Fatalf("NewTokens: %v", err)
	}
	expired.now = func() time.Time { return time.Now().Add(-time.Hour) }
	stale, _, err := expired.Issue(Caller{Subject: "p-1", Role: RoleProctor})
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, CapabilityClaims{Role: RoleAdmin}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("sign none: %v", err)
	}

	testCases := []struct {
		name  string
		token string
	}{
		{"garbage", "not-a-token"},
		{"foreign key", foreign},
		{"expired", stale},
		{"unsigned", none},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := tokens.Validate(tc.token); !errors.Is(err, ErrInvalidToken) {
				t.Errorf("err = %v, want ErrInvalidToken", err)
			}
		})
	}

	if _, _, err := tokens.Issue(Caller{Subject: "x", Role: "janitor"}); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("unknown role err = %v", err)
	}
	if _, err := NewTokens([]byte("short"), time.Minute); err == nil {
		t.Error("short key accepted")
	}
}
