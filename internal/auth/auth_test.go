// v1
// internal/auth/auth_test.go
package auth

import (
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"
)

func newTestOperators(t *testing.T) *OperatorFile {
	t.Helper()
	of, err := LoadOperators(filepath.Join(t.TempDir(), "operators.json"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	of.cost = bcrypt.MinCost
	return of
}

func TestOperatorAddAndVerify(t *testing.T) {
	t.Parallel()
	of := newTestOperators(t)

	op, err := of.Add("ana", "secreto")
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if op.ID == "" || op.Username != "ana" {
		t.Fatalf("incomplete operator: %+v", op)
	}
	if strings.Contains(op.PasswordHash, "secreto") {
		t.Fatal("password stored in the clear")
	}

	got, err := of.Verify("ana", "secreto")
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if got.ID != op.ID {
		t.Fatalf("verify returned wrong operator: %+v", got)
	}
	if _, err := of.Verify("ana", "wrong"); !errors.Is(err, ErrBadCredentials) {
		t.Fatalf("expected ErrBadCredentials, got %v", err)
	}
	if _, err := of.Verify("nadie", "secreto"); !errors.Is(err, ErrBadCredentials) {
		t.Fatalf("expected ErrBadCredentials for unknown user, got %v", err)
	}
}

func TestOperatorAddRejectsDuplicates(t *testing.T) {
	t.Parallel()
	of := newTestOperators(t)

	if _, err := of.Add("ana", "uno"); err != nil {
		t.Fatalf("add: %v", err)
	}
	if _, err := of.Add("ana", "dos"); err == nil {
		t.Fatal("duplicate username must be rejected")
	}
	// The original credentials still work.
	if _, err := of.Verify("ana", "uno"); err != nil {
		t.Fatalf("verify after failed duplicate: %v", err)
	}
}

func TestOperatorAddRejectsEmptyFields(t *testing.T) {
	t.Parallel()
	of := newTestOperators(t)

	if _, err := of.Add("", "pw"); err == nil {
		t.Fatal("empty username must be rejected")
	}
	if _, err := of.Add("ana", ""); err == nil {
		t.Fatal("empty password must be rejected")
	}
}

func TestOperatorsSurviveReload(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "operators.json")

	of, err := LoadOperators(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	of.cost = bcrypt.MinCost
	if _, err := of.Add("ana", "secreto"); err != nil {
		t.Fatalf("add ana: %v", err)
	}
	if _, err := of.Add("bruno", "otro"); err != nil {
		t.Fatalf("add bruno: %v", err)
	}

	reloaded, err := LoadOperators(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if _, err := reloaded.Verify("ana", "secreto"); err != nil {
		t.Fatalf("verify after reload: %v", err)
	}
	ops := reloaded.List()
	if len(ops) != 2 || ops[0].Username != "ana" || ops[1].Username != "bruno" {
		t.Fatalf("unexpected list: %+v", ops)
	}
}

func TestLoadOperatorsMissingFile(t *testing.T) {
	t.Parallel()
	of, err := LoadOperators(filepath.Join(t.TempDir(), "nope", "operators.json"))
	if err != nil {
		t.Fatalf("missing file must load as empty set: %v", err)
	}
	if got := of.List(); len(got) != 0 {
		t.Fatalf("expected empty set, got %+v", got)
	}
	if _, err := of.Verify("ana", "pw"); !errors.Is(err, ErrBadCredentials) {
		t.Fatalf("expected ErrBadCredentials, got %v", err)
	}
}

func TestTokenRoundTrip(t *testing.T) {
	t.Parallel()
	ti := NewTokenIssuer("s3cr3t", time.Hour)
	op := Operator{ID: "op-1", Username: "ana"}

	token, expiresAt, err := ti.Issue(op)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if until := time.Until(expiresAt); until < 59*time.Minute || until > time.Hour {
		t.Fatalf("unexpected expiry: %v", expiresAt)
	}

	claims, err := ti.Verify(token)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if claims.OperatorID != "op-1" || claims.Username != "ana" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
}

func TestTokenExpired(t *testing.T) {
	t.Parallel()
	ti := NewTokenIssuer("s3cr3t", -time.Minute)
	token, _, err := ti.Issue(Operator{ID: "op-1", Username: "ana"})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := ti.Verify(token); !errors.Is(err, ErrBadToken) {
		t.Fatalf("expected ErrBadToken for expired token, got %v", err)
	}
}

func TestTokenWrongSecretRejected(t *testing.T) {
	t.Parallel()
	token, _, err := NewTokenIssuer("secreta", time.Hour).Issue(Operator{ID: "op-1", Username: "ana"})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := NewTokenIssuer("otra", time.Hour).Verify(token); !errors.Is(err, ErrBadToken) {
		t.Fatalf("expected ErrBadToken for wrong secret, got %v", err)
	}
}

func TestTokenTamperedRejected(t *testing.T) {
	t.Parallel()
	ti := NewTokenIssuer("s3cr3t", time.Hour)
	token, _, err := ti.Issue(Operator{ID: "op-1", Username: "ana"})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	// Flip a character inside the payload segment.
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		t.Fatalf("unexpected token shape: %q", token)
	}
	payload := []byte(parts[1])
	if payload[2] == 'A' {
		payload[2] = 'B'
	} else {
		payload[2] = 'A'
	}
	parts[1] = string(payload)

	if _, err := ti.Verify(strings.Join(parts, ".")); !errors.Is(err, ErrBadToken) {
		t.Fatalf("expected ErrBadToken for tampered token, got %v", err)
	}
	if _, err := ti.Verify("not-a-token"); !errors.Is(err, ErrBadToken) {
		t.Fatalf("expected ErrBadToken for garbage, got %v", err)
	}
}
