// v1
// internal/auth/operators.go
package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// ErrBadCredentials is returned for both unknown usernames and wrong
// passwords, so responses do not leak which one it was.
var ErrBadCredentials = errors.New("bad credentials")

// Operator is one entry in the credential file.
type Operator struct {
	ID           string `json:"id"`
	Username     string `json:"username"`
	PasswordHash string `json:"passwordHash"`
	CreatedAt    string `json:"createdAt"`
}

// OperatorFile is the flat operator set behind /api/login. The whole file is
// held in memory; every change rewrites it via a temp file and rename.
type OperatorFile struct {
	mu   sync.RWMutex
	path string
	ops  map[string]Operator
	cost int
}

type operatorDoc struct {
	Operators []Operator `json:"operators"`
}

// LoadOperators reads the credential file. A missing file is an empty set,
// so the first `operator add` creates it.
func LoadOperators(path string) (*OperatorFile, error) {
	of := &OperatorFile{path: path, ops: map[string]Operator{}, cost: bcrypt.DefaultCost}
	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return of, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read operators: %w", err)
	}
	var doc operatorDoc
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	for _, op := range doc.Operators {
		of.ops[op.Username] = op
	}
	return of, nil
}

// Add hashes the password and persists the new operator.
func (of *OperatorFile) Add(username, password string) (Operator, error) {
	if username == "" || password == "" {
		return Operator{}, errors.New("username and password must not be empty")
	}
	of.mu.Lock()
	defer of.mu.Unlock()
	if _, exists := of.ops[username]; exists {
		return Operator{}, fmt.Errorf("operator %q already exists", username)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), of.cost)
	if err != nil {
		return Operator{}, fmt.Errorf("hash password: %w", err)
	}
	op := Operator{
		ID:           uuid.NewString(),
		Username:     username,
		PasswordHash: string(hash),
		CreatedAt:    time.Now().UTC().Format(time.RFC3339),
	}
	of.ops[username] = op
	if err := of.save(); err != nil {
		delete(of.ops, username)
		return Operator{}, err
	}
	return op, nil
}

// Verify checks a username/password pair.
func (of *OperatorFile) Verify(username, password string) (Operator, error) {
	of.mu.RLock()
	op, ok := of.ops[username]
	of.mu.RUnlock()
	if !ok {
		return Operator{}, ErrBadCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(op.PasswordHash), []byte(password)); err != nil {
		return Operator{}, ErrBadCredentials
	}
	return op, nil
}

// List returns all operators ordered by username.
func (of *OperatorFile) List() []Operator {
	of.mu.RLock()
	defer of.mu.RUnlock()
	out := make([]Operator, 0, len(of.ops))
	for _, op := range of.ops {
		out = append(out, op)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out
}

func (of *OperatorFile) save() error {
	doc := operatorDoc{Operators: make([]Operator, 0, len(of.ops))}
	for _, op := range of.ops {
		doc.Operators = append(doc.Operators, op)
	}
	sort.Slice(doc.Operators, func(i, j int) bool {
		return doc.Operators[i].Username < doc.Operators[j].Username
	})
	raw, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(of.path), 0o755); err != nil {
		return err
	}
	tmp := of.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, of.path)
}
