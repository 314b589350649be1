// Package auth authenticates API callers and resolves the role a key acts
// under. Roles gate the operator surface: agents submit tools and read their
// own receipts, operators additionally inspect pending confirmations.
package auth

import (
	"context"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

type Role string

const (
	RoleAgent    Role = "agent"
	RoleOperator Role = "operator"
	RoleAdmin    Role = "admin"
)

// CanOperate reports whether the role may use operator endpoints, such as
// listing pending confirmation tokens issued to other callers.
func (r Role) CanOperate() bool {
	return r == RoleOperator || r == RoleAdmin
}

type APIKeyAuth struct {
	headerName string
	keys       map[string]Role
}

type keyFileEntry struct {
	ID          string `yaml:"id"`
	Key         string `yaml:"key"`
	Description string `yaml:"description"`
	Role        string `yaml:"role"` // agent|operator|admin
}

func LoadAPIKeys(keysFile string, headerName string) (*APIKeyAuth, error) {
	if strings.TrimSpace(headerName) == "" {
		headerName = "X-API-Key"
	}
	if keysFile == "" {
		return nil, fmt.Errorf("api key auth enabled but keys_file is empty")
	}
	b, err := os.ReadFile(keysFile)
	if err != nil {
		return nil, fmt.Errorf("read api keys file: %w", err)
	}
	var entries []keyFileEntry
	if err := yaml.Unmarshal(b, &entries); err != nil {
		return nil, fmt.Errorf("parse api keys file: %w", err)
	}
	keys := make(map[string]Role, len(entries))
	for _, e := range entries {
		if strings.TrimSpace(e.Key) == "" {
			continue
		}
		role, err := parseRole(e.Role)
		if err != nil {
			return nil, fmt.Errorf("api key %q: %w", e.ID, err)
		}
		keys[e.Key] = role
	}
	if len(keys) == 0 {
		return nil, fmt.Errorf("api keys file contains no keys")
	}
	return &APIKeyAuth{headerName: headerName, keys: keys}, nil
}

// parseRole folds case and defaults entries without a role to admin, which
// keeps key files from before roles existed working unchanged.
func parseRole(s string) (Role, error) {
	switch Role(strings.ToLower(strings.TrimSpace(s))) {
	case "":
		return RoleAdmin, nil
	case RoleAgent:
		return RoleAgent, nil
	case RoleOperator:
		return RoleOperator, nil
	case RoleAdmin:
		return RoleAdmin, nil
	default:
		return "", fmt.Errorf("unknown role %q", s)
	}
}

func (a *APIKeyAuth) HeaderName() string { return a.headerName }

// Authenticate resolves a presented key to its role. Unknown keys return
// ok=false and an empty role.
func (a *APIKeyAuth) Authenticate(key string) (Role, bool) {
	if a == nil {
		return "", false
	}
	role, ok := a.keys[key]
	return role, ok
}

type roleCtxKey struct{}

func WithRole(ctx context.Context, role Role) context.Context {
	return context.WithValue(ctx, roleCtxKey{}, role)
}

// RoleFrom returns the role the request authenticated as, or the empty role
// when no authentication ran.
func RoleFrom(ctx context.Context) Role {
	role, _ := ctx.Value(roleCtxKey{}).(Role)
	return role
}
