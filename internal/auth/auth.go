// Package auth provides optional API-key authentication for the HTTP API.
package auth

import (
	"context"
	"fmt"
	"slices"
	"strings"
)

const (
	RoleChat  = "chat"
	RoleQuery = "query"
)

// Identity is the caller behind an API key.
type Identity struct {
	Subject string
	Roles   []string
}

func (i Identity) HasRole(role string) bool {
	return slices.Contains(i.Roles, role)
}

type APIKeyValidator interface {
	Validate(ctx context.Context, apiKey string) (Identity, bool)
}

type StaticAPIKeyValidator struct {
	keys map[string]Identity
}

// NewStaticAPIKeyValidator parses "key:subject:role|role,key2:subject2:role".
// The role list may be empty, in which case the key grants RoleChat.
func NewStaticAPIKeyValidator(spec string) (*StaticAPIKeyValidator, error) {
	validator := &StaticAPIKeyValidator{keys: map[string]Identity{}}
	for _, entry := range strings.Split(spec, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		key, subject, roles, err := parseEntry(entry)
		if err != nil {
			return nil, err
		}
		if _, dup := validator.keys[key]; dup {
			return nil, fmt.Errorf("static key entry %q: duplicate key", entry)
		}
		validator.keys[key] = Identity{Subject: subject, Roles: roles}
	}
	return validator, nil
}

func parseEntry(entry string) (string, string, []string, error) {
	parts := strings.Split(entry, ":")
	if len(parts) < 2 || len(parts) > 3 {
		return "", "", nil, fmt.Errorf("invalid static key entry %q: expected key:subject[:role|role]", entry)
	}
	key := strings.TrimSpace(parts[0])
	subject := strings.TrimSpace(parts[1])
	if key == "" || subject == "" {
		return "", "", nil, fmt.Errorf("invalid static key entry %q: empty key or subject", entry)
	}

	var roles []string
	if len(parts) == 3 {
		for _, role := range strings.Split(parts[2], "|") {
			role = strings.TrimSpace(role)
			switch role {
			case "":
			case RoleChat, RoleQuery:
				roles = append(roles, role)
			default:
				return "", "", nil, fmt.Errorf("invalid static key entry %q: unknown role %q", entry, role)
			}
		}
	}
	if len(roles) == 0 {
		roles = []string{RoleChat}
	}
	slices.Sort(roles)
	return key, subject, slices.Compact(roles), nil
}

func (v *StaticAPIKeyValidator) Validate(_ context.Context, apiKey string) (Identity, bool) {
	identity, ok := v.keys[apiKey]
	return identity, ok
}

func (v *StaticAPIKeyValidator) Len() int {
	return len(v.keys)
}
