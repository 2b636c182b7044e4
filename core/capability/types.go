// Package capability implements the service registry.
//
// A capability is a named service type. A provider is any value published
// under a capability by an active module. A registration binds the two and
// records the owning module; it lives until the module unpublishes it or stops.
//
// Built-in capabilities: security.controller, greeter.
// Any other non-empty name is a valid custom capability.
package capability

import (
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/artpar/bundlehost/domain/module"
)

// Type represents a capability type.
type Type string

// Built-in capability types
const (
	Unknown            Type = ""
	SecurityController Type = "security.controller" // Session-based authentication
	Greeter            Type = "greeter"             // Sample greeting service
)

// RankingProperty is the registration property read by the HighestRanking policy.
const RankingProperty = "service.ranking"

// String returns the string representation of the capability type.
func (t Type) String() string {
	return string(t)
}

// IsValid returns true if the capability type is usable.
func (t Type) IsValid() bool {
	return strings.TrimSpace(string(t)) != "" && strings.TrimSpace(string(t)) == string(t)
}

// ParseType parses a string into a capability Type.
func ParseType(s string) (Type, error) {
	t := Type(strings.TrimSpace(s))
	if t == Unknown {
		return Unknown, errors.New("capability type cannot be empty")
	}
	return t, nil
}

// LookupPolicy selects one provider when several share a capability.
type LookupPolicy int

const (
	// FirstRegistered picks the earliest live registration.
	FirstRegistered LookupPolicy = iota

	// HighestRanking picks the registration with the largest service.ranking
	// property, falling back to registration order on ties.
	HighestRanking
)

// ParsePolicy parses "first_registered" or "highest_ranking".
func ParsePolicy(s string) (LookupPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "first_registered":
		return FirstRegistered, nil
	case "highest_ranking":
		return HighestRanking, nil
	default:
		return FirstRegistered, errors.New("lookup policy must be first_registered or highest_ranking")
	}
}

// String returns the config name of the policy.
func (p LookupPolicy) String() string {
	if p == HighestRanking {
		return "highest_ranking"
	}
	return "first_registered"
}

// Registration binds a provider to a capability on behalf of a module.
type Registration struct {
	ID           uint64
	Capability   Type
	ModuleID     module.ID
	Provider     any
	Properties   map[string]string
	RegisteredAt time.Time
}

// Ranking returns the service.ranking property, 0 when absent or malformed.
func (r Registration) Ranking() int {
	v, ok := r.Properties[RankingProperty]
	if !ok {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0
	}
	return n
}
