// Package enum defines closed sets of values used across the gateway.
package enum

// AuditAction is the kind of operation recorded by the audit log.
type AuditAction struct{ name string }

// audit actions
var (
	AuditActionLogin    = AuditAction{"login"}
	AuditActionRegister = AuditAction{"register"}
	AuditActionLogout   = AuditAction{"logout"}
	AuditActionActivate = AuditAction{"activate"}
	AuditActionRead     = AuditAction{"read"}
	AuditActionWrite    = AuditAction{"write"}
	AuditActionDelete   = AuditAction{"delete"}
)

// String returns the action name.
func (a AuditAction) String() string { return a.name }

// MarshalText implements encoding.TextMarshaler.
func (a AuditAction) MarshalText() ([]byte, error) { return []byte(a.name), nil }

// AuditResult is the outcome of an audited request.
type AuditResult struct{ name string }

// audit results
var (
	AuditResultSuccess     = AuditResult{"success"}
	AuditResultDenied      = AuditResult{"denied"}
	AuditResultRejected    = AuditResult{"rejected"}
	AuditResultUnavailable = AuditResult{"unavailable"}
	AuditResultError       = AuditResult{"error"}
)

// String returns the result name.
func (r AuditResult) String() string { return r.name }

// MarshalText implements encoding.TextMarshaler.
func (r AuditResult) MarshalText() ([]byte, error) { return []byte(r.name), nil }

// ActorType tells who made the request.
type ActorType struct{ name string }

// actor types
var (
	ActorTypeUser      = ActorType{"user"}
	ActorTypeAnonymous = ActorType{"anonymous"}
)

// String returns the actor type name.
func (a ActorType) String() string { return a.name }

// MarshalText implements encoding.TextMarshaler.
func (a ActorType) MarshalText() ([]byte, error) { return []byte(a.name), nil }
