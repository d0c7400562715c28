// Package collaborator defines the narrow boundary contracts the core
// consumes from (and emits to) the surrounding product: identity, tenancy,
// authorization, quota, metrics and audit. Per §1/§3.1 these are modeled as
// pluggable interfaces with a permissive default implementation — the core
// never depends on a particular policy engine, only on these shapes.
package collaborator

import "context"

// Identity is the opaque caller id attached to a request, used only for
// audit context and tenant resolution; core matching/dispatch logic never
// branches on it.
type Identity string

// Op names an operation the Authorizer and QuotaChecker are asked about.
type Op string

const (
	OpPublish  Op = "publish"
	OpRegister Op = "register"
	OpQuery    Op = "query"
	OpEvents   Op = "events"
	OpData     Op = "data"
)

// TenantResolver maps a request identity to a tenant id used to namespace
// storage keys. The core treats "project" as the only relevant scope below
// this boundary; the tenant id is folded into the project key by whatever
// calls TenantResolver, not by the core itself.
type TenantResolver interface {
	Resolve(ctx context.Context, identity Identity) (tenant string, err error)
}

// Authorizer renders a boolean allow/deny verdict for an operation. The
// core enforces it before any state change but never evaluates policy
// itself.
type Authorizer interface {
	Allow(ctx context.Context, identity Identity, op Op) (bool, error)
}

// QuotaChecker is consulted before any operation that changes state; the
// core rejects with a QuotaExceeded error if it returns one.
type QuotaChecker interface {
	Check(ctx context.Context, tenant string, op Op) error
}

// MetricsSink receives the named counters and histograms listed in §6. The
// default sink discards everything; a real deployment wires in a
// Prometheus-backed sink without the core depending on Prometheus.
type MetricsSink interface {
	IncCounter(name string, labels map[string]string)
	ObserveHistogram(name string, value float64, labels map[string]string)
}

// AuditRecord is one typed, timestamped audit entry.
type AuditRecord struct {
	Event    string
	Actor    Identity
	Resource string
	Result   string
}

// AuditSink persists AuditRecords; the default sink discards them.
type AuditSink interface {
	Record(ctx context.Context, rec AuditRecord)
}

// --- Permissive defaults ---

type permissiveTenantResolver struct{}

func NewPermissiveTenantResolver() TenantResolver { return permissiveTenantResolver{} }

func (permissiveTenantResolver) Resolve(_ context.Context, identity Identity) (string, error) {
	if identity == "" {
		return "default", nil
	}
	return string(identity), nil
}

type allowAllAuthorizer struct{}

func NewAllowAllAuthorizer() Authorizer { return allowAllAuthorizer{} }

func (allowAllAuthorizer) Allow(context.Context, Identity, Op) (bool, error) { return true, nil }

type unlimitedQuotaChecker struct{}

func NewUnlimitedQuotaChecker() QuotaChecker { return unlimitedQuotaChecker{} }

func (unlimitedQuotaChecker) Check(context.Context, string, Op) error { return nil }

type noopMetricsSink struct{}

func NewNoopMetricsSink() MetricsSink { return noopMetricsSink{} }

func (noopMetricsSink) IncCounter(string, map[string]string)            {}
func (noopMetricsSink) ObserveHistogram(string, float64, map[string]string) {}

type noopAuditSink struct{}

func NewNoopAuditSink() AuditSink { return noopAuditSink{} }

func (noopAuditSink) Record(context.Context, AuditRecord) {}
