// Package tenant carries actor identity and the isolation predicate through
// every operation. A Context is resolved once per inbound call and handed to
// the repository layer, which applies the predicate to every read and write.
package tenant

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/ccmanuelf/kpi-operations-sub013/common"
	"github.com/ccmanuelf/kpi-operations-sub013/domain"
)

// Actor is the authenticated identity bound to a request.
type Actor struct {
	UserID           string
	Role             domain.Role
	AllowedClientIDs []string
}

// Allowed reports whether the actor is assigned to the client.
func (a Actor) Allowed(clientID string) bool {
	for _, id := range a.AllowedClientIDs {
		if id == clientID {
			return true
		}
	}
	return false
}

// Context is the tenant scope of one operation. RequestedClientID narrows
// the scope to a single client; empty means all clients the actor can see.
// Bypass is the explicit cross-tenant capability: it is set only when an
// ADMIN or POWER_USER actor addresses data outside its own assignments, and
// each resolution with it set is audited.
type Context struct {
	Actor             Actor
	RequestedClientID string
	Operation         string
	Bypass            bool
}

// ClientDirectory answers existence checks during resolution. The store
// satisfies it; tests use a map-backed fake.
type ClientDirectory interface {
	ClientExists(ctx context.Context, clientID string) (bool, error)
}

// Resolve binds an actor to a tenant scope for one operation.
//
// Rules:
//   - unauthenticated or unknown-role actors fail UNAUTHENTICATED
//   - a target client must exist, else ERR_CLIENT_UNKNOWN (NOT_FOUND kind)
//   - non-bypass roles must be assigned to the target, else FORBIDDEN
//   - single-tenant actors default their target when none is given
//
// Every resolution that engages the bypass capability is logged; the caller
// stages the matching audit event on its unit of work.
func Resolve(ctx context.Context, dir ClientDirectory, actor Actor, operation, targetClientID string) (Context, error) {
	if actor.UserID == "" || !actor.Role.Valid() {
		return Context{}, domain.Unauthenticated("missing or invalid actor")
	}

	if targetClientID == "" && len(actor.AllowedClientIDs) == 1 {
		targetClientID = actor.AllowedClientIDs[0]
	}

	// The assignment check runs before the existence lookup: a non-bypass
	// actor probing clients outside their scope gets FORBIDDEN whether or
	// not the client exists, so the answer leaks nothing about the roster.
	if !actor.Role.CanBypassTenant() && targetClientID != "" && !actor.Allowed(targetClientID) {
		return Context{}, domain.Forbidden("client out of scope")
	}

	if targetClientID != "" {
		ok, err := dir.ClientExists(ctx, targetClientID)
		if err != nil {
			return Context{}, domain.Infra(err, "client lookup failed")
		}
		if !ok {
			return Context{}, domain.NotFound("client", targetClientID)
		}
	}

	tc := Context{Actor: actor, RequestedClientID: targetClientID, Operation: operation}

	if actor.Role.CanBypassTenant() {
		tc.Bypass = targetClientID == "" || !actor.Allowed(targetClientID)
		if tc.Bypass {
			common.Logger.WithFields(logrus.Fields{
				"user_id":          actor.UserID,
				"role":             actor.Role,
				"operation":        operation,
				"target_client_id": targetClientID,
			}).Warn("tenant bypass engaged")
		}
	}

	return tc, nil
}

// CanRead is the isolation predicate P(row) evaluated on a single row.
func (c Context) CanRead(clientID string) bool {
	if c.Bypass {
		return c.RequestedClientID == "" || c.RequestedClientID == clientID
	}
	if !c.Actor.Allowed(clientID) {
		return false
	}
	return c.RequestedClientID == "" || c.RequestedClientID == clientID
}

// Scope returns the client id set a list query must filter to. all=true
// means the predicate is unbounded (bypass with no requested client) and the
// query runs unfiltered.
func (c Context) Scope() (ids []string, all bool) {
	if c.Bypass {
		if c.RequestedClientID != "" {
			return []string{c.RequestedClientID}, false
		}
		return nil, true
	}
	if c.RequestedClientID != "" {
		return []string{c.RequestedClientID}, false
	}
	return c.Actor.AllowedClientIDs, false
}

// WriteClient returns the concrete client id a create must stamp. Writes are
// never ambient: even with bypass, a concrete target is required.
func (c Context) WriteClient() (string, error) {
	if c.RequestedClientID == "" {
		return "", domain.Validation("client_id", "write requires a concrete target client")
	}
	return c.RequestedClientID, nil
}

// CheckWrite verifies a row's client id against the write target.
func (c Context) CheckWrite(rowClientID string) error {
	target, err := c.WriteClient()
	if err != nil {
		return err
	}
	if rowClientID != "" && rowClientID != target {
		return domain.Conflict("client_id", "row client does not match tenant context")
	}
	return nil
}

// BypassEvent materializes the audit event for a bypass resolution; callers
// stage it on their unit of work so it persists with the operation's data.
func (c Context) BypassEvent() domain.Event {
	return domain.NewTenantBypassUsed(c.Actor.UserID, c.Operation, c.RequestedClientID)
}

// System returns a context used by internal maintenance work (event replay,
// threshold evaluation, scheduler jobs) scoped to a single client.
func System(clientID string) Context {
	return Context{
		Actor:             Actor{UserID: "system", Role: domain.RoleAdmin},
		RequestedClientID: clientID,
		Operation:         "system",
		Bypass:            clientID == "",
	}
}
