// Package service is the application facade. It binds an authenticated actor
// to a tenant scope, runs one domain operation inside a unit of work, and
// dispatches the committed events. Transports (HTTP, CLI) talk only to this
// package and render its Problem translation of domain errors.
package service

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ccmanuelf/kpi-operations-sub013/auth"
	"github.com/ccmanuelf/kpi-operations-sub013/capacity"
	"github.com/ccmanuelf/kpi-operations-sub013/db/repository"
	"github.com/ccmanuelf/kpi-operations-sub013/domain"
	"github.com/ccmanuelf/kpi-operations-sub013/events"
	"github.com/ccmanuelf/kpi-operations-sub013/holds"
	"github.com/ccmanuelf/kpi-operations-sub013/ingest"
	"github.com/ccmanuelf/kpi-operations-sub013/kpi"
	"github.com/ccmanuelf/kpi-operations-sub013/report"
	"github.com/ccmanuelf/kpi-operations-sub013/tenant"
	"github.com/ccmanuelf/kpi-operations-sub013/workflow"
)

// staleRetries bounds re-runs of idempotent operations that lost an
// optimistic-lock race.
const staleRetries = 2

// Deps carries the collaborators the facade composes. Store, Auth, Workflow
// and KPI are required; the rest degrade to no-ops or INFRA errors.
type Deps struct {
	Store    repository.Store
	Bus      *events.Bus
	Auth     *auth.Service
	Workflow *workflow.Engine
	KPI      *kpi.Engine
	Pipeline *ingest.Pipeline
	Capacity *capacity.Manager
	Reports  *report.Assembler
	Renderer report.Renderer
	Holds    *holds.Reporter

	// AuthRatePerMin is the per-source login budget
	// (RATE_LIMIT_AUTH_PER_MIN).
	AuthRatePerMin int
}

// Service is the facade every transport calls into.
type Service struct {
	store    repository.Store
	bus      *events.Bus
	auth     *auth.Service
	workflow *workflow.Engine
	engine   *kpi.Engine
	pipeline *ingest.Pipeline
	capacity *capacity.Manager
	reports  *report.Assembler
	renderer report.Renderer
	holds    *holds.Reporter
	limiter  *loginLimiter
	log      *logrus.Entry
}

// New wires the facade.
func New(d Deps) *Service {
	renderer := d.Renderer
	if renderer == nil {
		renderer = report.JSONRenderer{}
	}
	return &Service{
		store:    d.Store,
		bus:      d.Bus,
		auth:     d.Auth,
		workflow: d.Workflow,
		engine:   d.KPI,
		pipeline: d.Pipeline,
		capacity: d.Capacity,
		reports:  d.Reports,
		renderer: renderer,
		holds:    d.Holds,
		limiter:  newLoginLimiter(d.AuthRatePerMin),
		log:      logrus.WithField("component", "service"),
	}
}

// resolve binds the actor to a tenant scope for one operation.
func (s *Service) resolve(ctx context.Context, actor tenant.Actor, operation, clientID string) (tenant.Context, error) {
	return tenant.Resolve(ctx, s.store, actor, operation, clientID)
}

// begin opens a unit of work under the resolved scope. Bypass resolutions
// stage their audit event so it commits with the operation's data.
func (s *Service) begin(ctx context.Context, tc tenant.Context) (repository.UnitOfWork, error) {
	uow, err := s.store.Begin(ctx, tc)
	if err != nil {
		return nil, err
	}
	if tc.Bypass {
		uow.Collect(tc.BypassEvent())
	}
	return uow, nil
}

// finish commits the unit of work and hands the committed batch to the async
// side of the bus. Synchronous handlers already ran inside Commit through the
// bound flusher.
func (s *Service) finish(ctx context.Context, uow repository.UnitOfWork) error {
	committed, err := uow.Commit(ctx)
	if err != nil {
		return err
	}
	if s.bus != nil {
		s.bus.DispatchAsync(committed)
	}
	return nil
}

// withStaleRetry re-runs fn while it loses optimistic-lock races, at most
// staleRetries extra attempts. fn must re-read its aggregates each attempt.
func (s *Service) withStaleRetry(fn func() error) error {
	var err error
	for attempt := 0; attempt <= staleRetries; attempt++ {
		if err = fn(); err == nil || !errors.Is(err, domain.ErrStale) {
			return err
		}
		s.log.WithField("attempt", attempt+1).Debug("retrying after stale version")
	}
	return err
}

// deadline applies the facade's default operation deadline when the caller
// did not set one.
func deadline(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, 30*time.Second)
}
