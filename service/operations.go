package service

import (
	"context"
	"io"
	"time"

	"github.com/ccmanuelf/kpi-operations-sub013/capacity"
	"github.com/ccmanuelf/kpi-operations-sub013/domain"
	"github.com/ccmanuelf/kpi-operations-sub013/forecast"
	"github.com/ccmanuelf/kpi-operations-sub013/holds"
	"github.com/ccmanuelf/kpi-operations-sub013/ingest"
	"github.com/ccmanuelf/kpi-operations-sub013/kpi"
	"github.com/ccmanuelf/kpi-operations-sub013/report"
	"github.com/ccmanuelf/kpi-operations-sub013/tenant"
	"github.com/ccmanuelf/kpi-operations-sub013/workflow"
)

// forecastHistoryDays is the trailing history fed to the forecaster.
const forecastHistoryDays = 90

// Ingest validates a CSV upload and, unless dryRun is set, commits it
// atomically. The receipt is nil on dry runs; the summary is present either
// way.
func (s *Service) Ingest(ctx context.Context, actor tenant.Actor, clientID string, kind ingest.Kind, r io.Reader, dryRun bool) (*ingest.Receipt, *ingest.Summary, error) {
	if s.pipeline == nil {
		return nil, nil, domain.Infra(nil, "ingestion is not configured")
	}
	tc, err := s.resolve(ctx, actor, "ingest", clientID)
	if err != nil {
		return nil, nil, err
	}
	ctx, cancel := deadline(ctx)
	defer cancel()

	if dryRun {
		summary, err := s.pipeline.DryRun(ctx, tc, kind, r)
		return nil, summary, err
	}
	receipt, summary, err := s.pipeline.Commit(ctx, tc, kind, r)
	if err != nil {
		return nil, summary, err
	}
	if s.bus != nil && receipt.Events > 0 {
		// The batch's events persisted inside the pipeline's own commit;
		// pull them off the pending log onto the async pool.
		if _, rerr := s.bus.Replay(ctx, receipt.Events); rerr != nil {
			s.log.WithError(rerr).Warn("async dispatch of ingest batch deferred to next replay")
		}
	}
	return receipt, summary, nil
}

// ExportCSV renders a tenant's rows of one kind in the canonical upload
// format.
func (s *Service) ExportCSV(ctx context.Context, actor tenant.Actor, clientID string, kind ingest.Kind) ([]byte, error) {
	if s.pipeline == nil {
		return nil, domain.Infra(nil, "ingestion is not configured")
	}
	tc, err := s.resolve(ctx, actor, "export", clientID)
	if err != nil {
		return nil, err
	}
	return s.pipeline.Export(ctx, tc, kind)
}

// QueryKPI computes one indicator under the actor's tenant scope.
func (s *Service) QueryKPI(ctx context.Context, actor tenant.Actor, clientID string, q kpi.Query) (kpi.Result, error) {
	tc, err := s.resolve(ctx, actor, "kpi", clientID)
	if err != nil {
		return kpi.Result{}, err
	}
	ctx, cancel := deadline(ctx)
	defer cancel()
	return s.engine.Compute(ctx, tc, q)
}

// Trend returns the daily samples of one indicator over the trailing window.
func (s *Service) Trend(ctx context.Context, actor tenant.Actor, clientID string, id domain.KPIID, days int) ([]kpi.TrendPoint, error) {
	tc, err := s.resolve(ctx, actor, "kpi", clientID)
	if err != nil {
		return nil, err
	}
	return s.engine.Trend(ctx, tc, id, days)
}

// Transition moves one work order along the active status graph. A lost
// optimistic-lock race is retried with fresh reads.
func (s *Service) Transition(ctx context.Context, actor tenant.Actor, clientID, workOrderID string, to domain.WorkOrderStatus, note string) (*domain.WorkOrder, error) {
	tc, err := s.resolve(ctx, actor, "transition", clientID)
	if err != nil {
		return nil, err
	}
	ctx, cancel := deadline(ctx)
	defer cancel()

	var wo *domain.WorkOrder
	err = s.withStaleRetry(func() error {
		uow, err := s.begin(ctx, tc)
		if err != nil {
			return err
		}
		defer uow.Rollback()
		wo, err = s.workflow.TransitionOne(ctx, uow, workOrderID, to, note, actor.UserID)
		if err != nil {
			return err
		}
		return s.finish(ctx, uow)
	})
	if err != nil {
		return nil, err
	}
	return wo, nil
}

// TransitionBulk applies one target status to many work orders. Failures are
// per-item; the successes commit together.
func (s *Service) TransitionBulk(ctx context.Context, actor tenant.Actor, clientID string, workOrderIDs []string, to domain.WorkOrderStatus, note string) (workflow.BulkResult, error) {
	tc, err := s.resolve(ctx, actor, "transition", clientID)
	if err != nil {
		return workflow.BulkResult{}, err
	}
	ctx, cancel := deadline(ctx)
	defer cancel()

	uow, err := s.begin(ctx, tc)
	if err != nil {
		return workflow.BulkResult{}, err
	}
	defer uow.Rollback()
	result := s.workflow.TransitionBulk(ctx, uow, workOrderIDs, to, note, actor.UserID)
	if err := s.finish(ctx, uow); err != nil {
		return workflow.BulkResult{}, err
	}
	return result, nil
}

// Hold suspends a work order with a reason and severity.
func (s *Service) Hold(ctx context.Context, actor tenant.Actor, clientID string, req workflow.HoldRequest) (*domain.HoldEntry, error) {
	tc, err := s.resolve(ctx, actor, "hold", clientID)
	if err != nil {
		return nil, err
	}
	if req.InitiatedBy == "" {
		req.InitiatedBy = actor.UserID
	}
	ctx, cancel := deadline(ctx)
	defer cancel()

	uow, err := s.begin(ctx, tc)
	if err != nil {
		return nil, err
	}
	defer uow.Rollback()
	h, err := s.workflow.Hold(ctx, uow, req)
	if err != nil {
		return nil, err
	}
	if err := s.finish(ctx, uow); err != nil {
		return nil, err
	}
	return h, nil
}

// Resume closes a hold with a disposition.
func (s *Service) Resume(ctx context.Context, actor tenant.Actor, clientID string, req workflow.ResumeRequest) (*domain.HoldEntry, error) {
	tc, err := s.resolve(ctx, actor, "resume", clientID)
	if err != nil {
		return nil, err
	}
	if req.ResumedBy == "" {
		req.ResumedBy = actor.UserID
	}
	ctx, cancel := deadline(ctx)
	defer cancel()

	uow, err := s.begin(ctx, tc)
	if err != nil {
		return nil, err
	}
	defer uow.Rollback()
	h, err := s.workflow.Resume(ctx, uow, req)
	if err != nil {
		return nil, err
	}
	if err := s.finish(ctx, uow); err != nil {
		return nil, err
	}
	return h, nil
}

// ActivateWorkflowConfig validates a YAML status-graph override and makes it
// the tenant's active configuration.
func (s *Service) ActivateWorkflowConfig(ctx context.Context, actor tenant.Actor, clientID, definition string) (*domain.WorkflowConfig, error) {
	tc, err := s.resolve(ctx, actor, "workflow-config", clientID)
	if err != nil {
		return nil, err
	}
	cfg, err := workflow.Parse(definition)
	if err != nil {
		return nil, err
	}
	ctx, cancel := deadline(ctx)
	defer cancel()

	uow, err := s.begin(ctx, tc)
	if err != nil {
		return nil, err
	}
	defer uow.Rollback()
	wc, err := s.workflow.ActivateConfig(ctx, uow, cfg, actor.UserID)
	if err != nil {
		return nil, err
	}
	if err := s.finish(ctx, uow); err != nil {
		return nil, err
	}
	return wc, nil
}

// AgingReport buckets the tenant's active holds by age.
func (s *Service) AgingReport(ctx context.Context, actor tenant.Actor, clientID string) (*holds.AgingReport, error) {
	if s.holds == nil {
		return nil, domain.Infra(nil, "hold reporting is not configured")
	}
	tc, err := s.resolve(ctx, actor, "holds-aging", clientID)
	if err != nil {
		return nil, err
	}
	return s.holds.Report(ctx, tc)
}

// session opens the named capacity planning session under the actor's scope.
func (s *Service) session(ctx context.Context, actor tenant.Actor, clientID, sessionID string) (tenant.Context, *capacity.Session, error) {
	if s.capacity == nil {
		return tenant.Context{}, nil, domain.Infra(nil, "capacity planning is not configured")
	}
	tc, err := s.resolve(ctx, actor, "capacity", clientID)
	if err != nil {
		return tenant.Context{}, nil, err
	}
	sess, err := s.capacity.Open(ctx, tc, sessionID)
	if err != nil {
		return tenant.Context{}, nil, err
	}
	return tc, sess, nil
}

// RunComponentCheck allocates stock to orders in the session's workbook and
// stores the result sheet in the draft.
func (s *Service) RunComponentCheck(ctx context.Context, actor tenant.Actor, clientID, sessionID string) (capacity.CheckResult, error) {
	_, sess, err := s.session(ctx, actor, clientID, sessionID)
	if err != nil {
		return capacity.CheckResult{}, err
	}
	var result capacity.CheckResult
	err = sess.Mutate(func(w *capacity.Workbook) error {
		result = capacity.RunComponentCheck(w)
		return nil
	})
	return result, err
}

// RunAnalysis computes per-line per-day utilization over the window and
// stores the result sheet in the draft.
func (s *Service) RunAnalysis(ctx context.Context, actor tenant.Actor, clientID, sessionID string, from, to time.Time) (capacity.AnalysisResult, error) {
	_, sess, err := s.session(ctx, actor, clientID, sessionID)
	if err != nil {
		return capacity.AnalysisResult{}, err
	}
	var result capacity.AnalysisResult
	err = sess.Mutate(func(w *capacity.Workbook) error {
		result = capacity.RunAnalysis(w, from, to)
		return nil
	})
	return result, err
}

// RunScenario evaluates one what-if scenario against the session's workbook.
// Only the scenario row's result summary lands in the draft.
func (s *Service) RunScenario(ctx context.Context, actor tenant.Actor, clientID, sessionID, scenarioID string, from, to time.Time) (capacity.ScenarioResult, error) {
	_, sess, err := s.session(ctx, actor, clientID, sessionID)
	if err != nil {
		return capacity.ScenarioResult{}, err
	}
	var result capacity.ScenarioResult
	err = sess.Mutate(func(w *capacity.Workbook) error {
		var rerr error
		result, rerr = capacity.RunScenario(w, scenarioID, from, to)
		return rerr
	})
	return result, err
}

// SaveCapacity commits the session's dirty sheets under optimistic locking.
func (s *Service) SaveCapacity(ctx context.Context, actor tenant.Actor, clientID, sessionID string) error {
	tc, sess, err := s.session(ctx, actor, clientID, sessionID)
	if err != nil {
		return err
	}
	ctx, cancel := deadline(ctx)
	defer cancel()
	return s.withStaleRetry(func() error {
		return sess.Save(ctx, tc)
	})
}

// DiscardCapacity drops the session's draft.
func (s *Service) DiscardCapacity(ctx context.Context, actor tenant.Actor, clientID, sessionID string) error {
	_, sess, err := s.session(ctx, actor, clientID, sessionID)
	if err != nil {
		return err
	}
	return sess.Discard()
}

// Forecast projects one indicator forward from its trailing history.
func (s *Service) Forecast(ctx context.Context, actor tenant.Actor, clientID string, id domain.KPIID, days int, method forecast.Method) (forecast.Forecast, error) {
	if !id.Valid() {
		return forecast.Forecast{}, domain.Validation("kpi", "unknown indicator")
	}
	tc, err := s.resolve(ctx, actor, "forecast", clientID)
	if err != nil {
		return forecast.Forecast{}, err
	}
	trend, err := s.engine.Trend(ctx, tc, id, forecastHistoryDays)
	if err != nil {
		return forecast.Forecast{}, err
	}
	series := make([]forecast.Observation, len(trend))
	for i, pt := range trend {
		series[i] = forecast.Observation{Date: pt.Date, Value: pt.Value}
	}
	return forecast.Run(series, days, method)
}

// Report assembles and renders one report on demand.
func (s *Service) Report(ctx context.Context, actor tenant.Actor, clientID string, kind report.Kind, format string) ([]byte, *report.Payload, error) {
	if s.reports == nil {
		return nil, nil, domain.Infra(nil, "reporting is not configured")
	}
	tc, err := s.resolve(ctx, actor, "report", clientID)
	if err != nil {
		return nil, nil, err
	}
	ctx, cancel := deadline(ctx)
	defer cancel()

	payload, err := s.reports.Assemble(ctx, tc, kind)
	if err != nil {
		return nil, nil, err
	}
	doc, err := report.Render(s.renderer, format, payload)
	if err != nil {
		return nil, nil, err
	}
	return doc, payload, nil
}

// ReplayEvents re-enqueues unacknowledged persisted events. Admin only.
func (s *Service) ReplayEvents(ctx context.Context, actor tenant.Actor, limit int) (int, error) {
	if actor.Role != domain.RoleAdmin {
		return 0, domain.Forbidden("event replay requires ADMIN")
	}
	if s.bus == nil {
		return 0, domain.Infra(nil, "event bus is not configured")
	}
	return s.bus.Replay(ctx, limit)
}
