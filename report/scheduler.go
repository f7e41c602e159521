package report

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/ccmanuelf/kpi-operations-sub013/db/repository"
	"github.com/ccmanuelf/kpi-operations-sub013/domain"
	"github.com/ccmanuelf/kpi-operations-sub013/tenant"
)

// Delivery hands a rendered report to its destination. The production
// implementation is an external collaborator; LogDelivery records the
// hand-off and drops the bytes.
type Delivery interface {
	Deliver(ctx context.Context, s *domain.ReportSchedule, filename string, doc []byte) error
}

// LogDelivery is the default delivery stub.
type LogDelivery struct{}

func (LogDelivery) Deliver(_ context.Context, s *domain.ReportSchedule, filename string, doc []byte) error {
	logrus.WithFields(logrus.Fields{
		"schedule_id": s.ScheduleID,
		"client_id":   s.ClientID,
		"filename":    filename,
		"bytes":       len(doc),
	}).Info("report delivered")
	return nil
}

// Scheduler fires per-tenant report jobs on their cron specs. One process
// owns the cron; a missed interval fires at most one catch-up run on start.
type Scheduler struct {
	store     repository.Store
	assembler *Assembler
	renderer  Renderer
	delivery  Delivery
	cron      *cron.Cron
	log       *logrus.Entry
	now       func() time.Time
}

// NewScheduler wires the report scheduler. delivery may be nil for the
// logging stub.
func NewScheduler(store repository.Store, assembler *Assembler, renderer Renderer, delivery Delivery) *Scheduler {
	if delivery == nil {
		delivery = LogDelivery{}
	}
	return &Scheduler{
		store:     store,
		assembler: assembler,
		renderer:  renderer,
		delivery:  delivery,
		cron:      cron.New(),
		log:       logrus.WithField("component", "report-scheduler"),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// AddJob registers an auxiliary periodic job (hold aging sweeps and the
// like) on the same cron.
func (s *Scheduler) AddJob(spec string, fn func(ctx context.Context)) error {
	_, err := s.cron.AddFunc(spec, func() { fn(context.Background()) })
	if err != nil {
		return domain.Validation("spec", fmt.Sprintf("invalid cron spec %q: %v", spec, err))
	}
	return nil
}

// Start registers every active schedule and starts the cron. Schedules whose
// next fire after LastRunAt already passed run one catch-up before regular
// operation resumes.
func (s *Scheduler) Start(ctx context.Context) error {
	schedules, err := s.activeSchedules(ctx)
	if err != nil {
		return err
	}
	for _, sched := range schedules {
		sched := sched
		if _, err := s.cron.AddFunc(sched.Spec, func() { s.run(context.Background(), sched.ScheduleID, sched.ClientID) }); err != nil {
			s.log.WithError(err).WithField("schedule_id", sched.ScheduleID).Warn("skipping schedule with invalid spec")
			continue
		}
		if s.missed(sched) {
			s.log.WithField("schedule_id", sched.ScheduleID).Info("running catch-up for missed interval")
			s.run(ctx, sched.ScheduleID, sched.ClientID)
		}
	}
	s.cron.Start()
	return nil
}

// Stop halts the cron and waits for running jobs.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

// missed reports whether at least one fire time passed since the schedule
// last ran. A schedule that never ran has nothing to catch up.
func (s *Scheduler) missed(sched *domain.ReportSchedule) bool {
	if sched.LastRunAt == nil {
		return false
	}
	spec, err := cron.ParseStandard(sched.Spec)
	if err != nil {
		return false
	}
	return spec.Next(*sched.LastRunAt).Before(s.now())
}

func (s *Scheduler) activeSchedules(ctx context.Context) ([]*domain.ReportSchedule, error) {
	uow, err := s.store.Begin(ctx, tenant.System(""))
	if err != nil {
		return nil, err
	}
	defer uow.Rollback()
	return uow.Schedules().ListActive(ctx)
}

// run assembles, renders, delivers and stamps one schedule. Failures are
// logged and retried at the next fire.
func (s *Scheduler) run(ctx context.Context, scheduleID, clientID string) {
	log := s.log.WithFields(logrus.Fields{"schedule_id": scheduleID, "client_id": clientID})
	tc := tenant.System(clientID)

	uow, err := s.store.Begin(ctx, tc)
	if err != nil {
		log.WithError(err).Error("failed to open unit of work")
		return
	}
	sched, err := uow.Schedules().Get(ctx, scheduleID)
	uow.Rollback()
	if err != nil {
		log.WithError(err).Error("schedule vanished")
		return
	}

	payload, err := s.assembler.Assemble(ctx, tc, Kind(sched.Kind))
	if err != nil {
		log.WithError(err).Error("failed to assemble report")
		return
	}
	doc, err := Render(s.renderer, sched.Format, payload)
	if err != nil {
		log.WithError(err).Error("failed to render report")
		return
	}

	ranAt := s.now()
	filename := fmt.Sprintf("%s-%s-%s.%s", clientID, sched.Kind, ranAt.Format("20060102"), sched.Format)
	if err := s.delivery.Deliver(ctx, sched, filename, doc); err != nil {
		log.WithError(err).Error("failed to deliver report")
		return
	}

	touch, err := s.store.Begin(ctx, tc)
	if err != nil {
		log.WithError(err).Error("failed to stamp run")
		return
	}
	defer touch.Rollback()
	if err := touch.Schedules().Touch(ctx, scheduleID, ranAt); err != nil {
		log.WithError(err).Error("failed to stamp run")
		return
	}
	if _, err := touch.Commit(ctx); err != nil {
		log.WithError(err).Error("failed to stamp run")
	}
}
