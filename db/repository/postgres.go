package repository

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"

	"github.com/ccmanuelf/kpi-operations-sub013/common"
	"github.com/ccmanuelf/kpi-operations-sub013/domain"
	"github.com/ccmanuelf/kpi-operations-sub013/tenant"
)

// GormStore is the PostgreSQL-backed store.
type GormStore struct {
	db      *gorm.DB
	flusher EventFlusher
}

// NewGormStore wraps an open gorm handle.
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// BindFlusher attaches the event bus used to drain sync handlers on commit.
func (s *GormStore) BindFlusher(f EventFlusher) { s.flusher = f }

// Begin opens a transaction bound to the tenant context.
func (s *GormStore) Begin(ctx context.Context, tc tenant.Context) (UnitOfWork, error) {
	tx := s.db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return nil, domain.Infra(tx.Error, "begin transaction failed")
	}
	return &gormUoW{tx: tx, tc: tc, store: s}, nil
}

// ClientExists satisfies tenant.ClientDirectory.
func (s *GormStore) ClientExists(ctx context.Context, clientID string) (bool, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&domain.Client{}).
		Where("client_id = ?", clientID).Count(&n).Error
	if err != nil {
		return false, translate(err)
	}
	return n > 0, nil
}

// GetUserByUsername satisfies auth.UserStore. Client assignments are loaded
// into the transient slice.
func (s *GormStore) GetUserByUsername(ctx context.Context, username string) (*domain.User, error) {
	var u domain.User
	if err := s.db.WithContext(ctx).Where("username = ?", username).First(&u).Error; err != nil {
		return nil, translate(err)
	}
	var memberships []domain.UserClient
	if err := s.db.WithContext(ctx).Where("user_id = ?", u.UserID).Find(&memberships).Error; err != nil {
		return nil, translate(err)
	}
	for _, m := range memberships {
		u.AssignedClientIDs = append(u.AssignedClientIDs, m.ClientID)
	}
	return &u, nil
}

// PendingEvents lists undispatched events, oldest first.
func (s *GormStore) PendingEvents(ctx context.Context, limit int) ([]domain.EventRecord, error) {
	var records []domain.EventRecord
	q := s.db.WithContext(ctx).Where("dispatched = ?", false).
		Order("occurred_at ASC, event_id ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&records).Error; err != nil {
		return nil, translate(err)
	}
	return records, nil
}

// MarkDispatched flags events whose async handlers completed.
func (s *GormStore) MarkDispatched(ctx context.Context, eventIDs []string) error {
	if len(eventIDs) == 0 {
		return nil
	}
	err := s.db.WithContext(ctx).Model(&domain.EventRecord{}).
		Where("event_id IN ?", eventIDs).
		Update("dispatched", true).Error
	return translate(err)
}

// Close releases the underlying connection pool.
func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// gormUoW is one transaction plus its staged-event buffer.
type gormUoW struct {
	tx     *gorm.DB
	tc     tenant.Context
	store  *GormStore
	staged []domain.Event
	done   bool
}

func (u *gormUoW) Tenant() tenant.Context { return u.tc }

func (u *gormUoW) Collect(ev domain.Event) {
	u.staged = append(u.staged, ev)
}

func (u *gormUoW) StagedEvents() []domain.Event {
	out := make([]domain.Event, len(u.staged))
	copy(out, u.staged)
	return out
}

// Commit persists staged events inside the transaction, commits, then drains
// sync handlers. Handler failures never unwind the commit: the events are
// already durable.
func (u *gormUoW) Commit(ctx context.Context) ([]domain.Event, error) {
	if u.done {
		return nil, domain.Internal(nil, "unit of work already finished")
	}

	for _, ev := range u.staged {
		payload, err := json.Marshal(ev.Payload)
		if err != nil {
			u.tx.Rollback()
			u.done = true
			return nil, domain.Internal(err, "event payload not serializable")
		}
		record := ev.Record(payload)
		if err := u.tx.Create(&record).Error; err != nil {
			u.tx.Rollback()
			u.done = true
			return nil, translate(err)
		}
	}

	if err := u.tx.Commit().Error; err != nil {
		u.done = true
		return nil, translate(err)
	}
	u.done = true

	events := u.StagedEvents()
	if u.store.flusher != nil && len(events) > 0 {
		u.store.flusher.FlushSync(ctx, events)
	}
	return events, nil
}

func (u *gormUoW) Rollback() error {
	if u.done {
		return nil
	}
	u.done = true
	u.staged = nil
	if err := u.tx.Rollback().Error; err != nil && !errors.Is(err, gorm.ErrInvalidTransaction) {
		return translate(err)
	}
	return nil
}

func (u *gormUoW) Clients() ClientRepository           { return &gormClients{u} }
func (u *gormUoW) Users() UserRepository               { return &gormUsers{u} }
func (u *gormUoW) Products() ProductRepository         { return &gormProducts{u} }
func (u *gormUoW) Shifts() ShiftRepository             { return &gormShifts{u} }
func (u *gormUoW) Employees() EmployeeRepository       { return &gormEmployees{u} }
func (u *gormUoW) WorkOrders() WorkOrderRepository     { return &gormWorkOrders{u} }
func (u *gormUoW) Production() ProductionRepository    { return &gormProduction{u} }
func (u *gormUoW) Downtime() DowntimeRepository        { return &gormDowntime{u} }
func (u *gormUoW) Holds() HoldRepository               { return &gormHolds{u} }
func (u *gormUoW) Attendance() AttendanceRepository    { return &gormAttendance{u} }
func (u *gormUoW) Quality() QualityRepository          { return &gormQuality{u} }
func (u *gormUoW) Opportunities() OpportunitiesRepository {
	return &gormOpportunities{u}
}
func (u *gormUoW) Thresholds() ThresholdRepository { return &gormThresholds{u} }
func (u *gormUoW) WorkflowConfigs() WorkflowConfigRepository {
	return &gormWorkflowConfigs{u}
}
func (u *gormUoW) Schedules() ScheduleRepository { return &gormSchedules{u} }
func (u *gormUoW) Workbooks() WorkbookRepository { return &gormWorkbooks{u} }

// scoped applies the isolation predicate to a query on a table that carries
// client_id. Every read goes through it.
func scoped(tc tenant.Context) func(db *gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		ids, all := tc.Scope()
		if all {
			return db
		}
		return db.Where("client_id IN ?", ids)
	}
}

// ranged applies a half-open window on the named column.
func ranged(col string, r Range) func(db *gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		if !r.From.IsZero() {
			db = db.Where(col+" >= ?", r.From)
		}
		if !r.To.IsZero() {
			db = db.Where(col+" < ?", r.To)
		}
		return db
	}
}

// stampClient fills an empty client id from the tenant context and rejects
// writes outside the caller's scope.
func stampClient(tc tenant.Context, rowClient *string) error {
	target, err := tc.WriteClient()
	if err != nil {
		return err
	}
	if *rowClient == "" {
		*rowClient = target
	}
	return tc.CheckWrite(*rowClient)
}

// translate maps driver errors onto the error taxonomy. Uniqueness
// violations become CONFLICT with the constraint name as key, foreign-key
// violations become DEPENDENT_ROWS.
func translate(err error) error {
	if err == nil {
		return nil
	}
	var de *domain.Error
	if errors.As(err, &de) {
		return err
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.NotFound("row", "")
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505":
			return domain.Conflict(pgErr.ConstraintName, "unique constraint violated")
		case "23503":
			return domain.DependentRows("operation blocked by dependent rows")
		}
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return domain.Infra(err, "operation deadline exceeded")
	}
	common.Logger.WithError(err).Error("unclassified database error")
	return domain.Infra(err, "database operation failed")
}

// notFoundAs rewrites a bare row NotFound with entity context.
func notFoundAs(err error, entity, id string) error {
	if domain.IsKind(err, domain.KindNotFound) {
		return domain.NotFound(entity, id)
	}
	return err
}

// terminalStatuses backs OpenOnly filters.
var terminalStatuses = []domain.WorkOrderStatus{
	domain.StatusClosed, domain.StatusCancelled, domain.StatusRejected,
}

// nowUTC is a seam for tests that freeze time.
var nowUTC = func() time.Time { return time.Now().UTC() }

// marshalPayload renders an event payload for the event store.
func marshalPayload(p map[string]any) ([]byte, error) { return json.Marshal(p) }
