package repository

import (
	"context"
	"reflect"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ccmanuelf/kpi-operations-sub013/domain"
	"github.com/ccmanuelf/kpi-operations-sub013/tenant"
)

// MemoryStore is the in-process implementation used by unit tests. It keeps
// the semantics of the gorm store: tenant scoping on every method, client
// stamping on create, uniqueness and version checks, restricted deletes, and
// atomic commit of rows plus staged events.
//
// A unit of work clones the committed state at Begin and records every
// mutation as a replayable operation. Commit replays the operations against
// a fresh clone of the then-current committed state, so version checks and
// uniqueness constraints see concurrent commits exactly like the database
// would, and a failing operation leaves the store untouched.
type MemoryStore struct {
	mu      sync.RWMutex
	state   *memState
	flusher EventFlusher
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{state: newMemState()}
}

// BindFlusher attaches the event bus used to drain sync handlers on commit.
func (s *MemoryStore) BindFlusher(f EventFlusher) { s.flusher = f }

// Begin opens a unit of work over a snapshot of the committed state.
func (s *MemoryStore) Begin(_ context.Context, tc tenant.Context) (UnitOfWork, error) {
	s.mu.RLock()
	view := s.state.clone()
	s.mu.RUnlock()
	return &memUoW{store: s, tc: tc, view: view}, nil
}

// ClientExists satisfies tenant.ClientDirectory.
func (s *MemoryStore) ClientExists(_ context.Context, clientID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.state.clients[clientID]
	return ok, nil
}

// GetUserByUsername satisfies auth.UserStore.
func (s *MemoryStore) GetUserByUsername(_ context.Context, username string) (*domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.state.users {
		if u.Username == username {
			out := u
			out.AssignedClientIDs = append([]string(nil), u.AssignedClientIDs...)
			return &out, nil
		}
	}
	return nil, domain.NotFound("user", username)
}

// PendingEvents lists undispatched events, oldest first.
func (s *MemoryStore) PendingEvents(_ context.Context, limit int) ([]domain.EventRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.EventRecord
	for _, r := range s.state.events {
		if !r.Dispatched {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].OccurredAt.Equal(out[j].OccurredAt) {
			return out[i].OccurredAt.Before(out[j].OccurredAt)
		}
		return out[i].EventID < out[j].EventID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// MarkDispatched flags events whose async handlers completed.
func (s *MemoryStore) MarkDispatched(_ context.Context, eventIDs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make(map[string]bool, len(eventIDs))
	for _, id := range eventIDs {
		ids[id] = true
	}
	for i := range s.state.events {
		if ids[s.state.events[i].EventID] {
			s.state.events[i].Dispatched = true
		}
	}
	return nil
}

// Close is a no-op.
func (s *MemoryStore) Close() error { return nil }

// Seed applies mutations outside any tenant scope; tests use it to arrange
// fixtures without satisfying write rules.
func (s *MemoryStore) Seed(fn func(add func(row any))) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(func(row any) { s.state.put(row) })
}

// memState is the committed table set.
type memState struct {
	clients       map[string]domain.Client
	users         map[string]domain.User
	products      map[string]domain.Product
	shifts        map[string]domain.Shift
	employees     map[string]domain.Employee
	assignments   map[string]domain.EmployeeAssignment
	workOrders    map[string]domain.WorkOrder
	production    map[string]domain.ProductionEntry
	downtime      map[string]domain.DowntimeEntry
	holds         map[string]domain.HoldEntry
	attendance    map[string]domain.AttendanceEntry
	quality       map[string]domain.QualityEntry
	opportunities map[string]domain.PartOpportunities
	thresholds    map[string]domain.KPIThreshold
	workflows     map[string]domain.WorkflowConfig
	schedules     map[string]domain.ReportSchedule
	sheets        map[string]domain.WorkbookSheet
	events        []domain.EventRecord
}

func newMemState() *memState {
	return &memState{
		clients:       map[string]domain.Client{},
		users:         map[string]domain.User{},
		products:      map[string]domain.Product{},
		shifts:        map[string]domain.Shift{},
		employees:     map[string]domain.Employee{},
		assignments:   map[string]domain.EmployeeAssignment{},
		workOrders:    map[string]domain.WorkOrder{},
		production:    map[string]domain.ProductionEntry{},
		downtime:      map[string]domain.DowntimeEntry{},
		holds:         map[string]domain.HoldEntry{},
		attendance:    map[string]domain.AttendanceEntry{},
		quality:       map[string]domain.QualityEntry{},
		opportunities: map[string]domain.PartOpportunities{},
		thresholds:    map[string]domain.KPIThreshold{},
		workflows:     map[string]domain.WorkflowConfig{},
		schedules:     map[string]domain.ReportSchedule{},
		sheets:        map[string]domain.WorkbookSheet{},
	}
}

func cloneMap[V any](m map[string]V) map[string]V {
	out := make(map[string]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func (st *memState) clone() *memState {
	return &memState{
		clients:       cloneMap(st.clients),
		users:         cloneMap(st.users),
		products:      cloneMap(st.products),
		shifts:        cloneMap(st.shifts),
		employees:     cloneMap(st.employees),
		assignments:   cloneMap(st.assignments),
		workOrders:    cloneMap(st.workOrders),
		production:    cloneMap(st.production),
		downtime:      cloneMap(st.downtime),
		holds:         cloneMap(st.holds),
		attendance:    cloneMap(st.attendance),
		quality:       cloneMap(st.quality),
		opportunities: cloneMap(st.opportunities),
		thresholds:    cloneMap(st.thresholds),
		workflows:     cloneMap(st.workflows),
		schedules:     cloneMap(st.schedules),
		sheets:        cloneMap(st.sheets),
		events:        append([]domain.EventRecord(nil), st.events...),
	}
}

func oppKey(clientID, productID string) string { return clientID + "\x00" + productID }
func thrKey(clientID string, kpi domain.KPIID) string {
	return clientID + "\x00" + string(kpi)
}
func sheetKey(clientID, sheet string) string { return clientID + "\x00" + sheet }
func attKey(employeeID string, date time.Time, shiftID string) string {
	return employeeID + "\x00" + date.Format("2006-01-02") + "\x00" + shiftID
}

// put inserts a row by concrete type; used by Seed. Fixtures may pass rows
// by pointer or by value.
func (st *memState) put(row any) {
	if v := reflect.ValueOf(row); v.Kind() == reflect.Pointer && !v.IsNil() {
		row = v.Elem().Interface()
	}
	switch r := row.(type) {
	case domain.Client:
		st.clients[r.ClientID] = r
	case domain.User:
		st.users[r.UserID] = r
	case domain.Product:
		st.products[r.ProductID] = r
	case domain.Shift:
		st.shifts[r.ShiftID] = r
	case domain.Employee:
		st.employees[r.EmployeeID] = r
	case domain.EmployeeAssignment:
		st.assignments[r.AssignmentID] = r
	case domain.WorkOrder:
		if r.Version == 0 {
			r.Version = 1
		}
		st.workOrders[r.WorkOrderID] = r
	case domain.ProductionEntry:
		st.production[r.EntryID] = r
	case domain.DowntimeEntry:
		st.downtime[r.EntryID] = r
	case domain.HoldEntry:
		if r.Version == 0 {
			r.Version = 1
		}
		st.holds[r.HoldID] = r
	case domain.AttendanceEntry:
		st.attendance[r.EntryID] = r
	case domain.QualityEntry:
		st.quality[r.EntryID] = r
	case domain.PartOpportunities:
		st.opportunities[oppKey(r.ClientID, r.ProductID)] = r
	case domain.KPIThreshold:
		st.thresholds[thrKey(r.ClientID, r.KPI)] = r
	case domain.WorkflowConfig:
		st.workflows[r.ClientID] = r
	case domain.ReportSchedule:
		st.schedules[r.ScheduleID] = r
	case domain.WorkbookSheet:
		if r.Version == 0 {
			r.Version = 1
		}
		st.sheets[sheetKey(r.ClientID, r.Sheet)] = r
	default:
		panic("memory store: unknown row type in Seed")
	}
}

// memOp is one replayable mutation. It runs twice: against the unit of
// work's view when issued, and against a clone of the committed state at
// commit time.
type memOp func(st *memState) error

type memUoW struct {
	store  *MemoryStore
	tc     tenant.Context
	view   *memState
	ops    []memOp
	staged []domain.Event
	done   bool
}

func (u *memUoW) Tenant() tenant.Context { return u.tc }

func (u *memUoW) Collect(ev domain.Event) { u.staged = append(u.staged, ev) }

func (u *memUoW) StagedEvents() []domain.Event {
	out := make([]domain.Event, len(u.staged))
	copy(out, u.staged)
	return out
}

// apply validates an op against the view and records it for commit.
func (u *memUoW) apply(op memOp) error {
	if err := op(u.view); err != nil {
		return err
	}
	u.ops = append(u.ops, op)
	return nil
}

func (u *memUoW) Commit(ctx context.Context) ([]domain.Event, error) {
	if u.done {
		return nil, domain.Internal(nil, "unit of work already finished")
	}
	u.done = true

	u.store.mu.Lock()
	next := u.store.state.clone()
	for _, op := range u.ops {
		if err := op(next); err != nil {
			u.store.mu.Unlock()
			return nil, err
		}
	}
	for _, ev := range u.staged {
		payload, err := marshalPayload(ev.Payload)
		if err != nil {
			u.store.mu.Unlock()
			return nil, domain.Internal(err, "event payload not serializable")
		}
		next.events = append(next.events, ev.Record(payload))
	}
	u.store.state = next
	u.store.mu.Unlock()

	events := u.StagedEvents()
	if u.store.flusher != nil && len(events) > 0 {
		u.store.flusher.FlushSync(ctx, events)
	}
	return events, nil
}

func (u *memUoW) Rollback() error {
	u.done = true
	u.ops = nil
	u.staged = nil
	return nil
}

func (u *memUoW) Clients() ClientRepository       { return &memClients{u} }
func (u *memUoW) Users() UserRepository           { return &memUsers{u} }
func (u *memUoW) Products() ProductRepository     { return &memProducts{u} }
func (u *memUoW) Shifts() ShiftRepository         { return &memShifts{u} }
func (u *memUoW) Employees() EmployeeRepository   { return &memEmployees{u} }
func (u *memUoW) WorkOrders() WorkOrderRepository { return &memWorkOrders{u} }
func (u *memUoW) Production() ProductionRepository {
	return &memProduction{u}
}
func (u *memUoW) Downtime() DowntimeRepository     { return &memDowntime{u} }
func (u *memUoW) Holds() HoldRepository            { return &memHolds{u} }
func (u *memUoW) Attendance() AttendanceRepository { return &memAttendance{u} }
func (u *memUoW) Quality() QualityRepository       { return &memQuality{u} }
func (u *memUoW) Opportunities() OpportunitiesRepository {
	return &memOpportunities{u}
}
func (u *memUoW) Thresholds() ThresholdRepository { return &memThresholds{u} }
func (u *memUoW) WorkflowConfigs() WorkflowConfigRepository {
	return &memWorkflows{u}
}
func (u *memUoW) Schedules() ScheduleRepository { return &memSchedules{u} }
func (u *memUoW) Workbooks() WorkbookRepository { return &memWorkbooks{u} }

type memClients struct{ u *memUoW }

func (r *memClients) Get(_ context.Context, clientID string) (*domain.Client, error) {
	if !r.u.tc.CanRead(clientID) {
		return nil, domain.NotFound("client", clientID)
	}
	c, ok := r.u.view.clients[clientID]
	if !ok {
		return nil, domain.NotFound("client", clientID)
	}
	return &c, nil
}

func (r *memClients) List(_ context.Context) ([]*domain.Client, error) {
	var out []*domain.Client
	for _, c := range r.u.view.clients {
		if r.u.tc.CanRead(c.ClientID) {
			c := c
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ClientID < out[j].ClientID })
	return out, nil
}

func (r *memClients) Create(_ context.Context, c *domain.Client) error {
	if c.ClientID == "" {
		c.ClientID = uuid.NewString()
	}
	row := *c
	return r.u.apply(func(st *memState) error {
		if _, exists := st.clients[row.ClientID]; exists {
			return domain.Conflict("client_id", "client already exists")
		}
		st.clients[row.ClientID] = row
		return nil
	})
}

func (r *memClients) Update(_ context.Context, c *domain.Client) error {
	if err := r.u.tc.CheckWrite(c.ClientID); err != nil {
		return err
	}
	row := *c
	return r.u.apply(func(st *memState) error {
		cur, ok := st.clients[row.ClientID]
		if !ok {
			return domain.NotFound("client", row.ClientID)
		}
		cur.DisplayName = row.DisplayName
		cur.Timezone = row.Timezone
		cur.Active = row.Active
		cur.AllowOverPerformance = row.AllowOverPerformance
		st.clients[row.ClientID] = cur
		return nil
	})
}

// Delete deactivates; tenants anchor every scoped table.
func (r *memClients) Delete(_ context.Context, clientID string) error {
	return r.u.apply(func(st *memState) error {
		cur, ok := st.clients[clientID]
		if !ok {
			return domain.NotFound("client", clientID)
		}
		cur.Active = false
		st.clients[clientID] = cur
		return nil
	})
}

type memUsers struct{ u *memUoW }

func (r *memUsers) Get(_ context.Context, userID string) (*domain.User, error) {
	u, ok := r.u.view.users[userID]
	if !ok {
		return nil, domain.NotFound("user", userID)
	}
	out := u
	out.AssignedClientIDs = append([]string(nil), u.AssignedClientIDs...)
	return &out, nil
}

func (r *memUsers) Create(_ context.Context, usr *domain.User) error {
	if usr.UserID == "" {
		usr.UserID = uuid.NewString()
	}
	row := *usr
	row.AssignedClientIDs = append([]string(nil), usr.AssignedClientIDs...)
	return r.u.apply(func(st *memState) error {
		for _, existing := range st.users {
			if existing.Username == row.Username && existing.UserID != row.UserID {
				return domain.Conflict("username", "username already taken")
			}
		}
		st.users[row.UserID] = row
		return nil
	})
}

func (r *memUsers) Update(_ context.Context, usr *domain.User) error {
	row := *usr
	row.AssignedClientIDs = append([]string(nil), usr.AssignedClientIDs...)
	return r.u.apply(func(st *memState) error {
		cur, ok := st.users[row.UserID]
		if !ok {
			return domain.NotFound("user", row.UserID)
		}
		cur.DisplayName = row.DisplayName
		cur.PasswordHash = row.PasswordHash
		cur.Role = row.Role
		cur.Active = row.Active
		cur.AssignedClientIDs = row.AssignedClientIDs
		st.users[row.UserID] = cur
		return nil
	})
}

type memProducts struct{ u *memUoW }

func (r *memProducts) Get(_ context.Context, productID string) (*domain.Product, error) {
	p, ok := r.u.view.products[productID]
	if !ok || !r.u.tc.CanRead(p.ClientID) {
		return nil, domain.NotFound("product", productID)
	}
	return &p, nil
}

func (r *memProducts) GetByCode(_ context.Context, code string) (*domain.Product, error) {
	for _, p := range r.u.view.products {
		if p.Code == code && r.u.tc.CanRead(p.ClientID) {
			p := p
			return &p, nil
		}
	}
	return nil, domain.NotFound("product", code)
}

func (r *memProducts) List(_ context.Context) ([]*domain.Product, error) {
	var out []*domain.Product
	for _, p := range r.u.view.products {
		if r.u.tc.CanRead(p.ClientID) {
			p := p
			out = append(out, &p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Code != out[j].Code {
			return out[i].Code < out[j].Code
		}
		return out[i].ProductID < out[j].ProductID
	})
	return out, nil
}

func (r *memProducts) Create(_ context.Context, p *domain.Product) error {
	if err := stampClient(r.u.tc, &p.ClientID); err != nil {
		return err
	}
	if p.ProductID == "" {
		p.ProductID = uuid.NewString()
	}
	row := *p
	return r.u.apply(func(st *memState) error {
		for _, existing := range st.products {
			if existing.ClientID == row.ClientID && existing.Code == row.Code &&
				existing.ProductID != row.ProductID {
				return domain.Conflict("uq_product_code", "product code already exists for client")
			}
		}
		st.products[row.ProductID] = row
		return nil
	})
}

func (r *memProducts) Update(_ context.Context, p *domain.Product) error {
	if err := r.u.tc.CheckWrite(p.ClientID); err != nil {
		return err
	}
	row := *p
	return r.u.apply(func(st *memState) error {
		cur, ok := st.products[row.ProductID]
		if !ok || cur.ClientID != row.ClientID {
			return domain.NotFound("product", row.ProductID)
		}
		cur.Description = row.Description
		cur.IdealCycleTimeMinutes = row.IdealCycleTimeMinutes
		cur.Active = row.Active
		st.products[row.ProductID] = cur
		return nil
	})
}

type memShifts struct{ u *memUoW }

func (r *memShifts) Get(_ context.Context, shiftID string) (*domain.Shift, error) {
	s, ok := r.u.view.shifts[shiftID]
	if !ok || !r.u.tc.CanRead(s.ClientID) {
		return nil, domain.NotFound("shift", shiftID)
	}
	return &s, nil
}

func (r *memShifts) List(_ context.Context) ([]*domain.Shift, error) {
	var out []*domain.Shift
	for _, s := range r.u.view.shifts {
		if r.u.tc.CanRead(s.ClientID) {
			s := s
			out = append(out, &s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ShiftID < out[j].ShiftID })
	return out, nil
}

func (r *memShifts) Create(_ context.Context, s *domain.Shift) error {
	if err := stampClient(r.u.tc, &s.ClientID); err != nil {
		return err
	}
	if s.ShiftID == "" {
		s.ShiftID = uuid.NewString()
	}
	row := *s
	return r.u.apply(func(st *memState) error {
		st.shifts[row.ShiftID] = row
		return nil
	})
}

type memEmployees struct{ u *memUoW }

// canSeeEmployee mirrors the widened floating-pool scope of the gorm store.
func (r *memEmployees) canSeeEmployee(st *memState, e domain.Employee) bool {
	if e.ClientID != nil && r.u.tc.CanRead(*e.ClientID) {
		return true
	}
	if !e.IsFloatingPool {
		return false
	}
	for _, a := range st.assignments {
		if a.EmployeeID == e.EmployeeID && r.u.tc.CanRead(a.ClientID) {
			return true
		}
	}
	_, all := r.u.tc.Scope()
	return all
}

func (r *memEmployees) Get(_ context.Context, employeeID string) (*domain.Employee, error) {
	e, ok := r.u.view.employees[employeeID]
	if !ok || !r.canSeeEmployee(r.u.view, e) {
		return nil, domain.NotFound("employee", employeeID)
	}
	return &e, nil
}

func (r *memEmployees) GetByCode(_ context.Context, code string) (*domain.Employee, error) {
	var found []domain.Employee
	for _, e := range r.u.view.employees {
		if e.Code == code && r.canSeeEmployee(r.u.view, e) {
			found = append(found, e)
		}
	}
	if len(found) == 0 {
		return nil, domain.NotFound("employee", code)
	}
	sort.Slice(found, func(i, j int) bool { return found[i].EmployeeID < found[j].EmployeeID })
	return &found[0], nil
}

func (r *memEmployees) List(_ context.Context) ([]*domain.Employee, error) {
	var out []*domain.Employee
	for _, e := range r.u.view.employees {
		if r.canSeeEmployee(r.u.view, e) {
			e := e
			out = append(out, &e)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Code != out[j].Code {
			return out[i].Code < out[j].Code
		}
		return out[i].EmployeeID < out[j].EmployeeID
	})
	return out, nil
}

func (r *memEmployees) Create(_ context.Context, e *domain.Employee) error {
	if e.IsFloatingPool {
		e.ClientID = nil
	} else {
		var id string
		if e.ClientID != nil {
			id = *e.ClientID
		}
		if err := stampClient(r.u.tc, &id); err != nil {
			return err
		}
		e.ClientID = &id
	}
	if e.EmployeeID == "" {
		e.EmployeeID = uuid.NewString()
	}
	row := *e
	return r.u.apply(func(st *memState) error {
		st.employees[row.EmployeeID] = row
		return nil
	})
}

func (r *memEmployees) Assign(_ context.Context, a *domain.EmployeeAssignment) error {
	if err := stampClient(r.u.tc, &a.ClientID); err != nil {
		return err
	}
	if a.AssignmentID == "" {
		a.AssignmentID = uuid.NewString()
	}
	row := *a
	return r.u.apply(func(st *memState) error {
		st.assignments[row.AssignmentID] = row
		return nil
	})
}

func (r *memEmployees) AssignmentsFor(_ context.Context, employeeID string) ([]*domain.EmployeeAssignment, error) {
	var out []*domain.EmployeeAssignment
	for _, a := range r.u.view.assignments {
		if a.EmployeeID == employeeID && r.u.tc.CanRead(a.ClientID) {
			a := a
			out = append(out, &a)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].FromDate.Equal(out[j].FromDate) {
			return out[i].FromDate.Before(out[j].FromDate)
		}
		return out[i].AssignmentID < out[j].AssignmentID
	})
	return out, nil
}

type memWorkOrders struct{ u *memUoW }

func (r *memWorkOrders) Get(_ context.Context, workOrderID string) (*domain.WorkOrder, error) {
	wo, ok := r.u.view.workOrders[workOrderID]
	if !ok || !r.u.tc.CanRead(wo.ClientID) {
		return nil, domain.NotFound("work_order", workOrderID)
	}
	return &wo, nil
}

func (r *memWorkOrders) List(_ context.Context, f WorkOrderFilter) ([]*domain.WorkOrder, error) {
	var out []*domain.WorkOrder
	for _, wo := range r.u.view.workOrders {
		if !r.u.tc.CanRead(wo.ClientID) {
			continue
		}
		if len(f.Statuses) > 0 && !containsStatus(f.Statuses, wo.Status) {
			continue
		}
		if f.StyleCode != "" && wo.StyleCode != f.StyleCode {
			continue
		}
		if f.OpenOnly && containsStatus(terminalStatuses, wo.Status) {
			continue
		}
		if f.Delivered {
			if wo.ActualDeliveryDate == nil || !f.Range.Contains(*wo.ActualDeliveryDate) {
				continue
			}
		} else if !f.Range.Contains(wo.CreatedAt) {
			continue
		}
		wo := wo
		out = append(out, &wo)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].WorkOrderID < out[j].WorkOrderID
	})
	return out, nil
}

func containsStatus(set []domain.WorkOrderStatus, s domain.WorkOrderStatus) bool {
	for _, v := range set {
		if v == s {
			return true
		}
	}
	return false
}

func (r *memWorkOrders) Create(_ context.Context, wo *domain.WorkOrder) error {
	if err := stampClient(r.u.tc, &wo.ClientID); err != nil {
		return err
	}
	if wo.WorkOrderID == "" {
		wo.WorkOrderID = uuid.NewString()
	}
	if wo.Status == "" {
		wo.Status = domain.StatusReceived
	}
	if wo.Version == 0 {
		wo.Version = 1
	}
	row := *wo
	return r.u.apply(func(st *memState) error {
		if _, exists := st.workOrders[row.WorkOrderID]; exists {
			return domain.Conflict("work_order_id", "work order already exists")
		}
		st.workOrders[row.WorkOrderID] = row
		return nil
	})
}

func (r *memWorkOrders) Update(_ context.Context, wo *domain.WorkOrder) error {
	if err := r.u.tc.CheckWrite(wo.ClientID); err != nil {
		return err
	}
	prev := wo.Version
	wo.Version = prev + 1
	row := *wo
	err := r.u.apply(func(st *memState) error {
		cur, ok := st.workOrders[row.WorkOrderID]
		if !ok || cur.ClientID != row.ClientID {
			return domain.NotFound("work_order", row.WorkOrderID)
		}
		if cur.Version != prev {
			return domain.Stale("work order was modified concurrently")
		}
		st.workOrders[row.WorkOrderID] = row
		return nil
	})
	if err != nil {
		wo.Version = prev
	}
	return err
}

func (r *memWorkOrders) Delete(_ context.Context, workOrderID string) error {
	wo, err := r.Get(context.Background(), workOrderID)
	if err != nil {
		return err
	}
	if err := r.u.tc.CheckWrite(wo.ClientID); err != nil {
		return err
	}
	return r.u.apply(func(st *memState) error {
		for _, e := range st.production {
			if e.WorkOrderID != nil && *e.WorkOrderID == workOrderID {
				return domain.DependentRows("work order has production rows")
			}
		}
		for _, e := range st.quality {
			if e.WorkOrderID == workOrderID {
				return domain.DependentRows("work order has quality rows")
			}
		}
		for _, h := range st.holds {
			if h.WorkOrderID == workOrderID {
				return domain.DependentRows("work order has hold rows")
			}
		}
		delete(st.workOrders, workOrderID)
		return nil
	})
}

type memProduction struct{ u *memUoW }

func (r *memProduction) Get(_ context.Context, entryID string) (*domain.ProductionEntry, error) {
	e, ok := r.u.view.production[entryID]
	if !ok || !r.u.tc.CanRead(e.ClientID) {
		return nil, domain.NotFound("production_entry", entryID)
	}
	return &e, nil
}

func (r *memProduction) List(_ context.Context, f ProductionFilter) ([]*domain.ProductionEntry, error) {
	var out []*domain.ProductionEntry
	for _, e := range r.u.view.production {
		if !r.u.tc.CanRead(e.ClientID) || !f.Range.Contains(e.ProductionDate) {
			continue
		}
		if f.ProductID != "" && e.ProductID != f.ProductID {
			continue
		}
		if f.WorkOrderID != "" && (e.WorkOrderID == nil || *e.WorkOrderID != f.WorkOrderID) {
			continue
		}
		if f.ShiftID != "" && e.ShiftID != f.ShiftID {
			continue
		}
		e := e
		out = append(out, &e)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].ProductionDate.Equal(out[j].ProductionDate) {
			return out[i].ProductionDate.After(out[j].ProductionDate)
		}
		return out[i].EntryID < out[j].EntryID
	})
	return out, nil
}

func (r *memProduction) Create(_ context.Context, e *domain.ProductionEntry) error {
	if err := stampClient(r.u.tc, &e.ClientID); err != nil {
		return err
	}
	if e.EntryID == "" {
		e.EntryID = uuid.NewString()
	}
	row := *e
	return r.u.apply(func(st *memState) error {
		st.production[row.EntryID] = row
		return nil
	})
}

type memDowntime struct{ u *memUoW }

func (r *memDowntime) Get(_ context.Context, entryID string) (*domain.DowntimeEntry, error) {
	e, ok := r.u.view.downtime[entryID]
	if !ok || !r.u.tc.CanRead(e.ClientID) {
		return nil, domain.NotFound("downtime_entry", entryID)
	}
	return &e, nil
}

func (r *memDowntime) List(_ context.Context, f DowntimeFilter) ([]*domain.DowntimeEntry, error) {
	var out []*domain.DowntimeEntry
	for _, e := range r.u.view.downtime {
		if !r.u.tc.CanRead(e.ClientID) || !f.Range.Contains(e.StartAt) {
			continue
		}
		if f.EquipmentID != "" && e.EquipmentID != f.EquipmentID {
			continue
		}
		if f.Category != "" && e.Category != f.Category {
			continue
		}
		if f.OpenOnly && e.EndAt != nil {
			continue
		}
		e := e
		out = append(out, &e)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartAt.Equal(out[j].StartAt) {
			return out[i].StartAt.After(out[j].StartAt)
		}
		return out[i].EntryID < out[j].EntryID
	})
	return out, nil
}

func (r *memDowntime) Open(_ context.Context, equipmentID string) (*domain.DowntimeEntry, error) {
	for _, e := range r.u.view.downtime {
		if e.EquipmentID == equipmentID && e.EndAt == nil && r.u.tc.CanRead(e.ClientID) {
			e := e
			return &e, nil
		}
	}
	return nil, nil
}

func (r *memDowntime) Create(_ context.Context, e *domain.DowntimeEntry) error {
	if err := stampClient(r.u.tc, &e.ClientID); err != nil {
		return err
	}
	if e.EntryID == "" {
		e.EntryID = uuid.NewString()
	}
	row := *e
	return r.u.apply(func(st *memState) error {
		st.downtime[row.EntryID] = row
		return nil
	})
}

func (r *memDowntime) Update(_ context.Context, e *domain.DowntimeEntry) error {
	if err := r.u.tc.CheckWrite(e.ClientID); err != nil {
		return err
	}
	row := *e
	return r.u.apply(func(st *memState) error {
		cur, ok := st.downtime[row.EntryID]
		if !ok || cur.ClientID != row.ClientID {
			return domain.NotFound("downtime_entry", row.EntryID)
		}
		cur.ReasonCode = row.ReasonCode
		cur.Category = row.Category
		cur.EndAt = row.EndAt
		cur.DurationMinutes = row.DurationMinutes
		st.downtime[row.EntryID] = cur
		return nil
	})
}

type memHolds struct{ u *memUoW }

func (r *memHolds) Get(_ context.Context, holdID string) (*domain.HoldEntry, error) {
	h, ok := r.u.view.holds[holdID]
	if !ok || !r.u.tc.CanRead(h.ClientID) {
		return nil, domain.NotFound("hold", holdID)
	}
	return &h, nil
}

func (r *memHolds) List(_ context.Context, f HoldFilter) ([]*domain.HoldEntry, error) {
	var out []*domain.HoldEntry
	for _, h := range r.u.view.holds {
		if !r.u.tc.CanRead(h.ClientID) || !f.Range.Contains(h.InitiatedAt) {
			continue
		}
		if f.WorkOrderID != "" && h.WorkOrderID != f.WorkOrderID {
			continue
		}
		if f.ActiveOnly && h.ResumedAt != nil {
			continue
		}
		h := h
		out = append(out, &h)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].InitiatedAt.Equal(out[j].InitiatedAt) {
			return out[i].InitiatedAt.After(out[j].InitiatedAt)
		}
		return out[i].HoldID < out[j].HoldID
	})
	return out, nil
}

func (r *memHolds) ActiveForWorkOrder(ctx context.Context, workOrderID string) ([]*domain.HoldEntry, error) {
	return r.List(ctx, HoldFilter{WorkOrderID: workOrderID, ActiveOnly: true})
}

func (r *memHolds) Create(_ context.Context, h *domain.HoldEntry) error {
	if err := stampClient(r.u.tc, &h.ClientID); err != nil {
		return err
	}
	if h.HoldID == "" {
		h.HoldID = uuid.NewString()
	}
	if h.Version == 0 {
		h.Version = 1
	}
	row := *h
	return r.u.apply(func(st *memState) error {
		st.holds[row.HoldID] = row
		return nil
	})
}

func (r *memHolds) Update(_ context.Context, h *domain.HoldEntry) error {
	if err := r.u.tc.CheckWrite(h.ClientID); err != nil {
		return err
	}
	prev := h.Version
	h.Version = prev + 1
	row := *h
	err := r.u.apply(func(st *memState) error {
		cur, ok := st.holds[row.HoldID]
		if !ok || cur.ClientID != row.ClientID {
			return domain.NotFound("hold", row.HoldID)
		}
		if cur.ResumedAt != nil {
			return domain.Conflict("hold_resumed", "hold was already resumed")
		}
		if cur.Version != prev {
			return domain.Stale("hold was modified concurrently")
		}
		cur.ResumedAt = row.ResumedAt
		cur.Disposition = row.Disposition
		cur.ReleasedQuantity = row.ReleasedQuantity
		cur.ApprovedBy = row.ApprovedBy
		cur.Notes = row.Notes
		cur.Version = row.Version
		st.holds[row.HoldID] = cur
		return nil
	})
	if err != nil {
		h.Version = prev
	}
	return err
}

type memAttendance struct{ u *memUoW }

func (r *memAttendance) List(_ context.Context, f AttendanceFilter) ([]*domain.AttendanceEntry, error) {
	var out []*domain.AttendanceEntry
	for _, e := range r.u.view.attendance {
		if !r.u.tc.CanRead(e.ClientID) || !f.Range.Contains(e.AttendanceDate) {
			continue
		}
		if f.EmployeeID != "" && e.EmployeeID != f.EmployeeID {
			continue
		}
		if f.ShiftID != "" && e.ShiftID != f.ShiftID {
			continue
		}
		e := e
		out = append(out, &e)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].AttendanceDate.Equal(out[j].AttendanceDate) {
			return out[i].AttendanceDate.After(out[j].AttendanceDate)
		}
		return out[i].EntryID < out[j].EntryID
	})
	return out, nil
}

func (r *memAttendance) Create(_ context.Context, e *domain.AttendanceEntry) error {
	if err := stampClient(r.u.tc, &e.ClientID); err != nil {
		return err
	}
	if e.EntryID == "" {
		e.EntryID = uuid.NewString()
	}
	row := *e
	key := attKey(row.EmployeeID, row.AttendanceDate, row.ShiftID)
	return r.u.apply(func(st *memState) error {
		for _, existing := range st.attendance {
			if attKey(existing.EmployeeID, existing.AttendanceDate, existing.ShiftID) == key &&
				existing.EntryID != row.EntryID {
				return domain.Conflict("uq_attendance", "attendance entry already exists for employee, date and shift")
			}
		}
		st.attendance[row.EntryID] = row
		return nil
	})
}

type memQuality struct{ u *memUoW }

func (r *memQuality) List(_ context.Context, f QualityFilter) ([]*domain.QualityEntry, error) {
	var out []*domain.QualityEntry
	for _, e := range r.u.view.quality {
		if !r.u.tc.CanRead(e.ClientID) || !f.Range.Contains(e.InspectedAt) {
			continue
		}
		if f.WorkOrderID != "" && e.WorkOrderID != f.WorkOrderID {
			continue
		}
		if f.ProductID != "" && e.ProductID != f.ProductID {
			continue
		}
		if f.Stage != "" && e.InspectionStage != f.Stage {
			continue
		}
		e := e
		out = append(out, &e)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].InspectedAt.Equal(out[j].InspectedAt) {
			return out[i].InspectedAt.After(out[j].InspectedAt)
		}
		return out[i].EntryID < out[j].EntryID
	})
	return out, nil
}

func (r *memQuality) Create(_ context.Context, e *domain.QualityEntry) error {
	if err := stampClient(r.u.tc, &e.ClientID); err != nil {
		return err
	}
	if e.EntryID == "" {
		e.EntryID = uuid.NewString()
	}
	row := *e
	return r.u.apply(func(st *memState) error {
		st.quality[row.EntryID] = row
		return nil
	})
}

type memOpportunities struct{ u *memUoW }

func (r *memOpportunities) Get(_ context.Context, productID string) (*domain.PartOpportunities, error) {
	for _, po := range r.u.view.opportunities {
		if po.ProductID == productID && r.u.tc.CanRead(po.ClientID) {
			po := po
			return &po, nil
		}
	}
	return nil, domain.NotFound("part_opportunities", productID)
}

func (r *memOpportunities) Upsert(_ context.Context, po *domain.PartOpportunities) error {
	if err := stampClient(r.u.tc, &po.ClientID); err != nil {
		return err
	}
	row := *po
	return r.u.apply(func(st *memState) error {
		st.opportunities[oppKey(row.ClientID, row.ProductID)] = row
		return nil
	})
}

type memThresholds struct{ u *memUoW }

func (r *memThresholds) List(_ context.Context) ([]*domain.KPIThreshold, error) {
	var out []*domain.KPIThreshold
	for _, t := range r.u.view.thresholds {
		if r.u.tc.CanRead(t.ClientID) {
			t := t
			out = append(out, &t)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ClientID != out[j].ClientID {
			return out[i].ClientID < out[j].ClientID
		}
		return out[i].KPI < out[j].KPI
	})
	return out, nil
}

func (r *memThresholds) Upsert(_ context.Context, t *domain.KPIThreshold) error {
	if err := stampClient(r.u.tc, &t.ClientID); err != nil {
		return err
	}
	row := *t
	return r.u.apply(func(st *memState) error {
		st.thresholds[thrKey(row.ClientID, row.KPI)] = row
		return nil
	})
}

type memWorkflows struct{ u *memUoW }

func (r *memWorkflows) Get(_ context.Context) (*domain.WorkflowConfig, error) {
	client, err := r.u.tc.WriteClient()
	if err != nil {
		return nil, err
	}
	cfg, ok := r.u.view.workflows[client]
	if !ok {
		return nil, domain.NotFound("workflow_config", client)
	}
	return &cfg, nil
}

func (r *memWorkflows) Save(_ context.Context, cfg *domain.WorkflowConfig) error {
	if err := stampClient(r.u.tc, &cfg.ClientID); err != nil {
		return err
	}
	row := *cfg
	return r.u.apply(func(st *memState) error {
		st.workflows[row.ClientID] = row
		return nil
	})
}

type memSchedules struct{ u *memUoW }

func (r *memSchedules) Get(_ context.Context, scheduleID string) (*domain.ReportSchedule, error) {
	s, ok := r.u.view.schedules[scheduleID]
	if !ok || !r.u.tc.CanRead(s.ClientID) {
		return nil, domain.NotFound("report_schedule", scheduleID)
	}
	return &s, nil
}

func (r *memSchedules) ListActive(_ context.Context) ([]*domain.ReportSchedule, error) {
	var out []*domain.ReportSchedule
	for _, s := range r.u.view.schedules {
		if s.Active && r.u.tc.CanRead(s.ClientID) {
			s := s
			out = append(out, &s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ScheduleID < out[j].ScheduleID })
	return out, nil
}

func (r *memSchedules) Save(_ context.Context, s *domain.ReportSchedule) error {
	if err := stampClient(r.u.tc, &s.ClientID); err != nil {
		return err
	}
	if s.ScheduleID == "" {
		s.ScheduleID = uuid.NewString()
	}
	row := *s
	return r.u.apply(func(st *memState) error {
		st.schedules[row.ScheduleID] = row
		return nil
	})
}

func (r *memSchedules) Touch(_ context.Context, scheduleID string, ranAt time.Time) error {
	return r.u.apply(func(st *memState) error {
		cur, ok := st.schedules[scheduleID]
		if !ok || !r.u.tc.CanRead(cur.ClientID) {
			return domain.NotFound("report_schedule", scheduleID)
		}
		t := ranAt
		cur.LastRunAt = &t
		st.schedules[scheduleID] = cur
		return nil
	})
}

type memWorkbooks struct{ u *memUoW }

func (r *memWorkbooks) GetSheet(_ context.Context, sheet string) (*domain.WorkbookSheet, error) {
	client, err := r.u.tc.WriteClient()
	if err != nil {
		return nil, err
	}
	s, ok := r.u.view.sheets[sheetKey(client, sheet)]
	if !ok {
		return nil, domain.NotFound("worksheet", sheet)
	}
	return &s, nil
}

func (r *memWorkbooks) ListSheets(_ context.Context) ([]*domain.WorkbookSheet, error) {
	client, err := r.u.tc.WriteClient()
	if err != nil {
		return nil, err
	}
	var out []*domain.WorkbookSheet
	for key, s := range r.u.view.sheets {
		if strings.HasPrefix(key, client+"\x00") {
			s := s
			out = append(out, &s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Sheet < out[j].Sheet })
	return out, nil
}

func (r *memWorkbooks) SaveSheet(_ context.Context, s *domain.WorkbookSheet, expectedVersion int) error {
	if err := stampClient(r.u.tc, &s.ClientID); err != nil {
		return err
	}
	if expectedVersion == 0 {
		s.Version = 1
	} else {
		s.Version = expectedVersion + 1
	}
	s.UpdatedAt = nowUTC()
	row := *s
	row.Rows = append([]byte(nil), s.Rows...)
	err := r.u.apply(func(st *memState) error {
		key := sheetKey(row.ClientID, row.Sheet)
		cur, exists := st.sheets[key]
		if expectedVersion == 0 {
			if exists {
				return domain.Conflict("sheet", "worksheet already exists")
			}
			st.sheets[key] = row
			return nil
		}
		if !exists {
			return domain.NotFound("worksheet", row.Sheet)
		}
		if cur.Version != expectedVersion {
			return domain.Stale("worksheet was modified since the snapshot was loaded")
		}
		st.sheets[key] = row
		return nil
	})
	if err != nil {
		s.Version = expectedVersion
	}
	return err
}
