package capacity

import (
	"bytes"
	"context"
	"errors"

	"github.com/ccmanuelf/kpi-operations-sub013/db/bolt"
	"github.com/ccmanuelf/kpi-operations-sub013/db/repository"
	"github.com/ccmanuelf/kpi-operations-sub013/domain"
	"github.com/ccmanuelf/kpi-operations-sub013/tenant"
)

// DefaultHistoryLimit bounds the undo stack when no limit is configured.
const DefaultHistoryLimit = 50

// DraftStore persists uncommitted sessions across restarts. Implemented by
// bolt.SessionStore; a nil store keeps drafts in memory only.
type DraftStore interface {
	Put(clientID, sessionID string, value any) error
	Get(clientID, sessionID string, value any) error
	Delete(clientID, sessionID string) error
}

// Manager opens and saves workbook sessions for tenants.
type Manager struct {
	store  repository.Store
	drafts DraftStore
	limit  int
}

// NewManager wires a session manager. drafts may be nil; limit <= 0 takes
// DefaultHistoryLimit.
func NewManager(store repository.Store, drafts DraftStore, limit int) *Manager {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	return &Manager{store: store, drafts: drafts, limit: limit}
}

// Session is one editing session over a tenant's workbook. Mutations stay
// local (and in the draft store) until Save commits the dirty sheets.
type Session struct {
	mgr       *Manager
	clientID  string
	sessionID string

	wb       *Workbook
	baseline *Workbook
	undo     []*Workbook
	redo     []*Workbook
}

// sessionState is the draft-store wire form of a session.
type sessionState struct {
	Workbook *Workbook   `json:"workbook"`
	Baseline *Workbook   `json:"baseline"`
	Undo     []*Workbook `json:"undo,omitempty"`
	Redo     []*Workbook `json:"redo,omitempty"`
}

// Open resumes a persisted draft when one exists, otherwise loads the
// tenant's committed workbook from the store.
func (m *Manager) Open(ctx context.Context, tc tenant.Context, sessionID string) (*Session, error) {
	clientID, err := tc.WriteClient()
	if err != nil {
		return nil, err
	}
	s := &Session{mgr: m, clientID: clientID, sessionID: sessionID}

	if m.drafts != nil {
		var st sessionState
		err := m.drafts.Get(clientID, sessionID, &st)
		switch {
		case err == nil:
			s.wb, s.baseline, s.undo, s.redo = st.Workbook, st.Baseline, st.Undo, st.Redo
			if s.wb == nil {
				s.wb = &Workbook{}
			}
			if s.wb.Versions == nil {
				s.wb.Versions = map[string]int{}
			}
			if s.baseline == nil {
				s.baseline = s.wb.Clone()
			}
			return s, nil
		case !errors.Is(err, bolt.ErrSessionNotFound):
			return nil, domain.Infra(err, "failed to read draft session")
		}
	}

	wb, err := m.loadWorkbook(ctx, tc)
	if err != nil {
		return nil, err
	}
	s.wb = wb
	s.baseline = wb.Clone()
	return s, s.persist()
}

// loadWorkbook reads the persisted sheets into a typed workbook.
func (m *Manager) loadWorkbook(ctx context.Context, tc tenant.Context) (*Workbook, error) {
	uow, err := m.store.Begin(ctx, tc)
	if err != nil {
		return nil, err
	}
	defer uow.Rollback()

	sheets, err := uow.Workbooks().ListSheets(ctx)
	if err != nil {
		return nil, err
	}
	wb := &Workbook{Versions: map[string]int{}}
	for _, sheet := range sheets {
		if err := wb.unmarshalSheet(sheet.Sheet, sheet.Rows); err != nil {
			return nil, err
		}
		wb.Versions[sheet.Sheet] = sheet.Version
	}
	return wb, nil
}

// Workbook exposes the session's current state for reads and derived runs.
func (s *Session) Workbook() *Workbook { return s.wb }

// Mutate applies fn to a copy of the workbook. On success the previous state
// joins the undo stack (bounded) and the redo stack clears; on error the
// session is untouched.
func (s *Session) Mutate(fn func(*Workbook) error) error {
	next := s.wb.Clone()
	if err := fn(next); err != nil {
		return err
	}
	s.undo = append(s.undo, s.wb)
	if len(s.undo) > s.mgr.limit {
		s.undo = s.undo[len(s.undo)-s.mgr.limit:]
	}
	s.redo = nil
	s.wb = next
	return s.persist()
}

// Undo steps back one mutation. Returns false at the bottom of the stack.
func (s *Session) Undo() (bool, error) {
	if len(s.undo) == 0 {
		return false, nil
	}
	s.redo = append(s.redo, s.wb)
	s.wb = s.undo[len(s.undo)-1]
	s.undo = s.undo[:len(s.undo)-1]
	return true, s.persist()
}

// Redo reapplies the last undone mutation.
func (s *Session) Redo() (bool, error) {
	if len(s.redo) == 0 {
		return false, nil
	}
	s.undo = append(s.undo, s.wb)
	s.wb = s.redo[len(s.redo)-1]
	s.redo = s.redo[:len(s.redo)-1]
	return true, s.persist()
}

// DirtySheets lists the worksheets whose rows differ from the load baseline.
func (s *Session) DirtySheets() ([]string, error) {
	var out []string
	for _, name := range SheetNames() {
		cur, err := s.wb.marshalSheet(name)
		if err != nil {
			return nil, err
		}
		base, err := s.baseline.marshalSheet(name)
		if err != nil {
			return nil, err
		}
		if !bytes.Equal(cur, base) {
			out = append(out, name)
		}
	}
	return out, nil
}

// Save commits the dirty sheets through one unit of work. A clean session is
// a no-op. Each dirty sheet saves against the version it was loaded at, so a
// concurrent editor surfaces as STALE and nothing commits.
func (s *Session) Save(ctx context.Context, tc tenant.Context) error {
	dirty, err := s.DirtySheets()
	if err != nil {
		return err
	}
	if len(dirty) == 0 {
		return nil
	}

	uow, err := s.mgr.store.Begin(ctx, tc)
	if err != nil {
		return err
	}
	defer uow.Rollback()

	saved := map[string]int{}
	for _, name := range dirty {
		rows, err := s.wb.marshalSheet(name)
		if err != nil {
			return err
		}
		sheet := &domain.WorkbookSheet{Sheet: name, Rows: rows}
		if err := uow.Workbooks().SaveSheet(ctx, sheet, s.wb.Versions[name]); err != nil {
			return err
		}
		saved[name] = sheet.Version
	}
	if _, err := uow.Commit(ctx); err != nil {
		return err
	}

	for name, v := range saved {
		s.wb.Versions[name] = v
	}
	s.baseline = s.wb.Clone()
	return s.persist()
}

// Discard drops the draft; the next Open reloads the committed workbook.
func (s *Session) Discard() error {
	if s.mgr.drafts == nil {
		return nil
	}
	if err := s.mgr.drafts.Delete(s.clientID, s.sessionID); err != nil {
		return domain.Infra(err, "failed to delete draft session")
	}
	return nil
}

func (s *Session) persist() error {
	if s.mgr.drafts == nil {
		return nil
	}
	st := sessionState{Workbook: s.wb, Baseline: s.baseline, Undo: s.undo, Redo: s.redo}
	if err := s.mgr.drafts.Put(s.clientID, s.sessionID, st); err != nil {
		return domain.Infra(err, "failed to persist draft session")
	}
	return nil
}
