package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/ccmanuelf/kpi-operations-sub013/db/repository"
	"github.com/ccmanuelf/kpi-operations-sub013/domain"
	"github.com/ccmanuelf/kpi-operations-sub013/forecast"
	"github.com/ccmanuelf/kpi-operations-sub013/ingest"
	"github.com/ccmanuelf/kpi-operations-sub013/kpi"
	"github.com/ccmanuelf/kpi-operations-sub013/report"
	"github.com/ccmanuelf/kpi-operations-sub013/service"
	"github.com/ccmanuelf/kpi-operations-sub013/workflow"
)

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (s *Server) login(c echo.Context) error {
	var req loginRequest
	if err := c.Bind(&req); err != nil {
		return fail(c, domain.Validation("body", "request body is not valid JSON"))
	}
	res, err := s.svc.Login(c.Request().Context(), c.RealIP(), req.Username, req.Password)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, res)
}

func (s *Server) ingest(c echo.Context) error {
	a, err := actor(c)
	if err != nil {
		return err
	}
	dryRun, _ := strconv.ParseBool(c.QueryParam("dry_run"))
	kind := ingest.Kind(c.Param("kind"))

	receipt, summary, err := s.svc.Ingest(c.Request().Context(), a, clientID(c), kind, c.Request().Body, dryRun)
	if err != nil {
		// Validation failures still carry the row-level summary.
		if summary != nil {
			p := service.Translate(err)
			return c.JSON(statusFor(p.Code), map[string]any{
				"error":   p,
				"summary": summary,
			})
		}
		return fail(c, err)
	}
	if dryRun {
		return c.JSON(http.StatusOK, map[string]any{"summary": summary})
	}
	return c.JSON(http.StatusCreated, map[string]any{"receipt": receipt, "summary": summary})
}

func (s *Server) export(c echo.Context) error {
	a, err := actor(c)
	if err != nil {
		return err
	}
	out, err := s.svc.ExportCSV(c.Request().Context(), a, clientID(c), ingest.Kind(c.Param("kind")))
	if err != nil {
		return fail(c, err)
	}
	return c.Blob(http.StatusOK, "text/csv", out)
}

func (s *Server) queryKPI(c echo.Context) error {
	a, err := actor(c)
	if err != nil {
		return err
	}
	days := intParam(c, "window_days", 7)
	now := time.Now().UTC()
	q := kpi.Query{
		KPI:         domain.KPIID(c.Param("kpi")),
		Window:      repository.Range{From: now.AddDate(0, 0, -days), To: now},
		ShiftID:     c.QueryParam("shift_id"),
		ProductID:   c.QueryParam("product_id"),
		WorkOrderID: c.QueryParam("work_order_id"),
		EquipmentID: c.QueryParam("equipment_id"),
		Stage:       domain.InspectionStage(c.QueryParam("stage")),
	}
	res, err := s.svc.QueryKPI(c.Request().Context(), a, clientID(c), q)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, res)
}

type transitionRequest struct {
	WorkOrderID  string   `json:"work_order_id"`
	WorkOrderIDs []string `json:"work_order_ids"`
	To           string   `json:"to"`
	Note         string   `json:"note"`
}

func (s *Server) transition(c echo.Context) error {
	a, err := actor(c)
	if err != nil {
		return err
	}
	var req transitionRequest
	if err := c.Bind(&req); err != nil {
		return fail(c, domain.Validation("body", "request body is not valid JSON"))
	}
	to := domain.WorkOrderStatus(req.To)

	if len(req.WorkOrderIDs) > 0 {
		result, err := s.svc.TransitionBulk(c.Request().Context(), a, clientID(c), req.WorkOrderIDs, to, req.Note)
		if err != nil {
			return fail(c, err)
		}
		return c.JSON(http.StatusOK, result)
	}
	wo, err := s.svc.Transition(c.Request().Context(), a, clientID(c), req.WorkOrderID, to, req.Note)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, wo)
}

type holdRequest struct {
	QuantityHeld   int    `json:"quantity_held"`
	Reason         string `json:"reason"`
	Severity       string `json:"severity"`
	Description    string `json:"description"`
	RequiredAction string `json:"required_action"`
}

func (s *Server) hold(c echo.Context) error {
	a, err := actor(c)
	if err != nil {
		return err
	}
	var req holdRequest
	if err := c.Bind(&req); err != nil {
		return fail(c, domain.Validation("body", "request body is not valid JSON"))
	}
	h, err := s.svc.Hold(c.Request().Context(), a, clientID(c), workflow.HoldRequest{
		WorkOrderID:    c.Param("id"),
		QuantityHeld:   req.QuantityHeld,
		Reason:         req.Reason,
		Severity:       domain.HoldSeverity(req.Severity),
		Description:    req.Description,
		RequiredAction: req.RequiredAction,
	})
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusCreated, h)
}

type resumeRequest struct {
	Disposition string `json:"disposition"`
	ReleasedQty int    `json:"released_qty"`
	ApprovedBy  string `json:"approved_by"`
	Notes       string `json:"notes"`
}

func (s *Server) resume(c echo.Context) error {
	a, err := actor(c)
	if err != nil {
		return err
	}
	var req resumeRequest
	if err := c.Bind(&req); err != nil {
		return fail(c, domain.Validation("body", "request body is not valid JSON"))
	}
	h, err := s.svc.Resume(c.Request().Context(), a, clientID(c), workflow.ResumeRequest{
		HoldID:      c.Param("id"),
		Disposition: domain.Disposition(req.Disposition),
		ReleasedQty: req.ReleasedQty,
		ApprovedBy:  req.ApprovedBy,
		Notes:       req.Notes,
	})
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, h)
}

func (s *Server) holdsAging(c echo.Context) error {
	a, err := actor(c)
	if err != nil {
		return err
	}
	rep, err := s.svc.AgingReport(c.Request().Context(), a, clientID(c))
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, rep)
}

type workflowConfigRequest struct {
	Definition string `json:"definition"`
}

func (s *Server) activateWorkflow(c echo.Context) error {
	a, err := actor(c)
	if err != nil {
		return err
	}
	var req workflowConfigRequest
	if err := c.Bind(&req); err != nil {
		return fail(c, domain.Validation("body", "request body is not valid JSON"))
	}
	wc, err := s.svc.ActivateWorkflowConfig(c.Request().Context(), a, clientID(c), req.Definition)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusCreated, wc)
}

type capacityRequest struct {
	SessionID string `json:"session_id"`
	From      string `json:"from"`
	To        string `json:"to"`
}

func (r capacityRequest) window() (time.Time, time.Time, error) {
	parse := func(field, v string) (time.Time, error) {
		if v == "" {
			return time.Time{}, nil
		}
		t, err := time.Parse("2006-01-02", v)
		if err != nil {
			return time.Time{}, domain.Validation(field, "expected YYYY-MM-DD")
		}
		return t, nil
	}
	from, err := parse("from", r.From)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	to, err := parse("to", r.To)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	return from, to, nil
}

func (s *Server) componentCheck(c echo.Context) error {
	a, err := actor(c)
	if err != nil {
		return err
	}
	var req capacityRequest
	if err := c.Bind(&req); err != nil {
		return fail(c, domain.Validation("body", "request body is not valid JSON"))
	}
	res, err := s.svc.RunComponentCheck(c.Request().Context(), a, clientID(c), req.SessionID)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, res)
}

func (s *Server) analysis(c echo.Context) error {
	a, err := actor(c)
	if err != nil {
		return err
	}
	var req capacityRequest
	if err := c.Bind(&req); err != nil {
		return fail(c, domain.Validation("body", "request body is not valid JSON"))
	}
	from, to, err := req.window()
	if err != nil {
		return fail(c, err)
	}
	res, err := s.svc.RunAnalysis(c.Request().Context(), a, clientID(c), req.SessionID, from, to)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, res)
}

func (s *Server) scenario(c echo.Context) error {
	a, err := actor(c)
	if err != nil {
		return err
	}
	var req capacityRequest
	if err := c.Bind(&req); err != nil {
		return fail(c, domain.Validation("body", "request body is not valid JSON"))
	}
	from, to, err := req.window()
	if err != nil {
		return fail(c, err)
	}
	res, err := s.svc.RunScenario(c.Request().Context(), a, clientID(c), req.SessionID, c.Param("id"), from, to)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, res)
}

func (s *Server) capacitySave(c echo.Context) error {
	a, err := actor(c)
	if err != nil {
		return err
	}
	var req capacityRequest
	if err := c.Bind(&req); err != nil {
		return fail(c, domain.Validation("body", "request body is not valid JSON"))
	}
	if err := s.svc.SaveCapacity(c.Request().Context(), a, clientID(c), req.SessionID); err != nil {
		return fail(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) forecastKPI(c echo.Context) error {
	a, err := actor(c)
	if err != nil {
		return err
	}
	days := intParam(c, "days", 7)
	method := forecast.Method(c.QueryParam("method"))
	if method == "" {
		method = forecast.MethodAuto
	}
	f, err := s.svc.Forecast(c.Request().Context(), a, clientID(c), domain.KPIID(c.Param("kpi")), days, method)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, f)
}

func (s *Server) report(c echo.Context) error {
	a, err := actor(c)
	if err != nil {
		return err
	}
	kind := report.Kind(c.QueryParam("kind"))
	if kind == "" {
		kind = report.KindDaily
	}
	format := c.QueryParam("format")
	if format == "" {
		format = "pdf"
	}
	doc, _, err := s.svc.Report(c.Request().Context(), a, clientID(c), kind, format)
	if err != nil {
		return fail(c, err)
	}
	return c.Blob(http.StatusOK, "application/octet-stream", doc)
}

func (s *Server) replay(c echo.Context) error {
	a, err := actor(c)
	if err != nil {
		return err
	}
	n, err := s.svc.ReplayEvents(c.Request().Context(), a, intParam(c, "limit", 100))
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, map[string]int{"replayed": n})
}

func intParam(c echo.Context, name string, def int) int {
	v := c.QueryParam(name)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}
