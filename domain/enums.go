package domain

// Role is the authorization level attached to a user. ADMIN and POWER_USER
// carry the cross-tenant visibility capability; the remaining roles are
// always confined to their assigned clients.
type Role string

const (
	RoleAdmin     Role = "ADMIN"
	RolePowerUser Role = "POWER_USER"
	RoleLeader    Role = "LEADER"
	RoleOperator  Role = "OPERATOR"
	RoleViewer    Role = "VIEWER"
)

// Valid reports whether the role is one of the defined constants.
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RolePowerUser, RoleLeader, RoleOperator, RoleViewer:
		return true
	}
	return false
}

// CanBypassTenant reports whether the role carries the explicit cross-tenant
// visibility capability. Every use of the capability is audited.
func (r Role) CanBypassTenant() bool {
	return r == RoleAdmin || r == RolePowerUser
}

// WorkOrderStatus is a node in the work-order lifecycle graph. The canonical
// edge set lives in the workflow package; entities only carry the value.
type WorkOrderStatus string

const (
	// StatusReceived is the single start status of every workflow.
	StatusReceived WorkOrderStatus = "RECEIVED"
	// StatusDispatched means released to the floor but not yet started.
	StatusDispatched WorkOrderStatus = "DISPATCHED"
	// StatusInWIP means production is underway.
	StatusInWIP WorkOrderStatus = "IN_WIP"
	// StatusOnHold suspends the order; the pre-hold status is recorded on the
	// work order so resumption can restore it.
	StatusOnHold WorkOrderStatus = "ON_HOLD"
	// StatusCompleted means all units produced, awaiting shipment.
	StatusCompleted WorkOrderStatus = "COMPLETED"
	// StatusShipped means the order left the site.
	StatusShipped WorkOrderStatus = "SHIPPED"
	// StatusClosed is terminal: shipped and reconciled.
	StatusClosed WorkOrderStatus = "CLOSED"
	// StatusCancelled is terminal.
	StatusCancelled WorkOrderStatus = "CANCELLED"
	// StatusRejected is terminal.
	StatusRejected WorkOrderStatus = "REJECTED"
)

// Valid reports whether the status is one of the defined constants.
func (s WorkOrderStatus) Valid() bool {
	switch s {
	case StatusReceived, StatusDispatched, StatusInWIP, StatusOnHold,
		StatusCompleted, StatusShipped, StatusClosed, StatusCancelled, StatusRejected:
		return true
	}
	return false
}

// DowntimeCategory classifies a downtime entry for availability reporting.
type DowntimeCategory string

const (
	DowntimeMechanical DowntimeCategory = "MECHANICAL"
	DowntimeChangeover DowntimeCategory = "CHANGEOVER"
	DowntimeMaterial   DowntimeCategory = "MATERIAL"
	DowntimeQuality    DowntimeCategory = "QUALITY"
	DowntimeOperator   DowntimeCategory = "OPERATOR"
	DowntimeOther      DowntimeCategory = "OTHER"
)

func (c DowntimeCategory) Valid() bool {
	switch c {
	case DowntimeMechanical, DowntimeChangeover, DowntimeMaterial,
		DowntimeQuality, DowntimeOperator, DowntimeOther:
		return true
	}
	return false
}

// HoldSeverity ranks a hold for triage and aging escalation.
type HoldSeverity string

const (
	SeverityCritical HoldSeverity = "CRITICAL"
	SeverityHigh     HoldSeverity = "HIGH"
	SeverityMedium   HoldSeverity = "MEDIUM"
	SeverityLow      HoldSeverity = "LOW"
)

func (s HoldSeverity) Valid() bool {
	switch s {
	case SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow:
		return true
	}
	return false
}

// Disposition records how held material was resolved on resume.
type Disposition string

const (
	// DispositionRelease returns the order to its pre-hold status.
	DispositionRelease Disposition = "RELEASE"
	// DispositionRework sends the order back to IN_WIP.
	DispositionRework Disposition = "REWORK"
	// DispositionScrap cancels the order and records the quantity as loss.
	DispositionScrap Disposition = "SCRAP"
	// DispositionRTS (return to supplier) cancels the order.
	DispositionRTS Disposition = "RTS"
	// DispositionUseAsIs accepts the material and restores the pre-hold status.
	DispositionUseAsIs Disposition = "USE_AS_IS"
)

func (d Disposition) Valid() bool {
	switch d {
	case DispositionRelease, DispositionRework, DispositionScrap,
		DispositionRTS, DispositionUseAsIs:
		return true
	}
	return false
}

// AttendanceStatus classifies an attendance entry.
type AttendanceStatus string

const (
	AttendancePresent AttendanceStatus = "PRESENT"
	AttendanceAbsent  AttendanceStatus = "ABSENT"
	AttendanceLate    AttendanceStatus = "LATE"
	AttendanceHalfDay AttendanceStatus = "HALF_DAY"
	AttendanceLeave   AttendanceStatus = "LEAVE"
)

func (s AttendanceStatus) Valid() bool {
	switch s {
	case AttendancePresent, AttendanceAbsent, AttendanceLate,
		AttendanceHalfDay, AttendanceLeave:
		return true
	}
	return false
}

// InspectionStage identifies where in the flow a quality inspection happened.
// FPY is computed per stage; RTY multiplies the stages in this order.
type InspectionStage string

const (
	StageIncoming  InspectionStage = "INCOMING"
	StageInProcess InspectionStage = "IN_PROCESS"
	StageFinal     InspectionStage = "FINAL"
)

func (s InspectionStage) Valid() bool {
	switch s {
	case StageIncoming, StageInProcess, StageFinal:
		return true
	}
	return false
}

// Stages lists the inspection stages in process order.
func Stages() []InspectionStage {
	return []InspectionStage{StageIncoming, StageInProcess, StageFinal}
}

// CycleTimeSource tags which fallback of the inference chain supplied an
// ideal cycle time. Callers receive it with every derived KPI value.
type CycleTimeSource string

const (
	SourceMaster     CycleTimeSource = "MASTER"
	SourceWorkOrder  CycleTimeSource = "WORK_ORDER"
	SourceMedianHist CycleTimeSource = "MEDIAN_HIST"
	SourceMeanHist   CycleTimeSource = "MEAN_HIST"
	SourceDefault    CycleTimeSource = "DEFAULT"
)

// KPIID names one of the canonical indicators.
type KPIID string

const (
	KPIWIPAging     KPIID = "wip_aging"
	KPIOTD          KPIID = "otd"
	KPIEfficiency   KPIID = "efficiency"
	KPIPPM          KPIID = "ppm"
	KPIDPMO         KPIID = "dpmo"
	KPIFPY          KPIID = "fpy"
	KPIRTY          KPIID = "rty"
	KPIAvailability KPIID = "availability"
	KPIPerformance  KPIID = "performance"
	KPIAbsenteeism  KPIID = "absenteeism"
	KPIOEE          KPIID = "oee"
)

// KPIIDs lists every indicator in report order, OEE last.
func KPIIDs() []KPIID {
	return []KPIID{
		KPIWIPAging, KPIOTD, KPIEfficiency, KPIPPM, KPIDPMO,
		KPIFPY, KPIRTY, KPIAvailability, KPIPerformance, KPIAbsenteeism,
		KPIOEE,
	}
}

func (k KPIID) Valid() bool {
	for _, id := range KPIIDs() {
		if id == k {
			return true
		}
	}
	return false
}

// ScenarioType identifies a capacity what-if transformation. The eight types
// are authoritative; MULTI_CONSTRAINT composes parameterized instances of the
// other seven.
type ScenarioType string

const (
	ScenarioOvertime         ScenarioType = "OVERTIME"
	ScenarioSetupReduction   ScenarioType = "SETUP_REDUCTION"
	ScenarioSubcontract      ScenarioType = "SUBCONTRACT"
	ScenarioNewLine          ScenarioType = "NEW_LINE"
	ScenarioThreeShift       ScenarioType = "THREE_SHIFT"
	ScenarioLeadTimeDelay    ScenarioType = "LEAD_TIME_DELAY"
	ScenarioAbsenteeismSpike ScenarioType = "ABSENTEEISM_SPIKE"
	ScenarioMultiConstraint  ScenarioType = "MULTI_CONSTRAINT"
)

func (t ScenarioType) Valid() bool {
	switch t {
	case ScenarioOvertime, ScenarioSetupReduction, ScenarioSubcontract,
		ScenarioNewLine, ScenarioThreeShift, ScenarioLeadTimeDelay,
		ScenarioAbsenteeismSpike, ScenarioMultiConstraint:
		return true
	}
	return false
}
