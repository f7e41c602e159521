package events

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/ccmanuelf/kpi-operations-sub013/common"
	"github.com/ccmanuelf/kpi-operations-sub013/domain"
	"github.com/ccmanuelf/kpi-operations-sub013/metrics"
)

// AuditHandler is the synchronous compliance writer. It records every
// committed event with its tenant, actor and aggregate so the operational
// log doubles as an audit trail, and counts tenant-bypass engagements.
type AuditHandler struct {
	metrics *metrics.Metrics
}

// NewAuditHandler builds the audit writer.
func NewAuditHandler(m *metrics.Metrics) *AuditHandler {
	return &AuditHandler{metrics: m}
}

func (h *AuditHandler) Name() string { return "audit" }

// Matches accepts every event type.
func (h *AuditHandler) Matches(string) bool { return true }

func (h *AuditHandler) Handle(_ context.Context, ev domain.Event) error {
	fields := logrus.Fields{
		"event_id":       ev.EventID,
		"event_type":     ev.Type,
		"aggregate_type": ev.AggregateType,
		"aggregate_id":   ev.AggregateID,
	}
	if ev.ClientID != nil {
		fields["client_id"] = *ev.ClientID
	}
	if ev.TriggeredBy != nil {
		fields["triggered_by"] = *ev.TriggeredBy
	}
	common.Logger.WithFields(fields).Info("audit")

	if ev.Type == domain.EventTenantBypassUsed && h.metrics != nil {
		h.metrics.TenantBypassUses.Inc()
	}
	return nil
}
