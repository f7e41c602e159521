package service

import (
	"errors"

	"github.com/ccmanuelf/kpi-operations-sub013/domain"
)

// Problem is the transport-neutral error shape rendered to callers. Internal
// causes never cross this boundary.
type Problem struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// Translate converts any error from the facade into a Problem. Domain kinds
// map one-to-one onto ERR_* codes; everything unrecognized collapses to
// ERR_INTERNAL with a generic message.
func Translate(err error) Problem {
	if errors.Is(err, ErrRateLimited) {
		return Problem{
			Code:    "ERR_RATE_LIMITED",
			Message: "too many attempts",
			Details: map[string]any{"retry_after_seconds": 60},
		}
	}

	var de *domain.Error
	if !errors.As(err, &de) {
		return Problem{Code: "ERR_INTERNAL", Message: "internal error"}
	}

	p := Problem{Code: "ERR_" + string(de.Kind), Message: de.Message}
	if de.Field != "" || de.Key != "" || len(de.Details) > 0 {
		p.Details = map[string]any{}
		for k, v := range de.Details {
			p.Details[k] = v
		}
		if de.Field != "" {
			p.Details["field"] = de.Field
		}
		if de.Key != "" {
			p.Details["key"] = de.Key
		}
	}
	if de.Kind == domain.KindInternal {
		// The wrapped cause may carry anything; callers get the category only.
		p.Message = "internal error"
		p.Details = nil
	}
	return p
}
