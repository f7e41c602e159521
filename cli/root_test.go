package cli

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ccmanuelf/kpi-operations-sub013/domain"
	"github.com/ccmanuelf/kpi-operations-sub013/service"
)

func TestExitCodeContract(t *testing.T) {
	cases := []struct {
		name string
		err  error
		code int
	}{
		{"usage", errors.New("unknown flag"), ExitUsage},
		{"unauthenticated", domain.Unauthenticated("no"), ExitAuth},
		{"forbidden", domain.Forbidden("no"), ExitAuth},
		{"rate limited", service.ErrRateLimited, ExitAuth},
		{"validation", domain.Validation("qty", "bad"), ExitValidation},
		{"not found", domain.NotFound("work_order", "WO-404"), ExitValidation},
		{"conflict", domain.Conflict("id", "dup"), ExitConflict},
		{"stale", domain.Stale("raced"), ExitConflict},
		{"invalid transition", domain.InvalidTransition("A", "B"), ExitConflict},
		{"infra", domain.Infra(errors.New("down"), "db"), ExitInfra},
		{"internal", domain.Internal(errors.New("bug"), "boom"), ExitInternal},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.code, exitCode(tc.err))
		})
	}
}

func TestRootCommandWiring(t *testing.T) {
	cmd := rootCmd()
	for _, name := range []string{
		"serve", "login", "ingest", "kpi", "workorder", "holds",
		"capacity", "forecast", "report", "events", "version",
	} {
		sub, _, err := cmd.Find([]string{name})
		assert.NoError(t, err, name)
		assert.Equal(t, name, sub.Name())
	}
}
