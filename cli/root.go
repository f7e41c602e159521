// Package cli is the command-line surface of the platform. The serve command
// runs the full service; the other verbs execute single operations against
// the configured store and map domain errors onto stable exit codes.
package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ccmanuelf/kpi-operations-sub013/common"
	"github.com/ccmanuelf/kpi-operations-sub013/config"
	"github.com/ccmanuelf/kpi-operations-sub013/domain"
	"github.com/ccmanuelf/kpi-operations-sub013/service"
)

// Exit codes of the CLI surface.
const (
	ExitOK         = 0
	ExitUsage      = 1
	ExitAuth       = 2
	ExitValidation = 3
	ExitConflict   = 4
	ExitInfra      = 5
	ExitInternal   = 10
)

var (
	cfgFile    string
	flagClient string
	flagUser   string
	flagPass   string
)

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "kpiops",
		Short:         "Multi-tenant manufacturing KPI platform",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file path")
	cmd.PersistentFlags().StringVar(&flagClient, "client", "", "target client id")
	cmd.PersistentFlags().StringVar(&flagUser, "username", os.Getenv("KPIOPS_USERNAME"), "username")
	cmd.PersistentFlags().StringVar(&flagPass, "password", os.Getenv("KPIOPS_PASSWORD"), "password")

	cmd.AddCommand(
		serveCmd(),
		loginCmd(),
		ingestCmd(),
		kpiCmd(),
		workorderCmd(),
		holdsCmd(),
		capacityCmd(),
		forecastCmd(),
		reportCmd(),
		eventsCmd(),
		versionCmd(),
	)
	return cmd
}

// Execute runs the CLI and returns the process exit code.
func Execute() int {
	cmd := rootCmd()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		return exitCode(err)
	}
	return ExitOK
}

// exitCode maps an error onto the CLI contract.
func exitCode(err error) int {
	if errors.Is(err, service.ErrRateLimited) {
		return ExitAuth
	}
	var de *domain.Error
	if !errors.As(err, &de) {
		// Anything cobra produced before a handler ran is a usage problem.
		return ExitUsage
	}
	switch de.Kind {
	case domain.KindUnauthenticated, domain.KindForbidden:
		return ExitAuth
	case domain.KindValidation, domain.KindNotFound:
		return ExitValidation
	case domain.KindConflict, domain.KindStale, domain.KindDependentRows, domain.KindInvalidTransition:
		return ExitConflict
	case domain.KindInfra:
		return ExitInfra
	}
	return ExitInternal
}

// loadConfig reads the configuration tree and applies the logging settings.
func loadConfig() (*config.Config, error) {
	loader := config.NewLoader("KPIOPS")
	loader.SetConfigDefaults()
	var cfg config.Config
	if err := loader.Load(cfgFile, &cfg); err != nil {
		return nil, domain.Infra(err, "configuration load failed")
	}
	common.ConfigureLogger(cfg.Logging.Level, cfg.Logging.Format)
	return &cfg, nil
}

// printJSON renders a command result on stdout.
func printJSON(v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return domain.Internal(err, "result not serializable")
	}
	fmt.Println(string(out))
	return nil
}
