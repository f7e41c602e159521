// kpiops is the multi-tenant manufacturing KPI platform binary. The serve
// subcommand runs the HTTP service; the remaining verbs execute one-shot
// operational commands. See cli for the exit code contract.
package main

import (
	"os"

	"github.com/ccmanuelf/kpi-operations-sub013/cli"
)

func main() {
	os.Exit(cli.Execute())
}
