package cli

import (
	"fmt"
	"runtime/debug"

	"github.com/spf13/cobra"
)

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Run: func(_ *cobra.Command, _ []string) {
			info, ok := debug.ReadBuildInfo()
			if !ok {
				fmt.Println("kpiops (unknown build)")
				return
			}
			version := info.Main.Version
			if version == "" || version == "(devel)" {
				version = "devel"
			}
			fmt.Printf("kpiops %s (%s)\n", version, info.GoVersion)
			for _, s := range info.Settings {
				switch s.Key {
				case "vcs.revision", "vcs.time":
					fmt.Printf("  %s: %s\n", s.Key, s.Value)
				}
			}
		},
	}
}
