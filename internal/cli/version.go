package cli

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"
)

// Set at build time with -ldflags "-X".
var (
	gitCommit = "unknown"
	buildTime = "unknown"
)

var versionCmd = &cobra.Command{
	Use:               "version",
	Short:             "Show version information",
	Long:              `Display version information for goDarkpool including build details and Go version.`,
	PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
	Run: func(cmd *cobra.Command, args []string) {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "goDarkpool version %s\n", rootCmd.Version)
		fmt.Fprintf(out, "Go version: %s\n", runtime.Version())
		fmt.Fprintf(out, "OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
		fmt.Fprintf(out, "Git commit: %s\n", gitCommit)
		fmt.Fprintf(out, "Build time: %s\n", buildTime)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
