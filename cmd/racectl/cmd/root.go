// Package cmd implements the racectl command-line interface.
package cmd

import (
	"errors"
	"fmt"
	"os"
	"runtime/debug"

	"github.com/spf13/cobra"

	"github.com/racecore/race"
)

var (
	// Version information (set during build)
	Version string = "dev"
	Commit  string = "none"
	Date    string = "unknown"
	// OsExit allows tests to mock os.Exit
	OsExit = os.Exit
)

func init() {
	bi, ok := debug.ReadBuildInfo()
	if !ok {
		return
	}
	if Version != "dev" {
		return
	}
	if bi.Main.Version != "" && bi.Main.Version != "(devel)" {
		Version = bi.Main.Version
	}
	for _, setting := range bi.Settings {
		switch setting.Key {
		case "vcs.revision":
			Commit = setting.Value
		case "vcs.time":
			Date = setting.Value
		}
	}
}

// ExitCodeFor maps a run error to the §6 process exit codes: 0 clean
// termination, 1 initialization failure (bad config or a worker that
// failed Initialize/Admit), 2 runtime fatal.
func ExitCodeFor(err error) int {
	if err == nil {
		return 0
	}
	if errors.Is(err, race.ErrConfigMissingRequired) ||
		errors.Is(err, race.ErrConfigInvalidValue) ||
		errors.Is(err, race.ErrConfigParse) ||
		errors.Is(err, race.ErrConfigAmbiguousFile) ||
		errors.Is(err, race.ErrWorkerInitFailed) ||
		errors.Is(err, race.ErrWorkerNameTaken) {
		return 1
	}
	return 2
}

// NewRootCommand creates the root racectl command.
func NewRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "racectl",
		Short: "racectl drives a RACE event system from a worker configuration file",
		Long:  `racectl loads a hierarchical worker configuration, admits each worker into a System, and runs it until interrupted (SIGINT or SIGTERM).`,
		Run: func(cmd *cobra.Command, args []string) {
			versionFlag, _ := cmd.Flags().GetBool("version")
			if versionFlag {
				fmt.Println(PrintVersion())
				OsExit(0)
				return
			}
			_ = cmd.Help()
		},
	}

	rootCmd.Flags().BoolP("version", "v", false, "Print version information")
	rootCmd.Version = Version

	rootCmd.AddCommand(NewRunCommand())
	return rootCmd
}

// PrintVersion returns the human-readable version banner.
func PrintVersion() string {
	return fmt.Sprintf("racectl v%s (commit: %s, built on: %s)", Version, Commit, Date)
}
