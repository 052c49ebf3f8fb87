package cli

import (
	"github.com/spf13/cobra"
)

var version = "dev"

func SetVersion(v string) {
	version = v
}

var cfgPath string

var rootCmd = &cobra.Command{
	Use:   "coyote",
	Short: "coyote is an agent-driven incident resolution pipeline",
	Long: `coyote drives production incidents through a staged resolution pipeline:
investigate, design, implement, test, learn. Each stage is an LLM agent;
checkpoints pause the run for human approval before risky stages ship.

All state is stored in ~/.coyote/ (JSON run documents, SQLite for the event
log, markdown for lessons learned). Every transition is persisted, so a run
survives process restarts and resumes exactly where it stopped.`,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "", "Config file (default: ./coyote.yaml, ~/.coyote/config.yaml)")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(eventCmd)
	rootCmd.AddCommand(lessonsCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(serveCmd)
}
