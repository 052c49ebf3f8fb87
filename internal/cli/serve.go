package cli

import (
	"github.com/spf13/cobra"

	"github.com/contextcore/coyote/internal/web"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the local run API",
	Long: `Start the JSON API on localhost: run listing and detail, transition
events, checkpoint approval, and abort. Advancing runs through the API
executes agent stages, so the configured LLM provider credentials must be
present in the environment.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, cleanup, err := newRuntime(true)
		if err != nil {
			return err
		}
		defer cleanup()

		addr := rt.cfg.Serve.Addr
		if flagAddr, _ := cmd.Flags().GetString("addr"); flagAddr != "" {
			addr = flagAddr
		}
		return web.NewServer(rt.orch, rt.store, rt.db, addr).Start()
	},
}

func init() {
	serveCmd.Flags().String("addr", "", "Listen address (default from config, 127.0.0.1:7357)")
}
