package cmd

import (
	"github.com/agentic-research/partbom/internal/mcpserver"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func init() {
	rootCmd.AddCommand(mcpCmd)
}

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the session as MCP tools over stdio",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		sess, bus, done, err := env.openSession()
		if err != nil {
			return err
		}
		defer done()
		stopSignals := watchSignals(bus, env.log)
		defer stopSignals()

		sess.Start(cmd.Context())
		env.log.Info("serving MCP on stdio", zap.String("selected", sess.SelectedID()))
		return mcpserver.New(sess, version, env.log).ServeStdio()
	},
}
