package cmd

import (
	"errors"
	"fmt"
	"strings"

	"github.com/agentic-research/partbom/internal/graph"
	"github.com/agentic-research/partbom/internal/render"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(searchCmd, treeCmd, showCmd)
}

var searchCmd = &cobra.Command{
	Use:   "search [query]",
	Short: "List parts matching a name or part number",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		parts, err := env.client.SearchParts(cmd.Context(), strings.Join(args, " "))
		if err != nil {
			return err
		}
		return render.Parts(cmd.OutOrStdout(), parts, "")
	},
}

var treeCmd = &cobra.Command{
	Use:   "tree <part-id>",
	Short: "Print the BOM tree under a part",
	Long: `Print the BOM tree under a part down to --depth levels.
Nodes whose children lie below the depth are marked [+].`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		depth := env.cfg.InitialDepth
		resp, err := env.client.GetBomTree(cmd.Context(), args[0], depth, env.cfg.NodeLimit)
		if err != nil {
			return err
		}
		tree := graph.NewTree(resp.Tree.Part.ID, graph.Normalize(resp.Tree, depth))
		if err := render.Tree(cmd.OutOrStdout(), render.ExpandLoaded(tree)); err != nil {
			return err
		}
		if resp.NodeLimit > 0 && resp.NodeCount >= resp.NodeLimit {
			fmt.Fprintf(cmd.ErrOrStderr(), "node limit %d reached; the tree may be truncated\n", resp.NodeLimit)
		}
		return nil
	},
}

var showCmd = &cobra.Command{
	Use:   "show <part-id>",
	Short: "Show a part's details and audit log",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sess, _, done, err := env.openSession()
		if err != nil {
			return err
		}
		defer done()

		sess.Select(cmd.Context(), args[0])
		snap := sess.Snapshot()
		if snap.Details.Err != "" {
			return errors.New(snap.Details.Err)
		}
		out := cmd.OutOrStdout()
		if err := render.Details(out, snap.Details.Data); err != nil {
			return err
		}
		fmt.Fprintln(out, "\naudit:")
		if snap.Audit.Err != "" {
			fmt.Fprintf(out, "  %s\n", snap.Audit.Err)
			return nil
		}
		return render.Audit(out, snap.Audit.Data)
	},
}
