package cmd

import (
	"context"
	"fmt"

	"github.com/agentic-research/partbom/internal/render"
	"github.com/agentic-research/partbom/internal/session"
	"github.com/agentic-research/partbom/internal/validate"
	"github.com/spf13/cobra"
)

var (
	partName        string
	partNumber      string
	partDescription string
)

func init() {
	linkCmd.AddCommand(linkCreateCmd, linkUpdateCmd, linkDeleteCmd)

	partCreateCmd.Flags().StringVar(&partName, "name", "", "Part name (required)")
	partCreateCmd.Flags().StringVar(&partNumber, "number", "", "Part number (assigned by the service when empty)")
	partCreateCmd.Flags().StringVar(&partDescription, "description", "", "Description")
	partCmd.AddCommand(partCreateCmd)

	rootCmd.AddCommand(linkCmd, partCmd)
}

var linkCmd = &cobra.Command{
	Use:   "link",
	Short: "Create, update or delete BOM links",
}

var linkCreateCmd = &cobra.Command{
	Use:   "create <parent-id> <child-id> <quantity>",
	Short: "Link a child part under a parent",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		child, qty, err := validate.Link(validate.LinkForm{ChildID: args[1], Quantity: args[2]})
		if err != nil {
			return err
		}
		return withParent(cmd, args[0], func(ctx context.Context, s *session.Session) error {
			return s.CreateLink(ctx, child, qty)
		})
	},
}

var linkUpdateCmd = &cobra.Command{
	Use:   "update <parent-id> <child-id> <quantity>",
	Short: "Change the quantity of a link",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		qty, err := validate.Quantity(args[2])
		if err != nil {
			return err
		}
		return withParent(cmd, args[0], func(ctx context.Context, s *session.Session) error {
			return s.UpdateLink(ctx, args[1], qty)
		})
	},
}

var linkDeleteCmd = &cobra.Command{
	Use:   "delete <parent-id> <child-id>",
	Short: "Remove a link",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withParent(cmd, args[0], func(ctx context.Context, s *session.Session) error {
			return s.DeleteLink(ctx, args[1])
		})
	},
}

// withParent selects parentID in a fresh session, runs op and prints the
// refreshed details.
func withParent(cmd *cobra.Command, parentID string, op func(context.Context, *session.Session) error) error {
	sess, _, done, err := env.openSession()
	if err != nil {
		return err
	}
	defer done()

	ctx := cmd.Context()
	sess.Select(ctx, parentID)
	if msg := sess.Snapshot().Details.Err; msg != "" {
		return fmt.Errorf("load %s: %s", parentID, msg)
	}
	if err := op(ctx, sess); err != nil {
		return err
	}
	return render.Details(cmd.OutOrStdout(), sess.Snapshot().Details.Data)
}

var partCmd = &cobra.Command{
	Use:   "part",
	Short: "Manage parts",
}

var partCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a part",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		sess, _, done, err := env.openSession()
		if err != nil {
			return err
		}
		defer done()

		p, err := sess.CreatePartForLink(cmd.Context(), validate.PartForm{
			Name:        partName,
			PartNumber:  partNumber,
			Description: partDescription,
		})
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s - %s\n", p.ID, p.PartNumber, p.Name)
		return nil
	},
}
