package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/agentic-research/partbom/internal/events"
	"github.com/agentic-research/partbom/internal/render"
	"github.com/agentic-research/partbom/internal/session"
	"github.com/agentic-research/partbom/internal/validate"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(shellCmd)
}

var shellCmd = &cobra.Command{
	Use:   "shell",
	Short: "Browse parts and edit links interactively",
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
		return runShell(cmd.Context(), sess, bus, cmd.InOrStdin(), cmd.OutOrStdout())
	},
}

const shellHelp = `commands:
  search [text]             search parts and list the results
  select <id>               select a part
  show                      details of the selected part
  audit                     audit log of the selected part
  tree                      BOM tree of the selected part
  toggle <id>               expand or collapse a tree node
  expand <id>               expand a tree node
  retry <id>                retry a failed child load
  refresh                   reload the selection
  candidates                parts that can be linked under the selection
  link <child> <qty>        link a child under the selection
  relink <child> <qty>      change a link's quantity
  unlink <child>            remove a link
  new <name> | <pn> | <description>
                            create a part and select it
  newlink <name> | <pn> | <description>
                            create a part without changing the selection
  clear                     dismiss the last mutation error
  help                      this text
  quit                      leave the shell
`

var errQuit = errors.New("quit")

// runShell reads one command per line from in until EOF or quit. Command
// failures are printed and the loop continues.
func runShell(ctx context.Context, sess *session.Session, bus *events.Bus, in io.Reader, out io.Writer) error {
	if bus != nil {
		unsub := bus.Subscribe(events.TopicOpenCreateView, func(events.Topic) {
			fmt.Fprintln(out, "\ncreate a part with: new <name> | <part number> | <description>")
		})
		defer unsub()
	}

	sc := bufio.NewScanner(in)
	fmt.Fprint(out, "> ")
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line != "" {
			err := shellCommand(ctx, sess, line, out)
			if errors.Is(err, errQuit) {
				return nil
			}
			if err != nil {
				fmt.Fprintf(out, "error: %v\n", err)
			}
		}
		if ctx.Err() != nil {
			return nil
		}
		fmt.Fprint(out, "> ")
	}
	fmt.Fprintln(out)
	return sc.Err()
}

func shellCommand(ctx context.Context, sess *session.Session, line string, out io.Writer) error {
	verb, rest, _ := strings.Cut(line, " ")
	rest = strings.TrimSpace(rest)
	args := strings.Fields(rest)

	need := func(n int, usage string) error {
		if len(args) != n {
			return fmt.Errorf("usage: %s", usage)
		}
		return nil
	}

	switch verb {
	case "quit", "exit":
		return errQuit
	case "help", "?":
		_, err := io.WriteString(out, shellHelp)
		return err

	case "search":
		sess.Search(ctx, rest)
		snap := sess.Snapshot()
		if snap.Search.Err != "" {
			return errors.New(snap.Search.Err)
		}
		return render.Parts(out, snap.Search.Parts, snap.SelectedID)
	case "select":
		if err := need(1, "select <id>"); err != nil {
			return err
		}
		sess.Select(ctx, args[0])
		return showDetails(sess, out)
	case "show":
		return showDetails(sess, out)
	case "audit":
		snap := sess.Snapshot()
		if snap.SelectedID == "" {
			return session.ErrNoSelection
		}
		if snap.Audit.Err != "" {
			return errors.New(snap.Audit.Err)
		}
		return render.Audit(out, snap.Audit.Data)
	case "tree":
		return showTree(sess, out)
	case "refresh":
		sess.Refresh(ctx, session.RefreshOptions{})
		return showDetails(sess, out)

	case "toggle", "expand", "retry":
		if err := need(1, verb+" <id>"); err != nil {
			return err
		}
		var err error
		switch verb {
		case "toggle":
			_, err = sess.Toggle(ctx, args[0])
		case "expand":
			err = sess.Expand(ctx, args[0])
		default:
			err = sess.RetryChildren(ctx, args[0])
		}
		if err != nil {
			return err
		}
		return showTree(sess, out)

	case "candidates":
		parts, err := sess.LinkCandidates(ctx)
		if err != nil {
			return err
		}
		return render.Parts(out, parts, "")
	case "link":
		if err := need(2, "link <child> <qty>"); err != nil {
			return err
		}
		child, qty, err := validate.Link(validate.LinkForm{ChildID: args[0], Quantity: args[1]})
		if err != nil {
			return err
		}
		if err := sess.CreateLink(ctx, child, qty); err != nil {
			return err
		}
		return showTree(sess, out)
	case "relink":
		if err := need(2, "relink <child> <qty>"); err != nil {
			return err
		}
		qty, err := validate.Quantity(args[1])
		if err != nil {
			return err
		}
		if err := sess.UpdateLink(ctx, args[0], qty); err != nil {
			return err
		}
		return showTree(sess, out)
	case "unlink":
		if err := need(1, "unlink <child>"); err != nil {
			return err
		}
		if err := sess.DeleteLink(ctx, args[0]); err != nil {
			return err
		}
		return showTree(sess, out)

	case "new", "newlink":
		form := partForm(rest)
		if verb == "new" {
			p, err := sess.CreatePart(ctx, form)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "created %s\n", p.ID)
			return showDetails(sess, out)
		}
		p, err := sess.CreatePartForLink(ctx, form)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "created %s; link it with: link %s <qty>\n", p.ID, p.ID)
		return nil
	case "clear":
		sess.ClearMutationError()
		sess.ClearCreatePartError()
		return nil
	}
	return fmt.Errorf("unknown command %q (try help)", verb)
}

// partForm splits "name | part number | description"; missing fields are
// empty.
func partForm(s string) validate.PartForm {
	fields := strings.SplitN(s, "|", 3)
	for len(fields) < 3 {
		fields = append(fields, "")
	}
	return validate.PartForm{Name: fields[0], PartNumber: fields[1], Description: fields[2]}
}

func showDetails(sess *session.Session, out io.Writer) error {
	snap := sess.Snapshot()
	if snap.SelectedID == "" {
		return session.ErrNoSelection
	}
	if snap.Details.Err != "" {
		return errors.New(snap.Details.Err)
	}
	return render.Details(out, snap.Details.Data)
}

func showTree(sess *session.Session, out io.Writer) error {
	snap := sess.Snapshot()
	if snap.SelectedID == "" {
		return session.ErrNoSelection
	}
	if snap.Tree.MutationErr != "" {
		fmt.Fprintf(out, "last change failed: %s\n", snap.Tree.MutationErr)
	}
	if snap.Tree.Err != "" {
		return errors.New(snap.Tree.Err)
	}
	return render.Tree(out, snap.Tree.Tree)
}
