package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/agentic-research/partbom/internal/nfsmount"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	nfsAddr string
	noMount bool
)

func init() {
	mountCmd.Flags().StringVar(&nfsAddr, "listen", "", "NFS listen address (default 127.0.0.1 on a free port)")
	mountCmd.Flags().BoolVar(&noMount, "serve-only", false, "Start the NFS server without mounting it")
	rootCmd.AddCommand(mountCmd)
}

var mountCmd = &cobra.Command{
	Use:   "mount <mountpoint>",
	Short: "Expose the session as a read-only NFS filesystem",
	Long: `Mount the current selection as a directory tree. The root holds
_search.json, _selection.json, _details.json and _audit.json, and one
directory per BOM child. Listing a directory whose children were never
fetched loads them.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		mountPoint := args[0]
		ctx := cmd.Context()

		sess, bus, done, err := env.openSession()
		if err != nil {
			return err
		}
		defer done()
		stopSignals := watchSignals(bus, env.log)
		defer stopSignals()

		sess.Start(ctx)

		srv, err := nfsmount.NewServer(nfsmount.NewTreeFS(ctx, sess, env.log), nfsAddr, env.log)
		if err != nil {
			return err
		}
		defer func() { _ = srv.Close() }()

		out := cmd.OutOrStdout()
		if noMount {
			fmt.Fprintf(out, "NFS server listening on port %d\n", srv.Port())
		} else {
			if err := os.MkdirAll(mountPoint, 0o755); err != nil {
				return fmt.Errorf("create mountpoint: %w", err)
			}
			if err := nfsmount.Mount(srv.Port(), mountPoint); err != nil {
				return err
			}
			fmt.Fprintf(out, "Mounted partbom at %s (NFS port %d)\n", mountPoint, srv.Port())
		}

		sig := make(chan os.Signal, 1)
		signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
		defer signal.Stop(sig)
		select {
		case <-sig:
		case <-ctx.Done():
		}

		if !noMount {
			if err := nfsmount.Unmount(mountPoint); err != nil {
				env.log.Warn("unmount failed", zap.String("mountpoint", mountPoint), zap.Error(err))
			}
		}
		return nil
	},
}
