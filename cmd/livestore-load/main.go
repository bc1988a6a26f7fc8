// cmd/livestore-load/main.go
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/Gammanik/livestore/internal/chunker"
	"github.com/Gammanik/livestore/internal/loadtest"
	"github.com/Gammanik/livestore/internal/storage"
)

type options struct {
	server   string
	verbose  bool
	loadtest loadtest.Config
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:   "livestore-load",
		Short: "Load driver for a running livestore server",
		Long: `Spawns many concurrent requests against a livestore server.
Resources are named <name>-0 .. <name>-<count-1>.

Run "upload" and "download" in parallel to exercise readers that attach
to uploads still in progress; start the server with
LIVESTORE_STORE_INGEST_PACING=1ms to spread uploads out over time.`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if opts.verbose {
				logrus.SetLevel(logrus.DebugLevel)
			}
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&opts.server, "server", "http://127.0.0.1:3000", "livestore base URL")
	flags.StringVar(&opts.loadtest.Name, "name", "video", "base resource name")
	flags.IntVar(&opts.loadtest.Count, "count", 100, "number of resources")
	flags.IntVar(&opts.loadtest.Concurrency, "concurrency", 0, "parallel requests (default: count)")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "debug logging")

	upload := &cobra.Command{
		Use:   "upload FILE",
		Short: "Upload FILE count times as a chunked stream",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.loadtest.File = args[0]
			return run(cmd.Context(), opts, (*loadtest.Runner).Upload)
		},
	}
	upload.Flags().Int64Var(&opts.loadtest.ChunkSize, "chunk-size", chunker.DefaultChunkSize, "bytes per sent chunk")
	upload.Flags().StringVar(&opts.loadtest.ContentType, "content-type", "", "Content-Type header")

	download := &cobra.Command{
		Use:   "download",
		Short: "Download every resource and verify it against the upload journal",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), opts, (*loadtest.Runner).Download)
		},
	}

	del := &cobra.Command{
		Use:   "delete",
		Short: "Delete every resource",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), opts, (*loadtest.Runner).Delete)
		},
	}

	root.AddCommand(upload, download, del)
	return root
}

func run(ctx context.Context, opts *options, op func(*loadtest.Runner, context.Context) (*loadtest.Report, error)) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	runner := loadtest.New(storage.New(opts.server), opts.loadtest)
	rep, err := op(runner, ctx)
	if err != nil {
		return err
	}
	fmt.Println(rep)
	if rep.Failed > 0 || rep.Mismatched > 0 {
		return fmt.Errorf("%d failed, %d mismatched", rep.Failed, rep.Mismatched)
	}
	return nil
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
