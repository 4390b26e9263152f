package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/tabctl/tabctl/internal/config"
	"github.com/tabctl/tabctl/internal/session"
	"github.com/tabctl/tabctl/internal/tabctllog"
	"github.com/tabctl/tabctl/internal/worker"
)

var version = "dev"

var (
	verbose        bool
	jsonOutput     bool
	internalWorker string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "tabctl",
		Short: "Control a browser tab from the command line via a supervised worker process",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if verbose {
				tabctllog.Setup(tabctllog.LevelVerbose)
			}
		},
		Run: func(cmd *cobra.Command, args []string) {
			if internalWorker != "" {
				runInternalWorker(internalWorker)
				return
			}
			cmd.Help()
		},
	}

	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	rootCmd.Flags().StringVar(&internalWorker, "_internal-worker", "", "Internal: run as the worker subprocess with this JSON launch config")
	rootCmd.Flags().MarkHidden("_internal-worker")

	rootCmd.AddCommand(newDaemonCmd())
	rootCmd.AddCommand(newStartCmd())
	rootCmd.AddCommand(newStopCmd())
	rootCmd.AddCommand(newStatusCmd())
	rootCmd.AddCommand(newPeekCmd())
	rootCmd.AddCommand(newDomQueryCmd())
	rootCmd.AddCommand(newDomGetCmd())
	rootCmd.AddCommand(newDomHighlightCmd())
	rootCmd.AddCommand(newDomScreenshotCmd())
	rootCmd.AddCommand(newWorkerDetailsCmd())
	rootCmd.AddCommand(newCdpCallCmd())
	rootCmd.AddCommand(newVersionCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// runInternalWorker is the hidden entry point a freshly spawned worker
// process takes: argv is `tabctl --_internal-worker <json-config>`, set up
// by the daemon's self-re-exec (worker_session.go's startWorker), mirroring
// the teacher's own daemonize() self-re-exec trick.
func runInternalWorker(configJSON string) {
	opts, err := config.Parse([]byte(configJSON))
	if err != nil {
		fmt.Fprintf(os.Stderr, "tabctl: invalid worker launch config: %v\n", err)
		os.Exit(1)
	}

	w := worker.New(opts, session.Default(), nil, nil)
	if err := w.Run(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "tabctl: worker exited with error: %v\n", err)
		os.Exit(1)
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the tabctl version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(version)
		},
	}
}

func printResult(resp map[string]any) {
	if jsonOutput {
		data, _ := json.MarshalIndent(resp, "", "  ")
		fmt.Println(string(data))
		return
	}
	if data, ok := resp["data"]; ok {
		pretty, _ := json.MarshalIndent(data, "", "  ")
		fmt.Println(string(pretty))
		return
	}
	fmt.Println("ok")
}

func fail(err error) {
	fmt.Fprintf(os.Stderr, "tabctl: %v\n", err)
	os.Exit(1)
}
