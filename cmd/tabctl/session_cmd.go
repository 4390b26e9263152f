package main

import (
	"github.com/spf13/cobra"
)

func newStartCmd() *cobra.Command {
	var (
		port        int
		timeoutSec  int
		telemetry   []string
		includeAll  bool
		userDataDir string
		headless    bool
		externalWS  string
	)

	cmd := &cobra.Command{
		Use:   "start [url]",
		Short: "Start a browser session (launches the worker via the daemon)",
		Args:  cobra.MaximumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			req := map[string]any{
				"type":      "start_session_request",
				"sessionId": newSessionID(),
			}
			if len(args) == 1 {
				req["url"] = args[0]
			}
			if port != 0 {
				req["port"] = port
			}
			if timeoutSec != 0 {
				req["timeout"] = timeoutSec
			}
			if len(telemetry) > 0 {
				req["telemetry"] = telemetry
			}
			if includeAll {
				req["includeAll"] = true
			}
			if userDataDir != "" {
				req["userDataDir"] = userDataDir
			}
			if headless {
				req["headless"] = true
			}
			if externalWS != "" {
				req["externalBrowserWsUrl"] = externalWS
			}

			resp, err := roundTrip(req)
			if err != nil {
				fail(err)
			}
			printResult(resp)
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "Remote-debugging port (default 9222)")
	cmd.Flags().IntVar(&timeoutSec, "timeout", 0, "Stop the session automatically after this many seconds")
	cmd.Flags().StringSliceVar(&telemetry, "telemetry", nil, "Telemetry kinds to activate (network,console,dom)")
	cmd.Flags().BoolVar(&includeAll, "include-all", false, "Set includeAll in the worker launch config (the worker does not capture response bodies)")
	cmd.Flags().StringVar(&userDataDir, "user-data-dir", "", "Chrome user data directory")
	cmd.Flags().BoolVar(&headless, "headless", false, "Launch the browser headless")
	cmd.Flags().StringVar(&externalWS, "connect", "", "Attach to an already-running browser's WebSocket URL instead of launching one")
	return cmd
}

func newStopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop the active browser session",
		Run: func(cmd *cobra.Command, args []string) {
			resp, err := roundTrip(map[string]any{
				"type": "stop_session_request", "sessionId": newSessionID(),
			})
			if err != nil {
				fail(err)
			}
			printResult(resp)
		},
	}
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the active session's status",
		Run: func(cmd *cobra.Command, args []string) {
			resp, err := roundTrip(map[string]any{
				"type": "status_request", "sessionId": newSessionID(),
			})
			if err != nil {
				fail(err)
			}
			printResult(resp)
		},
	}
}

func newPeekCmd() *cobra.Command {
	var lastN int

	cmd := &cobra.Command{
		Use:   "peek",
		Short: "Preview the most recent captured network and console activity",
		Run: func(cmd *cobra.Command, args []string) {
			req := map[string]any{"type": "peek_request", "sessionId": newSessionID()}
			if lastN > 0 {
				req["lastN"] = lastN
			}
			resp, err := roundTrip(req)
			if err != nil {
				fail(err)
			}
			printResult(resp)
		},
	}
	cmd.Flags().IntVar(&lastN, "last", 0, "How many recent entries to preview (default 10, max 100)")
	return cmd
}
