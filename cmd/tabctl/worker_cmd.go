package main

import (
	"encoding/json"

	"github.com/spf13/cobra"
)

func newWorkerDetailsCmd() *cobra.Command {
	var itemType string

	cmd := &cobra.Command{
		Use:   "worker-details <id>",
		Short: "Fetch the full record for one captured network request or console message",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			req := map[string]any{
				"type": "worker_details_request", "sessionId": newSessionID(),
				"itemType": itemType, "id": args[0],
			}
			resp, err := roundTrip(req)
			if err != nil {
				fail(err)
			}
			printResult(resp)
		},
	}
	cmd.Flags().StringVar(&itemType, "item-type", "network", "Item kind: network or console")
	return cmd
}

func newCdpCallCmd() *cobra.Command {
	var paramsJSON string

	cmd := &cobra.Command{
		Use:   "cdp-call <method>",
		Short: "Invoke a raw Chrome DevTools Protocol method against the active session",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			req := map[string]any{
				"type": "cdp_call_request", "sessionId": newSessionID(),
				"method": args[0],
			}
			if paramsJSON != "" {
				var p json.RawMessage
				if err := json.Unmarshal([]byte(paramsJSON), &p); err != nil {
					fail(err)
				}
				req["params"] = p
			}
			resp, err := roundTrip(req)
			if err != nil {
				fail(err)
			}
			printResult(resp)
		},
	}
	cmd.Flags().StringVar(&paramsJSON, "params", "", "JSON-encoded method parameters")
	return cmd
}
