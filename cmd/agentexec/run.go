package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/hupe1980/agentexec"
	"github.com/hupe1980/agentexec/config"
	"github.com/hupe1980/agentexec/stream"
)

func newRunCmd(load func() (*config.Config, error)) *cobra.Command {
	var (
		req       agentexec.Request
		streaming bool
		jsonOut   bool
	)

	cmd := &cobra.Command{
		Use:   "run <message...>",
		Short: "Answer one message and print the response",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ax, _, err := build(load)
			if err != nil {
				return err
			}
			defer ax.Close()

			req.Message = strings.Join(args, " ")
			out := cmd.OutOrStdout()
			if !streaming {
				res, err := ax.Run(cmd.Context(), req)
				if err != nil {
					return err
				}
				if jsonOut {
					enc := json.NewEncoder(out)
					enc.SetIndent("", "  ")
					return enc.Encode(res)
				}
				_, err = fmt.Fprintln(out, res.Response)
				return err
			}
			return printStream(cmd, ax, req, jsonOut)
		},
	}

	cmd.Flags().StringVarP(&req.AgentID, "agent", "a", agentexec.DefaultAgentID, "agent id")
	cmd.Flags().StringVarP(&req.SessionID, "session", "s", "", "session id (generated when empty)")
	cmd.Flags().StringVarP(&req.UserID, "user", "u", "", "user id")
	cmd.Flags().BoolVar(&streaming, "stream", false, "print the answer as it is generated")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "print JSON (one event per line when streaming)")
	return cmd
}

func printStream(cmd *cobra.Command, ax *agentexec.AgentExec, req agentexec.Request, jsonOut bool) error {
	h, err := ax.Stream(cmd.Context(), req)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	enc := json.NewEncoder(out)
	for ev := range h.Events {
		if jsonOut {
			if err := enc.Encode(ev); err != nil {
				return err
			}
			continue
		}
		switch data := ev.Data.(type) {
		case stream.ChunkData:
			fmt.Fprint(out, data.Delta)
		case stream.ToolCallData:
			fmt.Fprintf(cmd.ErrOrStderr(), "\n[tool] %s\n", data.ToolName)
		case stream.CompleteData:
			fmt.Fprintln(out)
		case stream.ErrorData:
			fmt.Fprintln(out)
			return fmt.Errorf("stream failed [%s]: %s", data.Code, data.Message)
		}
	}
	return nil
}
