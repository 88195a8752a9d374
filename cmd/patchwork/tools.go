package main

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"patchwork.dev/convstore"
	"patchwork.dev/mcpserve"
	"patchwork.dev/tools"
)

func newToolsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tools",
		Short: "List and run the workspace tools",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "Describe the registered tools",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				a.printer(cmd).Tools(tools.NewBuiltinRegistry(a.cfg.Shell).Describe())
				return nil
			},
		},
		newToolsExecCmd(a),
	)
	return cmd
}

func newToolsExecCmd(a *app) *cobra.Command {
	var lane string
	cmd := &cobra.Command{
		Use:   "exec <tool> [arguments-json]",
		Short: "Run a tool with JSON arguments",
		Long: `Exec runs a tool with JSON object arguments (from the command line, or
stdin) and prints its result. With --lane, the call is recorded in the lane.`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]
			var input json.RawMessage
			if len(args) == 2 {
				input = json.RawMessage(args[1])
			} else {
				b, err := readInput(cmd, "")
				if err != nil {
					return err
				}
				input = b
			}
			reg := tools.NewBuiltinRegistry(a.cfg.Shell)
			env := &tools.Env{Root: a.root, Lane: lane}
			res := reg.Execute(cmd.Context(), env, name, input)
			a.printer(cmd).ToolUse(name, input, res)
			if lane != "" {
				if err := a.recordToolCall(cmd, reg, lane, name, input, res); err != nil {
					return err
				}
			}
			if !res.OK {
				return errors.New("tool call failed")
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&lane, "lane", "", "record the call in this lane")
	return cmd
}

func (a *app) recordToolCall(cmd *cobra.Command, reg *tools.Registry, lane, name string, input json.RawMessage, res *tools.Result) error {
	store, err := a.store()
	if err != nil {
		return err
	}
	meta := map[string]any{"tool": name, "ok": res.OK}
	if t, ok := reg.Lookup(name); ok && t.Signal != "" {
		meta["signal"] = string(t.Signal)
	}
	if json.Valid(input) {
		meta["input"] = input
	}
	content := res.Output
	if !res.OK {
		content = res.Error
	}
	return store.Append(cmd.Context(), lane, convstore.Message{Role: roleTool, Content: content, Metadata: meta})
}

func newMCPCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve the workspace tools over MCP on stdio",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			srv := mcpserve.New(tools.NewBuiltinRegistry(a.cfg.Shell), &tools.Env{Root: a.root}, cmd.Root().Version)
			if err := srv.ServeStdio(); err != nil {
				return fmt.Errorf("mcp: %w", err)
			}
			return nil
		},
	}
}
