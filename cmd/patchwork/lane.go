package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"patchwork.dev/convstore"
)

const roleTool = "tool"

func newLaneCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "lane",
		Short: "Inspect and edit per-lane conversation context",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List the lanes in the workspace",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				store, err := a.store()
				if err != nil {
					return err
				}
				lanes, err := store.Lanes()
				if err != nil {
					return err
				}
				for _, l := range lanes {
					fmt.Fprintln(cmd.OutOrStdout(), l)
				}
				return nil
			},
		},
		&cobra.Command{
			Use:   "show <lane>",
			Short: "Print a lane's messages",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				store, err := a.store()
				if err != nil {
					return err
				}
				snap, err := store.LoadLane(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				a.printer(cmd).Snapshot(snap)
				return nil
			},
		},
		newLaneAppendCmd(a),
		&cobra.Command{
			Use:   "truncate <lane> <keep>",
			Short: "Keep only the most recent keep messages of a lane",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				keep, err := strconv.Atoi(args[1])
				if err != nil {
					return fmt.Errorf("invalid message count %q", args[1])
				}
				store, err := a.store()
				if err != nil {
					return err
				}
				return store.Truncate(cmd.Context(), args[0], keep)
			},
		},
	)
	return cmd
}

func newLaneAppendCmd(a *app) *cobra.Command {
	var role, model string
	cmd := &cobra.Command{
		Use:   "append <lane> [content]",
		Short: "Append a message to a lane",
		Long:  "Append a message to a lane. Without content, the message is read from stdin.",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var content string
			if len(args) == 2 {
				content = args[1]
			} else {
				b, err := readInput(cmd, "")
				if err != nil {
					return err
				}
				content = strings.TrimSuffix(string(b), "\n")
			}
			store, err := a.store()
			if err != nil {
				return err
			}
			return store.Append(cmd.Context(), args[0], convstore.Message{Role: role, Content: content, Model: model})
		},
	}
	cmd.Flags().StringVar(&role, "role", "user", "message role")
	cmd.Flags().StringVar(&model, "model", "", "model that produced the message")
	return cmd
}
