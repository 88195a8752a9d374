package main

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
	"patchwork.dev/interpret"
	"patchwork.dev/patch"
)

func newApplyCmd(a *app) *cobra.Command {
	var format string
	var keepPartial bool
	cmd := &cobra.Command{
		Use:   "apply [file]",
		Short: "Apply a patch payload to the workspace",
		Long: `Apply reads a patch payload (from file, or stdin), interprets it into
create, delete and replace actions, and applies them in order.

A rollback plan is saved before anything is written. If an action fails,
the applied prefix is rolled back unless --keep-partial is set.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := readInput(cmd, firstArg(args))
			if err != nil {
				return err
			}
			in, meter, err := a.interpreter()
			if err != nil {
				return err
			}
			payload, err := in.Interpret(cmd.Context(), string(raw), interpret.Format(format))
			if err != nil {
				return err
			}
			if meter != nil {
				defer a.printer(cmd).Usage(meter.Usage())
			}
			return a.apply(cmd, payload.Actions(), keepPartial)
		},
	}
	cmd.Flags().StringVar(&format, "format", "", "payload format: patches or files (default from configuration)")
	cmd.Flags().BoolVar(&keepPartial, "keep-partial", false, "do not roll back actions applied before a failure")
	return cmd
}

func (a *app) apply(cmd *cobra.Command, actions []patch.Action, keepPartial bool) error {
	ctx := cmd.Context()
	applier := &patch.Applier{Root: a.root}
	plan, err := applier.CreateRollbackPlan(actions)
	if err != nil {
		return err
	}
	if _, err := a.savePlan(plan); err != nil {
		return err
	}
	res, err := applier.Apply(ctx, actions)
	if err == nil {
		a.printer(cmd).ApplyResult(res, plan.ID)
		return nil
	}
	var ae *patch.ActionError
	if errors.As(err, &ae) && !keepPartial {
		if rerr := applier.Rollback(plan); rerr != nil {
			return errors.Join(err, fmt.Errorf("rollback: %w", rerr))
		}
		slog.InfoContext(ctx, "apply_rolled_back", "plan_id", plan.ID, "touched", len(res.Touched))
		return fmt.Errorf("%w (rolled back)", err)
	}
	return fmt.Errorf("%w (rollback plan %s)", err, plan.ID)
}

func firstArg(args []string) string {
	if len(args) == 0 {
		return ""
	}
	return args[0]
}

func newRollbackCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "rollback <plan-id | plan.json>",
		Short: "Restore the files captured by a saved rollback plan",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			plan, err := a.loadPlan(args[0])
			if err != nil {
				return err
			}
			applier := &patch.Applier{Root: a.root}
			if err := applier.Rollback(plan); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "rolled back %d file(s) from plan %s\n", len(plan.Entries), plan.ID)
			return nil
		},
	}
}
