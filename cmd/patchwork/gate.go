package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"patchwork.dev/convstore"
	"patchwork.dev/evidence"
)

// report is an investigation report as produced by a research run.
type report struct {
	Evidence       *evidence.Report   `json:"evidence"`
	Usage          evidence.ToolUsage `json:"usage"`
	Warnings       []string           `json:"warnings"`
	IndexAvailable bool               `json:"indexAvailable"`
	Cycles         int                `json:"cycles"`
	ElapsedSeconds float64            `json:"elapsedSeconds"`
	ToolCalls      map[string]int     `json:"toolCalls"`
}

func newGateCmd(a *app) *cobra.Command {
	var lane string
	cmd := &cobra.Command{
		Use:   "gate [report.json]",
		Short: "Check an investigation report against the evidence thresholds",
		Long: `Gate reads an investigation report (from file, or stdin) and evaluates
it against the configured evidence thresholds, index requirement,
investigation budget and tool quotas.

With --lane, tool calls recorded in the lane by "patchwork tools exec"
are counted as tool usage in addition to the report's own counts.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := readInput(cmd, firstArg(args))
			if err != nil {
				return err
			}
			var r report
			if err := json.Unmarshal(data, &r); err != nil {
				return fmt.Errorf("parse report: %w", err)
			}
			if lane != "" {
				if err := a.addLaneUsage(cmd, lane, &r); err != nil {
					return err
				}
			}
			inv := evidence.Investigation{
				IndexAvailable: r.IndexAvailable,
				Cycles:         r.Cycles,
				Elapsed:        time.Duration(r.ElapsedSeconds * float64(time.Second)),
				ToolCalls:      r.ToolCalls,
			}
			assessment, err := evidence.Enforce(a.cfg.Evidence, inv, evidence.Input{
				Evidence: r.Evidence,
				Usage:    r.Usage,
				Warnings: r.Warnings,
			})
			p := a.printer(cmd)
			p.Assessment(assessment)
			var ge *evidence.GateError
			if errors.As(err, &ge) {
				p.GateError(ge)
			}
			return err
		},
	}
	cmd.Flags().StringVar(&lane, "lane", "", "count tool calls recorded in this lane")
	return cmd
}

// addLaneUsage adds the successful tool calls recorded in lane to r.
func (a *app) addLaneUsage(cmd *cobra.Command, lane string, r *report) error {
	store, err := a.store()
	if err != nil {
		return err
	}
	snap, err := store.LoadLane(cmd.Context(), lane)
	if err != nil {
		return err
	}
	if r.Usage == nil {
		r.Usage = evidence.ToolUsage{}
	}
	if r.ToolCalls == nil {
		r.ToolCalls = map[string]int{}
	}
	for _, m := range snap.Messages {
		name, signal, ok := toolCall(m)
		if !ok {
			continue
		}
		r.ToolCalls[name]++
		if signal != "" {
			r.Usage[signal]++
		}
	}
	return nil
}

// toolCall reports the tool recorded in a successful tool message.
func toolCall(m convstore.Message) (name string, signal evidence.Signal, ok bool) {
	if m.Role != roleTool {
		return "", "", false
	}
	name, _ = m.Metadata["tool"].(string)
	succeeded, _ := m.Metadata["ok"].(bool)
	if name == "" || !succeeded {
		return "", "", false
	}
	s, _ := m.Metadata["signal"].(string)
	return name, evidence.Signal(s), true
}
