package main

import (
	"encoding/json"

	"github.com/spf13/cobra"
	"patchwork.dev/interpret"
)

func newInterpretCmd(a *app) *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "interpret [file]",
		Short: "Convert raw model output into a structured patch payload",
		Long: `Interpret parses raw model output (from file, or stdin) into a patch
payload and prints it as JSON. Output that does not parse directly is
repaired by the configured provider, when an API key is available.`,
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
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(payload); err != nil {
				return err
			}
			if meter != nil {
				a.printer(cmd).Usage(meter.Usage())
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&format, "format", "", "payload format: patches or files (default from configuration)")
	return cmd
}
