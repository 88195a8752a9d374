// Command patchwork applies model-produced patches to a workspace,
// keeps per-lane conversation context, gates work on gathered evidence,
// and runs sandboxed workspace tools.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"runtime/debug"
	"strings"

	"github.com/oklog/ulid/v2"
	"github.com/spf13/cobra"
	"patchwork.dev/config"
	"patchwork.dev/convstore"
	"patchwork.dev/skribe"
	"patchwork.dev/termui"
	"patchwork.dev/workspace"
)

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "%v: %v\n", os.Args[0], err)
		os.Exit(1)
	}
}

// app is the state shared by every subcommand, built before each runs.
type app struct {
	configPath string
	rootFlag   string
	logLevel   string
	logJSON    bool

	cfg  *config.Config
	root workspace.Root
}

func newRootCmd() *cobra.Command {
	a := &app{}
	cmd := &cobra.Command{
		Use:           "patchwork",
		Short:         "Apply, interpret and gate model-produced workspace edits",
		Version:       version(),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd)
		},
	}
	pf := cmd.PersistentFlags()
	pf.StringVar(&a.configPath, "config", "", "configuration file (default "+config.FileName+" in the workspace root)")
	pf.StringVarP(&a.rootFlag, "root", "C", "", "workspace root, overriding the configuration")
	pf.StringVar(&a.logLevel, "log-level", "warn", "log level: debug, info, warn or error")
	pf.BoolVar(&a.logJSON, "log-json", false, "write logs as JSON")

	cmd.AddCommand(
		newApplyCmd(a),
		newRollbackCmd(a),
		newInterpretCmd(a),
		newGateCmd(a),
		newLaneCmd(a),
		newToolsCmd(a),
		newMCPCmd(a),
	)
	return cmd
}

func version() string {
	if bi, ok := debug.ReadBuildInfo(); ok && bi.Main.Version != "" {
		return bi.Main.Version
	}
	return "devel"
}

func (a *app) setup(cmd *cobra.Command) error {
	level, err := skribe.ParseLevel(a.logLevel)
	if err != nil {
		return err
	}
	slog.SetDefault(slog.New(skribe.NewHandler(cmd.ErrOrStderr(), level, a.logJSON)))

	path := a.configPath
	if path == "" && a.rootFlag != "" {
		candidate := filepath.Join(a.rootFlag, config.FileName)
		if _, err := os.Stat(candidate); err == nil {
			path = candidate
		} else if !errors.Is(err, fs.ErrNotExist) {
			return err
		}
	}
	a.cfg, err = config.Load(path)
	if err != nil {
		return err
	}
	if a.rootFlag != "" {
		a.cfg.Workspace.Root = a.rootFlag
	}
	a.root, err = workspace.New(a.cfg.Workspace.Root)
	if err != nil {
		return fmt.Errorf("workspace root: %w", err)
	}

	// Every record of this invocation carries its id.
	ctx := skribe.ContextWithAttr(cmd.Context(), slog.String("invocation_id", ulid.Make().String()))
	cmd.SetContext(ctx)
	slog.DebugContext(ctx, "config_loaded",
		"root", a.root.String(),
		"provider", a.cfg.Provider.Name,
		"env", skribe.Redact(relevantEnv(a.cfg.Provider.APIKeyEnv)),
	)
	return nil
}

// relevantEnv returns the PATCHWORK_* variables and the provider key variable.
func relevantEnv(keyEnv string) []string {
	var env []string
	for _, kv := range os.Environ() {
		k, _, _ := strings.Cut(kv, "=")
		if strings.HasPrefix(k, "PATCHWORK_") || k == keyEnv {
			env = append(env, kv)
		}
	}
	return env
}

func (a *app) store() (*convstore.Store, error) {
	return convstore.Open(a.root, a.cfg.Workspace.StorageDir)
}

func (a *app) printer(cmd *cobra.Command) *termui.Printer {
	return termui.New(cmd.OutOrStdout())
}

// readInput reads the named file, or stdin when name is empty or "-".
func readInput(cmd *cobra.Command, name string) ([]byte, error) {
	if name == "" || name == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	return os.ReadFile(name)
}
