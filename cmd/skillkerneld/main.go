// Command skillkerneld is a thin CLI harness around the skillkernel
// package: load configuration, build a Kernel, and dispatch a single
// Invoke call per process invocation.
package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	skillkernel "github.com/flexigpt/skillkernel-go"
	"github.com/flexigpt/skillkernel-go/internal/config"
	"github.com/flexigpt/skillkernel-go/spec"
)

// Exit codes per the Configuration component (spec §6).
const (
	exitOK                  = 0
	exitMalformedConfig     = 2
	exitSkillsRootNotFound  = 3
	exitMetadataUnreadable  = 4
)

var (
	configPath string
	sessionID  string
	argsJSON   string
)

func main() {
	root := &cobra.Command{
		Use:   "skillkerneld",
		Short: "Skill Kernel daemon and one-shot dispatch CLI",
		Long: color.New(color.FgCyan, color.Bold).Sprint("skillkerneld") +
			" loads skill-kernel.toml (or env overrides), builds a Kernel,\n" +
			"and either dispatches a single tool call or serves the hot-reload loop.",
	}
	root.PersistentFlags().StringVar(&configPath, "config", "./skill-kernel.toml", "path to the TOML configuration file")

	invokeCmd := &cobra.Command{
		Use:   "invoke <target>",
		Short: "Dispatch one Invoke(target, args) call and print the result",
		Args:  cobra.ExactArgs(1),
		RunE:  runInvoke,
	}
	invokeCmd.Flags().StringVar(&sessionID, "session", "", "session id (a fresh one is minted if omitted)")
	invokeCmd.Flags().StringVar(&argsJSON, "args", "{}", "JSON object of command arguments")
	root.AddCommand(invokeCmd)

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Build the Kernel and run the hot-reload poll loop until interrupted",
		RunE:  runServe,
	}
	root.AddCommand(serveCmd)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, color.RedString("error: %v", err))
		os.Exit(exitCodeFor(err))
	}
}

func buildKernel() (*skillkernel.Kernel, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, &cliError{code: exitMalformedConfig, err: err}
	}
	if _, statErr := os.Stat(cfg.SkillsRootPath); statErr != nil {
		return nil, &cliError{code: exitSkillsRootNotFound, err: fmt.Errorf("skills root %s: %w", cfg.SkillsRootPath, statErr)}
	}

	k, err := skillkernel.New(cfg)
	if err != nil {
		return nil, &cliError{code: exitMetadataUnreadable, err: err}
	}
	return k, nil
}

func runInvoke(cmd *cobra.Command, args []string) error {
	k, err := buildKernel()
	if err != nil {
		return err
	}

	var argMap map[string]any
	if err := json.Unmarshal([]byte(argsJSON), &argMap); err != nil {
		return &cliError{code: exitMalformedConfig, err: fmt.Errorf("parse --args: %w", err)}
	}

	sid := sessionID
	if sid == "" {
		sid = uuid.NewString()
	}

	res := k.Invoke(cmd.Context(), spec.SessionID(sid), args[0], argMap)
	if res.Error != nil {
		fmt.Fprintln(os.Stderr, color.YellowString("[%s] %s", res.Error.Kind, res.Error.Message))
		if len(res.Error.Extra) > 0 {
			extra, _ := json.MarshalIndent(res.Error.Extra, "", "  ")
			fmt.Fprintln(os.Stderr, string(extra))
		}
		return &cliError{code: 1, err: fmt.Errorf("%s", res.Error.Kind)}
	}

	switch v := res.Value.(type) {
	case string:
		fmt.Println(v)
	default:
		out, _ := json.MarshalIndent(v, "", "  ")
		fmt.Println(string(out))
	}
	return nil
}

func runServe(cmd *cobra.Command, args []string) error {
	k, err := buildKernel()
	if err != nil {
		return err
	}
	defer k.Close()

	ctx := cmd.Context()
	if err := k.StartBackground(ctx); err != nil {
		return err
	}
	fmt.Println(color.GreenString("skill kernel reload loop running, press Ctrl-C to stop"))
	<-ctx.Done()
	return nil
}

type cliError struct {
	code int
	err  error
}

func (e *cliError) Error() string { return e.err.Error() }
func (e *cliError) Unwrap() error { return e.err }

func exitCodeFor(err error) int {
	var ce *cliError
	if e, ok := err.(*cliError); ok {
		ce = e
	}
	if ce != nil {
		return ce.code
	}
	return 1
}
