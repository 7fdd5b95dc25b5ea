// Package main provides phasectl, a tool for checking phase declaration files
// and printing the chains they resolve to.
package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/drblury/phaseflow"
)

const appName = "phasectl"

var version = "dev"

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

type options struct {
	configPath string
	logLevel   string
}

func rootCmd() *cobra.Command {
	opts := &options{}

	cmd := &cobra.Command{
		Use:   appName,
		Short: "Inspect phase declarations and resolved handler chains",
		Long: `phasectl loads a phase declaration file, admits every declared handler
into a phase holder, and reports what the holder resolved.

Resolution problems such as a handler bound to an undeclared phase or two
handlers claiming the same first slot are reported with the handler and
phase names.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "phases.yaml", "Declaration file (yaml, json or toml)")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "warn", "Log level (debug, info, warn, error)")

	cmd.AddCommand(validateCmd(opts), planCmd(opts))
	return cmd
}

func validateCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check that every declared handler resolves to a phase",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			h, err := loadHolder(opts, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			total := 0
			for _, f := range phaseflow.Flows {
				plan, err := h.Plan(f)
				if err != nil {
					return err
				}
				total += len(plan.HandlerNames())
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: OK (%d handlers across %d flows)\n", opts.configPath, total, len(phaseflow.Flows))
			return nil
		},
	}
}

func planCmd(opts *options) *cobra.Command {
	var (
		flows  []string
		output string
	)

	cmd := &cobra.Command{
		Use:     "plan",
		Aliases: []string{"chain"},
		Short:   "Print the resolved handler order per flow",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			selected, err := parseFlows(flows)
			if err != nil {
				return err
			}
			h, err := loadHolder(opts, cmd.ErrOrStderr())
			if err != nil {
				return err
			}

			plans := make([]phaseflow.Plan, 0, len(selected))
			for _, f := range selected {
				plan, err := h.Plan(f)
				if err != nil {
					return err
				}
				plans = append(plans, plan)
			}
			return writePlans(cmd.OutOrStdout(), output, plans)
		},
	}

	cmd.Flags().StringSliceVarP(&flows, "flow", "f", nil, "Flows to print (default: all)")
	cmd.Flags().StringVarP(&output, "output", "o", "text", "Output format: text, json, yaml")
	return cmd
}

func parseFlows(names []string) ([]phaseflow.Flow, error) {
	if len(names) == 0 {
		return phaseflow.Flows, nil
	}
	out := make([]phaseflow.Flow, 0, len(names))
	for _, n := range names {
		f, err := phaseflow.ParseFlow(n)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, nil
}

func loadHolder(opts *options, logOut io.Writer) (*phaseflow.PhaseHolder, error) {
	cfg, err := phaseflow.LoadConfig(opts.configPath)
	if err != nil {
		return nil, err
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(opts.logLevel)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", opts.logLevel, err)
	}
	logger := phaseflow.NewSlogLogger(slog.New(slog.NewTextHandler(logOut, &slog.HandlerOptions{Level: level})))

	return phaseflow.NewHolderFromConfig(cfg, phaseflow.Dependencies{Name: appName, Logger: logger})
}

func writePlans(w io.Writer, format string, plans []phaseflow.Plan) error {
	switch strings.ToLower(format) {
	case "json":
		return phaseflow.EncodePlans(w, plans...)
	case "yaml", "yml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(plans); err != nil {
			return fmt.Errorf("encode plans: %w", err)
		}
		return enc.Close()
	case "text", "":
		writeText(w, plans)
		return nil
	}
	return fmt.Errorf("unsupported output format %q (use text, json or yaml)", format)
}

func writeText(w io.Writer, plans []phaseflow.Plan) {
	for i, plan := range plans {
		if i > 0 {
			fmt.Fprintln(w)
		}
		fmt.Fprintf(w, "%s:\n", plan.Flow)
		for _, p := range plan.Phases {
			fmt.Fprintf(w, "  %s\n", p.Name)
			for _, h := range p.Handlers {
				line := "    - " + h.Name
				if h.Implementation != "" {
					line += " (" + h.Implementation + ")"
				}
				if h.Order != "declaration order" {
					line += " [" + h.Order + "]"
				}
				fmt.Fprintln(w, line)
			}
		}
	}
}
