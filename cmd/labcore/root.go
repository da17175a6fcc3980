package main

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"labcore/internal/core"
	"labcore/pkg/domain"
)

type rootFlags struct {
	configPath string
	lab        string
	actor      string
}

func (f *rootFlags) principal() domain.Principal {
	return domain.Principal{ActorID: f.actor, LabID: f.lab}
}

func newRootCmd(out io.Writer) *cobra.Command {
	flags := &rootFlags{}
	root := &cobra.Command{
		Use:           "labcore",
		Short:         "Laboratory resource lifecycle and protocol execution engine",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(out)
	root.PersistentFlags().StringVar(&flags.configPath, "config", "", "YAML config file (defaults to $LABCORE_CONFIG)")
	root.PersistentFlags().StringVar(&flags.lab, "lab", "", "lab id the command acts on")
	root.PersistentFlags().StringVar(&flags.actor, "actor", "cli", "actor id recorded on audit entries")

	root.AddCommand(
		newServeCmd(flags),
		newReorderCmd(flags),
		newPreflightCmd(flags),
		newHealthCmd(flags),
		newInventoryCmd(flags),
	)
	return root
}

// withApp opens the configured app for the duration of fn.
func withApp(cmd *cobra.Command, flags *rootFlags, fn func(*app) error) (err error) {
	a, err := openApp(cmd.Context(), flags.configPath)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := a.close(cmd.Context()); cerr != nil && err == nil {
			err = cerr
		}
	}()
	return fn(a)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func requireLab(flags *rootFlags) error {
	if flags.lab == "" {
		return fmt.Errorf("--lab is required")
	}
	return nil
}

func newReorderCmd(flags *rootFlags) *cobra.Command {
	var session string
	cmd := &cobra.Command{
		Use:   "reorder",
		Short: "Print reorder suggestions for a lab",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := requireLab(flags); err != nil {
				return err
			}
			return withApp(cmd, flags, func(a *app) error {
				report, err := a.svc.ReorderSuggestions(cmd.Context(), flags.principal(), session)
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), report)
			})
		},
	}
	cmd.Flags().StringVar(&session, "session", "", "hide suggestions dismissed in this session")
	return cmd
}

func newPreflightCmd(flags *rootFlags) *cobra.Command {
	var (
		version string
		start   string
	)
	cmd := &cobra.Command{
		Use:   "preflight PROTOCOL_ID",
		Short: "Check whether a protocol's resources are ready",
		Long:  "Resolves every reagent and device the protocol needs and prints the gate report. Exits non-zero on a fail verdict.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireLab(flags); err != nil {
				return err
			}
			var at time.Time
			if start != "" {
				t, err := time.Parse(time.RFC3339, start)
				if err != nil {
					return fmt.Errorf("--start: %w", err)
				}
				at = t
			}
			return withApp(cmd, flags, func(a *app) error {
				report, err := a.svc.Preflight(cmd.Context(), flags.principal(), args[0], version, at)
				if err != nil {
					return err
				}
				if err := writeJSON(cmd.OutOrStdout(), report); err != nil {
					return err
				}
				if report.Overall == domain.VerdictFail {
					return &core.PreflightError{Report: report}
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&version, "version", "", "protocol version id (defaults to the active version)")
	cmd.Flags().StringVar(&start, "start", "", "scheduled start, RFC 3339 (defaults to now)")
	return cmd
}

func newHealthCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Print device health, worst first",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := requireLab(flags); err != nil {
				return err
			}
			return withApp(cmd, flags, func(a *app) error {
				devices, err := a.svc.DeviceHealth(cmd.Context(), flags.principal())
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), devices)
			})
		},
	}
}

func newInventoryCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "inventory",
		Short: "Print inventory with stock levels",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := requireLab(flags); err != nil {
				return err
			}
			return withApp(cmd, flags, func(a *app) error {
				items, err := a.svc.ListInventory(cmd.Context(), flags.principal())
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), items)
			})
		},
	}
}
