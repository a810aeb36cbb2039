package cmd

import (
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"k8s.io/klog/klogr"

	"github.com/devpush/updater/pkg/loginfra"
	"github.com/devpush/updater/pkg/updater"
)

func Execute() {
	log := klogr.New()

	req := updater.UpdateRequest{}

	cmd := cobra.Command{
		Use:   "devpush-update [ref]",
		Short: "Update a devpush instance to a target version",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				req.Ref = args[0]
			}

			m, err := updater.New(updater.Logger(log))
			if err != nil {
				return err
			}

			_, err = m.Update(req)
			return err
		},
	}

	cmd.Flags().StringVar(&req.Scope, "scope", "", "rollout scope: all, components=<csv> or full")
	cmd.Flags().StringSliceVar(&req.Components, "components", nil, "restrict the rollout to the named components")
	cmd.Flags().BoolVar(&req.Full, "full", false, "recreate the full stack (causes downtime)")
	cmd.Flags().BoolVar(&req.SkipMigrations, "skip-migrations", false, "do not run database migrations after the rollout")
	cmd.Flags().BoolVar(&req.SkipTelemetry, "skip-telemetry", false, "do not report the version transition")
	cmd.Flags().BoolVarP(&req.AssumeYes, "yes", "y", false, "assume yes on the full-update confirmation prompt")
	cmd.Flags().BoolVar(&req.NonInteractive, "non-interactive", false, "never prompt; fail where a confirmation would be required")

	cmd.SilenceErrors = true

	fs := loginfra.Init()

	// Hand parsing of remaining flags to pflags and cobra
	pflag.CommandLine.AddGoFlagSet(fs)

	if err := cmd.Execute(); err != nil {
		log.Error(err, err.Error())
		os.Exit(1)
	}
}
