package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func newCheckpointCommand(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "checkpoint",
		Short: "Manage crawl checkpoints",
	}

	var force bool
	clearCmd := &cobra.Command{
		Use:   "clear <job>",
		Short: "Forget the checkpoint of a job so the next scan reindexes everything",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, v, appOptions{jobs: args})
			if err != nil {
				return err
			}
			defer a.close(ctx)

			res := a.service.ClearCheckpoint(ctx, args[0], force)
			if !res.OK {
				return res.Err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", args[0], res.Message)
			return nil
		},
	}
	clearCmd.Flags().BoolVar(&force, "force", false,
		"clear a checkpoint left RUNNING by a process that is no longer scanning")
	cmd.AddCommand(clearCmd)
	return cmd
}
