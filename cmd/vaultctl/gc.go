package main

import "github.com/spf13/cobra"

func newGCCmd() *cobra.Command {
	var simulate bool
	cmd := &cobra.Command{
		Use:   "gc",
		Short: "run a garbage collection pass",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "/admin/gc?simulate=false"
			if simulate {
				path = "/admin/gc?simulate=true"
			}
			var result map[string]any
			if err := request("POST", path, nil, &result); err != nil {
				return err
			}
			printJSON(result)
			return nil
		},
	}
	cmd.Flags().BoolVar(&simulate, "simulate", true, "score and report candidates without deleting")
	return cmd
}
