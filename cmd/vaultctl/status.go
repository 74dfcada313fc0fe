package main

import "github.com/spf13/cobra"

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "show node identity, shard coverage, and GC state",
		RunE: func(cmd *cobra.Command, args []string) error {
			var info map[string]any
			if err := request("GET", "/node/info", nil, &info); err != nil {
				return err
			}
			var shardStats map[string]any
			if err := request("GET", "/shard/stats", nil, &shardStats); err != nil {
				return err
			}
			var gcStatus map[string]any
			if err := request("GET", "/gc/status", nil, &gcStatus); err != nil {
				return err
			}
			printJSON(map[string]any{
				"node":  info,
				"shard": shardStats,
				"gc":    gcStatus,
			})
			return nil
		},
	}
}
