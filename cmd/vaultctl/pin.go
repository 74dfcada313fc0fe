package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newPinCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pin <cid>",
		Short: "pin a blob so GC never reclaims it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var meta map[string]any
			if err := request("POST", "/pin/"+args[0], nil, &meta); err != nil {
				return err
			}
			printJSON(meta)
			return nil
		},
	}
}

func newUnpinCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "unpin <cid>",
		Short: "remove a blob's pin",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var meta map[string]any
			if err := request("DELETE", "/pin/"+args[0], nil, &meta); err != nil {
				return err
			}
			printJSON(meta)
			return nil
		},
	}
}

func newPinListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pin-list",
		Short: "list every pinned blob",
		RunE: func(cmd *cobra.Command, args []string) error {
			var out map[string]any
			if err := request("GET", "/pin/list", nil, &out); err != nil {
				return err
			}
			printJSON(out)
			return nil
		},
	}
}

func newBanCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ban <cid>",
		Short: "block a blob from retrieval without deleting it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := request("POST", "/admin/ban/"+args[0], nil, nil); err != nil {
				return err
			}
			fmt.Println("banned", args[0])
			return nil
		},
	}
}

func newUnbanCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "unban <cid>",
		Short: "lift a ban on a blob",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := request("DELETE", "/admin/ban/"+args[0], nil, nil); err != nil {
				return err
			}
			fmt.Println("unbanned", args[0])
			return nil
		},
	}
}
