package main

import "github.com/spf13/cobra"

func newProofCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "proof",
		Short: "generate storage proofs",
	}
	root.AddCommand(newProofGenerateCmd())
	return root
}

func newProofGenerateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "generate <cid>",
		Short: "generate a fresh storage proof for a locally held blob",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var proof map[string]any
			if err := request("POST", "/proofs/generate", map[string]string{"cid": args[0]}, &proof); err != nil {
				return err
			}
			printJSON(proof)
			return nil
		},
	}
}
