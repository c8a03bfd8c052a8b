package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var txCmd = &cobra.Command{
	Use:   "tx <hash>",
	Short: "Show the result of a submitted transaction",
	Long: `Look up a transaction by the hash printed when it was submitted.
Only transactions that have been delivered in a block are found.`,
	Args: cobra.ExactArgs(1),
	RunE: runTx,
}

func init() {
	rootCmd.AddCommand(txCmd)
}

func runTx(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext(cmd)
	defer cancel()

	s, err := openSession()
	if err != nil {
		return err
	}
	res, err := s.rpc.QueryTx(ctx, args[0])
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	status := "ok"
	if !res.IsOK() {
		status = fmt.Sprintf("failed (code %d)", res.Code)
	}
	fmt.Fprintf(out, "Hash:   %s\nHeight: %d\nStatus: %s\n", res.Hash, res.Height, status)
	if res.Log != "" {
		fmt.Fprintf(out, "Log:    %s\n", oneLine(res.Log))
	}
	for _, id := range res.Created {
		fmt.Fprintf(out, "Created: %s\n", id)
	}
	for _, n := range res.Events {
		if n.Event == nil {
			continue
		}
		fmt.Fprintf(out, "Event:  #%d %s\n", n.Seq, n.Event.Type())
	}
	return nil
}
