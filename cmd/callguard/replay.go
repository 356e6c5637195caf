package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/callguardhq/callguard/internal/recorder"
)

var replayCmd = &cobra.Command{
	Use:   "replay <recording.jsonl>",
	Short: "Summarize a recorded session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		summary, err := recorder.Summarize(args[0])
		if err != nil {
			return err
		}
		if summary.Events == 0 {
			fmt.Println("Empty recording.")
			return nil
		}
		fmt.Print(summary.String())
		return nil
	},
}
