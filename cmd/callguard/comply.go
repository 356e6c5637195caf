package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/callguardhq/callguard/internal/compliance"
	"github.com/callguardhq/callguard/internal/llm"
	"github.com/callguardhq/callguard/internal/policy"
)

var (
	complyPolicyFile  string
	complyMinAccuracy float64
)

var complyCmd = &cobra.Command{
	Use:   "comply <suite.yaml>",
	Short: "Run a compliance suite against a policy",
	Long: `Judges every labeled case in the suite under the policy's prompt and
reports accuracy, precision, recall, and the cases that were missed.
Exits non-zero when accuracy falls below --min-accuracy.`,
	Args: cobra.ExactArgs(1),
	RunE: runComply,
}

func init() {
	complyCmd.Flags().StringVar(&complyPolicyFile, "policy", "", "policy YAML file (required)")
	complyCmd.Flags().Float64Var(&complyMinAccuracy, "min-accuracy", 0, "fail when accuracy is below this fraction")
	complyCmd.MarkFlagRequired("policy")
}

func runComply(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	pol, err := policy.LoadFile(complyPolicyFile)
	if err != nil {
		return err
	}
	suite, err := compliance.LoadSuite(args[0])
	if err != nil {
		return err
	}

	client, err := llm.NewClient(ctx, cfg)
	if err != nil {
		return fmt.Errorf("judge client init failed: %w", err)
	}
	if !client.Enabled() {
		return fmt.Errorf("comply requires a configured LLM provider")
	}

	report, err := compliance.NewHarness(client).Run(ctx, pol, suite)
	if err != nil {
		return err
	}
	fmt.Print(report.Summary())

	if complyMinAccuracy > 0 && report.Accuracy() < complyMinAccuracy {
		return fmt.Errorf("accuracy %.1f%% below required %.1f%%",
			report.Accuracy()*100, complyMinAccuracy*100)
	}
	return nil
}
