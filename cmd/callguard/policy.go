package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/callguardhq/callguard/internal/policy"
)

var policyCmd = &cobra.Command{
	Use:   "policy",
	Short: "Manage the local policy store",
}

var policyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored policies",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := policy.OpenStore(cfg.Storage.PolicyStorePath)
		if err != nil {
			return err
		}
		defer store.Close()

		policies, err := store.List()
		if err != nil {
			return err
		}
		if len(policies) == 0 {
			fmt.Println("No policies stored.")
			return nil
		}
		for _, p := range policies {
			id := p.ID
			if id == "" {
				id = p.Name
			}
			fmt.Printf("%-24s %-28s v%-6s %s\n", id, p.Name, p.Version, p.Domain)
		}
		return nil
	},
}

var policyShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show one stored policy",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := policy.OpenStore(cfg.Storage.PolicyStorePath)
		if err != nil {
			return err
		}
		defer store.Close()

		p, err := store.Load(args[0])
		if err != nil {
			return err
		}
		fmt.Printf("Name:        %s\n", p.Name)
		fmt.Printf("Domain:      %s\n", p.Domain)
		fmt.Printf("Version:     %s\n", p.Version)
		if p.Description != "" {
			fmt.Printf("Description: %s\n", p.Description)
		}
		if len(p.RegulatoryRefs) > 0 {
			fmt.Printf("Regulatory:  %v\n", p.RegulatoryRefs)
		}
		if p.Escalation != nil {
			fmt.Printf("Escalation:  flags=%d critical=%t trend=%t\n",
				p.Escalation.MaxConsecutiveFlags,
				p.Escalation.AutoEscalateOnCritical,
				p.Escalation.TrendEscalation)
		}
		fmt.Printf("\n%s\n", p.EffectivePrompt())
		return nil
	},
}

var policyImportCmd = &cobra.Command{
	Use:   "import <policy.yaml>",
	Short: "Import a policy YAML file into the store",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := policy.LoadFile(args[0])
		if err != nil {
			return err
		}
		store, err := policy.OpenStore(cfg.Storage.PolicyStorePath)
		if err != nil {
			return err
		}
		defer store.Close()

		if err := store.Save(p); err != nil {
			return err
		}
		logger.WithField("policy", p.Name).Info("Policy imported")
		return nil
	},
}

var policyDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a stored policy",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := policy.OpenStore(cfg.Storage.PolicyStorePath)
		if err != nil {
			return err
		}
		defer store.Close()
		return store.Delete(args[0])
	},
}

func init() {
	policyCmd.AddCommand(policyListCmd)
	policyCmd.AddCommand(policyShowCmd)
	policyCmd.AddCommand(policyImportCmd)
	policyCmd.AddCommand(policyDeleteCmd)
}
