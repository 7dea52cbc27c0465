package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"hivemind/internal/policy"
)

var (
	policyFile string
	policyName string
)

// policyCmd evaluates a guard policy against text from the command line.
var policyCmd = &cobra.Command{
	Use:   "policy check [text]",
	Short: "Evaluate a named guard policy against input text",
	Args:  cobra.ExactArgs(2),
	Example: `  hivemind policy check "rm -rf /" --file policies.yaml --name no-destructive-commands`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if args[0] != "check" {
			return fmt.Errorf("unknown policy subcommand %q", args[0])
		}
		file := policyFile
		if file == "" {
			file = cfg.Policy.File
		}
		if file == "" {
			return fmt.Errorf("no policy file configured; pass --file or set policy.file")
		}
		if policyName == "" {
			return fmt.Errorf("--name is required")
		}

		enforcer := policy.NewEnforcer()
		if err := enforcer.LoadFile(file); err != nil {
			return err
		}
		if err := enforcer.CheckPolicy(policyName, args[1]); err != nil {
			return fmt.Errorf("denied: %w", err)
		}
		fmt.Println("allowed")
		return nil
	},
}

func init() {
	policyCmd.Flags().StringVar(&policyFile, "file", "", "YAML policy file")
	policyCmd.Flags().StringVar(&policyName, "name", "", "policy to evaluate")
}
