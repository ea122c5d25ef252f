package main

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/k8ika0s/xlsbundle/internal/plan"
	"github.com/k8ika0s/xlsbundle/internal/platform"
)

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Resolve and print the artifact plan as JSON",
	RunE:  runPlan,
}

func init() {
	addSelectionFlags(planCmd.Flags())
}

func runPlan(cmd *cobra.Command, _ []string) error {
	c := applySelectionFlags(cmd.Flags(), cfg)
	req, err := c.Request()
	if err != nil {
		return err
	}
	host, err := platform.Current()
	if err != nil {
		return err
	}
	p, err := plan.Resolver{Root: c.EDAToolsRoot, Host: host}.Resolve(req)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(p)
}
