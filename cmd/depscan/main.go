package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	replaycmd "github.com/yourorg/dependency-scanner/cmd/replay"
	scancmd "github.com/yourorg/dependency-scanner/cmd/scan"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "depscan",
		Short: "Container dependency scanner",
		Long:  "depscan scans the container images of configured build targets, tracks their vulnerabilities and notifies about changes. Infrastructure is configured through environment variables, repositories through a YAML file.",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			_ = cmd.Help()
		},
	}
	scancmd.AddCommandTo(rootCmd)
	replaycmd.AddCommandTo(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
