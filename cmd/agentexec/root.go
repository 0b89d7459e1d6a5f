package main

import (
	"github.com/spf13/cobra"

	"github.com/hupe1980/agentexec"
	"github.com/hupe1980/agentexec/config"
)

// Execute runs the CLI.
func Execute() error {
	return newRootCmd().Execute()
}

func newRootCmd() *cobra.Command {
	var configPath string

	rootCmd := &cobra.Command{
		Use:          "agentexec",
		Short:        "Run tool-using LLM agents with memory and streaming",
		Long:         "agentexec runs configured agents through a bounded reasoning loop with tool calls, hybrid conversational memory and typed event streaming.",
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to a YAML config file")

	load := func() (*config.Config, error) { return config.Load(configPath) }
	rootCmd.AddCommand(
		newRunCmd(load),
		newServeCmd(load),
	)
	return rootCmd
}

// build creates the service and returns it with its config.
func build(load func() (*config.Config, error), optFns ...func(o *agentexec.Options)) (*agentexec.AgentExec, *config.Config, error) {
	cfg, err := load()
	if err != nil {
		return nil, nil, err
	}
	ax, err := agentexec.NewFromConfig(cfg, optFns...)
	if err != nil {
		return nil, nil, err
	}
	return ax, cfg, nil
}
