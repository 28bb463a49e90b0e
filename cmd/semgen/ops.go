package main

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/c360studio/semgen/ops"
)

func newOpsCmd(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ops",
		Short: "Invoke individual pipeline operations",
	}
	cmd.AddCommand(newOpsListCmd(flags), newOpsCallCmd(flags))
	return cmd
}

func newOpsListCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List available operations and their parameter schemas",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(flags)
			if err != nil {
				return err
			}
			executor := ops.NewWorkspaceExecutor(cfg, slog.Default())

			out := make([]map[string]any, 0)
			for _, def := range executor.ListOperations() {
				out = append(out, map[string]any{
					"name":        def.Name,
					"description": def.Description,
					"parameters":  def.Parameters,
				})
			}
			data, err := json.MarshalIndent(out, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(data))
			return nil
		},
	}
}

func newOpsCallCmd(flags *globalFlags) *cobra.Command {
	var argsJSON string

	cmd := &cobra.Command{
		Use:   "call <operation>",
		Short: "Invoke one operation with JSON arguments",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(flags)
			if err != nil {
				return err
			}

			var callArgs map[string]any
			if argsJSON != "" {
				if err := json.Unmarshal([]byte(argsJSON), &callArgs); err != nil {
					return fmt.Errorf("parse --args: %w", err)
				}
			}

			executor := ops.NewRecordingExecutor(ops.NewWorkspaceExecutor(cfg, slog.Default()), slog.Default())
			result, err := executor.Execute(cmd.Context(), ops.Call{
				ID:        uuid.NewString(),
				Name:      args[0],
				Arguments: callArgs,
			})
			if err != nil {
				return err
			}
			if result.Error != "" {
				return fmt.Errorf("%s", result.Error)
			}
			fmt.Println(result.Content)
			return nil
		},
	}
	cmd.Flags().StringVar(&argsJSON, "args", "", "Operation arguments as a JSON object")
	return cmd
}
