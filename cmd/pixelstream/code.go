package main

import (
	"context"
	"fmt"

	"pixelstreamer/native/internal/api"

	"github.com/spf13/cobra"
)

func codeCmd(g *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "code",
		Short: "Issue or delete a pairing code on the relay",
	}
	cmd.AddCommand(codeGenerateCmd(g))
	cmd.AddCommand(codeDeleteCmd(g))
	return cmd
}

func codeGenerateCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "generate",
		Short: "Issue a pairing code and print it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(g)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), api.DefaultTimeout)
			defer cancel()

			code, err := api.NewClient(cfg.Endpoints, nil).GenerateCode(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), code)
			return nil
		},
	}
}

func codeDeleteCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <code>",
		Short: "Delete a pairing code",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(g)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), api.DefaultTimeout)
			defer cancel()

			if err := api.NewClient(cfg.Endpoints, nil).DeleteCode(ctx, args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", args[0])
			return nil
		},
	}
}
