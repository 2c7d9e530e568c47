package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/grobertson/rosey/pkg/storage"
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Manage API tokens",
}

var tokenGenerateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate a new API token",
	RunE: func(cmd *cobra.Command, args []string) error {
		description, _ := cmd.Flags().GetString("description")

		store, err := storage.Open(cfg.Database.Path)
		if err != nil {
			return err
		}
		defer store.Close()

		token, err := store.GenerateAPIToken(context.Background(), description)
		if err != nil {
			return err
		}

		fmt.Println("Generated API token (store it securely, it cannot be retrieved later):")
		fmt.Println(token)
		return nil
	},
}

var tokenListCmd = &cobra.Command{
	Use:   "list",
	Short: "List API tokens",
	RunE: func(cmd *cobra.Command, args []string) error {
		includeRevoked, _ := cmd.Flags().GetBool("all")

		store, err := storage.Open(cfg.Database.Path)
		if err != nil {
			return err
		}
		defer store.Close()

		tokens, err := store.ListAPITokens(context.Background(), includeRevoked)
		if err != nil {
			return err
		}
		if len(tokens) == 0 {
			fmt.Println("No tokens.")
			return nil
		}

		for _, t := range tokens {
			status := "active"
			if t.Revoked {
				status = "revoked"
			}
			lastUsed := "never"
			if t.LastUsed != nil {
				lastUsed = time.Unix(*t.LastUsed, 0).Format(time.RFC3339)
			}
			fmt.Printf("%s  %-8s  created %s  last used %s  %s\n",
				t.TokenPreview, status,
				time.Unix(t.CreatedAt, 0).Format(time.RFC3339),
				lastUsed, t.Description)
		}
		return nil
	},
}

var tokenRevokeCmd = &cobra.Command{
	Use:   "revoke <token-or-prefix>",
	Short: "Revoke an API token",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := storage.Open(cfg.Database.Path)
		if err != nil {
			return err
		}
		defer store.Close()

		count, err := store.RevokeAPIToken(context.Background(), args[0])
		if err != nil {
			return err
		}
		if count == 0 {
			fmt.Println("No matching active tokens.")
			return nil
		}
		fmt.Printf("Revoked %d token(s).\n", count)
		return nil
	},
}

func init() {
	tokenGenerateCmd.Flags().String("description", "", "What this token is for")
	tokenListCmd.Flags().Bool("all", false, "Include revoked tokens")

	tokenCmd.AddCommand(tokenGenerateCmd)
	tokenCmd.AddCommand(tokenListCmd)
	tokenCmd.AddCommand(tokenRevokeCmd)
}
