package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/CloudNativeWorks/isul-sdk/isul/token"
)

func keygenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "keygen",
		Short: "Generate an Ed25519 key pair for the license service",
		RunE: func(cmd *cobra.Command, _ []string) error {
			pub, priv, err := token.GenerateKey()
			if err != nil {
				return fmt.Errorf("generate key: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "private_key: %s\n", token.EncodePrivateKey(priv))
			fmt.Fprintf(cmd.OutOrStdout(), "public_key: %s\n", token.EncodePublicKey(pub))
			return nil
		},
	}
}
