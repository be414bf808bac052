package cmd

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
)

// readInput returns args[0], or stdin when args is empty or "-".
func readInput(cmd *cobra.Command, args []string) ([]byte, error) {
	if len(args) == 1 && args[0] != "-" {
		return []byte(args[0]), nil
	}
	data, err := io.ReadAll(cmd.InOrStdin())
	if err != nil {
		return nil, fmt.Errorf("reading stdin: %w", err)
	}
	return data, nil
}

func newEncryptCmd(flags *globalFlags) *cobra.Command {
	var alias string
	cmd := &cobra.Command{
		Use:   "encrypt [plaintext|-]",
		Short: "Encrypt text and print the base64 envelope",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			plaintext, err := readInput(cmd, args)
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), flags, func(a *app) error {
				encoded, err := a.custodian.Encrypt(alias, plaintext)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), encoded)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&alias, "alias", "default_key", "Key alias")
	return cmd
}

func newDecryptCmd(flags *globalFlags) *cobra.Command {
	var alias string
	cmd := &cobra.Command{
		Use:   "decrypt [envelope|-]",
		Short: "Decrypt a base64 envelope",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			encoded, err := readInput(cmd, args)
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), flags, func(a *app) error {
				plaintext, err := a.custodian.Decrypt(alias, strings.TrimSpace(string(encoded)))
				if err != nil {
					return err
				}
				_, err = cmd.OutOrStdout().Write(plaintext)
				return err
			})
		},
	}
	cmd.Flags().StringVar(&alias, "alias", "default_key", "Key alias")
	return cmd
}
