package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func newKeyCmd(flags *globalFlags) *cobra.Command {
	keyCmd := &cobra.Command{
		Use:   "key",
		Short: "Manage custodian keys",
		Long:  `Commands for provisioning, inspecting and re-provisioning keys held by the key store.`,
	}

	var alias string
	keyCmd.PersistentFlags().StringVar(&alias, "alias", "default_key", "Key alias")

	keyCmd.AddCommand(
		&cobra.Command{
			Use:   "ensure",
			Short: "Provision the key if it does not exist",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withApp(cmd.Context(), flags, func(a *app) error {
					if err := a.custodian.EnsureKey(alias); err != nil {
						return err
					}
					info, err := a.custodian.Info(alias)
					if err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "%s %s (%s, %s)\n", info.Alias, info.ID, info.Backend, info.Backing)
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "info",
			Short: "Print key metadata as JSON",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withApp(cmd.Context(), flags, func(a *app) error {
					info, err := a.custodian.Info(alias)
					if err != nil {
						return err
					}
					enc := json.NewEncoder(cmd.OutOrStdout())
					enc.SetIndent("", "  ")
					return enc.Encode(info)
				})
			},
		},
		newReprovisionCmd(flags, &alias),
	)
	return keyCmd
}

func newReprovisionCmd(flags *globalFlags, alias *string) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "reprovision",
		Short: "Destroy and regenerate the key",
		Long: `Destroys the key under the alias and generates a new one. Everything
encrypted under the old key, including secure record stores that use it as
their master key, becomes permanently unreadable.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !yes {
				return fmt.Errorf("reprovisioning %q destroys data sealed under it; pass --yes to confirm", *alias)
			}
			return withApp(cmd.Context(), flags, func(a *app) error {
				info, err := a.custodian.Reprovision(*alias)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s (%s, %s)\n", info.Alias, info.ID, info.Backend, info.Backing)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "Confirm destruction of the existing key")
	return cmd
}
