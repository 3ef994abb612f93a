package main

import (
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/openmined/blobdispatch/internal/blob"
	"github.com/openmined/blobdispatch/internal/config"
	"github.com/openmined/blobdispatch/internal/dispatch"
	"github.com/openmined/blobdispatch/internal/provider"
	"github.com/samber/lo"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func configuredProviders(cfg *config.Config) []string {
	return lo.Map(cfg.Providers, func(p provider.Config, _ int) string { return p.ID })
}

func newRouteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "route",
		Short: "Print the provider a new blob would be written to",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			cmd.SilenceUsage = true

			d, err := dispatch.New(&cfg.Dispatch)
			if err != nil {
				return err
			}

			repository, _ := cmd.Flags().GetString("repository")
			docType, _ := cmd.Flags().GetString("doc-type")
			xpath, _ := cmd.Flags().GetString("xpath")
			mimeType, _ := cmd.Flags().GetString("mime-type")

			target := dispatch.Target{Repository: repository, DocType: docType, XPath: xpath}
			providerID := d.Dispatch(target, blob.NewBytesBlob(nil, blob.WithMimeType(mimeType)))

			if !lo.Contains(configuredProviders(cfg), providerID) {
				fmt.Fprintln(cmd.OutOrStdout(), providerID, red("(not configured)"))
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), providerID)
			return nil
		},
	}

	cmd.Flags().StringP("repository", "r", "", "Repository of the owning document")
	cmd.Flags().StringP("doc-type", "t", "", "Type of the owning document")
	cmd.Flags().StringP("xpath", "x", "", "Property path of the blob in the document")
	cmd.Flags().StringP("mime-type", "m", "", "Mime type of the blob")
	return cmd
}

func newRulesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rules",
		Short: "Print the effective dispatch configuration, rules files included",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			cmd.SilenceUsage = true

			if out, _ := cmd.Flags().GetString("output"); out != "" {
				if err := cfg.Dispatch.Save(out); err != nil {
					return err
				}
				fmt.Fprintln(cmd.ErrOrStderr(), green("saved"), out)
				return nil
			}

			enc := yaml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(2)
			if err := enc.Encode(&cfg.Dispatch); err != nil {
				return err
			}
			return enc.Close()
		},
	}

	cmd.Flags().StringP("output", "o", "", "Write to this file instead of stdout")
	return cmd
}

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the config and that every dispatch target is a configured provider",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			cmd.SilenceUsage = true

			d, err := dispatch.New(&cfg.Dispatch)
			if err != nil {
				return err
			}

			missing, _ := lo.Difference(d.SortedProviderIDs(), configuredProviders(cfg))
			if len(missing) > 0 {
				err := &blob.MisconfiguredDispatchError{ProviderIDs: missing}
				fmt.Fprintln(cmd.OutOrStdout(), red("FAIL"), err)
				if cfg.Strict {
					return err
				}
				return nil
			}

			fmt.Fprintf(cmd.OutOrStdout(), "%s %d providers, %d rules\n", green("OK"), len(cfg.Providers), len(d.Rules()))
			return nil
		},
	}
}

func newProvidersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "providers",
		Short: "Open every configured provider and report its health",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			cmd.SilenceUsage = true

			mgr, err := newManager(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer closeManager(mgr)

			registry := mgr.Registry()
			health := registry.CheckHealth(cmd.Context())

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tTYPE\tTRANSIENT\tUSER UPDATE\tHEALTH")

			var unhealthy []error
			for _, pc := range cfg.Providers {
				p, err := registry.GetProvider(pc.ID)
				if err != nil {
					return err
				}
				status := green("ok")
				if err := health[pc.ID]; err != nil {
					status = red(err.Error())
					unhealthy = append(unhealthy, fmt.Errorf("%s: %w", pc.ID, err))
				}
				id := pc.ID
				if id == registry.DefaultProvider() {
					id += " *"
				}
				fmt.Fprintf(w, "%s\t%s\t%t\t%t\t%s\n", id, pc.Type, blob.IsTransient(p), p.SupportsUserUpdate(), status)
			}
			if err := w.Flush(); err != nil {
				return err
			}

			return errors.Join(unhealthy...)
		},
	}
}
