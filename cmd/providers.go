package main

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"

	"github.com/melhorpreco/coverage-api/internal/store"
)

var providersCmd = &cobra.Command{
	Use:   "providers",
	Short: "List stored providers",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		providers, err := st.ListProviders(ctx)
		if err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(providers)
	},
}

var areasCmd = &cobra.Command{
	Use:   "areas",
	Short: "List stored coverage areas",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		areas, err := st.ListAreas(ctx, store.AreaFilter{ProviderID: areasProviderID})
		if err != nil {
			return err
		}

		type row struct {
			ID         string   `json:"id"`
			ProviderID string   `json:"provider_id"`
			Name       string   `json:"name"`
			Rank       *int     `json:"rank,omitempty"`
			Score      *float64 `json:"score,omitempty"`
		}
		rows := make([]row, 0, len(areas))
		for _, a := range areas {
			rows = append(rows, row{
				ID:         a.ID,
				ProviderID: a.ProviderID,
				Name:       a.Name,
				Rank:       a.Rank,
				Score:      a.Score,
			})
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(rows)
	},
}

var areasProviderID string

func init() {
	areasCmd.Flags().StringVar(&areasProviderID, "provider", "", "filter by provider id")
	rootCmd.AddCommand(providersCmd)
	rootCmd.AddCommand(areasCmd)
}
