package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/melhorpreco/coverage-api/internal/model"
)

var (
	lookupCEP string
	lookupLat float64
	lookupLng float64
)

var lookupCmd = &cobra.Command{
	Use:   "lookup",
	Short: "Query coverage for a CEP or coordinate pair",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		hasPoint := cmd.Flags().Changed("lat") || cmd.Flags().Changed("lng")
		if (lookupCEP != "") == hasPoint {
			return eris.New("provide either --cep or --lat/--lng")
		}

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		var result *model.QueryResult
		if lookupCEP != "" {
			result = env.Service.LookupByCEP(ctx, lookupCEP)
		} else {
			result = env.Service.LookupByPoint(ctx, model.GeoPoint{Lat: lookupLat, Lng: lookupLng})
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	},
}

func init() {
	lookupCmd.Flags().StringVar(&lookupCEP, "cep", "", "postal code to resolve")
	lookupCmd.Flags().Float64Var(&lookupLat, "lat", 0, "latitude")
	lookupCmd.Flags().Float64Var(&lookupLng, "lng", 0, "longitude")
	rootCmd.AddCommand(lookupCmd)
}
