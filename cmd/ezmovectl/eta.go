package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	etasvc "github.com/example/ezmove/internal/eta/service"
)

func newETACmd() *cobra.Command {
	var (
		from, to [2]float64
		speed    float64
	)
	cmd := &cobra.Command{
		Use:   "eta",
		Short: "Estimate distance and travel time between two points",
		RunE: func(cmd *cobra.Command, _ []string) error {
			est := etasvc.New(speed, nil).Estimate(
				etasvc.GeoPoint{Lat: from[0], Lng: from[1]},
				etasvc.GeoPoint{Lat: to[0], Lng: to[1]},
			)
			fmt.Fprintf(cmd.OutOrStdout(), "distance_km=%.2f duration_min=%d eta=%s\n",
				est.DistanceKM, est.DurationMinutes, est.ETA.UTC().Format(time.RFC3339))
			return nil
		},
	}
	cmd.Flags().Float64Var(&from[0], "from-lat", 0, "origin latitude")
	cmd.Flags().Float64Var(&from[1], "from-lng", 0, "origin longitude")
	cmd.Flags().Float64Var(&to[0], "to-lat", 0, "destination latitude")
	cmd.Flags().Float64Var(&to[1], "to-lng", 0, "destination longitude")
	cmd.Flags().Float64Var(&speed, "speed", etasvc.DefaultSpeedKmh, "average speed in km/h")
	for _, name := range []string{"from-lat", "from-lng", "to-lat", "to-lng"} {
		_ = cmd.MarkFlagRequired(name)
	}
	return cmd
}
