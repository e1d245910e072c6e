package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"

	"github.com/example/ezmove/internal/location"
)

// newSimulateCmd streams a straight-line drive over the gRPC ingest.
func newSimulateCmd() *cobra.Command {
	var (
		addr     string
		token    string
		jobID    string
		from, to [2]float64
		steps    int
		interval time.Duration
	)
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Stream driver locations from one point to another",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if token == "" {
				return errors.New("--token is required, see ezmovectl token --role driver")
			}
			if steps < 1 {
				return errors.New("--steps must be at least 1")
			}
			conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
			if err != nil {
				return fmt.Errorf("dial %s: %w", addr, err)
			}
			defer conn.Close()

			ctx := metadata.AppendToOutgoingContext(cmd.Context(), "authorization", "Bearer "+token)
			stream, err := location.NewClient(conn).Stream(ctx)
			if err != nil {
				return fmt.Errorf("open stream: %w", err)
			}
			for _, sample := range route(from, to, steps, jobID) {
				if err := stream.Send(sample); err != nil {
					return fmt.Errorf("send sample: %w", err)
				}
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(interval):
				}
			}
			ack, err := stream.CloseAndRecv()
			if err != nil {
				return fmt.Errorf("close stream: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "accepted=%d tracked=%d rejected=%d", ack.Accepted, ack.Tracked, ack.Rejected)
			if ack.LastError != "" {
				fmt.Fprintf(cmd.OutOrStdout(), " last_error=%q", ack.LastError)
			}
			fmt.Fprintln(cmd.OutOrStdout())
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "localhost:9090", "gRPC ingest address")
	cmd.Flags().StringVar(&token, "token", "", "driver access token")
	cmd.Flags().StringVar(&jobID, "job", "", "job id attached to every sample")
	cmd.Flags().Float64Var(&from[0], "from-lat", 0, "start latitude")
	cmd.Flags().Float64Var(&from[1], "from-lng", 0, "start longitude")
	cmd.Flags().Float64Var(&to[0], "to-lat", 0, "end latitude")
	cmd.Flags().Float64Var(&to[1], "to-lng", 0, "end longitude")
	cmd.Flags().IntVar(&steps, "steps", 10, "number of samples")
	cmd.Flags().DurationVar(&interval, "interval", time.Second, "delay between samples")
	return cmd
}

// route interpolates steps samples from start to end inclusive.
func route(from, to [2]float64, steps int, jobID string) []*location.LocationSample {
	samples := make([]*location.LocationSample, 0, steps)
	for i := 0; i < steps; i++ {
		f := 1.0
		if steps > 1 {
			f = float64(i) / float64(steps-1)
		}
		lat := from[0] + (to[0]-from[0])*f
		lng := from[1] + (to[1]-from[1])*f
		samples = append(samples, &location.LocationSample{Latitude: &lat, Longitude: &lng, JobID: jobID})
	}
	return samples
}
