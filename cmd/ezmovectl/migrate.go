package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/example/ezmove/internal/db"
)

func newMigrateCmd() *cobra.Command {
	var dsn string
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply the database schema",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if dsn == "" {
				dsn = firstNonEmpty(os.Getenv("POSTGRES_DSN"), os.Getenv("DATABASE_URL"))
			}
			if dsn == "" {
				return errors.New("--dsn, POSTGRES_DSN or DATABASE_URL is required")
			}
			ctx := cmd.Context()
			pool, err := db.NewPool(ctx, db.PoolConfig{DSN: dsn, MaxConns: 2})
			if err != nil {
				return err
			}
			defer pool.Close()
			if err := db.Migrate(ctx, pool); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "schema up to date")
			return nil
		},
	}
	cmd.Flags().StringVar(&dsn, "dsn", "", "postgres connection string")
	return cmd
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
