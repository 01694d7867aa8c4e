package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ajitpratap0/cityscope/internal/generator"
)

func generateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "generate [city-id]",
		Short: "Generate content for a city and wait for the result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()
			ctx := cmd.Context()

			st, err := newStore(logger)
			if err != nil {
				return fmt.Errorf("generate: connecting to store: %w", err)
			}
			defer func() { _ = st.Close() }()

			gen, err := newGenerator(ctx, st, logger)
			if err != nil {
				return fmt.Errorf("generate: creating generator: %w", err)
			}

			content, err := gen.Run(ctx, args[0])
			if err != nil {
				return fmt.Errorf("generate: %w", err)
			}

			fmt.Printf("Generated %s (%s)\n", content.City, content.Continent)
			fmt.Printf("  History:   %s\n", truncate(content.History, 100))
			fmt.Printf("  Landmarks: %d | Myths: %d\n", len(content.Landmarks), len(content.Myths))
			fmt.Printf("  News: %d | Events: %d | Sources: %d\n", len(content.LatestNews), len(content.UpcomingEvents), len(content.Sources))
			return nil
		},
	}
}

func refreshCmd() *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "refresh [city-id]",
		Short: "Refresh news and events of ready cities",
		Args: func(cmd *cobra.Command, args []string) error {
			if all {
				return cobra.NoArgs(cmd, args)
			}
			return cobra.ExactArgs(1)(cmd, args)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()
			ctx := cmd.Context()

			st, err := newStore(logger)
			if err != nil {
				return fmt.Errorf("refresh: connecting to store: %w", err)
			}
			defer func() { _ = st.Close() }()

			gen, err := newGenerator(ctx, st, logger)
			if err != nil {
				return fmt.Errorf("refresh: creating generator: %w", err)
			}

			if all {
				report, err := generator.NewRefresher(st, gen, logger).Run(ctx)
				if err != nil {
					return fmt.Errorf("refresh: %w", err)
				}
				fmt.Printf("Refresh report:\n")
				fmt.Printf("  Refreshed: %d\n", report.Refreshed)
				fmt.Printf("  Failed:    %d\n", report.Failed)
				fmt.Printf("  Skipped:   %d\n", report.Skipped)
				return nil
			}

			content, err := gen.RefreshFresh(ctx, args[0])
			if err != nil {
				return fmt.Errorf("refresh: %w", err)
			}
			fmt.Printf("Refreshed %s: %d news, %d events, %d sources\n",
				args[0], len(content.LatestNews), len(content.UpcomingEvents), len(content.Sources))
			return nil
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "refresh every ready city")
	return cmd
}
