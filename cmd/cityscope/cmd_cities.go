package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ajitpratap0/cityscope/internal/citysync"
	"github.com/ajitpratap0/cityscope/internal/client"
	"github.com/ajitpratap0/cityscope/internal/models"
)

func citiesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cities",
		Short: "Manage cities on a running API server",
	}
	cmd.AddCommand(
		citiesListCmd(),
		citiesAddCmd(),
		citiesRmCmd(),
		citiesRegenCmd(),
		citiesWatchCmd(),
	)
	return cmd
}

// newController connects to the configured server and loads the collection.
// changed receives a signal after every local change.
func newController(ctx context.Context) (*citysync.Controller, <-chan struct{}, error) {
	changed := make(chan struct{}, 1)
	ctrl := citysync.New(client.New(cfg.Client.BaseURL, cfg.Client.AuthToken), citysync.Options{
		PollInterval: cfg.Client.PollInterval,
		Logger:       newLogger(),
		OnChange: func([]citysync.Entry) {
			select {
			case changed <- struct{}{}:
			default:
			}
		},
	})
	if err := ctrl.Load(ctx); err != nil {
		ctrl.Close()
		return nil, nil, fmt.Errorf("%w (%v)", ctrl.Err(), err)
	}
	return ctrl, changed, nil
}

// waitSettled blocks until no city is pending or ctx is done.
func waitSettled(ctx context.Context, ctrl *citysync.Controller, changed <-chan struct{}) error {
	for ctrl.Pending() > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-changed:
		}
	}
	return nil
}

func printEntry(e citysync.Entry) {
	fmt.Printf("%-38s %-24s %-14s %s\n", e.ID, truncate(e.Name, 24), truncate(e.Continent, 14), e.Status)
	if e.Status == models.StatusError && e.Error != "" {
		fmt.Printf("    error: %s\n", truncate(e.Error, 100))
	}
}

func printCollection(ctrl *citysync.Controller) {
	entries := ctrl.Snapshot()
	if len(entries) == 0 {
		fmt.Println("No cities found.")
		return
	}
	for _, e := range entries {
		printEntry(e)
	}
}

func findEntry(ctrl *citysync.Controller, id string) (citysync.Entry, bool) {
	for _, e := range ctrl.Snapshot() {
		if e.ID == id {
			return e, true
		}
	}
	return citysync.Entry{}, false
}

func citiesListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List cities and their generation status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctrl, _, err := newController(cmd.Context())
			if err != nil {
				return fmt.Errorf("cities list: %w", err)
			}
			defer ctrl.Close()

			printCollection(ctrl)
			return nil
		},
	}
}

func citiesAddCmd() *cobra.Command {
	var (
		nc     models.NewCity
		noWait bool
	)

	cmd := &cobra.Command{
		Use:   "add [name]",
		Short: "Register a city and generate its content",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			ctrl, changed, err := newController(ctx)
			if err != nil {
				return fmt.Errorf("cities add: %w", err)
			}
			defer ctrl.Close()

			nc.Name = args[0]
			created, err := ctrl.Create(ctx, nc)
			if err != nil {
				return fmt.Errorf("cities add: %w", ctrl.Err())
			}
			fmt.Printf("Added %s (%s)\n", created.Name, created.ID)
			if noWait {
				return nil
			}

			if err := waitSettled(ctx, ctrl, changed); err != nil {
				return fmt.Errorf("cities add: %w", err)
			}
			if e, ok := findEntry(ctrl, created.ID); ok {
				printEntry(e)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&nc.Continent, "continent", "", "continent of the city (required)")
	cmd.Flags().StringVar(&nc.Country, "country", "", "country of the city")
	cmd.Flags().StringVar(&nc.ID, "id", "", "stable city ID (default: assigned by the server)")
	cmd.Flags().BoolVar(&noWait, "no-wait", false, "return without waiting for generation")
	_ = cmd.MarkFlagRequired("continent")
	return cmd
}

func citiesRmCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rm [city-id]",
		Short: "Delete a city",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			ctrl, _, err := newController(ctx)
			if err != nil {
				return fmt.Errorf("cities rm: %w", err)
			}
			defer ctrl.Close()

			if err := ctrl.Delete(ctx, args[0]); err != nil {
				if ctrlErr := ctrl.Err(); ctrlErr != nil {
					return fmt.Errorf("cities rm: %w", ctrlErr)
				}
				return fmt.Errorf("cities rm: %s: %w", args[0], err)
			}
			fmt.Printf("Deleted city %s\n", args[0])
			return nil
		},
	}
}

func citiesRegenCmd() *cobra.Command {
	var noWait bool

	cmd := &cobra.Command{
		Use:   "regen [city-id]",
		Short: "Regenerate a city's content",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			ctrl, changed, err := newController(ctx)
			if err != nil {
				return fmt.Errorf("cities regen: %w", err)
			}
			defer ctrl.Close()

			if err := ctrl.Regenerate(ctx, args[0]); err != nil {
				if ctrlErr := ctrl.Err(); ctrlErr != nil {
					return fmt.Errorf("cities regen: %w", ctrlErr)
				}
				return fmt.Errorf("cities regen: %s: %w", args[0], err)
			}
			fmt.Printf("Regenerating %s\n", args[0])
			if noWait {
				return nil
			}

			if err := waitSettled(ctx, ctrl, changed); err != nil {
				return fmt.Errorf("cities regen: %w", err)
			}
			if e, ok := findEntry(ctrl, args[0]); ok {
				printEntry(e)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&noWait, "no-wait", false, "return without waiting for generation")
	return cmd
}

func citiesWatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Print the collection until no city is pending",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			ctrl, changed, err := newController(ctx)
			if err != nil {
				return fmt.Errorf("cities watch: %w", err)
			}
			defer ctrl.Close()

			printCollection(ctrl)
			for ctrl.Pending() > 0 {
				select {
				case <-ctx.Done():
					return nil
				case <-changed:
					fmt.Println()
					printCollection(ctrl)
				}
			}
			return nil
		},
	}
}
