package main

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"
)

func exportCmd() *cobra.Command {
	var (
		format string
		output string
	)

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export all cities to JSON or CSV",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()
			ctx := cmd.Context()

			st, err := newStore(logger)
			if err != nil {
				return fmt.Errorf("export: connecting to store: %w", err)
			}
			defer func() { _ = st.Close() }()

			cities, err := st.List(ctx)
			if err != nil {
				return fmt.Errorf("export: listing cities: %w", err)
			}

			var w *os.File
			if output == "" || output == "-" {
				w = os.Stdout
			} else {
				w, err = os.Create(output)
				if err != nil {
					return fmt.Errorf("export: creating output file: %w", err)
				}
				defer func() { _ = w.Close() }()
			}

			switch format {
			case "json":
				enc := json.NewEncoder(w)
				enc.SetIndent("", "  ")
				if encErr := enc.Encode(cities); encErr != nil {
					return fmt.Errorf("export: encoding JSON: %w", encErr)
				}
			case "csv":
				cw := csv.NewWriter(w)
				headers := []string{"id", "name", "continent", "country", "status", "error", "sources", "created_at", "last_refreshed"}
				if writeErr := cw.Write(headers); writeErr != nil {
					return fmt.Errorf("export: writing CSV header: %w", writeErr)
				}
				for i := range cities {
					c := &cities[i]
					sources, refreshed := 0, ""
					if c.Content != nil {
						sources = len(c.Content.Sources)
					}
					if c.LastRefreshed != nil {
						refreshed = c.LastRefreshed.UTC().Format(time.RFC3339)
					}
					row := []string{
						c.ID,
						c.Name,
						c.Continent,
						c.Country,
						string(c.Status),
						c.Error,
						strconv.Itoa(sources),
						c.CreatedAt.UTC().Format(time.RFC3339),
						refreshed,
					}
					if writeErr := cw.Write(row); writeErr != nil {
						return fmt.Errorf("export: writing CSV row: %w", writeErr)
					}
				}
				cw.Flush()
				if flushErr := cw.Error(); flushErr != nil {
					return fmt.Errorf("export: flushing CSV: %w", flushErr)
				}
			default:
				return fmt.Errorf("export: unsupported format %q (use json or csv)", format)
			}

			if output != "" && output != "-" {
				fmt.Fprintf(os.Stderr, "Exported %d cities to %s\n", len(cities), output)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&format, "format", "json", "output format: json or csv")
	cmd.Flags().StringVarP(&output, "output", "o", "-", "output file path (- for stdout)")
	return cmd
}
