package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ajitpratap0/cityscope/internal/client"
)

func healthCmd() *cobra.Command {
	var remote bool

	cmd := &cobra.Command{
		Use:   "health",
		Short: "Check connectivity to required services",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()
			ctx := cmd.Context()
			allOK := true

			st, err := newStore(logger)
			if err != nil {
				fmt.Printf("Store (%s): FAIL (%v)\n", cfg.Store.Backend, err)
				allOK = false
			} else {
				defer func() { _ = st.Close() }()
				if _, err := st.List(ctx); err != nil {
					fmt.Printf("Store (%s): FAIL (%v)\n", cfg.Store.Backend, err)
					allOK = false
				} else {
					fmt.Printf("Store (%s): OK\n", cfg.Store.Backend)
				}
			}

			if cfg.LLM.APIKey() == "" {
				fmt.Printf("LLM (%s): FAIL (no API key configured)\n", cfg.LLM.Provider)
				allOK = false
			} else {
				fmt.Printf("LLM (%s): OK\n", cfg.LLM.Provider)
			}

			if remote {
				if _, err := client.New(cfg.Client.BaseURL, cfg.Client.AuthToken).List(ctx); err != nil {
					fmt.Printf("API (%s): FAIL (%v)\n", cfg.Client.BaseURL, err)
					allOK = false
				} else {
					fmt.Printf("API (%s): OK\n", cfg.Client.BaseURL)
				}
			}

			if !allOK {
				return fmt.Errorf("one or more health checks failed")
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&remote, "remote", false, "also check the API server at client.base_url")
	return cmd
}
