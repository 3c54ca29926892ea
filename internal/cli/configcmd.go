package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/worksonmyai/dirigent/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show the resolved configuration and where it came from",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		out, err := yaml.Marshal(cfg)
		if err != nil {
			return err
		}
		fmt.Print(string(out))

		fmt.Println("\nsources:")
		for _, s := range cfg.Sources() {
			fmt.Printf("  - %s\n", s)
		}
		if cfg.LocalDir() != "" {
			fmt.Printf("\nlocal overrides: %s\n", cfg.LocalDir())
		}
		return nil
	},
}
