package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/rustyeddy/scalper/config"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect and generate configuration",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "init <path>",
		Short: "Write a default config file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := config.Default().SaveToFile(args[0]); err != nil {
				return err
			}
			fmt.Println("wrote", args[0])
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "show <path>",
		Short: "Load, validate and print a config file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadFromFile(args[0])
			if err != nil {
				return err
			}
			out, err := yaml.Marshal(cfg)
			if err != nil {
				return err
			}
			fmt.Print(string(out))
			return nil
		},
	})

	return cmd
}
