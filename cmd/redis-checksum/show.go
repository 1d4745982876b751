package main

import (
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ghyeongl/redis-checksum/checksum"
)

func newShowCmd(v *viper.Viper, stdout io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "show <file>...",
		Short: "Print the stored record of one or more files as JSON",
		Args:  usageArgs(cobra.MinimumNArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(v)
			if err != nil {
				return err
			}
			checksum.InitLogger(cfg.LogDir, cfg.Verbose)

			store, err := checksum.OpenStore(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			enc := json.NewEncoder(stdout)
			enc.SetIndent("", "  ")
			for _, arg := range args {
				path, err := filepath.Abs(arg)
				if err != nil {
					return fmt.Errorf("resolve %q: %w", arg, err)
				}
				rec, err := store.GetRecord(cmd.Context(), path)
				if err != nil {
					return fmt.Errorf("get %s: %w", path, err)
				}
				if rec == nil {
					fmt.Fprintf(cmd.ErrOrStderr(), "%s: not tracked\n", path)
					continue
				}
				if err := enc.Encode(rec); err != nil {
					return err
				}
			}
			return nil
		},
	}
}
