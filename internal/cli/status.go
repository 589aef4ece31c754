package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/engramhq/engram/internal/config"
	"github.com/engramhq/engram/pkg/index"
)

type statusReport struct {
	RepoPath   string       `json:"repo_path"`
	IndexPath  string       `json:"index_path"`
	HeadCommit string       `json:"head_commit"`
	Index      *index.Stats `json:"index"`
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show repository and index status",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		report := statusReport{
			RepoPath:  a.cfg.RepoPath,
			IndexPath: a.cfg.IndexPath,
		}

		if _, short, err := a.log.ResolveCommit(cmd.Context(), "HEAD"); err == nil {
			report.HeadCommit = short
		}

		stats, err := a.idx.GetStats()
		if err != nil {
			return err
		}
		report.Index = stats

		return printJSON(report)
	},
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return err
		}
		out, err := config.MarshalForDisplay(cfg)
		if err != nil {
			return err
		}
		fmt.Println(out)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(configCmd)
}
