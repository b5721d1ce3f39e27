package main

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/sqlwatch/sqlwatch/internal/ui"
)

var errProblemsFound = errors.New("problems found")

var checkCmd = &cobra.Command{
	Use:     "check",
	GroupID: "inspect",
	Short:   "Analyze the project without touching the database",
	Long: `Scan the root directory and report:
  - variables used as $(name) that no configured value replaces
  - object names defined in more than one file
  - reference cycles between objects
  - files with no recognizable object definition

Exits with status 1 when any problem is found.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.ValidateProject(); err != nil {
			return fmt.Errorf("invalid configuration:\n%w", err)
		}

		p, found, err := loadProject(cmd.Context())
		if err != nil {
			return err
		}

		fmt.Println(ui.RenderMuted(strings.Repeat("─", min(ui.Width(os.Stdout, 60), 60))))
		fmt.Printf("%d files, %d objects, %d ignored, %d unreadable (%s)\n",
			p.Files, p.Graph.Len(), len(p.Ignored), len(p.Unreadable), p.Duration.Round(time.Millisecond))

		verbose, _ := cmd.Flags().GetBool("verbose")
		if verbose {
			for _, path := range p.Ignored {
				fmt.Printf("  %s %s\n", ui.RenderMuted("ignored"), path)
			}
		}
		for _, path := range p.Unreadable {
			fmt.Printf("  %s %s\n", ui.RenderWarn("unreadable"), path)
		}

		if found || len(p.Unreadable) > 0 {
			return errProblemsFound
		}
		fmt.Println(ui.RenderPass("✓ no problems found"))
		return nil
	},
}

func init() {
	checkCmd.Flags().BoolP("verbose", "v", false, "list ignored files")
	rootCmd.AddCommand(checkCmd)
}
