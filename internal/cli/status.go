package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/tidwall/gjson"

	"github.com/worksonmyai/dirigent/internal/debug"
	"github.com/worksonmyai/dirigent/internal/gitx"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the last chat session state for this project",
	RunE: func(cmd *cobra.Command, args []string) error {
		cwd, err := os.Getwd()
		if err != nil {
			return err
		}

		printBranch(cwd)

		sessionPath := filepath.Join(cwd, ".dirigent", "session.json")
		data, err := os.ReadFile(sessionPath) //nolint:gosec // fixed project-relative path
		if err != nil {
			if os.IsNotExist(err) {
				fmt.Println("no session for this project")
				return nil
			}
			return err
		}

		printField := func(label, path string) {
			if v := gjson.GetBytes(data, path); v.Exists() {
				fmt.Printf("%-14s %s\n", label+":", v.String())
			}
		}
		printField("model", "model")
		printField("opened at", "opened_at")
		printField("last send", "last_send_at")
		printField("background", "background")
		return nil
	},
}

// printBranch reports the checked-out branch when the project is a git
// repository. Best effort: status stays useful outside one.
func printBranch(cwd string) {
	if !gitx.IsInsideRepo(cwd) {
		return
	}
	repo, err := gitx.NewRepo(cwd, "")
	if err != nil {
		debug.Logf("cli: status: %v", err)
		return
	}
	branch, err := repo.CurrentBranch()
	if err != nil {
		debug.Logf("cli: status: %v", err)
		return
	}
	fmt.Printf("%-14s %s\n", "branch:", branch)
}
