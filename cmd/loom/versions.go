package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/promptloom/loom/internal/versions"
	"github.com/promptloom/loom/model"
)

var versionsCmd = &cobra.Command{
	Use:   "versions <prompt-id>",
	Short: "Show a document's version history",
	Args:  cobra.ExactArgs(1),
	RunE:  runVersions,
}

var showVersion int

var showCmd = &cobra.Command{
	Use:   "show <prompt-id>",
	Short: "Print a version's content (default: the latest)",
	Args:  cobra.ExactArgs(1),
	RunE:  runShow,
}

var restoreCmd = &cobra.Command{
	Use:   "restore <prompt-id> <version>",
	Short: "Make an older version the newest one",
	Long: `Make version <version> (as numbered by "loom versions") the newest
one. Every version after it is deleted permanently, along with the
suggestions attached to those versions.`,
	Args: cobra.ExactArgs(2),
	RunE: runRestore,
}

func init() {
	showCmd.Flags().IntVar(&showVersion, "version", 0, "version number to print (1-based; 0 = latest)")
	rootCmd.AddCommand(versionsCmd)
	rootCmd.AddCommand(showCmd)
	rootCmd.AddCommand(restoreCmd)
}

func loadHistory(promptID string) (*versions.Adapter, error) {
	token, err := loadToken()
	if err != nil {
		return nil, err
	}
	hist := versions.New(serverURL, token, promptID, versions.WithDebounce(saveDebounce()))
	if err := hist.Refresh(context.Background()); err != nil {
		return nil, err
	}
	if len(hist.Versions()) == 0 {
		return nil, fmt.Errorf("no versions found for %s", promptID)
	}
	return hist, nil
}

func runVersions(cmd *cobra.Command, args []string) error {
	hist, err := loadHistory(args[0])
	if err != nil {
		return err
	}

	list := hist.Versions()
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "VERSION\tCREATED\tKIND\tCONTENT")
	for i, v := range list {
		marker := ""
		if i == len(list)-1 {
			marker = " (latest)"
		}
		fmt.Fprintf(w, "%d%s\t%s\t%s\t%s\n",
			i+1, marker, v.CreatedAt.Local().Format(time.DateTime), v.Kind, model.Truncate(v.Content, 60))
	}
	return w.Flush()
}

func runShow(cmd *cobra.Command, args []string) error {
	hist, err := loadHistory(args[0])
	if err != nil {
		return err
	}

	list := hist.Versions()
	idx := len(list) - 1
	if showVersion > 0 {
		if showVersion > len(list) {
			return fmt.Errorf("version %d does not exist (history has %d)", showVersion, len(list))
		}
		idx = showVersion - 1
	}

	v := list[idx]
	fmt.Fprintf(os.Stderr, "── %s (version %d of %d) ──\n", v.Title, idx+1, len(list))
	fmt.Println(v.Content)
	return nil
}

func runRestore(cmd *cobra.Command, args []string) error {
	n, err := strconv.Atoi(args[1])
	if err != nil || n < 1 {
		return fmt.Errorf("version must be a positive number, got %q", args[1])
	}

	hist, err := loadHistory(args[0])
	if err != nil {
		return err
	}
	total := len(hist.Versions())
	if n > total {
		return fmt.Errorf("version %d does not exist (history has %d)", n, total)
	}
	if n == total {
		fmt.Println("Already the latest version.")
		return nil
	}

	for i := total - 1; i >= n; i-- {
		hist.Prev()
	}
	if err := hist.Restore(context.Background()); err != nil {
		return fmt.Errorf("restoring: %w", err)
	}

	fmt.Printf("Restored version %d; deleted %d newer version(s).\n", n, total-n)
	return nil
}
