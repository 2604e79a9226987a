// Loom - AI-assisted prompt workshop
//
// Chat with a model to draft, refine, and version prompt documents.
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

var (
	version   = "dev"
	serverURL string
)

var rootCmd = &cobra.Command{
	Use:   "loom",
	Short: "Loom - AI-assisted prompt workshop",
	Long: `Loom drafts, refines, and versions prompt documents through chat.

  loom serve                                Start the server
  loom register you@example.com             Create an account
  loom login you@example.com                Log in
  loom chat "draft an essay prompt"         Start or continue a chat
  loom chats                                List your chats
  loom versions <prompt-id>                 Show a document's history
  loom restore <prompt-id> <n>              Restore version n
  loom export <prompt-id>                   Export the latest version as a gist`,
	Version: version,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", envOr("LOOM_SERVER", "http://localhost:7090"), "Loom server URL")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// saveDebounce is the quiet window the client waits before persisting a
// draft edit, overridable via LOOM_SAVE_DEBOUNCE_MS.
func saveDebounce() time.Duration {
	if v := os.Getenv("LOOM_SAVE_DEBOUNCE_MS"); v != "" {
		if ms, err := strconv.Atoi(v); err == nil && ms > 0 {
			return time.Duration(ms) * time.Millisecond
		}
	}
	return 2 * time.Second
}

// tokenPath is where login stores the access token.
func tokenPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".loom", "token")
	}
	return filepath.Join(home, ".loom", "token")
}

func saveToken(token string) error {
	path := tokenPath()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(token), 0o600)
}

func loadToken() (string, error) {
	b, err := os.ReadFile(tokenPath())
	if err != nil {
		return "", fmt.Errorf("not logged in (run: loom login <email>): %w", err)
	}
	return strings.TrimSpace(string(b)), nil
}
