package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/promptloom/loom/internal/panel"
	"github.com/promptloom/loom/internal/stream"
	"github.com/promptloom/loom/internal/versions"
)

var (
	chatID       string
	chatPromptID string
	chatKind     string
)

var chatCmd = &cobra.Command{
	Use:   "chat <message>",
	Short: "Send a chat message and stream the response",
	Long: `Send a chat message. The model may reply in chat, create a prompt
document, rewrite an existing one, or attach suggestions to it.

Pass --chat to continue an existing conversation and --prompt to point the
turn at an existing document.`,
	Args: cobra.ExactArgs(1),
	RunE: runChat,
}

func init() {
	chatCmd.Flags().StringVar(&chatID, "chat", "", "chat ID to continue (default: start a new chat)")
	chatCmd.Flags().StringVar(&chatPromptID, "prompt", "", "prompt document ID this turn refers to")
	chatCmd.Flags().StringVar(&chatKind, "kind", "", "document kind for new documents: text or code")
	rootCmd.AddCommand(chatCmd)
}

func runChat(cmd *cobra.Command, args []string) error {
	token, err := loadToken()
	if err != nil {
		return err
	}

	id := chatID
	if id == "" {
		id = uuid.New().String()
	}

	body, _ := json.Marshal(map[string]string{
		"id":        id,
		"message":   args[0],
		"prompt_id": chatPromptID,
		"kind":      chatKind,
	})
	req, err := http.NewRequest(http.MethodPost, serverURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("connecting to server: %w\nIs the server running? Start it with: loom serve", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("server error (%d): %s", resp.StatusCode, string(msg))
	}

	hist := versions.New(serverURL, token, versions.InitPromptID, versions.WithDebounce(saveDebounce()))
	p := panel.New(hist)

	r := stream.NewReader(resp.Body)
	for {
		ev, err := r.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("reading stream: %w", err)
		}
		p.HandleEvent(ev)
		renderEvent(ev)
	}
	fmt.Println()

	d := p.Draft()
	if d.Err != "" {
		return fmt.Errorf("generation failed: %s", d.Err)
	}
	if d.ID != "" {
		if err := hist.Refresh(context.Background()); err == nil {
			fmt.Printf("\nDocument %q (%s), version %d\n", d.Title, d.ID, len(hist.Versions()))
		}
		if sgs := p.Suggestions(); len(sgs) > 0 {
			fmt.Printf("%d suggestions attached:\n", len(sgs))
			for _, sg := range sgs {
				fmt.Printf("  - %s\n", sg.Description)
			}
		}
	}
	fmt.Printf("Chat: %s\n", id)
	return nil
}

func renderEvent(ev stream.Event) {
	switch e := ev.(type) {
	case stream.Title:
		fmt.Fprintf(os.Stderr, "── %s ──\n", e.Content)
	case stream.Clear:
		fmt.Fprintln(os.Stderr, "── rewriting ──")
	case stream.TextDelta:
		fmt.Print(e.Content)
	case stream.MessageDelta:
		fmt.Print(e.Content)
	case stream.CodeDelta:
		// Replacements would spam the terminal; show progress instead.
		fmt.Fprint(os.Stderr, ".")
	}
}
