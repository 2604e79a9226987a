package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/promptloom/loom/model"
)

var chatsCmd = &cobra.Command{
	Use:   "chats",
	Short: "List your chats",
	RunE:  runChats,
}

var deleteChatCmd = &cobra.Command{
	Use:   "delete-chat <chat-id>",
	Short: "Delete a chat and its messages",
	Args:  cobra.ExactArgs(1),
	RunE:  runDeleteChat,
}

func init() {
	rootCmd.AddCommand(chatsCmd)
	rootCmd.AddCommand(deleteChatCmd)
}

func runChats(cmd *cobra.Command, args []string) error {
	var chats []*model.Chat
	if err := apiGet("/api/history", &chats); err != nil {
		return err
	}

	if len(chats) == 0 {
		fmt.Println("No chats yet.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTITLE\tVISIBILITY\tCREATED")
	for _, c := range chats {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
			c.ID, model.Truncate(c.Title, 50), c.Visibility, c.CreatedAt.Local().Format(time.DateTime))
	}
	return w.Flush()
}

func runDeleteChat(cmd *cobra.Command, args []string) error {
	token, err := loadToken()
	if err != nil {
		return err
	}

	req, err := http.NewRequest(http.MethodDelete, serverURL+"/api/chat?id="+url.QueryEscape(args[0]), nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("connecting to server: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("server error (%d): %s", resp.StatusCode, string(msg))
	}
	fmt.Println("Deleted.")
	return nil
}

// apiGet performs an authenticated GET and decodes the JSON response.
func apiGet(path string, out any) error {
	token, err := loadToken()
	if err != nil {
		return err
	}

	req, err := http.NewRequest(http.MethodGet, serverURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("connecting to server: %w\nIs the server running? Start it with: loom serve", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("server error (%d): %s", resp.StatusCode, string(msg))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
