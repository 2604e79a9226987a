// Package gist exports prompt versions as GitHub gists.
package gist

import (
	"context"
	"fmt"

	gogh "github.com/google/go-github/v68/github"

	"github.com/promptloom/loom/model"
)

// Client wraps the GitHub API for gist export.
type Client struct {
	gh *gogh.Client
}

// NewClient creates a GitHub client authenticated with the given token.
func NewClient(token string) *Client {
	return &Client{
		gh: gogh.NewClient(nil).WithAuthToken(token),
	}
}

// Export publishes one prompt version as a secret gist and returns its URL.
func (c *Client) Export(ctx context.Context, p *model.Prompt) (string, error) {
	filename := gistFilename(p)
	g, _, err := c.gh.Gists.Create(ctx, &gogh.Gist{
		Description: gogh.Ptr(fmt.Sprintf("%s (version %s)", p.Title, p.CreatedAt.Format("2006-01-02 15:04:05"))),
		Public:      gogh.Ptr(false),
		Files: map[gogh.GistFilename]gogh.GistFile{
			gogh.GistFilename(filename): {Content: gogh.Ptr(p.Content)},
		},
	})
	if err != nil {
		return "", fmt.Errorf("creating gist: %w", err)
	}
	return g.GetHTMLURL(), nil
}

func gistFilename(p *model.Prompt) string {
	if p.Kind == model.KindCode {
		return "prompt.py"
	}
	return "prompt.md"
}
