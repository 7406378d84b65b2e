package chatcmder

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/muesli/termenv"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

const chatLongDesc string = `Start a draft-refinement conversation.

Sends the topic to a loom server, streams the generated draft, then
loops: you give feedback, the server revises, until you type 'done'.

Examples:
  loom chat "Why merkle DAGs make conversation sync trivial"
  loom chat --server http://192.168.1.42:6061 "Onboarding post"`

const chatShortDesc string = "Refine a draft interactively"

type chatCommander struct {
	serverURL string
	plain     bool
}

// streamLine mirrors the server's ndjson stream format.
type streamLine struct {
	Type     string `json:"type"`
	ThreadID string `json:"thread_id,omitempty"`
	Content  string `json:"content,omitempty"`
	Draft    string `json:"draft,omitempty"`
	Message  string `json:"message,omitempty"`
	Error    string `json:"error,omitempty"`
}

type doneResponse struct {
	Status   string `json:"status"`
	ThreadID string `json:"thread_id"`
	Draft    string `json:"draft,omitempty"`
}

func NewChatCmd() *cobra.Command {
	cmder := &chatCommander{}

	cmd := &cobra.Command{
		Use:   "chat <topic>",
		Short: chatShortDesc,
		Long:  chatLongDesc,
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmder.run(cmd.Context(), cmd, strings.Join(args, " "))
		},
	}

	cmd.Flags().StringVar(&cmder.serverURL, "server", "http://localhost:6061", "loom server URL")
	cmd.Flags().BoolVar(&cmder.plain, "plain", false, "Disable markdown rendering")

	return cmd
}

func (c *chatCommander) run(ctx context.Context, cmd *cobra.Command, topic string) error {
	c.serverURL = strings.TrimRight(c.serverURL, "/")
	out := cmd.OutOrStdout()

	body, _ := json.Marshal(map[string]string{"topic": topic})
	threadID, err := c.streamRequest(ctx, out, c.serverURL+"/api/threads", body)
	if err != nil {
		return err
	}

	stdin := bufio.NewReader(cmd.InOrStdin())
	for {
		fmt.Fprint(out, "\nfeedback> ")
		line, err := stdin.ReadString('\n')
		if err == io.EOF {
			fmt.Fprintln(out, "\nLeaving draft as-is.")
			return nil
		}
		if err != nil {
			return fmt.Errorf("could not read feedback: %w", err)
		}

		feedback := strings.TrimSpace(line)
		if feedback == "" {
			continue
		}

		url := fmt.Sprintf("%s/api/threads/%s/feedback", c.serverURL, threadID)
		body, _ := json.Marshal(map[string]string{"feedback": feedback})

		if strings.EqualFold(feedback, "done") {
			return c.finish(ctx, out, url, body)
		}

		if _, err := c.streamRequest(ctx, out, url, body); err != nil {
			return err
		}
	}
}

// streamRequest POSTs body and prints the ndjson stream, rendering
// the draft when the server pauses for feedback. Returns the thread
// ID from the interrupt line.
func (c *chatCommander) streamRequest(ctx context.Context, out io.Writer, url string, body []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("server returned %d: %s", resp.StatusCode, string(respBody))
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	for scanner.Scan() {
		var line streamLine
		if err := json.Unmarshal(scanner.Bytes(), &line); err != nil {
			continue
		}

		switch line.Type {
		case "token":
			fmt.Fprint(out, line.Content)

		case "retry":
			// The partial draft above came from a failed attempt.
			fmt.Fprintf(out, "\n(attempt failed, retrying: %s)\n", line.Error)

		case "interrupt":
			fmt.Fprintln(out)
			c.renderDraft(out, line.Draft)
			if line.Message != "" {
				fmt.Fprintln(out, line.Message)
			}
			return line.ThreadID, nil

		case "error":
			return "", fmt.Errorf("server error: %s", line.Error)

		case "done":
			return line.ThreadID, nil
		}
	}
	if err := scanner.Err(); err != nil {
		return "", fmt.Errorf("stream read failed: %w", err)
	}

	return "", fmt.Errorf("stream ended without a draft")
}

func (c *chatCommander) finish(ctx context.Context, out io.Writer, url string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, string(respBody))
	}

	var done doneResponse
	if err := json.NewDecoder(resp.Body).Decode(&done); err != nil {
		return fmt.Errorf("could not decode response: %w", err)
	}

	fmt.Fprintln(out, "\nFinal draft:")
	c.renderDraft(out, done.Draft)
	fmt.Fprintf(out, "Thread %s saved.\n", done.ThreadID)
	return nil
}

// renderDraft pretty-prints markdown on a terminal, falling back to
// plain text for pipes and --plain.
func (c *chatCommander) renderDraft(out io.Writer, draft string) {
	if draft == "" {
		return
	}

	if c.plain || !term.IsTerminal(int(os.Stdout.Fd())) || termenv.EnvColorProfile() == termenv.Ascii {
		fmt.Fprintln(out, draft)
		return
	}

	r, err := glamour.NewTermRenderer(glamour.WithAutoStyle(), glamour.WithWordWrap(80))
	if err != nil {
		fmt.Fprintln(out, draft)
		return
	}

	rendered, err := r.Render(draft)
	if err != nil {
		fmt.Fprintln(out, draft)
		return
	}
	fmt.Fprint(out, rendered)
}
