package cli

import (
	"bufio"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/harun/stockpilot/pkg/agent"
)

var chatSessionID string

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Chat with the assistant",
	Long: `Start an interactive conversation with the assistant.
Each line read from standard input is one message. Type /quit or /exit to leave.
Destructive actions are held until you reply yes or no.`,
	RunE: runChat,
}

func init() {
	chatCmd.Flags().StringVar(&chatSessionID, "session", "cli", "session id to resume or create")
	rootCmd.AddCommand(chatCmd)
}

func runChat(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	out := cmd.OutOrStdout()
	if len(a.orch.Tools()) == 0 {
		fmt.Fprintln(out, "Tool host unavailable, running without tools.")
	}
	fmt.Fprintf(out, "Session %s. Type /quit to exit.\n", chatSessionID)

	scanner := bufio.NewScanner(cmd.InOrStdin())
	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		switch line {
		case "":
			continue
		case "/quit", "/exit":
			return nil
		}

		resp := a.orch.ProcessMessage(ctx, chatSessionID, line)
		printResponse(cmd, resp)
		if ctx.Err() != nil {
			return nil
		}
	}
}

func printResponse(cmd *cobra.Command, resp agent.Response) {
	out := cmd.OutOrStdout()
	switch resp.Status {
	case agent.StatusError:
		fmt.Fprintf(out, "! %s\n", resp.Response)
	default:
		fmt.Fprintln(out, resp.Response)
	}
	for _, call := range resp.ToolCalls {
		fmt.Fprintf(out, "  [tool] %s\n", call.Tool)
	}
}
