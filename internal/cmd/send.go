package cmd

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/x/term"
	"github.com/spf13/cobra"

	"github.com/emberworks/ember/internal/client"
	"github.com/emberworks/ember/internal/proto"
)

var (
	sendHost    string
	sendUser    string
	sendProject string
	sendPlan    string
	sendToken   string
	sendQuiet   bool
)

func init() {
	sendCmd.Flags().StringVarP(&sendHost, "host", "H", "", "Server host (defaults to the local socket)")
	sendCmd.Flags().StringVarP(&sendUser, "user", "u", "", "User id")
	sendCmd.Flags().StringVarP(&sendProject, "project", "P", "", "Project id")
	sendCmd.Flags().StringVar(&sendPlan, "plan", "pro", "Subscription plan")
	sendCmd.Flags().StringVarP(&sendToken, "token", "t", "", "Continuation token from a truncated turn")
	sendCmd.Flags().BoolVarP(&sendQuiet, "quiet", "q", false, "Only print final text, no tool activity")
	_ = sendCmd.MarkFlagRequired("user")
}

var sendCmd = &cobra.Command{
	Use:   "send [prompt]",
	Short: "Send a turn to the ember server and stream the response",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		prompt := strings.Join(args, " ")
		prompt, err := maybePrependStdin(prompt)
		if err != nil {
			return err
		}
		if prompt == "" && sendToken == "" {
			return fmt.Errorf("provide a prompt or a continuation token")
		}

		var c *client.Client
		if sendHost != "" {
			hostURL, err := parseSendHost(sendHost)
			if err != nil {
				return err
			}
			c, err = client.NewClient(hostURL[0], hostURL[1])
			if err != nil {
				return err
			}
		} else {
			c, err = client.DefaultClient()
			if err != nil {
				return err
			}
		}

		events, err := c.Turn(cmd.Context(), proto.TurnRequest{
			UserID:            sendUser,
			ProjectID:         sendProject,
			Plan:              sendPlan,
			Content:           prompt,
			ContinuationToken: sendToken,
		})
		if err != nil {
			return err
		}

		for ev := range events {
			switch ev.Type {
			case proto.TurnEventTextDelta:
				fmt.Print(ev.Text)
			case proto.TurnEventReasoningDelta:
				// Reasoning stays off the terminal.
			case proto.TurnEventToolCall:
				if !sendQuiet && ev.ToolCall != nil {
					fmt.Fprintf(os.Stderr, "\n[tool] %s %s\n", ev.ToolCall.Name, ev.ToolCall.Input)
				}
			case proto.TurnEventToolResult:
				if !sendQuiet && ev.ToolResult != nil && ev.ToolResult.IsError {
					fmt.Fprintf(os.Stderr, "[tool error] %s\n", ev.ToolResult.Content)
				}
			case proto.TurnEventProviderFallback:
				fmt.Fprintf(os.Stderr, "\n[notice] %s\n", ev.FallbackMessage)
			case proto.TurnEventContinuation:
				fmt.Fprintf(os.Stderr, "\n[truncated] %s\n", ev.Message)
				if ev.ContinuationState != nil {
					fmt.Fprintf(os.Stderr, "resume with: ember send -u %s -t %s\n", sendUser, ev.ContinuationState.Token)
				}
			case proto.TurnEventDone:
				fmt.Println()
			case proto.TurnEventError:
				fmt.Fprintf(os.Stderr, "\n[error] %s\n", ev.Error)
			}
		}
		return nil
	},
}

func parseSendHost(host string) ([2]string, error) {
	proto, addr, ok := strings.Cut(host, "://")
	if !ok {
		return [2]string{}, fmt.Errorf("invalid host format: %s", host)
	}
	return [2]string{proto, addr}, nil
}

func maybePrependStdin(prompt string) (string, error) {
	if term.IsTerminal(os.Stdin.Fd()) {
		return prompt, nil
	}
	fi, err := os.Stdin.Stat()
	if err != nil {
		return prompt, err
	}
	if fi.Mode()&os.ModeNamedPipe == 0 {
		return prompt, nil
	}
	bts, err := io.ReadAll(os.Stdin)
	if err != nil {
		return prompt, err
	}
	return string(bts) + "\n\n" + prompt, nil
}
