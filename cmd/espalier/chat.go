package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/google/uuid"
	"github.com/muesli/termenv"
	"github.com/spf13/cobra"

	"github.com/seragusa/espalier/internal/input"
	"github.com/seragusa/espalier/pkg/domain"
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Interactive chat session against a local engine",
	Long: `Runs a single conversation in the terminal. When a turn pauses for
review you play the reviewer: approve, reject or rewrite the pending reply
inline with /approve, /reject and /rewrite <text>.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		logger := newLogger(cfg)
		engine, cleanup, err := buildEngine(cfg, logger, false)
		if err != nil {
			return err
		}
		defer cleanup()

		conversationID, _ := cmd.Flags().GetString("conversation")
		if conversationID == "" {
			conversationID = uuid.NewString()[:8]
		}

		render := newMarkdownRenderer()
		profile := termenv.ColorProfile()
		userPrompt := termenv.String("you> ").Foreground(profile.Color("#34d399")).String()
		pausedNote := termenv.String("[awaiting review — /approve, /reject or /rewrite <text>]").
			Foreground(profile.Color("#fbbf24")).String()

		fmt.Printf("conversation %s — type a message, /quit to exit\n\n", conversationID)

		ctx := context.Background()
		scanner := bufio.NewScanner(os.Stdin)
		paused := false

		for {
			fmt.Print(userPrompt)
			if !scanner.Scan() {
				return scanner.Err()
			}
			line := strings.TrimSpace(scanner.Text())
			if line == "" {
				continue
			}
			if line == "/quit" || line == "/exit" {
				return nil
			}

			if strings.HasPrefix(line, "/") {
				if !paused {
					fmt.Println("no review pending")
					continue
				}
				decision, ok := parseDecision(line)
				if !ok {
					fmt.Println("commands: /approve, /reject, /rewrite <text>")
					continue
				}
				turn, err := engine.ResumeTurn(ctx, conversationID, decision)
				if err != nil {
					fmt.Fprintf(os.Stderr, "resume failed: %v\n", err)
					continue
				}
				paused = turn.Paused
				printTurn(render, turn.Reply, turn.Paused, pausedNote)
				continue
			}

			if paused {
				fmt.Println(pausedNote)
				continue
			}

			message, err := input.Sanitize(line)
			if err != nil {
				fmt.Fprintf(os.Stderr, "rejected: %v\n", err)
				continue
			}

			turn, err := engine.ProcessTurn(ctx, conversationID, message)
			if err != nil {
				if errors.Is(err, domain.ErrModelTransient) {
					fmt.Fprintln(os.Stderr, "model unavailable, try again")
					continue
				}
				fmt.Fprintf(os.Stderr, "turn failed: %v\n", err)
				continue
			}
			paused = turn.Paused
			printTurn(render, turn.Reply, turn.Paused, pausedNote)
		}
	},
}

func parseDecision(line string) (domain.HumanDecision, bool) {
	switch {
	case line == "/approve":
		return domain.HumanDecision{Action: domain.DecisionApprove}, true
	case line == "/reject":
		return domain.HumanDecision{Action: domain.DecisionReject}, true
	case strings.HasPrefix(line, "/rewrite "):
		text := strings.TrimSpace(strings.TrimPrefix(line, "/rewrite "))
		if text == "" {
			return domain.HumanDecision{}, false
		}
		return domain.HumanDecision{Action: domain.DecisionRewrite, Text: text}, true
	}
	return domain.HumanDecision{}, false
}

func printTurn(render func(string) string, reply string, paused bool, pausedNote string) {
	if reply != "" {
		fmt.Print(render(reply))
	}
	if paused {
		fmt.Println(pausedNote)
	}
}

// newMarkdownRenderer renders assistant replies as markdown, falling back to
// plain text when the terminal can't be probed.
func newMarkdownRenderer() func(string) string {
	r, err := glamour.NewTermRenderer(glamour.WithAutoStyle())
	if err != nil {
		return func(s string) string { return s + "\n" }
	}
	return func(s string) string {
		out, err := r.Render(s)
		if err != nil {
			return s + "\n"
		}
		return out
	}
}

func init() {
	rootCmd.AddCommand(chatCmd)
	chatCmd.Flags().String("conversation", "", "Conversation ID to use (default: random)")
}
