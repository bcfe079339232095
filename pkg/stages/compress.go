package stages

import (
	"context"
	"fmt"
	"strings"

	"github.com/seragusa/espalier/pkg/domain"
	"github.com/seragusa/espalier/pkg/ports"
	"github.com/seragusa/espalier/pkg/registry"
)

const compressorPersona = "You condense conversation history. Produce a compact third-person summary " +
	"that preserves names, product references, order IDs and unresolved questions. Output only the summary."

// CompressorConfig tunes the history compression policy. Both knobs are
// deployment configuration, not constants.
type CompressorConfig struct {
	// Threshold is the transcript length above which compression kicks in.
	Threshold int
	// Tail is how many of the most recent raw messages stay verbatim.
	Tail int
}

// DefaultCompressorConfig mirrors the summarize-every-ten-messages policy of
// the reference deployment.
func DefaultCompressorConfig() CompressorConfig {
	return CompressorConfig{Threshold: 10, Tail: 4}
}

// NewCompressor returns the history-compression stage. Below the threshold
// it passes state through untouched, which also makes it idempotent right
// after a compression. Summarizer failures are non-fatal: the turn proceeds
// uncompressed.
func NewCompressor(model ports.ModelClient, cfg CompressorConfig) registry.Stage {
	if cfg.Threshold <= 0 || cfg.Tail <= 0 || cfg.Tail >= cfg.Threshold {
		cfg = DefaultCompressorConfig()
	}

	return func(ctx context.Context, snapshot *domain.State, input domain.TurnInput) (domain.StageResult, error) {
		passThrough := domain.StageResult{Route: domain.ContinueTo(End)}

		if len(snapshot.Messages) <= cfg.Threshold {
			return passThrough, nil
		}

		head := snapshot.Messages[:len(snapshot.Messages)-cfg.Tail]
		tail := snapshot.Messages[len(snapshot.Messages)-cfg.Tail:]

		completion, err := model.Complete(ctx, ports.CompletionRequest{
			System: compressorPersona,
			Prompt: compressionPrompt(snapshot.Summary, head),
		})
		if err != nil {
			// Compression is best-effort; skipping it for a turn loses
			// nothing but compactness.
			return passThrough, nil
		}

		tailCopy := make([]domain.Message, len(tail))
		copy(tailCopy, tail)

		return domain.StageResult{
			Rewrite: &domain.HistoryRewrite{
				Summary:    completion.Text,
				Summarized: snapshot.Summarized + len(head),
				Tail:       tailCopy,
			},
			Route: domain.ContinueTo(End),
		}, nil
	}
}

func compressionPrompt(previousSummary string, head []domain.Message) string {
	var sb strings.Builder
	if previousSummary != "" {
		sb.WriteString("Previous summary:\n")
		sb.WriteString(previousSummary)
		sb.WriteString("\n\n")
	}
	sb.WriteString("Messages to fold in:\n")
	for _, m := range head {
		fmt.Fprintf(&sb, "%s: %s\n", m.Role, m.Text)
	}
	return sb.String()
}
