package middleware

import (
	"context"
	"regexp"

	"github.com/seragusa/espalier/pkg/domain"
	"github.com/seragusa/espalier/pkg/ports"
)

type piiStore struct {
	next     ports.StateStore
	patterns []*regexp.Regexp
}

// NewPIIMasker returns a middleware that masks field values whose keys match
// any of the patterns before the state reaches the backing store. Masking is
// one-way: the persisted copy holds "***" and a Load returns it as such.
// The in-memory state the engine works with is never touched.
func NewPIIMasker(patternStrings []string) Middleware {
	patterns := make([]*regexp.Regexp, len(patternStrings))
	for i, p := range patternStrings {
		patterns[i] = regexp.MustCompile(p)
	}
	return func(next ports.StateStore) ports.StateStore {
		return &piiStore{next: next, patterns: patterns}
	}
}

func (m *piiStore) Save(ctx context.Context, conversationID string, state *domain.State, expectedVersion uint64) error {
	masked := state.Clone()
	masked.Fields = deepCopyFields(state.Fields)
	maskFields(masked.Fields, m.patterns)

	if err := m.next.Save(ctx, conversationID, masked, expectedVersion); err != nil {
		return err
	}
	// The store bumped the clone's version; the caller's state must see it.
	state.Version = masked.Version
	return nil
}

func (m *piiStore) Load(ctx context.Context, conversationID string) (*domain.State, error) {
	return m.next.Load(ctx, conversationID)
}

func (m *piiStore) Delete(ctx context.Context, conversationID string) error {
	return m.next.Delete(ctx, conversationID)
}

func (m *piiStore) List(ctx context.Context) ([]string, error) {
	return m.next.List(ctx)
}

// deepCopyFields copies nested maps so masking cannot leak into values the
// engine still holds. Non-map values are shared; masking only replaces them.
func deepCopyFields(fields map[string]any) map[string]any {
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		if sub, ok := v.(map[string]any); ok {
			out[k] = deepCopyFields(sub)
		} else {
			out[k] = v
		}
	}
	return out
}

func maskFields(fields map[string]any, patterns []*regexp.Regexp) {
	for k, v := range fields {
		for _, p := range patterns {
			if p.MatchString(k) {
				fields[k] = "***"
				break
			}
		}
		if sub, ok := v.(map[string]any); ok {
			maskFields(sub, patterns)
		}
	}
}
