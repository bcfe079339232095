package stages

import (
	"context"
	"fmt"

	"github.com/mitchellh/mapstructure"

	"github.com/seragusa/espalier/pkg/domain"
	"github.com/seragusa/espalier/pkg/ports"
	"github.com/seragusa/espalier/pkg/registry"
)

// NewContextLoader returns the pipeline entry stage. It resolves the user
// profile for personalization and stores it under the profile field. A
// missing profile (or a nil store) is not an error; downstream stages fall
// back to a neutral tone.
func NewContextLoader(profiles ports.ProfileStore) registry.Stage {
	return func(ctx context.Context, snapshot *domain.State, input domain.TurnInput) (domain.StageResult, error) {
		result := domain.StageResult{Route: domain.ContinueTo(Supervisor)}

		if profiles == nil {
			return result, nil
		}
		if _, loaded := snapshot.Fields[domain.FieldProfile]; loaded {
			// Profile already resolved on a previous turn.
			return result, nil
		}

		userID := snapshot.StringField("user_id")
		if userID == "" {
			userID = snapshot.ID
		}

		profile, err := profiles.GetProfile(ctx, userID)
		if err != nil {
			return domain.StageResult{}, fmt.Errorf("load profile %s: %w", userID, err)
		}
		if profile == nil {
			return result, nil
		}

		// Fields hold plain maps so every state store can serialize them.
		var asMap map[string]any
		if err := mapstructure.Decode(profile, &asMap); err != nil {
			return domain.StageResult{}, fmt.Errorf("encode profile: %w", err)
		}
		result.Delta = map[string]any{domain.FieldProfile: asMap}
		return result, nil
	}
}
