package prompt

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFinalSchemaIsValidJSON(t *testing.T) {
	var schema map[string]any
	require.NoError(t, json.Unmarshal([]byte(FinalSchema), &schema))

	props, ok := schema["properties"].(map[string]any)
	require.True(t, ok)
	for _, field := range []string{"plant", "primary", "secondary", "careTips"} {
		require.Contains(t, props, field)
	}
}

func TestSystemPromptsNonEmpty(t *testing.T) {
	for name, p := range map[string]string{
		"identify":  IdentifySystem,
		"questions": QuestionsSystem,
		"no-plant":  NoPlantSystem,
		"expert":    ExpertSystem,
		"aggregate": AggregateSystem,
		"final":     FinalSystem,
	} {
		require.NotEmpty(t, p, name)
	}
}
