package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnabledTopicsOrdersByPriority(t *testing.T) {
	preferences := UserPreferences{
		Topics: []Topic{
			{Name: "Background", Priority: 1, Enabled: true},
			{Name: "Disabled", Priority: 9, Enabled: false},
			{Name: "Breaking", Priority: 5, Enabled: true},
			{Name: "AlsoBreaking", Priority: 5, Enabled: true},
		},
	}

	topics := preferences.EnabledTopics()

	require.Len(t, topics, 3)
	assert.Equal(t, "Breaking", topics[0].Name)
	assert.Equal(t, "AlsoBreaking", topics[1].Name, "equal priorities keep list order")
	assert.Equal(t, "Background", topics[2].Name)
}
