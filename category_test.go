package systray

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestItemCategory(t *testing.T) {
	for _, category := range []ItemCategory{
		ItemCategoryApplicationStatus,
		ItemCategoryCommunications,
		ItemCategorySystemServices,
		ItemCategoryHardware,
	} {
		parsed := ParseItemCategory(string(category))
		assert.Equal(t, category, parsed)
		assert.True(t, parsed.Recognized())
		assert.Equal(t, category, parsed.OrDefault())
	}

	custom := ParseItemCategory("Gadgets")
	assert.Equal(t, "Gadgets", custom.String())
	assert.False(t, custom.Recognized())
	assert.Equal(t, ItemCategoryUnknown, custom.OrDefault())

	assert.False(t, ItemCategoryUnknown.Recognized())
}

func TestItemStatus(t *testing.T) {
	for _, status := range []ItemStatus{
		ItemStatusPassive,
		ItemStatusActive,
		ItemStatusNeedsAttention,
	} {
		parsed := ParseItemStatus(string(status))
		assert.Equal(t, status, parsed)
		assert.True(t, parsed.Recognized())
		assert.Equal(t, status, parsed.OrDefault())
	}

	blinking := ParseItemStatus("Blinking")
	assert.Equal(t, "Blinking", blinking.String())
	assert.False(t, blinking.Recognized())
	assert.Equal(t, ItemStatusPassive, blinking.OrDefault())
}
