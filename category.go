package systray

// ItemCategory describes the kind of a tray item.
//
// The protocol transports categories as free-form strings. Values produced by
// [ParseItemCategory] keep the wire string, so an unexpected value stays
// observable through [ItemCategory.Recognized] while [ItemCategory.OrDefault]
// maps it to [ItemCategoryUnknown].
type ItemCategory string

// StatusNotifierItem categories.
const (
	// The item describes the status of a generic application, for instance the
	// current state of a media player.
	ItemCategoryApplicationStatus ItemCategory = "ApplicationStatus"

	// The item describes the status of communication oriented applications, like
	// an instant messenger or an email client.
	ItemCategoryCommunications ItemCategory = "Communications"

	// The item describes services of the system not seen as a stand alone
	// application by the user, such as an indicator for the activity of a disk
	// indexing service.
	ItemCategorySystemServices ItemCategory = "SystemServices"

	// The item describes the state and control of a particular hardware, such as
	// an indicator of the battery charge or sound card volume control.
	ItemCategoryHardware ItemCategory = "Hardware"

	// Fallback for categories outside of the specification.
	ItemCategoryUnknown ItemCategory = "Unknown"
)

// ParseItemCategory converts a wire string to [ItemCategory]. It never fails.
func ParseItemCategory(s string) ItemCategory {
	return ItemCategory(s)
}

// Recognized reports whether c is one of the categories defined by the
// protocol. [ItemCategoryUnknown] itself is not recognized.
func (c ItemCategory) Recognized() bool {
	switch c {
	case ItemCategoryApplicationStatus,
		ItemCategoryCommunications,
		ItemCategorySystemServices,
		ItemCategoryHardware:
		return true
	}

	return false
}

// OrDefault returns c if it is recognized and [ItemCategoryUnknown] otherwise.
func (c ItemCategory) OrDefault() ItemCategory {
	if c.Recognized() {
		return c
	}

	return ItemCategoryUnknown
}

func (c ItemCategory) String() string {
	return string(c)
}

// ItemStatus describes the activity state of a tray item. Like
// [ItemCategory], parsed values keep the wire string.
type ItemStatus string

// StatusNotifierItem statuses.
const (
	// The item doesn't convey important information to the user, it can be
	// considered an "idle" status and is likely that visualizations will choose
	// to hide it.
	ItemStatusPassive ItemStatus = "Passive"

	// The item is active, is more important that the item will be shown in some
	// way to the user.
	ItemStatusActive ItemStatus = "Active"

	// The item carries really important information for the user, such as battery
	// charge running out and is wants to incentive the direct user intervention.
	// Visualizations should emphasize in some way the items with NeedsAttention
	// status.
	ItemStatusNeedsAttention ItemStatus = "NeedsAttention"
)

// ParseItemStatus converts a wire string to [ItemStatus]. It never fails.
func ParseItemStatus(s string) ItemStatus {
	return ItemStatus(s)
}

// Recognized reports whether s is one of the statuses defined by the protocol.
func (s ItemStatus) Recognized() bool {
	switch s {
	case ItemStatusPassive, ItemStatusActive, ItemStatusNeedsAttention:
		return true
	}

	return false
}

// OrDefault returns s if it is recognized and [ItemStatusPassive] otherwise.
func (s ItemStatus) OrDefault() ItemStatus {
	if s.Recognized() {
		return s
	}

	return ItemStatusPassive
}

func (s ItemStatus) String() string {
	return string(s)
}
