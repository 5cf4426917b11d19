package systray

import (
	"errors"
	"fmt"
	"sync"

	"github.com/godbus/dbus/v5"
	"go.uber.org/zap"
)

const (
	StatusNotifierItemInterface = "org.kde.StatusNotifierItem"
	StatusNotifierItemPath      = "/StatusNotifierItem"
)

// Item is a proxy of a remote [StatusNotifierItem].
//
// Every getter performs a fresh round trip bounded by the call timeout (see
// [WithCallTimeout]); nothing is cached. Use [Item.Snapshot] to read all
// display attributes at once.
//
// Item is safe for concurrent use. Items created by the same [Host] share its
// bus connection.
//
// [StatusNotifierItem]: https://www.freedesktop.org/wiki/Specifications/StatusNotifierItem/StatusNotifierItem/
type Item struct {
	conn   Conn
	ref    ItemReference
	remote *remote
	logger *zap.Logger

	mu            sync.Mutex
	subscriptions []*Subscription
}

// ToolTip is the text part of the ToolTip property. Pixmaps are ignored.
type ToolTip struct {
	IconName    string `json:"icon_name,omitempty" yaml:"icon_name,omitempty"`
	Title       string `json:"title,omitempty" yaml:"title,omitempty"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
}

// ItemSnapshot holds display attributes of an item read at a single point in
// time. Attributes the item does not provide are left empty.
type ItemSnapshot struct {
	Registration       string       `json:"registration" yaml:"registration"`
	ID                 string       `json:"id" yaml:"id"`
	Title              string       `json:"title" yaml:"title"`
	Category           ItemCategory `json:"category" yaml:"category"`
	Status             ItemStatus   `json:"status" yaml:"status"`
	WindowID           uint32       `json:"window_id" yaml:"window_id"`
	IconName           string       `json:"icon_name" yaml:"icon_name"`
	IconThemePath      string       `json:"icon_theme_path,omitempty" yaml:"icon_theme_path,omitempty"`
	OverlayIconName    string       `json:"overlay_icon_name,omitempty" yaml:"overlay_icon_name,omitempty"`
	AttentionIconName  string       `json:"attention_icon_name,omitempty" yaml:"attention_icon_name,omitempty"`
	AttentionMovieName string       `json:"attention_movie_name,omitempty" yaml:"attention_movie_name,omitempty"`
	ToolTip            ToolTip      `json:"tooltip" yaml:"tooltip"`
	IsMenu             bool         `json:"is_menu" yaml:"is_menu"`
	MenuPath           string       `json:"menu,omitempty" yaml:"menu,omitempty"`
}

// NewItem returns a proxy of the item with the given registration string, as
// found in the RegisteredStatusNotifierItems property of the watcher.
//
// NewItem does not contact the item.
func NewItem(conn Conn, registration string, opts ...Option) (*Item, error) {
	ref, err := ParseRegistration(registration)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve item: %w", err)
	}

	return NewItemFromReference(conn, ref, opts...), nil
}

// NewItemFromReference returns a proxy of the item at ref.
func NewItemFromReference(conn Conn, ref ItemReference, opts ...Option) *Item {
	o := newOptions(opts)

	return &Item{
		conn: conn,
		ref:  ref,
		remote: &remote{
			object:   conn.Object(ref.Destination, ref.Path),
			timeout:  o.timeout,
			recorder: o.recorder,
		},
		logger: o.logger.Named("item").With(zap.Stringer("item", ref)),
	}
}

// Reference returns the address of the item.
func (item *Item) Reference() ItemReference {
	return item.ref
}

// Destination returns the bus name the item is addressed by.
func (item *Item) Destination() string {
	return item.ref.Destination
}

// Path returns the object path of the item.
func (item *Item) Path() dbus.ObjectPath {
	return item.ref.Path
}

func (item *Item) String() string {
	return item.ref.String()
}

// Category returns the category of the item.
func (item *Item) Category() (ItemCategory, error) {
	category, err := typedProperty[string](item.remote, StatusNotifierItemInterface, "Category")
	return ParseItemCategory(category), err
}

// ID returns unique identifier of the application, such as the application
// name.
func (item *Item) ID() (string, error) {
	return typedProperty[string](item.remote, StatusNotifierItemInterface, "Id")
}

// Title returns name that describes the application, can be more descriptive
// than ID.
func (item *Item) Title() (string, error) {
	return typedProperty[string](item.remote, StatusNotifierItemInterface, "Title")
}

// Status returns status of the item or of the associated application.
func (item *Item) Status() (ItemStatus, error) {
	status, err := typedProperty[string](item.remote, StatusNotifierItemInterface, "Status")
	return ParseItemStatus(status), err
}

// WindowID returns windowing-system dependent identifier of the window
// associated with the item.
func (item *Item) WindowID() (uint32, error) {
	variant, err := item.remote.property(StatusNotifierItemInterface, "WindowId")
	if err != nil {
		return 0, err
	}

	// The specification says int32, most implementations send uint32.
	switch id := variant.Value().(type) {
	case uint32:
		return id, nil
	case int32:
		return uint32(id), nil
	}

	return 0, item.remote.wrap("WindowId", ErrMalformedReply, typeMismatch[uint32](variant))
}

// IconName returns [Freedesktop-compliant] name of the icon that visualizes
// the item.
//
// [Freedesktop-compliant]: https://specifications.freedesktop.org/icon-naming-spec/latest/
func (item *Item) IconName() (string, error) {
	return typedProperty[string](item.remote, StatusNotifierItemInterface, "IconName")
}

// IconThemePath returns an additional path to look up icons in. Hosts should
// resolve icon names against it before using the icon theme.
func (item *Item) IconThemePath() (string, error) {
	return typedProperty[string](item.remote, StatusNotifierItemInterface, "IconThemePath")
}

// OverlayIconName returns name of an icon that can be drawn over the main
// icon.
func (item *Item) OverlayIconName() (string, error) {
	return typedProperty[string](item.remote, StatusNotifierItemInterface, "OverlayIconName")
}

// AttentionIconName returns name of an icon that indicates that the item
// needs attention.
func (item *Item) AttentionIconName() (string, error) {
	return typedProperty[string](item.remote, StatusNotifierItemInterface, "AttentionIconName")
}

// AttentionMovieName returns an animation that can be used to indicate that
// the item needs attention, either an icon name or a full path.
func (item *Item) AttentionMovieName() (string, error) {
	return typedProperty[string](item.remote, StatusNotifierItemInterface, "AttentionMovieName")
}

// ToolTip returns the tooltip of the item.
func (item *Item) ToolTip() (ToolTip, error) {
	variant, err := item.remote.property(StatusNotifierItemInterface, "ToolTip")
	if err != nil {
		return ToolTip{}, err
	}

	tooltip, ok := parseToolTip(variant.Value())
	if !ok {
		return ToolTip{}, item.remote.wrap("ToolTip", ErrMalformedReply,
			fmt.Errorf("expected (sa(iiay)ss), got %s", variant.Signature()))
	}

	return tooltip, nil
}

// IsMenu reports whether the item only supports the context menu.
// Visualizations should prefer [Item.ContextMenu] over [Item.Activate] for
// such items.
func (item *Item) IsMenu() (bool, error) {
	// Implementations use ItemIsMenu, the specification names it IsMenu.
	isMenu, err := typedProperty[bool](item.remote, StatusNotifierItemInterface, "ItemIsMenu")
	if errors.Is(err, ErrPropertyAbsent) {
		return typedProperty[bool](item.remote, StatusNotifierItemInterface, "IsMenu")
	}

	return isMenu, err
}

// Menu returns the Menu property as is. It is usually an object path of a
// com.canonical.dbusmenu object.
func (item *Item) Menu() (dbus.Variant, error) {
	return item.remote.property(StatusNotifierItemInterface, "Menu")
}

// Snapshot reads all properties of the item in a single round trip.
func (item *Item) Snapshot() (ItemSnapshot, error) {
	props, err := item.remote.allProperties(StatusNotifierItemInterface)
	if err != nil {
		return ItemSnapshot{}, err
	}

	snapshot := ItemSnapshot{Registration: item.ref.String()}

	for name, variant := range props {
		switch value := variant.Value().(type) {
		case string:
			switch name {
			case "Id":
				snapshot.ID = value
			case "Title":
				snapshot.Title = value
			case "Category":
				snapshot.Category = ParseItemCategory(value)
			case "Status":
				snapshot.Status = ParseItemStatus(value)
			case "IconName":
				snapshot.IconName = value
			case "IconThemePath":
				snapshot.IconThemePath = value
			case "OverlayIconName":
				snapshot.OverlayIconName = value
			case "AttentionIconName":
				snapshot.AttentionIconName = value
			case "AttentionMovieName":
				snapshot.AttentionMovieName = value
			}
		case uint32:
			if name == "WindowId" {
				snapshot.WindowID = value
			}
		case int32:
			if name == "WindowId" {
				snapshot.WindowID = uint32(value)
			}
		case dbus.ObjectPath:
			if name == "Menu" {
				snapshot.MenuPath = string(value)
			}
		default:
			if name == "ToolTip" {
				if tooltip, ok := parseToolTip(value); ok {
					snapshot.ToolTip = tooltip
				}
			}
		}
	}

	// Implementations use ItemIsMenu, the specification names it IsMenu.
	for _, name := range []string{"ItemIsMenu", "IsMenu"} {
		if isMenu, ok := props[name].Value().(bool); ok {
			snapshot.IsMenu = isMenu
			break
		}
	}

	return snapshot, nil
}

// ContextMenu asks the status notifier item to show a context menu.
//
// This is typically a consequence of user input, such as mouse right click
// over the graphical representation of the item.
//
// The x and y parameters are in screen coordinates and is to be considered a
// hint to the item about where to show the context menu.
func (item *Item) ContextMenu(x, y int32) error {
	return item.remote.call(StatusNotifierItemInterface, "ContextMenu", nil, x, y)
}

// Activate asks the status notifier item for activation. The application will
// perform any task is considered appropriate as an activation request.
//
// This is typically a consequence of user input, such as mouse left click over
// the graphical representation of the item.
func (item *Item) Activate(x, y int32) error {
	return item.remote.call(StatusNotifierItemInterface, "Activate", nil, x, y)
}

// SecondaryActivate is to be considered a secondary and less important form of
// activation compared to Activate.
//
// This is typically a consequence of user input, such as mouse middle click
// over the graphical representation of the item.
func (item *Item) SecondaryActivate(x, y int32) error {
	return item.remote.call(StatusNotifierItemInterface, "SecondaryActivate", nil, x, y)
}

// Scroll emits a scroll event on the status notifier item.
//
// The delta parameter represent the amount of scroll. The orientation
// parameter represent orientation of the scroll request and its valid values
// are "horizontal" and "vertical". It is passed as is.
func (item *Item) Scroll(delta int32, orientation string) error {
	return item.remote.call(StatusNotifierItemInterface, "Scroll", nil, delta, orientation)
}

// OnNewTitle registers callback that runs whenever the item changes its title.
func (item *Item) OnNewTitle(callback func()) (*Subscription, error) {
	return item.subscribe("NewTitle", func(*dbus.Signal) { callback() })
}

// OnNewIcon registers callback that runs whenever the item changes its icon.
func (item *Item) OnNewIcon(callback func()) (*Subscription, error) {
	return item.subscribe("NewIcon", func(*dbus.Signal) { callback() })
}

// OnNewAttentionIcon registers callback that runs whenever the item changes
// its attention icon or movie.
func (item *Item) OnNewAttentionIcon(callback func()) (*Subscription, error) {
	return item.subscribe("NewAttentionIcon", func(*dbus.Signal) { callback() })
}

// OnNewOverlayIcon registers callback that runs whenever the item changes its
// overlay icon.
func (item *Item) OnNewOverlayIcon(callback func()) (*Subscription, error) {
	return item.subscribe("NewOverlayIcon", func(*dbus.Signal) { callback() })
}

// OnNewToolTip registers callback that runs whenever the item changes its
// tooltip.
func (item *Item) OnNewToolTip(callback func()) (*Subscription, error) {
	return item.subscribe("NewToolTip", func(*dbus.Signal) { callback() })
}

// OnNewStatus registers callback that runs whenever the item changes its
// status. The callback receives the new status carried by the signal.
func (item *Item) OnNewStatus(callback func(ItemStatus)) (*Subscription, error) {
	return item.subscribe("NewStatus", func(signal *dbus.Signal) {
		if len(signal.Body) < 1 {
			item.logger.Debug("NewStatus without arguments")
			return
		}

		status, ok := signal.Body[0].(string)
		if !ok {
			item.logger.Debug("NewStatus with malformed argument")
			return
		}

		callback(ParseItemStatus(status))
	})
}

// Close cancels all subscriptions of the item.
func (item *Item) Close() error {
	item.mu.Lock()
	subscriptions := append([]*Subscription(nil), item.subscriptions...)
	item.mu.Unlock()

	var errs []error
	for _, sub := range subscriptions {
		if err := sub.Cancel(); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

// parseToolTip extracts the text part of a ToolTip value.
//
// Format of tooltip is as follows
//
//	[<icon-name>, <icon>, <title>, <description>]
func parseToolTip(value any) (ToolTip, bool) {
	fields, ok := value.([]any)
	if !ok || len(fields) < 4 {
		return ToolTip{}, false
	}

	iconName, ok1 := fields[0].(string)
	title, ok2 := fields[2].(string)
	description, ok3 := fields[3].(string)
	if !ok1 || !ok2 || !ok3 {
		return ToolTip{}, false
	}

	return ToolTip{IconName: iconName, Title: title, Description: description}, true
}
