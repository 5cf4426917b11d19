package systray

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dothq/systray/internal/bustest"
	"github.com/godbus/dbus/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testItemPath = dbus.ObjectPath("/app1")

func noReply(...any) ([]any, error) {
	return nil, nil
}

// newTestItem stubs an item owned by ":1.23" and returns a proxy of it.
func newTestItem(t *testing.T, opts ...Option) (*Item, *bustest.Object, *bustest.Bus, *bustest.Conn) {
	t.Helper()

	bus := bustest.New()
	conn := bus.Connect()
	object := bus.AddObject(":1.23", testItemPath)

	item, err := NewItem(conn, ":1.23/app1", opts...)
	require.NoError(t, err)
	t.Cleanup(func() { item.Close() })

	return item, object, bus, conn
}

func TestItemScrollIsSingleCall(t *testing.T) {
	item, object, _, _ := newTestItem(t)
	object.Handle(StatusNotifierItemInterface+".Scroll", noReply)

	require.NoError(t, item.Scroll(-1, "vertical"))

	calls := object.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, StatusNotifierItemInterface+".Scroll", calls[0].Method)
	assert.Equal(t, []any{int32(-1), "vertical"}, calls[0].Args)
}

func TestItemActions(t *testing.T) {
	item, object, _, _ := newTestItem(t)

	for _, member := range []string{"Activate", "SecondaryActivate", "ContextMenu"} {
		object.Handle(StatusNotifierItemInterface+"."+member, noReply)
	}

	require.NoError(t, item.Activate(10, 20))
	require.NoError(t, item.SecondaryActivate(30, 40))
	require.NoError(t, item.ContextMenu(50, 60))

	calls := object.Calls()
	require.Len(t, calls, 3)
	assert.Equal(t, bustest.Call{Method: StatusNotifierItemInterface + ".Activate", Args: []any{int32(10), int32(20)}}, calls[0])
	assert.Equal(t, bustest.Call{Method: StatusNotifierItemInterface + ".SecondaryActivate", Args: []any{int32(30), int32(40)}}, calls[1])
	assert.Equal(t, bustest.Call{Method: StatusNotifierItemInterface + ".ContextMenu", Args: []any{int32(50), int32(60)}}, calls[2])
}

func TestItemUnsupportedAction(t *testing.T) {
	item, _, _, _ := newTestItem(t)

	err := item.SecondaryActivate(0, 0)
	assert.ErrorIs(t, err, ErrUnsupported)
}

func TestItemRemoteFailure(t *testing.T) {
	item, object, _, _ := newTestItem(t)
	object.Handle(StatusNotifierItemInterface+".Activate", func(...any) ([]any, error) {
		return nil, dbus.Error{Name: "com.example.Error.Busy", Body: []any{"busy"}}
	})

	err := item.Activate(0, 0)
	assert.ErrorIs(t, err, ErrRemote)

	var callErr *CallError
	require.ErrorAs(t, err, &callErr)
	assert.Equal(t, ":1.23", callErr.Destination)
	assert.Equal(t, testItemPath, callErr.Path)
	assert.Equal(t, "Activate", callErr.Member)
}

func TestItemTimeout(t *testing.T) {
	item, object, _, _ := newTestItem(t, WithCallTimeout(20*time.Millisecond))
	object.SetProp(StatusNotifierItemInterface, "Title", "App").Hang()

	start := time.Now()
	_, err := item.Title()

	require.ErrorIs(t, err, ErrTimeout)
	assert.True(t, IsTimeout(err))
	assert.NotErrorIs(t, err, ErrPropertyAbsent)
	assert.Less(t, time.Since(start), time.Second)

	err = item.Activate(0, 0)
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestItemDefaultTimeout(t *testing.T) {
	item, object, _, _ := newTestItem(t)
	object.Hang()

	start := time.Now()
	_, err := item.ID()

	require.ErrorIs(t, err, ErrTimeout)
	assert.GreaterOrEqual(t, time.Since(start), DefaultCallTimeout)
}

func TestItemPropertyAbsent(t *testing.T) {
	item, object, _, _ := newTestItem(t)
	object.SetProp(StatusNotifierItemInterface, "Id", "app1")

	_, err := item.Title()
	require.ErrorIs(t, err, ErrPropertyAbsent)
	assert.False(t, IsTimeout(err))

	id, err := item.ID()
	require.NoError(t, err)
	assert.Equal(t, "app1", id)
}

func TestItemObjectAbsent(t *testing.T) {
	conn := bustest.New().Connect()

	item, err := NewItem(conn, ":1.99/app1")
	require.NoError(t, err)

	_, err = item.Title()
	assert.ErrorIs(t, err, ErrObjectAbsent)

	err = item.Activate(0, 0)
	assert.ErrorIs(t, err, ErrObjectAbsent)
}

func TestItemMalformedProperty(t *testing.T) {
	item, object, _, _ := newTestItem(t)
	object.SetProp(StatusNotifierItemInterface, "Title", int32(5)).
		SetProp(StatusNotifierItemInterface, "WindowId", "window").
		SetProp(StatusNotifierItemInterface, "ToolTip", "tooltip")

	_, err := item.Title()
	assert.ErrorIs(t, err, ErrMalformedReply)

	_, err = item.WindowID()
	assert.ErrorIs(t, err, ErrMalformedReply)

	_, err = item.ToolTip()
	assert.ErrorIs(t, err, ErrMalformedReply)
}

func TestItemProperties(t *testing.T) {
	item, object, _, _ := newTestItem(t)
	object.SetProp(StatusNotifierItemInterface, "Category", "Hardware").
		SetProp(StatusNotifierItemInterface, "Status", "NeedsAttention").
		SetProp(StatusNotifierItemInterface, "WindowId", int32(42)).
		SetProp(StatusNotifierItemInterface, "IconName", "battery-low").
		SetProp(StatusNotifierItemInterface, "IconThemePath", "/opt/app/icons").
		SetProp(StatusNotifierItemInterface, "OverlayIconName", "overlay").
		SetProp(StatusNotifierItemInterface, "AttentionIconName", "attention").
		SetProp(StatusNotifierItemInterface, "AttentionMovieName", "movie").
		SetProp(StatusNotifierItemInterface, "Menu", dbus.ObjectPath("/MenuBar")).
		SetProp(StatusNotifierItemInterface, "ToolTip", []any{"tip-icon", []any{}, "Battery", "10% left"})

	category, err := item.Category()
	require.NoError(t, err)
	assert.Equal(t, ItemCategoryHardware, category)

	status, err := item.Status()
	require.NoError(t, err)
	assert.Equal(t, ItemStatusNeedsAttention, status)

	windowID, err := item.WindowID()
	require.NoError(t, err)
	assert.Equal(t, uint32(42), windowID)

	iconName, err := item.IconName()
	require.NoError(t, err)
	assert.Equal(t, "battery-low", iconName)

	themePath, err := item.IconThemePath()
	require.NoError(t, err)
	assert.Equal(t, "/opt/app/icons", themePath)

	overlay, err := item.OverlayIconName()
	require.NoError(t, err)
	assert.Equal(t, "overlay", overlay)

	attention, err := item.AttentionIconName()
	require.NoError(t, err)
	assert.Equal(t, "attention", attention)

	movie, err := item.AttentionMovieName()
	require.NoError(t, err)
	assert.Equal(t, "movie", movie)

	menu, err := item.Menu()
	require.NoError(t, err)
	assert.Equal(t, dbus.ObjectPath("/MenuBar"), menu.Value())

	tooltip, err := item.ToolTip()
	require.NoError(t, err)
	assert.Equal(t, ToolTip{IconName: "tip-icon", Title: "Battery", Description: "10% left"}, tooltip)
}

func TestItemUnrecognizedEnums(t *testing.T) {
	item, object, _, _ := newTestItem(t)
	object.SetProp(StatusNotifierItemInterface, "Category", "Gadgets").
		SetProp(StatusNotifierItemInterface, "Status", "Blinking")

	category, err := item.Category()
	require.NoError(t, err)
	assert.False(t, category.Recognized())
	assert.Equal(t, ItemCategoryUnknown, category.OrDefault())

	status, err := item.Status()
	require.NoError(t, err)
	assert.Equal(t, "Blinking", status.String())
	assert.Equal(t, ItemStatusPassive, status.OrDefault())
}

func TestItemIsMenu(t *testing.T) {
	item, object, _, _ := newTestItem(t)

	object.SetProp(StatusNotifierItemInterface, "IsMenu", true)
	isMenu, err := item.IsMenu()
	require.NoError(t, err)
	assert.True(t, isMenu)

	object.SetProp(StatusNotifierItemInterface, "ItemIsMenu", false)
	isMenu, err = item.IsMenu()
	require.NoError(t, err)
	assert.False(t, isMenu)
}

func TestItemSnapshot(t *testing.T) {
	item, object, _, _ := newTestItem(t)
	object.SetProp(StatusNotifierItemInterface, "Id", "app1").
		SetProp(StatusNotifierItemInterface, "Title", "App One").
		SetProp(StatusNotifierItemInterface, "Category", "ApplicationStatus").
		SetProp(StatusNotifierItemInterface, "Status", "Active").
		SetProp(StatusNotifierItemInterface, "WindowId", uint32(7)).
		SetProp(StatusNotifierItemInterface, "IconName", "app1-icon").
		SetProp(StatusNotifierItemInterface, "ItemIsMenu", true).
		SetProp(StatusNotifierItemInterface, "Menu", dbus.ObjectPath("/MenuBar")).
		SetProp(StatusNotifierItemInterface, "ToolTip", []any{"", []any{}, "Tip", ""})

	snapshot, err := item.Snapshot()
	require.NoError(t, err)

	assert.Equal(t, ItemSnapshot{
		Registration: ":1.23/app1",
		ID:           "app1",
		Title:        "App One",
		Category:     ItemCategoryApplicationStatus,
		Status:       ItemStatusActive,
		WindowID:     7,
		IconName:     "app1-icon",
		ToolTip:      ToolTip{Title: "Tip"},
		IsMenu:       true,
		MenuPath:     "/MenuBar",
	}, snapshot)
}

func TestItemSnapshotPrefersItemIsMenu(t *testing.T) {
	item, object, _, _ := newTestItem(t)
	object.SetProp(StatusNotifierItemInterface, "ItemIsMenu", false).
		SetProp(StatusNotifierItemInterface, "IsMenu", true)

	for range 20 {
		snapshot, err := item.Snapshot()
		require.NoError(t, err)
		require.False(t, snapshot.IsMenu)
	}

	isMenu, err := item.IsMenu()
	require.NoError(t, err)
	assert.False(t, isMenu)
}

func TestItemSnapshotFallsBackToIsMenu(t *testing.T) {
	item, object, _, _ := newTestItem(t)
	object.SetProp(StatusNotifierItemInterface, "IsMenu", true)

	snapshot, err := item.Snapshot()
	require.NoError(t, err)
	assert.True(t, snapshot.IsMenu)
}

func TestItemSnapshotObjectAbsent(t *testing.T) {
	item, err := NewItem(bustest.New().Connect(), ":1.99")
	require.NoError(t, err)

	_, err = item.Snapshot()
	assert.ErrorIs(t, err, ErrObjectAbsent)
}

func TestNewItemInvalidRegistration(t *testing.T) {
	_, err := NewItem(bustest.New().Connect(), "not a registration")
	assert.ErrorIs(t, err, ErrInvalidRegistration)
}

func TestItemOnNewStatus(t *testing.T) {
	item, _, bus, conn := newTestItem(t)

	var (
		mu       sync.Mutex
		statuses []ItemStatus
	)

	sub, err := item.OnNewStatus(func(status ItemStatus) {
		mu.Lock()
		defer mu.Unlock()
		statuses = append(statuses, status)
	})
	require.NoError(t, err)
	assert.Equal(t, "NewStatus", sub.Member())
	assert.Equal(t, 1, conn.Matches())

	// Signals of other items, other members and malformed bodies are ignored.
	bus.Emit(":1.99", testItemPath, StatusNotifierItemInterface+".NewStatus", "Active")
	bus.Emit(":1.23", "/other", StatusNotifierItemInterface+".NewStatus", "Active")
	bus.Emit(":1.23", testItemPath, StatusNotifierItemInterface+".NewTitle")
	bus.Emit(":1.23", testItemPath, StatusNotifierItemInterface+".NewStatus")
	bus.Emit(":1.23", testItemPath, StatusNotifierItemInterface+".NewStatus", "NeedsAttention")

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(statuses) == 1
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	assert.Equal(t, []ItemStatus{ItemStatusNeedsAttention}, statuses)
	mu.Unlock()

	require.NoError(t, sub.Cancel())
	require.NoError(t, sub.Cancel())
	assert.Zero(t, conn.Matches())
}

func TestItemSignalsOfWellKnownName(t *testing.T) {
	bus := bustest.New()
	conn := bus.Connect()
	bus.SetNameOwner("org.kde.StatusNotifierItem-5-1", ":1.50")

	item, err := NewItem(conn, "org.kde.StatusNotifierItem-5-1/StatusNotifierItem")
	require.NoError(t, err)
	t.Cleanup(func() { item.Close() })

	titles := make(chan struct{}, 1)
	_, err = item.OnNewTitle(func() { titles <- struct{}{} })
	require.NoError(t, err)

	// Signals carry the unique name of the sender.
	bus.Emit(":1.50", StatusNotifierItemPath, StatusNotifierItemInterface+".NewTitle")

	select {
	case <-titles:
	case <-time.After(time.Second):
		t.Fatal("NewTitle was not delivered")
	}
}

func TestItemSubscribeUnknownOwner(t *testing.T) {
	item, err := NewItem(bustest.New().Connect(), "org.kde.StatusNotifierItem-5-1/StatusNotifierItem")
	require.NoError(t, err)

	_, err = item.OnNewIcon(func() {})
	assert.ErrorIs(t, err, ErrObjectAbsent)
}

func TestItemCloseCancelsSubscriptions(t *testing.T) {
	item, _, bus, conn := newTestItem(t)

	var mu sync.Mutex
	count := 0
	callback := func() {
		mu.Lock()
		defer mu.Unlock()
		count++
	}

	for _, subscribe := range []func(func()) (*Subscription, error){
		item.OnNewTitle,
		item.OnNewIcon,
		item.OnNewAttentionIcon,
		item.OnNewOverlayIcon,
		item.OnNewToolTip,
	} {
		_, err := subscribe(callback)
		require.NoError(t, err)
	}
	assert.Equal(t, 5, conn.Matches())

	require.NoError(t, item.Close())
	assert.Zero(t, conn.Matches())

	bus.Emit(":1.23", testItemPath, StatusNotifierItemInterface+".NewTitle")
	time.Sleep(20 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Zero(t, count)
}

func TestItemRecorder(t *testing.T) {
	recorder := &callRecorder{}
	item, object, _, _ := newTestItem(t, WithRecorder(recorder))
	object.Handle(StatusNotifierItemInterface+".Activate", noReply)

	require.NoError(t, item.Activate(0, 0))
	_, err := item.Title()
	require.Error(t, err)

	calls := recorder.get()
	require.Len(t, calls, 2)
	assert.Equal(t, "Activate", calls[0].member)
	assert.NoError(t, calls[0].err)
	assert.Equal(t, "Title", calls[1].member)
	assert.True(t, errors.Is(calls[1].err, ErrObjectAbsent) || errors.Is(calls[1].err, ErrPropertyAbsent))
}

type observedCall struct {
	member string
	err    error
}

type callRecorder struct {
	nopRecorder

	mu    sync.Mutex
	calls []observedCall
}

func (r *callRecorder) ObserveCall(member string, _ time.Time, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.calls = append(r.calls, observedCall{member: member, err: err})
}

func (r *callRecorder) get() []observedCall {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]observedCall(nil), r.calls...)
}
