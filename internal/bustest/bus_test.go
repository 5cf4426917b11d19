package bustest

import (
	"fmt"
	"testing"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type echo struct{}

func (echo) Echo(s string, sender dbus.Sender) (string, string, *dbus.Error) {
	return s, string(sender), nil
}

func (echo) Fail() *dbus.Error {
	return dbus.NewError("com.example.Failed", []any{"failed"})
}

func TestExportedDispatch(t *testing.T) {
	bus := New()
	server := bus.Connect()
	client := bus.Connect()

	reply, err := server.RequestName("com.example.Echo", dbus.NameFlagDoNotQueue)
	require.NoError(t, err)
	require.Equal(t, dbus.RequestNameReplyPrimaryOwner, reply)
	require.NoError(t, server.Export(echo{}, "/echo", "com.example.Echo"))

	var s, sender string
	call := client.Object("com.example.Echo", "/echo").Call("com.example.Echo.Echo", 0, "hi")
	require.NoError(t, call.Store(&s, &sender))
	assert.Equal(t, "hi", s)
	assert.Equal(t, client.Unique(), sender)

	err = client.Object("com.example.Echo", "/echo").Call("com.example.Echo.Fail", 0).Err
	var dbusErr dbus.Error
	require.ErrorAs(t, err, &dbusErr)
	assert.Equal(t, "com.example.Failed", dbusErr.Name)

	err = client.Object("com.example.Echo", "/echo").Call("com.example.Echo.Echo", 0, 42).Err
	require.ErrorAs(t, err, &dbusErr)
	assert.Equal(t, errInvalidArgs, dbusErr.Name)

	err = client.Object("com.example.Echo", "/echo").Call("com.example.Other.Echo", 0, "hi").Err
	require.ErrorAs(t, err, &dbusErr)
	assert.Equal(t, errUnknownInterface, dbusErr.Name)
}

func TestRequestNameTaken(t *testing.T) {
	bus := New()
	first := bus.Connect()
	second := bus.Connect()

	reply, err := first.RequestName("com.example.Name", dbus.NameFlagDoNotQueue)
	require.NoError(t, err)
	assert.Equal(t, dbus.RequestNameReplyPrimaryOwner, reply)

	reply, err = second.RequestName("com.example.Name", dbus.NameFlagDoNotQueue)
	require.NoError(t, err)
	assert.Equal(t, dbus.RequestNameReplyExists, reply)

	require.NoError(t, first.Close())

	reply, err = second.RequestName("com.example.Name", dbus.NameFlagDoNotQueue)
	require.NoError(t, err)
	assert.Equal(t, dbus.RequestNameReplyPrimaryOwner, reply)
}

func TestAbsentObject(t *testing.T) {
	bus := New()
	conn := bus.Connect()
	bus.AddObject(":1.99", "/StatusNotifierItem")

	var dbusErr dbus.Error

	err := conn.Object(":1.42", "/StatusNotifierItem").Call("org.kde.StatusNotifierItem.Activate", 0, int32(0), int32(0)).Err
	require.ErrorAs(t, err, &dbusErr)
	assert.Equal(t, errServiceUnknown, dbusErr.Name)

	err = conn.Object(":1.99", "/Other").Call("org.kde.StatusNotifierItem.Activate", 0, int32(0), int32(0)).Err
	require.ErrorAs(t, err, &dbusErr)
	assert.Equal(t, errUnknownObject, dbusErr.Name)
}

func TestStubObject(t *testing.T) {
	bus := New()
	conn := bus.Connect()

	bus.AddObject(":1.23", "/item").
		SetProp("org.kde.StatusNotifierItem", "Title", "App").
		Handle("org.kde.StatusNotifierItem.Activate", func(...any) ([]any, error) { return nil, nil })

	object := conn.Object(":1.23", "/item")

	value, err := object.GetProperty("org.kde.StatusNotifierItem.Title")
	require.NoError(t, err)
	assert.Equal(t, "App", value.Value())

	require.NoError(t, object.Call("org.kde.StatusNotifierItem.Activate", 0, int32(1), int32(2)).Err)

	stub := object.(*Object)
	require.Len(t, stub.Calls(), 1)
	assert.Equal(t, []any{int32(1), int32(2)}, stub.Calls()[0].Args)
}

func TestGetNameOwner(t *testing.T) {
	bus := New()
	conn := bus.Connect()
	bus.SetNameOwner("org.example.App", ":1.7")

	daemon := conn.Object("org.freedesktop.DBus", "/org/freedesktop/DBus")

	var owner string
	require.NoError(t, daemon.Call("org.freedesktop.DBus.GetNameOwner", 0, "org.example.App").Store(&owner))
	assert.Equal(t, ":1.7", owner)

	err := daemon.Call("org.freedesktop.DBus.GetNameOwner", 0, "org.example.Missing").Err
	var dbusErr dbus.Error
	require.ErrorAs(t, err, &dbusErr)
	assert.Equal(t, errNameHasNoOwner, dbusErr.Name)
}

func TestSignals(t *testing.T) {
	bus := New()
	conn := bus.Connect()

	signals := make(chan *dbus.Signal, 4)
	conn.Signal(signals)

	bus.Emit(":1.23", "/item", "org.kde.StatusNotifierItem.NewTitle")

	select {
	case signal := <-signals:
		assert.Equal(t, ":1.23", signal.Sender)
		assert.Equal(t, "org.kde.StatusNotifierItem.NewTitle", signal.Name)
	case <-time.After(time.Second):
		t.Fatal("signal was not delivered")
	}

	conn.RemoveSignal(signals)
	bus.Emit(":1.23", "/item", "org.kde.StatusNotifierItem.NewIcon")
	assert.Empty(t, signals)
}

func TestSignalsWaitForRoom(t *testing.T) {
	bus := New()
	conn := bus.Connect()

	signals := make(chan *dbus.Signal, 1)
	conn.Signal(signals)

	for i := range 3 {
		bus.Emit(":1.23", "/item", "org.kde.StatusNotifierItem.NewStatus", fmt.Sprint(i))
	}

	received := 0
	for received < 3 {
		select {
		case <-signals:
			received++
		case <-time.After(time.Second):
			t.Fatalf("received %d of 3 signals", received)
		}
	}

	conn.RemoveSignal(signals)
}

func TestRemoveSignalThenCloseDuringDelivery(t *testing.T) {
	bus := New()
	conn := bus.Connect()

	stop := make(chan struct{})
	emitted := make(chan struct{})

	go func() {
		defer close(emitted)
		for {
			select {
			case <-stop:
				return
			default:
				bus.Emit(":1.23", "/item", "org.kde.StatusNotifierItem.NewIcon")
			}
		}
	}()

	for range 50 {
		signals := make(chan *dbus.Signal)
		conn.Signal(signals)
		time.Sleep(time.Millisecond)

		// Once RemoveSignal returns, nothing sends on the channel anymore.
		conn.RemoveSignal(signals)
		close(signals)
	}

	close(stop)
	<-emitted
}

func TestCloseStopsDelivery(t *testing.T) {
	bus := New()
	conn := bus.Connect()

	signals := make(chan *dbus.Signal, 1)
	conn.Signal(signals)
	require.NoError(t, conn.Close())

	bus.Emit(":1.23", "/item", "org.kde.StatusNotifierItem.NewIcon")
	assert.Empty(t, signals)
}
