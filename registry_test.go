package systray

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestRegistryKeepsRegistrationOrder(t *testing.T) {
	registry := NewRegistry()

	for i := range 5 {
		added, err := registry.Add(RegisteredItem{Service: fmt.Sprintf("app%d", i), Sender: fmt.Sprintf(":1.%d", i+10)})
		require.NoError(t, err)
		assert.True(t, added)
	}

	registrations, err := registry.Registrations()
	require.NoError(t, err)

	assert.Equal(t, []string{
		":1.10/app0",
		":1.11/app1",
		":1.12/app2",
		":1.13/app3",
		":1.14/app4",
	}, registrations)

	// Reading does not modify the registry.
	again, err := registry.Registrations()
	require.NoError(t, err)
	assert.Equal(t, registrations, again)
	assert.Equal(t, 5, registry.Len())
}

func TestRegistryEmpty(t *testing.T) {
	registrations, err := NewRegistry().Registrations()
	require.NoError(t, err)
	assert.NotNil(t, registrations)
	assert.Empty(t, registrations)
}

func TestRegistryAddDuplicate(t *testing.T) {
	registry := NewRegistry()
	item := RegisteredItem{Service: "app1", Sender: ":1.23"}

	added, err := registry.Add(item)
	require.NoError(t, err)
	assert.True(t, added)

	added, err = registry.Add(item)
	require.NoError(t, err)
	assert.False(t, added)

	// Same service from another sender is a different item.
	added, err = registry.Add(RegisteredItem{Service: "app1", Sender: ":1.24"})
	require.NoError(t, err)
	assert.True(t, added)

	assert.Equal(t, 2, registry.Len())
}

func TestRegistryAddRejectsInvalidItems(t *testing.T) {
	registry := NewRegistry()

	for _, item := range []RegisteredItem{
		{Service: "bad/service", Sender: ":1.23"},
		{Service: "", Sender: ":1.23"},
		{Service: "/trailing/", Sender: ":1.23"},
		{Service: "app1", Sender: ""},
		{Service: "app1", Sender: "not-a-bus-name"},
	} {
		added, err := registry.Add(item)
		assert.ErrorIs(t, err, ErrInvalidRegistration, "%+v", item)
		assert.False(t, added, "%+v", item)
	}

	assert.Zero(t, registry.Len())
	assert.False(t, registry.Poisoned())
}

func TestRegistryAddMergesSameObject(t *testing.T) {
	registry := NewRegistry()

	for _, item := range []RegisteredItem{
		{Service: "org.a.B", Sender: ":1.5"},
		{Service: "org.c.D", Sender: ":1.5"},
		{Service: "/StatusNotifierItem", Sender: ":1.5"},
		{Service: "app1", Sender: ":1.5"},
		{Service: "/app1", Sender: ":1.5"},
	} {
		_, err := registry.Add(item)
		require.NoError(t, err)
	}

	registrations, err := registry.Registrations()
	require.NoError(t, err)
	assert.Equal(t, []string{":1.5/StatusNotifierItem", ":1.5/app1"}, registrations)
}

func TestRegistryRemoveSender(t *testing.T) {
	registry := NewRegistry()

	for _, item := range []RegisteredItem{
		{Service: "app1", Sender: ":1.23"},
		{Service: "app2", Sender: ":1.45"},
		{Service: "app3", Sender: ":1.23"},
	} {
		_, err := registry.Add(item)
		require.NoError(t, err)
	}

	removed, err := registry.RemoveSender(":1.23")
	require.NoError(t, err)
	assert.Equal(t, []RegisteredItem{
		{Service: "app1", Sender: ":1.23"},
		{Service: "app3", Sender: ":1.23"},
	}, removed)

	registrations, err := registry.Registrations()
	require.NoError(t, err)
	assert.Equal(t, []string{":1.45/app2"}, registrations)
}

func TestRegistryItemsIsCopy(t *testing.T) {
	registry := NewRegistry()
	_, err := registry.Add(RegisteredItem{Service: "app1", Sender: ":1.23"})
	require.NoError(t, err)

	items, err := registry.Items()
	require.NoError(t, err)
	items[0].Service = "changed"

	items, err = registry.Items()
	require.NoError(t, err)
	assert.Equal(t, "app1", items[0].Service)
}

func TestRegistryPoisoned(t *testing.T) {
	registry := NewRegistry()

	err := registry.mutate(func() { panic("boom") })
	require.ErrorIs(t, err, ErrRegistryPoisoned)
	assert.Contains(t, err.Error(), "boom")
	assert.True(t, registry.Poisoned())

	_, err = registry.Add(RegisteredItem{Service: "app1", Sender: ":1.23"})
	assert.ErrorIs(t, err, ErrRegistryPoisoned)

	_, err = registry.Registrations()
	assert.ErrorIs(t, err, ErrRegistryPoisoned)

	_, err = registry.Items()
	assert.ErrorIs(t, err, ErrRegistryPoisoned)
}

func TestRegistryConcurrentAdd(t *testing.T) {
	registry := NewRegistry()

	var wg sync.WaitGroup
	for i := range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := registry.Add(RegisteredItem{Service: fmt.Sprintf("app%d", i), Sender: ":1.1"})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 50, registry.Len())
}

func TestRegistryLenMatchesSuccessfulRegistrations(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		registry := NewRegistry()
		services := rapid.SliceOf(rapid.StringMatching(`[a-z]{1,3}`)).Draw(t, "services")

		var added []string
		for i, service := range services {
			// A few senders only, so that duplicate pairs occur.
			item := RegisteredItem{Service: service, Sender: fmt.Sprintf(":1.%d", i%3)}

			ok, err := registry.Add(item)
			if err != nil {
				t.Fatalf("add %v: %v", item, err)
			}
			if ok {
				added = append(added, item.Registration())
			}
		}

		registrations, err := registry.Registrations()
		if err != nil {
			t.Fatalf("registrations: %v", err)
		}

		if registry.Len() != len(added) {
			t.Fatalf("len %d, want %d", registry.Len(), len(added))
		}

		for i := range added {
			if registrations[i] != added[i] {
				t.Fatalf("registration %d is %q, want %q", i, registrations[i], added[i])
			}
		}
	})
}
