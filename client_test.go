package xdpbind

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBinding_RegisterClient(t *testing.T) {
	r, mr := newTestRegistry(t, RegistryConfig{})
	b := addTestBinding(t, r, 1, ModeGeneric, nil, &fakeProvider{}, nil)

	rx := &BindingClient{ClientID: ClientIDRxQueue, KeySize: 4}
	tx := &BindingClient{ClientID: ClientIDTxQueue, KeySize: 4}

	first := &ClientEntry{Context: "first"}
	require.NoError(t, b.RegisterClient(rx, []byte{0, 0, 0, 1}, first))
	assert.Equal(t, int64(2), b.refCount.Load())
	assert.Equal(t, []byte{0, 0, 0, 1}, first.Key())
	assert.Same(t, rx, first.Client())

	// Same id and key is rejected without touching the list
	dupe := &ClientEntry{}
	err := b.RegisterClient(&BindingClient{ClientID: ClientIDRxQueue, KeySize: 4}, []byte{0, 0, 0, 1}, dupe)
	assert.ErrorIs(t, err, ErrAlreadyExists)
	assert.Nil(t, dupe.binding.Load())
	assert.Nil(t, dupe.Client())
	assert.Equal(t, int64(2), b.refCount.Load())
	assert.Same(t, first, b.FindClient(rx, []byte{0, 0, 0, 1}))

	// Key bytes beyond KeySize are not part of the identity
	err = b.RegisterClient(rx, []byte{0, 0, 0, 1, 9}, &ClientEntry{})
	assert.ErrorIs(t, err, ErrAlreadyExists)

	// A different id or key is a different client
	second := &ClientEntry{}
	require.NoError(t, b.RegisterClient(tx, []byte{0, 0, 0, 1}, second))
	third := &ClientEntry{}
	require.NoError(t, b.RegisterClient(rx, []byte{0, 0, 0, 2}, third))
	assert.Equal(t, int64(4), b.refCount.Load())
	assert.Equal(t, int64(3), count(mr, "clients.registered"))

	assert.Same(t, second, b.FindClient(tx, []byte{0, 0, 0, 1}))
	assert.Same(t, third, b.FindClient(rx, []byte{0, 0, 0, 2}))
	assert.Nil(t, b.FindClient(tx, []byte{0, 0, 0, 2}))

	b.DeregisterClient(first)
	assert.Nil(t, b.FindClient(rx, []byte{0, 0, 0, 1}))
	assert.Equal(t, int64(3), b.refCount.Load())

	// Idempotent
	b.DeregisterClient(first)
	assert.Equal(t, int64(3), b.refCount.Load())

	// The key can be reused once the old entry is gone
	require.NoError(t, b.RegisterClient(rx, []byte{0, 0, 0, 1}, first))

	b.DeregisterClient(first)
	b.DeregisterClient(second)
	b.DeregisterClient(third)
	assert.Equal(t, int64(1), b.refCount.Load())
}

func TestBinding_RegisterClientContract(t *testing.T) {
	r, _ := newTestRegistry(t, RegistryConfig{})
	b := addTestBinding(t, r, 1, ModeGeneric, nil, &fakeProvider{}, nil)

	assert.Panics(t, func() {
		_ = b.RegisterClient(&BindingClient{ClientID: ClientIDInvalid, KeySize: 1}, []byte{1}, &ClientEntry{})
	})
	assert.Panics(t, func() {
		_ = b.RegisterClient(&BindingClient{ClientID: ClientIDRxQueue}, []byte{1}, &ClientEntry{})
	})
	assert.Panics(t, func() {
		_ = b.RegisterClient(&BindingClient{ClientID: ClientIDRxQueue, KeySize: 4}, []byte{1}, &ClientEntry{})
	})
	assert.Equal(t, int64(1), b.refCount.Load())
}

func TestBinding_SupportsHooks(t *testing.T) {
	r, _ := newTestRegistry(t, RegistryConfig{})
	b := addTestBinding(t, r, 1, ModeGeneric, []HookID{hookRxInspect, hookTxInject}, &fakeProvider{}, nil)

	assert.True(t, b.SupportsHooks(nil))
	assert.True(t, b.SupportsHooks([]HookID{hookRxInspect}))
	assert.True(t, b.SupportsHooks([]HookID{hookTxInject, hookRxInspect}))

	// Exact triple match only
	assert.False(t, b.SupportsHooks([]HookID{{Layer: HookL2, Direction: HookRx, SubLayer: HookInject}}))
	assert.False(t, b.SupportsHooks([]HookID{hookRxInspect, {Layer: HookL2, Direction: HookTx, SubLayer: HookInspect}}))
}

func TestClientID_String(t *testing.T) {
	assert.Equal(t, "rx_queue", ClientIDRxQueue.String())
	assert.Equal(t, "tx_queue", ClientIDTxQueue.String())
	assert.Equal(t, "client(9)", ClientID(9).String())
}

func TestBinding_DeregisterEvictedClient(t *testing.T) {
	r, _ := newTestRegistry(t, RegistryConfig{})
	b := addTestBinding(t, r, 1, ModeGeneric, nil, &fakeProvider{}, nil)
	h := b.Handle()

	// The lookup reference is dropped once registered, the entry keeps the binding alive
	b.Reference()
	client := &BindingClient{ClientID: ClientIDRxQueue, KeySize: 1}
	entry := &ClientEntry{}
	require.NoError(t, b.RegisterClient(client, []byte{1}, entry))
	b.Dereference()

	r.RemoveBindings([]BindingHandle{h})
	assertFreed(t, r, h)

	assert.NotPanics(t, func() { b.DeregisterClient(entry) })
	assert.Nil(t, entry.binding.Load())
}

func TestBinding_DeregisterFromDetachCallback(t *testing.T) {
	r, mr := newTestRegistry(t, RegistryConfig{})
	b := addTestBinding(t, r, 1, ModeGeneric, nil, &fakeProvider{}, nil)
	h := b.Handle()

	done := make(chan struct{})
	client := &BindingClient{ClientID: ClientIDTxQueue, KeySize: 1}
	client.BindingDetached = func(e *ClientEntry) {
		b.DeregisterClient(e)
		close(done)
	}

	require.NoError(t, b.RegisterClient(client, []byte{7}, &ClientEntry{}))
	r.RemoveBindings([]BindingHandle{h})

	select {
	case <-done:
	case <-time.After(testWait):
		t.Fatal("DeregisterClient from BindingDetached never returned")
	}

	assertFreed(t, r, h)
	assert.Equal(t, int64(1), count(mr, "clients.evicted"))
}

func TestBinding_DeregisterDuringRundown(t *testing.T) {
	for i := 0; i < 100; i++ {
		r, mr := newTestRegistry(t, RegistryConfig{})
		b := addTestBinding(t, r, 1, ModeGeneric, nil, &fakeProvider{}, nil)
		h := b.Handle()

		var detached atomic.Int32
		client := &BindingClient{
			ClientID:        ClientIDRxQueue,
			KeySize:         1,
			BindingDetached: func(*ClientEntry) { detached.Add(1) },
		}
		entry := &ClientEntry{}
		require.NoError(t, b.RegisterClient(client, []byte{1}, entry))

		// Whichever side claims the entry first drops its reference, the other does nothing
		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			b.DeregisterClient(entry)
		}()
		r.RemoveBindings([]BindingHandle{h})
		wg.Wait()

		assertFreed(t, r, h)
		assert.Equal(t, int64(detached.Load()), count(mr, "clients.evicted"))
		assert.LessOrEqual(t, detached.Load(), int32(1))
	}
}
