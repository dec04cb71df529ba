package xdpbind

import (
	"bytes"
	"fmt"
	"sync/atomic"

	"github.com/google/btree"
)

// ClientID identifies the kind of consumer attached to a binding.
type ClientID uint32

const (
	ClientIDInvalid ClientID = iota
	ClientIDRxQueue
	ClientIDTxQueue
)

func (c ClientID) String() string {
	switch c {
	case ClientIDRxQueue:
		return "rx_queue"
	case ClientIDTxQueue:
		return "tx_queue"
	case ClientIDInvalid:
		return "invalid"
	default:
		return fmt.Sprintf("client(%d)", uint32(c))
	}
}

// BindingClient describes one kind of consumer. BindingDetached is called on the binding's work queue when the
// binding evicts the entry during rundown. The entry is already unlinked by then, so DeregisterClient on it
// returns immediately; other blocking Binding methods must not be called from the callback.
type BindingClient struct {
	ClientID        ClientID
	KeySize         int
	BindingDetached func(entry *ClientEntry)
}

// ClientEntry is owned by the consumer, the binding only links and unlinks it.
type ClientEntry struct {
	client  *BindingClient
	key     []byte
	binding atomic.Pointer[Binding]

	// Context is free for the owner's use.
	Context any
}

func (e *ClientEntry) Client() *BindingClient {
	return e.client
}

func (e *ClientEntry) Key() []byte {
	return e.key
}

func clientLess(a, b *ClientEntry) bool {
	if a.client.ClientID != b.client.ClientID {
		return a.client.ClientID < b.client.ClientID
	}
	return bytes.Compare(a.key, b.key) < 0
}

func newClientTree() *btree.BTreeG[*ClientEntry] {
	return btree.NewG(8, clientLess)
}

func checkClient(client *BindingClient, key []byte) []byte {
	if client.ClientID == ClientIDInvalid {
		panic("xdpbind: invalid client id")
	}
	if client.KeySize <= 0 || len(key) < client.KeySize {
		panic(fmt.Sprintf("xdpbind: client key of %d bytes, want %d", len(key), client.KeySize))
	}
	return key[:client.KeySize]
}

// RegisterClient links entry into the binding under (client id, key) and takes a binding reference for it.
func (b *Binding) RegisterClient(client *BindingClient, key []byte, entry *ClientEntry) error {
	key = checkClient(client, key)

	var err error
	b.Run(func() { err = b.registerClient(client, key, entry) })
	return err
}

// DeregisterClient unlinks entry and drops its binding reference. Entries that are not linked to b, including
// ones already evicted by rundown, are ignored without touching the binding, which may be freed by then.
func (b *Binding) DeregisterClient(entry *ClientEntry) {
	// Claiming the link hands its binding reference to us, rundown skips claimed entries
	if !entry.binding.CompareAndSwap(b, nil) {
		return
	}
	b.Run(func() { b.unlinkClient(entry) })
}

// FindClient returns the entry registered under (client id, key), or nil.
func (b *Binding) FindClient(client *BindingClient, key []byte) *ClientEntry {
	key = checkClient(client, key)

	var found *ClientEntry
	b.Run(func() { found = b.findClient(client, key) })
	return found
}

// SupportsHooks reports whether every hook is advertised by the binding.
func (b *Binding) SupportsHooks(hooks []HookID) bool {
	return b.caps.supportsHookIDs(hooks)
}

func (b *Binding) registerClient(client *BindingClient, key []byte, entry *ClientEntry) error {
	key = checkClient(client, key)
	if entry.binding.Load() != nil {
		panic("xdpbind: client entry registered twice")
	}

	if b.rundown() {
		b.logger().WithField("clientId", client.ClientID).Info("Client registration failed: binding deleting")
		return fmt.Errorf("client registration: %w", ErrDeletePending)
	}

	if b.clients.Has(&ClientEntry{client: client, key: key}) {
		b.logger().WithField("clientId", client.ClientID).Info("Client registration failed: duplicate client")
		return fmt.Errorf("client %s: %w", client.ClientID, ErrAlreadyExists)
	}

	entry.client = client
	entry.key = append([]byte(nil), key...)
	b.Reference()
	entry.binding.Store(b)
	b.clients.ReplaceOrInsert(entry)
	b.r.metrics.clientsRegistered.Inc(1)
	return nil
}

// unlinkClient drops an entry claimed by DeregisterClient. Rundown may have removed it from the tree already.
func (b *Binding) unlinkClient(entry *ClientEntry) {
	b.clients.Delete(entry)
	b.Dereference()
}

func (b *Binding) findClient(client *BindingClient, key []byte) *ClientEntry {
	found, ok := b.clients.Get(&ClientEntry{client: client, key: checkClient(client, key)})
	if !ok {
		return nil
	}
	return found
}
