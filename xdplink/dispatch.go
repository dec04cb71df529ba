// Package xdplink provides the XDP provider used by interface discovery. It attaches a pass-through program to each
// bound NIC in generic (skb) or native (driver) mode and keeps queue bookkeeping for the consumers above it.
package xdplink

import (
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/slackhq/xdpbind"
)

// APIVersion is the only driver API major this provider implements.
const APIVersion = 1

type queueKind string

const (
	queueRx queueKind = "rx"
	queueTx queueKind = "tx"
)

// Queue is the handle returned by the dispatch Create calls.
type Queue struct {
	kind   queueKind
	id     uint32
	active bool
}

func (q *Queue) ID() uint32 {
	return q.id
}

// dispatch tracks the queues created through one connection.
type dispatch struct {
	sync.Mutex
	queues  map[queueKind]map[uint32]*Queue
	version xdpbind.Version
	l       *logrus.Entry
}

func newDispatch(l *logrus.Entry, v xdpbind.Version) (*dispatch, error) {
	if v.Major != APIVersion {
		return nil, fmt.Errorf("driver API version %s: %w", v, xdpbind.ErrNotSupported)
	}

	return &dispatch{
		queues: map[queueKind]map[uint32]*Queue{
			queueRx: {},
			queueTx: {},
		},
		version: v,
		l:       l,
	}, nil
}

func (d *dispatch) OpenInterface(cfg xdpbind.InterfaceConfig) error {
	if cfg.DriverAPIVersion() != d.version {
		return fmt.Errorf("opened with %s, negotiated %s", cfg.DriverAPIVersion(), d.version)
	}
	return nil
}

func (d *dispatch) CloseInterface() {
	d.Lock()
	defer d.Unlock()

	for kind, queues := range d.queues {
		if len(queues) > 0 {
			d.l.WithField("kind", kind).WithField("queues", len(queues)).Warn("Interface closed with queues still present")
		}
	}
}

func (d *dispatch) create(kind queueKind, cfg xdpbind.QueueConfig) (xdpbind.InterfaceQueue, error) {
	d.Lock()
	defer d.Unlock()

	id := cfg.Target.QueueID
	if _, ok := d.queues[kind][id]; ok {
		return nil, fmt.Errorf("%s queue %d: %w", kind, id, xdpbind.ErrAlreadyExists)
	}

	q := &Queue{kind: kind, id: id}
	d.queues[kind][id] = q
	return q, nil
}

func (d *dispatch) activate(q xdpbind.InterfaceQueue) {
	d.Lock()
	defer d.Unlock()

	iq := q.(*Queue)
	iq.active = true
	d.l.WithField("kind", iq.kind).WithField("queueId", iq.id).Debug("Queue activated")
}

func (d *dispatch) delete(q xdpbind.InterfaceQueue) {
	d.Lock()
	defer d.Unlock()

	iq := q.(*Queue)
	delete(d.queues[iq.kind], iq.id)
}

func (d *dispatch) CreateRxQueue(cfg xdpbind.QueueConfig) (xdpbind.InterfaceQueue, error) {
	return d.create(queueRx, cfg)
}

func (d *dispatch) ActivateRxQueue(q xdpbind.InterfaceQueue, _ xdpbind.QueueActivateConfig) {
	d.activate(q)
}

func (d *dispatch) DeleteRxQueue(q xdpbind.InterfaceQueue) {
	d.delete(q)
}

func (d *dispatch) CreateTxQueue(cfg xdpbind.QueueConfig) (xdpbind.InterfaceQueue, error) {
	return d.create(queueTx, cfg)
}

func (d *dispatch) ActivateTxQueue(q xdpbind.InterfaceQueue, _ xdpbind.QueueActivateConfig) {
	d.activate(q)
}

func (d *dispatch) DeleteTxQueue(q xdpbind.InterfaceQueue) {
	d.delete(q)
}
