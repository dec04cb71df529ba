package xdpbind

// CreateRxQueue opens the provider connection if needed and asks the provider for an Rx queue. The provider
// reference taken stays with the queue until DeleteRxQueue.
func (b *Binding) CreateRxQueue(cfg QueueConfig) (InterfaceQueue, error) {
	var q InterfaceQueue
	var err error
	b.Run(func() {
		q, err = b.createQueue(cfg, func(d InterfaceDispatch) (InterfaceQueue, error) { return d.CreateRxQueue(cfg) })
	})
	return q, err
}

func (b *Binding) ActivateRxQueue(q InterfaceQueue, cfg QueueActivateConfig) {
	b.Run(func() {
		b.activeDispatch().ActivateRxQueue(q, cfg)
	})
}

func (b *Binding) DeleteRxQueue(q InterfaceQueue) {
	b.Run(func() {
		b.activeDispatch().DeleteRxQueue(q)
		b.dereferenceProvider()
	})
}

// CreateTxQueue is the Tx counterpart of CreateRxQueue.
func (b *Binding) CreateTxQueue(cfg QueueConfig) (InterfaceQueue, error) {
	var q InterfaceQueue
	var err error
	b.Run(func() {
		q, err = b.createQueue(cfg, func(d InterfaceDispatch) (InterfaceQueue, error) { return d.CreateTxQueue(cfg) })
	})
	return q, err
}

func (b *Binding) ActivateTxQueue(q InterfaceQueue, cfg QueueActivateConfig) {
	b.Run(func() {
		b.activeDispatch().ActivateTxQueue(q, cfg)
	})
}

func (b *Binding) DeleteTxQueue(q InterfaceQueue) {
	b.Run(func() {
		b.activeDispatch().DeleteTxQueue(q)
		b.dereferenceProvider()
	})
}

func (b *Binding) createQueue(cfg QueueConfig, create func(InterfaceDispatch) (InterfaceQueue, error)) (InterfaceQueue, error) {
	if err := b.referenceProvider(); err != nil {
		return nil, err
	}

	q, err := create(b.dispatch)
	if err != nil {
		b.logger().WithError(err).WithField("queueId", cfg.Target.QueueID).Info("Provider failed to create queue")
		b.dereferenceProvider()
		return nil, err
	}

	return q, nil
}

func (b *Binding) activeDispatch() InterfaceDispatch {
	if b.providerRef == 0 || b.dispatch == nil {
		panic("xdpbind: queue operation without an open provider connection")
	}
	return b.dispatch
}
