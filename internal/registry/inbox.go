package registry

// Message is one entry in an agent's inbox: either a fresh request from
// a channel/GUI, a cross-agent delegation, or an auto-report being
// forwarded back up the task chain.
type Message struct {
	Content   string
	FromAgent string
	TaskID    string
	// Chain is the path of agent names this message has already been
	// delegated through, oldest first; a fresh root message carries a
	// nil Chain. The recipient's runner uses it to seed delegation-depth
	// and cycle-detection state without needing a side channel back to
	// the task store for every hop.
	Chain []string
}

// Inbox is a per-agent, unbounded FIFO queue owned by its own goroutine.
// Enqueue never blocks the caller on a full buffer and Receive never
// blocks the pump on a slow consumer — the pump goroutine is the sole
// owner of the backing slice, so no lock is needed around it.
type Inbox struct {
	enqueueCh chan Message
	deliverCh chan Message
	doneCh    chan struct{}
}

func newInbox() *Inbox {
	ib := &Inbox{
		enqueueCh: make(chan Message, 64),
		deliverCh: make(chan Message),
		doneCh:    make(chan struct{}),
	}
	go ib.pump()
	return ib
}

func (ib *Inbox) pump() {
	var queue []Message
	for {
		if len(queue) == 0 {
			select {
			case m := <-ib.enqueueCh:
				queue = append(queue, m)
			case <-ib.doneCh:
				close(ib.deliverCh)
				return
			}
			continue
		}

		select {
		case m := <-ib.enqueueCh:
			queue = append(queue, m)
		case ib.deliverCh <- queue[0]:
			queue = queue[1:]
		case <-ib.doneCh:
			close(ib.deliverCh)
			return
		}
	}
}

// Enqueue appends a message to the tail of the queue.
func (ib *Inbox) Enqueue(m Message) {
	ib.enqueueCh <- m
}

// Receive returns the channel an agent runner ranges/selects over to
// drain the inbox in FIFO order.
func (ib *Inbox) Receive() <-chan Message {
	return ib.deliverCh
}

// Close stops the pump goroutine and closes the delivery channel.
func (ib *Inbox) Close() {
	close(ib.doneCh)
}
