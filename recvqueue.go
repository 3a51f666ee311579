package curvecp

import (
	"container/list"
	"context"
	"time"
)

// registerReceiver enqueues a blocked synchronous Recv call and runs the
// processor. It always returns an id, even if the receiver was serviced
// or rejected synchronously, so the caller's cancellation path has a
// stable handle.
func (c *Connection) registerReceiver(kind receiverKind, reply chan recvResult, ctx context.Context) uint64 {
	if c.state == stateTerminal {
		reply <- recvResult{err: ErrClosed}
		return 0
	}
	c.nextRecvID++
	id := c.nextRecvID
	pr := &pendingReceiver{id: id, kind: kind, replyCh: reply}
	c.armReceiverTimer(pr, ctx)
	c.recvQueue.PushBack(pr)
	c.drainQueue()
	return id
}

// registerAsyncReceiver enqueues an asynchronous subscription under ref.
func (c *Connection) registerAsyncReceiver(ref RecvRef, ctx context.Context) {
	if c.state == stateTerminal {
		c.controller.Deliver(Notification{Tag: TagClosed, ConnID: c.id})
		return
	}
	c.nextRecvID++
	pr := &pendingReceiver{id: c.nextRecvID, kind: receiverAsync, ref: ref}
	c.armReceiverTimer(pr, ctx)
	c.recvQueue.PushBack(pr)
	c.drainQueue()
}

func (c *Connection) armReceiverTimer(pr *pendingReceiver, ctx context.Context) {
	if ctx == nil {
		return
	}
	deadline, ok := ctx.Deadline()
	if !ok {
		return
	}
	d := time.Until(deadline)
	id := pr.id
	pr.timer = time.AfterFunc(d, func() {
		c.submit(func() { c.expireReceiver(id) })
	})
}

// findReceiver locates the queue element holding the receiver with id,
// or nil if it has already been serviced or cancelled.
func (c *Connection) findReceiver(id uint64) *list.Element {
	for e := c.recvQueue.Front(); e != nil; e = e.Next() {
		if e.Value.(*pendingReceiver).id == id {
			return e
		}
	}
	return nil
}

func (c *Connection) findReceiverByRef(ref RecvRef) *list.Element {
	for e := c.recvQueue.Front(); e != nil; e = e.Next() {
		if e.Value.(*pendingReceiver).ref == ref {
			return e
		}
	}
	return nil
}

// cancelReceiver removes a sync receiver that lost the race against
// ctx cancellation in Recv. A no-op if the processor already delivered
// to it (it is no longer in the queue).
func (c *Connection) cancelReceiver(id uint64) {
	if id == 0 {
		return
	}
	e := c.findReceiver(id)
	if e == nil {
		return
	}
	pr := e.Value.(*pendingReceiver)
	if pr.timer != nil {
		pr.timer.Stop()
	}
	c.recvQueue.Remove(e)
}

// cancelAsyncReceiver is AsyncCancel's actor-side implementation.
func (c *Connection) cancelAsyncReceiver(ref RecvRef) {
	e := c.findReceiverByRef(ref)
	if e == nil {
		return
	}
	pr := e.Value.(*pendingReceiver)
	if pr.timer != nil {
		pr.timer.Stop()
	}
	c.recvQueue.Remove(e)
}

// expireReceiver runs when a receiver's deadline elapses before the
// processor reached it.
func (c *Connection) expireReceiver(id uint64) {
	e := c.findReceiver(id)
	if e == nil {
		return
	}
	pr := e.Value.(*pendingReceiver)
	c.recvQueue.Remove(e)
	switch pr.kind {
	case receiverSync:
		pr.replyCh <- recvResult{err: ErrTimeout}
	case receiverAsync:
		c.controller.Deliver(Notification{Tag: TagAsyncTimeout, ConnID: c.id, Ref: pr.ref})
	}
}

// drainQueue is the receive-queue processor: while the one-slot buffer
// holds a decrypted payload and a receiver is waiting, hand it off; once
// the buffer runs dry, rearm the socket for exactly one more frame if a
// receiver is still waiting.
func (c *Connection) drainQueue() {
	for {
		if c.recvQueue.Len() == 0 {
			return
		}
		if len(c.buf) == 0 {
			if c.state == stateConnected {
				c.arm()
			}
			return
		}
		front := c.recvQueue.Front()
		pr := front.Value.(*pendingReceiver)
		c.recvQueue.Remove(front)
		if pr.timer != nil {
			pr.timer.Stop()
		}
		payload := c.buf
		c.buf = nil
		switch pr.kind {
		case receiverSync:
			pr.replyCh <- recvResult{data: payload}
		case receiverAsync:
			c.controller.Deliver(Notification{Tag: TagMsg, ConnID: c.id, Bytes: payload})
		}
	}
}
