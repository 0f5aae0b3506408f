package qiprog

import "fmt"

// maxInFlight caps the number of bulk transfers queued on an endpoint at
// any one time.
const maxInFlight = 32

// bulkConn is the asynchronous face of one bulk endpoint. Submit enqueues a
// transfer of exactly len(buf) bytes; the completion callback runs from
// within DriveEvents, on the driving goroutine, in submission order.
// Backends must deliver completions in submission order per endpoint — the
// pipeline's resubmission addressing depends on it.
type bulkConn interface {
	Submit(buf []byte, done func(n int, err error)) error
	// DriveEvents blocks until at least one completion fires and invokes
	// the pending callbacks.
	DriveEvents() error
}

// bulkXfer is one in-flight transfer of a pipelined call.
type bulkXfer struct {
	number uint32
	buf    []byte
}

// pipeline tracks the shared state of one bulk call: the two counters every
// in-flight transfer updates, plus the halt flag raised by the first
// failure. Completions run only on the event-driving goroutine, so plain
// integers suffice; nothing outside DriveEvents may observe them.
type pipeline struct {
	conn       bulkConn
	data       []byte
	packetSize int

	total uint32 // transfers needed to complete the call
	depth uint32 // concurrent transfers, min(total, maxInFlight)

	transferred uint64 // bytes delivered so far
	active      uint32 // transfers still in flight
	err         error  // first failure; halts resubmission
}

// runPipeline streams len(data)/packetSize whole packets through conn,
// keeping up to maxInFlight transfers queued. data must be a whole number
// of packets; the trailing sub-packet remainder of a bulk call is the
// caller's business. Returns the bytes actually delivered.
func runPipeline(conn bulkConn, data []byte, packetSize int) (uint64, error) {
	if packetSize <= 0 || len(data)%packetSize != 0 {
		return 0, fmt.Errorf("%w: pipeline over %d bytes with packet size %d",
			ErrArgument, len(data), packetSize)
	}
	p := &pipeline{
		conn:       conn,
		data:       data,
		packetSize: packetSize,
		total:      uint32(len(data) / packetSize),
	}
	if p.total == 0 {
		return 0, nil
	}
	p.depth = p.total
	if p.depth > maxInFlight {
		p.depth = maxInFlight
	}

	// Prime the queue in index order; completions resubmit from there.
	p.active = p.depth
	for i := uint32(0); i < p.depth; i++ {
		x := &bulkXfer{number: i}
		x.buf = p.packetAt(i)
		if err := p.conn.Submit(x.buf, func(n int, err error) { p.complete(x, n, err) }); err != nil {
			p.active--
			p.fail(err)
		}
	}

	// Block until every in-flight transfer has drained. After a failure
	// the queue drains without resubmitting.
	for p.active > 0 {
		if err := p.conn.DriveEvents(); err != nil {
			return p.transferred, p.fail(err)
		}
	}

	if p.err != nil {
		return p.transferred, p.err
	}
	if p.transferred != uint64(len(data)) {
		return p.transferred, fmt.Errorf("%w: pipeline delivered %d of %d bytes",
			ErrDevice, p.transferred, len(data))
	}
	return p.transferred, nil
}

func (p *pipeline) packetAt(number uint32) []byte {
	off := int(number) * p.packetSize
	return p.data[off : off+p.packetSize]
}

func (p *pipeline) fail(err error) error {
	if p.err == nil {
		p.err = err
	}
	return p.err
}

// complete is the completion callback shared by all transfers of one call.
// A full packet resubmits the transfer queue_depth packets further along;
// anything else halts resubmission and lets the queue drain.
func (p *pipeline) complete(x *bulkXfer, n int, err error) {
	p.transferred += uint64(n)
	if err == nil && n != p.packetSize {
		err = fmt.Errorf("%w: transfer %d moved %d of %d bytes",
			ErrDevice, x.number, n, p.packetSize)
	}
	if err != nil {
		p.fail(err)
	}

	next := x.number + p.depth
	if p.err == nil && next < p.total {
		x.number = next
		x.buf = p.packetAt(next)
		if err := p.conn.Submit(x.buf, func(n int, err error) { p.complete(x, n, err) }); err != nil {
			p.fail(err)
			p.active--
		}
		return
	}
	p.active--
}

// queuedConn adapts a synchronous per-packet transfer function to the
// bulkConn interface. Transfers execute immediately on Submit and the
// completion is queued; DriveEvents then replays completions in submission
// order. The in-process loopback backend uses it; the USB master has its
// own conn with a real event queue.
type queuedConn struct {
	xfer    func(buf []byte) (int, error)
	pending []func()
}

func (q *queuedConn) Submit(buf []byte, done func(n int, err error)) error {
	n, err := q.xfer(buf)
	q.pending = append(q.pending, func() { done(n, err) })
	return nil
}

func (q *queuedConn) DriveEvents() error {
	if len(q.pending) == 0 {
		return fmt.Errorf("%w: no transfers in flight", ErrDevice)
	}
	// Callbacks may submit more work; take the current batch only.
	batch := q.pending
	q.pending = nil
	for _, cb := range batch {
		cb()
	}
	return nil
}
