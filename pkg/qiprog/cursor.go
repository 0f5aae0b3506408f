package qiprog

import "fmt"

// bulkEngine implements the host side of resumable, misaligned bulk I/O
// over a wire backend. USB delivers chip data in endpoint-sized packets;
// the engine reconciles that granularity with byte-granular caller
// requests using the device's address window and an endpoint-sized
// leftover buffer.
//
// The leftover buffer holds bytes of the last IN packet that exceeded the
// caller's request. Its contents are always the chip bytes immediately
// following the read cursor, so the next contiguous read consumes them
// before touching the wire. Any SET_ADDRESS discards it.
type bulkEngine struct {
	epSizeIn  int
	epSizeOut int

	leftoverBuf []byte
	leftover    []byte // live window into leftoverBuf

	// newConn opens a pipelined stream on the bulk endpoint; the
	// returned closer releases it once the call drains.
	newConn func(in bool) (bulkConn, func())
	// transfer moves one packet synchronously, outside the pipeline.
	transfer func(in bool, buf []byte) (int, error)
}

func (e *bulkEngine) init(epSizeIn, epSizeOut int) {
	e.epSizeIn = epSizeIn
	e.epSizeOut = epSizeOut
	if epSizeIn > 0 {
		e.leftoverBuf = make([]byte, epSizeIn)
	}
}

// invalidate discards buffered read-ahead. Must run on every SET_ADDRESS:
// the old bytes belong to the superseded range.
func (e *bulkEngine) invalidate() {
	e.leftover = nil
}

// readN implements the read algorithm: reseat the window when the cursor
// or range does not fit, drain the leftover buffer, pipeline whole
// packets straight into dest, then fetch one final packet through the
// leftover buffer for the sub-packet tail. Exactly len(dest) bytes of
// dest are written.
func (e *bulkEngine) readN(dev *Device, where uint32, dest []byte) error {
	w := &dev.window

	if w.pread != uint64(where) || !w.covers(uint64(where), len(dest)) {
		end := uint32(uint64(where) + uint64(len(dest)) - 1)
		if err := dev.SetAddress(where, end); err != nil {
			return err
		}
	}

	if len(e.leftover) > 0 {
		k := copy(dest, e.leftover)
		e.leftover = e.leftover[k:]
		w.pread += uint64(k)
		dest = dest[k:]
		if len(dest) == 0 {
			return nil
		}
	}

	if whole := len(dest) / e.epSizeIn * e.epSizeIn; whole > 0 {
		conn, release := e.newConn(true)
		n, err := runPipeline(conn, dest[:whole], e.epSizeIn)
		release()
		w.pread += n
		if err != nil {
			return fmt.Errorf("bulk read at 0x%08x: %w", where, err)
		}
		dest = dest[whole:]
	}

	if len(dest) > 0 {
		// The device sends endpoint-sized packets, shorter only at the
		// end of the window; take the whole packet and keep what the
		// caller did not ask for.
		buf := e.leftoverBuf[:e.epSizeIn]
		n, err := e.transfer(true, buf)
		k := copy(dest, buf[:n])
		w.pread += uint64(k)
		e.leftover = buf[k:n]
		if err != nil {
			return fmt.Errorf("bulk read tail at 0x%08x: %w", where, err)
		}
		if k < len(dest) {
			return fmt.Errorf("%w: tail packet carried %d of %d bytes",
				ErrDevice, k, len(dest))
		}
	}
	return nil
}

// writeN is the write-side counterpart. Writes chunk by the OUT endpoint
// size and need no leftover buffer: the sub-packet tail goes out as one
// short packet.
func (e *bulkEngine) writeN(dev *Device, where uint32, src []byte) error {
	w := &dev.window

	if w.pwrite != uint64(where) || !w.covers(uint64(where), len(src)) {
		end := uint32(uint64(where) + uint64(len(src)) - 1)
		if err := dev.SetAddress(where, end); err != nil {
			return err
		}
	}

	if whole := len(src) / e.epSizeOut * e.epSizeOut; whole > 0 {
		conn, release := e.newConn(false)
		n, err := runPipeline(conn, src[:whole], e.epSizeOut)
		release()
		w.pwrite += n
		if err != nil {
			return fmt.Errorf("bulk write at 0x%08x: %w", where, err)
		}
		src = src[whole:]
	}

	if len(src) > 0 {
		n, err := e.transfer(false, src)
		w.pwrite += uint64(n)
		if err != nil {
			return fmt.Errorf("bulk write tail at 0x%08x: %w", where, err)
		}
		if n != len(src) {
			return fmt.Errorf("%w: tail packet moved %d of %d bytes",
				ErrDevice, n, len(src))
		}
	}
	return nil
}
