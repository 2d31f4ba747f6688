// File: protocol/inbound.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// InboundWay fills its buffer from the channel and frames messages out of
// it. It drives the handshake of encrypted connections as well.

package protocol

import (
	"errors"
	"io"
	"sync"
	"sync/atomic"

	"github.com/momentics/hioload-nio/api"
	"github.com/momentics/hioload-nio/control"
	"github.com/momentics/hioload-nio/core/buffer"
	coreproto "github.com/momentics/hioload-nio/core/protocol"
)

// InboundWay is the reading half of a connection.
type InboundWay struct {
	buffer.NopProcessor

	c     *Connection
	mu    sync.Mutex
	io    atomic.Int32
	again atomic.Bool
	buf   *buffer.Buffer

	state     FrameState
	line      []byte
	lineState buffer.LineState
	headBytes int

	msg       *coreproto.Message
	remaining int64
	body      []byte
	stream    *coreproto.BodyStream
	delivered bool
	seq       uint64

	eof     bool
	stopped bool
	closed  bool
}

func newInboundWay(c *Connection) *InboundWay {
	return &InboundWay{
		c:   c,
		buf: buffer.NewWithAllocator(c.alloc, c.cfg.BufferSize, c.cfg.MaxBufferSize),
	}
}

// State returns the framing state.
func (w *InboundWay) State() FrameState {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// Buffered returns the number of received bytes not framed yet.
func (w *InboundWay) Buffered() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return 0
	}
	return w.buf.Len()
}

// CouldFill implements buffer.Processor. Reading stops at EOF, after the
// last message of the connection, while a streamed body is not consumed
// and while the pipelining depth is exhausted.
func (w *InboundWay) CouldFill(*buffer.Buffer) bool {
	if w.closed || w.eof || w.stopped {
		return false
	}
	switch w.c.State() {
	case api.StateOpening, api.StateOpen:
	case api.StateClosing:
		if w.c.role != api.RoleClient || w.c.awaiting.Load() == 0 {
			return false
		}
	default:
		return false
	}
	if w.stream != nil && w.stream.Full() {
		return false
	}
	return !w.atPipelineLimit()
}

// OnFillEOF implements buffer.Processor.
func (w *InboundWay) OnFillEOF() { w.eof = true }

func (w *InboundWay) atPipelineLimit() bool {
	return w.c.role == api.RoleServer && w.state == FrameStart &&
		int(w.c.reserved.Load()) >= w.c.cfg.MaxPipelined
}

func (w *InboundWay) process() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.again.Store(false)
	w.io.Store(int32(api.IoProcessing))

	var acts actions
	err := w.cycle(&acts)
	w.settle()
	w.mu.Unlock()

	acts.run(w.c)
	if w.again.Swap(false) {
		w.c.resume(api.Inbound)
	}
	return err
}

// cycle reads until the channel would block, the way pauses or the cycle
// budget is spent. It returns connection-fatal errors only.
func (w *InboundWay) cycle(acts *actions) error {
	c := w.c
	for i := 0; i < maxFillsPerCycle; i++ {
		if c.State() == api.StateOpening {
			done, err := w.handshake(acts)
			if err != nil || !done {
				return err
			}
		}
		if err := w.frame(acts); err != nil {
			return w.reject(err, acts)
		}
		if !w.CouldFill(w.buf) {
			return nil
		}

		n, err := w.buf.Fill(c.dataChannel(), w, 0)
		if n > 0 {
			c.touch()
			c.metrics.Add(control.MetricBytesIn, int64(n))
		}
		switch {
		case errors.Is(err, io.EOF):
			if ferr := w.frame(acts); ferr != nil {
				return w.reject(ferr, acts)
			}
			w.endOfInput(acts)
			return nil
		case api.IsProtocol(err):
			return w.reject(err, acts)
		case err != nil:
			return err
		case n == 0:
			return nil
		}
	}
	w.again.Store(true)
	return nil
}

// handshake feeds received bytes to the session. It reports whether the
// handshake completed; bytes left over become the carry-over of the secure
// channel.
func (w *InboundWay) handshake(acts *actions) (bool, error) {
	c := w.c
	for {
		n, err := w.buf.Fill(c.raw, w, 0)
		eof := errors.Is(err, io.EOF)
		if err != nil && !eof {
			return false, err
		}
		if n > 0 {
			c.touch()
			out, consumed, done, herr := c.session.Handshake(w.buf.Bytes())
			w.buf.Consume(consumed)
			if len(out) > 0 {
				if qerr := c.OutboundWay().queueRaw(out); qerr != nil {
					return false, handshakeErr(qerr)
				}
				acts.resumeOut = true
			}
			if herr != nil {
				return false, handshakeErr(herr)
			}
			if done {
				c.upgrade(w.buf.Bytes())
				w.buf.Reset()
				w.eof = false
				acts.resumeOut = true
				return true, nil
			}
		}
		if eof {
			return false, api.WrapError(api.ErrCodeHandshake, io.ErrUnexpectedEOF, "peer closed during handshake")
		}
		if n == 0 {
			return false, nil
		}
	}
}

// frame advances the framing state machine over the buffered bytes.
func (w *InboundWay) frame(acts *actions) error {
	c := w.c
	for !w.stopped && !w.closed {
		switch w.state {
		case FrameStart:
			if w.atPipelineLimit() {
				return nil
			}
			ok, err := w.readLine(c.cfg.MaxHeaderSize)
			if err != nil || !ok {
				return err
			}
			if len(w.line) == 0 {
				// Empty lines before a start line are ignored.
				w.nextLine()
				continue
			}
			if err := w.startMessage(); err != nil {
				return err
			}

		case FrameHeaders, FrameTrailers:
			ok, err := w.readLine(max(c.cfg.MaxHeaderSize-w.headBytes, 1))
			if err != nil || !ok {
				return err
			}
			w.headBytes += len(w.line)
			if w.headBytes > c.cfg.MaxHeaderSize {
				return api.Errorf(api.ErrCodeBufferOverflow, "header section exceeds %d bytes", c.cfg.MaxHeaderSize)
			}
			if len(w.line) == 0 {
				w.nextLine()
				if w.state == FrameTrailers {
					w.state = FrameEnd
					continue
				}
				if err := w.endHeaders(acts); err != nil {
					return err
				}
				continue
			}
			h, err := coreproto.ParseHeaderLine(w.line)
			if err != nil {
				return err
			}
			w.nextLine()
			if w.state == FrameTrailers {
				w.msg.Trailers = append(w.msg.Trailers, h)
			} else {
				w.msg.Headers = append(w.msg.Headers, h)
			}

		case FrameBodyFixed, FrameChunkData, FrameBodyUntilClose:
			if w.buf.IsEmpty() || (w.stream != nil && w.stream.Full()) {
				return nil
			}
			chunk := w.buf.Bytes()
			if w.state != FrameBodyUntilClose && int64(len(chunk)) > w.remaining {
				chunk = chunk[:w.remaining]
			}
			w.appendBody(chunk, acts)
			w.buf.Consume(len(chunk))
			if w.state == FrameBodyUntilClose {
				continue
			}
			w.remaining -= int64(len(chunk))
			if w.remaining == 0 {
				if w.state == FrameBodyFixed {
					w.state = FrameEnd
				} else {
					w.state = FrameChunkEnd
				}
			}

		case FrameChunkSize:
			ok, err := w.readLine(coreproto.MaxChunkSizeLine)
			if err != nil || !ok {
				return err
			}
			size, err := coreproto.ParseChunkSize(w.line)
			if err != nil {
				return err
			}
			w.nextLine()
			if size == 0 {
				w.state = FrameTrailers
			} else {
				w.remaining = size
				w.state = FrameChunkData
			}

		case FrameChunkEnd:
			ok, err := w.readLine(coreproto.MaxChunkSizeLine)
			if err != nil || !ok {
				return err
			}
			if len(w.line) != 0 {
				return api.Errorf(api.ErrCodeProtocol, "chunk data not followed by CRLF")
			}
			w.nextLine()
			w.state = FrameChunkSize

		case FrameEnd:
			w.endMessage(acts)
		}
	}
	return nil
}

// readLine continues the current line. It reports whether a complete line
// is available in w.line.
func (w *InboundWay) readLine(limit int) (bool, error) {
	if w.buf.IsEmpty() {
		return false, nil
	}
	st, err := w.buf.DrainLine(&w.line, w.lineState, limit)
	w.lineState = st
	if err != nil {
		return false, err
	}
	return st == buffer.LineDone, nil
}

func (w *InboundWay) nextLine() {
	w.line = w.line[:0]
	w.lineState = buffer.LineIdle
}

func (w *InboundWay) startMessage() error {
	m := &coreproto.Message{
		Seq:      w.seq + 1,
		Security: w.c.Security(),
	}
	var err error
	if w.c.role == api.RoleServer {
		err = coreproto.ParseRequestLine(w.line, m)
	} else {
		err = coreproto.ParseStatusLine(w.line, m)
	}
	if err != nil {
		return err
	}
	w.headBytes = len(w.line)
	w.nextLine()
	w.msg = m
	w.state = FrameHeaders
	return nil
}

// endHeaders picks the body framing once the header section is complete.
func (w *InboundWay) endHeaders(acts *actions) error {
	c, m := w.c, w.msg
	var (
		mode coreproto.BodyMode
		n    int64
		err  error
	)
	if c.role == api.RoleServer {
		mode, n, err = coreproto.RequestBodyMode(m.Headers)
	} else {
		if m.StatusCode < 200 {
			// Interim responses precede the final one.
			w.reset()
			return nil
		}
		method, ok := c.OutboundWay().expectedMethod()
		if !ok {
			return api.Errorf(api.ErrCodeProtocol, "unsolicited response %d", m.StatusCode)
		}
		mode, n, err = coreproto.ResponseBodyMode(method, m.StatusCode, m.Headers)
	}
	if err != nil {
		return err
	}
	w.seq++

	switch mode {
	case coreproto.BodyNone:
		w.state = FrameEnd
	case coreproto.BodyFixed:
		w.remaining = n
		w.state = FrameBodyFixed
		if n > int64(c.cfg.BodyBufferLimit) {
			w.openStream(acts)
		}
	case coreproto.BodyChunked:
		w.state = FrameChunkSize
	case coreproto.BodyUntilClose:
		w.state = FrameBodyUntilClose
	}
	return nil
}

// appendBody buffers body bytes until the buffer limit is exceeded, then
// switches the message to a stream.
func (w *InboundWay) appendBody(p []byte, acts *actions) {
	if w.stream != nil {
		_, _ = w.stream.Write(p)
		return
	}
	w.body = append(w.body, p...)
	if len(w.body) > w.c.cfg.BodyBufferLimit {
		w.openStream(acts)
	}
}

// openStream delivers the message now with a streamed body.
func (w *InboundWay) openStream(acts *actions) {
	c := w.c
	s := coreproto.NewBodyStream(c.cfg.BodyBufferLimit, func() { c.resume(api.Inbound) })
	if len(w.body) > 0 {
		_, _ = s.Write(w.body)
		w.body = nil
	}
	w.stream = s
	w.msg.Stream = s
	w.deliver(acts, true)
}

func (w *InboundWay) deliver(acts *actions, streamed bool) {
	c, m := w.c, w.msg
	c.metrics.Inc(control.MetricMessagesIn)
	w.delivered = true
	if c.role == api.RoleServer {
		sl := c.OutboundWay().reserve(m)
		acts.deliveries = append(acts.deliveries, delivery{
			ex:       &Exchange{conn: c, req: m, slot: sl},
			streamed: streamed,
		})
		return
	}
	if p := c.OutboundWay().popAwaiting(); p != nil {
		acts.deliveries = append(acts.deliveries, delivery{pending: p, msg: m})
	}
}

func (w *InboundWay) endMessage(acts *actions) {
	if w.delivered {
		w.stream.Finish(nil)
	} else {
		w.msg.Body = w.body
		w.deliver(acts, false)
	}
	keepAlive := w.msg.KeepAlive()
	w.reset()
	if !keepAlive {
		w.stop()
	}
}

// endOfInput handles the peer's end of stream after the buffered bytes
// were framed.
func (w *InboundWay) endOfInput(acts *actions) {
	w.eof = true
	switch {
	case w.stopped:
	case w.state == FrameBodyUntilClose:
		w.state = FrameEnd
		w.endMessage(acts)
	case w.state == FrameStart && len(w.line) == 0:
	default:
		w.abortMessage(api.WrapError(api.ErrCodeIO, io.ErrUnexpectedEOF, "message truncated"), acts)
	}
	if w.c.role == api.RoleClient {
		acts.fail(w.c.OutboundWay().abandon(), api.WrapError(api.ErrCodeIO, io.ErrUnexpectedEOF, "connection closed by peer"))
	}
}

// abortMessage fails the message in flight.
func (w *InboundWay) abortMessage(err error, acts *actions) {
	switch {
	case w.msg == nil:
	case w.delivered:
		w.stream.Finish(err)
	case w.c.role == api.RoleClient:
		if p := w.c.OutboundWay().popAwaiting(); p != nil {
			acts.fail([]*Pending{p}, err)
		}
	}
	w.reset()
}

// reject handles malformed input. Servers keep the connection until the
// answers to earlier requests and the error answer, if any, are written;
// clients cannot trust the stream any more.
func (w *InboundWay) reject(err error, acts *actions) error {
	w.abortMessage(err, acts)
	w.stop()
	if w.c.role != api.RoleServer {
		return err
	}
	w.c.countError(err)
	w.c.log.Debug("malformed input", "error", err)
	acts.rejected = &Exchange{conn: w.c, slot: w.c.OutboundWay().reserve(nil)}
	acts.rejectErr = err
	return nil
}

func (w *InboundWay) stop() {
	w.stopped = true
	w.c.noMore.Store(true)
}

func (w *InboundWay) reset() {
	w.state = FrameStart
	w.msg = nil
	w.body = nil
	w.stream = nil
	w.delivered = false
	w.remaining = 0
	w.headBytes = 0
	w.nextLine()
}

// interrupt fails the message in flight and stops reading.
func (w *InboundWay) interrupt(err error) {
	var acts actions
	w.mu.Lock()
	if !w.closed {
		w.abortMessage(err, &acts)
		w.stop()
		w.settle()
	}
	w.mu.Unlock()
	acts.run(w.c)
}

// refresh recomputes the readiness interest outside a cycle.
func (w *InboundWay) refresh() {
	w.mu.Lock()
	defer w.mu.Unlock()
	st := api.IoState(w.io.Load())
	if st == api.IoReady || st == api.IoProcessing {
		return
	}
	w.settle()
}

func (w *InboundWay) settle() {
	if !w.closed && w.CouldFill(w.buf) {
		w.io.Store(int32(api.IoInterest))
	} else {
		w.io.Store(int32(api.IoIdle))
	}
}

type inStatus struct {
	eof     bool
	stopped bool
	busy    bool
}

func (w *InboundWay) status() inStatus {
	w.mu.Lock()
	defer w.mu.Unlock()
	return inStatus{
		eof:     w.eof,
		stopped: w.stopped,
		busy:    !w.closed && (w.state != FrameStart || w.msg != nil),
	}
}

func (w *InboundWay) shutdownLocked(reason error) {
	if w.closed {
		return
	}
	if w.delivered && w.stream != nil {
		err := reason
		if !errors.Is(err, api.IoError) {
			err = api.WrapError(api.ErrCodeIO, reason, "connection closed")
		}
		w.stream.Finish(err)
	}
	w.reset()
	w.closed = true
	w.buf.Release()
	w.io.Store(int32(api.IoIdle))
}
