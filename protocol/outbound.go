// File: protocol/outbound.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// OutboundWay serializes queued messages into its buffer and drains the
// buffer to the channel. Handshake bytes queued during OPENING bypass the
// secure channel.

package protocol

import (
	"errors"
	"io"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/eapache/queue"

	"github.com/momentics/hioload-nio/api"
	"github.com/momentics/hioload-nio/control"
	"github.com/momentics/hioload-nio/core/buffer"
	coreproto "github.com/momentics/hioload-nio/core/protocol"
)

// availableReader is a body source that can be polled without blocking.
// coreproto.BodyStream implements it.
type availableReader interface {
	ReadAvailable(p []byte) (int, error)
	Notify(fn func()) bool
}

// OutboundWay is the writing half of a connection.
type OutboundWay struct {
	buffer.NopProcessor

	c     *Connection
	mu    sync.Mutex
	io    atomic.Int32
	again atomic.Bool
	buf   *buffer.Buffer

	// queue holds *slot in request order; awaiting holds the *Pending of
	// client requests written but not answered yet.
	queue    *queue.Queue
	awaiting *queue.Queue

	cur       *slot
	state     FrameState
	framing   coreproto.Framing
	remaining int64
	offset    int
	reader    io.Reader
	waiting   bool
	head      []byte
	chunk     []byte
	wake      func()

	rawPending int
	closeAfter bool
	halted     bool
	closed     bool
}

func newOutboundWay(c *Connection) *OutboundWay {
	w := &OutboundWay{
		c:        c,
		buf:      buffer.NewWithAllocator(c.alloc, c.cfg.BufferSize, c.cfg.MaxBufferSize),
		queue:    queue.New(),
		awaiting: queue.New(),
	}
	w.wake = func() { c.resume(api.Outbound) }
	return w
}

// State returns the framing state of the message being written.
func (w *OutboundWay) State() FrameState {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// Pending returns the number of bytes waiting for the channel, including
// ciphertext held by a secure channel.
func (w *OutboundWay) Pending() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return 0
	}
	n := w.buf.Len()
	if f, ok := w.c.dataChannel().(api.Flusher); ok {
		n += f.Pending()
	}
	return n
}

// PostProcess implements buffer.Processor.
func (w *OutboundWay) PostProcess(_ *buffer.Buffer, drained int) error {
	if drained > 0 {
		w.c.touch()
		w.c.metrics.Add(control.MetricBytesOut, int64(drained))
	}
	return nil
}

func (w *OutboundWay) process() error {
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
		w.c.resume(api.Outbound)
	}
	return err
}

// cycle alternates draining and serializing until the channel pushes back
// or nothing is left to write.
func (w *OutboundWay) cycle(acts *actions) error {
	for i := 0; i < maxDrainsPerCycle; i++ {
		done, err := w.flush()
		if err != nil || !done {
			return err
		}
		if w.c.State() == api.StateOpening || w.halted {
			return nil
		}
		more, err := w.serialize(acts)
		if err != nil || !more {
			return err
		}
	}
	w.again.Store(true)
	return nil
}

// flush drains handshake bytes to the raw channel, then everything else to
// the data channel. It reports whether nothing is left.
func (w *OutboundWay) flush() (bool, error) {
	if w.rawPending > 0 {
		n, err := w.buf.Drain(w.c.raw, w, w.rawPending)
		w.rawPending -= n
		if err != nil || w.rawPending > 0 {
			return false, err
		}
	}
	ch := w.c.dataChannel()
	if !w.buf.IsEmpty() {
		if _, err := w.buf.Drain(ch, w, 0); err != nil || !w.buf.IsEmpty() {
			return false, err
		}
	}
	w.buf.Compact()
	if f, ok := ch.(api.Flusher); ok && f.Pending() > 0 {
		done, err := f.Flush()
		if err != nil {
			return false, ioErr(err, "flush")
		}
		return done, nil
	}
	return true, nil
}

// serialize writes the next piece of output into the empty buffer. It
// reports whether anything was produced.
func (w *OutboundWay) serialize(acts *actions) (bool, error) {
	if w.cur == nil && !w.next(acts) {
		return false, nil
	}
	switch w.state {
	case FrameEnd:
		w.finish(acts)
		return true, nil
	case FrameTrailers:
		return w.writeLastChunk()
	}
	if w.reader != nil {
		return w.writeFromReader()
	}
	return w.writeFromBytes()
}

// next starts the message at the head of the queue. Later messages wait
// for it even when they are ready first.
func (w *OutboundWay) next(acts *actions) bool {
	for w.queue.Length() > 0 {
		s := w.queue.Peek().(*slot)
		if s.cancelled {
			w.queue.Remove()
			w.release(s, acts)
			continue
		}
		if !s.ready {
			return false
		}
		w.queue.Remove()
		if err := w.begin(s); err != nil {
			w.messageFailed(s, err, acts)
			continue
		}
		return true
	}
	return false
}

func (w *OutboundWay) begin(s *slot) error {
	c, out := w.c, s.msg
	noBody := false
	if c.role == api.RoleServer {
		noBody = coreproto.NoResponseBody(s.method, out.StatusCode)
		switch {
		case !s.keepAlive:
			out.Headers.Set(coreproto.HeaderConnection, coreproto.TokenClose)
		case s.http10:
			out.Headers.Set(coreproto.HeaderConnection, coreproto.TokenKeepAlive)
		}
	}
	framing, err := out.Prepare(noBody)
	if err != nil {
		return err
	}
	if c.role == api.RoleServer {
		if s.http10 && framing.Mode == coreproto.BodyChunked {
			// HTTP/1.0 peers cannot decode chunks; the close delimits the body.
			out.Headers.Del(coreproto.HeaderTransferEncoding)
			out.Headers.Set(coreproto.HeaderConnection, coreproto.TokenClose)
			framing = coreproto.Framing{Mode: coreproto.BodyUntilClose, Length: -1}
		}
		if framing.Mode == coreproto.BodyUntilClose || out.Headers.HasToken(coreproto.HeaderConnection, coreproto.TokenClose) {
			w.closeAfter = true
		}
	}

	head := out.AppendHead(w.head[:0])
	w.head = head[:0]
	if len(head) > w.buf.Max()-w.buf.Len() {
		return api.Errorf(api.ErrCodeBufferOverflow, "message head of %d bytes exceeds the buffer", len(head))
	}
	if _, err := w.buf.Write(head); err != nil {
		return err
	}

	if s.pending != nil {
		w.awaiting.Add(s.pending)
	}
	w.cur = s
	w.framing = framing
	w.remaining = framing.Length
	w.offset = 0
	w.reader = out.BodyReader
	w.waiting = false
	switch framing.Mode {
	case coreproto.BodyFixed:
		w.state = FrameBodyFixed
	case coreproto.BodyChunked:
		w.state = FrameChunkData
	case coreproto.BodyUntilClose:
		w.state = FrameBodyUntilClose
	default:
		w.state = FrameEnd
	}
	c.metrics.Inc(control.MetricMessagesOut)
	return nil
}

// free returns the bytes the buffer can still take before its maximum.
func (w *OutboundWay) free() int { return w.buf.Max() - w.buf.Len() }

// chunkRoom returns the largest chunk payload that fits together with its
// size line and trailing CRLF.
func (w *OutboundWay) chunkRoom() int {
	free := w.free()
	n := free - 2*len(coreproto.CRLF) - len(strconv.FormatInt(int64(max(free, 0)), 16))
	return min(n, w.c.cfg.ChunkSize)
}

// full asks cycle to flush before the next piece is framed. An empty buffer
// that still cannot hold it fails the message.
func (w *OutboundWay) full(need int) (bool, error) {
	if w.buf.IsEmpty() {
		return false, api.Errorf(api.ErrCodeBufferOverflow, "%d bytes of framing exceed the buffer", need).
			WithContext("max", w.buf.Max())
	}
	return true, nil
}

func (w *OutboundWay) writeFromBytes() (bool, error) {
	body := w.cur.msg.Body[w.offset:]
	if w.state == FrameChunkData {
		if len(body) == 0 {
			return w.writeLastChunk()
		}
		n := min(len(body), w.chunkRoom())
		if n <= 0 {
			return w.full(len(body))
		}
		if err := w.writeChunk(body[:n]); err != nil {
			return false, err
		}
		w.offset += n
		return true, nil
	}
	n := min(len(body), w.free())
	if n <= 0 && len(body) > 0 {
		return w.full(len(body))
	}
	if _, err := w.buf.Write(body[:n]); err != nil {
		return false, err
	}
	w.offset += n
	if w.offset == len(w.cur.msg.Body) {
		w.state = FrameEnd
	}
	return true, nil
}

func (w *OutboundWay) writeFromReader() (bool, error) {
	var limit int
	switch w.state {
	case FrameChunkData:
		limit = w.chunkRoom()
	case FrameBodyFixed:
		limit = int(min(int64(w.c.cfg.ChunkSize), int64(w.free()), w.remaining))
	default:
		limit = min(w.c.cfg.ChunkSize, w.free())
	}
	if limit <= 0 {
		return w.full(w.c.cfg.ChunkSize)
	}
	if cap(w.chunk) < limit {
		w.chunk = make([]byte, limit)
	}
	p := w.chunk[:limit]

	n, err := w.read(p)
	if n > 0 {
		var werr error
		switch w.state {
		case FrameChunkData:
			werr = w.writeChunk(p[:n])
		case FrameBodyFixed:
			_, werr = w.buf.Write(p[:n])
			w.remaining -= int64(n)
		default:
			_, werr = w.buf.Write(p[:n])
		}
		if werr != nil {
			return false, werr
		}
	}

	switch {
	case errors.Is(err, io.EOF):
		switch w.state {
		case FrameBodyFixed:
			if w.remaining > 0 {
				return false, api.Errorf(api.ErrCodeIO, "body ended %d bytes short of its length", w.remaining)
			}
		case FrameChunkData:
			w.state = FrameTrailers
			return w.writeLastChunk()
		}
		w.state = FrameEnd
		return true, nil
	case err != nil:
		return false, ioErr(err, "read body")
	case n == 0:
		return false, nil
	}
	if w.state == FrameBodyFixed && w.remaining == 0 {
		w.state = FrameEnd
	}
	return true, nil
}

// read polls non-blocking sources and registers for their next data.
func (w *OutboundWay) read(p []byte) (int, error) {
	ar, ok := w.reader.(availableReader)
	if !ok {
		return w.reader.Read(p)
	}
	for attempt := 0; attempt < 2; attempt++ {
		n, err := ar.ReadAvailable(p)
		if n > 0 || err != nil {
			w.waiting = false
			return n, err
		}
		if !ar.Notify(w.wake) {
			break
		}
	}
	w.waiting = true
	return 0, nil
}

// writeChunk frames p. Callers size p with chunkRoom.
func (w *OutboundWay) writeChunk(p []byte) error {
	w.head = coreproto.AppendChunkHeader(w.head[:0], len(p))
	if _, err := w.buf.Write(w.head); err != nil {
		return err
	}
	if _, err := w.buf.Write(p); err != nil {
		return err
	}
	_, err := w.buf.WriteString(coreproto.CRLF)
	return err
}

func (w *OutboundWay) writeLastChunk() (bool, error) {
	w.head = coreproto.AppendLastChunk(w.head[:0], w.cur.msg.Trailers)
	if len(w.head) > w.free() {
		return w.full(len(w.head))
	}
	if _, err := w.buf.Write(w.head); err != nil {
		return false, err
	}
	w.state = FrameEnd
	return true, nil
}

// finish completes the current message.
func (w *OutboundWay) finish(acts *actions) {
	w.closeReader()
	w.cur = nil
	w.state = FrameStart
	if w.c.role == api.RoleServer {
		w.c.reserved.Add(-1)
		acts.resumeIn = true
		if w.closeAfter {
			// Nothing may follow a response that ends the connection.
			w.halted = true
			w.dropQueued(acts)
		}
	}
}

func (w *OutboundWay) closeReader() {
	if c, ok := w.reader.(io.Closer); ok {
		_ = c.Close()
	}
	w.reader = nil
	w.waiting = false
}

// messageFailed drops a message that cannot be serialized. A server cannot
// skip a response without breaking request order, so it stops answering.
func (w *OutboundWay) messageFailed(s *slot, err error, acts *actions) {
	w.c.countError(err)
	w.c.log.Warn("message dropped", "error", err)
	if s.msg != nil {
		if cl, ok := s.msg.BodyReader.(io.Closer); ok {
			_ = cl.Close()
		}
	}
	if s.pending != nil {
		acts.fail([]*Pending{s.pending}, err)
		return
	}
	w.c.reserved.Add(-1)
	acts.resumeIn = true
	w.halted = true
	w.closeAfter = true
	w.dropQueued(acts)
}

func (w *OutboundWay) release(s *slot, acts *actions) {
	if s.pending != nil {
		acts.fail([]*Pending{s.pending}, api.ErrConnectionClosed)
		return
	}
	w.c.reserved.Add(-1)
	acts.resumeIn = true
}

func (w *OutboundWay) dropQueued(acts *actions) {
	for w.queue.Length() > 0 {
		s := w.queue.Remove().(*slot)
		s.cancelled = true
		w.release(s, acts)
	}
}

// reserve appends a response slot for req, or for malformed input when req
// is nil.
func (w *OutboundWay) reserve(req *coreproto.Message) *slot {
	s := &slot{}
	if req != nil {
		s.method = req.Method
		s.http10 = req.ProtoMajor == 1 && req.ProtoMinor == 0
		s.keepAlive = req.KeepAlive()
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed || w.halted {
		s.cancelled = true
		return s
	}
	w.queue.Add(s)
	w.c.reserved.Add(1)
	return s
}

// fill attaches a response to its slot.
func (w *OutboundWay) fill(s *slot, out *coreproto.Outgoing) error {
	w.mu.Lock()
	if w.closed || s.cancelled {
		w.mu.Unlock()
		return api.ErrConnectionClosed
	}
	s.msg = out
	s.ready = true
	w.mu.Unlock()
	w.c.resume(api.Outbound)
	return nil
}

func (w *OutboundWay) cancel(s *slot) {
	w.mu.Lock()
	s.cancelled = true
	w.mu.Unlock()
	w.c.resume(api.Outbound)
}

// enqueue appends a client request.
func (w *OutboundWay) enqueue(s *slot) error {
	w.mu.Lock()
	if w.closed || w.halted {
		w.mu.Unlock()
		return api.ErrConnectionClosed
	}
	w.queue.Add(s)
	w.mu.Unlock()
	w.c.resume(api.Outbound)
	return nil
}

// queueRaw stages handshake bytes.
func (w *OutboundWay) queueRaw(p []byte) error {
	if len(p) == 0 {
		return nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return api.ErrConnectionClosed
	}
	n, err := w.buf.Write(p)
	w.rawPending += n
	if err != nil {
		return err
	}
	w.io.CompareAndSwap(int32(api.IoIdle), int32(api.IoInterest))
	return nil
}

// expectedMethod returns the method of the oldest unanswered request.
func (w *OutboundWay) expectedMethod() (string, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.awaiting.Length() == 0 {
		return "", false
	}
	return w.awaiting.Peek().(*Pending).req.Method, true
}

func (w *OutboundWay) popAwaiting() *Pending {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.awaiting.Length() == 0 {
		return nil
	}
	return w.awaiting.Remove().(*Pending)
}

// abandon gives up every message that has not started and every request
// still waiting for its response. The pendings are returned for failing.
func (w *OutboundWay) abandon() []*Pending {
	var acts actions
	w.mu.Lock()
	if !w.closed {
		w.dropQueued(&acts)
		acts.failed = append(acts.failed, w.drainAwaiting()...)
	}
	w.mu.Unlock()
	if acts.resumeIn {
		w.c.resume(api.Inbound)
	}
	return acts.failed
}

func (w *OutboundWay) drainAwaiting() []*Pending {
	var ps []*Pending
	for w.awaiting.Length() > 0 {
		ps = append(ps, w.awaiting.Remove().(*Pending))
	}
	return ps
}

// refresh recomputes the readiness interest outside a cycle.
func (w *OutboundWay) refresh() {
	w.mu.Lock()
	defer w.mu.Unlock()
	st := api.IoState(w.io.Load())
	if st == api.IoReady || st == api.IoProcessing {
		return
	}
	w.settle()
}

func (w *OutboundWay) settle() {
	if !w.closed && (w.hasOutput() || w.hasWork()) {
		w.io.Store(int32(api.IoInterest))
	} else {
		w.io.Store(int32(api.IoIdle))
	}
}

func (w *OutboundWay) hasOutput() bool {
	if w.rawPending > 0 || !w.buf.IsEmpty() {
		return true
	}
	f, ok := w.c.dataChannel().(api.Flusher)
	return ok && f.Pending() > 0
}

func (w *OutboundWay) hasWork() bool {
	if w.halted || w.c.State() == api.StateOpening {
		return false
	}
	if w.cur != nil {
		return !w.waiting
	}
	if w.queue.Length() == 0 {
		return false
	}
	s := w.queue.Peek().(*slot)
	return s.ready || s.cancelled
}

type outStatus struct {
	pending    bool
	queued     bool
	closeAfter bool
}

func (w *OutboundWay) status() outStatus {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return outStatus{}
	}
	return outStatus{
		pending:    w.hasOutput(),
		queued:     w.cur != nil || w.queue.Length() > 0,
		closeAfter: w.closeAfter,
	}
}

// shutdownLocked releases everything and returns the pendings to fail.
func (w *OutboundWay) shutdownLocked() []*Pending {
	if w.closed {
		return nil
	}
	var ps []*Pending
	w.closeReader()
	w.cur = nil
	for w.queue.Length() > 0 {
		s := w.queue.Remove().(*slot)
		s.cancelled = true
		if s.pending != nil {
			ps = append(ps, s.pending)
		}
		if s.msg != nil {
			if cl, ok := s.msg.BodyReader.(io.Closer); ok {
				_ = cl.Close()
			}
		}
	}
	ps = append(ps, w.drainAwaiting()...)
	w.c.reserved.Store(0)
	w.closed = true
	w.rawPending = 0
	w.buf.Release()
	w.io.Store(int32(api.IoIdle))
	return ps
}

func ioErr(err error, op string) error {
	if errors.Is(err, api.IoError) {
		return err
	}
	return api.WrapError(api.ErrCodeIO, err, op)
}
