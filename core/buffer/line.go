// File: core/buffer/line.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Incremental CRLF line assembly. A line may be split anywhere across fills,
// including between its CR and LF.

package buffer

import (
	"bytes"

	"github.com/momentics/hioload-nio/api"
)

// LineState tracks assembly of one line.
type LineState int

const (
	// LineIdle means no line is in progress.
	LineIdle LineState = iota
	// LineFilling means bytes of the line are being collected.
	LineFilling
	// LineCR means a CR was seen and LF is expected next.
	LineCR
	// LineDone means the terminator was consumed.
	LineDone
)

// DrainLine moves bytes of the current line from the ready region into line
// until a terminator is consumed or the buffer runs dry. The terminator is
// not stored. A bare LF is accepted; a CR not followed by LF is a protocol
// error. max bounds the line length (0 = unbounded) and yields BufferOverflow.
func (b *Buffer) DrainLine(line *[]byte, state LineState, max int) (LineState, error) {
	if state == LineIdle || state == LineDone {
		state = LineFilling
	}

	for state != LineDone && b.pos < b.lim {
		switch state {
		case LineFilling:
			ready := b.data[b.pos:b.lim]
			i := bytes.IndexAny(ready, "\r\n")
			take := ready
			if i >= 0 {
				take = ready[:i]
			}
			if max > 0 && len(*line)+len(take) > max {
				return state, api.Errorf(api.ErrCodeBufferOverflow, "line exceeds %d bytes", max)
			}
			*line = append(*line, take...)
			b.pos += len(take)
			if i < 0 {
				continue
			}
			if ready[i] == '\n' {
				state = LineDone
			} else {
				state = LineCR
			}
			b.pos++

		case LineCR:
			if b.data[b.pos] != '\n' {
				return state, api.Errorf(api.ErrCodeProtocol,
					"missing line feed after carriage return, found %q", b.data[b.pos])
			}
			b.pos++
			state = LineDone
		}
	}

	b.settle(Filled, Drained)
	return state, nil
}
