// File: core/buffer/processor.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Callback contract separating the fill/drain policy from buffer mechanics.

package buffer

// Processor decides when a Buffer may be filled or drained. Connection ways
// implement it.
type Processor interface {
	// CouldFill returns false once enough data for the current framing step
	// is buffered, or when the consumer cannot accept more.
	CouldFill(b *Buffer) bool

	// CanLoop returns false once the current drain pass has written
	// everything needed for this cycle.
	CanLoop(b *Buffer) bool

	// OnFillEOF is invoked when the source reported end of stream.
	OnFillEOF()

	// PreProcess runs before a drain pass.
	PreProcess(b *Buffer) error

	// PostProcess runs after a drain pass with the number of bytes drained.
	PostProcess(b *Buffer, drained int) error
}

// NopProcessor always allows filling and draining.
type NopProcessor struct{}

func (NopProcessor) CouldFill(*Buffer) bool         { return true }
func (NopProcessor) CanLoop(*Buffer) bool           { return true }
func (NopProcessor) OnFillEOF()                     {}
func (NopProcessor) PreProcess(*Buffer) error       { return nil }
func (NopProcessor) PostProcess(*Buffer, int) error { return nil }
