// Package pool
// Author: momentics <momentics@gmail.com>
//
// Buffer storage recycling for hioload-nio. Connection buffers take their
// backing slices from a size-classed BytePool at open and give them back at
// close, so a steady connection population allocates almost nothing.
package pool
