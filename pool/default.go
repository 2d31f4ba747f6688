// File: pool/default.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package pool

import "sync"

var (
	defaultOnce sync.Once
	defaultPool *BytePool
)

// Default returns the process-wide BytePool shared by connections that are
// not given a dedicated one.
func Default() *BytePool {
	defaultOnce.Do(func() {
		defaultPool = NewBytePool(0)
	})
	return defaultPool
}
