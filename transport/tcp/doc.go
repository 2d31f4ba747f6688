// Copyright (c) 2025
// Author: momentics <momentics@gmail.com>

// Package tcp implements non-blocking TCP sockets for hioload-nio on top of
// golang.org/x/sys/unix. Conn satisfies api.SelectableChannel so its
// descriptor can be registered with the reactor's poller. Other platforms
// get stubs returning api.ErrNotSupported.
package tcp
