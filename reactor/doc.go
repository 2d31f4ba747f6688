// Copyright (c) 2025
// Author: momentics <momentics@gmail.com>

// Package reactor multiplexes connection readiness. A single poll loop
// turns one-shot epoll notifications into I/O cycles on the executor; a
// sweeper applies handshake, idle and close deadlines.
package reactor
