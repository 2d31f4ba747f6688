// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

// Package transport provides channel decorators used by connections:
// BufferedChannel replays bytes read ahead of a protocol switch, and
// SecureChannel layers an api.SecureSession over a raw channel.
// Socket-level channels live in transport/tcp and the crypto/tls backed
// session in transport/tlsengine.
package transport
