// Package protocol
// Author: momentics <momentics@gmail.com>
//
// Connection engine for HTTP/1.x endpoints.
//
// A Connection owns one channel and two ways. The InboundWay fills its
// buffer from the channel and frames messages; the OutboundWay serializes
// submitted messages into its buffer and drains them to the channel. Neither
// way ever blocks: with too little data or no room in the socket a cycle
// ends and the connection waits for the next readiness notification.
//
// Encrypted connections first run a handshake through the same buffers and
// then switch their channel to a transport.SecureChannel.
package protocol
