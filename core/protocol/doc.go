// Package protocol
// Author: momentics <momentics@gmail.com>
//
// HTTP/1.x framing primitives shared by the inbound and outbound ways:
//   - start line and header line parsing with field validation
//   - chunk size parsing and chunk serialization
//   - body delimitation rules for requests and responses
//   - the Message delivered to handlers and the Outgoing value they send
//   - BodyStream, the back-pressured handle for streamed bodies
//
// Everything here operates on complete lines or byte slices; incremental
// reassembly across reads is done by core/buffer.
package protocol
