/*
Package fasticap provides server side of the ICAP protocol (RFC 3507).

Fasticap provides the following features:

  - REQMOD, RESPMOD and OPTIONS methods with Encapsulated header
    validation. Section offsets are checked against the actual
    number of bytes read.
  - Pull-based chunked bodies. Large bodies are never buffered
    in memory as a whole.
  - Previews. '100 Continue' is sent lazily the first time the handler
    reads past the preview, so handlers which decide on the preview
    alone never pay for the rest of the body.
  - Transparent Content-Encoding decoding and encoding of encapsulated
    bodies: gzip, deflate, br and zstd.
  - Services routed by the request URI path with default OPTIONS
    responses and ISTag handling.
  - Server with the following anti-DoS limits:

      - The number of concurrent connections.
      - The number of concurrent connections per client IP.
      - Maximum request line size.
      - Request read timeout.
      - Response write timeout.
*/
package fasticap
