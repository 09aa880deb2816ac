// Package client talks to the upload service over HTTP.
//
// HTTPClient implements transfer.Remote. Every call first asks the resolver
// for the current API base URL, so a service that moves on the LAN is
// followed transparently.
//
// Wire protocol, relative to the API base:
//
//	GET  /hello            reachability
//	POST /submit_metadata  {filename, total_size, description, checksum}
//	                       -> {id, chunks: [{index, start_offset, end_offset, chunk_size}], total_chunks}
//	POST /upload           X-File-ID, X-Start-Offset, Content-Range: bytes <start>-<end>/<total>
//
// end_offset and the Content-Range end are inclusive. Responses may come
// bare or wrapped in {status: 1, code: "0", message, data}.
//
// Transport failures and 5xx answers map to ErrUnavailable and drop the
// resolver cache; other non-2xx answers map to ErrRejected.
package client
