// Package push keeps the realtime event channel bound to the current
// session.
//
// The Manager follows session snapshots: an authenticated session with a new
// token tears down whatever connection exists and dials again with that
// token; any other state disconnects. A dropped connection is retried a
// bounded number of times with a fixed delay. Events are fanned out to
// per-channel subscribers in the order the server sent them.
//
// Transports implement Dialer. WebsocketDialer reads JSON frames of the form
// {"event": "...", "data": {...}}; GRPCDialer reads the same shape as
// google.protobuf.Struct messages from a server-streaming RPC.
package push
