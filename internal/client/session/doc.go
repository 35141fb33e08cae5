// Package session owns the authenticated session: who is logged in, with
// which token, and whether that is still being verified.
//
// The Manager is the only writer of the session and of the credential store.
// State changes follow a fixed transition table and are published to
// subscribers in the order they happen. Every asynchronous operation carries
// the generation it started in; a result that arrives after a newer
// operation (or a logout) has begun is dropped.
package session
