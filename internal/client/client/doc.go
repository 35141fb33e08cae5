// Package client talks to the EagleEye HTTP API.
//
// # Overview
//
// Client is the transport-agnostic contract used by the session manager and
// the job cache. HTTPClient implements it over JSON/HTTP:
//
//   - the bearer token is read from a TokenSource on every authorized request;
//   - each request carries a fresh X-Request-ID;
//   - requests are paced by a token-bucket limiter;
//   - a 401 on a request that carried a token is reported through the
//     OnUnauthorized hook with the token that was rejected.
//
// # Error Handling
//
// Transport failures wrap ErrUnavailable. Authorization rejections wrap
// ErrUnauthorized. Any other non-success reply is a *ServerError holding the
// server's message; Reason extracts it for display.
package client
