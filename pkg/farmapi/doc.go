// Package farmapi is a typed client for the FarmBot web API.
//
// Every call carries the bearer token held by the client's Session. When the
// API answers 401 the session fetches a fresh token once and the call is
// repeated; a second failure is returned as *APIError with the upstream status
// and body. The API has no transactions or version tokens, so each method here
// is exactly one independent network round trip.
package farmapi
