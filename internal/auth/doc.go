// ABOUTME: Bearer-token authentication for the operator API
// ABOUTME: HS256 JWTs carrying the operator identity and role

// Package auth protects the operator-facing API. The webhook endpoint
// is authenticated by its own payload signature and never passes
// through this package.
//
// Tokens are HS256 JWTs minted by the admin CLI. The middleware
// verifies the token, attaches the operator identity to the request
// context, and handlers read it back with FromContext.
package auth
