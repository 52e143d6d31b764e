// Package auth verifies the bearer tokens presented on chat sockets and REST calls.
//
// Token issuance lives elsewhere; this service only holds the PASETO v4 public key.
// A PASETO v4.public token carries:
//   - iss: issuer
//   - iat/nbf/exp: validity window
//   - uid: decimal user id
//
// For local development AllowAll accepts any token.
package auth
