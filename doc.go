// Package auth is an authentication gateway: it verifies credentials,
// issues signed access tokens, gates protected routes and runs the account
// lifecycle (registration, pin verification, password change).
//
// Credential verification:
//   - CredentialVerifier asks a DirectoryAuthenticator first (see the ldap
//     package) and falls back to the bcrypt hash in the local store. Both
//     failing yields ErrInvalidCredentials regardless of which side said no.
//   - Users authenticated by the directory are provisioned locally on first
//     login so sessions can resolve them later.
//
// Tokens:
//   - TokenServiceImpl signs HS256 JWTs with a kid header. Older keys can be
//     kept for verification to rotate the signing key without logging
//     everyone out.
//   - Logout and Refresh revoke the presented jti until it would have expired.
//
// Session gate:
//   - RouteAuthenticator.ProtectedRoute returns a fiber handler that rejects
//     requests with 403 and one of token_absent, token_expired or
//     token_invalid. Accepted requests carry a *Principal.
//
// Activity sinks:
//   - ActivitySink receives login, logout, refresh and lifecycle events. Sinks
//     run best effort so they never fail the operation being recorded.
package auth
