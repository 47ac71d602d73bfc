// Package auth provides authentication for the waylink HTTP API.
//
// # Authentication Methods
//
// Two methods are supported:
//
//   - JWT Tokens: Interactive users and CLI tools authenticate with a
//     Bearer token. Tokens are signed with HS256 using the configured
//     jwt_secret; the subject claim carries the owner id.
//
//   - API Keys: Non-interactive clients send an X-API-Key header. Keys
//     look like "wl_<id>.<secret>"; only a bcrypt hash of the secret is
//     stored, and the plaintext is shown once at mint time.
//
// # Middleware
//
// Middleware checks the X-API-Key header first, then the Authorization
// Bearer token, and attaches an Identity to the request context:
//
//	r.Use(auth.Middleware(verifier, store))
//
// Handlers behind the middleware read the caller with
// auth.MustFromContext(ctx); every session and agent operation is scoped
// to Identity.Owner.
//
// # Token Management
//
//	verifier := auth.NewJWTVerifier(secret)
//	token, err := verifier.Generate(owner, 30*24*time.Hour)
//	owner, err := verifier.Verify(token)
package auth
