// Package auth provides bearer-token authentication for the coven-voice HTTP API.
//
// Tokens are HS256 JWTs signed with auth.jwt_secret and minted by the
// `coven-voice token` command:
//
//	v, err := auth.NewJWTVerifier(secret)
//	token, err := v.Generate("dashboard", 30*24*time.Hour)
//
// Every token carries the coven-voice issuer, a subject and an expiry; all
// three are required on verification.
//
// HTTPAuthMiddleware guards /api routes. The verified Identity is available
// to handlers through FromContext. The webhook is authenticated separately by
// its HMAC signature, and health endpoints stay open.
package auth
