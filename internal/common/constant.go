// Package common contains shared constants and sentinel errors used across
// the media pipeline components.
package common

// AuthorizationHeaderName is the HTTP header carrying the bearer access token.
const AuthorizationHeaderName = "Authorization"

// BearerPrefix precedes the token inside the Authorization header.
const BearerPrefix = "Bearer "

// DefaultMaxUploadBytes is the upload size limit used when none is configured.
const DefaultMaxUploadBytes int64 = 50 << 20
