// Package repository holds the Redis-backed session state of the API:
// refresh tokens issued at login and rotated on refresh.
package repository

import "errors"

// ErrTokenNotFound is returned when a refresh token is unknown, expired or
// already used. Handlers translate it into an HTTP 401 response.
var ErrTokenNotFound = errors.New("refresh token not found")
