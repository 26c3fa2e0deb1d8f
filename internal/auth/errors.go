package auth

import "errors"

var (
	ErrEmptyToken       = errors.New("auth: empty token")
	ErrEmptySecret      = errors.New("auth: empty secret")
	ErrInvalidToken     = errors.New("auth: invalid token")
	ErrInvalidRole      = errors.New("auth: invalid role")
	ErrTokenExpired     = errors.New("auth: token expired")
	ErrBadSignature     = errors.New("auth: invalid ingest signature")
	ErrMissingSignature = errors.New("auth: missing ingest signature")
	ErrSignatureStale   = errors.New("auth: ingest signature expired")
)
