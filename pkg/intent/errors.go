// Copyright 2025 Certen Protocol
//
// Intent package errors

package intent

import "errors"

// Verification errors, per spec §4.1.
var (
	ErrMissingSignature    = errors.New("intent: missing signature")
	ErrMissingPublicKey    = errors.New("intent: missing public key")
	ErrInvalidPublicKey    = errors.New("intent: invalid public key")
	ErrInvalidSignature    = errors.New("intent: invalid signature encoding")
	ErrVerificationFailed  = errors.New("intent: signature verification failed")
)
