// Copyright (c) 2026 Yomira. All rights reserved.
// Author: tai.buivan.jp@gmail.com

// Package sec provides cryptographic primitives for the sync service.
//
// # Architecture
//
// This package isolates security-sensitive code (API key verification,
// capability token signing) from the domain logic. It is an Infrastructure
// service injected into the HTTP layer and the event publisher.
package sec

import "crypto/subtle"

// APIKeyVerifier performs constant-time comparison of a presented API key
// against the configured admin secret.
//
// # Why constant-time?
//
// A naive string comparison short-circuits on the first mismatching byte,
// which leaks the key prefix through response timing. [subtle.ConstantTimeCompare]
// always inspects every byte.
type APIKeyVerifier struct {
	secret []byte
}

// NewAPIKeyVerifier creates a verifier for the given shared admin secret.
func NewAPIKeyVerifier(secret string) *APIKeyVerifier {
	return &APIKeyVerifier{secret: []byte(secret)}
}

// Verify reports whether the presented key matches the configured secret.
// An empty configured secret never matches anything.
func (verifier *APIKeyVerifier) Verify(presented string) bool {
	if len(verifier.secret) == 0 {
		return false
	}
	return subtle.ConstantTimeCompare(verifier.secret, []byte(presented)) == 1
}
