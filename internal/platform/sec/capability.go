// Copyright (c) 2026 Yomira. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package sec

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ChannelWildcard grants a capability token access to every event channel.
// It is reserved for administrative clients.
const ChannelWildcard = "*"

// CapabilityClaims is the payload embedded inside an event-bus capability token.
//
// # Why custom claims?
//
// Subscribers authenticate to the realtime layer with a short-lived token
// scoped to a single channel (or the wildcard). Embedding the channel in the
// token lets the realtime layer authorize subscriptions WITHOUT calling back
// into the sync service.
type CapabilityClaims struct {
	jwt.RegisteredClaims

	// Channel is the event channel this token grants access to.
	Channel string `json:"chn"`
}

// CapabilityService mints and verifies event-channel capability tokens
// using HS256 with the shared event-bus key.
type CapabilityService struct {
	key    []byte
	issuer string
}

// NewCapabilityService creates a new CapabilityService.
func NewCapabilityService(key, issuer string) *CapabilityService {
	return &CapabilityService{key: []byte(key), issuer: issuer}
}

// Mint creates a short-lived capability token scoped to a single channel.
func (service *CapabilityService) Mint(channel string, timeToLive time.Duration) (string, error) {
	currentTime := time.Now()
	claims := CapabilityClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   channel,
			Issuer:    service.issuer,
			IssuedAt:  jwt.NewNumericDate(currentTime),
			ExpiresAt: jwt.NewNumericDate(currentTime.Add(timeToLive)),
		},
		Channel: channel,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signedToken, err := token.SignedString(service.key)
	if err != nil {
		return "", fmt.Errorf("sec: failed to sign capability token: %w", err)
	}

	return signedToken, nil
}

// Verify checks the signature and validity of a capability token string.
func (service *CapabilityService) Verify(tokenString string) (*CapabilityClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &CapabilityClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("sec: unexpected signing method: %v", token.Header["alg"])
		}
		return service.key, nil
	})

	if err != nil {
		return nil, fmt.Errorf("sec: invalid capability token: %w", err)
	}

	claims, ok := token.Claims.(*CapabilityClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("sec: invalid capability token claims")
	}

	return claims, nil
}

// Allows reports whether the claims authorize a subscription to channel.
func (claims *CapabilityClaims) Allows(channel string) bool {
	return claims.Channel == ChannelWildcard || claims.Channel == channel
}
