// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of aika.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package auth

import (
	"crypto/ed25519"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/lulzzz/aika/pkg/log"
)

// JWTAuthenticator verifies EdDSA-signed bearer tokens. The public key
// comes from the JWT_PUBLIC_KEY environment variable (base64, raw
// ed25519), typically loaded via the .env file.
type JWTAuthenticator struct {
	publicKey ed25519.PublicKey
}

func NewJWTAuthenticator() (*JWTAuthenticator, error) {
	pubKey := os.Getenv("JWT_PUBLIC_KEY")
	if pubKey == "" {
		log.Warn("environment variable 'JWT_PUBLIC_KEY' not set (token based authentication will not work)")
		return &JWTAuthenticator{}, nil
	}

	bytes, err := base64.StdEncoding.DecodeString(pubKey)
	if err != nil {
		log.Warn("Could not decode JWT public key")
		return nil, err
	}
	return &JWTAuthenticator{publicKey: ed25519.PublicKey(bytes)}, nil
}

// AuthViaRequest extracts and verifies the token of an HTTP request,
// accepting both the X-Auth-Token and the Authorization: Bearer form.
func (ja *JWTAuthenticator) AuthViaRequest(r *http.Request) (*User, error) {
	rawtoken := r.Header.Get("X-Auth-Token")
	if rawtoken == "" {
		rawtoken = strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	}
	if rawtoken == "" {
		return nil, errors.New("no token found in request")
	}
	return ja.AuthViaToken(rawtoken)
}

// AuthViaToken verifies a raw token and builds the caller identity
// from its `sub` and `roles` claims.
func (ja *JWTAuthenticator) AuthViaToken(rawtoken string) (*User, error) {
	if ja.publicKey == nil {
		return nil, errors.New("JWT authentication is not configured")
	}

	token, err := jwt.Parse(rawtoken, func(t *jwt.Token) (interface{}, error) {
		if t.Method != jwt.SigningMethodEdDSA {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return ja.publicKey, nil
	})
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, errors.New("invalid token")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, errors.New("unexpected claims type")
	}
	sub, _ := claims["sub"].(string)
	if sub == "" {
		return nil, errors.New("token without subject")
	}

	var roles []Role
	if rawroles, ok := claims["roles"].([]interface{}); ok {
		for _, rr := range rawroles {
			if r, ok := rr.(string); ok {
				switch Role(r) {
				case RoleAdmin, RoleWriter, RoleReader:
					roles = append(roles, Role(r))
				default:
					log.Warnf("Unknown role claim '%s' for user '%s'", r, sub)
				}
			}
		}
	}

	return &User{Username: sub, Roles: roles}, nil
}
