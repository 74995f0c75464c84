// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of aika.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package auth

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"net/http"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signedToken(t *testing.T, priv ed25519.PrivateKey, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims).SignedString(priv)
	require.NoError(t, err)
	return token
}

func TestJWTAuthentication(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	t.Setenv("JWT_PUBLIC_KEY", base64.StdEncoding.EncodeToString(pub))

	ja, err := NewJWTAuthenticator()
	require.NoError(t, err)

	rawtoken := signedToken(t, priv, jwt.MapClaims{
		"sub":   "operator",
		"roles": []string{"writer", "bogus"},
		"exp":   time.Now().Add(time.Hour).Unix(),
	})

	user, err := ja.AuthViaToken(rawtoken)
	require.NoError(t, err)
	assert.Equal(t, "operator", user.Name())
	assert.True(t, user.HasRole(RoleWriter), "known roles are kept")
	assert.Len(t, user.Roles, 1, "unknown role claims are dropped")

	// Both token headers work.
	r, _ := http.NewRequest(http.MethodGet, "/api/tags/", nil)
	r.Header.Set("X-Auth-Token", rawtoken)
	user, err = ja.AuthViaRequest(r)
	require.NoError(t, err)
	assert.Equal(t, "operator", user.Username)

	r, _ = http.NewRequest(http.MethodGet, "/api/tags/", nil)
	r.Header.Set("Authorization", "Bearer "+rawtoken)
	_, err = ja.AuthViaRequest(r)
	assert.NoError(t, err)

	// Expired tokens are rejected.
	expired := signedToken(t, priv, jwt.MapClaims{
		"sub": "operator",
		"exp": time.Now().Add(-time.Hour).Unix(),
	})
	_, err = ja.AuthViaToken(expired)
	assert.Error(t, err)

	// Tokens signed with a foreign key are rejected.
	_, otherPriv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	foreign := signedToken(t, otherPriv, jwt.MapClaims{"sub": "intruder"})
	_, err = ja.AuthViaToken(foreign)
	assert.Error(t, err)
}

func TestRolePolicy(t *testing.T) {
	p := RolePolicy{}
	reader := &User{Username: "r", Roles: []Role{RoleReader}}
	writer := &User{Username: "w", Roles: []Role{RoleWriter}}
	admin := &User{Username: "a", Roles: []Role{RoleAdmin}}

	assert.True(t, p.CanRead(reader, nil))
	assert.False(t, p.CanWrite(reader, nil))
	assert.True(t, p.CanWrite(writer, nil))
	assert.False(t, p.CanManage(writer))
	assert.True(t, p.CanManage(admin))
	assert.False(t, p.CanRead(&User{Username: "none"}, nil))
}
