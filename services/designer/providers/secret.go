// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package providers

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/awnumar/memguard"
)

// ErrEmptySecret is returned when a secret has no value.
var ErrEmptySecret = errors.New("secret is empty")

// Secret holds an API key encrypted in memory.
//
// # Description
//
// The plaintext lives in a memguard enclave and is decrypted into a locked
// buffer only for the duration of Use. Callers must not retain the string
// passed to fn.
type Secret struct {
	enclave *memguard.Enclave
}

// NewSecret seals value. The caller's copy is not wiped; pass values read
// straight from config or the environment.
func NewSecret(value string) (*Secret, error) {
	if value == "" {
		return nil, ErrEmptySecret
	}
	return &Secret{enclave: memguard.NewEnclave([]byte(value))}, nil
}

// Use decrypts the secret and calls fn with it.
func (s *Secret) Use(fn func(value string) error) error {
	if s == nil || s.enclave == nil {
		return ErrEmptySecret
	}
	buf, err := s.enclave.Open()
	if err != nil {
		return fmt.Errorf("open secret enclave: %w", err)
	}
	defer buf.Destroy()
	return fn(buf.String())
}

// bearerDoer adds "Authorization: Bearer <secret>" to every request.
type bearerDoer struct {
	base   *http.Client
	secret *Secret
	header string
	prefix string
}

func newBearerDoer(base *http.Client, secret *Secret) *bearerDoer {
	if base == nil {
		base = http.DefaultClient
	}
	return &bearerDoer{base: base, secret: secret, header: "Authorization", prefix: "Bearer "}
}

// Do implements the openai HTTPDoer interface.
func (d *bearerDoer) Do(req *http.Request) (*http.Response, error) {
	if err := d.secret.Use(func(v string) error {
		req.Header.Set(d.header, d.prefix+v)
		return nil
	}); err != nil {
		return nil, err
	}
	return d.base.Do(req)
}
