// Copyright 2015 Matthew Holt and The Caddy Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package security

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/crypto/argon2"
)

// argon2idParams are the parameters used for every newly minted API-key
// hash. Adapted from caddyauth's Argon2idHash module config defaults.
type argon2idParams struct {
	time    uint32
	memory  uint32
	threads uint8
	keyLen  uint32
}

var defaultArgon2idParams = argon2idParams{
	time:    1,
	memory:  47104,
	threads: 1,
	keyLen:  32,
}

// hashApiKey hashes plaintext with a fresh random salt, returning the PHC
// string format `$argon2id$v=...$m=...,t=...,p=...$salt$hash`.
func hashApiKey(plaintext string) (string, error) {
	salt := make([]byte, 16)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}
	p := defaultArgon2idParams
	key := argon2.IDKey([]byte(plaintext), salt, p.time, p.memory, p.threads, p.keyLen)

	return fmt.Sprintf(
		"$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, p.memory, p.time, p.threads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

// verifyApiKeyHash re-derives the key with the stored hash's parameters and
// salt and compares in constant time.
func verifyApiKeyHash(hash, plaintext string) (bool, error) {
	p, salt, storedKey, err := decodeArgon2idHash(hash)
	if err != nil {
		return false, err
	}
	computed := argon2.IDKey([]byte(plaintext), salt, p.time, p.memory, p.threads, p.keyLen)
	return subtle.ConstantTimeCompare(storedKey, computed) == 1, nil
}

func decodeArgon2idHash(hash string) (argon2idParams, []byte, []byte, error) {
	parts := strings.Split(hash, "$")
	if len(parts) != 6 {
		return argon2idParams{}, nil, nil, fmt.Errorf("invalid hash format")
	}
	if parts[1] != "argon2id" {
		return argon2idParams{}, nil, nil, fmt.Errorf("unsupported variant: %s", parts[1])
	}

	version, err := strconv.Atoi(strings.TrimPrefix(parts[2], "v="))
	if err != nil {
		return argon2idParams{}, nil, nil, fmt.Errorf("invalid version: %w", err)
	}
	if version != argon2.Version {
		return argon2idParams{}, nil, nil, fmt.Errorf("incompatible version: %d", version)
	}

	params := strings.Split(parts[3], ",")
	if len(params) != 3 {
		return argon2idParams{}, nil, nil, fmt.Errorf("invalid parameters")
	}
	mem, err := strconv.ParseUint(strings.TrimPrefix(params[0], "m="), 10, 32)
	if err != nil {
		return argon2idParams{}, nil, nil, fmt.Errorf("invalid memory parameter: %w", err)
	}
	iter, err := strconv.ParseUint(strings.TrimPrefix(params[1], "t="), 10, 32)
	if err != nil {
		return argon2idParams{}, nil, nil, fmt.Errorf("invalid iterations parameter: %w", err)
	}
	threads, err := strconv.ParseUint(strings.TrimPrefix(params[2], "p="), 10, 8)
	if err != nil {
		return argon2idParams{}, nil, nil, fmt.Errorf("invalid parallelism parameter: %w", err)
	}

	salt, err := base64.RawStdEncoding.Strict().DecodeString(parts[4])
	if err != nil {
		return argon2idParams{}, nil, nil, fmt.Errorf("decode salt: %w", err)
	}
	key, err := base64.RawStdEncoding.Strict().DecodeString(parts[5])
	if err != nil {
		return argon2idParams{}, nil, nil, fmt.Errorf("decode key: %w", err)
	}

	return argon2idParams{time: uint32(iter), memory: uint32(mem), threads: uint8(threads), keyLen: uint32(len(key))}, salt, key, nil
}
