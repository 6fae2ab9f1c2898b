// Copyright 2014 The go-probeum Authors
// This file is part of the go-probeum library.
//
// The go-probeum library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The go-probeum library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the go-probeum library. If not, see <http://www.gnu.org/licenses/>.

package attestation

import (
	"crypto/sha512"
	"fmt"

	"github.com/fxamacker/cbor/v2"
	lru "github.com/hashicorp/golang-lru"

	"github.com/arm-cca/rmm/internal/granule"
	"github.com/arm-cca/rmm/internal/measurement"
	"github.com/arm-cca/rmm/internal/realm"
	"github.com/arm-cca/rmm/internal/rec"
	"github.com/arm-cca/rmm/internal/rmerr"
)

// coseAlgES384 is the COSE algorithm identifier for ECDSA with SHA-384,
// matching the P384 key this monitor signs with ("signs with
// ECDSA-P384").
const coseAlgES384 = -35

// protectedHeader is COSE_Sign1's protected header: just the algorithm.
type protectedHeader struct {
	Alg int `cbor:"1,keyasint"`
}

// platformClaims is the CBOR map of CCA platform claims: challenge,
// instance-id, profile, lifecycle, implementation-id, sw-components,
// verification-service, configuration and hash-algo.
type platformClaims struct {
	Challenge           []byte   `cbor:"10,keyasint"`
	InstanceID          []byte   `cbor:"256,keyasint"`
	Profile             string   `cbor:"265,keyasint"`
	Lifecycle           uint16   `cbor:"2396,keyasint"`
	ImplementationID    []byte   `cbor:"2398,keyasint"`
	SWComponents        [][]byte `cbor:"2399,keyasint"`
	VerificationService string   `cbor:"2400,keyasint"`
	Configuration        []byte  `cbor:"2401,keyasint"`
	HashAlgo            string   `cbor:"2402,keyasint"`
	RealmMeasurements   [][]byte `cbor:"44238,keyasint"`
	VMID                uint16   `cbor:"44239,keyasint"`
}

// Cache caches signed token byte streams per (vmid, vCPU) in a small
// hashicorp/golang-lru LRU, so ATTEST_TOKEN_CONTINUE streams a token built
// once by ATTEST_TOKEN_INIT; the DAK itself is re-derived on every INIT and
// is not cached.
type Cache struct {
	lru *lru.Cache
}

// cacheEntry is one REC's cached attestation token.
type cacheEntry struct {
	token []byte
}

// NewCache builds a Cache holding up to size in-flight tokens, one per
// (vmid, vCPU).
func NewCache(size int) (*Cache, error) {
	c, err := lru.New(size)
	if err != nil {
		return nil, fmt.Errorf("attestation: new cache: %w", err)
	}
	return &Cache{lru: c}, nil
}

// BuildToken assembles and signs the CCA attestation token for rd, given
// the challenge the realm recorded via ATTEST_TOKEN_INIT. The payload is a
// CBOR map of platform claims; the token itself is a
// 4-element COSE_Sign1 array (protected header bytes, unprotected header
// map, payload bytes, signature bytes), assembled directly against the
// CBOR encoder rather than through a COSE library.
func BuildToken(keys *Keys, rd *realm.RD, instanceID []byte, challenge [64]byte) ([]byte, error) {
	salt, err := measurementSalt(rd)
	if err != nil {
		return nil, err
	}
	dak, err := keys.DeriveDAK(salt)
	if err != nil {
		return nil, err
	}

	hashAlgoName := "sha-256"
	if rd.HashAlgo == measurement.SHA512 {
		hashAlgoName = "sha-512"
	}
	claims := platformClaims{
		Challenge:            challenge[:],
		InstanceID:           instanceID,
		Profile:              "http://arm.com/CCA-SSD/1.0.0",
		Lifecycle:            0x3001, // RESET_ASSERTED-equivalent "secured" state
		ImplementationID:     make([]byte, 32),
		SWComponents:         nil,
		VerificationService:  "",
		Configuration:        nil,
		HashAlgo:             hashAlgoName,
		RealmMeasurements:    append([][]byte{}, rd.Measurements[:]...),
		VMID:                 rd.VMID,
	}
	payload, err := cbor.Marshal(claims)
	if err != nil {
		return nil, rmerr.Crypto("marshal claims: %v", err)
	}

	protected, err := cbor.Marshal(protectedHeader{Alg: coseAlgES384})
	if err != nil {
		return nil, rmerr.Crypto("marshal protected header: %v", err)
	}

	sigStructure, err := cbor.Marshal([]interface{}{
		"Signature1",
		protected,
		[]byte{}, // external_aad, unused
		payload,
	})
	if err != nil {
		return nil, rmerr.Crypto("marshal Sig_structure: %v", err)
	}
	digest := sha384Sum(sigStructure)
	sig, err := Sign(dak, digest)
	if err != nil {
		return nil, err
	}

	token, err := cbor.Marshal([]interface{}{
		protected,
		map[interface{}]interface{}{},
		payload,
		sig,
	})
	if err != nil {
		return nil, rmerr.Crypto("marshal COSE_Sign1: %v", err)
	}
	return token, nil
}

func sha384Sum(b []byte) []byte {
	s := sha512.Sum384(b)
	return s[:]
}

// measurementSalt canonically encodes rd's measurement slots for use as
// the DAK derivation salt ("salt=CBOR-encoded measurements").
func measurementSalt(rd *realm.RD) ([]byte, error) {
	opts := cbor.CanonicalEncOptions()
	em, err := opts.EncMode()
	if err != nil {
		return nil, rmerr.Crypto("build canonical encoder: %v", err)
	}
	return em.Marshal(rd.Measurements)
}

// Init implements ATTEST_TOKEN_INIT: records the challenge on r and builds
// (or rebuilds) the cached token for this realm, ready for streaming.
func (c *Cache) Init(keys *Keys, rd *realm.RD, instanceID []byte, r *rec.REC, challenge [64]byte) error {
	token, err := BuildToken(keys, rd, instanceID, challenge)
	if err != nil {
		return err
	}
	r.InitAttest(challenge)
	c.lru.Add(cacheKey(rd.VMID, r.VCPUIndex), &cacheEntry{token: token})
	return nil
}

// Continue implements ATTEST_TOKEN_CONTINUE: returns the next chunk of the
// signed token, at most granule.GranuleSize bytes ("streams
// the signed token in <=GRANULE_SIZE chunks").
func (c *Cache) Continue(r *rec.REC, vmid uint16) ([]byte, bool, error) {
	v, ok := c.lru.Get(cacheKey(vmid, r.VCPUIndex))
	if !ok {
		return nil, false, fmt.Errorf("attestation: no token in progress for vcpu %d", r.VCPUIndex)
	}
	entry := v.(*cacheEntry)
	off := r.Attest.TokenOffset
	if off >= len(entry.token) {
		return nil, true, nil
	}
	end := off + granule.GranuleSize
	if end > len(entry.token) {
		end = len(entry.token)
	}
	chunk := entry.token[off:end]
	if err := r.ConsumeTokenChunk(len(chunk)); err != nil {
		return nil, false, err
	}
	return chunk, end == len(entry.token), nil
}

func cacheKey(vmid uint16, vcpu int) uint32 {
	return uint32(vmid)<<16 | uint32(uint16(vcpu))
}
