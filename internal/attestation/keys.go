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

// Package attestation implements the Attestation: CPAK/DAK
// key derivation, and assembly/signing of the CCA attestation token.
// DAK derivation follows the same shape SEV-SNP guest key derivation
// uses: golang.org/x/crypto/hkdf over a measurement-bound salt.
package attestation

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"
	"math/big"

	"golang.org/x/crypto/hkdf"

	"github.com/arm-cca/rmm/internal/rmerr"
)

// Keys holds the monitor's boot-time attestation key material. The monitor
// never reads key material from a filesystem: CPAK is generated fresh every boot from
// crypto/rand, and the boot secret DAKs are derived from is likewise
// boot-random.
type Keys struct {
	CPAK   *ecdsa.PrivateKey
	secret []byte
}

// NewKeys generates a fresh CPAK and boot secret. Called exactly once, at
// Monitor construction.
func NewKeys() (*Keys, error) {
	cpak, err := ecdsa.GenerateKey(elliptic.P384(), rand.Reader)
	if err != nil {
		return nil, rmerr.Crypto("generate CPAK: %v", err)
	}
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return nil, rmerr.Crypto("generate boot secret: %v", err)
	}
	return &Keys{CPAK: cpak, secret: secret}, nil
}

// dakLabel is the HKDF info parameter: a DAK is derived per realm as
// HKDF(secret, label="DAK", salt=CBOR-encoded measurements).
var dakLabel = []byte("DAK")

// DeriveDAK derives a realm's DAK (Realm Attestation Key) from the
// monitor's boot secret and a salt over the realm's current measurements,
// binding the key to the realm's identity at the moment of derivation.
// The private scalar is read directly from the HKDF stream and reduced
// into [1, N-1], so the same (secret, salt) pair always yields the same
// key, the property REC-scoped token derivation relies on for repeatable
// ATTEST_TOKEN_INIT/CONTINUE sequences.
func (k *Keys) DeriveDAK(measurementSalt []byte) (*ecdsa.PrivateKey, error) {
	reader := hkdf.New(sha256.New, k.secret, measurementSalt, dakLabel)
	curve := elliptic.P384()
	n := curve.Params().N
	buf := make([]byte, (n.BitLen()+7)/8+8)
	if _, err := io.ReadFull(reader, buf); err != nil {
		return nil, rmerr.Crypto("derive DAK: %v", err)
	}
	d := new(big.Int).SetBytes(buf)
	d.Mod(d, new(big.Int).Sub(n, big.NewInt(1)))
	d.Add(d, big.NewInt(1))
	dak := &ecdsa.PrivateKey{PublicKey: ecdsa.PublicKey{Curve: curve}, D: d}
	dak.PublicKey.X, dak.PublicKey.Y = curve.ScalarBaseMult(d.FillBytes(make([]byte, (n.BitLen()+7)/8)))
	return dak, nil
}

// Sign signs digest (already hashed by the caller, per crypto/ecdsa's
// convention) with key, returning the raw fixed-size (r||s) signature COSE
// expects rather than Go's default ASN.1 DER encoding.
func Sign(key *ecdsa.PrivateKey, digest []byte) ([]byte, error) {
	r, s, err := ecdsa.Sign(rand.Reader, key, digest)
	if err != nil {
		return nil, rmerr.Crypto("sign: %v", err)
	}
	size := (key.Curve.Params().BitSize + 7) / 8
	out := make([]byte, 2*size)
	rb := r.Bytes()
	sb := s.Bytes()
	copy(out[size-len(rb):size], rb)
	copy(out[2*size-len(sb):], sb)
	return out, nil
}

// VerifyForTest re-derives whether sig is a valid P384 signature of digest
// under key.Public(), used only by this package's own tests (no other
// monitor component ever verifies its own token; that's the relying
// party's job).
func VerifyForTest(pub *ecdsa.PublicKey, digest, sig []byte) error {
	size := (pub.Curve.Params().BitSize + 7) / 8
	if len(sig) != 2*size {
		return fmt.Errorf("attestation: signature has unexpected length %d", len(sig))
	}
	r := new(big.Int).SetBytes(sig[:size])
	s := new(big.Int).SetBytes(sig[size:])
	if !ecdsa.Verify(pub, digest, r, s) {
		return fmt.Errorf("attestation: signature does not verify")
	}
	return nil
}
