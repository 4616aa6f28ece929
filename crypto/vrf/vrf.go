// Copyright 2025 The go-luxtensor Authors
// This file is part of the go-luxtensor library.
//
// The go-luxtensor library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The go-luxtensor library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the go-luxtensor library. If not, see <http://www.gnu.org/licenses/>.

// Package vrf implements ECVRF-EDWARDS25519-SHA512-TAI (RFC 9381).
//
// Block producers prove leadership over the slot seed with an 80-byte proof
// carried in the block header; any peer holding the producer's published VRF
// public key can verify the proof and derive the same 32-byte output. The
// prover cannot bias or withhold the output without detection, which is what
// makes the seed safe to use for leader selection.
package vrf

import (
	"crypto/rand"
	"crypto/sha512"
	"errors"

	"filippo.io/edwards25519"
	"github.com/ethereum/go-ethereum/common"
)

// Suite identifier for ECVRF-EDWARDS25519-SHA512-TAI.
const suiteID = byte(0x03)

// ProofSize is the serialized proof length: gamma(32) || c(16) || s(32).
const ProofSize = 80

// PublicKeySize is the compressed Edwards point length.
const PublicKeySize = 32

// SecretKeySize is the RFC 8032 seed length.
const SecretKeySize = 32

var (
	ErrInvalidSecretKey = errors.New("vrf: invalid secret key")
	ErrInvalidPublicKey = errors.New("vrf: invalid public key")
	ErrInvalidProof     = errors.New("vrf: invalid proof")
	ErrEncodeToCurve    = errors.New("vrf: encode-to-curve failed")
)

// SecretKey is a 32-byte Ed25519 seed. Never serialize it to an untrusted
// sink; store it encrypted at rest.
type SecretKey [SecretKeySize]byte

// PublicKey is the compressed Edwards point broadcast on-chain at validator
// registration so peers can verify every produced proof.
type PublicKey [PublicKeySize]byte

// GenerateKey creates a fresh keypair from the OS entropy source. Used during
// validator registration, never during block processing.
func GenerateKey() (SecretKey, PublicKey, error) {
	var sk SecretKey
	if _, err := rand.Read(sk[:]); err != nil {
		return SecretKey{}, PublicKey{}, err
	}
	pk, err := sk.Public()
	if err != nil {
		return SecretKey{}, PublicKey{}, err
	}
	return sk, pk, nil
}

// Public derives the public key via the Ed25519 key schedule
// (SHA-512 expand, clamp, scalar-mult base).
func (sk SecretKey) Public() (PublicKey, error) {
	x, _, err := expandSecret(sk)
	if err != nil {
		return PublicKey{}, err
	}
	point := new(edwards25519.Point).ScalarBaseMult(x)
	var pk PublicKey
	copy(pk[:], point.Bytes())
	return pk, nil
}

// expandSecret applies the RFC 8032 key schedule, returning the clamped
// scalar x and the upper hash half used for nonce derivation.
func expandSecret(sk SecretKey) (*edwards25519.Scalar, []byte, error) {
	h := sha512.Sum512(sk[:])
	x, err := new(edwards25519.Scalar).SetBytesWithClamping(h[:32])
	if err != nil {
		return nil, nil, ErrInvalidSecretKey
	}
	return x, h[32:], nil
}

// encodeToCurve implements the try-and-increment hash-to-curve of the TAI
// ciphersuite: hash (suite || 0x01 || pk || alpha || ctr || 0x00) until the
// first 32 bytes decode as a curve point, then clear the cofactor.
func encodeToCurve(pk []byte, alpha []byte) (*edwards25519.Point, error) {
	for ctr := 0; ctr < 256; ctr++ {
		h := sha512.New()
		h.Write([]byte{suiteID, 0x01})
		h.Write(pk)
		h.Write(alpha)
		h.Write([]byte{byte(ctr), 0x00})
		digest := h.Sum(nil)

		point, err := new(edwards25519.Point).SetBytes(digest[:32])
		if err != nil {
			continue
		}
		point.MultByCofactor(point)
		if point.Equal(edwards25519.NewIdentityPoint()) == 1 {
			continue
		}
		return point, nil
	}
	return nil, ErrEncodeToCurve
}

// challenge computes the 16-byte challenge over the five proof points and
// lifts it into a scalar (zero-extended little-endian, always canonical).
func challenge(points ...*edwards25519.Point) *edwards25519.Scalar {
	h := sha512.New()
	h.Write([]byte{suiteID, 0x02})
	for _, p := range points {
		h.Write(p.Bytes())
	}
	h.Write([]byte{0x00})
	digest := h.Sum(nil)

	var buf [32]byte
	copy(buf[:16], digest[:16])
	c, _ := new(edwards25519.Scalar).SetCanonicalBytes(buf[:])
	return c
}

// Prove generates the VRF proof and output for alpha. The output is the
// deterministic 32-byte value both sides derive; the proof lets anyone with
// the public key recompute it.
func Prove(sk SecretKey, alpha []byte) ([]byte, common.Hash, error) {
	x, nonceSeed, err := expandSecret(sk)
	if err != nil {
		return nil, common.Hash{}, err
	}
	y := new(edwards25519.Point).ScalarBaseMult(x)
	pkBytes := y.Bytes()

	hPoint, err := encodeToCurve(pkBytes, alpha)
	if err != nil {
		return nil, common.Hash{}, err
	}
	gamma := new(edwards25519.Point).ScalarMult(x, hPoint)

	// Deterministic nonce per RFC 8032: wide reduction of
	// SHA-512(upper-seed-half || H).
	nh := sha512.New()
	nh.Write(nonceSeed)
	nh.Write(hPoint.Bytes())
	k, err := new(edwards25519.Scalar).SetUniformBytes(nh.Sum(nil))
	if err != nil {
		return nil, common.Hash{}, err
	}

	kB := new(edwards25519.Point).ScalarBaseMult(k)
	kH := new(edwards25519.Point).ScalarMult(k, hPoint)

	c := challenge(y, hPoint, gamma, kB, kH)
	s := new(edwards25519.Scalar).MultiplyAdd(c, x, k)

	proof := make([]byte, 0, ProofSize)
	proof = append(proof, gamma.Bytes()...)
	proof = append(proof, c.Bytes()[:16]...)
	proof = append(proof, s.Bytes()...)

	return proof, proofToHash(gamma), nil
}

// Verify checks a proof for alpha under pk and returns the VRF output on
// success. Verification recomputes the challenge from U = s*B - c*Y and
// V = s*H - c*Gamma.
func Verify(pk PublicKey, proof []byte, alpha []byte) (common.Hash, error) {
	if len(proof) != ProofSize {
		return common.Hash{}, ErrInvalidProof
	}
	y, err := new(edwards25519.Point).SetBytes(pk[:])
	if err != nil {
		return common.Hash{}, ErrInvalidPublicKey
	}
	// Reject small-order keys outright.
	if new(edwards25519.Point).MultByCofactor(y).Equal(edwards25519.NewIdentityPoint()) == 1 {
		return common.Hash{}, ErrInvalidPublicKey
	}

	gamma, err := new(edwards25519.Point).SetBytes(proof[:32])
	if err != nil {
		return common.Hash{}, ErrInvalidProof
	}
	var cBuf [32]byte
	copy(cBuf[:16], proof[32:48])
	c, err := new(edwards25519.Scalar).SetCanonicalBytes(cBuf[:])
	if err != nil {
		return common.Hash{}, ErrInvalidProof
	}
	s, err := new(edwards25519.Scalar).SetCanonicalBytes(proof[48:80])
	if err != nil {
		return common.Hash{}, ErrInvalidProof
	}

	hPoint, err := encodeToCurve(pk[:], alpha)
	if err != nil {
		return common.Hash{}, err
	}

	negC := new(edwards25519.Scalar).Negate(c)
	u := new(edwards25519.Point).VarTimeDoubleScalarBaseMult(negC, y, s)

	sH := new(edwards25519.Point).ScalarMult(s, hPoint)
	cGamma := new(edwards25519.Point).ScalarMult(c, gamma)
	v := new(edwards25519.Point).Subtract(sH, cGamma)

	expected := challenge(y, hPoint, gamma, u, v)
	if expected.Equal(c) != 1 {
		return common.Hash{}, ErrInvalidProof
	}
	return proofToHash(gamma), nil
}

// ProofToHash extracts the VRF output from a proof without verifying it.
// Only use on proofs that already passed Verify.
func ProofToHash(proof []byte) (common.Hash, error) {
	if len(proof) != ProofSize {
		return common.Hash{}, ErrInvalidProof
	}
	gamma, err := new(edwards25519.Point).SetBytes(proof[:32])
	if err != nil {
		return common.Hash{}, ErrInvalidProof
	}
	return proofToHash(gamma), nil
}

func proofToHash(gamma *edwards25519.Point) common.Hash {
	cleared := new(edwards25519.Point).MultByCofactor(gamma)
	h := sha512.New()
	h.Write([]byte{suiteID, 0x03})
	h.Write(cleared.Bytes())
	h.Write([]byte{0x00})
	return common.BytesToHash(h.Sum(nil)[:32])
}
