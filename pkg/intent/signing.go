// Copyright 2025 Certen Protocol
//
// Canonical Intent Signing - deterministic hashing and secp256k1
// signature verification over intents.
//
// Per spec §4.1, the signing hash must cover every execution-governing
// field and must be order-independent over excluded_venues. This is the
// trust boundary the matching engine and settlement manager both rely on:
// if a field can change without invalidating the signature, a solver or
// relayer could alter it in transit.

package intent

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"io"
	"sort"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"
)

// SigningHash computes the 32-byte canonical hash that is signed over.
// Field coverage and ordering are fixed by spec §4.1; changing either
// here is a breaking protocol change.
func SigningHash(in Intent) [32]byte {
	h := sha256.New()

	// 1. Identification
	h.Write([]byte(in.Version))
	writeU64LE(h, in.Nonce)
	h.Write([]byte(in.UserAddress))

	// 2. Input asset
	h.Write([]byte(in.Input.ChainID))
	h.Write([]byte(in.Input.Denom))
	writeU128LE(h, in.Input.Amount)

	// 3. Output specification
	h.Write([]byte(in.Output.ChainID))
	h.Write([]byte(in.Output.Denom))
	writeU128LE(h, in.Output.MinAmount)
	h.Write([]byte(in.Output.LimitPrice))
	h.Write([]byte(in.Output.Recipient))

	// 4. Fill configuration
	if in.FillConfig.AllowPartial {
		h.Write([]byte{1})
	} else {
		h.Write([]byte{0})
	}
	writeU128LE(h, in.FillConfig.MinFillAmount)
	h.Write([]byte(in.FillConfig.MinFillPct))
	writeU64LE(h, in.FillConfig.AggregationWindowMs)
	h.Write([]byte(in.FillConfig.Strategy.canonicalText()))

	// 5. Constraints
	writeU64LE(h, in.Constraints.Deadline)
	writeOptionalU64(h, optU64FromU32(in.Constraints.MaxHops))
	writeOptionalU64(h, optU64FromU32(in.Constraints.MaxSolverFeeBps))
	writeOptionalU64(h, in.Constraints.MaxBridgeTimeSecs)

	venues := sortedVenues(in.Constraints.ExcludedVenues)
	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(venues)))
	h.Write(lenBuf[:])
	for _, v := range venues {
		h.Write([]byte(v))
	}

	// 6. Cross-ecosystem flag
	if in.Constraints.AllowCrossEcosystem {
		h.Write([]byte{1})
	} else {
		h.Write([]byte{0})
	}

	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// sortedVenues returns a defensive copy of venues sorted ascending so
// that permuting the caller's slice never changes the signing hash
// (spec I2 / property P2).
func sortedVenues(venues []string) []string {
	out := make([]string, len(venues))
	copy(out, venues)
	sort.Strings(out)
	return out
}

func optU64FromU32(p *uint32) *uint64 {
	if p == nil {
		return nil
	}
	v := uint64(*p)
	return &v
}

func writeU64LE(w io.Writer, v uint64) {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], v)
	w.Write(buf[:])
}

func writeOptionalU64(w io.Writer, p *uint64) {
	if p == nil {
		w.Write([]byte{0})
		return
	}
	w.Write([]byte{1})
	writeU64LE(w, *p)
}

// writeU128LE writes a decimal amount as a little-endian 128-bit integer.
// Amounts in this system are always non-negative whole units; fractional
// decimals here indicate a caller bug, and are truncated defensively
// rather than causing the hash function to panic.
func writeU128LE(w io.Writer, amount decimal.Decimal) {
	bi := amount.BigInt()
	var buf [16]byte
	b := bi.Bytes()
	if len(b) > 16 {
		b = b[len(b)-16:]
	}
	// b is big-endian; reverse into buf to get little-endian.
	for i := 0; i < len(b); i++ {
		buf[i] = b[len(b)-1-i]
	}
	w.Write(buf[:])
}

// Sign computes the signing hash and produces a compact secp256k1
// signature plus the corresponding compressed public key. Used only by
// test and client tooling (spec §4.1); production intents arrive
// pre-signed.
func Sign(unsigned Intent, privateKey []byte) (Intent, error) {
	priv, err := crypto.ToECDSA(privateKey)
	if err != nil {
		return Intent{}, ErrInvalidSignature
	}

	hash := SigningHash(unsigned)
	sig, err := crypto.Sign(hash[:], priv)
	if err != nil {
		return Intent{}, err
	}

	signed := unsigned
	// Drop the recovery byte: verification here is by explicit public
	// key, not recovery, so only the 64-byte [R || S] is retained.
	signed.Signature = append([]byte(nil), sig[:64]...)
	signed.PublicKey = crypto.CompressPubkey(&priv.PublicKey)
	signed.ID = deriveID(hash)
	return signed, nil
}

// Verify checks an intent's signature against its own embedded public
// key. It is pure and deterministic: the same intent always verifies the
// same way.
func Verify(in Intent) error {
	if len(in.Signature) == 0 {
		return ErrMissingSignature
	}
	if len(in.PublicKey) == 0 {
		return ErrMissingPublicKey
	}
	if len(in.Signature) != 64 {
		return ErrInvalidSignature
	}

	pub, err := crypto.DecompressPubkey(in.PublicKey)
	if err != nil {
		return ErrInvalidPublicKey
	}

	hash := SigningHash(in)
	pubBytes := crypto.FromECDSAPub(pub)
	if !crypto.VerifySignature(pubBytes, hash[:], in.Signature) {
		return ErrVerificationFailed
	}
	return nil
}

func deriveID(hash [32]byte) string {
	return hex.EncodeToString(hash[:])
}
