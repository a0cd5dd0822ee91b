package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
)

// HashToCurve maps a message onto a point on the curve by repeatedly
// hashing until the resulting point is valid.
func HashToCurve(message []byte) (*secp256k1.PublicKey, error) {
	var point *secp256k1.PublicKey

	hash := sha256.Sum256(message)
	for {
		pkhash := append([]byte{0x02}, hash[:]...)
		var err error
		point, err = secp256k1.ParsePubKey(pkhash)
		if err == nil && point.IsOnCurve() {
			break
		}
		hash = sha256.Sum256(hash[:])
	}
	return point, nil
}

// BlindMessage blinds secret with a blinding factor r, generating one
// at random if r is nil, and returns B_ = Y + rG along with r.
func BlindMessage(secret string, blindingFactor *secp256k1.PrivateKey) (*secp256k1.PublicKey, *secp256k1.PrivateKey, error) {
	var ypoint, rpoint, blindedMessage secp256k1.JacobianPoint

	Y, err := HashToCurve([]byte(secret))
	if err != nil {
		return nil, nil, err
	}
	Y.AsJacobian(&ypoint)

	r := blindingFactor
	if r == nil {
		r, err = GenerateBlindingFactor()
		if err != nil {
			return nil, nil, err
		}
	}
	rpub := r.PubKey()
	rpub.AsJacobian(&rpoint)

	// B_ = Y + rG
	secp256k1.AddNonConst(&ypoint, &rpoint, &blindedMessage)
	blindedMessage.ToAffine()
	B_ := secp256k1.NewPublicKey(&blindedMessage.X, &blindedMessage.Y)

	return B_, r, nil
}

// GenerateBlindingFactor returns a random scalar suitable for use as r.
func GenerateBlindingFactor() (*secp256k1.PrivateKey, error) {
	var b [32]byte
	if _, err := rand.Read(b[:]); err != nil {
		return nil, err
	}
	r, _ := btcec.PrivKeyFromBytes(b[:])
	return r, nil
}

// SignBlindedMessage is the mint-side signing operation C_ = kB_.
// Kept here because DLEQ verification needs to reproduce it.
func SignBlindedMessage(B_ *secp256k1.PublicKey, k *secp256k1.PrivateKey) *secp256k1.PublicKey {
	var bpoint, result secp256k1.JacobianPoint
	B_.AsJacobian(&bpoint)

	secp256k1.ScalarMultNonConst(&k.Key, &bpoint, &result)
	result.ToAffine()
	return secp256k1.NewPublicKey(&result.X, &result.Y)
}

// UnblindSignature computes C = C_ - rK and returns it hex-encoded,
// ready to be stored in a Proof.
func UnblindSignature(C_hex string, r *secp256k1.PrivateKey, K *secp256k1.PublicKey) (string, error) {
	C_bytes, err := hex.DecodeString(C_hex)
	if err != nil {
		return "", fmt.Errorf("invalid blind signature: %v", err)
	}
	C_, err := secp256k1.ParsePubKey(C_bytes)
	if err != nil {
		return "", err
	}

	var Kpoint, rKPoint, CPoint secp256k1.JacobianPoint
	K.AsJacobian(&Kpoint)

	var rNeg secp256k1.ModNScalar
	rNeg.NegateVal(&r.Key)
	secp256k1.ScalarMultNonConst(&rNeg, &Kpoint, &rKPoint)

	var C_Point secp256k1.JacobianPoint
	C_.AsJacobian(&C_Point)
	secp256k1.AddNonConst(&C_Point, &rKPoint, &CPoint)
	CPoint.ToAffine()

	C := secp256k1.NewPublicKey(&CPoint.X, &CPoint.Y)
	return hex.EncodeToString(C.SerializeCompressed()), nil
}

// Verify checks k * HashToCurve(secret) == C given the mint's private
// key k; only the tests call it.
func Verify(secret []byte, k *secp256k1.PrivateKey, C *secp256k1.PublicKey) bool {
	var Ypoint, result secp256k1.JacobianPoint
	Y, err := HashToCurve(secret)
	if err != nil {
		return false
	}
	Y.AsJacobian(&Ypoint)

	secp256k1.ScalarMultNonConst(&k.Key, &Ypoint, &result)
	result.ToAffine()
	pk := secp256k1.NewPublicKey(&result.X, &result.Y)

	return C.IsEqual(pk)
}

// hashE implements the NUT-12 Fiat-Shamir challenge
// e = sha256(R1 || R2 || A || C_), where each point is concatenated as
// the hex string of its uncompressed serialization, used when
// verifying a DLEQ proof.
func hashE(points ...*secp256k1.PublicKey) *secp256k1.PrivateKey {
	var e_ string
	for _, p := range points {
		e_ += hex.EncodeToString(p.SerializeUncompressed())
	}
	sum := sha256.Sum256([]byte(e_))
	return secp256k1.PrivKeyFromBytes(sum[:])
}

// VerifyDLEQ verifies a NUT-12 DLEQ proof (e, s) for the statement
// that the same scalar k satisfies both C_ = kB_ and A = kG:
//
//	R1 = sG  - eA
//	R2 = sB_ - eC_
//	e' = hashE(R1, R2, A, C_)
//	valid iff e' == e
func VerifyDLEQ(e, s *secp256k1.PrivateKey, A, B_, C_ *secp256k1.PublicKey) bool {
	var sG, eA, R1 secp256k1.JacobianPoint
	scalarMultBase(&s.Key, &sG)
	scalarMult(&e.Key, A, &eA)
	subPoints(&sG, &eA, &R1)

	var sB_, eC_, R2 secp256k1.JacobianPoint
	scalarMult(&s.Key, B_, &sB_)
	scalarMult(&e.Key, C_, &eC_)
	subPoints(&sB_, &eC_, &R2)

	R1.ToAffine()
	R2.ToAffine()
	R1pub := secp256k1.NewPublicKey(&R1.X, &R1.Y)
	R2pub := secp256k1.NewPublicKey(&R2.X, &R2.Y)

	computed := hashE(R1pub, R2pub, A, C_)
	return computed.Key.Equals(&e.Key)
}

func scalarMultBase(k *secp256k1.ModNScalar, result *secp256k1.JacobianPoint) {
	secp256k1.ScalarBaseMultNonConst(k, result)
}

func scalarMult(k *secp256k1.ModNScalar, point *secp256k1.PublicKey, result *secp256k1.JacobianPoint) {
	var p secp256k1.JacobianPoint
	point.AsJacobian(&p)
	secp256k1.ScalarMultNonConst(k, &p, result)
}

func subPoints(a, b *secp256k1.JacobianPoint, result *secp256k1.JacobianPoint) {
	var negB secp256k1.JacobianPoint
	negB.X.Set(&b.X)
	negB.Y.Negate(&b.Y, 1)
	negB.Y.Normalize()
	negB.Z.Set(&b.Z)
	secp256k1.AddNonConst(a, &negB, result)
}

// MapPubKeys turns a hex-encoded keyset key map (as returned on the wire
// by a mint) into parsed public keys.
func MapPubKeys(keys map[uint64]string) (map[uint64]*secp256k1.PublicKey, error) {
	pubkeys := make(map[uint64]*secp256k1.PublicKey, len(keys))
	for amount, key := range keys {
		b, err := hex.DecodeString(key)
		if err != nil {
			return nil, fmt.Errorf("invalid public key for amount %d: %v", amount, err)
		}
		pk, err := secp256k1.ParsePubKey(b)
		if err != nil {
			return nil, fmt.Errorf("invalid public key for amount %d: %v", amount, err)
		}
		pubkeys[amount] = pk
	}
	return pubkeys, nil
}
