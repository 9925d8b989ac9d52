// Package updater implements a signify-compatible signing layer, a signed
// manifest format, a hardened HTTPS fetcher, and the update controller that
// sequences check, download, verify and install for a self-updating desktop
// application.
package updater

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/base64"
)

// Wire layout constants for the signify-compatible key and signature
// encodings. Lengths are decoded-byte counts, not base64 text lengths.
const (
	publicKeyLen = 42  // 2 (algo) + 8 (key-number) + 32 (ed25519 public key)
	secretKeyLen = 104 // 2 (algo) + 2 (kdf algo) + 4 (kdf rounds) + 16 (salt) + 8 (checksum) + 8 (key-number) + 64 (ed25519 secret key)
	signatureLen = 74  // 2 (algo) + 8 (key-number) + 64 (ed25519 signature)
	keyNumberLen = 8
	algoTagLen   = 2
	saltLen      = 16
	checksumLen  = 8
	kdfAlgoLen   = 2
	kdfRoundsLen = 4

	prefixMatchLen = algoTagLen + keyNumberLen // first 10 bytes used to bind a signature to a key
)

var algoEd = [algoTagLen]byte{'E', 'd'}

// Signer performs Ed25519 signing and verification over signify-format keys
// and signatures. It holds no state; every operation is a pure function of
// its arguments.
type Signer struct{}

// NewSigner returns a Signer. It is stateless and safe for concurrent use.
func NewSigner() *Signer { return &Signer{} }

// GenerateKeyPair samples a fresh 8-byte key-number and Ed25519 key pair and
// returns both halves base64-encoded in signify wire format.
func (s *Signer) GenerateKeyPair() (publicKeyB64, secretKeyB64 string, err error) {
	keyNum := make([]byte, keyNumberLen)
	if _, err = rand.Read(keyNum); err != nil {
		return "", "", newError(KindBadLength, "GenerateKeyPair", err)
	}

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return "", "", newError(KindBadLength, "GenerateKeyPair", err)
	}

	pubBuf := make([]byte, 0, publicKeyLen)
	pubBuf = append(pubBuf, algoEd[:]...)
	pubBuf = append(pubBuf, keyNum...)
	pubBuf = append(pubBuf, pub...)

	checksum := sha512.Sum512(priv)

	secBuf := make([]byte, 0, secretKeyLen)
	secBuf = append(secBuf, algoEd[:]...)
	secBuf = append(secBuf, 0x00, 0x00) // unencrypted KDF
	secBuf = append(secBuf, 0x00, 0x00, 0x00, 0x00) // 0 rounds
	salt := make([]byte, saltLen)
	if _, err = rand.Read(salt); err != nil {
		return "", "", newError(KindBadLength, "GenerateKeyPair", err)
	}
	secBuf = append(secBuf, salt...)
	secBuf = append(secBuf, checksum[:checksumLen]...)
	secBuf = append(secBuf, keyNum...)
	secBuf = append(secBuf, priv...)

	return base64.StdEncoding.EncodeToString(pubBuf), base64.StdEncoding.EncodeToString(secBuf), nil
}

// Sign signs the UTF-8 bytes of text with secretKeyB64 and returns the
// signify-format base64 signature.
func (s *Signer) Sign(secretKeyB64, text string) (string, error) {
	const op = "Sign"

	raw, err := base64.StdEncoding.DecodeString(secretKeyB64)
	if err != nil {
		return "", newError(KindBadLength, op, err)
	}
	priv, keyNum, err := parseSecretKey(raw)
	if err != nil {
		return "", err
	}

	sig := ed25519.Sign(priv, []byte(text))

	buf := make([]byte, 0, signatureLen)
	buf = append(buf, algoEd[:]...)
	buf = append(buf, keyNum...)
	buf = append(buf, sig...)

	return base64.StdEncoding.EncodeToString(buf), nil
}

// Verify decodes signatureB64 and scans publicKeysB64 for the first key
// whose 10-byte algorithm+key-number prefix matches the signature, then
// verifies the Ed25519 signature against the UTF-8 bytes of text.
func (s *Signer) Verify(publicKeysB64 []string, signatureB64, text string) error {
	const op = "Verify"

	rawSig, err := base64.StdEncoding.DecodeString(signatureB64)
	if err != nil {
		return newError(KindBadLength, op, err)
	}
	if len(rawSig) != signatureLen {
		return newError(KindBadLength, op, nil)
	}
	if rawSig[0] != algoEd[0] || rawSig[1] != algoEd[1] {
		return newError(KindUnknownAlgorithm, op, nil)
	}
	sigPrefix := rawSig[:prefixMatchLen]
	sig := rawSig[prefixMatchLen:]

	var matched ed25519.PublicKey
	for _, pkB64 := range publicKeysB64 {
		rawPK, err := base64.StdEncoding.DecodeString(pkB64)
		if err != nil || len(rawPK) != publicKeyLen {
			continue
		}
		if rawPK[0] != algoEd[0] || rawPK[1] != algoEd[1] {
			continue
		}
		if subtle.ConstantTimeCompare(rawPK[:prefixMatchLen], sigPrefix) == 1 {
			matched = ed25519.PublicKey(rawPK[prefixMatchLen:])
			break
		}
	}
	if matched == nil {
		return newError(KindNoMatchingKey, op, nil)
	}

	if !ed25519.Verify(matched, []byte(text), sig) {
		return newError(KindInvalidSignature, op, nil)
	}
	return nil
}

// parseSecretKey validates and decomposes a signify secret key, returning
// the Ed25519 private key and its 8-byte key-number.
func parseSecretKey(raw []byte) (ed25519.PrivateKey, []byte, error) {
	const op = "parseSecretKey"

	if len(raw) < secretKeyLen {
		return nil, nil, newError(KindBadLength, op, nil)
	}
	if raw[0] != algoEd[0] || raw[1] != algoEd[1] {
		return nil, nil, newError(KindUnknownAlgorithm, op, nil)
	}
	kdfAlgo := raw[algoTagLen : algoTagLen+kdfAlgoLen]
	if kdfAlgo[0] != 0x00 || kdfAlgo[1] != 0x00 {
		return nil, nil, newError(KindUnsupportedKDF, op, nil)
	}

	checksumOffset := algoTagLen + kdfAlgoLen + kdfRoundsLen + saltLen
	checksum := raw[checksumOffset : checksumOffset+checksumLen]
	keyNumOffset := checksumOffset + checksumLen
	keyNum := raw[keyNumOffset : keyNumOffset+keyNumberLen]
	privOffset := keyNumOffset + keyNumberLen
	priv := ed25519.PrivateKey(raw[privOffset : privOffset+ed25519.PrivateKeySize])

	want := sha512.Sum512(priv)
	if subtle.ConstantTimeCompare(want[:checksumLen], checksum) != 1 {
		return nil, nil, newError(KindChecksumMismatch, op, nil)
	}

	return priv, keyNum, nil
}
