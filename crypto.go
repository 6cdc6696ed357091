package idydb

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"

	"golang.org/x/crypto/pbkdf2"
)

// Encrypted container layout (byte-exact):
//
//	[0..8)   magic "IDYDBENC"
//	[8..12)  version u32 LE (= 1)
//	[12..16) pbkdf2 iterations u32 LE
//	[16..32) salt (16 bytes)
//	[32..44) IV (12 bytes)
//	[44..52) plaintext length u64 LE
//	[52..68) GCM tag (16 bytes)
//	[68..)   ciphertext (plaintext length bytes)
//
// The additional authenticated data is the literal 52-byte pre-tag prefix;
// it is serialized once and handed to both seal and open.
const (
	encMagic   = "IDYDBENC"
	encVersion = 1

	encSaltLen = 16
	encIVLen   = 12
	encTagLen  = 16
	encKeyLen  = 32

	encHeaderLen = len(encMagic) + 4 + 4 + encSaltLen + encIVLen + 8 + encTagLen
	encAADLen    = encHeaderLen - encTagLen

	// Default and permitted PBKDF2 iteration counts. The bounds are part of
	// the threat model: an attacker-controlled header must not be able to
	// request a zero-cost or unbounded KDF.
	encDefaultPBKDF2Iter = 200000
	encMinPBKDF2Iter     = 10000
	encMaxPBKDF2Iter     = 5000000
)

func cryptoIterOK(iter uint32) bool {
	return iter >= encMinPBKDF2Iter && iter <= encMaxPBKDF2Iter
}

// deriveKey runs PBKDF2-HMAC-SHA256 over the passphrase. The iteration count
// must already have passed cryptoIterOK.
func deriveKey(passphrase string, salt []byte, iter uint32) []byte {
	return pbkdf2.Key([]byte(passphrase), salt, int(iter), encKeyLen, sha256.New)
}

// wipe zeroes key material in place.
func wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// isEncryptedHeader reports whether b begins with the encrypted container
// magic.
func isEncryptedHeader(b []byte) bool {
	return len(b) >= len(encMagic) && string(b[:len(encMagic)]) == encMagic
}

// sealContainer encrypts plain under key and returns the complete container
// bytes (header plus ciphertext) with a freshly generated IV.
func sealContainer(key, salt []byte, iter uint32, plain []byte) ([]byte, error) {
	if len(key) != encKeyLen || len(salt) != encSaltLen {
		return nil, errors.New("bad key or salt length")
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	hdr := make([]byte, encHeaderLen)
	copy(hdr, encMagic)
	putU32(hdr[8:], encVersion)
	putU32(hdr[12:], iter)
	copy(hdr[16:], salt)
	iv := hdr[32 : 32+encIVLen]
	if _, err := rand.Read(iv); err != nil {
		return nil, fmt.Errorf("generate IV: %w", err)
	}
	putU64(hdr[44:], uint64(len(plain)))

	sealed := gcm.Seal(nil, iv, plain, hdr[:encAADLen])
	ciphertext := sealed[:len(sealed)-encTagLen]
	copy(hdr[encAADLen:], sealed[len(sealed)-encTagLen:])

	out := make([]byte, 0, encHeaderLen+len(ciphertext))
	out = append(out, hdr...)
	out = append(out, ciphertext...)
	return out, nil
}

// openContainer authenticates and decrypts a complete container. It returns
// the plaintext together with the salt, iteration count, and derived key so
// the handle can re-encrypt under the same parameters at close. No plaintext
// byte is produced unless the tag verifies.
func openContainer(raw []byte, passphrase string) (plain, key []byte, salt []byte, iter uint32, err error) {
	if len(raw) < encHeaderLen || !isEncryptedHeader(raw) {
		return nil, nil, nil, 0, errors.New("not an encrypted container")
	}
	if getU32(raw[8:]) != encVersion {
		return nil, nil, nil, 0, errors.New("unsupported container version")
	}
	iter = getU32(raw[12:])
	if !cryptoIterOK(iter) {
		return nil, nil, nil, 0, errors.New("pbkdf2 iteration count out of bounds")
	}
	salt = append([]byte(nil), raw[16:16+encSaltLen]...)
	iv := raw[32 : 32+encIVLen]
	plainLen := getU64(raw[44:])
	if uint64(len(raw)-encHeaderLen) < plainLen {
		return nil, nil, nil, 0, errors.New("truncated ciphertext")
	}
	ciphertext := raw[encHeaderLen : encHeaderLen+int(plainLen)]
	tag := raw[encAADLen:encHeaderLen]

	key = deriveKey(passphrase, salt, iter)
	block, err := aes.NewCipher(key)
	if err != nil {
		wipe(key)
		return nil, nil, nil, 0, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		wipe(key)
		return nil, nil, nil, 0, err
	}

	sealed := make([]byte, 0, len(ciphertext)+encTagLen)
	sealed = append(sealed, ciphertext...)
	sealed = append(sealed, tag...)
	plain, err = gcm.Open(nil, iv, sealed, raw[:encAADLen])
	if err != nil {
		wipe(key)
		return nil, nil, nil, 0, errors.New("authentication failed")
	}
	return plain, key, salt, iter, nil
}
