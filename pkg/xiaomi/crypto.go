package xiaomi

import (
	"crypto/rand"
	"crypto/rc4"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"net/url"
	"time"
)

const (
	nonceRandomSize = 8
	rc4DropSize     = 1024
)

// GenNonce returns 8 random bytes followed by the big-endian minute count
// since the Unix epoch.
func GenNonce() []byte {
	return genNonce(time.Now())
}

func genNonce(now time.Time) []byte {
	nonce := make([]byte, nonceRandomSize+4)
	_, _ = rand.Read(nonce[:nonceRandomSize])
	binary.BigEndian.PutUint32(nonce[nonceRandomSize:], uint32(now.Unix()/60))
	return nonce
}

// GenSignedNonce derives the per-request key SHA256(ssecurity || nonce).
func GenSignedNonce(ssecurity, nonce []byte) []byte {
	h := sha256.New()
	h.Write(ssecurity)
	h.Write(nonce)
	return h.Sum(nil)
}

// Crypt applies RC4 keyed by key after discarding the first 1024 keystream
// bytes. Encryption and decryption are the same operation.
func Crypt(key, plaintext []byte) ([]byte, error) {
	cipher, err := rc4.NewCipher(key)
	if err != nil {
		return nil, err
	}

	drop := make([]byte, rc4DropSize)
	cipher.XORKeyStream(drop, drop)

	out := make([]byte, len(plaintext))
	cipher.XORKeyStream(out, plaintext)
	return out, nil
}

// GenSignature64 signs METHOD&PATH&data=<data>[&rc4_hash__=<hash>]&<b64(signedNonce)>
// with SHA-1 and returns the base64 digest.
func GenSignature64(method, path string, values url.Values, signedNonce []byte) string {
	s := method + "&" + path + "&data=" + values.Get("data")
	if values.Has("rc4_hash__") {
		s += "&rc4_hash__=" + values.Get("rc4_hash__")
	}
	s += "&" + base64.StdEncoding.EncodeToString(signedNonce)

	sum := sha1.Sum([]byte(s))
	return base64.StdEncoding.EncodeToString(sum[:])
}
