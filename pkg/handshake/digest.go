package handshake

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/binary"
)

// DigestSize is the width of the keyed MAC the server computes over the
// client's connection timestamp.
const DigestSize = sha256.Size

// Digest is the 32-byte keyed MAC the server produces over a client's
// pre-connection timestamp. The client must echo it on every subsequent
// privileged packet; it functions as an unforgeable capability proving the
// holder completed the challenge with this server.
type Digest [DigestSize]byte

// Sign computes the digest for a timestamp under key. There is no
// ecosystem HMAC implementation among the retrieved reference repos, and
// HMAC-SHA256 is exactly what crypto/hmac exists for, so this is the one
// place the handshake reaches for the standard library instead of a
// third-party package.
func Sign(key []byte, timestamp int64) Digest {
	var ts [8]byte
	binary.BigEndian.PutUint64(ts[:], uint64(timestamp))

	mac := hmac.New(sha256.New, key)
	mac.Write(ts[:])

	var d Digest
	copy(d[:], mac.Sum(nil))
	return d
}

// Verify reports whether digest is the correct signature of timestamp under
// key, using a constant-time comparison.
func Verify(key []byte, timestamp int64, digest Digest) bool {
	want := Sign(key, timestamp)
	return hmac.Equal(want[:], digest[:])
}
