// Package handshake implements the RTMP handshake: the complex HMAC-SHA256
// schema0/schema1 exchange, with fallback to the simple handshake when the
// client does not use the complex scheme.
package handshake

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"io"

	"github.com/AgustinSRG/go-live-rtmp/internal/transport"
)

const (
	c1c2Size = 1536
	c0Size   = 1

	schema0 = 0
	schema1 = 1
)

var (
	ErrBadC0 = errors.New("handshake: unsupported RTMP version in C0")
)

// GenuineFMSConst / GenuineFPConst are the fixed key material RTMP servers
// and clients use to sign the complex handshake digest, per the leaked
// Adobe specification.
var GenuineFMSConst = []byte{
	'G', 'e', 'n', 'u', 'i', 'n', 'e', ' ', 'A', 'd', 'o', 'b', 'e', ' ',
	'F', 'l', 'a', 's', 'h', ' ', 'M', 'e', 'd', 'i', 'a', ' ',
	'S', 'e', 'r', 'v', 'e', 'r', ' ', '0', '0', '1',
}

var GenuineFPConst = []byte{
	'G', 'e', 'n', 'u', 'i', 'n', 'e', ' ', 'A', 'd', 'o', 'b', 'e', ' ',
	'F', 'l', 'a', 's', 'h', ' ', 'P', 'l', 'a', 'y', 'e', 'r', ' ', '0', '0', '1',
}

var genuineFMSConstCrud = append(append([]byte{}, GenuineFMSConst...), randomCrud()...)

// randomCrud is the additional constant block appended to the FMS key when
// deriving the S2 temp key, per the leaked complex-handshake algorithm.
func randomCrud() []byte {
	return []byte{
		0xf0, 0xee, 0xc2, 0x4a, 0x80, 0x68, 0xbe, 0xe8, 0x2e, 0x00, 0xd0, 0xd1,
		0x02, 0x9e, 0x7e, 0x57, 0x6e, 0xec, 0x5d, 0x2d, 0x29, 0x80, 0x6f, 0xab,
		0x93, 0xb8, 0xe6, 0x36, 0xcf, 0xeb, 0x31, 0xae,
	}
}

func calcHmac(data, key []byte) []byte {
	h := hmac.New(sha256.New, key)
	h.Write(data)
	return h.Sum(nil)
}

// Result reports how the handshake completed, for logging/diagnostics.
type Result struct {
	Complex bool
}

// Perform runs the server side of the RTMP handshake over conn: reads
// C0+C1, attempts the complex scheme, falling back to the simple scheme on
// any validation failure, then reads C2 to conclude.
func Perform(conn transport.Conn) (Result, error) {
	c0c1 := make([]byte, c0Size+c1c2Size)
	if _, err := io.ReadFull(conn, c0c1); err != nil {
		return Result{}, err
	}

	if c0c1[0] != 0x03 {
		return Result{}, ErrBadC0
	}

	c1 := c0c1[c0Size:]

	s0s1s2, complex := buildServerResponse(c1)

	if _, err := conn.Write(s0s1s2); err != nil {
		return Result{}, err
	}

	c2 := make([]byte, c1c2Size)
	if _, err := io.ReadFull(conn, c2); err != nil {
		return Result{}, err
	}

	return Result{Complex: complex}, nil
}

// buildServerResponse inspects c1 and produces S0+S1+S2. It tries the
// complex schema0/schema1 validation first; on any failure it falls back to
// the simple handshake (plain echo).
func buildServerResponse(c1 []byte) ([]byte, bool) {
	schema, digestOffset, ok := detectClientSchema(c1)
	if !ok {
		return simpleS0S1S2(c1), false
	}

	clientDigest := c1[digestOffset : digestOffset+32]

	joined := make([]byte, 0, len(c1)-32)
	joined = append(joined, c1[:digestOffset]...)
	joined = append(joined, c1[digestOffset+32:]...)

	expected := calcHmac(joined, GenuineFPConst)
	if !hmac.Equal(expected, clientDigest) {
		return simpleS0S1S2(c1), false
	}

	return complexS0S1S2(schema, clientDigest), true
}

// detectClientSchema tries the schema0 then the schema1 digest position and
// returns the first whose 32-byte digest equals the HMAC-SHA256 of the rest
// of C1 keyed with GenuineFPConst.
func detectClientSchema(c1 []byte) (schema int, digestOffset int, ok bool) {
	for _, s := range []int{schema0, schema1} {
		off := digestBlockOffset(c1, s)
		if off < 0 || off+32 > len(c1) {
			continue
		}
		joined := make([]byte, 0, len(c1)-32)
		joined = append(joined, c1[:off]...)
		joined = append(joined, c1[off+32:]...)
		if hmac.Equal(calcHmac(joined, GenuineFPConst), c1[off:off+32]) {
			return s, off, true
		}
	}
	return 0, 0, false
}

// digestBlockOffset locates the 32-byte digest within the 764-byte
// digest-structure block for the given schema, using the standard
// sum-of-bytes-mod-728-plus-4 rule.
func digestBlockOffset(c1 []byte, schema int) int {
	var blockStart int
	if schema == schema0 {
		blockStart = 8 // time(4) + version(4), then 764-byte digest-structure
	} else {
		blockStart = 8 + 764 // time(4) + version(4) + 764-byte key-structure
	}

	if blockStart+764 > len(c1) {
		return -1
	}

	block := c1[blockStart : blockStart+764]

	sum := 0
	for i := 0; i < 4; i++ {
		sum += int(block[i])
	}
	offset := sum%728 + 4

	return blockStart + offset
}

func simpleS0S1S2(c1 []byte) []byte {
	result := make([]byte, 0, c0Size+c1c2Size*2)
	result = append(result, 0x03)

	s1 := make([]byte, c1c2Size)
	binary.BigEndian.PutUint32(s1[0:4], 0)
	binary.BigEndian.PutUint32(s1[4:8], 0)
	if _, err := rand.Read(s1[8:]); err != nil {
		// crypto/rand.Read on a fixed-size buffer does not fail in practice;
		// leaving zero bytes is harmless for a handshake nonce.
		_ = err
	}
	result = append(result, s1...)

	// S2 echoes C1 verbatim, as the simple handshake requires.
	result = append(result, c1...)

	return result
}

func complexS0S1S2(schema int, clientDigest []byte) []byte {
	result := make([]byte, 0, c0Size+c1c2Size*2)
	result = append(result, 0x03)

	s1 := make([]byte, c1c2Size)
	binary.BigEndian.PutUint32(s1[0:4], 0)
	binary.BigEndian.PutUint32(s1[4:8], 0x01000504)
	if _, err := rand.Read(s1[8:]); err != nil {
		_ = err
	}

	var digestOffset int
	if schema == schema0 {
		digestOffset = digestBlockOffset(s1, schema0)
	} else {
		digestOffset = digestBlockOffset(s1, schema1)
	}

	joined := make([]byte, 0, len(s1)-32)
	joined = append(joined, s1[:digestOffset]...)
	joined = append(joined, s1[digestOffset+32:]...)

	digest := calcHmac(joined, GenuineFMSConst)
	copy(s1[digestOffset:digestOffset+32], digest)

	result = append(result, s1...)

	s2 := make([]byte, c1c2Size)
	if _, err := rand.Read(s2); err != nil {
		_ = err
	}

	tempKey := calcHmac(clientDigest, genuineFMSConstCrud)
	s2Digest := calcHmac(s2[:c1c2Size-32], tempKey)
	copy(s2[c1c2Size-32:], s2Digest)

	result = append(result, s2...)

	return result
}
