package core

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
)

// maxAdvisoryLockID is 2^63 - 1, the modulus that keeps the result inside
// Postgres' signed bigint advisory-lock key space.
const maxAdvisoryLockID uint64 = (1 << 63) - 1

// AdvisoryLockID computes the deterministic 63-bit lock id for a
// (document_id, stage_name) pair: the first 8 bytes of
// SHA-256("{document_id}:{stage_name}") read as a big-endian unsigned
// integer, reduced modulo 2^63-1. Equal inputs always yield equal ids.
func AdvisoryLockID(documentID string, stage Stage) int64 {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s:%s", documentID, stage)))
	raw := binary.BigEndian.Uint64(sum[:8])
	return int64(raw % maxAdvisoryLockID)
}
