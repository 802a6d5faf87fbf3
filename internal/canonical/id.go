package canonical

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
)

// idPattern matches a valid 64-character lowercase hex content id.
var idPattern = regexp.MustCompile(`^[a-f0-9]{64}$`)

// ID computes the content-addressed id of v: hex(sha256(canonical(v))).
//
// v should be the exact creation-inputs map that will be persisted for the
// entity; re-presenting identical inputs (including permuted map keys)
// resolves to the same id.
func ID(v any) (string, error) {
	data, err := Marshal(v)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// ShortID returns the display-length prefix of a full id.
func ShortID(id string) string {
	if len(id) < 8 {
		return id
	}
	return id[:8]
}

// ValidID reports whether id matches the 64-character lowercase hex form.
func ValidID(id string) bool {
	return idPattern.MatchString(id)
}
