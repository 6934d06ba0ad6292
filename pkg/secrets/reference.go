package secrets

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// referencePrefix marks vault references so they are recognizable in
// connection records and logs.
const referencePrefix = "tgref:"

// deriveReference returns the opaque reference for (scope, key): an
// HMAC-SHA256 over the tuple under the vault's reference key. The same
// (scope, key) always yields the same reference, so re-registration is
// idempotent, and without the key the reference is non-forgeable.
func deriveReference(refKey []byte, scope Scope, key string) string {
	mac := hmac.New(sha256.New, refKey)
	// NUL separators keep ("ab","c") and ("a","bc") from colliding.
	mac.Write([]byte(scope.OrganizationID))
	mac.Write([]byte{0})
	mac.Write([]byte(scope.EnvironmentID))
	mac.Write([]byte{0})
	mac.Write([]byte(key))
	return referencePrefix + hex.EncodeToString(mac.Sum(nil))
}

// IsReference reports whether s looks like a vault reference.
func IsReference(s string) bool {
	return strings.HasPrefix(s, referencePrefix)
}
