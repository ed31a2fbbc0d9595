package microdata

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/refinio/one-core/recipe"
)

// ContentHash is the SHA-256 of the full canonical microdata encoding of
// obj (all declared rules, spec §3 Hash / "H"). Two objects with identical
// field values hash identically regardless of construction order, because
// Encode sorts Bag/Set/Map children and walks rules in declared order.
func ContentHash(obj Object, reg *recipe.Registry) (string, error) {
	s, err := Encode(obj, reg, false)
	if err != nil {
		return "", err
	}
	return hashString(s), nil
}

// IDHash is the SHA-256 of the id-only encoding of obj (data-id-object="true"
// frame, only isId rules, spec §3 Hash / "Hᵢ"). IDHash always differs from
// ContentHash for the same object because the frame's data-id-object
// attribute is part of the hashed text even when every non-id rule happens
// to be absent (spec §8 property 4).
func IDHash(obj Object, reg *recipe.Registry) (string, error) {
	s, err := Encode(obj, reg, true)
	if err != nil {
		return "", err
	}
	return hashString(s), nil
}

func hashString(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}
