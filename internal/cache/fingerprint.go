package cache

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"hash"
	"math"
	"strings"
)

// Fingerprint identifies a synthesis request by content. It is the hex
// SHA-256 of the normalized request fields.
type Fingerprint string

// Key holds every field that changes the synthesized audio.
type Key struct {
	Provider string
	Text     string
	Voice    string
	Model    string
	Speed    float64
	Style    string
	Emotion  string
	Format   string

	// Instructions is the free-form prompt sent to models that accept one.
	Instructions string
}

// Fingerprint derives the cache key. Text is whitespace-normalized and
// identifiers are case-folded; each field is length-prefixed so adjacent
// fields cannot run together.
func (k Key) Fingerprint() Fingerprint {
	h := sha256.New()
	writeField(h, "v2")
	writeField(h, strings.ToLower(strings.TrimSpace(k.Provider)))
	writeField(h, NormalizeText(k.Text))
	writeField(h, strings.TrimSpace(k.Voice))
	writeField(h, strings.ToLower(strings.TrimSpace(k.Model)))

	var speed [8]byte
	binary.BigEndian.PutUint64(speed[:], math.Float64bits(normalizeSpeed(k.Speed)))
	h.Write(speed[:])

	writeField(h, strings.TrimSpace(k.Style))
	writeField(h, strings.ToLower(strings.TrimSpace(k.Emotion)))
	writeField(h, strings.ToLower(strings.TrimSpace(k.Format)))
	writeField(h, NormalizeText(k.Instructions))
	return Fingerprint(hex.EncodeToString(h.Sum(nil)))
}

// NormalizeText collapses whitespace runs to single spaces.
func NormalizeText(text string) string {
	return strings.Join(strings.Fields(text), " ")
}

func normalizeSpeed(speed float64) float64 {
	if speed <= 0 {
		return 1.0
	}
	return math.Round(speed*1000) / 1000
}

func writeField(h hash.Hash, s string) {
	var n [4]byte
	binary.BigEndian.PutUint32(n[:], uint32(len(s)))
	h.Write(n[:])
	h.Write([]byte(s))
}

// Valid reports whether f has the shape of a fingerprint. Only valid
// fingerprints are ever used as file names.
func (f Fingerprint) Valid() bool {
	if len(f) != sha256.Size*2 {
		return false
	}
	_, err := hex.DecodeString(string(f))
	return err == nil
}

// Short returns an abbreviated form for logs.
func (f Fingerprint) Short() string {
	if len(f) <= 12 {
		return string(f)
	}
	return string(f[:12])
}
