package chat

import (
	"strconv"
	"sync/atomic"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

const (
	idSuffixAlphabet = "0123456789abcdefghijklmnopqrstuvwxyz"
	idSuffixLen      = 6
)

var idFallbackSeq atomic.Uint64

// NewSessionID returns "<unix millis>-<random suffix>". The millisecond
// prefix keeps ids roughly creation-ordered; the suffix keeps two sessions
// created in the same millisecond apart.
func NewSessionID(now time.Time) string {
	prefix := strconv.FormatInt(now.UnixMilli(), 10)
	suffix, err := gonanoid.Generate(idSuffixAlphabet, idSuffixLen)
	if err != nil {
		suffix = "s" + strconv.FormatUint(idFallbackSeq.Add(1), 36)
	}
	return prefix + "-" + suffix
}
