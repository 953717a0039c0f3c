package escalation

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
	"time"
)

// #region buckets

// TimeBucket returns the coarse UTC time-of-day bucket.
func TimeBucket(now time.Time) string {
	switch h := now.UTC().Hour(); {
	case h >= 6 && h < 12:
		return "morning"
	case h >= 12 && h < 18:
		return "afternoon"
	default:
		return "night"
	}
}

// ErrorRegime buckets a recent failure rate.
func ErrorRegime(rate float64) string {
	switch {
	case rate < 0.05:
		return "low"
	case rate < 0.15:
		return "medium"
	default:
		return "high"
	}
}

// #endregion buckets

// #region fingerprint

// ContextFingerprint hashes the health snapshot (sorted by resource), the
// time-of-day bucket and the error regime. Same inputs, same fingerprint.
func ContextFingerprint(snapshot map[string]string, now time.Time, errorRate float64) string {
	keys := make([]string, 0, len(snapshot))
	for k := range snapshot {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(snapshot[k])
		b.WriteByte(0)
	}
	b.WriteString("tod=")
	b.WriteString(TimeBucket(now))
	b.WriteByte(0)
	b.WriteString("err=")
	b.WriteString(ErrorRegime(errorRate))

	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

// #endregion fingerprint
