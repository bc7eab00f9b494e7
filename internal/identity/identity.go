// Package identity maintains the process-wide set of owner identities
// (spec.md §4.9): the (channel_type, identifier) pairs a channel checks
// an inbound sender against before creating a task. It normalizes email
// addresses and Nostr public keys into one canonical form so a
// bech32-encoded npub and its hex equivalent compare equal, and reloads
// the set when the owning environment/config mutates.
package identity

import (
	"encoding/hex"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/nbd-wtf/go-nostr/nip19"

	"agentcore/pkg/logger"
)

// Set is the authorized owner identities for one process, split by the
// channel they gate. Safe for concurrent use; Reload atomically replaces
// the whole set so readers never observe a partially-updated one.
type Set struct {
	mu       sync.RWMutex
	emails   map[string]struct{}
	pubkeys  map[string]struct{} // always stored hex, lowercase
	sysGmail string
}

// New builds an empty Set. Call Reload (or ReloadFromEnv) to populate it.
func New() *Set {
	return &Set{emails: map[string]struct{}{}, pubkeys: map[string]struct{}{}}
}

// Reload atomically replaces the owner set from raw, unnormalized input.
// pubkeys may be hex or bech32 (npub); both forms of the same key
// normalize to the same stored entry.
func Reload(s *Set, emails, pubkeys []string, systemAIGmail string) {
	newEmails := make(map[string]struct{}, len(emails))
	for _, e := range emails {
		if n := NormalizeEmail(e); n != "" {
			newEmails[n] = struct{}{}
		}
	}

	newPubkeys := make(map[string]struct{}, len(pubkeys))
	for _, p := range pubkeys {
		hex, err := NormalizePubkey(p)
		if err != nil {
			logger.Warn().Err(err).Str("pubkey", p).Msg("identity: skipping malformed owner pubkey")
			continue
		}
		newPubkeys[hex] = struct{}{}
	}

	s.mu.Lock()
	s.emails = newEmails
	s.pubkeys = newPubkeys
	s.sysGmail = NormalizeEmail(systemAIGmail)
	s.mu.Unlock()
}

// ReloadFromEnv re-reads OWNER_EMAILS, OWNER_NOSTR_PUBKEYS, and
// SYSTEM_AI_GMAIL (spec.md §6) and reloads the set. Wired to the config
// watcher's fsnotify callback since plain process environment variables
// cannot be watched directly.
func ReloadFromEnv(s *Set) {
	Reload(s,
		splitCSV(os.Getenv("OWNER_EMAILS")),
		splitCSV(os.Getenv("OWNER_NOSTR_PUBKEYS")),
		os.Getenv("SYSTEM_AI_GMAIL"),
	)
}

func splitCSV(v string) []string {
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}

// IsOwnerEmail reports whether addr (in any header casing/angle-bracket
// form) normalizes to a registered owner email.
func (s *Set) IsOwnerEmail(addr string) bool {
	n := NormalizeEmail(addr)
	if n == "" {
		return false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.emails[n]
	return ok
}

// IsOwnerPubkey reports whether pubkey (hex or bech32 npub) normalizes
// to a registered owner Nostr key.
func (s *Set) IsOwnerPubkey(pubkey string) bool {
	hex, err := NormalizePubkey(pubkey)
	if err != nil {
		return false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.pubkeys[hex]
	return ok
}

// SystemAIGmail returns the configured system-AI Gmail address, or ""
// if unset.
func (s *Set) SystemAIGmail() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sysGmail
}

// NormalizeEmail strips angle brackets and surrounding whitespace and
// lowercases the result, matching spec.md §4.3's "strip <>, lowercase"
// owner-gate normalization.
func NormalizeEmail(addr string) string {
	addr = strings.TrimSpace(addr)
	addr = strings.TrimPrefix(addr, "<")
	addr = strings.TrimSuffix(addr, ">")
	return strings.ToLower(strings.TrimSpace(addr))
}

// NormalizePubkey converts a Nostr public key, in either hex or bech32
// npub form, to lowercase hex. Returns an error if pubkey is neither.
func NormalizePubkey(pubkey string) (string, error) {
	pubkey = strings.TrimSpace(pubkey)
	if strings.HasPrefix(pubkey, "npub1") {
		_, data, err := nip19.Decode(pubkey)
		if err != nil {
			return "", err
		}
		hex, _ := data.(string)
		return strings.ToLower(hex), nil
	}
	pubkey = strings.ToLower(pubkey)
	if _, err := hex.DecodeString(pubkey); err != nil || len(pubkey) != 64 {
		return "", fmt.Errorf("identity: pubkey %q is neither 64-char hex nor npub", pubkey)
	}
	return pubkey, nil
}
