package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
)

// FingerprintParams contains the request fields that determine cache identity.
// Two requests with the same fingerprint are considered interchangeable.
type FingerprintParams struct {
	Provider    string
	Model       string
	Prompt      string
	System      string
	Temperature *float64 // nil means not set
	MaxTokens   int
	UseCase     string
	Extra       map[string]string
}

// Fingerprinter generates deterministic cache keys from request parameters.
type Fingerprinter struct {
	// Prefix is prepended to all generated keys, for namespace isolation
	// when multiple deployments share a persistence backend.
	Prefix string
}

// NewFingerprinter creates a Fingerprinter with an optional key prefix.
func NewFingerprinter(prefix string) *Fingerprinter {
	return &Fingerprinter{Prefix: prefix}
}

// Fingerprint creates a SHA-256 hash key from the request parameters.
// The key format is: [prefix:]sha256(fields)
//
// Prompts are hashed exactly as given. Whitespace or formatting differences
// produce different keys on purpose: normalizing prompts risks conflating
// requests that providers would answer differently.
func (f *Fingerprinter) Fingerprint(params FingerprintParams) string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("provider:%s", params.Provider))
	sb.WriteString(fmt.Sprintf("|model:%s", params.Model))

	if params.Temperature != nil {
		sb.WriteString(fmt.Sprintf("|temp:%.2f", *params.Temperature))
	}
	if params.MaxTokens > 0 {
		sb.WriteString(fmt.Sprintf("|max_tokens:%d", params.MaxTokens))
	}
	if params.UseCase != "" {
		sb.WriteString(fmt.Sprintf("|use_case:%s", params.UseCase))
	}
	if params.System != "" {
		sb.WriteString(fmt.Sprintf("|system:%s", params.System))
	}
	sb.WriteString(fmt.Sprintf("|prompt:%s", params.Prompt))

	// Extra params in sorted key order so map iteration cannot change the key
	if len(params.Extra) > 0 {
		keys := make([]string, 0, len(params.Extra))
		for k := range params.Extra {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			sb.WriteString(fmt.Sprintf("|%s:%s", k, params.Extra[k]))
		}
	}

	hash := sha256.Sum256([]byte(sb.String()))
	hashHex := hex.EncodeToString(hash[:])

	if f.Prefix != "" {
		return f.Prefix + ":" + hashHex
	}
	return hashHex
}
