package config

import (
	"sort"
	"strings"
	"sync"

	"github.com/agnivade/levenshtein"
	"github.com/knadh/koanf/v2"
)

// KeyInfo contains metadata about a known configuration key.
type KeyInfo struct {
	Key         string      // The full config key path (e.g., "api.baseUrl")
	Description string      // Human-readable description of what this config does
	Type        string      // Type hint: "string", "int", "bool", "duration", "[]string", etc.
	Default     interface{} // Optional default value
}

var (
	registry   = make(map[string]KeyInfo)
	registryMu sync.RWMutex
)

// RegisterKeys registers configuration keys with their metadata.
func RegisterKeys(infos ...KeyInfo) {
	registryMu.Lock()
	defer registryMu.Unlock()
	for _, info := range infos {
		registry[info.Key] = info
	}
}

// LookupKey returns metadata for a registered config key.
func LookupKey(key string) (KeyInfo, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	info, exists := registry[key]
	return info, exists
}

// AllKeys returns all registered config keys sorted alphabetically.
func AllKeys() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()

	keys := make([]string, 0, len(registry))
	for k := range registry {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// ApplyDefaults sets the registered default for every key that has not been
// loaded from another source.
func ApplyDefaults(k *koanf.Koanf) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	for key, info := range registry {
		if info.Default != nil && !k.Exists(key) {
			_ = k.Set(key, info.Default)
		}
	}
}

// FindSimilarKeys finds registered keys that are similar to the given key.
// Returns up to maxResults keys sorted by similarity, most similar first.
// Keys within an edit distance of 3 are candidates, keys sharing the same
// namespace get a one point bonus.
func FindSimilarKeys(key string, maxResults int) []string {
	registryMu.RLock()
	defer registryMu.RUnlock()

	type scored struct {
		key   string
		score int // Lower is better
	}

	var candidates []scored
	keyPrefix := getPrefix(key)

	for registeredKey := range registry {
		if score := similarity(key, registeredKey, keyPrefix); score <= 3 {
			candidates = append(candidates, scored{registeredKey, score})
		}
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].score == candidates[j].score {
			return candidates[i].key < candidates[j].key
		}
		return candidates[i].score < candidates[j].score
	})

	result := make([]string, 0, maxResults)
	for i := 0; i < len(candidates) && i < maxResults; i++ {
		result = append(result, candidates[i].key)
	}
	return result
}

func similarity(key1, key2, key1Prefix string) int {
	distance := levenshtein.ComputeDistance(key1, key2)
	if key1Prefix != "" && key1Prefix == getPrefix(key2) && distance > 0 {
		distance--
	}
	return distance
}

// getPrefix extracts the namespace of a hierarchical key, "server" for
// "server.port".
func getPrefix(key string) string {
	lastDot := strings.LastIndex(key, ".")
	if lastDot == -1 {
		return ""
	}
	return key[:lastDot]
}
