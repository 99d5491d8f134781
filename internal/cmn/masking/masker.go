package masking

import (
	"cmp"
	"slices"
	"strings"
	"sync"

	"github.com/joho/godotenv"
)

const (
	// DefaultMaskString is the replacement for masked values.
	DefaultMaskString = "*******"
	// DefaultMinLength is the minimum value length to mask.
	DefaultMinLength = 3
)

// Masker redacts registered secret values from text. It is safe for
// concurrent use; secrets can be added while contexts are logging.
type Masker struct {
	mu     sync.RWMutex
	values []string // longest first
	seen   map[string]struct{}
}

// NewMasker creates a masker pre-loaded with values.
func NewMasker(values ...string) *Masker {
	m := &Masker{seen: make(map[string]struct{})}
	m.Add(values...)
	return m
}

// Add registers more secret values. Values shorter than DefaultMinLength are
// ignored to avoid masking common substrings.
func (m *Masker) Add(values ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	changed := false
	for _, v := range values {
		if len(v) < DefaultMinLength {
			continue
		}
		if _, ok := m.seen[v]; ok {
			continue
		}
		m.seen[v] = struct{}{}
		m.values = append(m.values, v)
		changed = true
	}
	if changed {
		// Longest first so a secret containing another is replaced whole.
		slices.SortFunc(m.values, func(a, b string) int {
			return cmp.Compare(len(b), len(a))
		})
	}
}

// LoadEnvFile registers every value of a dotenv file as a secret.
func (m *Masker) LoadEnvFile(path string) error {
	env, err := godotenv.Read(path)
	if err != nil {
		return err
	}
	values := make([]string, 0, len(env))
	for _, v := range env {
		values = append(values, v)
	}
	m.Add(values...)
	return nil
}

// Filter replaces every registered secret in text.
func (m *Masker) Filter(text string) string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.values) == 0 {
		return text
	}
	for _, v := range m.values {
		text = strings.ReplaceAll(text, v, DefaultMaskString)
	}
	return text
}

// Len returns the number of registered secrets.
func (m *Masker) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.values)
}
