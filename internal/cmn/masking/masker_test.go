package masking

import (
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMaskerFilter(t *testing.T) {
	tests := []struct {
		name    string
		secrets []string
		input   string
		want    string
	}{
		{"NoSecrets", nil, "plain text", "plain text"},
		{"Single", []string{"s3cret"}, "token=s3cret", "token=*******"},
		{"Repeated", []string{"abc"}, "abc-abc", "*******-*******"},
		{"ShortIgnored", []string{"ab"}, "ab ab", "ab ab"},
		{"LongestFirst", []string{"pass", "password1"}, "password1 pass", "******* *******"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			m := NewMasker(tc.secrets...)
			assert.Equal(t, tc.want, m.Filter(tc.input))
		})
	}
}

func TestMaskerAddDeduplicates(t *testing.T) {
	m := NewMasker("secret", "secret")
	m.Add("secret", "other-secret")
	assert.Equal(t, 2, m.Len())
}

func TestMaskerConcurrentAdd(t *testing.T) {
	m := NewMasker()
	var wg sync.WaitGroup
	for _, v := range []string{"alpha", "bravo", "charlie", "delta"} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.Add(v)
			_ = m.Filter("alpha bravo charlie delta")
		}()
	}
	wg.Wait()
	assert.Equal(t, "******* ******* ******* *******", m.Filter("alpha bravo charlie delta"))
}

func TestMaskerLoadEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("DB_PASSWORD=topsecret\nAPI_KEY=k-12345\n"), 0o600))

	m := NewMasker()
	require.NoError(t, m.LoadEnvFile(path))
	assert.Equal(t, "db=******* key=*******", m.Filter("db=topsecret key=k-12345"))
}
