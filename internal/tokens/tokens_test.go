package tokens

import (
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNormalizeKey(t *testing.T) {
	key := normalizeKey("zepp/xiaomi:alex@gmail.com")
	require.Equal(t, "zepp/xiaomi:alex@gmail.com", key)

	key = normalizeKey("xiaomi:alex@gmail.com")
	require.Equal(t, "xiaomi:alex@gmail.com", key)

	key = normalizeKey("mifitness:alex@gmail.com")
	require.Equal(t, "xiaomi:alex@gmail.com", key)

	key = normalizeKey("xiaomihome:alex@gmail.com")
	require.Equal(t, "xiaomi:alex@gmail.com", key)
}

func TestStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scaleconnect.json")

	s := NewStore(path)
	require.Empty(t, s.Load("xiaomi:alex"))

	require.NoError(t, s.Save("mifitness:alex", "42:pt"))
	require.Equal(t, "42:pt", s.Load("xiaomihome:alex"))

	// a fresh store reads the file back
	require.Equal(t, "42:pt", NewStore(path).Load("xiaomi:alex"))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.JSONEq(t, `{"xiaomi:alex":"42:pt"}`, string(data))
}

func TestStoreCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scaleconnect.json")
	require.NoError(t, os.WriteFile(path, []byte("null"), 0o600))

	s := NewStore(path)
	require.Empty(t, s.Load("xiaomi:alex"))
	require.NoError(t, s.Save("xiaomi:alex", "1:a"))
	require.Equal(t, "1:a", s.Load("xiaomi:alex"))
}

func TestStoreConcurrent(t *testing.T) {
	s := NewStore(filepath.Join(t.TempDir(), "scaleconnect.json"))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = s.Save("xiaomi:alex", "42:pt")
			_ = s.Load("xiaomi:alex")
		}()
	}
	wg.Wait()

	require.Equal(t, "42:pt", s.Load("xiaomi:alex"))
}

func TestStoreWriteError(t *testing.T) {
	s := NewStore(filepath.Join(t.TempDir(), "missing", "scaleconnect.json"))
	require.Error(t, s.Save("xiaomi:alex", "42:pt"))
}
