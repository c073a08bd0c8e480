package password

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func testHasher(t *testing.T) *Argon2 {
	t.Helper()
	h, err := NewArgon2(Config{MemoryKB: minMemoryKB, Time: 1, Parallelism: 1})
	require.NoError(t, err)
	return h
}

func TestHashAndVerify(t *testing.T) {
	h := testHasher(t)

	digest, err := h.Hash("correct horse battery staple")
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(digest, "$argon2id$v=19$m=8192,t=1,p=1$"))
	require.NotContains(t, digest, "correct horse")

	ok, err := h.Verify(digest, "correct horse battery staple")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = h.Verify(digest, "wrong")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestHashIsSalted(t *testing.T) {
	h := testHasher(t)
	a, err := h.Hash("secret")
	require.NoError(t, err)
	b, err := h.Hash("secret")
	require.NoError(t, err)
	require.NotEqual(t, a, b)
}

func TestVerifyMalformedDigest(t *testing.T) {
	h := testHasher(t)
	for _, digest := range []string{
		"",
		"plaintext",
		"$argon2i$v=19$m=8192,t=1,p=1$c2FsdA$a2V5",
		"$argon2id$v=18$m=8192,t=1,p=1$c2FsdA$a2V5",
		"$argon2id$v=19$m=x,t=1,p=1$c2FsdA$a2V5",
		"$argon2id$v=19$m=8192,t=1,p=1$!!!$a2V5",
	} {
		_, err := h.Verify(digest, "secret")
		require.ErrorIs(t, err, ErrMalformedDigest, digest)
	}
}

func TestNewArgon2RejectsWeakConfig(t *testing.T) {
	_, err := NewArgon2(Config{MemoryKB: 1024, Time: 1, Parallelism: 1})
	require.Error(t, err)
}

func TestNeedsRehash(t *testing.T) {
	weak := testHasher(t)
	digest, err := weak.Hash("secret")
	require.NoError(t, err)

	strong, err := NewArgon2(Config{MemoryKB: minMemoryKB * 2, Time: 2, Parallelism: 1})
	require.NoError(t, err)
	needs, err := strong.NeedsRehash(digest)
	require.NoError(t, err)
	require.True(t, needs)

	needs, err = weak.NeedsRehash(digest)
	require.NoError(t, err)
	require.False(t, needs)
}
