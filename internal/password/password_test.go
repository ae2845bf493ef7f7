package password

import (
	"crypto/sha256"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestHashAndVerify(t *testing.T) {
	hash, err := Hash("Secret123!")
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(hash, "$argon2id$"))
	require.False(t, NeedsRehash(hash))

	ok, err := Verify("Secret123!", hash)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = Verify("wrong", hash)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestHashUsesRandomSalt(t *testing.T) {
	a, err := Hash("same")
	require.NoError(t, err)
	b, err := Hash("same")
	require.NoError(t, err)
	require.NotEqual(t, a, b)
}

func TestVerifyBcrypt(t *testing.T) {
	legacy, err := bcrypt.GenerateFromPassword([]byte("Secret123!"), bcrypt.MinCost)
	require.NoError(t, err)
	require.True(t, NeedsRehash(string(legacy)))

	ok, err := Verify("Secret123!", string(legacy))
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = Verify("nope", string(legacy))
	require.NoError(t, err)
	require.False(t, ok)
}

func TestVerifyBcryptLongPassword(t *testing.T) {
	long := strings.Repeat("x", 100)
	sum := sha256.Sum256([]byte(long))
	legacy, err := bcrypt.GenerateFromPassword(sum[:], bcrypt.MinCost)
	require.NoError(t, err)

	ok, err := Verify(long, string(legacy))
	require.NoError(t, err)
	require.True(t, ok)
}

func TestVerifyRejectsGarbage(t *testing.T) {
	_, err := Verify("x", "not-a-hash")
	require.Error(t, err)
	_, err = Verify("x", "$argon2id$v=19$m=bad$salt$hash")
	require.Error(t, err)
}
