package password

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fast = Params{Time: 1, Memory: 1024, Threads: 1}

func TestHashAndVerify(t *testing.T) {
	encoded, err := HashWith(fast, "correct horse")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(encoded, "$argon2id$v=19$m=1024,t=1,p=1$"))

	assert.True(t, Verify("correct horse", encoded))
	assert.False(t, Verify("battery staple", encoded))
}

func TestVerifyRejectsMalformed(t *testing.T) {
	assert.False(t, Verify("x", ""))
	assert.False(t, Verify("x", "$bcrypt$v=19$m=1,t=1,p=1$a$b"))
	assert.False(t, Verify("x", "$argon2id$v=19$m=1,t=1$a$b"))
}

func TestHashIsSalted(t *testing.T) {
	a, err := HashWith(fast, "same")
	require.NoError(t, err)
	b, err := HashWith(fast, "same")
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}
