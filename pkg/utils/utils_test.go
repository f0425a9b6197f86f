package utils

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenRoundTrip(t *testing.T) {
	token, err := GenerateToken("ops@duckhat", RoleAdmin, "s3cret", time.Hour)
	require.NoError(t, err)

	claims, err := ValidateToken(token, "s3cret")
	require.NoError(t, err)
	assert.Equal(t, "ops@duckhat", claims.Subject)
	assert.Equal(t, RoleAdmin, claims.Role)
	assert.True(t, IsUUID(claims.ID))
}

func TestValidateToken_Rejects(t *testing.T) {
	token, err := GenerateToken("ops", RoleAdmin, "s3cret", time.Hour)
	require.NoError(t, err)

	_, err = ValidateToken(token, "other")
	assert.Error(t, err)

	expired, err := GenerateToken("ops", RoleAdmin, "s3cret", -time.Minute)
	require.NoError(t, err)
	_, err = ValidateToken(expired, "s3cret")
	assert.Error(t, err)

	_, err = ValidateToken("not.a.token", "s3cret")
	assert.Error(t, err)

	_, err = GenerateToken("ops", RoleAdmin, "", time.Hour)
	assert.Error(t, err)
}

func TestCleanFilename(t *testing.T) {
	assert.Equal(t, "me.png", CleanFilename("C:\\Users\\me\\me.png"))
	assert.Equal(t, "passwd", CleanFilename("../../etc/passwd"))
	assert.Equal(t, "ab.jpg", CleanFilename("a\x00b.jpg"))
	assert.Equal(t, "", CleanFilename(""))
	assert.Len(t, CleanFilename(strings.Repeat("y", 300)), 100)
}

func TestIsUUID(t *testing.T) {
	id := GenerateID()
	assert.True(t, IsUUID(id))
	assert.False(t, IsUUID("{"+id+"}"))
	assert.False(t, IsUUID("urn:uuid:"+id))
	assert.False(t, IsUUID("not-a-uuid"))
	assert.False(t, IsUUID(""))
}
