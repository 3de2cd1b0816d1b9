package auth

import (
	"context"
	"testing"
	"time"

	"coingate/internal/domain/entity"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJWTVerifierRoundTrip(t *testing.T) {
	v := NewJWTVerifier("secret")
	token, err := v.Sign("user-1", "a@example.com", true, time.Hour)
	require.NoError(t, err)

	id, err := v.Verify(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", id.UserID)
	assert.Equal(t, "a@example.com", id.Email)
	assert.True(t, id.EmailVerified)
}

func TestJWTVerifierRejects(t *testing.T) {
	v := NewJWTVerifier("secret")

	expired, err := v.Sign("user-1", "", true, -time.Minute)
	require.NoError(t, err)
	foreign, err := NewJWTVerifier("other").Sign("user-1", "", true, time.Hour)
	require.NoError(t, err)
	noSubject, err := v.Sign("", "", true, time.Hour)
	require.NoError(t, err)

	for name, token := range map[string]string{
		"expired":      expired,
		"wrong secret": foreign,
		"no subject":   noSubject,
		"garbage":      "not-a-jwt",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := v.Verify(context.Background(), token)
			assert.ErrorIs(t, err, entity.ErrUnauthenticated)
		})
	}
}
