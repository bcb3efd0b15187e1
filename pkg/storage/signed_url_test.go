package storage

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSignedURLSignerGenerateAndParse(t *testing.T) {
	signer := NewSignedURLSigner("secret", time.Hour)
	token, expiresAt, err := signer.Generate("file-1", "uploads/user-1/report.pdf")
	require.NoError(t, err)
	require.NotEmpty(t, token)
	require.WithinDuration(t, time.Now().Add(time.Hour), expiresAt, 2*time.Second)

	id, key, err := signer.Parse(token)
	require.NoError(t, err)
	require.Equal(t, "file-1", id)
	require.Equal(t, "uploads/user-1/report.pdf", key)
}

func TestSignedURLSignerExpired(t *testing.T) {
	signer := NewSignedURLSigner("secret", time.Minute)
	token, _, err := signer.Generate("file-1", "uploads/report.pdf")
	require.NoError(t, err)

	signer.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	_, _, err = signer.Parse(token)
	require.ErrorIs(t, err, ErrTokenExpired)
}

func TestSignedURLSignerRejectsTampering(t *testing.T) {
	signer := NewSignedURLSigner("secret", time.Minute)
	token, _, err := signer.Generate("file-1", "uploads/report.pdf")
	require.NoError(t, err)

	other := NewSignedURLSigner("other", time.Minute)
	_, _, err = other.Parse(token)
	require.ErrorIs(t, err, ErrInvalidToken)

	_, _, err = signer.Parse("file-2" + token[len("file-1"):])
	require.ErrorIs(t, err, ErrInvalidToken)

	_, _, err = signer.Parse("garbage")
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestSignedURLSignerRequiresSecret(t *testing.T) {
	_, _, err := NewSignedURLSigner("", time.Minute).Generate("file-1", "k")
	require.Error(t, err)
}
