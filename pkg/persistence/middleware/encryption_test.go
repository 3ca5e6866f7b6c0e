package middleware_test

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"io"
	"testing"
	"time"

	"github.com/egorky/iafsm/pkg/domain"
	"github.com/egorky/iafsm/pkg/persistence/middleware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func generateKey(t *testing.T) []byte {
	k := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, k); err != nil {
		t.Fatal(err)
	}
	return k
}

func TestEncryptionMiddleware_Roundtrip(t *testing.T) {
	underlyingStore := NewMockStore()
	key := generateKey(t)
	secureStore := middleware.NewEncryptionMiddleware(middleware.EncryptionConfig{ActiveKey: key})(underlyingStore)

	ctx := context.Background()
	sessionID := "test-session"
	original := domain.NewSession(sessionID, "start")
	original.Parameters["secret"] = "my-secret-sauce"
	original.PendingAPIResponses["corr-1"] = domain.PendingResponse{ActionID: "lookup", ResponseChannelKey: "r:corr-1"}

	require.NoError(t, secureStore.Save(ctx, sessionID, original, time.Minute))

	stored, err := underlyingStore.Load(ctx, sessionID)
	require.NoError(t, err)
	assert.NotContains(t, stored.Parameters, "secret")
	assert.Contains(t, stored.Parameters, middleware.EncryptedField)
	assert.Empty(t, stored.History)
	assert.Empty(t, stored.PendingAPIResponses)
	assert.Equal(t, time.Minute, underlyingStore.ttls[sessionID])

	loaded, err := secureStore.Load(ctx, sessionID)
	require.NoError(t, err)
	assert.Equal(t, "my-secret-sauce", loaded.Parameters["secret"])
	assert.Equal(t, "start", loaded.CurrentStateID)
	assert.Equal(t, "lookup", loaded.PendingAPIResponses["corr-1"].ActionID)
}

func TestEncryptionMiddleware_KeyRotation(t *testing.T) {
	underlyingStore := NewMockStore()
	oldKey := generateKey(t)
	newKey := generateKey(t)

	secureStoreOld := middleware.NewEncryptionMiddleware(middleware.EncryptionConfig{ActiveKey: oldKey})(underlyingStore)

	ctx := context.Background()
	sessionID := "rotation-session"
	original := domain.NewSession(sessionID, "start")
	original.Parameters["data"] = "encrypted-with-old-key"
	require.NoError(t, secureStoreOld.Save(ctx, sessionID, original, 0))

	secureStoreNew := middleware.NewEncryptionMiddleware(middleware.EncryptionConfig{
		ActiveKey:    newKey,
		FallbackKeys: [][]byte{oldKey},
	})(underlyingStore)

	loaded, err := secureStoreNew.Load(ctx, sessionID)
	require.NoError(t, err, "fallback key decrypts old records")
	assert.Equal(t, "encrypted-with-old-key", loaded.Parameters["data"])

	loaded.Parameters["data"] = "encrypted-with-new-key"
	require.NoError(t, secureStoreNew.Save(ctx, sessionID, loaded, 0))

	_, err = secureStoreOld.Load(ctx, sessionID)
	assert.Error(t, err, "old key alone cannot read re-encrypted records")
}

func TestEncryptionMiddleware_RejectsPlainSession(t *testing.T) {
	underlyingStore := NewMockStore()
	ctx := context.Background()
	require.NoError(t, underlyingStore.Save(ctx, "plain", domain.NewSession("plain", "start"), 0))

	secureStore := middleware.NewEncryptionMiddleware(middleware.EncryptionConfig{ActiveKey: generateKey(t)})(underlyingStore)
	_, err := secureStore.Load(ctx, "plain")
	assert.Error(t, err)

	_, err = secureStore.Load(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
}

func TestEncryptionMiddleware_InvalidKey(t *testing.T) {
	assert.Panics(t, func() {
		middleware.NewEncryptionMiddleware(middleware.EncryptionConfig{ActiveKey: []byte("short-key")})
	})
}

func TestParseKey(t *testing.T) {
	key := generateKey(t)

	got, err := middleware.ParseKey(hex.EncodeToString(key))
	require.NoError(t, err)
	assert.Equal(t, key, got)

	got, err = middleware.ParseKey(base64.StdEncoding.EncodeToString(key))
	require.NoError(t, err)
	assert.Equal(t, key, got)

	_, err = middleware.ParseKey("abcd")
	assert.Error(t, err)
}
