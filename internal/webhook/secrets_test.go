package webhook

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/webitel/im-live-service/config"
)

type countingStore struct {
	SecretStore
	calls int
}

func (s *countingStore) Secret(ctx context.Context, appID string) ([]byte, error) {
	s.calls++
	return s.SecretStore.Secret(ctx, appID)
}

func TestStaticSecretsFromConfig(t *testing.T) {
	s := NewStaticSecrets([]config.EndpointConfig{{AppID: "crm", Secret: "a"}, {AppID: "open"}})

	got, err := s.Secret(context.Background(), "crm")
	require.NoError(t, err)
	assert.Equal(t, []byte("a"), got)

	_, err = s.Secret(context.Background(), "open")
	assert.ErrorIs(t, err, ErrUnknownApp)
}

func TestCachedSecretsHitsBackendOnce(t *testing.T) {
	backend := &countingStore{SecretStore: StaticSecrets{"crm": []byte("a")}}
	cached := NewCachedSecrets(backend, time.Minute)

	for range 3 {
		got, err := cached.Secret(context.Background(), "crm")
		require.NoError(t, err)
		assert.Equal(t, []byte("a"), got)
	}
	assert.Equal(t, 1, backend.calls)

	_, err := cached.Secret(context.Background(), "ghost")
	assert.ErrorIs(t, err, ErrUnknownApp)
}
