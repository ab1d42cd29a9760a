package enclave

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/aegisgate/aegisgate/internal/config"
)

func TestVerifySkipsWhenDisabled(t *testing.T) {
	failing := AttestorFunc(func(context.Context) ([]byte, error) {
		return nil, errors.New("no enclave")
	})

	require.NoError(t, Verify(context.Background(), config.SecureEnclaveConfig{Provider: "none", RequireAttestation: true}, failing, nil))
	require.NoError(t, Verify(context.Background(), config.SecureEnclaveConfig{Provider: "nitro", RequireAttestation: false}, failing, nil))
}

func TestVerifyPassesWithAttestationDocument(t *testing.T) {
	attestor := AttestorFunc(func(context.Context) ([]byte, error) {
		return []byte("attestation-doc"), nil
	})
	cfg := config.SecureEnclaveConfig{Provider: "nitro", RequireAttestation: true}
	require.NoError(t, Verify(context.Background(), cfg, attestor, nil))
}

func TestVerifyFailsClosed(t *testing.T) {
	cfg := config.SecureEnclaveConfig{Provider: "nitro", RequireAttestation: true}

	err := Verify(context.Background(), cfg, nil, nil)
	require.Error(t, err)

	err = Verify(context.Background(), cfg, AttestorFunc(func(context.Context) ([]byte, error) {
		return nil, errors.New("vsock unavailable")
	}), nil)
	require.Error(t, err)

	err = Verify(context.Background(), cfg, AttestorFunc(func(context.Context) ([]byte, error) {
		return nil, nil
	}), nil)
	require.Error(t, err)
}
