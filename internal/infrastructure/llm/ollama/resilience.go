package ollama

import (
	"github.com/kirillkom/docflow/internal/core/domain"
	"github.com/kirillkom/docflow/internal/infrastructure/resilience"
)

// wrapTemporaryIfNeeded marks transport, throttling and open-breaker failures as
// temporary so the document goes to the backoff queue.
func wrapTemporaryIfNeeded(operation string, err error) error {
	if err == nil {
		return nil
	}
	if domain.IsKind(err, domain.ErrTemporary) {
		return err
	}
	if resilience.ClassifyHTTP(err).Retryable || resilience.IsCircuitOpen(err) {
		return domain.WrapError(domain.ErrTemporary, "ollama "+operation, err)
	}
	return err
}
