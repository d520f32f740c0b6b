package translator

import (
	"errors"
	"fmt"
	"strings"

	"locale-translator/internal/types"
)

// ErrVerification matches any *VerificationError through errors.Is.
var ErrVerification = errors.New("translation verification failed")

// VerificationError 批次在所有尝试后仍未通过校验
type VerificationError struct {
	BatchID  string
	Attempts int
	// Outcome is the verification result of the last attempt.
	Outcome VerificationOutcome
	Usage   types.TokenUsage
}

func (e *VerificationError) Error() string {
	msg := fmt.Sprintf("batch %s: verification failed after %d attempts", e.BatchID, e.Attempts)
	if len(e.Outcome.MissingKeys) > 0 {
		msg += fmt.Sprintf(": %d missing keys (%s)", len(e.Outcome.MissingKeys), previewKeys(e.Outcome.MissingKeys, 5))
	}
	if e.Outcome.Interrupted {
		msg += ": stream interrupted"
	}
	return msg
}

// Is reports whether target is ErrVerification.
func (e *VerificationError) Is(target error) bool {
	return target == ErrVerification
}

// AppError converts the failure into the shared application error form.
func (e *VerificationError) AppError() *types.AppError {
	return types.NewAppErrorWithDetails(types.ErrVerification, "batch needs operator attention", e.BatchID, e)
}

// TransportError wraps failures of the streaming transport that this layer
// does not retry: opening the stream, or a context that ended between attempts.
type TransportError struct {
	BatchID string
	Attempt int
	Cause   error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("batch %s attempt %d: transport: %v", e.BatchID, e.Attempt, e.Cause)
}

func (e *TransportError) Unwrap() error {
	return e.Cause
}

// AppError converts the failure into the shared application error form.
func (e *TransportError) AppError() *types.AppError {
	return types.NewAppErrorWithDetails(types.ErrTransport, "model stream failed", e.BatchID, e.Cause)
}

func previewKeys(keys []string, n int) string {
	if len(keys) <= n {
		return strings.Join(keys, ", ")
	}
	return strings.Join(keys[:n], ", ") + fmt.Sprintf(", ... +%d", len(keys)-n)
}
