package errs_test

import (
	"errors"
	"testing"

	"github.com/agentevolve/evocore/internal/store/errs"
)

func TestErrorsIsMatchesByKindNotIdentity(t *testing.T) {
	err := errs.NotFoundf("task %s not found", "t1")
	if !errors.Is(err, errs.NotFound) {
		t.Fatalf("expected errors.Is to match the NotFound sentinel by kind")
	}
	if errors.Is(err, errs.Validation) {
		t.Fatalf("expected a not_found error to not match the Validation sentinel")
	}
}

func TestOfDefaultsToStorageForUnwrappedErrors(t *testing.T) {
	if got := errs.Of(errors.New("raw driver error")); got != errs.KindStorage {
		t.Fatalf("expected KindStorage for an unrecognized error, got %v", got)
	}
}

func TestOfReturnsDeclaredKind(t *testing.T) {
	if got := errs.Of(errs.Statef("bad state")); got != errs.KindState {
		t.Fatalf("expected KindState, got %v", got)
	}
}

func TestStoragefPreservesUnderlyingError(t *testing.T) {
	underlying := errors.New("disk full")
	wrapped := errs.Storagef(underlying, "write failed")
	if !errors.Is(wrapped, underlying) {
		t.Fatalf("expected Storagef to preserve the underlying error for unwrapping")
	}
}
