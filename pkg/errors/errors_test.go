package errors

import (
	stdErrors "errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
)

func TestMetadataForKnownCodes(t *testing.T) {
	tests := []struct {
		code      Code
		status    int
		publicMsg string
		retryable bool
		detailsOK bool
	}{
		{code: CodeValidation, status: http.StatusBadRequest, publicMsg: "validation failed", detailsOK: true},
		{code: CodeUnauthorized, status: http.StatusUnauthorized, publicMsg: "authentication required"},
		{code: CodeForbidden, status: http.StatusForbidden, publicMsg: "access denied"},
		{code: CodeNotFound, status: http.StatusNotFound, publicMsg: "resource not found"},
		{code: CodeConflict, status: http.StatusConflict, publicMsg: "conflict detected"},
		{code: CodeStateConflict, status: http.StatusUnprocessableEntity, publicMsg: "state transition disallowed", detailsOK: true},
		{code: CodeInternal, status: http.StatusInternalServerError, publicMsg: "internal server error", retryable: true},
		{code: CodeDependency, status: http.StatusServiceUnavailable, publicMsg: "dependency unavailable", retryable: true, detailsOK: true},
		{code: CodeInsufficientCredit, status: http.StatusPaymentRequired, publicMsg: "insufficient credit", detailsOK: true},
		{code: CodeGatewayVerification, status: http.StatusBadRequest, publicMsg: "payment could not be verified"},
	}

	for _, tt := range tests {
		meta := MetadataFor(tt.code)
		if meta.HTTPStatus != tt.status {
			t.Fatalf("code %s expected status %d got %d", tt.code, tt.status, meta.HTTPStatus)
		}
		if meta.PublicMessage != tt.publicMsg {
			t.Fatalf("code %s expected public message %q got %q", tt.code, tt.publicMsg, meta.PublicMessage)
		}
		if meta.Retryable != tt.retryable {
			t.Fatalf("code %s expected retryable %v got %v", tt.code, tt.retryable, meta.Retryable)
		}
		if meta.DetailsAllowed != tt.detailsOK {
			t.Fatalf("code %s expected details allowed %v got %v", tt.code, tt.detailsOK, meta.DetailsAllowed)
		}
	}
}

func TestMetadataForUnknownCodeDefaultsToInternal(t *testing.T) {
	meta := MetadataFor("SOMETHING_UNKNOWN")
	if meta.HTTPStatus != http.StatusInternalServerError {
		t.Fatalf("expected internal status, got %d", meta.HTTPStatus)
	}
}

func TestErrorConstructors(t *testing.T) {
	base := New(CodeValidation, "missing foo")
	if base.Code() != CodeValidation {
		t.Fatalf("expected validation code, got %s", base.Code())
	}
	if base.Message() != "missing foo" {
		t.Fatalf("unexpected message %q", base.Message())
	}
	if base.Details() != nil {
		t.Fatalf("details should be nil by default")
	}

	detail := map[string]any{"field": "foo"}
	base.WithDetails(detail)
	if base.Details() == nil {
		t.Fatalf("details should be preserved")
	}

	cause := stdErrors.New("boom")
	wrapped := Wrap(CodeConflict, cause, "ctx")
	if !stdErrors.Is(wrapped, cause) {
		t.Fatalf("Wrap did not preserve cause")
	}
	if wrapped.Code() != CodeConflict {
		t.Fatalf("unexpected code %s", wrapped.Code())
	}
}

func TestAsReturnsTypedError(t *testing.T) {
	err := New(CodeForbidden, "no entry")
	if got := As(err); got == nil || got.Code() != CodeForbidden {
		t.Fatalf("As failed to return typed error")
	}
	if As(nil) != nil {
		t.Fatalf("As(nil) should return nil")
	}
}

func TestSentinelMatchesThroughWrap(t *testing.T) {
	sentinel := New(CodeInsufficientCredit, "insufficient credit")
	other := New(CodeInsufficientCredit, "insufficient credit")
	if !stdErrors.Is(other, sentinel) {
		t.Fatalf("expected errors with same code and message to match")
	}

	wrapped := fmt.Errorf("debit: %w", sentinel)
	if !stdErrors.Is(wrapped, sentinel) {
		t.Fatalf("expected wrapped sentinel to match")
	}
	if !IsCode(wrapped, CodeInsufficientCredit) {
		t.Fatalf("expected IsCode to find code through wrap")
	}
	if stdErrors.Is(New(CodeStateConflict, "insufficient credit"), sentinel) {
		t.Fatalf("different codes must not match")
	}
}

func TestDumpFlagsRetryablePostgresCodes(t *testing.T) {
	err := fmt.Errorf("debit: %w", &pgconn.PgError{Code: "40001", Message: "could not serialize access"})
	d := Dump(err)
	if d.PGCode != "40001" || !d.PGRetryable {
		t.Fatalf("expected retryable serialization failure, got %+v", d)
	}
	if len(d.Chain) != 2 {
		t.Fatalf("expected two chain entries, got %d", len(d.Chain))
	}

	unique := Dump(&pgconn.PgError{Code: "23505", ConstraintName: "ux_payments_gateway_txn_id"})
	if unique.PGRetryable {
		t.Fatal("unique violations are not retryable")
	}
	if unique.PGConstraint != "ux_payments_gateway_txn_id" {
		t.Fatalf("unexpected constraint %q", unique.PGConstraint)
	}
}
