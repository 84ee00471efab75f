package errors

import (
	stderrors "errors"
	"testing"
)

func TestGetCode(t *testing.T) {
	if GetCode(nil) != Success {
		t.Error("nil error must map to Success")
	}
	if GetCode(New(BlobFetchFailed)) != BlobFetchFailed {
		t.Error("code not extracted from typed error")
	}
	if GetCode(stderrors.New("plain")) != InternalServerError {
		t.Error("foreign error must map to InternalServerError")
	}
}

func TestWrapPreservesCause(t *testing.T) {
	cause := stderrors.New("connection refused")
	err := Wrap(cause, StorageUnavailable)

	if err.Code != StorageUnavailable {
		t.Errorf("code = %v", err.Code)
	}
	if !stderrors.Is(err, cause) {
		t.Error("wrapped cause lost")
	}
	if Wrap(nil, StorageUnavailable) != nil {
		t.Error("wrapping nil must stay nil")
	}
}

func TestWrapRetagsTypedError(t *testing.T) {
	inner := New(BlobFetchFailed).WithMessage("get fixtures/in1: timeout")
	err := Wrap(inner, CheckerFailed)

	if err.Code != CheckerFailed {
		t.Errorf("code = %v, want CheckerFailed", err.Code)
	}
	if err.Error() != "get fixtures/in1: timeout" {
		t.Errorf("message lost: %q", err.Error())
	}
}

func TestIsTransient(t *testing.T) {
	transient := []ErrorCode{
		QueueUnavailable, StorageUnavailable, CatalogUnavailable,
		CircuitOpen, SandboxUnavailable, BoxInitFailed,
		DatabaseError, TransactionFailed,
	}
	for _, code := range transient {
		if !IsTransient(New(code)) {
			t.Errorf("%d must be transient", code)
		}
	}

	permanent := []ErrorCode{
		MessageMalformed, LanguageNotSupported, ProblemNotFound, ValidationFailed,
	}
	for _, code := range permanent {
		if IsTransient(New(code)) {
			t.Errorf("%d must not be transient", code)
		}
	}

	if IsTransient(nil) {
		t.Error("nil is not transient")
	}
}

func TestMessageFallsBackToCode(t *testing.T) {
	e := &Error{Code: SandboxUnavailable}
	if e.Error() != SandboxUnavailable.Message() {
		t.Errorf("got %q", e.Error())
	}
	if New(SandboxUnavailable).WithMessage("isolate not installed").Error() != "isolate not installed" {
		t.Error("custom message not used")
	}
}

func TestHTTPStatusRanges(t *testing.T) {
	cases := map[ErrorCode]int{
		Success:            200,
		InvalidParams:      400,
		ProblemNotFound:    404,
		CatalogUnavailable: 503,
		DatabaseError:      500,
	}
	for code, want := range cases {
		if got := code.HTTPStatus(); got != want {
			t.Errorf("HTTPStatus(%d) = %d, want %d", code, got, want)
		}
	}
}
