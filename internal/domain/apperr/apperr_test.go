package apperr_test

import (
	"errors"
	"testing"

	"github.com/dalemusser/selfmap/internal/domain/apperr"
)

func TestRemoteError_UnwrapsKindAndCause(t *testing.T) {
	cause := apperr.ErrNotFound
	err := apperr.Write("maps.rename", cause)

	if !errors.Is(err, apperr.ErrRemoteWrite) {
		t.Error("expected ErrRemoteWrite")
	}
	if !errors.Is(err, apperr.ErrNotFound) {
		t.Error("expected ErrNotFound")
	}
	if errors.Is(err, apperr.ErrRemoteRead) {
		t.Error("did not expect ErrRemoteRead")
	}
	if err.Error() != cause.Error() {
		t.Errorf("message: got %q, want %q", err.Error(), cause.Error())
	}
}

func TestRemoteError_NilStaysNil(t *testing.T) {
	if apperr.Read("x", nil) != nil {
		t.Error("Read(nil) should be nil")
	}
	if apperr.Write("x", nil) != nil {
		t.Error("Write(nil) should be nil")
	}
}

func TestRemoteError_NotDoubleWrapped(t *testing.T) {
	first := apperr.Read("a", errors.New("boom"))
	second := apperr.Write("b", first)
	if !errors.Is(second, apperr.ErrRemoteRead) {
		t.Error("expected original kind to be preserved")
	}
	if errors.Is(second, apperr.ErrRemoteWrite) {
		t.Error("did not expect a second wrap")
	}
}

func TestMessage(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ""},
		{"validation", apperr.Validation("title is required"), "title is required"},
		{"plain", errors.New("network down"), "network down"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := apperr.Message(tt.err); got != tt.want {
				t.Errorf("Message() = %q, want %q", got, tt.want)
			}
		})
	}
}
