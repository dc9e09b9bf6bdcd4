package domain

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestParseUserID(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    UserID
		wantErr bool
	}{
		{name: "plain", raw: "u-1", want: "u-1"},
		{name: "trimmed", raw: "  u-2\t", want: "u-2"},
		{name: "empty", raw: "", wantErr: true},
		{name: "blank", raw: "   ", wantErr: true},
		{name: "too long", raw: strings.Repeat("x", MaxUserIDLen+1), wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseUserID(tt.raw)
			if tt.wantErr {
				if !errors.Is(err, ErrUnauthenticated) {
					t.Fatalf("err = %v, want ErrUnauthenticated", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Fatalf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestParseChatIDRejectsEmpty(t *testing.T) {
	if _, err := ParseChatID(" "); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("err = %v, want ErrInvalidArgument", err)
	}
	id, err := ParseChatID("c-1")
	if err != nil || id != "c-1" {
		t.Fatalf("ParseChatID = %q, %v", id, err)
	}
}

func TestCode(t *testing.T) {
	tests := map[error]string{
		ErrUnauthenticated:                        "unauthenticated",
		fmt.Errorf("wrap: %w", ErrForbidden):      "forbidden",
		ErrNotFound:                               "not_found",
		fmt.Errorf("%w: bad", ErrInvalidArgument): "invalid_argument",
		errors.New("db down"):                     "internal",
	}
	for err, want := range tests {
		if got := Code(err); got != want {
			t.Errorf("Code(%v) = %q, want %q", err, got, want)
		}
	}
}
