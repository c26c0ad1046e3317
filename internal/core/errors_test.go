package core

import (
	"errors"
	"fmt"
	"testing"

	"github.com/JonMunkholm/ledgersync/internal/source"
	"github.com/JonMunkholm/ledgersync/internal/store"
)

func TestMapError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode string
	}{
		{name: "nil error returns empty", err: nil, wantCode: ""},
		{name: "not initialized", err: ErrNotInitialized, wantCode: "WF001"},
		{name: "busy", err: fmt.Errorf("start workflow: %w", ErrTooManyWorkflows), wantCode: "WF002"},
		{name: "workflow not found", err: ErrWorkflowNotFound, wantCode: "WF003"},
		{name: "cancelled", err: errors.New("fetch folder a.json: context canceled"), wantCode: "WF004"},
		{name: "disabled", err: fmt.Errorf("data entry: %w", ErrWorkflowDisabled), wantCode: "WF005"},
		{name: "unknown source", err: fmt.Errorf("list: %w", source.ErrUnknownSource), wantCode: "SRC001"},
		{name: "connection refused", err: errors.New("dial tcp 127.0.0.1:9000: connection refused"), wantCode: "SYNC001"},
		{name: "voucher not found", err: store.ErrNotFound, wantCode: "SYNC002"},
		{name: "bad transition", err: store.ErrInvalidTransition, wantCode: "SYNC003"},
		{name: "conflict not found", err: ErrConflictNotFound, wantCode: "SYNC004"},
		{name: "invalid rule before invalid request", err: fmt.Errorf("invalid rule: %w", ErrInvalidOptions), wantCode: "RULE002"},
		{name: "invalid options", err: fmt.Errorf("%w: BatchSize failed min", ErrInvalidOptions), wantCode: "VAL001"},
		{name: "case insensitive matching", err: errors.New("RULE NOT FOUND"), wantCode: "RULE001"},
		{name: "unknown error returns default", err: errors.New("some random internal error"), wantCode: "ERR000"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := MapError(tt.err)
			if got.Code != tt.wantCode {
				t.Errorf("MapError() code = %q, want %q", got.Code, tt.wantCode)
			}
		})
	}
}

func TestFormatUserError(t *testing.T) {
	got := FormatUserError(ErrRuleNotFound)
	want := "Automation rule not found (Code: RULE001). Verify the rule id"
	if got != want {
		t.Errorf("FormatUserError() = %q, want %q", got, want)
	}
	if FormatUserError(nil) != "" {
		t.Error("FormatUserError(nil) should be empty")
	}
}

func TestIsUserFacing(t *testing.T) {
	if IsUserFacing(nil) {
		t.Error("nil should not be user facing")
	}
	if !IsUserFacing(ErrConflictNotFound) {
		t.Error("ErrConflictNotFound should be user facing")
	}
	if IsUserFacing(errors.New("segfault in the flux capacitor")) {
		t.Error("unknown errors should not be user facing")
	}
}
