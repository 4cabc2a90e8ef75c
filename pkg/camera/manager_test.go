package camera

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

type fakeSetter struct {
	calls []string
	err   error
}

func (f *fakeSetter) Set(ctx context.Context, p Param, v int) error {
	f.calls = append(f.calls, string(p))
	return f.err
}

func TestDefaultSettingsValid(t *testing.T) {
	if errs := DefaultSettings().Validate(); len(errs) != 0 {
		t.Errorf("default settings invalid: %v", errs)
	}
	if q := DefaultSettings().Quality; q != 12 {
		t.Errorf("default quality = %d, want 12", q)
	}
}

func TestSettingsValidate(t *testing.T) {
	s := Settings{Flash: 300, Quality: 5, Brightness: 0, Contrast: 9}
	if errs := s.Validate(); len(errs) != 3 {
		t.Errorf("expected 3 errors, got %v", errs)
	}
}

func TestManagerApplyStoresOnSuccess(t *testing.T) {
	dev := &fakeSetter{}
	m := NewManager(dev)

	var notified Settings
	m.OnChange = func(s Settings) { notified = s }

	if err := m.Apply(context.Background(), Quality, 25); err != nil {
		t.Fatalf("Apply failed: %v", err)
	}

	if got := m.Settings().Quality; got != 25 {
		t.Errorf("Quality = %d, want 25", got)
	}
	if notified.Quality != 25 {
		t.Errorf("OnChange got quality %d, want 25", notified.Quality)
	}
	if len(dev.calls) != 1 {
		t.Errorf("device calls = %d, want 1", len(dev.calls))
	}
}

func TestManagerApplyKeepsLastKnownGood(t *testing.T) {
	dev := &fakeSetter{err: ErrUnreachable}
	m := NewManager(dev)

	err := m.Apply(context.Background(), Flash, 200)
	if !errors.Is(err, ErrUnreachable) {
		t.Fatalf("err = %v, want ErrUnreachable", err)
	}
	if got := m.Settings().Flash; got != 0 {
		t.Errorf("Flash = %d, want previous value 0", got)
	}
	if len(dev.calls) != 1 {
		t.Errorf("expected a single attempt without rollback, got %d", len(dev.calls))
	}
}

func TestManagerRejectsOutOfRangeLocally(t *testing.T) {
	dev := &fakeSetter{}
	m := NewManager(dev)

	if err := m.Apply(context.Background(), Brightness, 5); err == nil {
		t.Fatal("expected range error")
	}
	if len(dev.calls) != 0 {
		t.Errorf("device should not be called, got %d calls", len(dev.calls))
	}
}

func TestManagerApplyNamed(t *testing.T) {
	m := NewManager(&fakeSetter{})

	if err := m.ApplyNamed(context.Background(), "contrast", -2); err != nil {
		t.Fatalf("ApplyNamed failed: %v", err)
	}
	if m.Settings().Contrast != -2 {
		t.Errorf("Contrast = %d, want -2", m.Settings().Contrast)
	}

	if err := m.ApplyNamed(context.Background(), "saturation", 1); !errors.Is(err, ErrUnknownParam) {
		t.Errorf("err = %v, want ErrUnknownParam", err)
	}
}

func TestUserMessage(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{Quality.Validate(5), "quality must be between 10 and 63, got 5"},
		{fmt.Errorf("%w: quality: dial tcp", ErrUnreachable), "camera unreachable"},
		{&APIError{Op: "quality", StatusCode: 500, Message: "sensor busy"}, "camera rejected the request: sensor busy"},
		{&APIError{Op: "quality", StatusCode: 500}, "camera rejected the request"},
		{fmt.Errorf("wrapped: %w", ErrMalformedResponse), "camera sent an invalid image"},
	}
	for _, tt := range tests {
		if got := UserMessage(tt.err); got != tt.want {
			t.Errorf("UserMessage(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}
