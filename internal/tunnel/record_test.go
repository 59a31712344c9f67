package tunnel

import (
	"errors"
	"strings"
	"testing"
)

func strPtr(s string) *string { return &s }

func TestNewRecord_Defaults(t *testing.T) {
	rec := NewRecord(2)
	if rec.SlotIndex != 2 {
		t.Errorf("expected slot 2, got %d", rec.SlotIndex)
	}
	if rec.Name != "Tunnel 3" {
		t.Errorf("expected default name %q, got %q", "Tunnel 3", rec.Name)
	}
	if rec.LaunchCommand != "" || rec.Description != "" || rec.LastEndpoint != "" {
		t.Errorf("expected empty fields, got %+v", rec)
	}
}

func TestApply_AllFields(t *testing.T) {
	rec := NewRecord(0)
	err := rec.Apply(FieldEdit{
		Name:          strPtr("web"),
		LaunchCommand: strPtr("./frpc -c frpc.ini"),
		Description:   strPtr("production"),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Name != "web" || rec.LaunchCommand != "./frpc -c frpc.ini" || rec.Description != "production" {
		t.Errorf("edit not applied: %+v", rec)
	}
}

func TestApply_NilFieldsUntouched(t *testing.T) {
	rec := NewRecord(0)
	rec.Name = "keep"
	rec.Description = "keep too"
	if err := rec.Apply(FieldEdit{LaunchCommand: strPtr("frpc")}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Name != "keep" || rec.Description != "keep too" {
		t.Errorf("untouched fields changed: %+v", rec)
	}
}

func TestApply_DescriptionLimit(t *testing.T) {
	rec := NewRecord(0)
	rec.Description = "prior"

	// 19 characters: rejected, field reverts.
	long := strings.Repeat("x", 19)
	err := rec.Apply(FieldEdit{Description: &long})
	if !errors.Is(err, ErrDescriptionTooLong) {
		t.Fatalf("expected ErrDescriptionTooLong, got %v", err)
	}
	if rec.Description != "prior" {
		t.Errorf("description changed on rejection: %q", rec.Description)
	}

	// Exactly 18 characters: accepted.
	exact := strings.Repeat("x", 18)
	if err := rec.Apply(FieldEdit{Description: &exact}); err != nil {
		t.Fatalf("18-char description rejected: %v", err)
	}
	if rec.Description != exact {
		t.Errorf("expected %q, got %q", exact, rec.Description)
	}
}

func TestApply_DescriptionLimitCountsRunes(t *testing.T) {
	rec := NewRecord(0)

	// 18 CJK characters are 54 bytes but still within the limit.
	cjk := strings.Repeat("服", 18)
	if err := rec.Apply(FieldEdit{Description: &cjk}); err != nil {
		t.Fatalf("18-rune description rejected: %v", err)
	}

	over := strings.Repeat("服", 19)
	if err := rec.Apply(FieldEdit{Description: &over}); !errors.Is(err, ErrDescriptionTooLong) {
		t.Fatalf("expected ErrDescriptionTooLong, got %v", err)
	}
}

func TestApply_PartialApplyOnRejectedDescription(t *testing.T) {
	// Name and launch command from the same submission stick even
	// when the description is rejected.
	rec := NewRecord(0)
	rec.Description = "prior"

	long := strings.Repeat("x", 30)
	err := rec.Apply(FieldEdit{
		Name:          strPtr("renamed"),
		LaunchCommand: strPtr("frpc -c new.ini"),
		Description:   &long,
	})
	if !errors.Is(err, ErrDescriptionTooLong) {
		t.Fatalf("expected ErrDescriptionTooLong, got %v", err)
	}
	if rec.Name != "renamed" {
		t.Errorf("name edit dropped: %q", rec.Name)
	}
	if rec.LaunchCommand != "frpc -c new.ini" {
		t.Errorf("command edit dropped: %q", rec.LaunchCommand)
	}
	if rec.Description != "prior" {
		t.Errorf("description not reverted: %q", rec.Description)
	}
}
