package tunnel

import (
	"errors"
	"fmt"
	"unicode/utf8"
)

// MaxDescriptionLen is the maximum description length in runes.
// Edits exceeding it are rejected and the field reverts.
const MaxDescriptionLen = 18

var (
	ErrEmptyCommand       = errors.New("launch command is empty")
	ErrSlotOutOfRange     = errors.New("slot index out of range")
	ErrDescriptionTooLong = fmt.Errorf("description exceeds %d characters", MaxDescriptionLen)
)

// RunState is the live state of a tunnel slot. It is never persisted;
// every daemon start begins with all slots Stopped.
type RunState string

const (
	StateStopped RunState = "stopped"
	StateRunning RunState = "running"
)

// Record holds the configuration and last-known endpoint for one
// tunnel slot. Exactly one Record exists per slot index for the
// lifetime of the registry.
type Record struct {
	SlotIndex     int
	Name          string
	LaunchCommand string
	Description   string
	LastEndpoint  string
}

// DefaultName returns the display label used when a slot has never
// been configured.
func DefaultName(slot int) string {
	return fmt.Sprintf("Tunnel %d", slot+1)
}

// NewRecord returns a Record with default values for the given slot.
func NewRecord(slot int) Record {
	return Record{
		SlotIndex: slot,
		Name:      DefaultName(slot),
	}
}

// FieldEdit carries a settings submission. Nil fields are left
// untouched.
type FieldEdit struct {
	Name          *string
	LaunchCommand *string
	Description   *string
}

// Apply updates the record from the edit. Name and launch command are
// always applied. A description longer than MaxDescriptionLen is
// rejected: the stored value is kept and ErrDescriptionTooLong is
// returned, while the other fields from the same submission remain
// applied. This partial-apply coupling matches the settings dialog it
// replaces.
func (r *Record) Apply(edit FieldEdit) error {
	if edit.Name != nil {
		r.Name = *edit.Name
	}
	if edit.LaunchCommand != nil {
		r.LaunchCommand = *edit.LaunchCommand
	}
	if edit.Description != nil {
		if utf8.RuneCountInString(*edit.Description) > MaxDescriptionLen {
			return ErrDescriptionTooLong
		}
		r.Description = *edit.Description
	}
	return nil
}
