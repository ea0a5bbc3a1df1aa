// internal/models/message_test.go
package models

import (
	"testing"

	"github.com/goccy/go-json"
)

func TestNewMessage(t *testing.T) {
	reading := sampleReading()

	msg, err := NewMessage(MessageTypeReading, reading)
	if err != nil {
		t.Fatalf("NewMessage failed: %v", err)
	}

	if msg.Type != MessageTypeReading {
		t.Errorf("Type = %v, want %v", msg.Type, MessageTypeReading)
	}

	if msg.Timestamp.IsZero() {
		t.Error("Timestamp should not be zero")
	}

	if len(msg.Payload) == 0 {
		t.Error("Payload should not be empty")
	}
}

func TestMessage_UnmarshalPayload(t *testing.T) {
	original := sampleReading()
	original.ID = 12

	msg, err := NewMessage(MessageTypeReading, original)
	if err != nil {
		t.Fatalf("NewMessage failed: %v", err)
	}

	var decoded Reading
	if err := msg.UnmarshalPayload(&decoded); err != nil {
		t.Fatalf("UnmarshalPayload failed: %v", err)
	}

	if decoded.ID != original.ID {
		t.Errorf("ID = %d, want %d", decoded.ID, original.ID)
	}
	if decoded.TempOutC != original.TempOutC {
		t.Errorf("TempOutC = %v, want %v", decoded.TempOutC, original.TempOutC)
	}
	if decoded.DateTime != original.DateTime {
		t.Errorf("DateTime = %q, want %q", decoded.DateTime, original.DateTime)
	}
}

func TestSnapshotMessage(t *testing.T) {
	first := sampleReading()
	second := sampleReading()
	second.TempOutC = 25.5

	snapshot := SnapshotMessage{
		Readings: []*Reading{&second, &first},
		Count:    2,
	}

	msg, err := NewMessage(MessageTypeSnapshot, snapshot)
	if err != nil {
		t.Fatalf("NewMessage failed: %v", err)
	}

	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	var envelope Message
	if err := json.Unmarshal(data, &envelope); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if envelope.Type != MessageTypeSnapshot {
		t.Errorf("Type = %v, want %v", envelope.Type, MessageTypeSnapshot)
	}

	var decoded SnapshotMessage
	if err := envelope.UnmarshalPayload(&decoded); err != nil {
		t.Fatalf("UnmarshalPayload failed: %v", err)
	}
	if decoded.Count != 2 {
		t.Errorf("Count = %d, want 2", decoded.Count)
	}
	if len(decoded.Readings) != 2 || decoded.Readings[0].TempOutC != 25.5 {
		t.Errorf("Readings = %+v, want newest first", decoded.Readings)
	}
}
