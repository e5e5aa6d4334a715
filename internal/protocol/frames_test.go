package protocol

import (
	"encoding/json"
	"testing"
)

func TestParseClientFrame_Auth(t *testing.T) {
	input := []byte(`{"type":"auth","userId":"u1","token":"tok-123"}`)

	frameType, frame, err := ParseClientFrame(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if frameType != TypeAuth {
		t.Fatalf("expected type %q, got %q", TypeAuth, frameType)
	}

	af, ok := frame.(AuthFrame)
	if !ok {
		t.Fatalf("expected AuthFrame, got %T", frame)
	}
	if af.UserID != "u1" {
		t.Errorf("expected userId %q, got %q", "u1", af.UserID)
	}
	if af.Token != "tok-123" {
		t.Errorf("expected token %q, got %q", "tok-123", af.Token)
	}
}

func TestParseClientFrame_Message(t *testing.T) {
	input := []byte(`{"type":"message","conversationId":"conv1","senderId":"u1","content":"hello"}`)

	frameType, frame, err := ParseClientFrame(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if frameType != TypeMessage {
		t.Fatalf("expected type %q, got %q", TypeMessage, frameType)
	}

	mf, ok := frame.(MessageFrame)
	if !ok {
		t.Fatalf("expected MessageFrame, got %T", frame)
	}
	if mf.ConversationID != "conv1" || mf.SenderID != "u1" || mf.Content != "hello" {
		t.Errorf("unexpected frame fields: %+v", mf)
	}
	if mf.Metadata != nil {
		t.Errorf("expected nil metadata for plain text, got %+v", mf.Metadata)
	}
}

func TestParseClientFrame_LocationMessage(t *testing.T) {
	input := []byte(`{
		"type": "message",
		"conversationId": "conv1",
		"senderId": "u1",
		"messageType": "location",
		"metadata": {"latitude": 51.5, "longitude": -0.12, "address": "London"}
	}`)

	_, frame, err := ParseClientFrame(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	mf := frame.(MessageFrame)
	if mf.MessageType != "location" {
		t.Fatalf("expected messageType location, got %q", mf.MessageType)
	}
	if mf.Metadata == nil {
		t.Fatal("expected metadata to be decoded")
	}
	if mf.Metadata.Latitude == nil || *mf.Metadata.Latitude != 51.5 {
		t.Errorf("unexpected latitude: %v", mf.Metadata.Latitude)
	}
	if mf.Metadata.Longitude == nil || *mf.Metadata.Longitude != -0.12 {
		t.Errorf("unexpected longitude: %v", mf.Metadata.Longitude)
	}
	if mf.Metadata.Address != "London" {
		t.Errorf("unexpected address: %q", mf.Metadata.Address)
	}
}

func TestParseClientFrame_MissingMetadataFields(t *testing.T) {
	// A location frame without latitude decodes fine; the router rejects it
	// later. The parser only guarantees shape, not semantics.
	input := []byte(`{"type":"message","conversationId":"c","senderId":"u","messageType":"location","metadata":{"address":"x"}}`)

	_, frame, err := ParseClientFrame(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	mf := frame.(MessageFrame)
	if mf.Metadata.Latitude != nil {
		t.Errorf("expected nil latitude, got %v", *mf.Metadata.Latitude)
	}
}

func TestParseClientFrame_AllTypes(t *testing.T) {
	cases := []struct {
		name     string
		input    string
		wantType string
	}{
		{"auth", `{"type":"auth","userId":"u1","token":"t"}`, TypeAuth},
		{"message", `{"type":"message","conversationId":"c1","senderId":"u1","content":"hi"}`, TypeMessage},
		{"typing", `{"type":"typing","conversationId":"c1","senderId":"u1","isTyping":true}`, TypeTyping},
		{"ping", `{"type":"ping"}`, TypePing},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			frameType, frame, err := ParseClientFrame([]byte(tc.input))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if frameType != tc.wantType {
				t.Errorf("expected type %q, got %q", tc.wantType, frameType)
			}
			if frame == nil {
				t.Error("expected non-nil frame")
			}
		})
	}
}

func TestParseClientFrame_UnknownType(t *testing.T) {
	frameType, frame, err := ParseClientFrame([]byte(`{"type":"userStatus","userId":"u1"}`))
	if err == nil {
		t.Fatal("expected an error for server-only frame type, got nil")
	}
	if frame != nil {
		t.Errorf("expected nil frame for unknown type, got %v", frame)
	}
	if frameType != "userStatus" {
		t.Errorf("expected returned type %q, got %q", "userStatus", frameType)
	}
}

func TestEnvelope_MissingType(t *testing.T) {
	var env Envelope
	if err := json.Unmarshal([]byte(`{"data":"no type field"}`), &env); err == nil {
		t.Fatal("expected error for missing type field, got nil")
	}
}

func TestEnvelope_InvalidJSON(t *testing.T) {
	var env Envelope
	if err := json.Unmarshal([]byte(`{invalid json}`), &env); err == nil {
		t.Fatal("expected error for invalid JSON, got nil")
	}
}

func TestNewServerFrame_InjectsType(t *testing.T) {
	data, err := NewServerFrame(TypeUserStatus, UserStatusEvent{
		UserID:   "u1",
		IsOnline: true,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var result map[string]interface{}
	if err := json.Unmarshal(data, &result); err != nil {
		t.Fatalf("failed to unmarshal result: %v", err)
	}

	if result["type"] != TypeUserStatus {
		t.Errorf("expected type %q, got %v", TypeUserStatus, result["type"])
	}
	if result["userId"] != "u1" {
		t.Errorf("expected userId %q, got %v", "u1", result["userId"])
	}
	if result["isOnline"] != true {
		t.Errorf("expected isOnline true, got %v", result["isOnline"])
	}
}

func TestNewServerFrame_MessageEvent(t *testing.T) {
	lat := 40.7
	lng := -74.0
	data, err := NewServerFrame(TypeMessage, MessageEvent{
		Data: MessageData{
			ID:             "m1",
			ConversationID: "c1",
			Sender:         SenderProfile{ID: "u1", Username: "alice", DisplayName: "Alice"},
			Content:        "",
			MessageType:    "location",
			Metadata:       &LocationMetadata{Latitude: &lat, Longitude: &lng, Address: "NYC"},
			CreatedAt:      1700000000000,
		},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var result struct {
		Type string      `json:"type"`
		Data MessageData `json:"data"`
	}
	if err := json.Unmarshal(data, &result); err != nil {
		t.Fatalf("failed to unmarshal result: %v", err)
	}
	if result.Type != TypeMessage {
		t.Errorf("expected type %q, got %q", TypeMessage, result.Type)
	}
	if result.Data.ID != "m1" || result.Data.Sender.Username != "alice" {
		t.Errorf("unexpected data: %+v", result.Data)
	}
	if result.Data.Metadata == nil || *result.Data.Metadata.Latitude != 40.7 {
		t.Errorf("unexpected metadata: %+v", result.Data.Metadata)
	}
}
