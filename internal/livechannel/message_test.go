package livechannel

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/yndnr/querydeck-go/internal/core/domain"
)

func TestDecode(t *testing.T) {
	tests := []struct {
		frame string
		want  MessageType
	}{
		{`{"type":"real_time_data","data":{"active_users":1}}`, TypeRealTimeData},
		{`{"type":"query_result","result":{"rows":[]}}`, TypeQueryResult},
		{`{"type":"analytics_update","analytics":{}}`, TypeAnalyticsUpdate},
		{`{"type":"stream_started","message":"Real-time data streaming started"}`, TypeStreamStarted},
		{`{"type":"stream_stopped","message":"stopped"}`, TypeStreamStopped},
		{`{"type":"pong","timestamp":"t"}`, TypePong},
		{`{"type":"error","message":"Database not connected or invalid query"}`, TypeError},
		{`{"type":"echo","original_message":{"type":"hello"}}`, TypeEcho},
		{`{"type":"brand_new"}`, MessageType("brand_new")},
	}
	for _, tt := range tests {
		t.Run(string(tt.want), func(t *testing.T) {
			m, err := Decode([]byte(tt.frame))
			if err != nil {
				t.Fatalf("Decode() error = %v", err)
			}
			if m.Type() != tt.want {
				t.Errorf("Type() = %q, want %q", m.Type(), tt.want)
			}
		})
	}
}

func TestDecode_Errors(t *testing.T) {
	for _, frame := range []string{"Echo: plain text", `{"type":"real_time_data","data":"oops"}`} {
		if _, err := Decode([]byte(frame)); !errors.Is(err, domain.ErrBadRequest) {
			t.Errorf("Decode(%q) error = %v", frame, err)
		}
	}
}

func TestEncode(t *testing.T) {
	data, err := Encode(ErrorMessage{Message: "boom"})
	if err != nil {
		t.Fatal(err)
	}
	var got map[string]string
	json.Unmarshal(data, &got)
	if got["type"] != "error" || got["message"] != "boom" {
		t.Errorf("Encode() = %s", data)
	}

	back, err := Decode(data)
	if err != nil {
		t.Fatal(err)
	}
	if em, ok := back.(ErrorMessage); !ok || em.Message != "boom" {
		t.Errorf("Decode(Encode()) = %#v", back)
	}
}

func TestCommand_Valid(t *testing.T) {
	tests := []struct {
		cmd  Command
		want bool
	}{
		{StartStream(), true},
		{StopStream(), true},
		{Ping(), true},
		{ExecuteQuery("SELECT 1"), true},
		{ExecuteQuery(""), false},
		{Command{Type: "shutdown"}, false},
	}
	for _, tt := range tests {
		if got := tt.cmd.Valid(); got != tt.want {
			t.Errorf("%+v.Valid() = %v, want %v", tt.cmd, got, tt.want)
		}
	}
}
