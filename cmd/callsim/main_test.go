package main

import (
	"context"
	"io"
	"log/slog"
	"net"
	"testing"
	"time"

	"github.com/jnkforks/CallRecorder/internal/callstate"
	"github.com/jnkforks/CallRecorder/internal/protocol"
)

func TestParseStates(t *testing.T) {
	tests := []struct {
		args    []string
		want    []callstate.State
		wantErr bool
	}{
		{[]string{"ringing", "offhook", "idle"}, []callstate.State{callstate.Ringing, callstate.OffHook, callstate.Idle}, false},
		{[]string{"idle"}, []callstate.State{callstate.Idle}, false},
		{[]string{"ringing", "busy"}, nil, true},
		{[]string{"OFFHOOK"}, nil, true},
	}

	for _, tt := range tests {
		got, err := parseStates(tt.args)
		if (err != nil) != tt.wantErr {
			t.Errorf("parseStates(%v): expected error %v, got %v", tt.args, tt.wantErr, err)
			continue
		}
		if len(got) != len(tt.want) {
			t.Errorf("parseStates(%v): expected %v, got %v", tt.args, tt.want, got)
			continue
		}
		for i := range got {
			if got[i] != tt.want[i] {
				t.Errorf("parseStates(%v)[%d]: expected %s, got %s", tt.args, i, tt.want[i], got[i])
			}
		}
	}
}

func TestSendStates(t *testing.T) {
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Skipf("UDP loopback not available: %v", err)
	}
	defer pc.Close()

	states, err := parseStates([]string{"ringing", "offhook", "idle"})
	if err != nil {
		t.Fatalf("parseStates failed: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	pause := func(callstate.State) time.Duration { return time.Millisecond }
	if err := sendStates(context.Background(), logger, pc.LocalAddr().String(), 7, "+15550100", states, pause); err != nil {
		t.Fatalf("sendStates failed: %v", err)
	}

	buf := make([]byte, 512)
	for i, want := range states {
		pc.SetReadDeadline(time.Now().Add(2 * time.Second))
		n, _, err := pc.ReadFrom(buf)
		if err != nil {
			t.Fatalf("Datagram %d not received: %v", i, err)
		}
		packet, err := protocol.ParsePacket(buf[:n])
		if err != nil {
			t.Fatalf("Datagram %d invalid: %v", i, err)
		}
		if got := packet.Header.CallState(); got != want {
			t.Errorf("Datagram %d: expected %s, got %s", i, want, got)
		}
		if packet.Header.LineID != 7 {
			t.Errorf("Datagram %d: expected line 7, got %d", i, packet.Header.LineID)
		}
		if packet.CallState == nil || packet.CallState.GetNumber() != "+15550100" {
			t.Errorf("Datagram %d: unexpected payload %+v", i, packet.CallState)
		}
	}
}

func TestSendStatesStopsOnCancel(t *testing.T) {
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Skipf("UDP loopback not available: %v", err)
	}
	defer pc.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	pause := func(callstate.State) time.Duration { return time.Hour }
	states := []callstate.State{callstate.Ringing, callstate.Idle}
	if err := sendStates(ctx, logger, pc.LocalAddr().String(), 1, "1", states, pause); err != context.Canceled {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
}
