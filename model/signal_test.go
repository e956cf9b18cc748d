package model

import (
	"errors"
	"testing"
	"time"

	"github.com/signalsfoundry/phy-decider/mapping"
)

var t0 = time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)

func TestReceivingPowerAppliesAttenuationsOnce(t *testing.T) {
	s := NewSignal(t0, 10*time.Millisecond, 8)
	if err := s.AddAttenuation(mapping.Constant(0.5)); err != nil {
		t.Fatalf("AddAttenuation error: %v", err)
	}
	if err := s.AddAttenuation(mapping.Constant(0.25)); err != nil {
		t.Fatalf("AddAttenuation error: %v", err)
	}

	mid := mapping.At(t0.Add(5 * time.Millisecond))
	if got := s.ReceivingPower().Value(mid); got != 1 {
		t.Fatalf("receiving power = %v, want 1", got)
	}
	if s.ReceivingPower() != s.ReceivingPower() {
		t.Fatalf("receiving power not cached")
	}
	if err := s.AddAttenuation(mapping.Constant(2)); !errors.Is(err, ErrSignalSealed) {
		t.Fatalf("AddAttenuation after use = %v, want ErrSignalSealed", err)
	}
	if got := s.ReceivingPower().Value(mapping.At(t0.Add(11 * time.Millisecond))); got != 0 {
		t.Fatalf("power after reception end = %v, want 0", got)
	}
}

func TestBitrateHeaderAndPayload(t *testing.T) {
	s := NewSignal(t0, 10*time.Millisecond, 1)
	if s.HeaderBitrate() != 0 || s.PayloadBitrate() != 0 {
		t.Fatalf("bitrate without function should be 0")
	}
	s.SetBitrate(2*time.Millisecond, 1024, 4e3)
	if got := s.HeaderBitrate(); got != 1024 {
		t.Fatalf("HeaderBitrate() = %v, want 1024", got)
	}
	if got := s.PayloadBitrate(); got != 4e3 {
		t.Fatalf("PayloadBitrate() = %v, want 4e3", got)
	}

	f := &Frame{ID: 1, Signal: s, HeaderLength: 2}
	if got := f.HeaderDuration(); got != 1953125*time.Nanosecond {
		t.Fatalf("HeaderDuration() = %v, want 2 bits at 1024 bit/s", got)
	}
	f.HeaderLength = 0
	if got := f.HeaderDuration(); got != 0 {
		t.Fatalf("HeaderDuration() without header = %v, want 0", got)
	}
}

func TestParseSenseMode(t *testing.T) {
	cases := map[string]SenseMode{
		"until_idle":    UntilIdle,
		"busy":          UntilBusy,
		"until_timeout": UntilTimeout,
	}
	for in, want := range cases {
		got, err := ParseSenseMode(in)
		if err != nil || got != want {
			t.Fatalf("ParseSenseMode(%q) = %v, %v; want %v", in, got, err, want)
		}
		if _, err := ParseSenseMode(want.String()); err != nil {
			t.Fatalf("String() of %v does not parse back: %v", want, err)
		}
	}
	if _, err := ParseSenseMode("never"); err == nil {
		t.Fatalf("expected error for unknown mode")
	}
}

func TestSenseRequestResult(t *testing.T) {
	csr := &ChannelSenseRequest{ID: 3, Mode: UntilIdle}
	if _, ok := csr.Result(); ok {
		t.Fatalf("fresh request reports an answer")
	}
	csr.SetResult(ChannelState{Idle: true, RSSI: 2})
	state, ok := csr.Result()
	if !ok || !state.Idle || state.RSSI != 2 {
		t.Fatalf("Result() = %+v, %v", state, ok)
	}
}
