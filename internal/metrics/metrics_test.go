package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestViewers(t *testing.T) {
	device := "viewers-test"
	defer DeleteDevice(device)

	SetViewers(device, 3)
	if v := testutil.ToFloat64(viewers.WithLabelValues(device)); v != 3 {
		t.Errorf("viewers = %v, want 3", v)
	}
	SetViewers(device, 0)
	if v := testutil.ToFloat64(viewers.WithLabelValues(device)); v != 0 {
		t.Errorf("viewers = %v, want 0", v)
	}
}

func TestSetState(t *testing.T) {
	device := "state-test"
	defer DeleteDevice(device)

	SetState(device, "capturing")

	for _, s := range States {
		want := 0.0
		if s == "capturing" {
			want = 1
		}
		if v := testutil.ToFloat64(captureState.WithLabelValues(device, s)); v != want {
			t.Errorf("state{%s} = %v, want %v", s, v, want)
		}
	}

	SetState(device, "invalid")
	if v := testutil.ToFloat64(captureState.WithLabelValues(device, "capturing")); v != 0 {
		t.Errorf("遷移後もcapturingが1のままです: %v", v)
	}
}

func TestCounters(t *testing.T) {
	device := "counter-test"
	defer DeleteDevice(device)

	IncFramesCaptured(device)
	IncFramesCaptured(device)
	IncCaptureSessions(device)
	IncOpenFailures(device)
	AddFramesServed(device, ModeStream, 3)
	AddFramesServed(device, ModeStream, 0)
	IncStreamDisconnects(device)

	if v := testutil.ToFloat64(framesCaptured.WithLabelValues(device)); v != 2 {
		t.Errorf("frames_captured_total = %v, want 2", v)
	}
	if v := testutil.ToFloat64(captureSessions.WithLabelValues(device)); v != 1 {
		t.Errorf("capture_sessions_total = %v, want 1", v)
	}
	if v := testutil.ToFloat64(openFailures.WithLabelValues(device)); v != 1 {
		t.Errorf("open_failures_total = %v, want 1", v)
	}
	if v := testutil.ToFloat64(framesServed.WithLabelValues(device, ModeStream)); v != 3 {
		t.Errorf("frames_served_total = %v, want 3", v)
	}
	if v := testutil.ToFloat64(streamDisconnects.WithLabelValues(device)); v != 1 {
		t.Errorf("stream_disconnects_total = %v, want 1", v)
	}

	// 存在しないデバイスの削除でpanicしない
	DeleteDevice("non-existent-device")
}
