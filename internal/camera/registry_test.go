package camera

import (
	"errors"
	"testing"
)

func TestNormalizePath(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"1", "/dev/video1"},
		{"video1", "/dev/video1"},
		{"/dev/video1", "/dev/video1"},
		{" video12 ", "/dev/video12"},
		{"videofoo", "videofoo"},
		{"/dev/v4l/by-id/usb-cam", "/dev/v4l/by-id/usb-cam"},
		{"", ""},
	}

	for _, tt := range tests {
		if got := NormalizePath(tt.input); got != tt.want {
			t.Errorf("NormalizePath(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestRegistry(t *testing.T) {
	registry, err := NewRegistry([]Device{
		{ID: "camB", Path: "video2"},
		{ID: "camA", Path: "0", Name: "玄関", Driver: DriverFFmpeg},
	})
	if err != nil {
		t.Fatalf("NewRegistry failed: %v", err)
	}

	// 設定順が保たれる
	ids := registry.IDs()
	if len(ids) != 2 || ids[0] != "camB" || ids[1] != "camA" {
		t.Errorf("Expected [camB camA], got %v", ids)
	}

	dev, err := registry.Get("camB")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if dev.Path != "/dev/video2" || dev.Name != "camB" || dev.Driver != DriverV4L2 {
		t.Errorf("既定値が補われていません: %+v", dev)
	}

	if _, err := registry.Get("missing"); !errors.Is(err, ErrUnconfiguredDevice) {
		t.Errorf("Expected ErrUnconfiguredDevice, got %v", err)
	}
	if registry.Has("missing") || !registry.Has("camA") {
		t.Error("Has の結果が違います")
	}
}

func TestRegistry_Invalid(t *testing.T) {
	if _, err := NewRegistry([]Device{{ID: "a", Path: "0"}, {ID: "a", Path: "1"}}); err == nil {
		t.Error("ID重複でエラーになりません")
	}
	if _, err := NewRegistry([]Device{{Path: "0"}}); err == nil {
		t.Error("空のIDでエラーになりません")
	}
}
