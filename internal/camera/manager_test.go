package camera

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"mimamori/internal/config"
)

func newTestManager(t *testing.T, opener Opener, devices ...Device) *DefaultManager {
	t.Helper()
	m, err := NewManager(Options{
		Devices:   devices,
		Timing:    testTiming,
		Opener:    opener,
		Discovery: NewMockDiscovery([]string{"/dev/video0"}),
	})
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	return m
}

func TestDefaultManager_StartStop(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, &fakeOpener{},
		Device{ID: "camA", Path: "/dev/video0"},
		Device{ID: "camB", Path: "/dev/video1"},
	)

	if err := m.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := m.Start(ctx); err == nil {
		t.Error("二重起動でエラーになりません")
	}

	stopCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	if err := m.Stop(stopCtx); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	// 停止済みなら何もしない
	if err := m.Stop(stopCtx); err != nil {
		t.Errorf("2回目の Stop failed: %v", err)
	}
}

func TestDefaultManager_StopDeletesMetrics(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, &fakeOpener{},
		Device{ID: "metrics-camA", Path: "/dev/video0"},
	)

	if err := m.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if n := deviceSeries(t, "metrics-camA"); n == 0 {
		t.Fatal("起動後にデバイスのメトリクスがありません")
	}

	stopCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	if err := m.Stop(stopCtx); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if n := deviceSeries(t, "metrics-camA"); n != 0 {
		t.Errorf("停止後も %d 系列が残っています", n)
	}
}

// deviceSeries はdeviceラベルがidのメトリクス系列を数える
func deviceSeries(t *testing.T, id string) int {
	t.Helper()
	families, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		t.Fatalf("Gather failed: %v", err)
	}
	n := 0
	for _, mf := range families {
		for _, metric := range mf.GetMetric() {
			for _, label := range metric.GetLabel() {
				if label.GetName() == "device" && label.GetValue() == id {
					n++
				}
			}
		}
	}
	return n
}

func TestDefaultManager_GetCameras(t *testing.T) {
	m := newTestManager(t, &fakeOpener{},
		Device{ID: "camB", Name: "裏口", Path: "video1", Settings: Settings{Width: 640, Height: 480}},
		Device{ID: "camA", Path: "0"},
	)

	cameras := m.GetCameras()
	if len(cameras) != 2 {
		t.Fatalf("Expected 2 cameras, got %d", len(cameras))
	}
	if cameras[0].ID != "camB" || cameras[1].ID != "camA" {
		t.Errorf("設定順になっていません: %s, %s", cameras[0].ID, cameras[1].ID)
	}
	if cameras[0].Device != "/dev/video1" || cameras[0].Name != "裏口" || cameras[0].Width != 640 {
		t.Errorf("カメラ情報が違います: %+v", cameras[0])
	}
	if cameras[1].State != StateIdle || cameras[1].Viewers != 0 {
		t.Errorf("初期状態が違います: %+v", cameras[1])
	}

	release := m.Acquire("camA")
	defer release()
	cam, ok := m.GetCamera("camA")
	if !ok || cam.Viewers != 1 {
		t.Errorf("視聴者数が反映されていません: %+v", cam)
	}

	if _, ok := m.GetCamera("missing"); ok {
		t.Error("存在しないカメラが見つかりました")
	}
}

func TestDefaultManager_EndToEnd(t *testing.T) {
	ctx := context.Background()
	opener := &fakeOpener{}
	m := newTestManager(t, opener, Device{ID: "camA", Path: "/dev/video0"})

	if err := m.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer func() {
		_ = m.Stop(ctx)
	}()

	reqCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()

	release := m.Acquire("camA")
	data, err := m.NextFrame(reqCtx, "camA")
	release()
	if err != nil {
		t.Fatalf("NextFrame failed: %v", err)
	}
	if frameNumber(data) == 0 {
		t.Errorf("キャプチャしたフレームが返りません: %v", data)
	}

	cam, _ := m.GetCamera("camA")
	if cam.LastFrameAt.IsZero() {
		t.Error("最終フレーム時刻が記録されていません")
	}

	waitFor(t, time.Second, "idle に戻りません", func() bool {
		c, _ := m.GetCamera("camA")
		return c.State == StateIdle
	})

	// 未設定のデバイスはSequenceが1枚で終わる
	seq := m.Frames("nope")
	if _, err := seq.Next(reqCtx); err != nil {
		t.Errorf("未設定デバイスの1枚目でエラー: %v", err)
	}
}

func TestNewManager_DuplicateIDs(t *testing.T) {
	_, err := NewManager(Options{
		Devices: []Device{{ID: "a", Path: "0"}, {ID: "a", Path: "1"}},
		Opener:  &fakeOpener{},
	})
	if err == nil {
		t.Error("ID重複でエラーになりません")
	}
}

func TestDevicesFromConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Capture.JPEGQuality = 70
	cfg.Devices = []config.DeviceConfig{
		{ID: "camA", Name: "机", Path: "video2", Driver: "ffmpeg", Width: 1280, Height: 720, FPS: 15, WarmUp: config.Duration(2 * time.Second)},
	}

	devices := DevicesFromConfig(cfg)
	if len(devices) != 1 {
		t.Fatalf("Expected 1 device, got %d", len(devices))
	}
	d := devices[0]
	if d.ID != "camA" || d.Name != "机" || d.Path != "video2" || d.Driver != DriverFFmpeg {
		t.Errorf("デバイス情報が違います: %+v", d)
	}
	if d.Settings != (Settings{FPS: 15, Width: 1280, Height: 720, Quality: 70}) {
		t.Errorf("設定が違います: %+v", d.Settings)
	}
	if d.WarmUp != 2*time.Second {
		t.Errorf("Expected warm up 2s, got %v", d.WarmUp)
	}

	m, err := NewManagerFromConfig(cfg, nil)
	if err != nil {
		t.Fatalf("NewManagerFromConfig failed: %v", err)
	}
	if cam, ok := m.GetCamera("camA"); !ok || cam.Device != "/dev/video2" {
		t.Errorf("パスが正規化されていません: %+v", cam)
	}
}
