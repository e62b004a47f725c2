package camera

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"mimamori/internal/config"
	"mimamori/internal/events"
	"mimamori/internal/logging"
	"mimamori/internal/metrics"
)

// Options はDefaultManagerの構成
type Options struct {
	Devices   []Device
	Timing    Timing
	Opener    Opener    // nilなら標準ドライバーのSourceFactory
	Encoder   Encoder   // nilなら品質85のJPEGEncoder
	Discovery Discovery // nilならLinuxDiscovery
	Bus       *events.Bus
}

// DefaultManager はManagerのデフォルト実装
// デバイスは起動時に固定され、実行中の追加・削除はしない
type DefaultManager struct {
	registry    *Registry
	gate        *Gate
	cache       *FrameCache
	reader      *Reader
	supervisors map[string]*Supervisor
	discovery   Discovery
	logger      *slog.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
}

// NewManager は新しいDefaultManagerを作成する
func NewManager(opts Options) (*DefaultManager, error) {
	registry, err := NewRegistry(opts.Devices)
	if err != nil {
		return nil, fmt.Errorf("デバイスの登録に失敗: %w", err)
	}

	if opts.Timing == (Timing{}) {
		opts.Timing = DefaultTiming()
	}
	if opts.Opener == nil {
		opts.Opener = NewSourceFactory()
	}
	if opts.Encoder == nil {
		opts.Encoder = JPEGEncoder{Quality: 85}
	}
	if opts.Discovery == nil {
		opts.Discovery = NewLinuxDiscovery()
	}

	ids := registry.IDs()
	gate := NewGate(ids, opts.Bus)
	cache := NewFrameCache(ids)

	supervisors := make(map[string]*Supervisor, len(ids))
	for _, dev := range registry.Devices() {
		supervisors[dev.ID] = NewSupervisor(dev, gate, cache, opts.Opener, opts.Encoder, opts.Bus, opts.Timing)
	}

	return &DefaultManager{
		registry:    registry,
		gate:        gate,
		cache:       cache,
		reader:      NewReader(registry, cache, opts.Timing),
		supervisors: supervisors,
		discovery:   opts.Discovery,
		logger:      logging.GetLogger("camera"),
	}, nil
}

// NewManagerFromConfig は設定ファイルの内容からDefaultManagerを作成する
func NewManagerFromConfig(cfg *config.Config, bus *events.Bus) (*DefaultManager, error) {
	return NewManager(Options{
		Devices: DevicesFromConfig(cfg),
		Timing: Timing{
			PollInterval:   cfg.Capture.PollInterval.Std(),
			FrameInterval:  cfg.Capture.FrameInterval.Std(),
			WaitInterval:   cfg.Capture.WaitInterval.Std(),
			StreamInterval: cfg.Capture.StreamInterval.Std(),
		},
		Encoder: JPEGEncoder{Quality: cfg.Capture.JPEGQuality},
		Bus:     bus,
	})
}

// DevicesFromConfig は設定のデバイス一覧をDeviceに変換する
func DevicesFromConfig(cfg *config.Config) []Device {
	devices := make([]Device, 0, len(cfg.Devices))
	for _, d := range cfg.Devices {
		devices = append(devices, Device{
			ID:     d.ID,
			Name:   d.Name,
			Path:   d.Path,
			Driver: d.Driver,
			Settings: Settings{
				FPS:     d.FPS,
				Width:   d.Width,
				Height:  d.Height,
				Quality: cfg.Capture.JPEGQuality,
			},
			WarmUp: d.WarmUp.Std(),
		})
	}
	return devices
}

// Start は全デバイスのSupervisorを起動する
func (m *DefaultManager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.started {
		return errors.New("カメラマネージャーは既に開始しています")
	}

	// 見つからないデバイスは警告だけ出す。開けなければ最初の視聴時にinvalidになる
	for _, dev := range m.registry.Devices() {
		if dev.Driver == DriverTestPattern {
			continue
		}
		if !m.discovery.IsDeviceAvailable(ctx, dev.Path) {
			m.logger.Warn("設定されたデバイスが見つかりません", "device_id", dev.ID, "device", dev.Path)
		}
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	m.cancel = cancel
	m.started = true

	for _, id := range m.registry.IDs() {
		sup := m.supervisors[id]
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			sup.Run(runCtx)
		}()
	}

	m.logger.Info("カメラマネージャーを開始しました", "devices", len(m.supervisors))
	return nil
}

// Stop は全Supervisorを停止して終了を待つ
func (m *DefaultManager) Stop(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.started {
		return nil
	}
	m.cancel()
	m.started = false

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		// 停止したデバイスの系列を/metricsに残さない
		for _, id := range m.registry.IDs() {
			metrics.DeleteDevice(id)
		}
		m.logger.Info("カメラマネージャーを停止しました")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("キャプチャの停止待ちがタイムアウトしました: %w", ctx.Err())
	}
}

// GetCameras は設定順のカメラ一覧を取得する
func (m *DefaultManager) GetCameras() []Camera {
	devices := m.registry.Devices()
	cameras := make([]Camera, 0, len(devices))
	for _, dev := range devices {
		cameras = append(cameras, m.snapshot(dev))
	}
	return cameras
}

// GetCamera は指定されたIDのカメラを取得する
func (m *DefaultManager) GetCamera(id string) (*Camera, bool) {
	dev, err := m.registry.Get(id)
	if err != nil {
		return nil, false
	}
	c := m.snapshot(dev)
	return &c, true
}

func (m *DefaultManager) snapshot(dev Device) Camera {
	sup := m.supervisors[dev.ID]
	return Camera{
		ID:          dev.ID,
		Name:        dev.Name,
		Device:      dev.Path,
		Driver:      dev.Driver,
		Width:       dev.Settings.Width,
		Height:      dev.Settings.Height,
		FPS:         dev.Settings.FPS,
		State:       sup.State(),
		Viewers:     m.gate.Count(dev.ID),
		LastFrameAt: sup.LastFrameAt(),
	}
}

// Acquire は視聴者を1人増やし、解放関数を返す
func (m *DefaultManager) Acquire(id string) func() {
	return m.gate.Acquire(id)
}

// NextFrame は最新フレームを1枚返す
func (m *DefaultManager) NextFrame(ctx context.Context, id string) ([]byte, error) {
	return m.reader.NextFrame(ctx, id)
}

// Frames はフレームのシーケンスを返す
func (m *DefaultManager) Frames(id string) *Sequence {
	return m.reader.Frames(id)
}
