package camera

import (
	"context"
	"time"
)

// State はキャプチャの状態を表す
type State string

const (
	StateIdle      State = "idle"      // 視聴者なし。デバイスは閉じている
	StateCapturing State = "capturing" // デバイスを開いてフレームを取得中
	StateInvalid   State = "invalid"   // デバイスを開けなかった。終端状態
)

// ドライバー名
const (
	DriverV4L2        = "v4l2"
	DriverFFmpeg      = "ffmpeg"
	DriverTestPattern = "testpattern"
)

// Settings はカメラの設定を表す
type Settings struct {
	FPS     int // フレームレート（0でドライバー任せ）
	Width   int // 画像幅
	Height  int // 画像高さ
	Quality int // JPEG品質
}

// Device は設定済みカメラデバイス
type Device struct {
	ID       string        // カメラの一意識別子（URLの1階層目）
	Name     string        // 表示名
	Path     string        // デバイスパス（例: /dev/video0）
	Driver   string        // キャプチャドライバー
	Settings Settings      // キャプチャ設定
	WarmUp   time.Duration // 最初のスナップショット前の待機時間
}

// Timing はポーリングと配信の間隔
type Timing struct {
	PollInterval   time.Duration // idle時に視聴者数を確認する間隔
	FrameInterval  time.Duration // キャプチャ中の1フレーム毎の休止
	WaitInterval   time.Duration // 最初のフレームを待つポーリング間隔
	StreamInterval time.Duration // ストリームで次のフレームを返すまでの間隔
}

// DefaultTiming はデフォルトの間隔を返す
func DefaultTiming() Timing {
	return Timing{
		PollInterval:   100 * time.Millisecond,
		FrameInterval:  10 * time.Millisecond,
		WaitInterval:   100 * time.Millisecond,
		StreamInterval: 10 * time.Millisecond,
	}
}

// Camera はAPIで返すカメラの状態
type Camera struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Device      string    `json:"device"`
	Driver      string    `json:"driver"`
	Width       int       `json:"width,omitempty"`
	Height      int       `json:"height,omitempty"`
	FPS         int       `json:"fps,omitempty"`
	State       State     `json:"state"`
	Viewers     int64     `json:"viewers"`
	LastFrameAt time.Time `json:"last_frame_at,omitzero"`
}

// Manager はカメラ群の起動停止とフレーム取得を担うインターフェース
type Manager interface {
	// Start は全デバイスのSupervisorを起動する
	Start(ctx context.Context) error

	// Stop は全Supervisorを停止して終了を待つ
	Stop(ctx context.Context) error

	// GetCameras は設定順のカメラ一覧を取得する
	GetCameras() []Camera

	// GetCamera は指定されたIDのカメラを取得する
	GetCamera(id string) (*Camera, bool)

	// Acquire は視聴者を1人増やし、解放関数を返す
	Acquire(id string) func()

	// NextFrame は最新フレームを1枚返す
	NextFrame(ctx context.Context, id string) ([]byte, error)

	// Frames はフレームのシーケンスを返す
	Frames(id string) *Sequence
}

// Discovery はカメラデバイスの検出機能を提供する
type Discovery interface {
	// ScanDevices はシステム内の利用可能なカメラデバイスをスキャンする
	ScanDevices(ctx context.Context) ([]string, error)

	// IsDeviceAvailable は指定されたデバイスが利用可能かチェックする
	IsDeviceAvailable(ctx context.Context, device string) bool

	// GetDeviceInfo はデバイスの詳細情報を取得する
	GetDeviceInfo(ctx context.Context, device string) (*DeviceInfo, error)
}

// DeviceInfo はカメラデバイスの詳細情報を表す
type DeviceInfo struct {
	Device      string       `json:"device"`
	Name        string       `json:"name"`
	Driver      string       `json:"driver"`
	Resolutions []Resolution `json:"resolutions,omitempty"`
	Formats     []string     `json:"formats,omitempty"`
}

// Resolution はカメラの解像度を表す
type Resolution struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}
