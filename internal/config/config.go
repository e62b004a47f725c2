package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// AppName は設定ディレクトリ名などに使うアプリケーション名
const AppName = "mimamori"

// Config はアプリケーション全体の設定を保持する構造体
type Config struct {
	Server  ServerConfig   `yaml:"server" toml:"server"`
	Capture CaptureConfig  `yaml:"capture" toml:"capture"`
	Logging LoggingConfig  `yaml:"logging" toml:"logging"`
	Devices []DeviceConfig `yaml:"devices" toml:"devices" validate:"required,min=1,unique=ID,dive"`
}

// ServerConfig はHTTPサーバーの設定
type ServerConfig struct {
	Host string `yaml:"host" toml:"host"`                            // リッスンするホスト
	Port int    `yaml:"port" toml:"port" validate:"min=1,max=65535"` // リッスンするポート番号

	// タイムアウト設定
	ReadTimeout  Duration `yaml:"read_timeout" toml:"read_timeout" validate:"min=0"`   // 読み込みタイムアウト
	WriteTimeout Duration `yaml:"write_timeout" toml:"write_timeout" validate:"min=0"` // 書き込みタイムアウト（0で無効）
}

// CaptureConfig はキャプチャとフレーム配信のタイミング設定
type CaptureConfig struct {
	PollInterval   Duration `yaml:"poll_interval" toml:"poll_interval" validate:"gt=0"`     // 視聴者数の確認間隔
	FrameInterval  Duration `yaml:"frame_interval" toml:"frame_interval" validate:"min=0"`  // キャプチャ中の1フレーム毎の休止
	WaitInterval   Duration `yaml:"wait_interval" toml:"wait_interval" validate:"gt=0"`     // 最初のフレーム待ちのポーリング間隔
	StreamInterval Duration `yaml:"stream_interval" toml:"stream_interval" validate:"gt=0"` // ストリーム配信の間隔
	JPEGQuality    int      `yaml:"jpeg_quality" toml:"jpeg_quality" validate:"min=1,max=100"`
}

// LoggingConfig はログ出力の設定
type LoggingConfig struct {
	Level   string            `yaml:"level" toml:"level" validate:"omitempty,oneof=debug info warn warning error"`
	Format  string            `yaml:"format" toml:"format" validate:"omitempty,oneof=text json"`
	Modules map[string]string `yaml:"modules" toml:"modules"`
}

// DeviceConfig は個別カメラの設定
type DeviceConfig struct {
	ID     string `yaml:"id" toml:"id" validate:"required,excludesall=/ ,ne=api,ne=health,ne=metrics"`       // カメラID（URLの1階層目）
	Name   string `yaml:"name,omitempty" toml:"name"`                                                        // カメラ名
	Path   string `yaml:"path" toml:"path" validate:"required"`                                              // デバイスパス (例: /dev/video0, video0, 0)
	Driver string `yaml:"driver,omitempty" toml:"driver" validate:"omitempty,oneof=v4l2 ffmpeg testpattern"` // キャプチャドライバー

	// カメラ固有の設定
	Width  int      `yaml:"width,omitempty" toml:"width" validate:"min=0,max=4096"`
	Height int      `yaml:"height,omitempty" toml:"height" validate:"min=0,max=4096"`
	FPS    int      `yaml:"fps,omitempty" toml:"fps" validate:"min=0,max=120"`
	WarmUp Duration `yaml:"warm_up,omitempty" toml:"warm_up" validate:"min=0"` // 最初のスナップショット前の待機時間
}

// Duration は "2s" や "100ms" 形式で書ける time.Duration
type Duration time.Duration

// UnmarshalText は文字列から Duration を読み込む（YAML・TOML共通）
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return fmt.Errorf("無効な時間指定 %q: %w", string(text), err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalText は Duration を文字列として書き出す
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Std は time.Duration を返す
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Default はデフォルト設定を返す
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  Duration(10 * time.Second),
			WriteTimeout: 0, // ストリーミング用にタイムアウト無効化
		},
		Capture: CaptureConfig{
			PollInterval:   Duration(100 * time.Millisecond),
			FrameInterval:  Duration(10 * time.Millisecond),
			WaitInterval:   Duration(100 * time.Millisecond),
			StreamInterval: Duration(10 * time.Millisecond),
			JPEGQuality:    85,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Devices: []DeviceConfig{
			{
				ID:     "default",
				Name:   "カメラ 0",
				Path:   "/dev/video0",
				Driver: "v4l2",
			},
		},
	}
}

// DefaultPath は設定ファイルの既定パスを返す（$XDG_CONFIG_HOME/mimamori/config.yaml）
func DefaultPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "config.yaml"
	}
	return filepath.Join(dir, AppName, "config.yaml")
}

// Load は設定を読み込む
// ファイルが存在しない場合はデフォルト設定を使う
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
			// デフォルト設定のまま続行
		case err != nil:
			return nil, fmt.Errorf("設定ファイルの読み込みに失敗: %w", err)
		default:
			if err := decode(path, data, cfg); err != nil {
				return nil, err
			}
		}
	}

	// 環境変数で上書き
	cfg.Server.Host = getEnvOrDefault("SERVER_HOST", cfg.Server.Host)
	cfg.Server.Port = getEnvAsIntOrDefault("PORT", cfg.Server.Port)

	cfg.applyDeviceDefaults()

	// 設定の検証
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("設定の検証に失敗: %w", err)
	}

	return cfg, nil
}

// decode は拡張子に応じてYAMLまたはTOMLとしてデコードする
// ファイルにdevicesがあればデフォルトのデバイスと置き換え、なければデフォルトのまま
func decode(path string, data []byte, cfg *Config) error {
	defaults := cfg.Devices
	cfg.Devices = nil
	defer func() {
		if cfg.Devices == nil {
			cfg.Devices = defaults
		}
	}()

	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if err := toml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("TOML設定の解析に失敗: %w", err)
		}
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("YAML設定の解析に失敗: %w", err)
		}
	}
	return nil
}

// applyDeviceDefaults はデバイス設定の空欄を埋める
func (c *Config) applyDeviceDefaults() {
	for i := range c.Devices {
		d := &c.Devices[i]
		if d.Driver == "" {
			d.Driver = "v4l2"
		}
		if d.Name == "" {
			d.Name = d.ID
		}
	}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate は設定の妥当性を検証する
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("無効な設定値 %s (%s=%s): %v", fe.Namespace(), fe.Tag(), fe.Param(), fe.Value())
		}
		return err
	}
	return nil
}

// ServerAddress はサーバーのリッスンアドレスを返す
func (c *Config) ServerAddress() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// getEnvOrDefault は環境変数を取得し、設定されていない場合はデフォルト値を返す
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsIntOrDefault は環境変数を整数として取得し、設定されていない場合はデフォルト値を返す
func getEnvAsIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		var intVal int
		if _, err := fmt.Sscanf(value, "%d", &intVal); err == nil {
			return intVal
		}
	}
	return defaultValue
}
