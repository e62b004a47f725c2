package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"
)

// resetForTest はグローバル状態を初期化し、出力をバッファに向ける
func resetForTest(t *testing.T) *bytes.Buffer {
	t.Helper()

	buf := &bytes.Buffer{}
	mutex.Lock()
	moduleLoggers = make(map[string]*slog.Logger)
	moduleLevelVars = make(map[string]*slog.LevelVar)
	output = buf
	journalEnabled = func() bool { return false }
	mutex.Unlock()

	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })
	return buf
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"verbose", slog.LevelWarn},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := parseLevel(tt.input, slog.LevelWarn); got != tt.want {
				t.Errorf("parseLevel(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestGetLoggerAddsModuleAttr(t *testing.T) {
	buf := resetForTest(t)
	Initialize(Config{Level: "info", Format: "json"})

	GetLogger("camera").Info("キャプチャ開始", "device_id", "cam0")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("JSONの解析に失敗しました: %v (%q)", err, buf.String())
	}
	if entry["module"] != "camera" {
		t.Errorf("module属性が違います: %v", entry["module"])
	}
	if entry["device_id"] != "cam0" {
		t.Errorf("device_id属性が違います: %v", entry["device_id"])
	}
}

func TestGetLoggerReturnsSameInstance(t *testing.T) {
	resetForTest(t)
	Initialize(Config{Level: "info"})

	if GetLogger("server") != GetLogger("server") {
		t.Error("同じモジュールで別のロガーが返されました")
	}
}

func TestModuleLevelOverride(t *testing.T) {
	buf := resetForTest(t)
	Initialize(Config{Level: "warn", Format: "text", Modules: map[string]string{"camera": "debug"}})

	GetLogger("camera").Debug("カメラのデバッグ")
	GetLogger("server").Info("サーバーの情報")

	out := buf.String()
	if !strings.Contains(out, "カメラのデバッグ") {
		t.Error("モジュール別のdebugレベルが効いていません")
	}
	if strings.Contains(out, "サーバーの情報") {
		t.Error("グローバルのwarnレベルが効いていません")
	}
}

func TestSetModuleLevel(t *testing.T) {
	buf := resetForTest(t)
	Initialize(Config{Level: "info"})

	logger := GetLogger("mjpeg")
	logger.Debug("出力されない")
	if buf.Len() != 0 {
		t.Fatalf("infoレベルでdebugが出力されました: %q", buf.String())
	}

	if !SetModuleLevel("mjpeg", "debug") {
		t.Fatal("既存モジュールのレベル変更に失敗しました")
	}
	logger.Debug("出力される")
	if !strings.Contains(buf.String(), "出力される") {
		t.Error("レベル変更が反映されていません")
	}

	if SetModuleLevel("unknown", "debug") {
		t.Error("未作成のモジュールでtrueが返されました")
	}
}

func TestInitializeRebuildsExistingLoggers(t *testing.T) {
	buf := resetForTest(t)
	Initialize(Config{Level: "error"})
	GetLogger("events")

	Initialize(Config{Level: "info", Format: "json"})
	GetLogger("events").Info("再初期化後")

	if !strings.HasPrefix(strings.TrimSpace(buf.String()), "{") {
		t.Errorf("再初期化後にJSON形式になっていません: %q", buf.String())
	}
}

// failingHandler は常に書き込みに失敗するハンドラー
type failingHandler struct{ slog.Handler }

func (failingHandler) Handle(context.Context, slog.Record) error {
	return errors.New("書き込み失敗")
}

func TestFanoutHandler(t *testing.T) {
	var a, b bytes.Buffer
	level := &slog.LevelVar{}
	level.Set(slog.LevelInfo)

	h := newFanoutHandler(level,
		slog.NewTextHandler(&a, &slog.HandlerOptions{Level: level}),
		slog.NewTextHandler(&b, &slog.HandlerOptions{Level: slog.LevelError}),
	)

	if h.Enabled(context.Background(), slog.LevelDebug) {
		t.Error("モジュールのレベル未満でEnabledがtrueになりました")
	}

	logger := slog.New(h).With("k", "v")
	logger.Debug("debug行")
	logger.Info("info行")
	logger.Error("error行")

	if strings.Contains(a.String(), "debug行") {
		t.Errorf("レベル未満の行が出力されました: %q", a.String())
	}
	if !strings.Contains(a.String(), "info行") || !strings.Contains(a.String(), "error行") {
		t.Errorf("1つ目のハンドラーの出力が違います: %q", a.String())
	}
	if strings.Contains(b.String(), "info行") || !strings.Contains(b.String(), "error行") {
		t.Errorf("2つ目のハンドラーの出力が違います: %q", b.String())
	}
	if !strings.Contains(b.String(), "k=v") {
		t.Errorf("WithAttrsが伝播していません: %q", b.String())
	}

	// レベルの変更はすぐに反映される
	level.Set(slog.LevelDebug)
	logger.Debug("debug行2")
	if !strings.Contains(a.String(), "debug行2") {
		t.Errorf("レベルの変更が反映されていません: %q", a.String())
	}
}

func TestFanoutHandlerCollectsErrors(t *testing.T) {
	var buf bytes.Buffer
	h := newFanoutHandler(slog.LevelInfo,
		failingHandler{slog.NewTextHandler(&buf, nil)},
		slog.NewTextHandler(&buf, nil),
	)

	r := slog.NewRecord(time.Now(), slog.LevelInfo, "メッセージ", 0)
	if err := h.Handle(context.Background(), r); err == nil {
		t.Error("出力先のエラーが返されませんでした")
	}
	if !strings.Contains(buf.String(), "メッセージ") {
		t.Errorf("失敗しなかった出力先に書き出されていません: %q", buf.String())
	}
}

func TestAddAttrToFields(t *testing.T) {
	fields := map[string]string{}
	addAttrToFields(fields, slog.String("device-id", "cam0"), nil)
	addAttrToFields(fields, slog.Int("viewers", 3), []string{"gate"})
	addAttrToFields(fields, slog.Group("frame", slog.Int("seq", 7)), nil)

	if fields["DEVICE_ID"] != "cam0" {
		t.Errorf("DEVICE_ID = %q", fields["DEVICE_ID"])
	}
	if fields["GATE_VIEWERS"] != "3" {
		t.Errorf("GATE_VIEWERS = %q", fields["GATE_VIEWERS"])
	}
	if fields["FRAME_SEQ"] != "7" {
		t.Errorf("FRAME_SEQ = %q", fields["FRAME_SEQ"])
	}
}
