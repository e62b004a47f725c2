package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

// Config はログ設定
type Config struct {
	Level   string            // debug, info, warn, error
	Format  string            // text または json
	Modules map[string]string // モジュール毎のレベル上書き
}

var (
	mutex           sync.RWMutex
	globalConfig              = Config{Level: "info", Format: "text"}
	globalLevelVar            = &slog.LevelVar{}
	moduleLoggers             = make(map[string]*slog.Logger)
	moduleLevelVars           = make(map[string]*slog.LevelVar)
	output          io.Writer = os.Stdout
	journalEnabled            = IsJournalAvailable
)

// Initialize はログシステムを初期化する
// 既に作成済みのモジュールロガーもレベルとハンドラーを作り直す
func Initialize(config Config) {
	mutex.Lock()
	defer mutex.Unlock()

	globalConfig = config
	globalLevelVar.Set(parseLevel(config.Level, slog.LevelInfo))

	for module, levelVar := range moduleLevelVars {
		levelVar.Set(moduleLevel(module))
		moduleLoggers[module] = slog.New(createHandler(config.Format, levelVar)).With("module", module)
	}

	slog.SetDefault(slog.New(createHandler(config.Format, globalLevelVar)))
}

// SetOutput は標準出力の代わりに書き出す先を設定する（テスト用）
func SetOutput(w io.Writer) {
	mutex.Lock()
	defer mutex.Unlock()
	output = w
}

// GetLogger は指定モジュールのロガーを返す（なければ作成する）
func GetLogger(module string) *slog.Logger {
	mutex.RLock()
	if logger, exists := moduleLoggers[module]; exists {
		mutex.RUnlock()
		return logger
	}
	mutex.RUnlock()

	mutex.Lock()
	defer mutex.Unlock()

	// 他のゴルーチンが先に作成した場合
	if logger, exists := moduleLoggers[module]; exists {
		return logger
	}

	levelVar := &slog.LevelVar{}
	levelVar.Set(moduleLevel(module))

	logger := slog.New(createHandler(globalConfig.Format, levelVar)).With("module", module)
	moduleLoggers[module] = logger
	moduleLevelVars[module] = levelVar
	return logger
}

// SetModuleLevel は実行中にモジュールのログレベルを変更する
func SetModuleLevel(module, level string) bool {
	mutex.Lock()
	defer mutex.Unlock()

	levelVar, exists := moduleLevelVars[module]
	if !exists {
		return false
	}
	levelVar.Set(parseLevel(level, levelVar.Level()))
	return true
}

// moduleLevel はモジュールの初期レベルを決める（ロック済み前提）
func moduleLevel(module string) slog.Level {
	level := parseLevel(globalConfig.Level, slog.LevelInfo)
	if levelStr, exists := globalConfig.Modules[module]; exists {
		level = parseLevel(levelStr, level)
	}
	return level
}

// createHandler は形式とレベルに応じたハンドラーを作成する（ロック済み前提）
func createHandler(format string, level slog.Leveler) slog.Handler {
	opts := &slog.HandlerOptions{Level: level}

	var stdoutHandler slog.Handler
	if format == "json" {
		stdoutHandler = slog.NewJSONHandler(output, opts)
	} else {
		stdoutHandler = slog.NewTextHandler(output, opts)
	}

	if !journalEnabled() {
		return stdoutHandler
	}
	return newFanoutHandler(level, stdoutHandler, NewJournalHandler(level))
}

// parseLevel は文字列をslog.Levelに変換する。不明な値はfallbackを返す
func parseLevel(level string, fallback slog.Level) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return fallback
	}
}
