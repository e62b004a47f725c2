// Package logging はslogベースの構造化ログをモジュール単位のレベル設定付きで提供する
//
// # 責務
// - 起動時に一度だけ Initialize でグローバルなレベルと形式を設定する
// - GetLogger でモジュール毎のロガーを取得する（module 属性付き）
// - モジュール毎のログレベルを実行中に差し替えられるようにする
//
// # 出力先
// - 標準出力（text または json）
// - systemd journal（journald が利用可能な場合のみ）
// 両方が利用可能な場合はモジュールのレベルで1度だけ判定し、両方に書き出す
//
// # 使い方
//
//	logging.Initialize(logging.Config{Level: "info", Format: "text",
//		Modules: map[string]string{"camera": "debug"}})
//	logger := logging.GetLogger("camera").With("device_id", id)
//	logger.Info("キャプチャを開始しました")
package logging
