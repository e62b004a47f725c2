// Package server は、HTTPでカメラ映像を配信します。
//
// 責務:
//   - HTTPサーバーの起動とグレースフルシャットダウン
//   - スナップショット（/{deviceId}/frame）の配信
//   - MJPEGストリーム（/{deviceId}/stream）の配信
//   - WebSocketによるJPEGフレームの配信（/{deviceId}/ws）
//   - カメラ一覧と状態のAPI、Prometheusメトリクスの公開
//   - 状態と視聴者数の変化をSSE（/api/events）で通知
//   - モジュール毎のログレベル変更（PUT /api/log-level）
//
// 仕様:
//   - ルーティングはginを使用
//   - WebSocketはgorilla/websocketを使用
//   - フレームを読む全てのハンドラーは視聴者として数えられ、終了時に必ず解放する
//   - 未設定・無効なデバイスにもHTTP 200でプレースホルダー画像を返す
//   - systemd配下では起動完了と停止開始を通知する
package server
