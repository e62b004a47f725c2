// Package camera は視聴者がいる間だけカメラを読み出すキャプチャ基盤を担う
//
// # 責務
// - 設定されたカメラデバイスの登録（Registry）
// - デバイス毎の視聴者数の管理（Gate）
// - 最新フレーム1枚だけを保持するキャッシュ（FrameCache）
// - 視聴者数に応じてキャプチャを開始・停止するSupervisor
// - キャッシュからフレームを取り出すReaderとSequence
// - 未設定・無効デバイス向けのプレースホルダー画像
//
// # 仕様
//   - Supervisor はデバイス毎に1つだけ動く。視聴者が何人いてもキャプチャは1本
//   - 視聴者数が0の間はデバイスに一切アクセスしない
//   - デバイスを開けなかった場合は invalid 状態になり、以後は二度と開かない
//   - フレームは上書きされる1枚のスロットで共有する。遅い視聴者はフレームを読み飛ばす
//   - 視聴者数は負にならない
//
// # 使い方
//
//	release := manager.Acquire(id)
//	defer release()
//	data, err := manager.NextFrame(ctx, id)
//
// # 前提要件
//   - ドライバー v4l2: /dev/videoN へのアクセス権限（videoグループ）
//   - ドライバー ffmpeg: ffmpeg コマンド
//   - v4l-utils: カメラ名の取得に使用（任意）
package camera
