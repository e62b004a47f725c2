package camera

import "errors"

var (
	// ErrUnconfiguredDevice はレジストリにないデバイスIDが指定された
	ErrUnconfiguredDevice = errors.New("未設定のデバイス")

	// ErrDeviceOpen はデバイスを開けなかった
	ErrDeviceOpen = errors.New("デバイスを開けません")

	// ErrDeviceUnavailable はキャプチャ中にデバイスが使えなくなった
	ErrDeviceUnavailable = errors.New("デバイスが利用できません")

	// ErrFrameTimeout はフレームが時間内に届かなかった。デバイスは開いたまま
	ErrFrameTimeout = errors.New("フレーム待ちがタイムアウトしました")
)
