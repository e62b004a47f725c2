package camera

import (
	"context"
	"image"
)

// Source は開いたキャプチャデバイス
// Supervisorのゴルーチンだけが所有し、並行には呼ばれない
type Source interface {
	// Next は次のフレームを返す
	// 終端に達した場合は io.EOF、デバイスが失われた場合は ErrDeviceUnavailable を包んだエラーを返す
	Next(ctx context.Context) (image.Image, error)

	// Close はデバイスを閉じる
	Close() error
}

// Opener はデバイスを開いてSourceを返す
type Opener interface {
	Open(ctx context.Context, dev Device) (Source, error)
}

// OpenerFunc は関数をOpenerとして使うためのアダプター
type OpenerFunc func(ctx context.Context, dev Device) (Source, error)

// Open implements Opener.
func (f OpenerFunc) Open(ctx context.Context, dev Device) (Source, error) {
	return f(ctx, dev)
}
