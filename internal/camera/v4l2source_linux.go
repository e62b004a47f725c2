//go:build linux

package camera

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sort"
	"syscall"

	"github.com/blackjack/webcam"
)

// V4L2のピクセルフォーマット (fourcc)
const (
	pixFmtMJPEG = webcam.PixelFormat('M' | 'J'<<8 | 'P'<<16 | 'G'<<24)
	pixFmtYUYV  = webcam.PixelFormat('Y' | 'U'<<8 | 'Y'<<16 | 'V'<<24)
)

// フレーム待ちのタイムアウト（秒）
// 超えたら ErrFrameTimeout を返してSupervisorに視聴者数を確認させる
const v4l2FrameTimeout = 1

// v4l2Source はV4L2デバイスを直接読むSource
type v4l2Source struct {
	cam    *webcam.Webcam
	format webcam.PixelFormat
	width  int
	height int
}

// OpenV4L2 はV4L2デバイスを開いてストリーミングを開始する
// MJPEGに対応していればMJPEG、なければYUYVを使う
func OpenV4L2(_ context.Context, dev Device) (Source, error) {
	cam, err := webcam.Open(dev.Path)
	if err != nil {
		return nil, fmt.Errorf("V4L2デバイスのオープンに失敗: %w", err)
	}

	format, err := chooseFormat(cam.GetSupportedFormats())
	if err != nil {
		_ = cam.Close()
		return nil, err
	}

	width, height := dev.Settings.Width, dev.Settings.Height
	if width <= 0 || height <= 0 {
		width, height = largestFrameSize(cam.GetSupportedFrameSizes(format))
	}

	gotFormat, w, h, err := cam.SetImageFormat(format, uint32(width), uint32(height))
	if err != nil {
		_ = cam.Close()
		return nil, fmt.Errorf("画像フォーマットの設定に失敗: %w", err)
	}

	if dev.Settings.FPS > 0 {
		// フレームレート変更に対応しないデバイスもあるため失敗は無視する
		_ = cam.SetFramerate(float32(dev.Settings.FPS))
	}

	if err := cam.SetBufferCount(4); err != nil {
		_ = cam.Close()
		return nil, fmt.Errorf("バッファ数の設定に失敗: %w", err)
	}

	if err := cam.StartStreaming(); err != nil {
		_ = cam.Close()
		return nil, fmt.Errorf("ストリーミングの開始に失敗: %w", err)
	}

	return &v4l2Source{
		cam:    cam,
		format: gotFormat,
		width:  int(w),
		height: int(h),
	}, nil
}

// Next implements Source.
func (s *v4l2Source) Next(ctx context.Context) (image.Image, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		err := s.cam.WaitForFrame(v4l2FrameTimeout)
		switch err.(type) {
		case nil:
		case *webcam.Timeout:
			return nil, fmt.Errorf("%w: %s (%d秒)", ErrFrameTimeout, err, v4l2FrameTimeout)
		default:
			return nil, wrapV4L2Error("フレーム待ちに失敗", err)
		}

		frame, err := s.cam.ReadFrame()
		if err != nil {
			return nil, wrapV4L2Error("フレームの読み取りに失敗", err)
		}
		if len(frame) == 0 {
			continue
		}

		// ReadFrameのバッファはドライバーに返されるのでコピーする
		data := make([]byte, len(frame))
		copy(data, frame)

		if s.format == pixFmtMJPEG {
			return NewEncodedImage(data), nil
		}
		return yuyvToYCbCr(data, s.width, s.height, yuyvStride(len(data), s.width, s.height))
	}
}

// Close implements Source.
func (s *v4l2Source) Close() error {
	stopErr := s.cam.StopStreaming()
	closeErr := s.cam.Close()
	return errors.Join(stopErr, closeErr)
}

// chooseFormat はMJPEG、YUYVの順で使えるフォーマットを選ぶ
func chooseFormat(formats map[webcam.PixelFormat]string) (webcam.PixelFormat, error) {
	for _, f := range []webcam.PixelFormat{pixFmtMJPEG, pixFmtYUYV} {
		if _, ok := formats[f]; ok {
			return f, nil
		}
	}
	names := make([]string, 0, len(formats))
	for _, name := range formats {
		names = append(names, name)
	}
	sort.Strings(names)
	return 0, fmt.Errorf("対応するピクセルフォーマットがありません: %v", names)
}

// largestFrameSize は最大の解像度を返す。情報がなければ640x480
func largestFrameSize(sizes []webcam.FrameSize) (int, int) {
	width, height := 640, 480
	best := 0
	for _, s := range sizes {
		if area := int(s.MaxWidth) * int(s.MaxHeight); area > best {
			best = area
			width, height = int(s.MaxWidth), int(s.MaxHeight)
		}
	}
	return width, height
}

// wrapV4L2Error はデバイスが外された場合に ErrDeviceUnavailable を包む
func wrapV4L2Error(msg string, err error) error {
	if errors.Is(err, syscall.ENODEV) || errors.Is(err, syscall.EIO) || errors.Is(err, syscall.ENXIO) {
		return fmt.Errorf("%s: %w: %v", msg, ErrDeviceUnavailable, err)
	}
	return fmt.Errorf("%s: %w", msg, err)
}

// probeV4L2 はデバイスのフォーマットと解像度を調べる
func probeV4L2(path string) (name string, formats []string, resolutions []Resolution, err error) {
	cam, err := webcam.Open(path)
	if err != nil {
		return "", nil, nil, err
	}
	defer func() {
		_ = cam.Close()
	}()

	name, _ = cam.GetName()

	seen := make(map[Resolution]bool)
	for f, desc := range cam.GetSupportedFormats() {
		formats = append(formats, desc)
		for _, s := range cam.GetSupportedFrameSizes(f) {
			r := Resolution{Width: int(s.MaxWidth), Height: int(s.MaxHeight)}
			if !seen[r] {
				seen[r] = true
				resolutions = append(resolutions, r)
			}
		}
	}
	sort.Strings(formats)
	sort.Slice(resolutions, func(i, j int) bool {
		return resolutions[i].Width*resolutions[i].Height < resolutions[j].Width*resolutions[j].Height
	})
	return name, formats, resolutions, nil
}
