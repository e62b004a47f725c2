package camera

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"sync"

	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// プレースホルダーのメッセージ
const (
	MessageInvalidDevice = "invalid device"
	MessageNotConfigured = "device not configured"
)

// プレースホルダー画像のサイズ
const (
	PlaceholderWidth  = 640
	PlaceholderHeight = 480
	placeholderScale  = 3
)

var (
	placeholderBackground = color.RGBA{R: 24, G: 24, B: 24, A: 255}
	placeholderCache      sync.Map // message -> []byte
)

// InvalidDevicePlaceholder は開けなかったデバイス用の画像を返す
func InvalidDevicePlaceholder() []byte {
	return Placeholder(MessageInvalidDevice)
}

// NotConfiguredPlaceholder は未設定デバイス用の画像を返す
func NotConfiguredPlaceholder() []byte {
	return Placeholder(MessageNotConfigured)
}

// Placeholder は暗い背景に白文字でメッセージを描いたJPEGを返す
// メッセージはJPEGのCOMセグメントにも埋め込む
// 結果はメッセージ毎にキャッシュされる。呼び出し側は書き換えないこと
func Placeholder(message string) []byte {
	if cached, ok := placeholderCache.Load(message); ok {
		return cached.([]byte)
	}
	data := renderPlaceholder(message)
	actual, _ := placeholderCache.LoadOrStore(message, data)
	return actual.([]byte)
}

// PlaceholderMessage はJPEGのCOMセグメントからメッセージを取り出す
func PlaceholderMessage(data []byte) (string, bool) {
	// SOI の直後のセグメントだけを見る
	if len(data) < 6 || data[0] != 0xFF || data[1] != 0xD8 || data[2] != 0xFF || data[3] != 0xFE {
		return "", false
	}
	length := int(data[4])<<8 | int(data[5])
	if length < 2 || len(data) < 4+length {
		return "", false
	}
	return string(data[6 : 4+length]), true
}

func renderPlaceholder(message string) []byte {
	// 等倍で文字を描いてからNearestNeighborで拡大する
	face := basicfont.Face7x13
	small := image.NewRGBA(image.Rect(0, 0, PlaceholderWidth/placeholderScale, PlaceholderHeight/placeholderScale))
	draw.Draw(small, small.Bounds(), image.NewUniform(placeholderBackground), image.Point{}, draw.Src)

	d := &font.Drawer{
		Dst:  small,
		Src:  image.NewUniform(color.White),
		Face: face,
	}
	textWidth := d.MeasureString(message).Ceil()
	x := (small.Bounds().Dx() - textWidth) / 2
	y := (small.Bounds().Dy() + face.Ascent - face.Descent) / 2
	d.Dot = fixed.P(max(x, 0), y)
	d.DrawString(message)

	img := image.NewRGBA(image.Rect(0, 0, PlaceholderWidth, PlaceholderHeight))
	draw.NearestNeighbor.Scale(img, img.Bounds(), small, small.Bounds(), draw.Src, nil)

	var buf bytes.Buffer
	// メモリ上のRGBAからbytes.Bufferへのエンコードは失敗しない
	_ = jpeg.Encode(&buf, img, &jpeg.Options{Quality: 75})
	return withComment(buf.Bytes(), message)
}

// withComment はSOIの直後にCOMセグメントを挿入する
func withComment(jpg []byte, comment string) []byte {
	body := []byte(comment)
	if len(body) > 0xFFFF-2 {
		body = body[:0xFFFF-2]
	}
	length := len(body) + 2

	out := make([]byte, 0, len(jpg)+4+len(body))
	out = append(out, jpg[:2]...)
	out = append(out, 0xFF, 0xFE, byte(length>>8), byte(length))
	out = append(out, body...)
	return append(out, jpg[2:]...)
}
