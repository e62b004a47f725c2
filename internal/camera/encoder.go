package camera

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"sync"
)

// Encoder は画像をJPEGにエンコードする
type Encoder interface {
	Encode(img image.Image) ([]byte, error)
}

// JPEGEncoder は image/jpeg でエンコードする
type JPEGEncoder struct {
	Quality int
}

// Encode implements Encoder.
// 既にJPEGのフレーム（EncodedImage）は再エンコードせずにそのまま返す
func (e JPEGEncoder) Encode(img image.Image) ([]byte, error) {
	if enc, ok := img.(*EncodedImage); ok {
		return enc.Data, nil
	}

	quality := e.Quality
	if quality <= 0 || quality > 100 {
		quality = jpeg.DefaultQuality
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("JPEGエンコードに失敗: %w", err)
	}
	return buf.Bytes(), nil
}

// EncodedImage はデバイスから受け取ったJPEGをそのまま保持する画像
// 画素が必要になった時だけデコードする
type EncodedImage struct {
	Data []byte

	once    sync.Once
	decoded image.Image
}

// NewEncodedImage はJPEGデータを画像として包む
func NewEncodedImage(data []byte) *EncodedImage {
	return &EncodedImage{Data: data}
}

func (e *EncodedImage) image() image.Image {
	e.once.Do(func() {
		img, err := jpeg.Decode(bytes.NewReader(e.Data))
		if err != nil {
			img = image.NewGray(image.Rect(0, 0, 1, 1))
		}
		e.decoded = img
	})
	return e.decoded
}

// ColorModel implements image.Image.
func (e *EncodedImage) ColorModel() color.Model { return e.image().ColorModel() }

// Bounds implements image.Image.
func (e *EncodedImage) Bounds() image.Rectangle { return e.image().Bounds() }

// At implements image.Image.
func (e *EncodedImage) At(x, y int) color.Color { return e.image().At(x, y) }
