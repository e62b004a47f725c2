package camera

import (
	"fmt"
	"image"
)

// yuyvStride はフレーム長から1行のバイト数を求める
// ドライバーが行末をパディングしていればwidth*2より大きくなる
func yuyvStride(frameLen, width, height int) int {
	if height > 0 {
		if stride := frameLen / height; stride > width*2 {
			return stride
		}
	}
	return width * 2
}

// yuyvToYCbCr はYUYV (4:2:2) のフレームを image.YCbCr に変換する
// strideは1行のバイト数で、width*2未満ならパディングなしとみなす
func yuyvToYCbCr(data []byte, width, height, stride int) (*image.YCbCr, error) {
	if width <= 0 || height <= 0 || width%2 != 0 {
		return nil, fmt.Errorf("YUYVの解像度が不正です: %dx%d", width, height)
	}
	if stride < width*2 {
		stride = width * 2
	}
	// 最終行のパディングは省略されることがある
	need := stride*(height-1) + width*2
	if len(data) < need {
		return nil, fmt.Errorf("YUYVフレームが短すぎます: %d < %d", len(data), need)
	}

	img := image.NewYCbCr(image.Rect(0, 0, width, height), image.YCbCrSubsampleRatio422)
	for y := 0; y < height; y++ {
		row := data[y*stride : y*stride+width*2]
		for x := 0; x < width; x += 2 {
			i := x * 2
			img.Y[y*img.YStride+x] = row[i]
			img.Y[y*img.YStride+x+1] = row[i+2]
			ci := y*img.CStride + x/2
			img.Cb[ci] = row[i+1]
			img.Cr[ci] = row[i+3]
		}
	}
	return img, nil
}
