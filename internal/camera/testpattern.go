package camera

import (
	"context"
	"image"
	"image/color"
	"time"
)

// カラーバー（SMPTE風の7色）
var testPatternBars = []color.RGBA{
	{R: 192, G: 192, B: 192, A: 255},
	{R: 192, G: 192, B: 0, A: 255},
	{R: 0, G: 192, B: 192, A: 255},
	{R: 0, G: 192, B: 0, A: 255},
	{R: 192, G: 0, B: 192, A: 255},
	{R: 192, G: 0, B: 0, A: 255},
	{R: 0, G: 0, B: 192, A: 255},
}

// testPatternSource は動くカラーバーを生成するSource
// カメラがない環境での動作確認に使う
type testPatternSource struct {
	width, height int
	interval      time.Duration
	frame         int
	last          time.Time
}

// OpenTestPattern はテストパターンのSourceを作成する
func OpenTestPattern(_ context.Context, dev Device) (Source, error) {
	width, height := dev.Settings.Width, dev.Settings.Height
	if width <= 0 || height <= 0 {
		width, height = 640, 480
	}
	fps := dev.Settings.FPS
	if fps <= 0 {
		fps = 15
	}
	return &testPatternSource{
		width:    width,
		height:   height,
		interval: time.Second / time.Duration(fps),
	}, nil
}

// Next implements Source.
func (s *testPatternSource) Next(ctx context.Context) (image.Image, error) {
	if !s.last.IsZero() {
		if wait := s.interval - time.Since(s.last); wait > 0 {
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil, ctx.Err()
			case <-timer.C:
			}
		}
	}
	s.last = time.Now()
	s.frame++
	return renderTestPattern(s.width, s.height, s.frame), nil
}

// Close implements Source.
func (s *testPatternSource) Close() error {
	return nil
}

// renderTestPattern はframe毎に1列ずつ横に流れるカラーバーを描く
func renderTestPattern(width, height, frame int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	barWidth := max(width/len(testPatternBars), 1)
	offset := frame * 4

	// 下1/8は白黒の進捗バー
	barsHeight := height - height/8
	for x := 0; x < width; x++ {
		c := testPatternBars[((x+offset)/barWidth)%len(testPatternBars)]
		for y := 0; y < barsHeight; y++ {
			img.SetRGBA(x, y, c)
		}
	}
	progress := (frame * 8) % max(width, 1)
	for y := barsHeight; y < height; y++ {
		for x := 0; x < width; x++ {
			v := uint8(16)
			if x < progress {
				v = 235
			}
			img.SetRGBA(x, y, color.RGBA{R: v, G: v, B: v, A: 255})
		}
	}
	return img
}
