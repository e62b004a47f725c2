package camera

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"os/exec"
	"strconv"
	"sync"
)

var (
	jpegSOI = []byte{0xFF, 0xD8}
	jpegEOI = []byte{0xFF, 0xD9}
)

// ffmpegが吐き出す1フレームの最大サイズ
const maxFFmpegFrameSize = 8 << 20

// ffmpegSource はffmpegのimage2pipe出力からJPEGを切り出すSource
// 読み取りは専用のゴルーチンで行い、Nextはctxと結果を待つ
type ffmpegSource struct {
	cmd     *exec.Cmd
	cancel  context.CancelFunc
	stdout  io.ReadCloser
	scanner *bufio.Scanner
	stderr  *tailBuffer
	frames  int

	results chan scanResult
	done    chan struct{}

	closeOnce sync.Once
}

// scanResult は読み取りゴルーチンが渡す1フレームまたは終了理由
type scanResult struct {
	frame []byte
	err   error // 正常終了は io.EOF
}

// ffmpegCommand はテストで差し替えるためのコマンド名
var ffmpegCommand = "ffmpeg"

// OpenFFmpeg はffmpegを起動してV4L2デバイスをMJPEGで読み出す
func OpenFFmpeg(_ context.Context, dev Device) (Source, error) {
	// Supervisorのctxとは独立させ、Closeで止める
	procCtx, cancel := context.WithCancel(context.Background())

	cmd := exec.CommandContext(procCtx, ffmpegCommand, ffmpegArgs(dev)...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("stdoutパイプの作成に失敗: %w", err)
	}
	stderr := &tailBuffer{limit: 4096}
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("ffmpegの起動に失敗: %w", err)
	}

	return newFFmpegSource(cmd, cancel, stdout, stderr), nil
}

func newFFmpegSource(cmd *exec.Cmd, cancel context.CancelFunc, stdout io.ReadCloser, stderr *tailBuffer) *ffmpegSource {
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 1<<20), maxFFmpegFrameSize)
	scanner.Split(splitJPEG)

	s := &ffmpegSource{
		cmd:     cmd,
		cancel:  cancel,
		stdout:  stdout,
		scanner: scanner,
		stderr:  stderr,
		results: make(chan scanResult),
		done:    make(chan struct{}),
	}
	go s.readLoop()
	return s
}

// readLoop はstdoutからJPEGを切り出してresultsに送る
// Closeでdoneが閉じられるか、出力が終わると戻る
func (s *ffmpegSource) readLoop() {
	defer close(s.results)

	for s.scanner.Scan() {
		frame := make([]byte, len(s.scanner.Bytes()))
		copy(frame, s.scanner.Bytes())
		select {
		case s.results <- scanResult{frame: frame}:
		case <-s.done:
			return
		}
	}

	err := s.scanner.Err()
	if err == nil {
		err = io.EOF
	}
	select {
	case s.results <- scanResult{err: err}:
	case <-s.done:
	}
}

func ffmpegArgs(dev Device) []string {
	args := []string{"-hide_banner", "-loglevel", "error", "-f", "v4l2", "-input_format", "mjpeg"}
	if dev.Settings.Width > 0 && dev.Settings.Height > 0 {
		args = append(args, "-video_size", fmt.Sprintf("%dx%d", dev.Settings.Width, dev.Settings.Height))
	}
	if dev.Settings.FPS > 0 {
		args = append(args, "-framerate", strconv.Itoa(dev.Settings.FPS))
	}
	args = append(args, "-i", dev.Path, "-f", "image2pipe", "-c:v", "mjpeg")
	if q := ffmpegQScale(dev.Settings.Quality); q > 0 {
		args = append(args, "-q:v", strconv.Itoa(q))
	}
	return append(args, "-")
}

// ffmpegQScale はJPEG品質(1-100)をffmpegの-q:v(2-31、小さいほど高画質)に変換する
func ffmpegQScale(quality int) int {
	if quality <= 0 || quality > 100 {
		return 0
	}
	return 2 + (100-quality)*29/100
}

// Next implements Source.
func (s *ffmpegSource) Next(ctx context.Context) (image.Image, error) {
	var res scanResult
	var ok bool
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res, ok = <-s.results:
	}

	switch {
	case !ok:
		return nil, io.EOF
	case errors.Is(res.err, io.EOF) && s.frames == 0:
		// 1フレームも出ずに終了したらデバイスが使えない
		return nil, fmt.Errorf("%w: ffmpegが終了しました: %s", ErrDeviceUnavailable, s.stderr.String())
	case errors.Is(res.err, io.EOF):
		return nil, io.EOF
	case res.err != nil:
		return nil, fmt.Errorf("フレーム読み取りエラー: %w", res.err)
	}

	s.frames++
	return NewEncodedImage(res.frame), nil
}

// Close implements Source.
func (s *ffmpegSource) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		s.cancel()
		_ = s.stdout.Close()
		if s.cmd != nil && s.cmd.Process != nil {
			// コンテキストキャンセルによる終了はエラーにしない
			if werr := s.cmd.Wait(); werr != nil && !isKilled(werr) {
				err = werr
			}
		}
	})
	return err
}

func isKilled(err error) bool {
	var exitErr *exec.ExitError
	return errors.As(err, &exitErr) || errors.Is(err, context.Canceled)
}

// splitJPEG はMJPEGのバイト列をSOIからEOIまでのJPEGに分割する bufio.SplitFunc
func splitJPEG(data []byte, atEOF bool) (advance int, token []byte, err error) {
	start := bytes.Index(data, jpegSOI)
	if start < 0 {
		if atEOF {
			return len(data), nil, nil
		}
		// 最後の1バイトはSOIの前半の可能性があるので残す
		if len(data) > 1 {
			return len(data) - 1, nil, nil
		}
		return 0, nil, nil
	}

	end := bytes.Index(data[start+len(jpegSOI):], jpegEOI)
	if end < 0 {
		if atEOF {
			return len(data), nil, nil
		}
		return start, nil, nil
	}
	end += start + len(jpegSOI) + len(jpegEOI)
	return end, data[start:end], nil
}

// tailBuffer は末尾limitバイトだけを保持する io.Writer
type tailBuffer struct {
	mu    sync.Mutex
	limit int
	buf   []byte
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf = append(b.buf, p...)
	if over := len(b.buf) - b.limit; over > 0 {
		b.buf = b.buf[over:]
	}
	return len(p), nil
}

func (b *tailBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(bytes.TrimSpace(b.buf))
}
