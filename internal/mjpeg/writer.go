// Package mjpeg はJPEGフレームを multipart/x-mixed-replace 形式で書き出す
package mjpeg

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"net/textproto"
	"strconv"
	"syscall"
)

// Boundary はパートの区切り文字列
const Boundary = "frame"

// ContentType はストリームのレスポンスに付けるContent-Type
const ContentType = "multipart/x-mixed-replace;boundary=" + Boundary

// ErrPeerGone はクライアントが切断したことを表す
// ストリームの正常な終了として扱う
var ErrPeerGone = errors.New("クライアントが切断しました")

// FrameSource はフレームを順に返す
// 終端では io.EOF を返す
type FrameSource interface {
	Next(ctx context.Context) ([]byte, error)
}

// Writer は1フレーム1パートで書き出す
type Writer struct {
	mw      *multipart.Writer
	flusher http.Flusher
	header  textproto.MIMEHeader
}

// NewWriter は新しいWriterを作成する
// wがhttp.Flusherならパート毎にフラッシュする
func NewWriter(w io.Writer) *Writer {
	mw := multipart.NewWriter(w)
	// 固定の区切り文字列は常に有効
	_ = mw.SetBoundary(Boundary)

	flusher, _ := w.(http.Flusher)
	return &Writer{
		mw:      mw,
		flusher: flusher,
		header:  textproto.MIMEHeader{},
	}
}

// WriteFrame は区切り、ヘッダー、JPEGを書き出す
func (w *Writer) WriteFrame(frame []byte) error {
	w.header.Set("Content-Type", "image/jpeg")
	w.header.Set("Content-Length", strconv.Itoa(len(frame)))

	part, err := w.mw.CreatePart(w.header)
	if err != nil {
		return classify(err)
	}
	if _, err := part.Write(frame); err != nil {
		return classify(err)
	}
	if w.flusher != nil {
		w.flusher.Flush()
	}
	return nil
}

// Close は終端の区切りを書き出す
func (w *Writer) Close() error {
	if err := w.mw.Close(); err != nil {
		return classify(err)
	}
	if w.flusher != nil {
		w.flusher.Flush()
	}
	return nil
}

// Stream はsrcが終わるまでフレームを書き出し、書き出したフレーム数を返す
//
// srcが終端に達したら終端の区切りを書いてnilを返す。ctxのキャンセルもnilを返す
// クライアントの切断は ErrPeerGone を包んだエラーを返す
func Stream(ctx context.Context, w io.Writer, src FrameSource) (int, error) {
	writer := NewWriter(w)
	frames := 0
	for {
		frame, err := src.Next(ctx)
		switch {
		case err == nil:
		case ctx.Err() != nil:
			return frames, nil
		case errors.Is(err, io.EOF):
			return frames, writer.Close()
		default:
			return frames, fmt.Errorf("フレームの取得に失敗: %w", err)
		}

		if err := writer.WriteFrame(frame); err != nil {
			return frames, err
		}
		frames++
	}
}

// IsPeerGone はクライアント切断による書き込みエラーか判定する
func IsPeerGone(err error) bool {
	return errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, io.ErrClosedPipe) ||
		errors.Is(err, http.ErrHandlerTimeout)
}

func classify(err error) error {
	if IsPeerGone(err) {
		return fmt.Errorf("%w: %v", ErrPeerGone, err)
	}
	return fmt.Errorf("フレームの書き込みに失敗: %w", err)
}
