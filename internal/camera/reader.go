package camera

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"mimamori/internal/logging"
)

// Reader はFrameCacheからフレームを取り出す
// フレームはキューではなく最新値なので、遅い読み手はフレームを読み飛ばす
type Reader struct {
	registry *Registry
	cache    *FrameCache
	timing   Timing
	logger   *slog.Logger
}

// NewReader は新しいReaderを作成する
func NewReader(registry *Registry, cache *FrameCache, timing Timing) *Reader {
	return &Reader{
		registry: registry,
		cache:    cache,
		timing:   timing,
		logger:   logging.GetLogger("camera"),
	}
}

// NextFrame はフレームを1枚返す
// 未設定のデバイスには待たずにプレースホルダーを返す
// まだフレームがなければ届くまで待ち、待った場合はウォームアップ時間だけ待ってから最新を返す
func (r *Reader) NextFrame(ctx context.Context, id string) ([]byte, error) {
	dev, err := r.registry.Get(id)
	if errors.Is(err, ErrUnconfiguredDevice) {
		r.logger.Warn("未設定のデバイスが要求されました", "device_id", id)
		return NotConfiguredPlaceholder(), nil
	}

	frame, waited, err := r.waitFrame(ctx, id)
	if err != nil {
		return nil, err
	}

	if waited && dev.WarmUp > 0 {
		// 露出やフォーカスが落ち着くまで待つ
		if err := sleep(ctx, dev.WarmUp); err != nil {
			return nil, err
		}
		if latest, ok := r.cache.Peek(id); ok {
			frame = latest
		}
	}
	return frame.Data, nil
}

// Frames はフレームのシーケンスを返す
func (r *Reader) Frames(id string) *Sequence {
	return &Sequence{
		reader:     r,
		id:         id,
		configured: r.registry.Has(id),
	}
}

// waitFrame はフレームが届くまでWaitInterval毎に確認する
// 戻り値のwaitedは1度でも待ったかどうか
func (r *Reader) waitFrame(ctx context.Context, id string) (Frame, bool, error) {
	if f, ok := r.cache.Peek(id); ok {
		return f, false, nil
	}

	ticker := time.NewTicker(r.timing.WaitInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return Frame{}, true, ctx.Err()
		case <-ticker.C:
			if f, ok := r.cache.Peek(id); ok {
				return f, true, nil
			}
		}
	}
}

// Sequence は1つのデバイスのフレームを順に返すイテレーター
// 再開はできない。終端に達した後は常に io.EOF を返す
// 1つのゴルーチンから使うこと
type Sequence struct {
	reader     *Reader
	id         string
	configured bool
	started    bool
	done       bool
}

// Next は次のフレームを返す
//
// 未設定のデバイスではプレースホルダーを1枚返した後に io.EOF で終わる
// それ以外では最初のフレームを待ち、以後はStreamInterval毎にその時点の最新フレームを返す
// 同じフレームを続けて返すこともある
func (s *Sequence) Next(ctx context.Context) ([]byte, error) {
	if s.done {
		return nil, io.EOF
	}

	if !s.configured {
		s.done = true
		s.reader.logger.Warn("未設定のデバイスのストリームが要求されました", "device_id", s.id)
		return NotConfiguredPlaceholder(), nil
	}

	if s.started {
		if err := sleep(ctx, s.reader.timing.StreamInterval); err != nil {
			s.done = true
			return nil, err
		}
		if f, ok := s.reader.cache.Peek(s.id); ok {
			return f.Data, nil
		}
	}

	// 最初のフレーム、またはキャプチャが止まってスロットが空になった場合
	f, _, err := s.reader.waitFrame(ctx, s.id)
	if err != nil {
		s.done = true
		return nil, err
	}
	s.started = true
	return f.Data, nil
}

// sleep はdだけ待つ。ctxがキャンセルされたらそのエラーを返す
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
