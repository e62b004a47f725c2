package camera

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"mimamori/internal/events"
	"mimamori/internal/logging"
	"mimamori/internal/metrics"
)

// Supervisor は1台のデバイスのキャプチャを管理する
// 視聴者がいる間だけデバイスを開き、フレームをキャッシュに書き込む
type Supervisor struct {
	device  Device
	gate    *Gate
	cache   *FrameCache
	opener  Opener
	encoder Encoder
	bus     *events.Bus
	timing  Timing
	logger  *slog.Logger

	mu        sync.RWMutex
	state     State
	lastFrame atomic.Int64 // UnixNano
}

// NewSupervisor は新しいSupervisorを作成する
func NewSupervisor(dev Device, gate *Gate, cache *FrameCache, opener Opener, encoder Encoder, bus *events.Bus, timing Timing) *Supervisor {
	s := &Supervisor{
		device:  dev,
		gate:    gate,
		cache:   cache,
		opener:  opener,
		encoder: encoder,
		bus:     bus,
		timing:  timing,
		logger:  logging.GetLogger("camera").With("device_id", dev.ID, "device", dev.Path),
		state:   StateIdle,
	}
	metrics.SetState(dev.ID, string(StateIdle))
	return s
}

// State は現在の状態を返す
func (s *Supervisor) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// LastFrameAt は最後にフレームを書き込んだ時刻を返す
func (s *Supervisor) LastFrameAt() time.Time {
	n := s.lastFrame.Load()
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}

// Run はctxがキャンセルされるまでキャプチャのライフサイクルを回す
func (s *Supervisor) Run(ctx context.Context) {
	ticker := time.NewTicker(s.timing.PollInterval)
	defer ticker.Stop()

	for {
		if s.State() == StateInvalid {
			// 終端状態。デバイスには二度と触らない
			<-ctx.Done()
			return
		}

		if s.gate.Count(s.device.ID) > 0 {
			src, err := s.opener.Open(ctx, s.device)
			switch {
			case err != nil && ctx.Err() != nil:
				return
			case err != nil:
				s.logger.Error("デバイスを開けませんでした。以後このデバイスは使用しません", "error", err)
				metrics.IncOpenFailures(s.device.ID)
				s.invalidate("open failed")
				continue
			default:
				s.capture(ctx, src)
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// capture はフレームを取得し続け、視聴者がいなくなるかエラーで戻る
func (s *Supervisor) capture(ctx context.Context, src Source) {
	metrics.IncCaptureSessions(s.device.ID)
	s.transition(StateCapturing, "viewers attached")

	defer func() {
		if err := src.Close(); err != nil {
			s.logger.Warn("デバイスのクローズに失敗しました", "error", err)
		}
	}()

	// 視聴者がいなくなったらNextの待ちを打ち切る
	session, cancel := context.WithCancel(ctx)
	defer cancel()
	go s.watchViewers(session, cancel)

	for {
		if s.gate.Count(s.device.ID) <= 0 {
			s.stop("no viewers")
			return
		}

		img, err := src.Next(session)
		if err != nil {
			switch {
			case ctx.Err() != nil:
				s.stop("shutdown")
			case session.Err() != nil:
				s.stop("no viewers")
			case errors.Is(err, ErrFrameTimeout):
				s.logger.Debug("フレームが届きません。視聴者を確認して待ち続けます", "error", err)
				continue
			case errors.Is(err, io.EOF):
				s.logger.Info("キャプチャソースが終端に達しました")
				s.stop("source exhausted")
			case errors.Is(err, ErrDeviceUnavailable):
				s.logger.Error("デバイスが利用できなくなりました", "error", err)
				s.invalidate("device unavailable")
			default:
				s.logger.Warn("フレームの取得に失敗しました", "error", err)
				s.stop("read error")
			}
			return
		}

		// 読み取り中に視聴者がいなくなった場合は書き込まない
		if s.gate.Count(s.device.ID) <= 0 {
			s.stop("no viewers")
			return
		}

		data, err := s.encoder.Encode(img)
		if err != nil {
			s.logger.Warn("フレームのエンコードに失敗しました", "error", err)
			s.stop("encode error")
			return
		}

		frame, _ := s.cache.Publish(s.device.ID, data)
		s.lastFrame.Store(frame.CapturedAt.UnixNano())
		metrics.IncFramesCaptured(s.device.ID)

		if s.timing.FrameInterval > 0 {
			select {
			case <-session.Done():
				if ctx.Err() != nil {
					s.stop("shutdown")
				} else {
					s.stop("no viewers")
				}
				return
			case <-time.After(s.timing.FrameInterval):
			}
		}
	}
}

// watchViewers はPollInterval毎に視聴者数を確認し、0になったらcancelを呼ぶ
func (s *Supervisor) watchViewers(ctx context.Context, cancel context.CancelFunc) {
	ticker := time.NewTicker(s.timing.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if s.gate.Count(s.device.ID) <= 0 {
				cancel()
				return
			}
		}
	}
}

// stop はキャプチャを止めてidleに戻る
// 次の視聴者は新しいフレームから始まるようにスロットを空にする
func (s *Supervisor) stop(reason string) {
	s.gate.Clamp(s.device.ID)
	s.cache.Clear(s.device.ID)
	s.transition(StateIdle, reason)
}

// invalidate はデバイスを無効にし、プレースホルダーを1度だけ書き込む
func (s *Supervisor) invalidate(reason string) {
	s.cache.Publish(s.device.ID, InvalidDevicePlaceholder())
	s.transition(StateInvalid, reason)
}

func (s *Supervisor) transition(to State, reason string) {
	s.mu.Lock()
	from := s.state
	s.state = to
	s.mu.Unlock()

	if from == to {
		return
	}

	s.logger.Info("キャプチャ状態が変化しました", "from", from, "to", to, "reason", reason)
	metrics.SetState(s.device.ID, string(to))
	s.bus.Publish(events.StateChangedEvent{
		DeviceID: s.device.ID,
		From:     string(from),
		To:       string(to),
		Reason:   reason,
		At:       time.Now(),
	})
}
