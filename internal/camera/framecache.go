package camera

import (
	"sync/atomic"
	"time"
)

// Frame はエンコード済みのJPEGフレーム
type Frame struct {
	Data       []byte
	Seq        uint64 // スロット毎に単調増加。クリアしてもリセットしない
	CapturedAt time.Time
}

// FrameSlot は最新フレーム1枚だけを保持する
// 書き込みはSupervisorだけが行い、読み込みは何人でもよい
type FrameSlot struct {
	current atomic.Pointer[Frame]
	seq     atomic.Uint64
}

// Publish はフレームを上書きする
func (s *FrameSlot) Publish(data []byte) Frame {
	f := &Frame{
		Data:       data,
		Seq:        s.seq.Add(1),
		CapturedAt: time.Now(),
	}
	s.current.Store(f)
	return *f
}

// Clear はスロットを空にする
func (s *FrameSlot) Clear() {
	s.current.Store(nil)
}

// Load は現在のフレームを返す。空ならfalse
func (s *FrameSlot) Load() (Frame, bool) {
	f := s.current.Load()
	if f == nil {
		return Frame{}, false
	}
	return *f, true
}

// FrameCache はデバイス毎のFrameSlotを持つ
type FrameCache struct {
	slots map[string]*FrameSlot
}

// NewFrameCache は指定IDのスロットを持つキャッシュを作成する
func NewFrameCache(ids []string) *FrameCache {
	slots := make(map[string]*FrameSlot, len(ids))
	for _, id := range ids {
		slots[id] = &FrameSlot{}
	}
	return &FrameCache{slots: slots}
}

// Publish は指定デバイスのフレームを上書きする
func (c *FrameCache) Publish(id string, data []byte) (Frame, bool) {
	s, ok := c.slots[id]
	if !ok {
		return Frame{}, false
	}
	return s.Publish(data), true
}

// Clear は指定デバイスのスロットを空にする
func (c *FrameCache) Clear(id string) {
	if s, ok := c.slots[id]; ok {
		s.Clear()
	}
}

// Peek は指定デバイスの最新フレームを返す
func (c *FrameCache) Peek(id string) (Frame, bool) {
	s, ok := c.slots[id]
	if !ok {
		return Frame{}, false
	}
	return s.Load()
}
