package camera

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"mimamori/internal/events"
	"mimamori/internal/logging"
	"mimamori/internal/metrics"
)

// Gate はデバイス毎の視聴者数を管理する
// カウンターは作成時に固定され、未設定のIDへの操作は何もしない
type Gate struct {
	counts map[string]*viewerCount
	bus    *events.Bus
	logger *slog.Logger
}

// viewerCount は1デバイス分のカウンター
// メトリクスとイベントの発行はpublishで直列化する
type viewerCount struct {
	atomic.Int64
	publish sync.Mutex
}

// NewGate は指定IDのカウンターを持つGateを作成する
func NewGate(ids []string, bus *events.Bus) *Gate {
	counts := make(map[string]*viewerCount, len(ids))
	for _, id := range ids {
		counts[id] = &viewerCount{}
		metrics.SetViewers(id, 0)
	}
	return &Gate{
		counts: counts,
		bus:    bus,
		logger: logging.GetLogger("camera"),
	}
}

// Acquire は視聴者を1人増やし、解放関数を返す
// 解放関数は何度呼んでも1回だけ減らす
//
//	release := gate.Acquire(id)
//	defer release()
func (g *Gate) Acquire(id string) func() {
	c, ok := g.counts[id]
	if !ok {
		return func() {}
	}
	c.Add(1)
	g.changed(id, c)

	var once sync.Once
	return func() {
		once.Do(func() { g.Release(id) })
	}
}

// Release は視聴者を1人減らす。0未満にはならない
func (g *Gate) Release(id string) {
	c, ok := g.counts[id]
	if !ok {
		return
	}
	for {
		cur := c.Load()
		if cur <= 0 {
			g.logger.Warn("視聴者数が0未満になる解放を無視しました", "device_id", id, "viewers", cur)
			return
		}
		if c.CompareAndSwap(cur, cur-1) {
			g.changed(id, c)
			return
		}
	}
}

// Clamp は負のカウンターを0に戻す
func (g *Gate) Clamp(id string) {
	c, ok := g.counts[id]
	if !ok {
		return
	}
	for {
		cur := c.Load()
		if cur >= 0 {
			return
		}
		if c.CompareAndSwap(cur, 0) {
			g.logger.Warn("負の視聴者数を0に補正しました", "device_id", id, "viewers", cur)
			g.changed(id, c)
			return
		}
	}
}

// Count は現在の視聴者数を返す
func (g *Gate) Count(id string) int64 {
	c, ok := g.counts[id]
	if !ok {
		return 0
	}
	return c.Load()
}

// changed はロック内で数え直してから発行する
// 最後に発行される値が常に現在のカウンターと一致する
func (g *Gate) changed(id string, c *viewerCount) {
	c.publish.Lock()
	defer c.publish.Unlock()
	n := c.Load()
	metrics.SetViewers(id, n)
	g.bus.Publish(events.ViewersChangedEvent{DeviceID: id, Viewers: n})
}
