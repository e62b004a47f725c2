// Package events はカメラの状態遷移などをプロセス内で配信するイベントバス
package events

import (
	"github.com/kelindar/event"
)

// Bus は kelindar/event のディスパッチャーをラップする
// 購読者の呼び出しは非同期で行われる
type Bus struct {
	dispatcher *event.Dispatcher
}

// New は新しいイベントバスを作成する
func New() *Bus {
	return &Bus{
		dispatcher: event.NewDispatcher(),
	}
}

// Publish はイベントを全購読者に配信する
// nil のバスへの配信は何もしない
func (b *Bus) Publish(ev Event) {
	if b == nil {
		return
	}
	switch e := ev.(type) {
	case StateChangedEvent:
		event.Publish(b.dispatcher, e)
	case ViewersChangedEvent:
		event.Publish(b.dispatcher, e)
	}
}

// Subscribe はハンドラーの引数の型に応じたイベントを購読する
// 戻り値は購読解除関数
//
//	unsub := bus.Subscribe(func(e StateChangedEvent) { ... })
func (b *Bus) Subscribe(handler any) func() {
	if b == nil {
		return func() {}
	}
	switch h := handler.(type) {
	case func(StateChangedEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(ViewersChangedEvent):
		return event.Subscribe(b.dispatcher, h)
	default:
		return func() {}
	}
}

// SubscribeToChannel は型Tのイベントをchに流す
// 複数の型を1つのチャネルにまとめられる。チャネルが満杯の場合はイベントを捨てる
func SubscribeToChannel[T Event](b *Bus, ch chan<- any) func() {
	if b == nil {
		return func() {}
	}
	return event.Subscribe(b.dispatcher, func(e T) {
		select {
		case ch <- e:
		default:
		}
	})
}
