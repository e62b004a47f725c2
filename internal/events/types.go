package events

import "time"

// kelindar/event 用のイベント種別
const (
	TypeStateChanged uint32 = iota + 1
	TypeViewersChanged
)

// Event は kelindar/event が要求するインターフェース
type Event interface {
	Type() uint32
}

// StateChangedEvent はキャプチャ状態の遷移を表す
type StateChangedEvent struct {
	DeviceID string    `json:"device_id"`
	From     string    `json:"from"`
	To       string    `json:"to"`
	Reason   string    `json:"reason,omitempty"`
	At       time.Time `json:"at"`
}

// Type implements Event.
func (e StateChangedEvent) Type() uint32 { return TypeStateChanged }

// ViewersChangedEvent は視聴者数の変化を表す
type ViewersChangedEvent struct {
	DeviceID string `json:"device_id"`
	Viewers  int64  `json:"viewers"`
}

// Type implements Event.
func (e ViewersChangedEvent) Type() uint32 { return TypeViewersChanged }
