// Package metrics はカメラとストリーム配信のPrometheusメトリクスを提供する
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "mimamori"

// 配信モード
const (
	ModeSnapshot  = "snapshot"
	ModeStream    = "stream"
	ModeWebSocket = "websocket"
)

var (
	viewers = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "camera",
		Name:      "viewers",
		Help:      "Current number of stream viewers per device",
	}, []string{"device"})

	captureState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "camera",
		Name:      "state",
		Help:      "Capture state per device (1 for the current state)",
	}, []string{"device", "state"})

	framesCaptured = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "camera",
		Name:      "frames_captured_total",
		Help:      "Total frames published to the frame cache",
	}, []string{"device"})

	captureSessions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "camera",
		Name:      "capture_sessions_total",
		Help:      "Total times the device was opened for capture",
	}, []string{"device"})

	openFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "camera",
		Name:      "open_failures_total",
		Help:      "Total device open failures",
	}, []string{"device"})

	framesServed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "frames_served_total",
		Help:      "Total JPEG frames written to clients",
	}, []string{"device", "mode"})

	streamDisconnects = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "stream_disconnects_total",
		Help:      "Total stream sessions ended by the client",
	}, []string{"device"})
)

// States は状態ゲージで扱う状態名
var States = []string{"idle", "capturing", "invalid"}

// SetViewers は視聴者数を設定する
func SetViewers(device string, n int64) {
	viewers.WithLabelValues(device).Set(float64(n))
}

// SetState は現在の状態を1、それ以外を0にする
func SetState(device, state string) {
	for _, s := range States {
		v := 0.0
		if s == state {
			v = 1
		}
		captureState.WithLabelValues(device, s).Set(v)
	}
}

// IncFramesCaptured はキャプチャしたフレーム数を増やす
func IncFramesCaptured(device string) {
	framesCaptured.WithLabelValues(device).Inc()
}

// IncCaptureSessions はデバイスを開いた回数を増やす
func IncCaptureSessions(device string) {
	captureSessions.WithLabelValues(device).Inc()
}

// IncOpenFailures はデバイスを開けなかった回数を増やす
func IncOpenFailures(device string) {
	openFailures.WithLabelValues(device).Inc()
}

// AddFramesServed はクライアントに書き出したフレーム数を加算する
func AddFramesServed(device, mode string, n int) {
	if n <= 0 {
		return
	}
	framesServed.WithLabelValues(device, mode).Add(float64(n))
}

// IncStreamDisconnects はクライアント切断で終わったストリーム数を増やす
func IncStreamDisconnects(device string) {
	streamDisconnects.WithLabelValues(device).Inc()
}

// DeleteDevice はデバイスのメトリクスを削除する
func DeleteDevice(device string) {
	viewers.DeleteLabelValues(device)
	for _, s := range States {
		captureState.DeleteLabelValues(device, s)
	}
	framesCaptured.DeleteLabelValues(device)
	captureSessions.DeleteLabelValues(device)
	openFailures.DeleteLabelValues(device)
	streamDisconnects.DeleteLabelValues(device)
	for _, m := range []string{ModeSnapshot, ModeStream, ModeWebSocket} {
		framesServed.DeleteLabelValues(device, m)
	}
}
