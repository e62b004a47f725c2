package camera

import (
	"math/rand"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"mimamori/internal/events"
	"mimamori/internal/metrics"
)

func TestGate_AcquireRelease(t *testing.T) {
	gate := NewGate([]string{"camA"}, nil)

	release1 := gate.Acquire("camA")
	release2 := gate.Acquire("camA")
	if got := gate.Count("camA"); got != 2 {
		t.Fatalf("Expected 2 viewers, got %d", got)
	}

	release1()
	if got := gate.Count("camA"); got != 1 {
		t.Errorf("Expected 1 viewer, got %d", got)
	}

	// 同じ解放関数を何度呼んでも1回しか減らない
	release1()
	release1()
	if got := gate.Count("camA"); got != 1 {
		t.Errorf("二重解放で視聴者数が減りました: %d", got)
	}

	release2()
	if got := gate.Count("camA"); got != 0 {
		t.Errorf("Expected 0 viewers, got %d", got)
	}
}

func TestGate_ReleaseNeverNegative(t *testing.T) {
	gate := NewGate([]string{"camA"}, nil)

	gate.Release("camA")
	gate.Release("camA")
	if got := gate.Count("camA"); got != 0 {
		t.Errorf("視聴者数が負になりました: %d", got)
	}

	release := gate.Acquire("camA")
	gate.Release("camA")
	release()
	if got := gate.Count("camA"); got != 0 {
		t.Errorf("視聴者数が負になりました: %d", got)
	}
}

func TestGate_Clamp(t *testing.T) {
	gate := NewGate([]string{"camA"}, nil)

	gate.counts["camA"].Store(-3)
	gate.Clamp("camA")
	if got := gate.Count("camA"); got != 0 {
		t.Errorf("Expected clamp to 0, got %d", got)
	}

	// 正の値はそのまま
	gate.Acquire("camA")
	gate.Clamp("camA")
	if got := gate.Count("camA"); got != 1 {
		t.Errorf("Clamp で正の値が変わりました: %d", got)
	}
}

func TestGate_UnknownDevice(t *testing.T) {
	gate := NewGate([]string{"camA"}, nil)

	release := gate.Acquire("unknown")
	release()
	gate.Release("unknown")
	gate.Clamp("unknown")

	if got := gate.Count("unknown"); got != 0 {
		t.Errorf("Expected 0 for unknown device, got %d", got)
	}
	if got := gate.Count("camA"); got != 0 {
		t.Errorf("他のデバイスの視聴者数が変わりました: %d", got)
	}
}

func TestGate_ConcurrentNeverNegative(t *testing.T) {
	gate := NewGate([]string{"camA"}, nil)

	var negative atomic.Bool
	stop := make(chan struct{})
	var observer sync.WaitGroup
	observer.Add(1)
	go func() {
		defer observer.Done()
		for {
			select {
			case <-stop:
				return
			default:
				if gate.Count("camA") < 0 {
					negative.Store(true)
				}
			}
		}
	}()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(seed int64) {
			defer wg.Done()
			r := rand.New(rand.NewSource(seed))
			for j := 0; j < 200; j++ {
				switch r.Intn(3) {
				case 0:
					release := gate.Acquire("camA")
					release()
					release()
				case 1:
					// 中断されたリクエストによる余分な解放
					gate.Release("camA")
				default:
					release := gate.Acquire("camA")
					defer release()
				}
			}
		}(int64(i))
	}
	wg.Wait()
	close(stop)
	observer.Wait()

	if negative.Load() {
		t.Error("視聴者数が負の値として観測されました")
	}
	if got := gate.Count("camA"); got < 0 {
		t.Errorf("最終的な視聴者数が負です: %d", got)
	}
}

func TestGate_ConcurrentPublishesFinalCount(t *testing.T) {
	const id = "gate-publish"
	defer metrics.DeleteDevice(id)

	bus := events.New()
	var last atomic.Int64
	last.Store(-1)
	unsubscribe := bus.Subscribe(func(ev events.ViewersChangedEvent) {
		if ev.DeviceID == id {
			last.Store(ev.Viewers)
		}
	})
	defer unsubscribe()

	gate := NewGate([]string{id}, bus)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				gate.Acquire(id)()
			}
			// 1人分は残す
			gate.Acquire(id)
		}()
	}
	wg.Wait()

	want := gate.Count(id)
	if want != 20 {
		t.Fatalf("Expected 20 viewers, got %d", want)
	}
	if got := viewersGauge(t, id); got != float64(want) {
		t.Errorf("viewersゲージ = %v, want %d", got, want)
	}

	deadline := time.Now().Add(time.Second)
	for last.Load() != want {
		if time.Now().After(deadline) {
			t.Fatalf("最後のイベントの視聴者数 = %d, want %d", last.Load(), want)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// viewersGauge は登録済みのviewersゲージの値を読む
func viewersGauge(t *testing.T, id string) float64 {
	t.Helper()
	families, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		t.Fatalf("Gather failed: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() != "mimamori_camera_viewers" {
			continue
		}
		for _, metric := range mf.GetMetric() {
			for _, label := range metric.GetLabel() {
				if label.GetName() == "device" && label.GetValue() == id {
					return metric.GetGauge().GetValue()
				}
			}
		}
	}
	t.Fatalf("デバイス %s のviewersゲージがありません", id)
	return 0
}
