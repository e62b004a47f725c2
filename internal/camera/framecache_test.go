package camera

import (
	"sync"
	"testing"
)

func TestFrameCache_PublishPeekClear(t *testing.T) {
	cache := NewFrameCache([]string{"camA"})

	if _, ok := cache.Peek("camA"); ok {
		t.Fatal("初期状態でフレームがあります")
	}

	f1, ok := cache.Publish("camA", []byte("one"))
	if !ok {
		t.Fatal("Publish failed")
	}
	f2, _ := cache.Publish("camA", []byte("two"))
	if f2.Seq <= f1.Seq {
		t.Errorf("Seq が増えていません: %d -> %d", f1.Seq, f2.Seq)
	}

	got, ok := cache.Peek("camA")
	if !ok || string(got.Data) != "two" {
		t.Errorf("Expected latest frame \"two\", got %q", got.Data)
	}

	cache.Clear("camA")
	if _, ok := cache.Peek("camA"); ok {
		t.Error("Clear 後にフレームが残っています")
	}

	// クリアしても連番はリセットされない
	f3, _ := cache.Publish("camA", []byte("three"))
	if f3.Seq <= f2.Seq {
		t.Errorf("Clear 後に Seq がリセットされました: %d -> %d", f2.Seq, f3.Seq)
	}
}

func TestFrameCache_UnknownDevice(t *testing.T) {
	cache := NewFrameCache([]string{"camA"})

	if _, ok := cache.Publish("unknown", []byte("x")); ok {
		t.Error("未設定のデバイスに Publish できました")
	}
	cache.Clear("unknown")
	if _, ok := cache.Peek("unknown"); ok {
		t.Error("未設定のデバイスにフレームがあります")
	}
}

func TestFrameCache_LatestValueNeverGoesBack(t *testing.T) {
	cache := NewFrameCache([]string{"camA"})
	cache.Publish("camA", frameBytes(1))

	const frames = 2000
	var wg sync.WaitGroup
	errs := make(chan string, 8)

	for r := 0; r < 8; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			var last uint64
			for i := 0; i < frames; i++ {
				f, ok := cache.Peek("camA")
				if !ok {
					errs <- "最初のフレーム以降に空が観測されました"
					return
				}
				if f.Seq < last {
					errs <- "古いフレームが観測されました"
					return
				}
				last = f.Seq
			}
		}()
	}

	for i := uint64(2); i <= frames; i++ {
		cache.Publish("camA", frameBytes(i))
	}
	wg.Wait()
	close(errs)

	for msg := range errs {
		t.Error(msg)
	}
}
