package camera

import (
	"context"
	"fmt"
	"sort"
)

// SourceFactory はドライバー名に応じたOpenerでデバイスを開く
type SourceFactory struct {
	openers map[string]Opener
}

// NewSourceFactory は標準ドライバーを登録したファクトリーを作成する
func NewSourceFactory() *SourceFactory {
	factory := &SourceFactory{
		openers: make(map[string]Opener),
	}

	// V4L2デバイスを直接読むドライバーを登録
	factory.Register(DriverV4L2, OpenerFunc(OpenV4L2))

	// ffmpeg経由のドライバーを登録
	factory.Register(DriverFFmpeg, OpenerFunc(OpenFFmpeg))

	// ハードウェアなしで動くテストパターンを登録
	factory.Register(DriverTestPattern, OpenerFunc(OpenTestPattern))

	return factory
}

// Register はドライバーのOpenerを登録する
func (f *SourceFactory) Register(driver string, opener Opener) {
	f.openers[driver] = opener
}

// Open implements Opener.
func (f *SourceFactory) Open(ctx context.Context, dev Device) (Source, error) {
	opener, exists := f.openers[dev.Driver]
	if !exists {
		return nil, fmt.Errorf("%w: サポートされていないドライバー %q", ErrDeviceOpen, dev.Driver)
	}

	src, err := opener.Open(ctx, dev)
	if err != nil {
		return nil, fmt.Errorf("%w: %s (%s): %v", ErrDeviceOpen, dev.Path, dev.Driver, err)
	}
	return src, nil
}

// Drivers は登録済みドライバー名を返す
func (f *SourceFactory) Drivers() []string {
	drivers := make([]string, 0, len(f.openers))
	for d := range f.openers {
		drivers = append(drivers, d)
	}
	sort.Strings(drivers)
	return drivers
}
