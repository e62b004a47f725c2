//go:build !linux

package camera

import (
	"context"
	"errors"
)

var errV4L2Unsupported = errors.New("V4L2はLinuxでのみ利用できます")

// OpenV4L2 はLinux以外では常に失敗する
func OpenV4L2(_ context.Context, _ Device) (Source, error) {
	return nil, errV4L2Unsupported
}

func probeV4L2(_ string) (string, []string, []Resolution, error) {
	return "", nil, nil, errV4L2Unsupported
}
