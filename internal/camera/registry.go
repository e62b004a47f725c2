package camera

import (
	"fmt"
	"strings"
)

// Registry は設定済みデバイスを設定順に保持する
// 起動時に作成され、以後は変更されない
type Registry struct {
	devices []Device
	index   map[string]int
}

// NewRegistry はデバイス一覧からレジストリを作成する
func NewRegistry(devices []Device) (*Registry, error) {
	r := &Registry{
		devices: make([]Device, 0, len(devices)),
		index:   make(map[string]int, len(devices)),
	}
	for _, d := range devices {
		if d.ID == "" {
			return nil, fmt.Errorf("デバイスIDが空です (path=%s)", d.Path)
		}
		if _, exists := r.index[d.ID]; exists {
			return nil, fmt.Errorf("デバイスID %s が重複しています", d.ID)
		}
		d.Path = NormalizePath(d.Path)
		if d.Name == "" {
			d.Name = d.ID
		}
		if d.Driver == "" {
			d.Driver = DriverV4L2
		}
		r.index[d.ID] = len(r.devices)
		r.devices = append(r.devices, d)
	}
	return r, nil
}

// Get は指定IDのデバイスを返す
func (r *Registry) Get(id string) (Device, error) {
	i, ok := r.index[id]
	if !ok {
		return Device{}, fmt.Errorf("%w: %s", ErrUnconfiguredDevice, id)
	}
	return r.devices[i], nil
}

// Has は指定IDが設定済みか返す
func (r *Registry) Has(id string) bool {
	_, ok := r.index[id]
	return ok
}

// Devices は設定順のデバイス一覧を返す
func (r *Registry) Devices() []Device {
	out := make([]Device, len(r.devices))
	copy(out, r.devices)
	return out
}

// IDs は設定順のデバイスID一覧を返す
func (r *Registry) IDs() []string {
	ids := make([]string, len(r.devices))
	for i, d := range r.devices {
		ids[i] = d.ID
	}
	return ids
}

// NormalizePath は "1", "video1", "/dev/video1" を /dev/video1 にそろえる
// それ以外のパス（ファイルやURL）はそのまま返す
func NormalizePath(path string) string {
	path = strings.TrimSpace(path)
	switch {
	case path == "":
		return path
	case isDigits(path):
		return "/dev/video" + path
	case strings.HasPrefix(path, "video") && isDigits(strings.TrimPrefix(path, "video")):
		return "/dev/" + path
	default:
		return path
	}
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
