package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"mimamori/internal/camera"
	"mimamori/internal/config"
)

// NewDevicesCmd はdevicesコマンドを作成する
func NewDevicesCmd() *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "devices",
		Short: "接続されているカメラデバイスを一覧表示する",
		Long: `/dev/video* をスキャンし、キャプチャに使えるデバイスの名前・フォーマット・解像度を表示します。` +
			`--format yaml で設定ファイルのdevices節の雛形を出力します。`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			drivers := camera.NewSourceFactory().Drivers()
			return listDevices(cmd.Context(), camera.NewLinuxDiscovery(), drivers, format, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVarP(&format, "format", "f", "table", "出力形式（table, json, yaml）")
	return cmd
}

// devicesReport はjson形式の出力
type devicesReport struct {
	Devices []camera.DeviceInfo `json:"devices"`
	Drivers []string            `json:"drivers"`
}

// listDevices はdiscoveryで見つかったデバイスと使えるドライバーをformatで書き出す
func listDevices(ctx context.Context, discovery camera.Discovery, drivers []string, format string, out io.Writer) error {
	paths, err := discovery.ScanDevices(ctx)
	if err != nil {
		return err
	}

	infos := make([]camera.DeviceInfo, 0, len(paths))
	for _, path := range paths {
		info, err := discovery.GetDeviceInfo(ctx, path)
		if err != nil {
			// スキャン後に抜かれた場合など
			continue
		}
		infos = append(infos, *info)
	}

	switch format {
	case "json":
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(devicesReport{Devices: infos, Drivers: drivers})
	case "yaml":
		return writeDeviceConfig(out, infos, drivers)
	case "table", "":
		return writeDeviceTable(out, infos, drivers)
	default:
		return fmt.Errorf("未知の出力形式: %s", format)
	}
}

func writeDeviceTable(out io.Writer, infos []camera.DeviceInfo, drivers []string) error {
	if len(infos) == 0 {
		_, err := fmt.Fprintf(out, "カメラデバイスが見つかりません\n利用できるドライバー: %s\n", strings.Join(drivers, ", "))
		return err
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "DEVICE\tNAME\tFORMATS\tMAX RESOLUTION")
	for _, info := range infos {
		maxRes := "-"
		if r, ok := largestResolution(info.Resolutions); ok {
			maxRes = fmt.Sprintf("%dx%d", r.Width, r.Height)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", info.Device, info.Name, strings.Join(info.Formats, ","), maxRes)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	_, err := fmt.Fprintf(out, "\n利用できるドライバー: %s\n", strings.Join(drivers, ", "))
	return err
}

// writeDeviceConfig は設定ファイルにそのまま貼れるdevices節を書き出す
func writeDeviceConfig(out io.Writer, infos []camera.DeviceInfo, drivers []string) error {
	devices := make([]config.DeviceConfig, 0, len(infos))
	for _, info := range infos {
		dev := config.DeviceConfig{
			ID:     filepath.Base(info.Device),
			Name:   info.Name,
			Path:   info.Device,
			Driver: camera.DriverV4L2,
		}
		if r, ok := largestResolution(info.Resolutions); ok {
			dev.Width, dev.Height = r.Width, r.Height
		}
		devices = append(devices, dev)
	}

	if _, err := fmt.Fprintf(out, "# driver: %s\n", strings.Join(drivers, " | ")); err != nil {
		return err
	}
	enc := yaml.NewEncoder(out)
	enc.SetIndent(2)
	if err := enc.Encode(struct {
		Devices []config.DeviceConfig `yaml:"devices"`
	}{devices}); err != nil {
		return fmt.Errorf("YAMLの書き出しに失敗: %w", err)
	}
	return enc.Close()
}

func largestResolution(resolutions []camera.Resolution) (camera.Resolution, bool) {
	var best camera.Resolution
	for _, r := range resolutions {
		if r.Width*r.Height > best.Width*best.Height {
			best = r
		}
	}
	return best, best.Width > 0
}
