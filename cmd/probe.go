package cmd

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image/jpeg"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"

	gomjpeg "github.com/mattn/go-mjpeg"
	"github.com/spf13/cobra"
)

// probeResult はprobeの集計結果
type probeResult struct {
	Frames  int
	Bytes   int
	Elapsed time.Duration
}

// Rate は1秒あたりのフレーム数
func (r probeResult) Rate() float64 {
	if r.Elapsed <= 0 {
		return 0
	}
	return float64(r.Frames) / r.Elapsed.Seconds()
}

// NewProbeCmd はprobeコマンドを作成する
func NewProbeCmd() *cobra.Command {
	var (
		frames  int
		timeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "probe URL",
		Short: "MJPEGストリームを受信してフレームサイズとレートを表示する",
		Example: `  mimamori probe http://localhost:8080/default/stream
  mimamori probe --frames 100 http://camera.local:8080/desk/stream`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}
			result, err := probe(ctx, http.DefaultClient, args[0], frames, cmd.OutOrStdout())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d フレーム / %d バイト / %s (%.1f fps)\n",
				result.Frames, result.Bytes, result.Elapsed.Round(time.Millisecond), result.Rate())
			return nil
		},
	}

	cmd.Flags().IntVarP(&frames, "frames", "n", 30, "受信するフレーム数（0で終端まで）")
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "全体のタイムアウト（0で無制限）")
	return cmd
}

// probe はurlのMJPEGストリームからlimit枚のフレームを受信し、1枚毎にサイズを書き出す
// limitが0ならストリームの終端まで読む
func probe(ctx context.Context, client *http.Client, url string, limit int, out io.Writer) (probeResult, error) {
	var result probeResult

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return result, fmt.Errorf("リクエストの作成に失敗: %w", err)
	}
	res, err := client.Do(req)
	if err != nil {
		return result, fmt.Errorf("接続に失敗: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return result, fmt.Errorf("予期しないステータス: %s", res.Status)
	}
	mediaType, params, err := mime.ParseMediaType(res.Header.Get("Content-Type"))
	if err != nil || !strings.HasPrefix(mediaType, "multipart/") || params["boundary"] == "" {
		return result, fmt.Errorf("MJPEGストリームではありません: %q", res.Header.Get("Content-Type"))
	}

	dec := gomjpeg.NewDecoder(res.Body, strings.TrimPrefix(params["boundary"], "--"))
	start := time.Now()
	for limit == 0 || result.Frames < limit {
		frame, err := dec.DecodeRaw()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			if ctx.Err() != nil {
				return result, ctx.Err()
			}
			return result, fmt.Errorf("フレームの読み込みに失敗: %w", err)
		}

		result.Frames++
		result.Bytes += len(frame)
		result.Elapsed = time.Since(start)

		size := "?"
		if cfg, err := jpeg.DecodeConfig(bytes.NewReader(frame)); err == nil {
			size = fmt.Sprintf("%dx%d", cfg.Width, cfg.Height)
		}
		fmt.Fprintf(out, "#%d %s %d バイト\n", result.Frames, size, len(frame))
	}
	result.Elapsed = time.Since(start)
	return result, nil
}
