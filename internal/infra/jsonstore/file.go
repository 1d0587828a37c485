// Package jsonstore はキャリブレーション質問・レコードとメタデータインデックスをJSONファイルに保存する。
// 書き込みは同一ディレクトリの一時ファイルへ書いてから rename するため、読み手は常に完全なスナップショットを見る
package jsonstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/jinford/conformal-rag/internal/core/calibration"
)

// DocumentVersion は保存ドキュメントの形式バージョン。version の無いドキュメントは 1 とみなす
const DocumentVersion = 1

// errCorrupt は読み込んだドキュメントが壊れている場合の内部エラー
var errCorrupt = errors.New("corrupt document")

// Option は各ストアのオプション
type Option func(*options)

type options struct {
	now    func() time.Time
	logger *slog.Logger
}

// WithLogger はロガーを設定する
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithClock は last_updated に使う時刻の取得関数を差し替える
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

func buildOptions(opts []Option) options {
	o := options{
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	return o
}

// readDocument は path のJSONを v に読み込む。
// ファイルが無い場合は found=false、壊れている場合は errCorrupt を返す
func readDocument(path string, v any, version func() int) (bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, &calibration.StorageError{Op: "read", Path: path, Err: err}
	}

	if err := json.Unmarshal(data, v); err != nil {
		return true, fmt.Errorf("%w: %v", errCorrupt, err)
	}
	if got := version(); got > DocumentVersion {
		return true, fmt.Errorf("%w: unsupported version %d", errCorrupt, got)
	}

	return true, nil
}

// writeDocument は v を一時ファイルに書き出し、path へアトミックに置き換える
func writeDocument(path string, v any) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return &calibration.StorageError{Op: "write", Path: path, Err: err}
	}

	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return &calibration.StorageError{Op: "write", Path: path, Err: err}
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return &calibration.StorageError{Op: "write", Path: path, Err: err}
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return &calibration.StorageError{Op: "write", Path: path, Err: err}
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return &calibration.StorageError{Op: "write", Path: path, Err: err}
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return &calibration.StorageError{Op: "write", Path: path, Err: err}
	}

	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return &calibration.StorageError{Op: "write", Path: path, Err: err}
	}

	return nil
}

// quarantine は壊れたファイルを path.corrupt-<時刻> に退避し、退避先のパスを返す
func quarantine(path string, now time.Time) (string, error) {
	dest := path + ".corrupt-" + now.UTC().Format("20060102T150405")
	if err := os.Rename(path, dest); err != nil {
		return "", &calibration.StorageError{Op: "quarantine", Path: path, Err: err}
	}
	return dest, nil
}
