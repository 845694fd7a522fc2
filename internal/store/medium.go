package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// ErrContainerNotFound はバックエンドにコンテナがまだ存在しないことを表す。
var ErrContainerNotFound = errors.New("container not found")

// Medium は暗号化済みコンテナを丸ごと読み書きする永続化先。
// Saveは原子的に置き換えること。途中まで書かれたコンテナを残してはならない。
type Medium interface {
	Load(ctx context.Context) ([]byte, error)
	Save(ctx context.Context, data []byte) error
	Close() error
}

// FileMedium はローカルファイルにコンテナを保存する。
type FileMedium struct {
	path string
}

// NewFileMedium は指定パスを使うFileMediumを生成する。
func NewFileMedium(path string) *FileMedium {
	return &FileMedium{path: path}
}

// Path はコンテナファイルのパスを返す。
func (m *FileMedium) Path() string {
	return m.path
}

// Load はコンテナファイルを読み込む。
func (m *FileMedium) Load(ctx context.Context) ([]byte, error) {
	data, err := os.ReadFile(m.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrContainerNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", m.path, err)
	}
	return data, nil
}

// Save は一時ファイルに書き込んでからリネームする。
func (m *FileMedium) Save(ctx context.Context, data []byte) error {
	dir := filepath.Dir(m.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(m.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := os.Rename(tmpName, m.path); err != nil {
		return fmt.Errorf("replace %s: %w", m.path, err)
	}
	return nil
}

// Close は何もしない。ファイルは操作ごとに開閉する。
func (m *FileMedium) Close() error {
	return nil
}
