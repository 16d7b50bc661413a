package credential

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"

	"go.uber.org/zap"

	"github.com/pmkol/ichika-x/pkg/device"
	"github.com/pmkol/ichika-x/pkg/engine"
)

// PathStore keeps one directory per account under Dir:
//
//	<dir>/<uin>/token-<protocol>.bin
//	<dir>/<uin>/device-<protocol>.json
type PathStore struct {
	dir    string
	logger *zap.Logger
}

func NewPathStore(dir string, logger *zap.Logger) *PathStore {
	if logger == nil {
		logger = nopLogger
	}
	return &PathStore{dir: dir, logger: logger}
}

func (s *PathStore) accountDir(uin int64) string {
	return filepath.Join(s.dir, strconv.FormatInt(uin, 10))
}

func (s *PathStore) TokenPath(uin int64, protocol string) string {
	return filepath.Join(s.accountDir(uin), "token-"+protocol+".bin")
}

func (s *PathStore) DevicePath(uin int64, protocol string) string {
	return filepath.Join(s.accountDir(uin), "device-"+protocol+".json")
}

func (s *PathStore) GetToken(_ context.Context, uin int64, protocol string) ([]byte, error) {
	b, err := os.ReadFile(s.TokenPath(uin, protocol))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	return b, nil
}

func (s *PathStore) WriteToken(_ context.Context, uin int64, protocol string, token []byte) error {
	return s.writeFile(uin, s.TokenPath(uin, protocol), token)
}

func (s *PathStore) GetDevice(_ context.Context, uin int64, protocol string) (*engine.Device, error) {
	p := s.DevicePath(uin, protocol)
	b, err := os.ReadFile(p)
	if err == nil {
		d := new(engine.Device)
		if err := json.Unmarshal(b, d); err != nil {
			return nil, fmt.Errorf("invalid device file %s: %w", p, err)
		}
		return d, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}

	d := device.ForAccount(uin, protocol)
	b, err = json.MarshalIndent(d, "", "  ")
	if err != nil {
		return nil, err
	}
	if err := s.writeFile(uin, p, b); err != nil {
		return nil, err
	}
	s.logger.Info("new device generated", zap.Int64("uin", uin), zap.String("file", p))
	return d, nil
}

// writeFile replaces p atomically.
func (s *PathStore) writeFile(uin int64, p string, b []byte) error {
	if err := os.MkdirAll(s.accountDir(uin), 0o700); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(p), filepath.Base(p)+".*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), p)
}
