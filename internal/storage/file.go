package storage

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	logx "slotwatch/pkg/logx"
)

// fileStore appends JSON Lines.
//
// Files:
//   - <prefix>.dispatch.jsonl
//   - <prefix>.passes.jsonl
type fileStore struct {
	log logx.Logger

	mu       sync.Mutex
	dispatch *os.File
	passes   *os.File
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	prefix := filepath.Join(dir, base)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	df, err := appendOnly(prefix + ".dispatch.jsonl")
	if err != nil {
		return nil, err
	}
	pf, err := appendOnly(prefix + ".passes.jsonl")
	if err != nil {
		_ = df.Close()
		return nil, err
	}
	log.Debug("file store opened", logx.String("prefix", prefix))
	return &fileStore{log: log, dispatch: df, passes: pf}, nil
}

func appendOnly(path string) (*os.File, error) {
	return os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var errs []error
	for _, f := range []**os.File{&s.dispatch, &s.passes} {
		if *f != nil {
			errs = append(errs, (*f).Close())
			*f = nil
		}
	}
	return errors.Join(errs...)
}

func (s *fileStore) AppendDispatch(_ context.Context, e DispatchEntry) error {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	return s.append(func() *os.File { return s.dispatch }, e)
}

func (s *fileStore) AppendPass(_ context.Context, e PassEntry) error {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	return s.append(func() *os.File { return s.passes }, e)
}

func (s *fileStore) append(file func() *os.File, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	b = append(b, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()
	f := file()
	if f == nil {
		return ErrDisabled
	}
	_, err = f.Write(b)
	return err
}
