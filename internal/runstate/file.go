package runstate

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// Default file names inside the runtime directory.
const (
	PIDFileName      = "server.pid"
	EndpointFileName = "url.txt"
	LogFileName      = "server.log"
	LockFileName     = "apprun.lock"
)

// FileStore keeps the runtime state as plain text files in Dir.
type FileStore struct {
	Dir string
}

var _ Store = (*FileStore)(nil)

// NewFileStore returns a FileStore rooted at dir. The directory is created on
// first write.
func NewFileStore(dir string) *FileStore { return &FileStore{Dir: dir} }

func (s *FileStore) PIDPath() string      { return filepath.Join(s.Dir, PIDFileName) }
func (s *FileStore) EndpointPath() string { return filepath.Join(s.Dir, EndpointFileName) }
func (s *FileStore) LogPath() string      { return filepath.Join(s.Dir, LogFileName) }
func (s *FileStore) LockPath() string     { return filepath.Join(s.Dir, LockFileName) }

func (s *FileStore) InspectHandle() (Handle, HandleState, error) {
	b, err := readMarker(s.PIDPath())
	if err != nil {
		return Handle{}, HandleMissing, err
	}
	if b == nil {
		return Handle{}, HandleMissing, nil
	}
	h, ok := ParseHandle(b)
	if !ok {
		return Handle{}, HandleMalformed, nil
	}
	return h, HandleValid, nil
}

func (s *FileStore) ReadHandle() (Handle, bool, error) {
	h, st, err := s.InspectHandle()
	return h, st == HandleValid, err
}

func (s *FileStore) WriteHandle(h Handle) error {
	if h.PID <= 0 {
		return fmt.Errorf("invalid pid %d", h.PID)
	}
	return writeMarker(s.PIDPath(), FormatHandle(h))
}

func (s *FileStore) ClearHandle() error { return removeMarker(s.PIDPath()) }

func (s *FileStore) ReadEndpoint() (Endpoint, bool, error) {
	b, err := readMarker(s.EndpointPath())
	if err != nil || b == nil {
		return Endpoint{}, false, err
	}
	e, ok := ParseEndpoint(b)
	return e, ok, nil
}

func (s *FileStore) WriteEndpoint(e Endpoint) error {
	if e.Address == "" {
		return errors.New("empty endpoint address")
	}
	return writeMarker(s.EndpointPath(), []byte(e.Address+"\n"))
}

func (s *FileStore) ClearEndpoint() error { return removeMarker(s.EndpointPath()) }

// readMarker returns nil content and nil error when the file does not exist.
func readMarker(path string) ([]byte, error) {
	b, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	return b, nil
}

// writeMarker replaces path atomically so a concurrent reader in another
// process sees either the old or the new content, never a partial write.
func writeMarker(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("create runtime dir %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

func removeMarker(path string) error {
	err := os.Remove(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
