// Package spool manages the on-disk layout under spool_dir described
// in spec.md §6: mail-XXXXXX spool files with .info sidecars, plus the
// temp/queue/mime/failure/quarantine scratch subdirectories.
package spool

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

// Spool owns a spool_dir and its fixed subdirectory layout.
type Spool struct {
	root string
}

// Open ensures root and its subdirectories exist and returns a Spool
// rooted there. Per spec.md §6 exit codes, a missing/uncreatable spool
// dir is a fatal startup error.
func Open(root string) (*Spool, error) {
	for _, sub := range []string{"", "temp", "queue", "mime", "failure", "quarantine"} {
		dir := filepath.Join(root, sub)
		if err := os.MkdirAll(dir, 0750); err != nil {
			return nil, fmt.Errorf("spool: create %s: %w", dir, err)
		}
	}
	return &Spool{root: root}, nil
}

func (s *Spool) Root() string      { return s.root }
func (s *Spool) TempDir() string   { return filepath.Join(s.root, "temp") }
func (s *Spool) QueueDir() string  { return filepath.Join(s.root, "queue") }
func (s *Spool) MIMEDir() string   { return filepath.Join(s.root, "mime") }
func (s *Spool) FailureDir() string { return filepath.Join(s.root, "failure") }
func (s *Spool) QuarantineDir() string { return filepath.Join(s.root, "quarantine") }

// Info is the .info sidecar written next to every mail-XXXXXX file:
// envelope metadata (from/to/size), per spec.md §6.
type Info struct {
	From string   `json:"from"`
	To   []string `json:"to"`
	Size int64    `json:"size"`
}

// Receive copies r into a freshly named mail-XXXXXX file under root and
// writes its .info sidecar, returning the spool path and final size.
func (s *Spool) Receive(r io.Reader, from string, to []string) (path string, size int64, err error) {
	f, err := os.CreateTemp(s.root, "mail-")
	if err != nil {
		return "", 0, fmt.Errorf("spool: create mail file: %w", err)
	}
	path = f.Name()

	n, err := io.Copy(f, r)
	closeErr := f.Close()
	if err != nil {
		os.Remove(path)
		return "", 0, fmt.Errorf("spool: write mail file: %w", err)
	}
	if closeErr != nil {
		os.Remove(path)
		return "", 0, fmt.Errorf("spool: close mail file: %w", closeErr)
	}

	info := Info{From: from, To: to, Size: n}
	if err := s.writeInfo(path, info); err != nil {
		os.Remove(path)
		return "", 0, err
	}

	return path, n, nil
}

func (s *Spool) infoPath(mailPath string) string { return mailPath + ".info" }

func (s *Spool) writeInfo(mailPath string, info Info) error {
	data, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("spool: marshal info: %w", err)
	}
	if err := os.WriteFile(s.infoPath(mailPath), data, 0640); err != nil {
		return fmt.Errorf("spool: write info: %w", err)
	}
	return nil
}

// ReadInfo loads the .info sidecar for a mail file.
func (s *Spool) ReadInfo(mailPath string) (Info, error) {
	data, err := os.ReadFile(s.infoPath(mailPath))
	if err != nil {
		return Info{}, fmt.Errorf("spool: read info: %w", err)
	}
	var info Info
	if err := json.Unmarshal(data, &info); err != nil {
		return Info{}, fmt.Errorf("spool: unmarshal info: %w", err)
	}
	return info, nil
}

// Cleanup removes a mail file and its sidecar once the pipeline run
// that owns it has finished (spec.md §4.2 step 5).
func (s *Spool) Cleanup(mailPath string) {
	os.Remove(mailPath)
	os.Remove(s.infoPath(mailPath))
}

// CopyToFailure copies mailPath into failure/ for manual recovery after
// a ReinjectFailure (spec.md §4.5), returning the new path.
func (s *Spool) CopyToFailure(mailPath string) (string, error) {
	return s.copyTo(mailPath, s.FailureDir(), filepath.Base(mailPath))
}

// CopyToQuarantine copies mailPath into quarantine/ using the
// `<unixtimestamp>_FROM_<from>_TO_<to>-XXXXXX` layout spec.md §4.4
// specifies.
func (s *Spool) CopyToQuarantine(mailPath, from, to string) (string, error) {
	name := fmt.Sprintf("%d_FROM_%s_TO_%s-%s",
		time.Now().Unix(), sanitizeAddr(from), sanitizeAddr(to), uuid.NewString()[:8])
	return s.copyTo(mailPath, s.QuarantineDir(), name)
}

func sanitizeAddr(addr string) string {
	out := make([]byte, 0, len(addr))
	for _, c := range []byte(addr) {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '.', c == '-':
			out = append(out, c)
		default:
			out = append(out, '-')
		}
	}
	return string(out)
}

func (s *Spool) copyTo(srcPath, destDir, destName string) (string, error) {
	src, err := os.Open(srcPath)
	if err != nil {
		return "", fmt.Errorf("spool: open %s: %w", srcPath, err)
	}
	defer src.Close()

	destPath := filepath.Join(destDir, destName)
	dest, err := os.Create(destPath)
	if err != nil {
		return "", fmt.Errorf("spool: create %s: %w", destPath, err)
	}
	defer dest.Close()

	if _, err := io.Copy(dest, src); err != nil {
		return "", fmt.Errorf("spool: copy to %s: %w", destPath, err)
	}
	return destPath, nil
}

// NewID returns a fresh session id derived from a spool-safe random
// token (a UUID string). The frontend and the training driver take
// their session ids from file basenames instead.
func NewID() string {
	return uuid.NewString()
}
