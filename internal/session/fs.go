package session

import (
	"archive/tar"
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"io"
	"path"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/t-henke/glaskasten/internal/docker"
	"github.com/t-henke/glaskasten/internal/errdefs"
	"github.com/t-henke/glaskasten/internal/pathpolicy"
)

// fsBudgetSeconds bounds the helper commands (ls, mkdir) that file
// operations run inside the container.
const fsBudgetSeconds = 10

// FileEntry describes a single name in a directory listing.
type FileEntry struct {
	Name  string `json:"name"`
	IsDir bool   `json:"is_dir"`
	Path  string `json:"path"`
}

// ListFiles lists a workspace directory. An empty path lists the
// workspace root.
func (m *Manager) ListFiles(ctx context.Context, id, dirPath string) ([]FileEntry, error) {
	if dirPath == "" {
		dirPath = "."
	}
	abs, err := pathpolicy.Resolve(dirPath)
	if err != nil {
		return nil, err
	}
	snap, err := m.registry.Lookup(id)
	if err != nil {
		return nil, err
	}

	res, err := m.runtime.Exec(ctx, snap.ContainerID, docker.ExecSpec{
		Cmd:            []string{"ls", "-la", abs},
		TimeoutSeconds: fsBudgetSeconds,
		MaxOutputBytes: int64(m.cfg.MaxOutputBytes),
	})
	if err != nil {
		return nil, err
	}
	if res.TimedOut {
		return nil, errdefs.New(errdefs.CodeTimeout, "listing %s timed out", dirPath).WithRetryable(true)
	}
	if res.ExitCode != 0 {
		msg := strings.TrimSpace(lossyUTF8(res.Stderr))
		if strings.Contains(msg, "No such file") {
			return nil, errdefs.New(errdefs.CodeFileNotFound, "no such path: %s", dirPath)
		}
		return nil, errdefs.New(errdefs.CodeInternal, "listing %s failed: %s", dirPath, msg)
	}

	m.registry.Touch(id)
	return parseListing(lossyUTF8(res.Stdout), pathpolicy.ToUserPath(abs)), nil
}

// ReadFile returns a workspace file's content. Binary content comes back
// base64-encoded with encoded=true; valid UTF-8 is returned verbatim.
func (m *Manager) ReadFile(ctx context.Context, id, filePath string) (content string, encoded bool, err error) {
	abs, err := pathpolicy.Resolve(filePath)
	if err != nil {
		return "", false, err
	}
	snap, err := m.registry.Lookup(id)
	if err != nil {
		return "", false, err
	}

	// The archive copy and the stream read share the same budget as the
	// helper commands; the caller's context may be looser.
	ctx, cancel := context.WithTimeout(ctx, fsBudgetSeconds*time.Second)
	defer cancel()

	rc, size, err := m.runtime.GetArchive(ctx, snap.ContainerID, abs)
	if errors.Is(err, context.DeadlineExceeded) {
		return "", false, transferTimedOut(filePath)
	}
	if err != nil {
		return "", false, err
	}
	defer rc.Close()

	maxBytes := int64(m.cfg.MaxFileBytes)
	if size > maxBytes {
		return "", false, fileTooLarge(size, maxBytes)
	}

	tr := tar.NewReader(rc)
	hdr, err := tr.Next()
	if errors.Is(err, context.DeadlineExceeded) {
		return "", false, transferTimedOut(filePath)
	}
	if err != nil {
		return "", false, errdefs.Wrap(errdefs.CodeInternal, err, "reading archive for %s", filePath)
	}
	if hdr.Typeflag == tar.TypeDir {
		return "", false, errdefs.New(errdefs.CodeInvalidArgument, "path is a directory: %s", filePath)
	}
	if hdr.Size > maxBytes {
		return "", false, fileTooLarge(hdr.Size, maxBytes)
	}

	data, err := io.ReadAll(io.LimitReader(tr, maxBytes+1))
	if errors.Is(err, context.DeadlineExceeded) {
		return "", false, transferTimedOut(filePath)
	}
	if err != nil {
		return "", false, errdefs.Wrap(errdefs.CodeInternal, err, "reading archive for %s", filePath)
	}
	if int64(len(data)) > maxBytes {
		return "", false, fileTooLarge(int64(len(data)), maxBytes)
	}

	m.registry.Touch(id)

	if utf8.Valid(data) {
		return string(data), false, nil
	}
	return base64.StdEncoding.EncodeToString(data), true, nil
}

// WriteFile stores content at a workspace path, creating parent
// directories as needed.
func (m *Manager) WriteFile(ctx context.Context, id, filePath, content string) error {
	abs, err := pathpolicy.Resolve(filePath)
	if err != nil {
		return err
	}
	if abs == pathpolicy.Root {
		return errdefs.New(errdefs.CodeInvalidArgument, "path is a directory: %s", filePath)
	}
	if int64(len(content)) > int64(m.cfg.MaxFileBytes) {
		return fileTooLarge(int64(len(content)), int64(m.cfg.MaxFileBytes))
	}

	snap, err := m.registry.Lookup(id)
	if err != nil {
		return err
	}

	dir := path.Dir(abs)
	if dir != pathpolicy.Root {
		res, err := m.runtime.Exec(ctx, snap.ContainerID, docker.ExecSpec{
			Cmd:            []string{"mkdir", "-p", dir},
			TimeoutSeconds: fsBudgetSeconds,
		})
		if err != nil {
			return err
		}
		if res.TimedOut {
			return errdefs.New(errdefs.CodeTimeout, "creating %s timed out", dir).WithRetryable(true)
		}
		if res.ExitCode != 0 {
			return errdefs.New(errdefs.CodeInternal, "creating parent directory failed: %s",
				strings.TrimSpace(lossyUTF8(res.Stderr)))
		}
	}

	archive, err := singleFileArchive(path.Base(abs), []byte(content))
	if err != nil {
		return errdefs.Wrap(errdefs.CodeInternal, err, "packing %s", filePath)
	}
	putCtx, cancel := context.WithTimeout(ctx, fsBudgetSeconds*time.Second)
	defer cancel()
	if err := m.runtime.PutArchive(putCtx, snap.ContainerID, dir, archive); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return transferTimedOut(filePath)
		}
		return err
	}

	m.registry.Touch(id)
	return nil
}

// parseListing turns "ls -la" output into file entries, skipping the
// "total" header and the "." and ".." entries.
func parseListing(output, parent string) []FileEntry {
	var entries []FileEntry
	for _, line := range strings.Split(strings.TrimSpace(output), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "total ") {
			continue
		}
		parts := strings.Fields(line)
		if len(parts) < 9 || len(parts[0]) == 0 {
			continue
		}
		name := strings.Join(parts[8:], " ")
		if name == "." || name == ".." {
			continue
		}
		entries = append(entries, FileEntry{
			Name:  name,
			IsDir: parts[0][0] == 'd',
			Path:  pathpolicy.Join(parent, name),
		})
	}
	return entries
}

// singleFileArchive wraps content in a tar stream holding one regular file
// owned by the sandbox user.
func singleFileArchive(name string, content []byte) (io.Reader, error) {
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	hdr := &tar.Header{
		Name:    name,
		Mode:    0o644,
		Uid:     1000,
		Gid:     1000,
		Size:    int64(len(content)),
		ModTime: time.Now(),
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return nil, err
	}
	if _, err := tw.Write(content); err != nil {
		return nil, err
	}
	if err := tw.Close(); err != nil {
		return nil, err
	}
	return &buf, nil
}

func fileTooLarge(size, maxBytes int64) error {
	return errdefs.New(errdefs.CodeFileTooLarge, "file size %d exceeds the %d byte limit", size, maxBytes).
		WithDetails(map[string]any{"size": size, "max_file_bytes": maxBytes})
}

// transferTimedOut reports an archive copy that outran its budget. Unlike
// execute timeouts these are retryable: the failure is transport-side, not
// the user's code.
func transferTimedOut(what string) error {
	return errdefs.New(errdefs.CodeTimeout, "transferring %s timed out", what).WithRetryable(true)
}

func lossyUTF8(b []byte) string {
	return strings.ToValidUTF8(string(b), "�")
}
