package ops

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/t-henke/glaskasten/internal/errdefs"
	"github.com/t-henke/glaskasten/internal/session"
)

type listFilesArgs struct {
	ID   string `json:"id"`
	Path string `json:"path"`
}

type listFilesResult struct {
	Files []session.FileEntry `json:"files"`
}

func (d *Dispatcher) listSessionFiles(ctx context.Context, raw json.RawMessage) (Envelope, error) {
	var args listFilesArgs
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	if args.ID == "" {
		return nil, errdefs.New(errdefs.CodeInvalidArgument, "id is required")
	}
	if args.Path == "" {
		args.Path = "."
	}

	files, err := d.svc.ListFiles(ctx, args.ID, args.Path)
	if err != nil {
		return nil, err
	}
	return success(listFilesResult{Files: files})
}

type readFileArgs struct {
	ID   string `json:"id"`
	Path string `json:"path"`
}

type readFileResult struct {
	Content string `json:"content"`
	// Encoding is "base64" when the file is not valid UTF-8; absent
	// otherwise.
	Encoding string `json:"encoding,omitempty"`
}

func (d *Dispatcher) readSessionFile(ctx context.Context, raw json.RawMessage) (Envelope, error) {
	var args readFileArgs
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	if args.ID == "" {
		return nil, errdefs.New(errdefs.CodeInvalidArgument, "id is required")
	}
	if args.Path == "" {
		return nil, errdefs.New(errdefs.CodeInvalidArgument, "path is required")
	}

	content, encoded, err := d.svc.ReadFile(ctx, args.ID, args.Path)
	if err != nil {
		return nil, err
	}
	res := readFileResult{Content: content}
	if encoded {
		res.Encoding = "base64"
	}
	return success(res)
}

type writeFileArgs struct {
	ID      string `json:"id"`
	Path    string `json:"path"`
	Content string `json:"content"`
}

func (d *Dispatcher) writeSessionFile(ctx context.Context, raw json.RawMessage) (Envelope, error) {
	var args writeFileArgs
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	if args.ID == "" {
		return nil, errdefs.New(errdefs.CodeInvalidArgument, "id is required")
	}
	if args.Path == "" {
		return nil, errdefs.New(errdefs.CodeInvalidArgument, "path is required")
	}

	if err := d.svc.WriteFile(ctx, args.ID, args.Path, args.Content); err != nil {
		return nil, err
	}
	return success(messageResult{
		Message: fmt.Sprintf("wrote %d bytes to %s", len(args.Content), args.Path),
	})
}
