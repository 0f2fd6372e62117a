// Package pathpolicy confines caller-supplied file paths to the in-container
// workspace. All checks are lexical: the workspace mount is the only writable
// location the gateway exposes, so a cleaned path under the root is safe
// regardless of what the container's filesystem looks like.
package pathpolicy

import (
	"path"
	"strings"

	"github.com/t-henke/glaskasten/internal/errdefs"
)

// Root is the workspace mount point inside every session container.
const Root = "/sandbox"

// Resolve normalizes a caller-supplied path to an absolute in-container path
// under Root. Relative inputs are joined under Root; absolute inputs must
// already point inside it. Escapes via "..", absolute paths outside the
// workspace, or empty input fail with invalid_path / invalid_argument.
func Resolve(input string) (string, error) {
	cleaned := strings.TrimSpace(input)
	if cleaned == "" {
		return "", errdefs.New(errdefs.CodeInvalidArgument, "path must be a non-empty string")
	}

	candidate := cleaned
	if !strings.HasPrefix(candidate, "/") {
		candidate = Root + "/" + candidate
	}
	normalized := path.Clean(candidate)

	if normalized != Root && !strings.HasPrefix(normalized, Root+"/") {
		return "", errdefs.New(errdefs.CodeInvalidPath, "path must resolve under %s", Root).
			WithDetails(map[string]any{"path": input})
	}
	return normalized, nil
}

// ToUserPath converts an absolute in-container path back to the relative form
// used in responses. Root itself maps to ".".
func ToUserPath(absolute string) string {
	if absolute == Root {
		return "."
	}
	if strings.HasPrefix(absolute, Root+"/") {
		return absolute[len(Root)+1:]
	}
	return absolute
}

// Join builds the response path for a directory entry: name under the
// user-relative parent.
func Join(parent, name string) string {
	if parent == "." || parent == "" {
		return name
	}
	return parent + "/" + name
}
