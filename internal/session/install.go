package session

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/t-henke/glaskasten/internal/config"
	"github.com/t-henke/glaskasten/internal/docker"
	"github.com/t-henke/glaskasten/internal/errdefs"
)

// installBudgetSeconds bounds a package install. Source builds are slow,
// so this sits far above the execute default.
const installBudgetSeconds = 300

// packageNameRe accepts the package names both ecosystems use and nothing
// that could smuggle shell or code syntax into the install command.
var packageNameRe = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

// InstallResult reports how an install command ran. A non-zero exit code
// is a completed result, not an error; the output usually says why.
type InstallResult struct {
	Output   string `json:"output"`
	ExitCode int    `json:"exit_code"`
}

// InstallPackage installs a package into the session's user library, which
// lives under the workspace so later executes pick it up.
func (m *Manager) InstallPackage(ctx context.Context, id, pkg, source string) (*InstallResult, error) {
	if !packageNameRe.MatchString(pkg) {
		return nil, errdefs.New(errdefs.CodeInvalidArgument, "invalid package name %q", pkg)
	}
	if source != "" {
		if err := validateSource(source); err != nil {
			return nil, err
		}
	}
	if m.cfg.NetworkMode == "none" {
		return nil, errdefs.New(errdefs.CodeInvalidArgument,
			"package install needs network access, but sessions run with network_mode none")
	}

	snap, err := m.registry.Lookup(id)
	if err != nil {
		return nil, err
	}
	m.registry.Touch(id)

	res, err := m.runtime.Exec(ctx, snap.ContainerID, docker.ExecSpec{
		Cmd:            m.installCmd(pkg, source),
		TimeoutSeconds: installBudgetSeconds,
		MaxOutputBytes: int64(m.cfg.MaxOutputBytes),
	})
	if err != nil {
		if errdefs.IsCode(err, errdefs.CodeSessionCrashed) {
			m.teardownCrashed(ctx, id)
		}
		return nil, err
	}
	if res.TimedOut {
		return nil, errdefs.New(errdefs.CodeTimeout, "package install exceeded %d seconds", installBudgetSeconds)
	}

	m.registry.Touch(id)
	m.logger.Info("package install finished",
		"session_id", id,
		"package", pkg,
		"exit_code", res.ExitCode)

	output := lossyUTF8(res.Stdout)
	if len(res.Stderr) > 0 {
		output += lossyUTF8(res.Stderr)
	}
	return &InstallResult{Output: output, ExitCode: res.ExitCode}, nil
}

// installCmd builds the per-variant install command. Both variants install
// into the session's writable library path, never the image.
func (m *Manager) installCmd(pkg, source string) []string {
	if m.cfg.Variant == config.VariantPython {
		cmd := []string{"python3", "-m", "pip", "install", "--user", pkg}
		if source != "" {
			cmd = append(cmd, "--index-url", source)
		}
		return cmd
	}

	repos := source
	if repos == "" {
		repos = "https://cloud.r-project.org"
	}
	expr := fmt.Sprintf(
		"dir.create(Sys.getenv('R_LIBS_USER'), recursive=TRUE, showWarnings=FALSE); install.packages(%q, repos=%q, lib=Sys.getenv('R_LIBS_USER'))",
		pkg, repos)
	return []string{"Rscript", "-e", expr}
}

// validateSource admits http(s) package index URLs only. The value is
// spliced into an interpreter command line, so anything with quote
// characters is rejected outright.
func validateSource(source string) error {
	u, err := url.ParseRequestURI(source)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return errdefs.New(errdefs.CodeInvalidArgument, "package source must be an http(s) URL")
	}
	if strings.ContainsAny(source, `'"`+"`") {
		return errdefs.New(errdefs.CodeInvalidArgument, "package source must not contain quote characters")
	}
	return nil
}
