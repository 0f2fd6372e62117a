// imgbuilder produces the session container images. The build context is
// assembled in memory and sent to the Docker daemon, so no files are left
// on disk; the R image additionally carries the evaluator binary as its
// entrypoint.
package main

import (
	"archive/tar"
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/t-henke/glaskasten/internal/docker"
)

const (
	defaultRTag      = "glaskasten-r:latest"
	defaultPythonTag = "glaskasten-python:latest"
)

const dockerfileR = `FROM r-base:4.4.2
RUN R -e "install.packages(c('DBI','RPostgres','jsonlite'), repos='https://cloud.r-project.org')"
COPY evaluator /usr/local/bin/evaluator
EXPOSE 6311
ENTRYPOINT ["/usr/local/bin/evaluator"]
`

const dockerfilePython = `FROM python:3.12-slim
ENV PYTHONUNBUFFERED=1
RUN pip install --no-cache-dir numpy pandas
`

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "build":
		variant := "r"
		tag := ""
		evaluatorPath := ""
		for i := 2; i < len(os.Args); i++ {
			switch {
			case os.Args[i] == "--variant" && i+1 < len(os.Args):
				variant = os.Args[i+1]
				i++
			case os.Args[i] == "--tag" && i+1 < len(os.Args):
				tag = os.Args[i+1]
				i++
			case os.Args[i] == "--evaluator" && i+1 < len(os.Args):
				evaluatorPath = os.Args[i+1]
				i++
			}
		}
		if err := buildImage(variant, tag, evaluatorPath); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

	case "list":
		if err := listImages(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

	case "validate":
		if len(os.Args) < 3 {
			fmt.Fprintf(os.Stderr, "Usage: imgbuilder validate <image>\n")
			os.Exit(1)
		}
		if err := validateImage(os.Args[2]); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Image %s is valid\n", os.Args[2])

	case "delete":
		if len(os.Args) < 3 {
			fmt.Fprintf(os.Stderr, "Usage: imgbuilder delete <image>\n")
			os.Exit(1)
		}
		if err := deleteImage(os.Args[2]); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Deleted image: %s\n", os.Args[2])

	default:
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `Usage: imgbuilder <command> [options]

Commands:
  build    [--variant r|python] [--tag <tag>] [--evaluator <file>]
                                          Build a session image
  list                                    List built session images
  validate <image>                        Validate a session image
  delete <image>                          Delete a session image

The R image embeds the evaluator binary as its entrypoint; by default it
is looked up next to the imgbuilder executable. It must be built for the
container platform (linux).
`)
}

func connect() (*docker.Client, error) {
	return docker.New("")
}

func buildImage(variant, tag, evaluatorPath string) error {
	files := map[string]contextFile{}

	switch variant {
	case "r":
		if tag == "" {
			tag = defaultRTag
		}
		files["Dockerfile"] = contextFile{data: []byte(dockerfileR), mode: 0644}

		if evaluatorPath == "" {
			exePath, err := os.Executable()
			if err != nil {
				return fmt.Errorf("get executable path: %w", err)
			}
			evaluatorPath = filepath.Join(filepath.Dir(exePath), "evaluator")
		}
		bin, err := os.ReadFile(evaluatorPath)
		if err != nil {
			return fmt.Errorf("evaluator binary not found at %s - build it with GOOS=linux go build ./cmd/evaluator", evaluatorPath)
		}
		files["evaluator"] = contextFile{data: bin, mode: 0755}

	case "python":
		if tag == "" {
			tag = defaultPythonTag
		}
		files["Dockerfile"] = contextFile{data: []byte(dockerfilePython), mode: 0644}

	default:
		return fmt.Errorf("unknown variant %q (want r or python)", variant)
	}

	buildCtx, err := buildContext(files)
	if err != nil {
		return fmt.Errorf("assemble build context: %w", err)
	}

	dc, err := connect()
	if err != nil {
		return err
	}
	defer dc.Close()

	fmt.Printf("Building %s (variant %s)...\n", tag, variant)
	if err := dc.BuildImage(context.Background(), tag, variant, buildCtx, os.Stdout); err != nil {
		return err
	}
	fmt.Printf("Built image: %s\n", tag)
	return nil
}

type contextFile struct {
	data []byte
	mode int64
}

func buildContext(files map[string]contextFile) (*bytes.Buffer, error) {
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	for name, f := range files {
		hdr := &tar.Header{
			Name:    name,
			Mode:    f.mode,
			Size:    int64(len(f.data)),
			ModTime: time.Now(),
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return nil, err
		}
		if _, err := tw.Write(f.data); err != nil {
			return nil, err
		}
	}
	if err := tw.Close(); err != nil {
		return nil, err
	}
	return &buf, nil
}

func listImages() error {
	dc, err := connect()
	if err != nil {
		return err
	}
	defer dc.Close()

	images, err := dc.ListImages(context.Background())
	if err != nil {
		return err
	}
	if len(images) == 0 {
		fmt.Println("No images found")
		return nil
	}

	fmt.Println("Images:")
	for _, img := range images {
		tag := img.ID
		if len(img.Tags) > 0 {
			tag = img.Tags[0]
		}
		fmt.Printf("  - %s (variant: %s)\n", tag, img.Variant)
	}
	return nil
}

func validateImage(ref string) error {
	dc, err := connect()
	if err != nil {
		return err
	}
	defer dc.Close()

	img, exists, err := dc.FindImage(context.Background(), ref)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("image %s not found", ref)
	}
	if img.Variant == "" {
		return fmt.Errorf("image %s was not built by imgbuilder", ref)
	}
	return nil
}

func deleteImage(ref string) error {
	dc, err := connect()
	if err != nil {
		return err
	}
	defer dc.Close()

	return dc.RemoveImage(context.Background(), ref)
}
