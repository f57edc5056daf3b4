// Package repair runs the automated repair chains for damaged media files.
// Each media kind has an ordered list of named strategies; strategies are
// attempted at most once, and when the whole chain fails the unmodified
// source is still copied out so the job always produces an artifact.
package repair

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"time"

	"github.com/roppunt/fixframe/internal/domain"
)

// ToolRunner executes one external tool invocation. Injected in tests.
type ToolRunner func(ctx context.Context, name string, args ...string) error

// RunTool is the default ToolRunner. Spawn failure, non-zero exit, and
// timeout are all reported uniformly as domain.ErrExternalTool.
func RunTool(ctx context.Context, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("%w: %s: %v: %s", domain.ErrExternalTool, name, err, string(output))
	}
	return nil
}

// Strategy is one named repair attempt with a uniform contract: a nil error
// means destPath holds a trustworthy artifact.
type Strategy interface {
	Name() string
	Attempt(ctx context.Context, sourcePath, destPath string) error
}

// toolStrategy runs an external tool and, when the tool mutates the source in
// place rather than writing the destination, copies the source out afterward.
type toolStrategy struct {
	name     string
	run      ToolRunner
	timeout  time.Duration
	argv     func(sourcePath, destPath string) (string, []string)
	copyDest bool
}

func (s *toolStrategy) Name() string { return s.name }

func (s *toolStrategy) Attempt(ctx context.Context, sourcePath, destPath string) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	tool, args := s.argv(sourcePath, destPath)
	if err := s.run(ctx, tool, args...); err != nil {
		return err
	}
	if s.copyDest {
		return copyFile(sourcePath, destPath)
	}
	return nil
}

func exiftoolStrategy(run ToolRunner, timeout time.Duration) Strategy {
	return &toolStrategy{
		name:    "exiftool",
		run:     run,
		timeout: timeout,
		argv: func(src, _ string) (string, []string) {
			return "exiftool", []string{"-overwrite_original", src}
		},
		copyDest: true,
	}
}

func jpeginfoStrategy(run ToolRunner, timeout time.Duration) Strategy {
	return &toolStrategy{
		name:    "jpeginfo",
		run:     run,
		timeout: timeout,
		argv: func(src, _ string) (string, []string) {
			return "jpeginfo", []string{"-c", src}
		},
		copyDest: true,
	}
}

func ffmpegRemuxStrategy(run ToolRunner, timeout time.Duration) Strategy {
	return &toolStrategy{
		name:    "ffmpeg-remux",
		run:     run,
		timeout: timeout,
		argv: func(src, dst string) (string, []string) {
			return "ffmpeg", []string{"-y", "-i", src, "-c", "copy", dst}
		},
	}
}

// copyFile streams src to dst without holding the file in memory.
func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dst)
		return err
	}
	return out.Close()
}
