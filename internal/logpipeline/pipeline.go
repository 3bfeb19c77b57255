package logpipeline

import (
	"fmt"
	"io"
	"path/filepath"

	"github.com/bunctl/bunctl/internal/app"
)

// Pipeline owns the stdout and stderr Writers for one running app instance.
type Pipeline struct {
	Stdout *Writer
	Stderr *Writer
}

// DefaultStdoutPath is where instanceName's stdout lands when cfg.StdoutPath
// is unset.
func DefaultStdoutPath(instanceName string) string {
	return filepath.Join("log", fmt.Sprintf("%s.stdout.log", instanceName))
}

// DefaultStderrPath is stderr's counterpart to DefaultStdoutPath.
func DefaultStderrPath(instanceName string) string {
	return filepath.Join("log", fmt.Sprintf("%s.stderr.log", instanceName))
}

// NewPipeline builds the stdout/stderr Writers for instanceName from cfg,
// defaulting bare file names to <name>.stdout.log / <name>.stderr.log beside
// each other when an explicit path is not given.
func NewPipeline(instanceName string, cfg app.LogConfig) (*Pipeline, error) {
	stdoutPath := cfg.StdoutPath
	stderrPath := cfg.StderrPath
	if stdoutPath == "" {
		stdoutPath = DefaultStdoutPath(instanceName)
	}
	if stderrPath == "" {
		stderrPath = DefaultStderrPath(instanceName)
	}

	rotation := Rotation{
		MaxFileSize: cfg.MaxFileSize,
		MaxFiles:    cfg.MaxFiles,
		Daily:       cfg.Daily,
		Compress:    cfg.Compress,
	}

	out, err := NewWriter(stdoutPath, rotation, cfg.FlushEvery)
	if err != nil {
		return nil, fmt.Errorf("logpipeline: open stdout writer: %w", err)
	}
	errW, err := NewWriter(stderrPath, rotation, cfg.FlushEvery)
	if err != nil {
		_ = out.Close()
		return nil, fmt.Errorf("logpipeline: open stderr writer: %w", err)
	}

	return &Pipeline{Stdout: out, Stderr: errW}, nil
}

var (
	_ io.Writer = (*Writer)(nil)
)

// Close shuts down both writers, flushing and closing their files.
func (p *Pipeline) Close() error {
	errOut := p.Stdout.Close()
	errErr := p.Stderr.Close()
	if errOut != nil {
		return errOut
	}
	return errErr
}

// Snapshots returns the stdout/stderr metrics pair for observation surfaces.
func (p *Pipeline) Snapshots() (stdout, stderr Snapshot) {
	return p.Stdout.Snapshot(), p.Stderr.Snapshot()
}
