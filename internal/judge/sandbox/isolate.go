package sandbox

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"judged/internal/judge/model"
	appErr "judged/pkg/errors"
	"judged/pkg/utils/logger"
)

// Config holds sandbox driver configuration
type Config struct {
	IsolateCmd      string        `yaml:"isolateCmd"`
	MaxBoxes        int           `yaml:"maxBoxes"`
	MaxOutputKB     int           `yaml:"maxOutputKb"`
	MaxStackKB      int           `yaml:"maxStackKb"`
	CompileWallTime time.Duration `yaml:"compileWallTime"`
}

// CompileResult is the outcome of a compile step.
type CompileResult struct {
	OK     bool
	Stdout string
	Stderr string
}

// ExecResult is the outcome of one test-case run.
type ExecResult struct {
	Verdict  model.Verdict
	Stdout   string
	Stderr   string
	TimeMs   int
	MemoryKB int
	ExitCode int
}

// Driver allocates one-shot isolation boxes. Box ids are exclusive to one
// holder at a time; the isolation tool enforces the same at the OS level.
type Driver struct {
	cfg Config

	mu    sync.Mutex
	inUse map[int]bool
}

// NewDriver creates a sandbox driver.
func NewDriver(cfg Config) *Driver {
	if cfg.IsolateCmd == "" {
		cfg.IsolateCmd = "isolate"
	}
	if cfg.MaxBoxes <= 0 {
		cfg.MaxBoxes = 100
	}
	if cfg.MaxOutputKB <= 0 {
		cfg.MaxOutputKB = 64 * 1024
	}
	if cfg.MaxStackKB <= 0 {
		cfg.MaxStackKB = 64 * 1024
	}
	if cfg.CompileWallTime <= 0 {
		cfg.CompileWallTime = 30 * time.Second
	}
	return &Driver{cfg: cfg, inUse: make(map[int]bool)}
}

// Acquire initialises a fresh box and returns it. The caller must Release
// it on every exit path.
func (d *Driver) Acquire(ctx context.Context) (*Box, error) {
	id, err := d.reserveID()
	if err != nil {
		return nil, err
	}

	out, err := exec.CommandContext(ctx, d.cfg.IsolateCmd,
		fmt.Sprintf("--box-id=%d", id), "--init").Output()
	if err != nil {
		d.releaseID(id)
		return nil, appErr.Wrapf(err, appErr.BoxInitFailed, "isolate --init failed for box %d", id)
	}

	dir := filepath.Join(strings.TrimSpace(string(out)), "box")
	return &Box{driver: d, id: id, dir: dir}, nil
}

// SelfTest initialises and destroys a probe box. Used by the pool's health
// monitor to detect a broken isolator.
func (d *Driver) SelfTest(ctx context.Context) error {
	box, err := d.Acquire(ctx)
	if err != nil {
		return err
	}
	return box.Release()
}

func (d *Driver) reserveID() (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for id := 0; id < d.cfg.MaxBoxes; id++ {
		if !d.inUse[id] {
			d.inUse[id] = true
			return id, nil
		}
	}
	return 0, appErr.New(appErr.SandboxUnavailable).WithMessage("no free sandbox box")
}

func (d *Driver) releaseID(id int) {
	d.mu.Lock()
	delete(d.inUse, id)
	d.mu.Unlock()
}

// Box is one isolation box, owned by a single worker until released.
type Box struct {
	driver *Driver
	id     int
	dir    string
}

// ID returns the box id assigned by the driver.
func (b *Box) ID() int {
	return b.id
}

// Release destroys the box. Safe to call after a failed run.
func (b *Box) Release() error {
	defer b.driver.releaseID(b.id)
	os.Remove(b.metaPath())

	err := exec.Command(b.driver.cfg.IsolateCmd,
		fmt.Sprintf("--box-id=%d", b.id), "--cleanup").Run()
	if err != nil {
		logger.Warn(context.Background(), "box cleanup failed",
			zap.Int("box_id", b.id), zap.Error(err))
		return appErr.Wrapf(err, appErr.BoxCleanupFailed, "cleanup of box %d failed", b.id)
	}
	return nil
}

// Compile writes the source into the box and runs the language's compile
// command. Compilation gets a generous wall clock and more processes than
// execution; the compiler toolchain forks.
func (b *Box) Compile(ctx context.Context, lang Language, source []byte, budget time.Duration) (CompileResult, error) {
	if !lang.Compiled() {
		if err := b.writeFile(lang.SourceFile, source); err != nil {
			return CompileResult{}, err
		}
		return CompileResult{OK: true}, nil
	}

	if err := b.writeFile(lang.SourceFile, source); err != nil {
		return CompileResult{}, err
	}

	wall := b.driver.cfg.CompileWallTime
	if budget > 0 && budget < wall {
		wall = budget
	}

	args := []string{
		fmt.Sprintf("--box-id=%d", b.id),
		fmt.Sprintf("--meta=%s", b.metaPath()),
		"--processes=10",
		fmt.Sprintf("--wall-time=%.1f", wall.Seconds()),
		fmt.Sprintf("--fsize=%d", b.driver.cfg.MaxOutputKB),
		"--env=PATH=/usr/local/bin:/usr/bin:/bin",
		"--env=HOME=/tmp",
		"--stdout=compile.out",
		"--stderr=compile.err",
		"--run", "--",
	}
	args = append(args, lang.CompileArgs()...)

	runCtx, cancel := context.WithTimeout(ctx, wall+5*time.Second)
	defer cancel()

	runErr := exec.CommandContext(runCtx, b.driver.cfg.IsolateCmd, args...).Run()

	stdout := b.readBoxFile("compile.out")
	stderr := b.readBoxFile("compile.err")

	meta, metaErr := b.readMeta()
	if metaErr != nil {
		if runErr != nil {
			return CompileResult{}, appErr.Wrap(runErr, appErr.SandboxUnavailable)
		}
		return CompileResult{}, metaErr
	}

	ok := meta.Status == "" && meta.ExitCode == 0
	return CompileResult{OK: ok, Stdout: stdout, Stderr: stderr}, nil
}

// Execute runs the language's execute command against stdin under the given
// limits and maps the meta report to a verdict. The returned error is
// reserved for sandbox faults; user-program failures come back as verdicts.
func (b *Box) Execute(ctx context.Context, lang Language, stdin []byte, limits model.ResourceLimits) (ExecResult, error) {
	if err := b.writeFile("stdin.txt", stdin); err != nil {
		return ExecResult{}, err
	}

	cpuSec := float64(limits.TimeLimitMs) / 1000
	wallSec := cpuSec * 2

	args := []string{
		fmt.Sprintf("--box-id=%d", b.id),
		fmt.Sprintf("--meta=%s", b.metaPath()),
		"--processes=1",
		fmt.Sprintf("--time=%.3f", cpuSec),
		fmt.Sprintf("--wall-time=%.3f", wallSec),
		fmt.Sprintf("--mem=%d", limits.MemoryLimitKB),
		fmt.Sprintf("--stack=%d", b.driver.cfg.MaxStackKB),
		fmt.Sprintf("--fsize=%d", b.driver.cfg.MaxOutputKB),
		"--env=PATH=/usr/local/bin:/usr/bin:/bin",
		"--stdin=stdin.txt",
		"--stdout=stdout.txt",
		"--stderr=stderr.txt",
		"--run", "--",
	}
	args = append(args, lang.ExecuteArgs()...)

	runCtx, cancel := context.WithTimeout(ctx, time.Duration(wallSec*float64(time.Second))+5*time.Second)
	defer cancel()

	_ = exec.CommandContext(runCtx, b.driver.cfg.IsolateCmd, args...).Run()

	meta, err := b.readMeta()
	if err != nil {
		return ExecResult{}, err
	}

	return ExecResult{
		Verdict:  verdictFromMeta(meta, limits),
		Stdout:   b.readBoxFile("stdout.txt"),
		Stderr:   b.readBoxFile("stderr.txt"),
		TimeMs:   meta.TimeMs,
		MemoryKB: meta.MemoryKB,
		ExitCode: meta.ExitCode,
	}, nil
}

// verdictFromMeta maps the isolator's report onto a run verdict. When the
// isolator names an explicit kill reason it wins; counter thresholds are
// consulted only for runs the isolator let finish.
func verdictFromMeta(m Meta, limits model.ResourceLimits) model.Verdict {
	switch m.Status {
	case StatusTimeout:
		return model.VerdictTLE
	case StatusSignal:
		if limits.MemoryLimitKB > 0 && m.MemoryKB >= limits.MemoryLimitKB {
			return model.VerdictMLE
		}
		return model.VerdictRE
	case StatusNonZero:
		return model.VerdictRE
	case StatusInternal:
		return model.VerdictIE
	}

	if m.ExitCode != 0 {
		return model.VerdictRE
	}
	if limits.TimeLimitMs > 0 && m.TimeMs > limits.TimeLimitMs {
		return model.VerdictTLE
	}
	if limits.MemoryLimitKB > 0 && m.MemoryKB > limits.MemoryLimitKB {
		return model.VerdictMLE
	}
	return model.VerdictAC
}

// WriteFile places an auxiliary file into the box working directory.
func (b *Box) WriteFile(name string, data []byte) error {
	return b.writeFile(name, data)
}

func (b *Box) metaPath() string {
	return filepath.Join(os.TempDir(), fmt.Sprintf("judged-box-%d.meta", b.id))
}

func (b *Box) readMeta() (Meta, error) {
	data, err := os.ReadFile(b.metaPath())
	if err != nil {
		return Meta{}, appErr.Wrapf(err, appErr.MetaFileMissing, "meta file for box %d missing", b.id)
	}
	return ParseMeta(data)
}

func (b *Box) writeFile(name string, data []byte) error {
	path := filepath.Join(b.dir, name)
	if err := os.WriteFile(path, data, 0644); err != nil {
		return appErr.Wrapf(err, appErr.SandboxUnavailable, "write %s into box %d failed", name, b.id)
	}
	return nil
}

func (b *Box) readBoxFile(name string) string {
	data, err := os.ReadFile(filepath.Join(b.dir, name))
	if err != nil {
		return ""
	}
	maxBytes := b.driver.cfg.MaxOutputKB * 1024
	if len(data) > maxBytes {
		data = data[:maxBytes]
	}
	return string(data)
}
