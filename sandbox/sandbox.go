// Package sandbox compiles and runs untrusted candidate programs in
// per-invocation work directories and reports classified outcomes.
//
// Every invocation gets its own directory keyed by its identity, so two
// invocations (concurrent or sequential, even with identical source) never
// see each other's files. The directory is removed on every exit path.
// Failures are returned as data: callers observe a Result, never an error
// escaping from the toolchain.
package sandbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Toolchain describes how to compile and run a single-file program with a
// fixed entry-point name. Commands run with the invocation directory as the
// working directory.
type Toolchain struct {
	Name       string   `yaml:"name"`
	SourceFile string   `yaml:"source_file"`
	Compile    []string `yaml:"compile"`
	Run        []string `yaml:"run"`
}

// JavaToolchain compiles Main.java with javac and runs class Main.
func JavaToolchain() Toolchain {
	return Toolchain{
		Name:       "java",
		SourceFile: "Main.java",
		Compile:    []string{"javac", "Main.java"},
		Run:        []string{"java", "-cp", ".", "Main"},
	}
}

// ShellToolchain treats the program as a POSIX shell script: "compiling" is
// a syntax check with sh -n.
func ShellToolchain() Toolchain {
	return Toolchain{
		Name:       "sh",
		SourceFile: "Main.sh",
		Compile:    []string{"sh", "-n", "Main.sh"},
		Run:        []string{"sh", "Main.sh"},
	}
}

// ToolchainByName resolves a configured toolchain name.
func ToolchainByName(name string) (Toolchain, error) {
	switch strings.ToLower(name) {
	case "", "java":
		return JavaToolchain(), nil
	case "sh", "shell":
		return ShellToolchain(), nil
	default:
		return Toolchain{}, fmt.Errorf("unknown toolchain %q", name)
	}
}

// Config holds sandbox settings.
type Config struct {
	Toolchain      Toolchain
	BaseDir        string        // parent of per-invocation dirs; os.TempDir() when empty
	CompileTimeout time.Duration // 0 = no limit
	RunTimeout     time.Duration // 0 = no limit
	MaxOutputBytes int           // per stream; 0 = unlimited
	Logger         *slog.Logger
}

// DefaultConfig returns the Java toolchain with conservative limits.
func DefaultConfig() Config {
	return Config{
		Toolchain:      JavaToolchain(),
		CompileTimeout: 60 * time.Second,
		RunTimeout:     10 * time.Second,
		MaxOutputBytes: 1 << 20,
	}
}

// Sandbox creates isolated invocations.
type Sandbox struct {
	cfg    Config
	logger *slog.Logger
}

// New creates a Sandbox.
func New(cfg Config) *Sandbox {
	if cfg.Toolchain.SourceFile == "" {
		cfg.Toolchain = JavaToolchain()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Sandbox{cfg: cfg, logger: logger.With("component", "sandbox")}
}

// Toolchain returns the configured toolchain.
func (s *Sandbox) Toolchain() Toolchain {
	return s.cfg.Toolchain
}

// Invocation owns one work directory for the duration of a compile+run.
type Invocation struct {
	id       string
	dir      string
	sb       *Sandbox
	compiled bool
	closed   bool
	mu       sync.Mutex
}

// Open creates a fresh work directory for the invocation id. An empty id is
// replaced with a random one. The directory name embeds a random suffix, so
// reusing an id still yields a distinct directory.
func (s *Sandbox) Open(id string) (*Invocation, error) {
	if id == "" {
		id = uuid.New().String()
	}
	base := s.cfg.BaseDir
	if base == "" {
		base = os.TempDir()
	}
	if err := os.MkdirAll(base, 0o755); err != nil {
		return nil, fmt.Errorf("create sandbox base dir: %w", err)
	}
	dir, err := os.MkdirTemp(base, "inv-"+sanitizeID(id)+"-")
	if err != nil {
		return nil, fmt.Errorf("create invocation dir: %w", err)
	}
	return &Invocation{id: id, dir: dir, sb: s}, nil
}

// ID returns the invocation identity.
func (inv *Invocation) ID() string { return inv.id }

// Dir returns the invocation's work directory.
func (inv *Invocation) Dir() string { return inv.dir }

// Compile writes source under the toolchain's fixed file name and compiles
// it. A non-nil error is always a *CompileError, after which Execute
// refuses to run until a later Compile succeeds.
func (inv *Invocation) Compile(ctx context.Context, source string) error {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	inv.compiled = false
	if inv.closed {
		return &CompileError{Diagnostic: "invocation already closed"}
	}

	tc := inv.sb.cfg.Toolchain
	path := filepath.Join(inv.dir, tc.SourceFile)
	if err := os.WriteFile(path, []byte(source), 0o644); err != nil {
		return &CompileError{Diagnostic: fmt.Sprintf("write source: %v", err), Cause: err}
	}
	if len(tc.Compile) == 0 {
		inv.compiled = true
		return nil
	}

	res, err := runProcess(ctx, inv.dir, tc.Compile, "", inv.sb.cfg.CompileTimeout, inv.sb.cfg.MaxOutputBytes)
	if err != nil {
		if errors.Is(err, ErrToolchainUnavailable) {
			return &CompileError{
				Diagnostic: fmt.Sprintf("Compiler (%s) not found. Please ensure the %s toolchain is installed and in PATH.", tc.Compile[0], tc.Name),
				Cause:      err,
			}
		}
		return &CompileError{Diagnostic: fmt.Sprintf("Compilation error: %v", err), Cause: err}
	}
	if res.TimedOut {
		return &CompileError{Diagnostic: fmt.Sprintf("compilation timed out after %s", inv.sb.cfg.CompileTimeout)}
	}
	if res.ExitCode != 0 {
		diag := res.Stderr
		if strings.TrimSpace(diag) == "" {
			diag = res.Stdout
		}
		if strings.TrimSpace(diag) == "" {
			diag = fmt.Sprintf("compiler exited with status %d", res.ExitCode)
		}
		return &CompileError{Diagnostic: diag}
	}

	inv.compiled = true
	return nil
}

// Execute runs the compiled program with stdin. It is valid only after a
// successful Compile on the same invocation.
func (inv *Invocation) Execute(ctx context.Context, stdin string) Result {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	if inv.closed {
		return RuntimeFailure(KindUnclassified, "invocation already closed")
	}
	if !inv.compiled {
		return RuntimeFailure(KindUnclassified, "program not compiled")
	}

	tc := inv.sb.cfg.Toolchain
	res, err := runProcess(ctx, inv.dir, tc.Run, stdin, inv.sb.cfg.RunTimeout, inv.sb.cfg.MaxOutputBytes)
	if err != nil {
		if errors.Is(err, ErrToolchainUnavailable) {
			r := RuntimeFailure(KindUnclassified, fmt.Sprintf("Runtime (%s) not found. Please ensure the %s toolchain is installed and in PATH.", tc.Run[0], tc.Name))
			r.Unavailable = true
			return r
		}
		return RuntimeFailure(KindUnclassified, fmt.Sprintf("Error in execution: %v", err))
	}

	if res.TimedOut {
		r := RuntimeFailure(KindUnclassified, fmt.Sprintf("Error in execution: timed out after %s", inv.sb.cfg.RunTimeout))
		r.TimedOut = true
		r.Stderr = res.Stderr
		r.ExitCode = res.ExitCode
		r.DurationMs = res.DurationMs
		return r
	}
	if res.ExitCode != 0 {
		kind, detail := Classify(res.Stderr)
		inv.sb.logger.Debug("program failed", "invocation", inv.id, "kind", kind, "exit_code", res.ExitCode)
		r := RuntimeFailure(kind, detail)
		r.Stderr = res.Stderr
		r.ExitCode = res.ExitCode
		r.DurationMs = res.DurationMs
		return r
	}

	r := Success(res.Stdout)
	r.Stderr = res.Stderr
	r.DurationMs = res.DurationMs
	return r
}

// Close removes the work directory. Safe to call multiple times.
func (inv *Invocation) Close() error {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	if inv.closed {
		return nil
	}
	inv.closed = true
	if err := os.RemoveAll(inv.dir); err != nil {
		return fmt.Errorf("remove invocation dir: %w", err)
	}
	return nil
}

// Run compiles and executes source in a fresh invocation and always removes
// the work directory before returning, including when a panic unwinds
// through it.
func (s *Sandbox) Run(ctx context.Context, id, source, stdin string) (result Result) {
	inv, err := s.Open(id)
	if err != nil {
		s.logger.Error("open invocation failed", "error", err)
		return RuntimeFailure(KindUnclassified, fmt.Sprintf("Error in execution: %v", err))
	}
	defer func() {
		if rec := recover(); rec != nil {
			s.logger.Error("sandbox panic", "invocation", inv.id, "panic", rec)
			result = RuntimeFailure(KindUnclassified, fmt.Sprintf("Error in execution: %v", rec))
		}
		if err := inv.Close(); err != nil {
			s.logger.Warn("cleanup failed", "invocation", inv.id, "error", err)
		}
	}()

	if err := inv.Compile(ctx, source); err != nil {
		var ce *CompileError
		if errors.As(err, &ce) {
			r := CompileFailure(ce.Diagnostic)
			r.Unavailable = errors.Is(err, ErrToolchainUnavailable)
			return r
		}
		return CompileFailure(err.Error())
	}

	result = inv.Execute(ctx, stdin)
	if !result.Succeeded() {
		s.logger.Info("invocation failed", "invocation", inv.id, "result", result.String())
	}
	return result
}

func sanitizeID(id string) string {
	var sb strings.Builder
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			sb.WriteRune(r)
		default:
			sb.WriteByte('_')
		}
	}
	if sb.Len() > 64 {
		return sb.String()[:64]
	}
	return sb.String()
}
