package sandbox

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const squareProgram = `read n
if [ -z "$n" ]; then
  echo 'Exception in thread "main" java.util.NoSuchElementException' >&2
  exit 1
fi
echo $((n * n))
`

func newShellSandbox(t *testing.T) (*Sandbox, string) {
	t.Helper()
	base := t.TempDir()
	return New(Config{
		Toolchain:      ShellToolchain(),
		BaseDir:        base,
		CompileTimeout: 10 * time.Second,
		RunTimeout:     10 * time.Second,
		MaxOutputBytes: 64 << 10,
	}), base
}

func TestRunSquare(t *testing.T) {
	sb, _ := newShellSandbox(t)

	res := sb.Run(context.Background(), "", squareProgram, "4")
	require.True(t, res.Succeeded(), "result: %+v", res)
	assert.Equal(t, "16", strings.TrimSpace(res.Stdout))
}

func TestRunEmptyInput(t *testing.T) {
	sb, _ := newShellSandbox(t)

	res := sb.Run(context.Background(), "", squareProgram, "")
	assert.Equal(t, OutcomeRuntimeFailure, res.Outcome)
	assert.Equal(t, KindEmptyInput, res.Kind)
	assert.Equal(t, "Scanner tried to read but no input was provided.", res.Detail)
	assert.NotZero(t, res.ExitCode)
}

func TestRunCompileFailure(t *testing.T) {
	sb, _ := newShellSandbox(t)

	res := sb.Run(context.Background(), "", "if then fi\n", "")
	assert.Equal(t, OutcomeCompileFailure, res.Outcome)
	assert.NotEmpty(t, strings.TrimSpace(res.Diagnostic))
	assert.False(t, res.Unavailable)
}

func TestRunClassifiedRuntimeFailures(t *testing.T) {
	sb, _ := newShellSandbox(t)

	tests := []struct {
		name   string
		stderr string
		kind   FailureKind
		detail string
	}{
		{"type mismatch", "java.util.InputMismatchException", KindTypeMismatch, "The input is of an incorrect type."},
		{"null dereference", "java.lang.NullPointerException", KindNullDereference, "A null object was accessed in the executed code."},
		{"unclassified", "boom", KindUnclassified, "Error in execution: boom\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := fmt.Sprintf("echo '%s' >&2\nexit 3\n", tt.stderr)
			res := sb.Run(context.Background(), "", src, "")
			assert.Equal(t, OutcomeRuntimeFailure, res.Outcome)
			assert.Equal(t, tt.kind, res.Kind)
			assert.Equal(t, tt.detail, res.Detail)
			assert.Equal(t, 3, res.ExitCode)
		})
	}
}

func TestRunRemovesWorkDir(t *testing.T) {
	sb, base := newShellSandbox(t)

	sb.Run(context.Background(), "ok", squareProgram, "3")
	sb.Run(context.Background(), "bad", "if then fi\n", "")
	sb.Run(context.Background(), "fail", "exit 1\n", "")

	entries, err := os.ReadDir(base)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestConcurrentInvocationsAreIsolated(t *testing.T) {
	sb, _ := newShellSandbox(t)

	// Each run fails if another run's marker is visible in its directory.
	const src = `read tok
if [ -e marker ]; then
  echo "collision: $(cat marker)" >&2
  exit 1
fi
echo "$tok" > marker
sleep 0.2
cat marker
`
	const n = 8
	results := make([]Result, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = sb.Run(context.Background(), "same-id", src, fmt.Sprintf("token-%d", i))
		}(i)
	}
	wg.Wait()

	for i, res := range results {
		require.True(t, res.Succeeded(), "run %d: %+v", i, res)
		assert.Equal(t, fmt.Sprintf("token-%d", i), strings.TrimSpace(res.Stdout))
	}
}

func TestSequentialInvocationsWithSameIDAreIsolated(t *testing.T) {
	sb, _ := newShellSandbox(t)

	const src = "if [ -e Main.class ]; then echo stale; exit 1; fi\ntouch Main.class\necho fresh\n"
	for i := 0; i < 3; i++ {
		res := sb.Run(context.Background(), "repeat", src, "")
		require.True(t, res.Succeeded(), "iteration %d: %+v", i, res)
		assert.Equal(t, "fresh", strings.TrimSpace(res.Stdout))
	}
}

func TestExecuteWithoutCompile(t *testing.T) {
	sb, _ := newShellSandbox(t)

	inv, err := sb.Open("")
	require.NoError(t, err)
	defer inv.Close()

	res := inv.Execute(context.Background(), "")
	assert.Equal(t, OutcomeRuntimeFailure, res.Outcome)
	assert.Equal(t, KindUnclassified, res.Kind)
	assert.Equal(t, "program not compiled", res.Detail)
}

func TestFailedRecompileDiscardsEarlierBuild(t *testing.T) {
	sb, _ := newShellSandbox(t)

	inv, err := sb.Open("")
	require.NoError(t, err)
	defer inv.Close()

	require.NoError(t, inv.Compile(context.Background(), squareProgram))
	require.True(t, inv.Execute(context.Background(), "3").Succeeded())

	var ce *CompileError
	require.ErrorAs(t, inv.Compile(context.Background(), "if then fi\n"), &ce)

	res := inv.Execute(context.Background(), "3")
	assert.Equal(t, OutcomeRuntimeFailure, res.Outcome)
	assert.Equal(t, KindUnclassified, res.Kind)
	assert.Equal(t, "program not compiled", res.Detail)
}

func TestInvocationCloseIsIdempotent(t *testing.T) {
	sb, _ := newShellSandbox(t)

	inv, err := sb.Open("close-twice")
	require.NoError(t, err)
	assert.DirExists(t, inv.Dir())
	assert.Contains(t, inv.Dir(), "inv-close-twice-")

	require.NoError(t, inv.Close())
	require.NoError(t, inv.Close())
	assert.NoDirExists(t, inv.Dir())

	err = inv.Compile(context.Background(), "echo hi\n")
	var ce *CompileError
	require.ErrorAs(t, err, &ce)
}

func TestCompileErrorCarriesDiagnostic(t *testing.T) {
	sb, _ := newShellSandbox(t)

	inv, err := sb.Open("")
	require.NoError(t, err)
	defer inv.Close()

	err = inv.Compile(context.Background(), "echo \"unterminated\n")
	var ce *CompileError
	require.ErrorAs(t, err, &ce)
	assert.NotEmpty(t, ce.Diagnostic)
	assert.Contains(t, ce.Error(), "compilation failed")
}

func TestMissingToolchain(t *testing.T) {
	sb := New(Config{
		Toolchain: Toolchain{
			Name:       "ghost",
			SourceFile: "Main.ghost",
			Compile:    []string{"codepair-no-such-compiler", "Main.ghost"},
			Run:        []string{"codepair-no-such-runtime"},
		},
		BaseDir: t.TempDir(),
	})

	res := sb.Run(context.Background(), "", "anything", "")
	assert.Equal(t, OutcomeCompileFailure, res.Outcome)
	assert.True(t, res.Unavailable)
	assert.Contains(t, res.Diagnostic, "not found")
}

func TestMissingRuntime(t *testing.T) {
	sb := New(Config{
		Toolchain: Toolchain{
			Name:       "half",
			SourceFile: "Main.sh",
			Compile:    []string{"sh", "-n", "Main.sh"},
			Run:        []string{"codepair-no-such-runtime"},
		},
		BaseDir: t.TempDir(),
	})

	res := sb.Run(context.Background(), "", "echo hi\n", "")
	assert.Equal(t, OutcomeRuntimeFailure, res.Outcome)
	assert.True(t, res.Unavailable)
	assert.Equal(t, KindUnclassified, res.Kind)
}

func TestRunTimeout(t *testing.T) {
	sb := New(Config{
		Toolchain:  ShellToolchain(),
		BaseDir:    t.TempDir(),
		RunTimeout: 200 * time.Millisecond,
	})

	start := time.Now()
	res := sb.Run(context.Background(), "", "sleep 30\n", "")
	assert.Less(t, time.Since(start), 10*time.Second)
	assert.Equal(t, OutcomeRuntimeFailure, res.Outcome)
	assert.Equal(t, KindUnclassified, res.Kind)
	assert.True(t, res.TimedOut)
	assert.Contains(t, res.Detail, "timed out")
}

func TestOutputIsCapped(t *testing.T) {
	sb := New(Config{
		Toolchain:      ShellToolchain(),
		BaseDir:        t.TempDir(),
		MaxOutputBytes: 16,
	})

	res := sb.Run(context.Background(), "", "i=0\nwhile [ $i -lt 1000 ]; do echo line-$i; i=$((i+1)); done\n", "")
	require.True(t, res.Succeeded(), "%+v", res)
	assert.True(t, strings.HasSuffix(res.Stdout, "[output truncated]"))
	assert.True(t, strings.HasPrefix(res.Stdout, "line-0\nline-1\n"))
}

func TestSensitiveEnvironmentIsFiltered(t *testing.T) {
	t.Setenv("CODEPAIR_TEST_API_KEY", "secret")
	t.Setenv("CODEPAIR_TEST_PLAIN", "visible")
	sb, _ := newShellSandbox(t)

	res := sb.Run(context.Background(), "", "echo \"${CODEPAIR_TEST_API_KEY:-unset} ${CODEPAIR_TEST_PLAIN:-unset}\"\n", "")
	require.True(t, res.Succeeded(), "%+v", res)
	assert.Equal(t, "unset visible", strings.TrimSpace(res.Stdout))
}

func TestClassifyPriority(t *testing.T) {
	kind, detail := Classify("java.util.NoSuchElementException\n\tat java.util.InputMismatchException")
	assert.Equal(t, KindTypeMismatch, kind)
	assert.Equal(t, "The input is of an incorrect type.", detail)

	kind, _ = Classify("NullPointerException after NoSuchElementException")
	assert.Equal(t, KindEmptyInput, kind)

	kind, detail = Classify("Segmentation fault")
	assert.Equal(t, KindUnclassified, kind)
	assert.Equal(t, "Error in execution: Segmentation fault", detail)

	// Matching is case-sensitive and exact.
	kind, _ = Classify("nullpointerexception")
	assert.Equal(t, KindUnclassified, kind)
}

func TestToolchainByName(t *testing.T) {
	tc, err := ToolchainByName("")
	require.NoError(t, err)
	assert.Equal(t, "Main.java", tc.SourceFile)

	tc, err = ToolchainByName("sh")
	require.NoError(t, err)
	assert.Equal(t, "Main.sh", tc.SourceFile)

	_, err = ToolchainByName("cobol")
	assert.Error(t, err)
}

func TestJavaToolchain(t *testing.T) {
	if _, err := exec.LookPath("javac"); err != nil {
		t.Skip("javac not installed")
	}
	sb := New(Config{Toolchain: JavaToolchain(), BaseDir: t.TempDir(), RunTimeout: 30 * time.Second})

	const src = `import java.util.Scanner;

public class Main {
    public static void main(String[] args) {
        Scanner sc = new Scanner(System.in);
        int n = sc.nextInt();
        System.out.println(n * n);
    }
}
`
	res := sb.Run(context.Background(), "", src, "4")
	require.True(t, res.Succeeded(), "%+v", res)
	assert.Equal(t, "16", strings.TrimSpace(res.Stdout))

	res = sb.Run(context.Background(), "", src, "")
	assert.Equal(t, KindEmptyInput, res.Kind)

	res = sb.Run(context.Background(), "", src, "four")
	assert.Equal(t, KindTypeMismatch, res.Kind)

	res = sb.Run(context.Background(), "", "public class Main { oops }", "")
	assert.Equal(t, OutcomeCompileFailure, res.Outcome)
	assert.NotEmpty(t, res.Diagnostic)
}
