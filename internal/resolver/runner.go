package resolver

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
)

// RunResult is the outcome of one resolver invocation: combined exit code
// and combined stdout/stderr logs (spec 4.F step 5).
type RunResult struct {
	ExitCode int
	Logs     []byte
}

// Runner executes the configured resolver tool variant against a clone
// already checked out at clonePath, writing the two well-known result
// files into resultsDir (spec 4.F step 5: "enumerated option set").
type Runner interface {
	Run(ctx context.Context, clonePath, resultsDir, projectName, fileFilters string) (RunResult, error)
}

// resolverResultFile / containerResultFile are the well-known output
// filenames the resolver tool writes and the agent copies into the clone
// as .cxsca-results.json / .cxsca-container-results.json (spec 4.F step 6).
const (
	resolverResultFile  = "resolver-results.json"
	containerResultFile = "container-results.json"
)

func resultPaths(resultsDir string) (resolverPath, containerPath string) {
	return filepath.Join(resultsDir, resolverResultFile), filepath.Join(resultsDir, containerResultFile)
}

// NoOpRunner returns exit 0 with empty output, for agents whose resolver
// work is entirely performed by a pre/post shell stage elsewhere (spec
// 4.F step 5 variant: "No-op runner").
type NoOpRunner struct{}

func (NoOpRunner) Run(context.Context, string, string, string, string) (RunResult, error) {
	return RunResult{ExitCode: 0}, nil
}

// ShellRunner invokes the resolver binary directly, optionally under a
// privileged `sudo -u runas` impersonation, and optionally chmod's the
// clone directory recursively to grant that user r/w/x access (spec 4.F
// step 5 variant: "Shell runner"), grounded on
// original_source/agent/resolver/shell_runner.py's
// ResolverShellExecutionContext.
type ShellRunner struct {
	ResolverPath string
	RunAsUser    string
	ExtraOpts    []string
	ExcludesCSV  string
	LogsPath     string
}

func (r ShellRunner) Run(ctx context.Context, clonePath, resultsDir, projectName, fileFilters string) (RunResult, error) {
	if r.RunAsUser != "" {
		if err := recursiveChmod(clonePath, 0o777); err != nil {
			return RunResult{}, fmt.Errorf("resolver: recursive chmod for runas user: %w", err)
		}
	}

	resolverOut, containerOut := resultPaths(resultsDir)
	args := []string{"offline"}
	args = append(args, r.ExtraOpts...)
	args = append(args,
		"--excludes", excludesOrDefault(r.ExcludesCSV, fileFilters),
		"--logs-path", logsPathOrDefault(r.LogsPath, resultsDir),
		"--scan-path", clonePath,
		"--containers-result-path", containerOut,
		"--resolver-result-path", resolverOut,
		"--project-name", projectName,
	)

	cmdArgs := args
	binary := r.ResolverPath
	if r.RunAsUser != "" {
		cmdArgs = append([]string{"-u", r.RunAsUser, fmt.Sprintf("HOME=%s", clonePath), binary}, args...)
		binary = "sudo"
	}

	return runCommand(ctx, binary, cmdArgs, nil)
}

func excludesOrDefault(csv, fallback string) string {
	if csv != "" {
		return csv
	}
	return fallback
}

func logsPathOrDefault(path, fallback string) string {
	if path != "" {
		return path
	}
	return fallback
}

func recursiveChmod(root string, mode os.FileMode) error {
	return filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		return os.Chmod(path, mode)
	})
}

// ContainerRunner invokes the resolver inside a containerized toolkit
// image, clone bind-mounted at /code, HOME=/code (spec §6 "Resolver tool
// invocation").
type ContainerRunner struct {
	Image       string
	ExtraOpts   []string
	ExcludesCSV string
	RunAsAgent  bool
}

func (r ContainerRunner) Run(ctx context.Context, clonePath, resultsDir, projectName, fileFilters string) (RunResult, error) {
	resolverOut, containerOut := resultPaths(resultsDir)
	args := []string{"run", "-t", "--rm"}
	if r.RunAsAgent {
		args = append(args, "-u", fmt.Sprintf("%d:%d", os.Getuid(), os.Getgid()))
	}
	args = append(args,
		"-v", fmt.Sprintf("%s:/code", clonePath),
		"-w", "/code",
		"-e", "HOME=/code",
		r.Image,
		"offline",
	)
	args = append(args, r.ExtraOpts...)
	args = append(args,
		"--excludes", excludesOrDefault(r.ExcludesCSV, fileFilters),
		"--logs-path", "/code/.resolver-logs",
		"--scan-path", "/code",
		"--containers-result-path", "/code/"+containerResultFile,
		"--resolver-result-path", "/code/"+resolverResultFile,
		"--project-name", projectName,
	)

	result, err := runCommand(ctx, "docker", args, nil)
	if err != nil {
		return result, err
	}
	// The container wrote results under the bind-mounted clone; copy them
	// out to resultsDir so the caller's copy-to-clone step is uniform
	// across runner variants.
	_ = copyIfExists(filepath.Join(clonePath, resolverResultFile), resolverOut)
	_ = copyIfExists(filepath.Join(clonePath, containerResultFile), containerOut)
	return result, nil
}

// TwoStageRunner runs a containerized pre/post-scan shell script around an
// inner resolver runner; the combined exit code is the OR of the two, and
// combined logs are concatenated (spec 4.F step 5 variant: "Two-stage
// runner"), grounded on
// original_source/agent/resolver/two_stage_runner.py.
type TwoStageRunner struct {
	Inner          Runner
	RunBefore      bool
	ContainerImage string
	Shell          string
	Script         string
	RunAsAgent     bool
}

func (r TwoStageRunner) Run(ctx context.Context, clonePath, resultsDir, projectName, fileFilters string) (RunResult, error) {
	var innerResult, shellResult RunResult
	var innerErr error

	runInner := func() {
		innerResult, innerErr = r.Inner.Run(ctx, clonePath, resultsDir, projectName, fileFilters)
	}
	runShell := func() error {
		shellResult, _ = r.runShellStage(ctx, clonePath)
		return nil
	}

	if r.RunBefore {
		runInner()
		_ = runShell()
	} else {
		_ = runShell()
		runInner()
	}

	exitCode := innerResult.ExitCode | shellResult.ExitCode
	logs := append(append([]byte{}, innerResult.Logs...), shellResult.Logs...)
	if innerErr != nil {
		exitCode = 1
	}
	return RunResult{ExitCode: exitCode, Logs: logs}, nil
}

func (r TwoStageRunner) runShellStage(ctx context.Context, clonePath string) (RunResult, error) {
	args := []string{"run", "-t", "--rm"}
	if r.RunAsAgent {
		args = append(args, "-u", fmt.Sprintf("%d:%d", os.Getuid(), os.Getgid()))
	}
	args = append(args,
		"-v", fmt.Sprintf("%s:/code", clonePath),
		"-w", "/code",
		"--entrypoint", r.Shell,
		r.ContainerImage,
		"-c", r.Script,
	)
	return runCommand(ctx, "docker", args, map[string]string{"HOME": "/code"})
}

func runCommand(ctx context.Context, name string, args []string, extraEnv map[string]string) (RunResult, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	if len(extraEnv) > 0 {
		env := os.Environ()
		for k, v := range extraEnv {
			env = append(env, fmt.Sprintf("%s=%s", k, v))
		}
		cmd.Env = env
	}
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	err := cmd.Run()
	exitCode := 0
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			return RunResult{}, fmt.Errorf("resolver: exec %s: %w", name, err)
		}
	}
	return RunResult{ExitCode: exitCode, Logs: out.Bytes()}, nil
}

func copyIfExists(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	return os.WriteFile(dst, data, 0o644)
}
