package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"
)

// runExeStage compiles cppSource to a native executable with the
// configured C++ toolchain, the same invocation shape
// pkg/registry.RunPreprocessor uses for probing actor headers: source
// on stdin is not an option here (a real translation unit, not a
// preprocessor probe), so cppSource is written to a temp file instead
// and passed as a positional argument.
func runExeStage(opts Options, stdout, stderr *os.File, cppSource []byte) int {
	tmpSrc, err := os.CreateTemp("", "pcc-*.cpp")
	if err != nil {
		fmt.Fprintf(stderr, "pcc: create temp source file: %v\n", err)
		return 3
	}
	defer os.Remove(tmpSrc.Name())
	if _, err := tmpSrc.Write(cppSource); err != nil {
		tmpSrc.Close()
		fmt.Fprintf(stderr, "pcc: write temp source file: %v\n", err)
		return 3
	}
	if err := tmpSrc.Close(); err != nil {
		fmt.Fprintf(stderr, "pcc: close temp source file: %v\n", err)
		return 3
	}

	outPath := opts.OutputPath
	if outPath == "" {
		outPath = "a.out"
	}

	cc := opts.CC
	if cc == "" {
		cc = "c++"
	}

	args := []string{"-x", "c++", "-std=c++20", "-O2"}
	for _, inc := range opts.IncludeDirs {
		args = append(args, "-I", inc)
	}
	args = append(args, tmpSrc.Name(), "-o", outPath)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	cmd := exec.CommandContext(ctx, cc, args...)
	var compilerStderr bytes.Buffer
	cmd.Stdout = stdout
	cmd.Stderr = &compilerStderr

	if err := cmd.Run(); err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			fmt.Fprintf(stderr, "pcc: C++ compiler %q exited with status %d\n%s\n", cc, exitErr.ExitCode(), strings.TrimSpace(compilerStderr.String()))
			return 3
		}
		fmt.Fprintf(stderr, "pcc: failed to launch C++ compiler %q: %v\n", cc, err)
		return 3
	}
	return 0
}
