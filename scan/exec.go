package scan

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"sync"
)

// runJSON executes a scanner binary, streams its stderr (where these
// tools write progress) line by line to the logger callback, and returns
// the captured stdout, which is expected to be a JSON document.
func runJSON(ctx context.Context, onLog func(string), name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)

	var stdout bytes.Buffer
	cmd.Stdout = &stdout

	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, err
	}

	if err := cmd.Start(); err != nil {
		return nil, err
	}

	var wg sync.WaitGroup
	wg.Add(1)

	var lastLines []string
	go func() {
		defer wg.Done()
		scanner := bufio.NewScanner(stderr)
		scanner.Buffer(make([]byte, 64*1024), 1024*1024)
		for scanner.Scan() {
			text := strings.TrimSpace(scanner.Text())
			if text == "" {
				continue
			}
			// Keep a small tail for error reporting
			lastLines = append(lastLines, text)
			if len(lastLines) > 5 {
				lastLines = lastLines[1:]
			}
			if onLog != nil {
				onLog(text)
			}
		}
	}()

	wg.Wait()
	if err := cmd.Wait(); err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%s timed out: %w", name, ctx.Err())
		}
		if len(lastLines) > 0 {
			return nil, fmt.Errorf("%s failed: %w (%s)", name, err, strings.Join(lastLines, "; "))
		}
		return nil, fmt.Errorf("%s failed: %w", name, err)
	}

	return stdout.Bytes(), nil
}

// binaryAvailable reports whether a scanner binary resolves in PATH.
func binaryAvailable(path string) bool {
	_, err := exec.LookPath(path)
	return err == nil
}
