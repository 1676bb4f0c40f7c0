package main

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRunAllScenarios(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := run(context.Background(), []string{
		"-workers", "4",
		"-iterations", "200",
		"-admin", "127.0.0.1:0",
		"-shm-dir", t.TempDir(),
		"-log-level", "5",
	}, &stdout, &stderr)
	assert.Equal(t, exitOK, code, stderr.String())
	assert.Contains(t, stdout.String(), "6 scenarios, 0 failed")
	assert.Contains(t, stdout.String(), "shm-counter")
}

func TestRunSelectedScenarios(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := run(context.Background(), []string{
		"-workers", "2", "-iterations", "10", "-admin", "", "-log-level", "5",
		"-scenarios", "fetch-add,xor-toggle",
	}, &stdout, &stderr)
	assert.Equal(t, exitOK, code, stderr.String())
	assert.Contains(t, stdout.String(), "2 scenarios, 0 failed")
}

func TestRunUsageErrors(t *testing.T) {
	for name, args := range map[string][]string{
		"unknown flag":     {"-bogus"},
		"negative workers": {"-workers", "-1"},
		"unknown scenario": {"-scenarios", "fetch-add,nope"},
	} {
		t.Run(name, func(t *testing.T) {
			var stdout, stderr bytes.Buffer
			assert.Equal(t, exitUsage, run(context.Background(), args, &stdout, &stderr))
		})
	}
}

func TestRunList(t *testing.T) {
	var stdout, stderr bytes.Buffer
	assert.Equal(t, exitOK, run(context.Background(), []string{"-list"}, &stdout, &stderr))
	assert.Contains(t, stdout.String(), "flag-lock")
	assert.Contains(t, stdout.String(), "cas-increment")
}

func TestRunCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	var stdout, stderr bytes.Buffer
	code := run(ctx, []string{"-workers", "2", "-iterations", "10", "-admin", "", "-log-level", "5"}, &stdout, &stderr)
	assert.Equal(t, exitFailed, code)
	assert.Contains(t, stdout.String(), "0 scenarios, 0 failed")
}

func TestRunZeroWorkersUsesCPUCount(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := run(context.Background(), []string{
		"-workers", "0", "-iterations", "10", "-admin", "", "-log-level", "5",
		"-scenarios", "fetch-add",
	}, &stdout, &stderr)
	assert.Equal(t, exitOK, code, stderr.String())
	assert.Contains(t, stdout.String(), "1 scenarios, 0 failed")
}
