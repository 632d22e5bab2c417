package core

import (
	"os"
	"testing"
)

// SetupTempRvm opens a fresh RvmHandle rooted at a temporary directory and
// registers cleanup with tb. Tests that need to simulate a restart should
// not use the cleanup func directly; instead call Init again against the
// same path.
func SetupTempRvm(tb testing.TB, opts ...Option) (h *RvmHandle, path string, cleanup func()) {
	path, err := os.MkdirTemp("", "rvm_test_*")
	if err != nil {
		tb.Fatalf("MkdirTemp failed: %v", err)
	}

	h, err = Init(path, opts...)
	if err != nil {
		_ = os.RemoveAll(path)
		tb.Fatalf("Init(%q) failed: %v", path, err)
	}

	cleanup = func() {
		_ = os.RemoveAll(path)
	}
	tb.Cleanup(cleanup)

	return h, path, cleanup
}
