package onnx

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

// EnvLibraryPath is checked when no library is configured explicitly.
const EnvLibraryPath = "ONNXRUNTIME_SHARED_LIBRARY_PATH"

var (
	envMu    sync.Mutex
	envOwned bool
)

// LibPath picks the ONNX Runtime shared library: the configured path, then
// $ONNXRUNTIME_SHARED_LIBRARY_PATH, then the usual install locations.
func LibPath(configured string) string {
	if configured != "" {
		return configured
	}
	if p := os.Getenv(EnvLibraryPath); p != "" {
		return p
	}
	for _, p := range candidates(runtime.GOOS) {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

func candidates(goos string) []string {
	switch goos {
	case "linux":
		return []string{
			filepath.Join("onnxlibs", "libonnxruntime.so"),
			"/usr/local/lib/libonnxruntime.so",
			"/usr/lib/libonnxruntime.so",
			"/usr/lib/x86_64-linux-gnu/libonnxruntime.so",
		}
	case "darwin":
		return []string{
			filepath.Join("onnxlibs", "libonnxruntime.dylib"),
			"/usr/local/lib/libonnxruntime.dylib",
			"/opt/homebrew/lib/libonnxruntime.dylib",
		}
	case "windows":
		return []string{
			filepath.Join("onnxlibs", "onnxruntime.dll"),
			"onnxruntime.dll",
		}
	default:
		return nil
	}
}

// Init loads the shared library and creates the process-wide environment.
// It is a no-op when the environment already exists.
func Init(libPath string) error {
	envMu.Lock()
	defer envMu.Unlock()
	if ort.IsInitialized() {
		return nil
	}
	path := LibPath(libPath)
	if path == "" {
		return fmt.Errorf("ONNX Runtime library path could not be determined for %s", runtime.GOOS)
	}
	slog.Info("Using ONNX Runtime library", slog.String("path", path))
	ort.SetSharedLibraryPath(path)
	if err := ort.InitializeEnvironment(); err != nil {
		return fmt.Errorf("failed to initialize ONNX Runtime environment: %w", err)
	}
	envOwned = true
	return nil
}

func Shutdown() {
	envMu.Lock()
	defer envMu.Unlock()
	if !envOwned {
		return
	}
	if err := ort.DestroyEnvironment(); err != nil {
		slog.Error("Failed to destroy ONNX Runtime environment", slog.String("error", err.Error()))
	}
	envOwned = false
}
