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

var pathOnce sync.Once
var libPath string

// LibPath resolves the ONNX Runtime shared library once per process.
// An explicit path (config or environment) always wins.
func LibPath(explicit string) string {
	pathOnce.Do(func() {
		libPath = resolveLibPath(explicit, runtime.GOOS, fileExists)
		if libPath == "" {
			slog.Error("ONNX Runtime library path could not be determined for this OS")
		} else {
			slog.Info("Using ONNX Runtime library", slog.String("path", libPath))
		}
	})
	return libPath
}

func resolveLibPath(explicit, goos string, exists func(string) bool) string {
	if explicit != "" {
		return explicit
	}
	for _, path := range candidates(goos) {
		if exists(path) {
			return path
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

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// Init loads the shared library and initializes the process-wide ONNX
// Runtime environment. Call Destroy on shutdown.
func Init(explicit string) error {
	path := LibPath(explicit)
	if path == "" {
		return fmt.Errorf("onnx runtime library not found, set libonnx in config.toml")
	}
	ort.SetSharedLibraryPath(path)
	if err := ort.InitializeEnvironment(); err != nil {
		return fmt.Errorf("failed to initialize ONNX Runtime environment: %w", err)
	}
	return nil
}

func Destroy() {
	if err := ort.DestroyEnvironment(); err != nil {
		slog.Error("Failed to destroy ONNX Runtime environment", slog.String("error", err.Error()))
	}
}
