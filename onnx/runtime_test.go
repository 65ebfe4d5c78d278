package onnx

import "testing"

func TestResolveLibPath(t *testing.T) {
	tests := []struct {
		name     string
		explicit string
		goos     string
		present  map[string]bool
		want     string
	}{
		{"explicit wins", "/custom/libonnxruntime.so", "linux", map[string]bool{"/usr/local/lib/libonnxruntime.so": true}, "/custom/libonnxruntime.so"},
		{"linux system lib", "", "linux", map[string]bool{"/usr/local/lib/libonnxruntime.so": true}, "/usr/local/lib/libonnxruntime.so"},
		{"local dir first", "", "linux", map[string]bool{"onnxlibs/libonnxruntime.so": true, "/usr/lib/libonnxruntime.so": true}, "onnxlibs/libonnxruntime.so"},
		{"darwin homebrew", "", "darwin", map[string]bool{"/opt/homebrew/lib/libonnxruntime.dylib": true}, "/opt/homebrew/lib/libonnxruntime.dylib"},
		{"nothing installed", "", "linux", nil, ""},
		{"unknown os", "", "plan9", map[string]bool{"anything": true}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			exists := func(p string) bool { return tt.present[p] }
			if got := resolveLibPath(tt.explicit, tt.goos, exists); got != tt.want {
				t.Errorf("resolveLibPath() = %q, want %q", got, tt.want)
			}
		})
	}
}
