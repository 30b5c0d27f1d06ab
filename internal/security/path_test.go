package security

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateFilePath(t *testing.T) {
	tests := []struct {
		name    string
		path    string
		wantErr bool
		errMsg  string
	}{
		{name: "valid relative path", path: "config/test.yaml"},
		{name: "valid absolute path", path: "/etc/leadflow/config.yaml"},
		{name: "double dot inside a filename", path: "assets/logo..png"},
		{name: "empty path", path: "", wantErr: true, errMsg: "path cannot be empty"},
		{name: "leading traversal", path: "../../../etc/passwd", wantErr: true, errMsg: "directory traversal"},
		{name: "embedded traversal", path: "config/../../etc/passwd", wantErr: true, errMsg: "directory traversal"},
		{name: "windows separators", path: `config\..\secret`, wantErr: true, errMsg: "directory traversal"},
		{name: "null byte", path: "logo.png\x00.txt", wantErr: true, errMsg: "null byte"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateFilePath(tt.path)
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errMsg)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateRelativePath(t *testing.T) {
	assert.NoError(t, ValidateRelativePath("tenant1/banner.png"))
	assert.NoError(t, ValidateRelativePath("./banner.png"))

	err := ValidateRelativePath("/etc/passwd")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "absolute paths not allowed")
}

func TestValidateFilePathWithBase(t *testing.T) {
	base := t.TempDir()

	tests := []struct {
		name     string
		path     string
		expected string
		wantErr  bool
	}{
		{name: "file in base", path: "banner.png", expected: filepath.Join(base, "banner.png")},
		{name: "nested file", path: "tenant1/landing-pages/a.jpg", expected: filepath.Join(base, "tenant1", "landing-pages", "a.jpg")},
		{name: "traversal", path: "../outside.png", wantErr: true},
		{name: "absolute", path: "/etc/passwd", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ValidateFilePathWithBase(tt.path, base)
			if tt.wantErr {
				assert.Error(t, err)
				assert.Empty(t, got)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}
