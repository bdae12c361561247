package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAdvertisementID(t *testing.T) {
	tests := []struct {
		raw     string
		want    uint
		wantErr bool
	}{
		{raw: "123", want: 123},
		{raw: "adv-123", want: 123},
		{raw: " adv-7 ", want: 7},
		{raw: "adv-", wantErr: true},
		{raw: "abc", wantErr: true},
		{raw: "0", wantErr: true},
		{raw: "-5", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, err := ParseAdvertisementID(tt.raw)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFormatAdvertisementID(t *testing.T) {
	assert.Equal(t, "adv-42", FormatAdvertisementID(42))
}

func TestNewLogWriterStdout(t *testing.T) {
	w, closeFn := NewLogWriter(LogFileOptions{Output: "stdout"})
	assert.NotNil(t, w)
	assert.NoError(t, closeFn())

	logger := NewComponentLogger(w, "test")
	assert.Equal(t, "test ", logger.Prefix())
}

func TestNewLogWriterFile(t *testing.T) {
	path := t.TempDir() + "/logs/app.log"
	w, closeFn := NewLogWriter(LogFileOptions{Output: "file", FilePath: path, MaxSize: 1})
	_, err := w.Write([]byte("hello\n"))
	require.NoError(t, err)
	assert.NoError(t, closeFn())
	assert.FileExists(t, path)
}
