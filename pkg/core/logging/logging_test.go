package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNew(t *testing.T) {
	tests := []struct {
		level  string
		format string
		debug  bool
	}{
		{"debug", "console", true},
		{"info", "json", false},
		{"warn", "console", false},
	}
	for _, tt := range tests {
		t.Run(tt.level+"/"+tt.format, func(t *testing.T) {
			logger, err := New(tt.level, tt.format)
			require.NoError(t, err)
			assert.Equal(t, tt.debug, logger.Core().Enabled(zap.DebugLevel))
		})
	}
}

func TestNew_UnknownLevel(t *testing.T) {
	_, err := New("chatty", "console")
	assert.Error(t, err)
}
