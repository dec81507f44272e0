package logging

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
)

func TestConfigUnmarshal(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    *Config
		wantErr bool
	}{
		{
			name:  "defaults kept",
			input: "level: debug\n",
			want: &Config{
				Level:    zapcore.DebugLevel,
				Encoding: EncodingConsole,
				Output:   []string{"stderr"},
			},
		},
		{
			name:  "json",
			input: "encoding: json\noutput: [stdout]\n",
			want: &Config{
				Level:    zapcore.InfoLevel,
				Encoding: EncodingJSON,
				Output:   []string{"stdout"},
			},
		},
		{
			name:    "unknown encoding",
			input:   "encoding: xml\n",
			wantErr: true,
		},
		{
			name:    "no output",
			input:   "output: []\n",
			wantErr: true,
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			cfg := DefaultConfig()
			err := yaml.Unmarshal([]byte(test.input), cfg)
			if test.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, test.want, cfg)
		})
	}
}

func TestInitToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ndisc.log")

	cfg := DefaultConfig()
	cfg.Encoding = EncodingJSON
	cfg.Output = []string{path}

	log, level, err := Init(cfg)
	require.NoError(t, err)
	require.Equal(t, zapcore.InfoLevel, level.Level())

	log.Infow("hello", "k", "v")
	require.NoError(t, log.Sync())
}
