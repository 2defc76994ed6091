package logx_test

import (
	"testing"

	"github.com/nicolaiprodromov/outlier-wormhole/internal/logx"
	"github.com/rs/zerolog"
)

func TestConfigureLogLevel(t *testing.T) {
	defer logx.Configure("info")

	cases := []struct {
		in   string
		want zerolog.Level
	}{
		{"all", zerolog.TraceLevel},
		{"DEBUG", zerolog.DebugLevel},
		{" info ", zerolog.InfoLevel},
		{"WARNING", zerolog.WarnLevel},
		{"error", zerolog.ErrorLevel},
		{"off", zerolog.Disabled},
		{"none", zerolog.Disabled},
		{"bogus", zerolog.InfoLevel},
		{"", zerolog.InfoLevel},
	}
	for _, tc := range cases {
		logx.Configure(tc.in)
		if got := zerolog.GlobalLevel(); got != tc.want {
			t.Fatalf("Configure(%q): expected %s, got %s", tc.in, tc.want, got)
		}
	}
}
