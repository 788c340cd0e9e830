package log_test

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/m-mizutani/gt"

	appLog "assignbot/internal/log"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    appLog.Level
		wantErr bool
	}{
		{name: "debug", input: "debug", want: appLog.LevelDebug},
		{name: "INFO upper case", input: "INFO", want: appLog.LevelInfo},
		{name: "warning alias", input: "warning", want: appLog.LevelWarn},
		{name: "error", input: "error", want: appLog.LevelError},
		{name: "empty", input: "", wantErr: true},
		{name: "random", input: "verbose", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := appLog.ParseLevel(tt.input)
			if tt.wantErr {
				gt.Error(t, err)
				return
			}
			gt.NoError(t, err)
			gt.Equal(t, got, tt.want)
		})
	}
}

func TestConfigure_LevelFilter(t *testing.T) {
	var buf bytes.Buffer
	gt.NoError(t, appLog.Configure("warn", false, &buf))
	t.Cleanup(func() { _ = appLog.Configure("info", false, nil) })

	appLog.Info("hidden message")
	appLog.Warn("visible warning", "course", "netw")
	appLog.Error("visible error", errors.New("boom"))

	out := buf.String()
	gt.False(t, strings.Contains(out, "hidden message"))
	gt.String(t, out).Contains("visible warning")
	gt.String(t, out).Contains("course=netw")
	gt.String(t, out).Contains("err=boom")
}

func TestConfigure_RedactsSecretFields(t *testing.T) {
	var buf bytes.Buffer
	gt.NoError(t, appLog.Configure("info", true, &buf))
	t.Cleanup(func() { _ = appLog.Configure("info", false, nil) })

	type creds struct {
		User  string
		Token string
	}
	appLog.Info("credentials", "creds", creds{User: "bot", Token: "super-secret-value"})

	out := buf.String()
	gt.String(t, out).Contains("bot")
	gt.False(t, strings.Contains(out, "super-secret-value"))
}
