package crashpipe

import (
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestConfigurationValidation(t *testing.T) {
	for _, tc := range []struct {
		name   string
		expMsg string
		cfg    Configuration
	}{
		{
			name: "valid",
			cfg: Configuration{
				AppName:  "oopsie-daisy",
				Endpoint: "http://localhost:8080",
				Secret:   "s3cr3t",
			},
		},
		{
			name: "app name missing",
			cfg: Configuration{
				Endpoint: "http://localhost:8080",
				Secret:   "s3cr3t",
			},
			expMsg: `invalid AppName: must be present`,
		},
		{
			name: "app name with path separator",
			cfg: Configuration{
				AppName:  "../oops",
				Endpoint: "http://localhost:8080",
				Secret:   "s3cr3t",
			},
			expMsg: `invalid AppName: must not contain path separators, got "../oops"`,
		},
		{
			name: "secret missing",
			cfg: Configuration{
				AppName:  "oopsie-daisy",
				Endpoint: "http://localhost:8080",
			},
			expMsg: `invalid Secret: must be present`,
		},
		{
			name: "endpoint not a url",
			cfg: Configuration{
				AppName:  "oopsie-daisy",
				Endpoint: "fluff",
				Secret:   "s3cr3t",
			},
			expMsg: `invalid Endpoint: must be a valid URL, got "fluff"`,
		},
		{
			name: "endpoint missing",
			cfg: Configuration{
				AppName: "oopsie-daisy",
				Secret:  "s3cr3t",
			},
			expMsg: `invalid Endpoint: must be a valid URL, got ""`,
		},
		{
			name: "negative timeout",
			cfg: Configuration{
				AppName:  "oopsie-daisy",
				Endpoint: "http://localhost:8080",
				Secret:   "s3cr3t",
				Timeout:  -time.Second,
			},
			expMsg: `invalid Timeout: must not be negative`,
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.cfg.validate()
			if err == nil {
				if tc.expMsg != "" {
					t.Fatalf("expected error message '%s' but didn't get any errors", tc.expMsg)
				}
				return
			}
			if err.Error() != tc.expMsg {
				t.Errorf("expected error message '%s' but got '%s'", tc.expMsg, err.Error())
			}
		})
	}
}

func TestNewRejectsInvalidConfiguration(t *testing.T) {
	_, err := New(Configuration{AppName: "oopsie-daisy", Endpoint: "fluff", Secret: "s3cr3t"})
	verr, ok := err.(*ValidationError)
	if !ok {
		t.Fatalf("expected a *ValidationError but got %T: %v", err, err)
	}
	if verr.Field != "Endpoint" {
		t.Errorf("expected the Endpoint field to be rejected but got %s", verr.Field)
	}
}

func TestConfigurationDefaults(t *testing.T) {
	cfg := Configuration{AppName: "oopsie-daisy", Endpoint: "http://localhost:8080", Secret: "s3cr3t"}
	cfg.applyDefaults()

	for _, tc := range []struct {
		name     string
		got, exp time.Duration
	}{
		{name: "Timeout", got: cfg.Timeout, exp: 10 * time.Second},
		{name: "ShutdownTimeout", got: cfg.ShutdownTimeout, exp: 5 * time.Second},
		{name: "ReplayBackoffMin", got: cfg.ReplayBackoffMin, exp: 500 * time.Millisecond},
		{name: "ReplayBackoffMax", got: cfg.ReplayBackoffMax, exp: 5 * time.Second},
	} {
		if tc.got != tc.exp {
			t.Errorf("expected %s to default to %s but was %s", tc.name, tc.exp, tc.got)
		}
	}
	if cfg.ReplayAttempts != 3 {
		t.Errorf("expected ReplayAttempts to default to 3 but was %d", cfg.ReplayAttempts)
	}
	if got, exp := filepath.Base(cfg.StoragePath), ".oopsie-daisy_crashes"; got != exp {
		t.Errorf("expected the default storage directory to be named '%s' but was '%s'", exp, got)
	}
	if cfg.Logger == nil || cfg.InternalErrorCallback == nil {
		t.Error("expected Logger and InternalErrorCallback to be defaulted")
	}
}

func TestDefaultStoragePath(t *testing.T) {
	got := DefaultStoragePath("my-app")
	if !strings.HasSuffix(got, string(filepath.Separator)+".my-app_crashes") {
		t.Errorf("expected path ending in .my-app_crashes but got %s", got)
	}
}
