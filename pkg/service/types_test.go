package service

import (
	"errors"
	"testing"
)

func TestConfigValidate(t *testing.T) {
	valid := func() Config {
		c := DefaultConfig()
		c.Identity = testIdentity
		c.Auth = &stubAuth{}
		return c
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"no auth", func(c *Config) { c.Auth = nil }},
		{"no name", func(c *Config) { c.Identity.Name = "" }},
		{"no placeholder", func(c *Config) { c.Identity.Purpose = `{"keyId":7}` }},
		{"negative pending", func(c *Config) { c.MaxPending = -1 }},
		{"negative rate", func(c *Config) { c.SessionRate = -1 }},
	}

	c := valid()
	if err := c.Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(&c)
			if err := c.Validate(); !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("Validate() = %v, want ErrInvalidConfig", err)
			}
			if _, err := NewEntityService(c); !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("NewEntityService() = %v, want ErrInvalidConfig", err)
			}
		})
	}
}

func TestNewEntityServiceDefaults(t *testing.T) {
	svc, err := NewEntityService(Config{Identity: testIdentity, Auth: &stubAuth{}})
	if err != nil {
		t.Fatalf("NewEntityService failed: %v", err)
	}
	if svc.config.MaxPending != DefaultMaxPending {
		t.Errorf("MaxPending = %d, want %d", svc.config.MaxPending, DefaultMaxPending)
	}
	if a, b := svc.config.NewExchangeID(), svc.config.NewExchangeID(); len(a) != 26 || a == b {
		t.Errorf("exchange ids %q, %q are not distinct ULIDs", a, b)
	}
	if svc.State() != StateIdle {
		t.Errorf("State() = %v, want IDLE", svc.State())
	}
	if svc.Addr() != nil || svc.Done() != nil || svc.ConnectionCount() != 0 {
		t.Error("idle service reports a listener")
	}
	if err := svc.Stop(); !errors.Is(err, ErrNotStarted) {
		t.Errorf("Stop() = %v, want ErrNotStarted", err)
	}
}

func TestStateStrings(t *testing.T) {
	tests := []struct {
		got, want string
	}{
		{StateIdle.String(), "IDLE"},
		{StateRunning.String(), "RUNNING"},
		{StateStopped.String(), "STOPPED"},
		{ServiceState(9).String(), "UNKNOWN"},
		{HandlerAwaitClientFrame.String(), "AWAIT_CLIENT_FRAME"},
		{HandlerAwaitAuthExchange.String(), "AWAIT_AUTH_EXCHANGE"},
		{HandlerRespondToClient.String(), "RESPOND_TO_CLIENT"},
		{HandlerIdle.String(), "IDLE"},
		{HandlerClosed.String(), "CLOSED"},
		{EventExchangeSucceeded.String(), "EXCHANGE_SUCCEEDED"},
		{EventFrameDropped.String(), "FRAME_DROPPED"},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("got %q, want %q", tt.got, tt.want)
		}
	}
}
