package testutil

import (
	"github.com/t-henke/glaskasten/internal/config"
)

// TestConfig returns a Config with sensible test defaults: the persistent
// variant, small caps, and no journal or workspace so nothing touches disk.
func TestConfig() *config.Config {
	return &config.Config{
		ListenAddr:                "127.0.0.1:0",
		Variant:                   config.VariantR,
		ImageName:                 "glaskasten-r:test",
		NetworkMode:               "bridge",
		LogLevel:                  "error",
		IdleTimeoutSeconds:        300,
		MaxSessions:               3,
		DefaultExecTimeoutSeconds: 30,
		EvaluatorReadySeconds:     5,
		MaxOutputBytes:            1 << 20,
		MaxFileBytes:              1 << 20,
		MaxCodeChars:              10_000,
		Limits: config.Limits{
			Memory:    "512m",
			CPUPeriod: 100000,
			CPUQuota:  50000,
			PidsLimit: 256,
			TmpfsTmp:  "rw,noexec,nosuid,size=100m",
			TmpfsWork: "rw,noexec,nosuid,size=500m",
		},
		DB: config.DB{Port: 5432},
	}
}
