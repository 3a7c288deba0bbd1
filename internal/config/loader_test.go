package config_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/okian/birdscore/internal/config"
	"github.com/smartystreets/goconvey/convey"
)

func TestConfigLoader(t *testing.T) {
	convey.Convey("Given a config loader", t, func() {
		ctx := context.Background()
		clearConfigEnvVars(t)

		convey.Convey("When loading config with defaults only", func() {
			cfg, err := config.Load(ctx)

			convey.Convey("Then it should load successfully with defaults", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":9080")
				convey.So(cfg.BackendTimeoutMS, convey.ShouldEqual, 10_000)
			})
		})

		convey.Convey("When loading config with environment variables", func() {
			t.Setenv("BIRDSCORE_ADDR", ":8080")
			t.Setenv("BIRDSCORE_BACKEND_URL", "https://scores.example.org")
			t.Setenv("BIRDSCORE_BACKEND_TIMEOUT_MS", "2500")
			t.Setenv("BIRDSCORE_LOG_LEVEL", "debug")

			cfg, err := config.Load(ctx)

			convey.Convey("Then env overrides defaults", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":8080")
				convey.So(cfg.BackendURL, convey.ShouldEqual, "https://scores.example.org")
				convey.So(cfg.BackendTimeoutMS, convey.ShouldEqual, 2500)
				convey.So(cfg.LogLevel, convey.ShouldEqual, "debug")
			})
		})

		convey.Convey("When loading config with file and env", func() {
			path := writeFile(t, "birdscore.yaml", `
addr: ":9090"
state_path: "/var/lib/birdscore/state.db"
jwt_leeway_s: 5
`)
			t.Setenv("BIRDSCORE_CONFIG", path)
			t.Setenv("BIRDSCORE_ADDR", ":7070")

			cfg, err := config.Load(ctx)

			convey.Convey("Then env wins over file and file over defaults", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":7070")
				convey.So(cfg.StatePath, convey.ShouldEqual, "/var/lib/birdscore/state.db")
				convey.So(cfg.JWTLeewayS, convey.ShouldEqual, 5)
				convey.So(cfg.LogFormat, convey.ShouldEqual, "text")
			})
		})

		convey.Convey("When a dotenv file is provided", func() {
			path := writeFile(t, "judge.env", "BIRDSCORE_LOG_FORMAT=json\nBIRDSCORE_ADDR=:6060\n")
			t.Setenv("BIRDSCORE_ENV_FILE", path)
			t.Setenv("BIRDSCORE_ADDR", ":5050")
			t.Cleanup(func() { _ = os.Unsetenv("BIRDSCORE_LOG_FORMAT") })

			cfg, err := config.Load(ctx)

			convey.Convey("Then it fills unset variables only", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.LogFormat, convey.ShouldEqual, "json")
				convey.So(cfg.Addr, convey.ShouldEqual, ":5050")
			})
		})

		convey.Convey("When the explicit dotenv file is missing", func() {
			t.Setenv("BIRDSCORE_ENV_FILE", filepath.Join(t.TempDir(), "missing.env"))

			cfg, err := config.Load(ctx)

			convey.Convey("Then loading fails", func() {
				convey.So(cfg, convey.ShouldBeNil)
				convey.So(errors.Is(err, config.ErrLoadConfig), convey.ShouldBeTrue)
			})
		})

		convey.Convey("When loading config with invalid YAML file", func() {
			t.Setenv("BIRDSCORE_CONFIG", writeFile(t, "bad.yaml", `invalid: yaml: content: [`))

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should return an error", func() {
				convey.So(cfg, convey.ShouldBeNil)
				convey.So(errors.Is(err, config.ErrLoadConfig), convey.ShouldBeTrue)
			})
		})

		convey.Convey("When loading config with empty addr", func() {
			t.Setenv("BIRDSCORE_ADDR", "")

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should return a validation error", func() {
				convey.So(cfg, convey.ShouldBeNil)
				convey.So(errors.Is(err, config.ErrInvalidConfig), convey.ShouldBeTrue)
				convey.So(err.Error(), convey.ShouldContainSubstring, "addr must not be empty")
			})
		})
	})
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func clearConfigEnvVars(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"BIRDSCORE_CONFIG",
		"BIRDSCORE_ENV_FILE",
		"BIRDSCORE_ADDR",
		"BIRDSCORE_BACKEND_URL",
		"BIRDSCORE_BACKEND_TIMEOUT_MS",
		"BIRDSCORE_LOG_LEVEL",
		"BIRDSCORE_LOG_FORMAT",
		"BIRDSCORE_STATE_PATH",
		"BIRDSCORE_JWT_LEEWAY_S",
	} {
		if v, ok := os.LookupEnv(key); ok {
			t.Setenv(key, v)
			_ = os.Unsetenv(key)
		}
	}
}
