package config_test

import (
	"errors"
	"testing"
	"time"

	"github.com/okian/birdscore/internal/config"
	"github.com/smartystreets/goconvey/convey"
)

func TestConfig_New(t *testing.T) {
	convey.Convey("Given a new config with defaults", t, func() {
		cfg := config.New()

		convey.Convey("Then it should have sensible defaults", func() {
			convey.So(cfg.Addr, convey.ShouldEqual, ":9080")
			convey.So(cfg.BackendURL, convey.ShouldEqual, "http://localhost:8000")
			convey.So(cfg.BackendTimeout(), convey.ShouldEqual, 10*time.Second)
			convey.So(cfg.JWTLeeway(), convey.ShouldEqual, 30*time.Second)
			convey.So(cfg.StatePath, convey.ShouldEqual, "birdscore.db")
			convey.So(cfg.Validate(), convey.ShouldBeNil)
		})
	})

	convey.Convey("Given configs that break invariants", t, func() {
		cases := map[string]func(*config.Config){
			"empty addr":       func(c *config.Config) { c.Addr = " " },
			"empty state":      func(c *config.Config) { c.StatePath = "" },
			"zero timeout":     func(c *config.Config) { c.BackendTimeoutMS = 0 },
			"negative leeway":  func(c *config.Config) { c.JWTLeewayS = -1 },
			"relative backend": func(c *config.Config) { c.BackendURL = "/api" },
			"ftp backend":      func(c *config.Config) { c.BackendURL = "ftp://host" },
		}
		for name, mutate := range cases {
			cfg := config.New()
			mutate(cfg)
			err := cfg.Validate()

			convey.So(err, convey.ShouldNotBeNil)
			convey.So(errors.Is(err, config.ErrInvalidConfig), convey.ShouldBeTrue)
			_ = name
		}
	})
}
