package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	app "github.com/okian/birdscore/internal/app"
	"github.com/okian/birdscore/internal/domain/model"
	"github.com/okian/birdscore/pkg/logger"
	"github.com/smartystreets/goconvey/convey"
)

func init() {
	_ = logger.Init()
}

// fakeScoringBackend accepts judge1/pw123 and boss/root and remembers
// submitted rounds.
func fakeScoringBackend() *httptest.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/auth/login", func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.FormValue("username") == "judge1" && r.FormValue("password") == "pw123":
			_ = json.NewEncoder(w).Encode(map[string]string{
				"access_token": "t1", "token_type": "bearer", "role": "user", "username": "judge1",
			})
		case r.FormValue("username") == "boss" && r.FormValue("password") == "root":
			_ = json.NewEncoder(w).Encode(map[string]string{
				"access_token": "t9", "token_type": "bearer", "role": "admin", "username": "boss",
			})
		default:
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"detail":"Incorrect username or password"}`))
		}
	})
	mux.HandleFunc("GET /api/admin/users", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer t9" {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		_, _ = w.Write([]byte(`[{"_id":"u1","username":"boss","role":"admin"},{"_id":"u2","username":"judge1","role":"user"}]`))
	})
	mux.HandleFunc("DELETE /api/admin/users/{id}", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer t9" {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		_, _ = fmt.Fprintf(w, `{"message":"deleted %s"}`, r.PathValue("id"))
	})
	mux.HandleFunc("POST /api/auth/register", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusCreated)
	})
	mux.HandleFunc("POST /api/results", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer t1" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.WriteHeader(http.StatusCreated)
	})
	mux.HandleFunc("GET /api/history/session/{id}", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = fmt.Fprintf(w, `{"summary":{"match_name":"Pattalung Cup","cage_number":"A01","total_score":40.5,"final_status":"completed"},"rounds":[]}`)
	})
	return httptest.NewServer(mux)
}

func TestJudgeCommands(t *testing.T) {
	convey.Convey("Given the birdscore CLI pointed at a scoring backend", t, func() {
		srv := fakeScoringBackend()
		defer srv.Close()
		statePath := filepath.Join(t.TempDir(), "state.db")

		run := func(args ...string) (string, error) {
			var out, logs bytes.Buffer
			argv := append([]string{"birdscore", "--state", statePath, "--backend", srv.URL}, args...)
			err := newApp(&out, &logs).Run(argv)
			return out.String(), err
		}

		convey.Convey("When nobody has signed in", func() {
			_, whoErr := run("whoami")
			_, createErr := run("session", "create", "--match", "Pattalung Cup", "--cage", "A01")
			_, loginErr := run("login", "-u", "judge1", "-p", "wrong")

			convey.Convey("Then protected commands and bad passwords fail with auth errors", func() {
				convey.So(errors.Is(whoErr, model.ErrAuth), convey.ShouldBeTrue)
				convey.So(errors.Is(createErr, model.ErrAuth), convey.ShouldBeTrue)
				convey.So(errors.Is(loginErr, model.ErrAuth), convey.ShouldBeTrue)
			})
		})

		convey.Convey("When a judge scores a full session across invocations", func() {
			out, err := run("login", "-u", "judge1", "-p", "pw123")
			convey.So(err, convey.ShouldBeNil)
			convey.So(out, convey.ShouldEqual, "signed in as judge1 (judge)\n")

			out, err = run("whoami")
			convey.So(err, convey.ShouldBeNil)
			convey.So(out, convey.ShouldContainSubstring, `"username": "judge1"`)

			out, err = run("session", "create", "--match", "Pattalung Cup", "--cage", " a01 ")
			convey.So(err, convey.ShouldBeNil)
			var snap model.SessionSnapshot
			convey.So(json.Unmarshal([]byte(out), &snap), convey.ShouldBeNil)
			convey.So(snap.CageNumber, convey.ShouldEqual, "A01")
			convey.So(snap.Status, convey.ShouldEqual, model.StatusSetup)
			convey.So(snap.CurrentRound, convey.ShouldEqual, 1)

			_, err = run("session", "advance", "--round", "2", "--score", "9", snap.SessionID)
			convey.So(errors.Is(err, model.ErrSequence), convey.ShouldBeTrue)

			for i, score := range []string{"10", `{"total_score":9.5}`, "10", "11"} {
				out, err = run("session", "advance", "--round", fmt.Sprint(i+1), "--score", score, snap.SessionID)
				convey.So(err, convey.ShouldBeNil)
			}
			convey.So(json.Unmarshal([]byte(out), &snap), convey.ShouldBeNil)
			convey.So(snap.Status, convey.ShouldEqual, model.StatusCompleted)
			convey.So(len(snap.Rounds), convey.ShouldEqual, 4)

			out, err = run("session", "result", snap.SessionID)
			convey.So(err, convey.ShouldBeNil)
			var res struct {
				Aggregate struct {
					TotalScore float64 `json:"total_score"`
				} `json:"aggregate"`
			}
			convey.So(json.Unmarshal([]byte(out), &res), convey.ShouldBeNil)
			convey.So(res.Aggregate.TotalScore, convey.ShouldEqual, 40.5)

			out, err = run("session", "result", "--remote", snap.SessionID)
			convey.So(err, convey.ShouldBeNil)
			convey.So(out, convey.ShouldContainSubstring, `"final_status": "completed"`)

			out, err = run("session", "list", "--match", "pattalung")
			convey.So(err, convey.ShouldBeNil)
			var list []model.SessionSnapshot
			convey.So(json.Unmarshal([]byte(out), &list), convey.ShouldBeNil)
			convey.So(len(list), convey.ShouldEqual, 1)
			convey.So(list[0].SessionID, convey.ShouldEqual, snap.SessionID)

			out, err = run("stats")
			convey.So(err, convey.ShouldBeNil)
			convey.So(out, convey.ShouldContainSubstring, `"authState": "authenticated"`)

			out, err = run("logout")
			convey.So(err, convey.ShouldBeNil)
			convey.So(out, convey.ShouldEqual, "signed out; next: /login\n")

			_, err = run("whoami")
			convey.So(errors.Is(err, model.ErrAuth), convey.ShouldBeTrue)
		})

		convey.Convey("When registering an account", func() {
			out, err := run("register", "-u", " judge2 ", "-p", "pw")

			convey.Convey("Then the backend accepts it without signing in", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(out, convey.ShouldEqual, "registered judge2\n")
				_, err = run("whoami")
				convey.So(errors.Is(err, model.ErrAuth), convey.ShouldBeTrue)
			})
		})

		convey.Convey("When an admin manages accounts", func() {
			_, err := run("login", "-u", "boss", "-p", "root")
			convey.So(err, convey.ShouldBeNil)

			out, err := run("admin", "users", "list")
			convey.So(err, convey.ShouldBeNil)
			var users []model.User
			convey.So(json.Unmarshal([]byte(out), &users), convey.ShouldBeNil)
			convey.So(len(users), convey.ShouldEqual, 2)
			convey.So(users[1].Role, convey.ShouldEqual, model.RoleJudge)

			out, err = run("admin", "users", "delete", "u2")
			convey.So(err, convey.ShouldBeNil)
			convey.So(out, convey.ShouldEqual, "deleted u2\n")

			_, err = run("admin", "users", "delete")
			convey.So(errors.Is(err, errUsage), convey.ShouldBeTrue)
		})

		convey.Convey("When a judge tries to manage accounts", func() {
			_, err := run("login", "-u", "judge1", "-p", "pw123")
			convey.So(err, convey.ShouldBeNil)
			_, err = run("admin", "users", "list")
			convey.So(errors.Is(err, model.ErrForbidden), convey.ShouldBeTrue)
		})

		convey.Convey("When a session command misses its id", func() {
			_, err := run("session", "show")

			convey.Convey("Then a usage error is returned", func() {
				convey.So(errors.Is(err, errUsage), convey.ShouldBeTrue)
			})
		})

		convey.Convey("When the backend flag is not an absolute URL", func() {
			var out, logs bytes.Buffer
			err := newApp(&out, &logs).Run([]string{"birdscore", "--state", statePath, "--backend", "/api", "whoami"})

			convey.Convey("Then configuration is rejected before anything runs", func() {
				convey.So(err, convey.ShouldNotBeNil)
			})
		})
	})
}

func TestConsoleMux(t *testing.T) {
	convey.Convey("Given the console mux", t, func() {
		mux := newMux(context.Background(), app.New())

		convey.Convey("Then health and API docs are served", func() {
			for _, path := range []string{"/healthz", "/openapi.yaml", "/api-docs"} {
				w := httptest.NewRecorder()
				mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, http.NoBody))
				convey.So(w.Code, convey.ShouldEqual, http.StatusOK)
			}
		})

		convey.Convey("And protected routes answer 503 before the service starts", func() {
			w := httptest.NewRecorder()
			mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/me", http.NoBody))
			convey.So(w.Code, convey.ShouldEqual, http.StatusServiceUnavailable)
		})
	})
}
