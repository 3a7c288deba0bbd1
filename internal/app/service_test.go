package service_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/okian/birdscore/internal/adapters/backend"
	"github.com/okian/birdscore/internal/adapters/repository"
	service "github.com/okian/birdscore/internal/app"
	"github.com/okian/birdscore/internal/domain/model"
	"github.com/okian/birdscore/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

func init() {
	// Initialize logging for tests
	err := logger.Init()
	if err != nil {
		panic(err)
	}
}

type fakeBackend struct {
	users        map[string]string
	registered   []model.Registration
	submitted    []model.RoundSubmission
	submitCalls  int
	submitErr    error
	summary      backend.SessionSummary
	summaryErr   error
	summaryCalls int
	deleted      []string
	adminCalls   int
	adminErr     error
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{users: map[string]string{"judge1": "pw123", "judge2": "pw456", "boss": "root"}}
}

func (f *fakeBackend) Authenticate(_ context.Context, c model.Credentials) (model.Identity, error) {
	if pw, ok := f.users[c.Username]; ok && pw == c.Password {
		role := model.RoleJudge
		if c.Username == "boss" {
			role = model.RoleAdmin
		}
		return model.Identity{Username: c.Username, Role: role, Token: "tok-" + c.Username}, nil
	}
	return model.Identity{}, &model.AuthError{Reason: model.InvalidCredentials}
}

func (f *fakeBackend) SubmitRound(_ context.Context, _ string, sub model.RoundSubmission) error {
	f.submitCalls++
	if f.submitErr != nil {
		return f.submitErr
	}
	f.submitted = append(f.submitted, sub)
	return nil
}

func (f *fakeBackend) Register(_ context.Context, reg model.Registration) error {
	if _, ok := f.users[reg.Username]; ok {
		return &model.ValidationError{Message: "username already taken"}
	}
	f.users[reg.Username] = reg.Password
	f.registered = append(f.registered, reg)
	return nil
}

func (f *fakeBackend) FetchSessionSummary(context.Context, string, string) (backend.SessionSummary, error) {
	f.summaryCalls++
	return f.summary, f.summaryErr
}

func (f *fakeBackend) ListUsers(context.Context, string) ([]model.User, error) {
	f.adminCalls++
	if f.adminErr != nil {
		return nil, f.adminErr
	}
	return []model.User{
		{ID: "u1", Username: "boss", Role: model.RoleAdmin},
		{ID: "u2", Username: "judge1", Role: model.RoleJudge},
	}, nil
}

func (f *fakeBackend) DeleteUser(_ context.Context, _ string, id string) error {
	f.adminCalls++
	if f.adminErr != nil {
		return f.adminErr
	}
	f.deleted = append(f.deleted, id)
	return nil
}

func TestService_New(t *testing.T) {
	Convey("Given a new service with default options", t, func() {
		svc := service.New()

		Convey("Then it is not started", func() {
			So(svc, ShouldNotBeNil)
			So(svc.GetStats()["started"], ShouldEqual, false)
		})

		Convey("Then every operation refuses to run", func() {
			_, err := svc.Login(context.Background(), "judge1", "pw123")
			So(errors.Is(err, service.ErrNotStarted), ShouldBeTrue)
			_, err = svc.CreateSession(context.Background(), "Cup", "A01")
			So(errors.Is(err, service.ErrNotStarted), ShouldBeTrue)
		})
	})
}

func TestService_StartStop(t *testing.T) {
	Convey("Given a service with injected storage and backend", t, func() {
		ctx := context.Background()
		store := repository.NewMemoryStore()
		svc := service.New(service.WithStore(store), service.WithBackend(newFakeBackend()))

		Convey("When starting the service twice", func() {
			So(svc.Start(ctx), ShouldBeNil)
			So(svc.Start(ctx), ShouldBeNil)

			Convey("Then it is started and unauthenticated", func() {
				stats := svc.GetStats()
				So(stats["started"], ShouldEqual, true)
				So(stats["authState"], ShouldEqual, "unauthenticated")
				So(stats["openSessions"], ShouldEqual, 0)
			})

			Convey("And stopping leaves an injected store open", func() {
				svc.Stop()
				So(svc.GetStats()["started"], ShouldEqual, false)
				_, err := store.CountOpen(ctx)
				So(err, ShouldBeNil)
			})
		})
	})

	Convey("Given a service pointed at a malformed backend url", t, func() {
		svc := service.New(service.WithStore(repository.NewMemoryStore()), service.WithBackendURL("::nope"))

		Convey("Then Start fails", func() {
			err := svc.Start(context.Background())
			So(errors.Is(err, backend.ErrBadBaseURL), ShouldBeTrue)
		})
	})
}

func TestService_JudgeFlow(t *testing.T) {
	Convey("Given a started service", t, func() {
		ctx := context.Background()
		fb := newFakeBackend()
		svc := service.New(service.WithStore(repository.NewMemoryStore()), service.WithBackend(fb))
		So(svc.Start(ctx), ShouldBeNil)
		Reset(svc.Stop)

		Convey("When a session is created before login", func() {
			_, err := svc.CreateSession(ctx, "Pattalung Cup 2026", "A01")

			Convey("Then it is rejected as unauthenticated", func() {
				So(errors.Is(err, model.ErrAuth), ShouldBeTrue)
			})
		})

		Convey("When judge1 logs in and judges four rounds", func() {
			id, err := svc.Login(ctx, "judge1", "pw123")
			So(err, ShouldBeNil)
			So(id.Token, ShouldEqual, "tok-judge1")

			snap, err := svc.CreateSession(ctx, "Pattalung Cup 2026", "a01")
			So(err, ShouldBeNil)
			for r := 1; r <= 4; r++ {
				snap, err = svc.AdvanceRound(ctx, snap.SessionID, r, json.RawMessage(`{"total_score":10}`))
				So(err, ShouldBeNil)
			}

			Convey("Then the session is completed and its result sums to 40", func() {
				So(snap.Status, ShouldEqual, model.StatusCompleted)
				So(fb.submitted, ShouldHaveLength, 4)
				res, err := svc.Result(ctx, snap.SessionID)
				So(err, ShouldBeNil)
				So(string(res.Aggregate), ShouldContainSubstring, `"total_score":40`)
			})

			Convey("Then it shows up in the history", func() {
				list, err := svc.ListSessions(ctx, model.SessionFilter{CageNumber: "A01"})
				So(err, ShouldBeNil)
				So(list, ShouldHaveLength, 1)
				got, err := svc.Session(ctx, snap.SessionID)
				So(err, ShouldBeNil)
				So(got.Rounds, ShouldHaveLength, 4)
			})

			Convey("Then stats report the signed-in judge", func() {
				stats := svc.GetStats()
				So(stats["username"], ShouldEqual, "judge1")
				So(stats["openSessions"], ShouldEqual, 0)
			})
		})

		Convey("When the backend rejects the token mid-session", func() {
			_, err := svc.Login(ctx, "judge1", "pw123")
			So(err, ShouldBeNil)
			snap, err := svc.CreateSession(ctx, "Pattalung Cup 2026", "A01")
			So(err, ShouldBeNil)
			fb.submitErr = &model.AuthError{Reason: "token revoked"}

			_, err = svc.AdvanceRound(ctx, snap.SessionID, 1, json.RawMessage(`12`))

			Convey("Then the judge is logged out", func() {
				So(errors.Is(err, model.ErrAuth), ShouldBeTrue)
				_, err := svc.CurrentIdentity(ctx)
				So(errors.Is(err, model.ErrAuth), ShouldBeTrue)
			})
		})

		Convey("When the judge logs out with a session open", func() {
			_, err := svc.Login(ctx, "judge1", "pw123")
			So(err, ShouldBeNil)
			snap, err := svc.CreateSession(ctx, "Pattalung Cup 2026", "A01")
			So(err, ShouldBeNil)
			_, err = svc.Logout(ctx)
			So(err, ShouldBeNil)

			_, err = svc.AdvanceRound(ctx, snap.SessionID, 1, json.RawMessage(`12`))

			Convey("Then the round is refused without reaching the backend", func() {
				So(errors.Is(err, model.ErrAuth), ShouldBeTrue)
				So(fb.submitCalls, ShouldEqual, 0)
			})
		})

		Convey("When the backend summary is requested for the judge's own session", func() {
			_, err := svc.Login(ctx, "judge1", "pw123")
			So(err, ShouldBeNil)
			snap, err := svc.CreateSession(ctx, "Pattalung Cup 2026", "A01")
			So(err, ShouldBeNil)
			fb.summary.Summary.TotalScore = 41
			sum, err := svc.BackendSummary(ctx, snap.SessionID)
			So(err, ShouldBeNil)
			So(sum.Summary.TotalScore, ShouldEqual, 41)
		})

		Convey("When the backend summary is requested for another judge's session", func() {
			_, err := svc.Login(ctx, "judge2", "pw456")
			So(err, ShouldBeNil)
			foreign, err := svc.CreateSession(ctx, "Songkhla Open", "B07")
			So(err, ShouldBeNil)
			_, err = svc.Logout(ctx)
			So(err, ShouldBeNil)
			_, err = svc.Login(ctx, "judge1", "pw123")
			So(err, ShouldBeNil)

			_, err = svc.BackendSummary(ctx, foreign.SessionID)

			Convey("Then it is refused locally and judge1 stays signed in", func() {
				So(errors.Is(err, model.ErrForbidden), ShouldBeTrue)
				So(fb.summaryCalls, ShouldEqual, 0)
				cur, err := svc.CurrentIdentity(ctx)
				So(err, ShouldBeNil)
				So(cur.Username, ShouldEqual, "judge1")
			})
		})

		Convey("When the backend denies a summary the judge owns locally", func() {
			_, err := svc.Login(ctx, "judge1", "pw123")
			So(err, ShouldBeNil)
			snap, err := svc.CreateSession(ctx, "Pattalung Cup 2026", "A01")
			So(err, ShouldBeNil)
			fb.summaryErr = fmt.Errorf("not authorized to view this session: %w", model.ErrForbidden)

			_, err = svc.BackendSummary(ctx, snap.SessionID)

			Convey("Then the denial surfaces and the login survives", func() {
				So(errors.Is(err, model.ErrForbidden), ShouldBeTrue)
				_, err := svc.CurrentIdentity(ctx)
				So(err, ShouldBeNil)
			})
		})

		Convey("When a second judge logs in without logging out", func() {
			_, err := svc.Login(ctx, "judge1", "pw123")
			So(err, ShouldBeNil)
			_, err = svc.Login(ctx, "judge2", "pw456")

			Convey("Then it conflicts and judge1 keeps the console", func() {
				So(errors.Is(err, model.ErrConflict), ShouldBeTrue)
				cur, err := svc.CurrentIdentity(ctx)
				So(err, ShouldBeNil)
				So(cur.Username, ShouldEqual, "judge1")
			})
		})

		Convey("When registering", func() {
			Convey("With a new name and no role", func() {
				err := svc.Register(ctx, model.Registration{Username: " judge5 ", Password: "pw"})
				So(err, ShouldBeNil)
				So(fb.registered[0].Role, ShouldEqual, model.RoleJudge)
				So(fb.registered[0].Username, ShouldEqual, "judge5")
			})

			Convey("With a taken name", func() {
				err := svc.Register(ctx, model.Registration{Username: "judge1", Password: "pw"})
				So(err.Error(), ShouldEqual, "username already taken")
			})

			Convey("With an unknown role", func() {
				err := svc.Register(ctx, model.Registration{Username: "judge3", Password: "pw", Role: "owner"})
				var ve *model.ValidationError
				So(errors.As(err, &ve), ShouldBeTrue)
				So(ve.Field, ShouldEqual, "role")
			})
		})

		Convey("When logging out", func() {
			_, err := svc.Login(ctx, "judge1", "pw123")
			So(err, ShouldBeNil)
			path, err := svc.Logout(ctx)
			So(err, ShouldBeNil)
			So(path, ShouldEqual, "/login")
		})
	})
}

func TestService_UserManagement(t *testing.T) {
	Convey("Given a started service", t, func() {
		ctx := context.Background()
		fb := newFakeBackend()
		svc := service.New(service.WithStore(repository.NewMemoryStore()), service.WithBackend(fb))
		So(svc.Start(ctx), ShouldBeNil)
		Reset(svc.Stop)

		Convey("When nobody is signed in", func() {
			_, err := svc.ListUsers(ctx)
			So(errors.Is(err, model.ErrAuth), ShouldBeTrue)
			So(fb.adminCalls, ShouldEqual, 0)
		})

		Convey("When a judge asks for the accounts", func() {
			_, err := svc.Login(ctx, "judge1", "pw123")
			So(err, ShouldBeNil)
			_, err = svc.ListUsers(ctx)
			derr := svc.DeleteUser(ctx, "u1")

			Convey("Then both calls are forbidden locally", func() {
				So(errors.Is(err, model.ErrForbidden), ShouldBeTrue)
				So(errors.Is(derr, model.ErrForbidden), ShouldBeTrue)
				So(fb.adminCalls, ShouldEqual, 0)
			})
		})

		Convey("When an admin manages accounts", func() {
			_, err := svc.Login(ctx, "boss", "root")
			So(err, ShouldBeNil)

			Convey("Then the listing comes back", func() {
				users, err := svc.ListUsers(ctx)
				So(err, ShouldBeNil)
				So(users, ShouldHaveLength, 2)
				So(users[1].Username, ShouldEqual, "judge1")
			})

			Convey("Then a trimmed id is deleted", func() {
				So(svc.DeleteUser(ctx, " u2 "), ShouldBeNil)
				So(fb.deleted, ShouldResemble, []string{"u2"})
			})

			Convey("Then a blank id is a validation error", func() {
				err := svc.DeleteUser(ctx, "  ")
				var ve *model.ValidationError
				So(errors.As(err, &ve), ShouldBeTrue)
				So(ve.Field, ShouldEqual, "userId")
				So(fb.adminCalls, ShouldEqual, 0)
			})

			Convey("Then a revoked token logs the admin out", func() {
				fb.adminErr = &model.AuthError{Reason: "token revoked"}
				_, err := svc.ListUsers(ctx)
				So(errors.Is(err, model.ErrAuth), ShouldBeTrue)
				_, err = svc.CurrentIdentity(ctx)
				So(errors.Is(err, model.ErrAuth), ShouldBeTrue)
			})
		})
	})
}
