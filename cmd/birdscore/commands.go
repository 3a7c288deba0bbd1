package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	app "github.com/okian/birdscore/internal/app"
	"github.com/okian/birdscore/internal/domain/model"

	"github.com/urfave/cli/v2"
)

var errUsage = errors.New("usage")

func (r *runner) loginCommand() *cli.Command {
	return &cli.Command{
		Name:  "login",
		Usage: "sign in against the scoring backend",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "username", Aliases: []string{"u"}, Required: true},
			&cli.StringFlag{Name: "password", Aliases: []string{"p"}, EnvVars: []string{"BIRDSCORE_PASSWORD"}, Required: true},
		},
		Action: func(c *cli.Context) error {
			return r.withService(c, func(ctx context.Context, svc *app.Service) error {
				id, err := svc.Login(ctx, c.String("username"), c.String("password"))
				if err != nil {
					return err
				}
				_, err = fmt.Fprintf(r.out, "signed in as %s (%s)\n", id.Username, id.Role)
				return err
			})
		},
	}
}

func (r *runner) logoutCommand() *cli.Command {
	return &cli.Command{
		Name:  "logout",
		Usage: "forget the stored credential",
		Action: func(c *cli.Context) error {
			return r.withService(c, func(ctx context.Context, svc *app.Service) error {
				next, err := svc.Logout(ctx)
				if err != nil {
					return err
				}
				_, err = fmt.Fprintf(r.out, "signed out; next: %s\n", next)
				return err
			})
		},
	}
}

func (r *runner) whoamiCommand() *cli.Command {
	return &cli.Command{
		Name:  "whoami",
		Usage: "show the signed-in judge",
		Action: func(c *cli.Context) error {
			return r.withService(c, func(ctx context.Context, svc *app.Service) error {
				id, err := svc.CurrentIdentity(ctx)
				if err != nil {
					return err
				}
				return r.printJSON(id.Persisted())
			})
		},
	}
}

func (r *runner) registerCommand() *cli.Command {
	return &cli.Command{
		Name:  "register",
		Usage: "create a backend account",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "username", Aliases: []string{"u"}, Required: true},
			&cli.StringFlag{Name: "password", Aliases: []string{"p"}, EnvVars: []string{"BIRDSCORE_PASSWORD"}, Required: true},
			&cli.StringFlag{Name: "role", Value: string(model.RoleJudge)},
		},
		Action: func(c *cli.Context) error {
			return r.withService(c, func(ctx context.Context, svc *app.Service) error {
				reg := model.Registration{
					Username: c.String("username"),
					Password: c.String("password"),
					Role:     model.Role(c.String("role")),
				}
				if err := svc.Register(ctx, reg); err != nil {
					return err
				}
				_, err := fmt.Fprintf(r.out, "registered %s\n", strings.TrimSpace(reg.Username))
				return err
			})
		},
	}
}

func (r *runner) sessionCommand() *cli.Command {
	return &cli.Command{
		Name:  "session",
		Usage: "open, score and inspect competition sessions",
		Subcommands: []*cli.Command{
			{
				Name:  "create",
				Usage: "open a session for one cage entry",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "match", Aliases: []string{"m"}, Usage: "match name"},
					&cli.StringFlag{Name: "cage", Aliases: []string{"c"}, Usage: "cage number"},
				},
				Action: func(c *cli.Context) error {
					return r.withService(c, func(ctx context.Context, svc *app.Service) error {
						snap, err := svc.CreateSession(ctx, c.String("match"), c.String("cage"))
						if err != nil {
							return err
						}
						return r.printJSON(snap)
					})
				},
			},
			{
				Name:      "advance",
				Usage:     "record the current round",
				ArgsUsage: "SESSION_ID",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "round", Aliases: []string{"r"}, Required: true},
					&cli.StringFlag{Name: "score", Aliases: []string{"s"}, Required: true, Usage: "round score as JSON"},
				},
				Action: func(c *cli.Context) error {
					id, err := sessionArg(c)
					if err != nil {
						return err
					}
					return r.withService(c, func(ctx context.Context, svc *app.Service) error {
						snap, err := svc.AdvanceRound(ctx, id, c.Int("round"), json.RawMessage(c.String("score")))
						if err != nil {
							return err
						}
						return r.printJSON(snap)
					})
				},
			},
			{
				Name:      "show",
				Usage:     "print one session",
				ArgsUsage: "SESSION_ID",
				Action: func(c *cli.Context) error {
					id, err := sessionArg(c)
					if err != nil {
						return err
					}
					return r.withService(c, func(ctx context.Context, svc *app.Service) error {
						snap, err := svc.Session(ctx, id)
						if err != nil {
							return err
						}
						return r.printJSON(snap)
					})
				},
			},
			{
				Name:  "list",
				Usage: "print session history, newest first",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "match", Aliases: []string{"m"}},
					&cli.StringFlag{Name: "cage", Aliases: []string{"c"}},
					&cli.StringFlag{Name: "owner", Usage: "admins only"},
					&cli.IntFlag{Name: "limit", Aliases: []string{"n"}},
				},
				Action: func(c *cli.Context) error {
					return r.withService(c, func(ctx context.Context, svc *app.Service) error {
						list, err := svc.ListSessions(ctx, model.SessionFilter{
							Owner:      c.String("owner"),
							MatchName:  c.String("match"),
							CageNumber: c.String("cage"),
							Limit:      c.Int("limit"),
						})
						if err != nil {
							return err
						}
						return r.printJSON(list)
					})
				},
			},
			{
				Name:      "result",
				Usage:     "print the aggregate of a completed session",
				ArgsUsage: "SESSION_ID",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "remote", Usage: "ask the scoring backend instead of aggregating locally"},
				},
				Action: func(c *cli.Context) error {
					id, err := sessionArg(c)
					if err != nil {
						return err
					}
					return r.withService(c, func(ctx context.Context, svc *app.Service) error {
						if c.Bool("remote") {
							sum, err := svc.BackendSummary(ctx, id)
							if err != nil {
								return err
							}
							return r.printJSON(sum)
						}
						res, err := svc.Result(ctx, id)
						if err != nil {
							return err
						}
						return r.printJSON(res)
					})
				},
			},
		},
	}
}

func (r *runner) adminCommand() *cli.Command {
	return &cli.Command{
		Name:  "admin",
		Usage: "manage backend accounts (admins only)",
		Subcommands: []*cli.Command{
			{
				Name:  "users",
				Usage: "list or delete backend accounts",
				Subcommands: []*cli.Command{
					{
						Name:  "list",
						Usage: "print every backend account",
						Action: func(c *cli.Context) error {
							return r.withService(c, func(ctx context.Context, svc *app.Service) error {
								users, err := svc.ListUsers(ctx)
								if err != nil {
									return err
								}
								return r.printJSON(users)
							})
						},
					},
					{
						Name:      "delete",
						Usage:     "remove one backend account",
						ArgsUsage: "USER_ID",
						Action: func(c *cli.Context) error {
							if c.NArg() != 1 {
								return fmt.Errorf("%w: %s %s", errUsage, c.Command.FullName(), c.Command.ArgsUsage)
							}
							id := strings.TrimSpace(c.Args().First())
							return r.withService(c, func(ctx context.Context, svc *app.Service) error {
								if err := svc.DeleteUser(ctx, id); err != nil {
									return err
								}
								_, err := fmt.Fprintf(r.out, "deleted %s\n", id)
								return err
							})
						},
					},
				},
			},
		},
	}
}

func (r *runner) statsCommand() *cli.Command {
	return &cli.Command{
		Name:  "stats",
		Usage: "print service statistics",
		Action: func(c *cli.Context) error {
			return r.withService(c, func(_ context.Context, svc *app.Service) error {
				return r.printJSON(svc.GetStats())
			})
		},
	}
}

func sessionArg(c *cli.Context) (string, error) {
	if c.NArg() != 1 {
		return "", fmt.Errorf("%w: %s %s", errUsage, c.Command.FullName(), c.Command.ArgsUsage)
	}
	return strings.TrimSpace(c.Args().First()), nil
}

func (r *runner) printJSON(v any) error {
	enc := json.NewEncoder(r.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
