package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/urfave/cli"

	"github.com/kinbiko/crashpipe"
	"github.com/kinbiko/crashpipe/reader"
)

func (env *environment) reportCommand() cli.Command {
	return cli.Command{
		Name:  "report",
		Usage: "report a crash with the given message, e.g. to check the endpoint and secret",
		Flags: []cli.Flag{
			cli.StringFlag{Name: "message", Usage: "Required. The error message to report."},
			cli.StringFlag{Name: "user", Usage: "Optional. The affected user's ID."},
		},
		Action: func(c *cli.Context) error {
			msg := c.String("message")
			if msg == "" {
				return &crashpipe.ValidationError{Field: "message", Reason: "must be present"}
			}
			r, err := env.newReporter(c)
			if err != nil {
				return err
			}
			var opts []crashpipe.BuildOption
			if user := c.String("user"); user != "" {
				opts = append(opts, crashpipe.ForUser(user))
			}
			outcome := r.ReportCrash(context.Background(), errors.New(msg), opts...)
			return env.printJSON(map[string]interface{}{
				"outcome":    outcome.String(),
				"session_id": r.Session().ID,
			})
		},
	}
}

func (env *environment) replayCommand() cli.Command {
	return cli.Command{
		Name:  "replay",
		Usage: "send the reports waiting in the local queue",
		Action: func(c *cli.Context) error {
			r, err := env.newReporter(c)
			if err != nil {
				return err
			}
			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			delivered := r.ReplayLocal(ctx)
			remaining, err := r.Queue().Len()
			if err != nil {
				return errors.Wrap(err, "counting remaining reports")
			}
			return env.printJSON(map[string]int{"delivered": delivered, "remaining": remaining})
		},
	}
}

type jsonEntry struct {
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

func (env *environment) queueCommand() cli.Command {
	return cli.Command{
		Name:  "queue",
		Usage: "inspect the local queue",
		Subcommands: []cli.Command{
			{
				Name:  "list",
				Usage: "list queued reports, oldest first",
				Action: func(c *cli.Context) error {
					q, err := env.newQueue(c)
					if err != nil {
						return err
					}
					entries, err := q.Entries()
					if err != nil {
						return err
					}
					out := make([]jsonEntry, len(entries))
					for i, e := range entries {
						out[i] = jsonEntry{Name: e.Name, CreatedAt: e.CreatedAt.UTC()}
					}
					return env.printJSON(out)
				},
			},
			{
				Name:  "watch",
				Usage: "print reports as they are queued until interrupted",
				Flags: []cli.Flag{
					cli.BoolFlag{Name: "replay", Usage: "replay the queue whenever a report is queued"},
				},
				Action: func(c *cli.Context) error {
					q, err := env.newQueue(c)
					if err != nil {
						return err
					}
					var r *crashpipe.Reporter
					if c.Bool("replay") {
						if r, err = env.newReporter(c); err != nil {
							return err
						}
					}
					ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
					defer cancel()

					return q.Watch(ctx, func(e crashpipe.QueueEntry) {
						if err := env.printJSON(jsonEntry{Name: e.Name, CreatedAt: e.CreatedAt.UTC()}); err != nil {
							env.logger.WithError(err).Warn("unable to print queue entry")
						}
						if r != nil {
							r.ReplayLocal(ctx)
						}
					})
				},
			},
		},
	}
}

func (env *environment) readCommand() cli.Command {
	return cli.Command{
		Name:  "read",
		Usage: "fetch a page of crash reports",
		Flags: []cli.Flag{
			cli.IntFlag{Name: "limit", Value: reader.DefaultLimit, Usage: "page size, 1-100"},
			cli.IntFlag{Name: "offset", Value: reader.DefaultOffset, Usage: "reports to skip"},
			cli.IntFlag{Name: "days", Value: reader.DefaultDays, Usage: "days to look back, 1-365"},
			cli.StringFlag{Name: "version", Usage: "only reports of this app version; defaults to --app-version"},
		},
		Action: func(c *cli.Context) error {
			client, err := env.newReader(c)
			if err != nil {
				return err
			}
			opts := []reader.FilterOption{
				reader.WithLimit(c.Int("limit")),
				reader.WithOffset(c.Int("offset")),
				reader.WithDays(c.Int("days")),
			}
			if c.IsSet("version") {
				opts = append(opts, reader.WithVersion(c.String("version")))
			}
			page, err := client.ReadReports(context.Background(), opts...)
			if err != nil {
				return err
			}
			return env.printJSON(page)
		},
	}
}

func (env *environment) recentCommand() cli.Command {
	return cli.Command{
		Name:  "recent",
		Usage: "fetch the most recent crashes",
		Flags: []cli.Flag{
			cli.IntFlag{Name: "hours", Value: 24, Usage: "hours to look back, rounded down to whole days"},
		},
		Action: func(c *cli.Context) error {
			client, err := env.newReader(c)
			if err != nil {
				return err
			}
			reports, err := client.RecentCrashes(context.Background(), c.Int("hours"))
			if err != nil {
				return err
			}
			return env.printJSON(reports)
		},
	}
}

func (env *environment) searchCommand() cli.Command {
	return cli.Command{
		Name:  "search",
		Usage: "fetch crashes whose error message contains a string, ignoring case",
		Flags: []cli.Flag{
			cli.StringFlag{Name: "error", Usage: "Required. The text to look for."},
			cli.IntFlag{Name: "days", Value: reader.DefaultDays, Usage: "days to look back, 1-365"},
		},
		Action: func(c *cli.Context) error {
			if c.String("error") == "" {
				return &crashpipe.ValidationError{Field: "error", Reason: "must be present"}
			}
			client, err := env.newReader(c)
			if err != nil {
				return err
			}
			reports, err := client.CrashesByError(context.Background(), c.String("error"), c.Int("days"))
			if err != nil {
				return err
			}
			return env.printJSON(reports)
		},
	}
}

func (env *environment) statsCommand() cli.Command {
	return cli.Command{
		Name:  "stats",
		Usage: "aggregate statistics over the most recent crashes",
		Flags: []cli.Flag{
			cli.IntFlag{Name: "days", Value: reader.DefaultDays, Usage: "days to look back, 1-365"},
		},
		Action: func(c *cli.Context) error {
			client, err := env.newReader(c)
			if err != nil {
				return err
			}
			res, err := client.CrashStats(context.Background(), c.Int("days"))
			if err != nil {
				return err
			}
			return env.printJSON(res)
		},
	}
}
