package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli"
)

const (
	endpointFlagName    = "endpoint"
	secretFlagName      = "secret"
	appNameFlagName     = "app-name"
	appVersionFlagName  = "app-version"
	storagePathFlagName = "storage-path"
	timeoutFlagName     = "timeout"
	configFlagName      = "config"
	debugFlagName       = "debug"
)

func main() {
	if err := run(os.Args[1:], getEnvVars(), os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err.Error())
		os.Exit(1)
	}
}

func run(args []string, envvars map[string]string, out io.Writer) error {
	logger := logrus.New()
	logger.SetOutput(os.Stderr)
	logger.SetFormatter(&logrus.TextFormatter{DisableTimestamp: true})
	logger.SetLevel(logrus.WarnLevel)

	env := &environment{envvars: envvars, out: out, logger: logger}

	app := cli.NewApp()
	app.Name = "crashctl"
	app.Usage = "report, replay and analyze crash reports"
	app.Writer = out
	app.ErrWriter = os.Stderr
	app.Flags = []cli.Flag{
		cli.StringFlag{Name: endpointFlagName, Usage: "collection endpoint URL (env API_ENDPOINT)"},
		cli.StringFlag{Name: secretFlagName, Usage: "shared HMAC secret (env HMAC_SECRET)"},
		cli.StringFlag{Name: appNameFlagName, Usage: "application name (env APP_NAME)"},
		cli.StringFlag{Name: appVersionFlagName, Usage: "application version (env APP_VERSION)"},
		cli.StringFlag{Name: storagePathFlagName, Usage: "local queue directory, defaults to ~/.<app-name>_crashes"},
		cli.DurationFlag{Name: timeoutFlagName, Usage: "request timeout, e.g. 10s"},
		cli.StringFlag{Name: configFlagName, Usage: "path to a YAML settings file; flags and env vars take precedence"},
		cli.BoolFlag{Name: debugFlagName, Usage: "turn on debug logs"},
	}
	app.Before = func(c *cli.Context) error {
		if c.GlobalBool(debugFlagName) {
			logger.SetLevel(logrus.DebugLevel)
		}
		return nil
	}
	app.Commands = []cli.Command{
		env.reportCommand(),
		env.replayCommand(),
		env.queueCommand(),
		env.readCommand(),
		env.recentCommand(),
		env.searchCommand(),
		env.statsCommand(),
	}
	return app.Run(append([]string{app.Name}, args...))
}

// environment is what every command needs besides its flags.
type environment struct {
	envvars map[string]string
	out     io.Writer
	logger  *logrus.Logger
}

func (env *environment) printJSON(v interface{}) error {
	enc := json.NewEncoder(env.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func getEnvVars() map[string]string {
	m := map[string]string{}
	for _, v := range os.Environ() {
		pair := strings.SplitN(v, "=", 2)
		m[pair[0]] = pair[1]
	}
	return m
}
