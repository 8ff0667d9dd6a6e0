package main

import (
	"os"
	"time"

	"github.com/pkg/errors"
	"github.com/urfave/cli"
	"gopkg.in/yaml.v3"

	"github.com/kinbiko/crashpipe"
	"github.com/kinbiko/crashpipe/reader"
)

// settings are resolved from, in increasing order of precedence, the YAML
// file given by --config, environment variables and global flags.
type settings struct {
	Endpoint    string        `yaml:"endpoint"`
	Secret      string        `yaml:"secret"`
	AppName     string        `yaml:"app_name"`
	AppVersion  string        `yaml:"app_version"`
	StoragePath string        `yaml:"storage_path"`
	Timeout     time.Duration `yaml:"timeout"`
}

func (env *environment) loadSettings(c *cli.Context) (*settings, error) {
	s := &settings{}
	if path := c.GlobalString(configFlagName); path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrapf(err, "reading settings file %s", path)
		}
		if err := yaml.Unmarshal(b, s); err != nil {
			return nil, errors.Wrapf(err, "parsing settings file %s", path)
		}
	}

	override := func(dst *string, envVar, flagName string) {
		if v := env.envvars[envVar]; v != "" {
			*dst = v
		}
		if c.GlobalIsSet(flagName) {
			*dst = c.GlobalString(flagName)
		}
	}
	override(&s.Endpoint, "API_ENDPOINT", endpointFlagName)
	override(&s.Secret, "HMAC_SECRET", secretFlagName)
	override(&s.AppName, "APP_NAME", appNameFlagName)
	override(&s.AppVersion, "APP_VERSION", appVersionFlagName)
	override(&s.StoragePath, "CRASH_STORAGE_PATH", storagePathFlagName)
	if c.GlobalIsSet(timeoutFlagName) {
		s.Timeout = c.GlobalDuration(timeoutFlagName)
	}
	return s, nil
}

func (env *environment) newReporter(c *cli.Context) (*crashpipe.Reporter, error) {
	s, err := env.loadSettings(c)
	if err != nil {
		return nil, err
	}
	r, err := crashpipe.New(crashpipe.Configuration{
		AppName:     s.AppName,
		AppVersion:  s.AppVersion,
		Endpoint:    s.Endpoint,
		Secret:      s.Secret,
		StoragePath: s.StoragePath,
		Timeout:     s.Timeout,
		Logger:      env.logger.WithField("app", s.AppName),
	})
	return r, errors.Wrap(err, "invalid reporter settings")
}

func (env *environment) newReader(c *cli.Context) (*reader.Client, error) {
	s, err := env.loadSettings(c)
	if err != nil {
		return nil, err
	}
	client, err := reader.New(reader.Config{
		Endpoint:   s.Endpoint,
		Secret:     s.Secret,
		AppName:    s.AppName,
		AppVersion: s.AppVersion,
		Timeout:    s.Timeout,
		Logger:     env.logger.WithField("app", s.AppName),
	})
	return client, errors.Wrap(err, "invalid reader settings")
}

func (env *environment) newQueue(c *cli.Context) (*crashpipe.Queue, error) {
	s, err := env.loadSettings(c)
	if err != nil {
		return nil, err
	}
	if s.AppName == "" {
		return nil, &crashpipe.ValidationError{Field: "app-name", Reason: "must be present"}
	}
	path := s.StoragePath
	if path == "" {
		path = crashpipe.DefaultStoragePath(s.AppName)
	}
	q := crashpipe.NewQueue(path, s.AppName)
	q.Logger = env.logger
	return q, nil
}
