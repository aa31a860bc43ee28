package cli

import (
	"errors"
	"io/fs"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/roach88/bizcursor/internal/bizobj"
	"github.com/roach88/bizcursor/internal/config"
	"github.com/roach88/bizcursor/internal/driver"
	"github.com/roach88/bizcursor/internal/logging"
)

// session is an open connection plus the object a command works on.
type session struct {
	cfg    *config.Config
	drv    *driver.SQL
	logger *slog.Logger
	obj    *bizobj.BizObj
	out    *OutputFormatter
}

// openSession loads the config, connects and builds the named object.
// Failures are reported through the formatter and returned as ExitErrors.
func openSession(opts *RootOptions, cmd *cobra.Command, object string) (*session, error) {
	out := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	cfg, err := config.Load(opts.Config)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, out.Fail(ExitCommandError, ErrCodeNotFound, "config file not found", err)
		}
		return nil, out.Fail(ExitCommandError, ErrCodeConfig, "config invalid", err)
	}

	level := cfg.Logging.Level
	if opts.Verbose {
		level = "debug"
	}
	logger, _, err := logging.New(cmd.ErrOrStderr(), level, cfg.Logging.Format)
	if err != nil {
		return nil, out.Fail(ExitCommandError, ErrCodeConfig, "logging config invalid", err)
	}

	if _, ok := cfg.Find(object); !ok {
		return nil, out.Fail(ExitCommandError, ErrCodeUnknownObject, "unknown object "+object, nil)
	}

	drv, err := driver.Open(cfg.Database.Driver, cfg.Database.DSN, logger)
	if err != nil {
		return nil, out.Fail(ExitCommandError, ErrCodeConnect, "connect failed", err)
	}
	obj, err := cfg.Build(object, drv, logger)
	if err != nil {
		_ = drv.Close()
		return nil, out.Fail(ExitCommandError, ErrCodeConfig, "build failed", err)
	}
	out.VerboseLog("Connected to %s, object %s", cfg.Database.Driver, object)
	return &session{cfg: cfg, drv: drv, logger: logger, obj: obj, out: out}, nil
}

func (s *session) Close() {
	if err := s.drv.Close(); err != nil {
		s.logger.Warn("close failed", "error", err)
	}
}

// fail reports a data layer error.
func (s *session) fail(message string, err error) error {
	return s.out.Fail(ExitFailure, dataErrorCode(err), message, err)
}
