package logsvc

import (
	"io"
	"log"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/trezcool/masomo-sync/core"
)

var (
	fileWriter io.Writer
	stdout     io.Writer = os.Stdout // mockable
)

// output returns stdout, teed into the rotated LOG_FILE when one is configured.
// Every logger of the process shares the same rotated file.
func output(conf *core.Config) io.Writer {
	if conf.LogFile == "" {
		return stdout
	}
	if fileWriter == nil {
		fileWriter = &lumberjack.Logger{
			Filename:   conf.LogFile,
			MaxSize:    10, // megabytes
			MaxBackups: 5,
			MaxAge:     28, // days
			Compress:   true,
		}
	}
	return io.MultiWriter(stdout, fileWriter)
}

// New returns a RollbarLogger printing with the given component prefix, e.g. "SYNC : ".
// Rollbar only gets the logs outside of debug mode.
func New(prefix string, conf *core.Config) *RollbarLogger {
	flags := log.LstdFlags
	if conf.Debug {
		flags |= log.Lmicroseconds | log.Lshortfile
	}
	logger := NewRollbarLogger(log.New(output(conf), prefix, flags), conf)
	logger.Enable(!conf.Debug && conf.RollbarToken != "")
	return logger
}
