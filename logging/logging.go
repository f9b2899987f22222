// Package logging configures the process-wide logrus logger, the way
// the teacher's scheduler/server package does it in its init(): an
// env-var level override plus a hook that annotates each entry with the
// module-relative file:line it was logged from.
package logging

import (
	"os"
	"runtime/debug"
	"strings"

	log "github.com/sirupsen/logrus"
)

// EnvLevelVar is the environment variable consulted for the log level,
// mirroring the teacher's SCOOT_LOGLEVEL.
const EnvLevelVar = "FLEET_LOGLEVEL"

func init() {
	if levelStr := os.Getenv(EnvLevelVar); levelStr != "" {
		level, err := log.ParseLevel(levelStr)
		if err != nil {
			log.WithError(err).Error("invalid " + EnvLevelVar)
			return
		}
		log.SetLevel(level)
		log.AddHook(contextHook{})
	} else {
		log.SetLevel(log.InfoLevel)
	}
}

// contextHook adds the fleet-relative file:line of the log call to
// every entry, adapted from common/log/hooks' contextHook.
type contextHook struct{}

func (contextHook) Levels() []log.Level { return log.AllLevels }

func (contextHook) Fire(entry *log.Entry) error {
	stack := debug.Stack()
	lines := strings.Split(string(stack), "\n")
	foundLoggerFrame := false
	step := 1
	for i := 0; i < len(lines); i += step {
		if strings.Contains(lines[i], "logging/logging.go:") {
			foundLoggerFrame = true
			step = 2
			continue
		}
		if !foundLoggerFrame || strings.Contains(lines[i], "sirupsen/logrus") {
			continue
		}
		parts := strings.Split(lines[i], "fleet/")
		entry.Data["file:line"] = strings.TrimSpace(parts[len(parts)-1])
		break
	}
	return nil
}
