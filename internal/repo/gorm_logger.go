package repo

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm/logger"
)

const slowQuery = 200 * time.Millisecond

// gormWriter forwards GORM's log lines to the global zerolog logger.
type gormWriter struct {
	level zerolog.Level
}

func (w gormWriter) Printf(format string, args ...any) {
	log.WithLevel(w.level).Str("component", "gorm").Msg(fmt.Sprintf(format, args...))
}

// newGormLogger logs slow queries and real errors through zerolog. Misses are
// an ordinary outcome for every lookup here, so ErrRecordNotFound is not
// logged. Query parameters are left out because they carry target URLs.
func newGormLogger(level logger.LogLevel) logger.Interface {
	zl := zerolog.WarnLevel
	if level >= logger.Info {
		zl = zerolog.DebugLevel
	}
	return logger.New(gormWriter{level: zl}, logger.Config{
		SlowThreshold:             slowQuery,
		LogLevel:                  level,
		IgnoreRecordNotFoundError: true,
		ParameterizedQueries:      true,
		Colorful:                  false,
	})
}
