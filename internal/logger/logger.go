package logger

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/scarlin90/signingroom/internal/config"
	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Service tags every entry written through Log.
const Service = "signingroom"

// Log is the process-wide logger. Entries carry the service field; room and
// payment scoped entries come from ForRoom, ForConn and ForPayment.
var Log = newLog()

func newLog() *logrus.Logger {
	l := logrus.New()
	l.AddHook(serviceHook{})
	return l
}

// InitLogger applies cfg to Log. An empty level means info and an empty
// format means text.
func InitLogger(cfg config.LoggerConfig) error {
	level := logrus.InfoLevel
	if cfg.Level != "" {
		var err error
		if level, err = logrus.ParseLevel(cfg.Level); err != nil {
			return err
		}
	}
	f, err := formatter(cfg.Format)
	if err != nil {
		return err
	}

	Log.SetLevel(level)
	Log.SetFormatter(f)
	Log.SetOutput(output(cfg))
	return nil
}

func formatter(name string) (logrus.Formatter, error) {
	switch strings.ToLower(name) {
	case "json":
		return &logrus.JSONFormatter{}, nil
	case "", "text":
		return &logrus.TextFormatter{FullTimestamp: true}, nil
	}
	return nil, fmt.Errorf("unknown log format %q", name)
}

// output mirrors stdout into a rotated file when one is configured.
func output(cfg config.LoggerConfig) io.Writer {
	if cfg.FilePath == "" {
		return os.Stdout
	}
	return io.MultiWriter(os.Stdout, &lumberjack.Logger{
		Filename:   cfg.FilePath,
		MaxSize:    cfg.MaxSize,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAge,
		Compress:   cfg.Compress,
	})
}

// ForRoom returns an entry tagged with the room id.
func ForRoom(roomID string) *logrus.Entry {
	return Log.WithField("room", roomID)
}

// ForConn tags a single socket within a room.
func ForConn(roomID, remote string) *logrus.Entry {
	return ForRoom(roomID).WithField("remote", remote)
}

// ForPayment tags entries about a payment hash. Only a prefix is logged.
func ForPayment(hash string) *logrus.Entry {
	if len(hash) > 12 {
		hash = hash[:12]
	}
	return Log.WithField("payment", hash)
}

type serviceHook struct{}

func (serviceHook) Levels() []logrus.Level { return logrus.AllLevels }

func (serviceHook) Fire(e *logrus.Entry) error {
	if _, ok := e.Data["service"]; !ok {
		e.Data["service"] = Service
	}
	return nil
}
