package logger

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/agnosto/toot-scraper/config"
	"github.com/sirupsen/logrus"
)

const (
	maxLogSize    = 5 * 1024 * 1024 // 5MB
	maxLogBackups = 5
	logFileName   = "toot-scraper.log"
)

// Logger writes to stderr until InitLogger points it at the log file.
var Logger = newLogger()

var logFile *os.File

func newLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	l.SetLevel(logrus.InfoLevel)
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	return l
}

// LogDir is where the log file and diagnosis reports are written.
func LogDir(cfg *config.Config) string {
	return filepath.Join(cfg.Options.SaveLocation, ".logs")
}

func InitLogger(cfg *config.Config) error {
	logDir := LogDir(cfg)
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}

	path := filepath.Join(logDir, logFileName)
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}

	logFile = file
	Logger.SetOutput(file)
	Logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, DisableColors: true})

	go rotateLogFile(path)

	return nil
}

func rotateLogFile(path string) {
	for {
		time.Sleep(1 * time.Hour)

		info, err := os.Stat(path)
		if err != nil {
			Logger.Errorf("Error checking log file: %v", err)
			continue
		}

		if info.Size() < maxLogSize {
			continue
		}

		Logger.Info("Rotating log file")

		for i := maxLogBackups - 1; i > 0; i-- {
			oldFile := fmt.Sprintf("%s.%d", path, i)
			newFile := fmt.Sprintf("%s.%d", path, i+1)
			os.Rename(oldFile, newFile)
		}

		os.Rename(path, path+".1")

		newFile, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
		if err != nil {
			Logger.Errorf("Error creating new log file: %v", err)
			continue
		}

		old := logFile
		logFile = newFile
		Logger.SetOutput(newFile)
		if old != nil {
			old.Close()
		}
	}
}
