package writer

import (
	"fmt"
	"io"
	"path/filepath"
	"time"

	rotatelogs "github.com/lestrrat-go/file-rotatelogs"
	"gopkg.in/natefinch/lumberjack.v2"
)

// RotateMode selects how the log file is rotated.
type RotateMode int

const (
	// RotateModeTime rotates on a fixed schedule.
	RotateModeTime RotateMode = iota
	// RotateModeSize rotates when the file grows past a size limit.
	RotateModeSize
)

// String returns the mode name.
func (m RotateMode) String() string {
	switch m {
	case RotateModeTime:
		return "time"
	case RotateModeSize:
		return "size"
	default:
		return "unknown"
	}
}

// RotateConfig configures the rotating file writer.
type RotateConfig struct {
	Mode       RotateMode
	Filepath   string
	Filename   string
	FileExt    string
	TimeRotate TimeRotateConfig
	SizeRotate SizeRotateConfig
}

// TimeRotateConfig holds schedule-based rotation settings, in hours.
type TimeRotateConfig struct {
	MaxAge       int
	RotationTime int
}

// SizeRotateConfig holds size-based rotation settings.
type SizeRotateConfig struct {
	MaxSize    int // megabytes
	MaxBackups int
	MaxAge     int // days
	Compress   bool
}

// File creates a rotating file writer for the configured mode.
func File(config RotateConfig) (io.Writer, error) {
	switch config.Mode {
	case RotateModeTime:
		return timeRotateWriter(config)
	case RotateModeSize:
		return sizeRotateWriter(config), nil
	default:
		return nil, fmt.Errorf("unsupported rotate mode: %v", config.Mode)
	}
}

func (c *RotateConfig) fullPath(suffix string) string {
	name := c.Filename
	if suffix != "" {
		name += "." + suffix
	}
	return filepath.Join(c.Filepath, name+"."+c.FileExt)
}

func timeRotateWriter(config RotateConfig) (io.Writer, error) {
	w, err := rotatelogs.New(
		config.fullPath("%Y%m%d%H%M"),
		rotatelogs.WithLinkName(config.fullPath("")),
		rotatelogs.WithMaxAge(time.Duration(config.TimeRotate.MaxAge)*time.Hour),
		rotatelogs.WithRotationTime(time.Duration(config.TimeRotate.RotationTime)*time.Hour),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create time rotate writer: %w", err)
	}
	return w, nil
}

func sizeRotateWriter(config RotateConfig) io.Writer {
	return &lumberjack.Logger{
		Filename:   config.fullPath(""),
		MaxSize:    config.SizeRotate.MaxSize,
		MaxBackups: config.SizeRotate.MaxBackups,
		MaxAge:     config.SizeRotate.MaxAge,
		Compress:   config.SizeRotate.Compress,
	}
}
