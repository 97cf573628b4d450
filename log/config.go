package log

import (
	"github.com/marketbay/client-go/log/writer"
)

// FileConfig configures the file sink.
type FileConfig struct {
	Filepath   string            `json:"filepath" default:"log"`
	Filename   string            `json:"filename" default:"marketbay"`
	FileExt    string            `json:"file_ext" default:"log"`
	RotateMode writer.RotateMode `json:"rotate_mode"`

	// Time rotation (rotate_mode: time)
	MaxAgeHours   int `json:"max_age_hours" default:"168"`
	RotationHours int `json:"rotation_hours" default:"24"`

	// Size rotation (rotate_mode: size)
	MaxSizeMB  int  `json:"max_size_mb" default:"50"`
	MaxBackups int  `json:"max_backups" default:"5"`
	MaxAgeDays int  `json:"max_age_days" default:"30"`
	Compress   bool `json:"compress" default:"false"`
}

func (c *FileConfig) toWriterConfig() writer.RotateConfig {
	return writer.RotateConfig{
		Filepath: c.Filepath,
		Filename: c.Filename,
		FileExt:  c.FileExt,
		Mode:     c.RotateMode,
		TimeRotate: writer.TimeRotateConfig{
			MaxAge:       c.MaxAgeHours,
			RotationTime: c.RotationHours,
		},
		SizeRotate: writer.SizeRotateConfig{
			MaxSize:    c.MaxSizeMB,
			MaxBackups: c.MaxBackups,
			MaxAge:     c.MaxAgeDays,
			Compress:   c.Compress,
		},
	}
}
