package writer

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Console creates a console writer with a compact, human-readable format.
func Console() zerolog.ConsoleWriter {
	return zerolog.ConsoleWriter{
		Out:         os.Stderr,
		TimeFormat:  time.DateTime,
		FormatLevel: formatLevel,
	}
}

func formatLevel(i any) string {
	return strings.ToUpper(fmt.Sprintf("| %-6s|", i))
}
