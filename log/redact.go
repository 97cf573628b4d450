package log

import (
	"io"
	"regexp"
)

// Token material must never reach a log sink in full. The redacting writer
// rewrites anything that looks like a JWT or a bearer header before the
// bytes are written.
var (
	jwtPattern    = regexp.MustCompile(`\beyJ[A-Za-z0-9_-]{4,}\.[A-Za-z0-9_-]{4,}\.[A-Za-z0-9_-]{4,}\b`)
	bearerPattern = regexp.MustCompile(`(?i)(bearer\s+)[A-Za-z0-9._-]+`)
)

// RedactWriter masks token material in every write.
type RedactWriter struct {
	next io.Writer
}

// NewRedactWriter wraps w with token masking.
func NewRedactWriter(w io.Writer) *RedactWriter {
	return &RedactWriter{next: w}
}

// Write implements io.Writer. The returned length is len(p) so zerolog does
// not treat masked (shorter) output as a short write.
func (w *RedactWriter) Write(p []byte) (int, error) {
	masked := jwtPattern.ReplaceAllFunc(p, maskToken)
	masked = bearerPattern.ReplaceAll(masked, []byte("${1}[redacted]"))

	if _, err := w.next.Write(masked); err != nil {
		return 0, err
	}
	return len(p), nil
}

// maskToken keeps a short prefix so correlated log lines stay matchable.
func maskToken(token []byte) []byte {
	const keep = 8
	if len(token) <= keep {
		return []byte("[redacted]")
	}
	return append(append([]byte{}, token[:keep]...), "...[redacted]"...)
}
