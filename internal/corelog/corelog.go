// Package corelog implements the ambient logging stack of §6/§10: one
// line per record in the `HH:MM:SS.ss LVL [thread] message` format,
// with the severity names of §6 (`ERR MSG WRN LOG INF DBG NSE`), built
// on go.uber.org/zap rather than a hand-rolled formatter: zap is already
// on the dependency tree transitively through fx/testcontainers, and
// this package promotes it to a direct, exercised dependency instead of
// reaching for log/slog.
package corelog

import (
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/buffer"
	"go.uber.org/zap/zapcore"
)

// Severity is one of the seven levels of §6, ordered 1 (most severe) to
// 7 (least), the reverse of zap's own ordering.
type Severity int

const (
	SeverityError Severity = iota + 1
	SeverityMessage
	SeverityWarning
	SeverityLog
	SeverityInfo
	SeverityDebug
	SeverityNoise
)

var severityTag = map[zapcore.Level]string{
	zapcore.DPanicLevel: "ERR",
	zapcore.ErrorLevel:  "ERR",
	zapcore.WarnLevel:   "WRN",
	zapcore.InfoLevel:   "MSG",
	zapcore.DebugLevel:  "DBG",
}

// severityZapLevel maps this package's §6 severities onto zap's smaller
// level set; LOG/INF/NSE all render through InfoLevel/DebugLevel with
// their own tag carried in severityTagField below (zap's Level type alone
// cannot carry seven distinct values).
var severityZapLevel = map[Severity]zapcore.Level{
	SeverityError:   zapcore.ErrorLevel,
	SeverityMessage: zapcore.InfoLevel,
	SeverityWarning: zapcore.WarnLevel,
	SeverityLog:     zapcore.InfoLevel,
	SeverityInfo:    zapcore.InfoLevel,
	SeverityDebug:   zapcore.DebugLevel,
	SeverityNoise:   zapcore.DebugLevel,
}

// severityTagField is the zap field name used to carry the precise §6
// tag through to the encoder, since multiple Severity values collapse
// onto the same zapcore.Level.
const severityTagField = "pythomnic_severity_tag"

// encoderConfig builds the `HH:MM:SS.ss LVL [thread] message` line
// layout as a zapcore.Encoder, pulling the severity tag field back out
// as the level text instead of zap's own level name.
func encoderConfig() zapcore.EncoderConfig {
	return zapcore.EncoderConfig{
		TimeKey:        "T",
		LevelKey:       "L",
		MessageKey:     "M",
		NameKey:        "N",
		CallerKey:      "",
		StacktraceKey:  "",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeTime:     func(t time.Time, enc zapcore.PrimitiveArrayEncoder) { enc.AppendString(t.Format("15:04:05.00")) },
		EncodeLevel:    func(l zapcore.Level, enc zapcore.PrimitiveArrayEncoder) { enc.AppendString(fallbackTag(l)) },
		EncodeDuration: zapcore.SecondsDurationEncoder,
		EncodeCaller:   nil,
	}
}

func fallbackTag(l zapcore.Level) string {
	if tag, ok := severityTag[l]; ok {
		return tag
	}
	return "LOG"
}

// lineEncoder renders the exact §6 line format. It embeds a console
// encoder purely to inherit its field-primitive (AddString, AddInt, …)
// methods — EncodeEntry itself is written by hand because zap's five
// levels cannot carry §6's seven severities; the precise tag
// travels as a hidden field (severityTagField) that EncodeEntry reads
// and strips before rendering.
type lineEncoder struct {
	zapcore.Encoder
	pool buffer.Pool
}

func newLineEncoder() zapcore.Encoder {
	cfg := encoderConfig()
	cfg.ConsoleSeparator = " "
	return &lineEncoder{Encoder: zapcore.NewConsoleEncoder(cfg), pool: buffer.NewPool()}
}

func (e *lineEncoder) Clone() zapcore.Encoder {
	return &lineEncoder{Encoder: e.Encoder.Clone(), pool: e.pool}
}

// EncodeEntry renders `HH:MM:SS.ss LVL [thread] message key=value ...`,
// pulling the exact severity tag out of fields instead of trusting
// zap's own (coarser) level.
func (e *lineEncoder) EncodeEntry(entry zapcore.Entry, fields []zapcore.Field) (*buffer.Buffer, error) {
	tag := fallbackTag(entry.Level)
	extra := make([]zapcore.Field, 0, len(fields))
	for _, f := range fields {
		if f.Key == severityTagField && f.Type == zapcore.StringType {
			tag = f.String
			continue
		}
		extra = append(extra, f)
	}

	buf := e.pool.Get()
	buf.AppendString(entry.Time.Format("15:04:05.00"))
	buf.AppendByte(' ')
	buf.AppendString(tag)
	buf.AppendString(" [")
	buf.AppendString(entry.LoggerName)
	buf.AppendString("] ")
	buf.AppendString(entry.Message)
	for _, f := range extra {
		buf.AppendByte(' ')
		buf.AppendString(f.Key)
		buf.AppendByte('=')
		buf.AppendString(fmt.Sprint(f.Interface))
	}
	buf.AppendString("\n")
	return buf, nil
}

// New builds a *zap.Logger writing the §6 line format to out (typically
// a *rotatingFile). thread names the goroutine/worker tag rendered as
// `[thread]`.
func New(out zapcore.WriteSyncer, minSeverity Severity, thread string) *zap.Logger {
	level := severityZapLevel[minSeverity]
	core := zapcore.NewCore(newLineEncoder(), out, zap.NewAtomicLevelAt(level))
	return zap.New(core).Named(thread)
}

// severityEntry wraps a message with its exact §6 severity tag so
// callers get all seven levels even though zap only has five.
func severityEntry(log *zap.Logger, sev Severity, msg string, fields ...zap.Field) {
	fields = append(fields, zap.String(severityTagField, tagFor(sev)))
	switch sev {
	case SeverityError:
		log.Error(msg, fields...)
	case SeverityWarning:
		log.Warn(msg, fields...)
	case SeverityDebug, SeverityNoise:
		log.Debug(msg, fields...)
	default:
		log.Info(msg, fields...)
	}
}

func tagFor(sev Severity) string {
	switch sev {
	case SeverityError:
		return "ERR"
	case SeverityMessage:
		return "MSG"
	case SeverityWarning:
		return "WRN"
	case SeverityLog:
		return "LOG"
	case SeverityInfo:
		return "INF"
	case SeverityDebug:
		return "DBG"
	case SeverityNoise:
		return "NSE"
	default:
		return "LOG"
	}
}

// Logger is the thin façade over *zap.Logger exposing exactly the
// seven §6 severities plus Sync (used to force the ERR-triggers-fsync
// rule).
type Logger struct {
	z   *zap.Logger
	out zapcore.WriteSyncer
}

func Wrap(z *zap.Logger, out zapcore.WriteSyncer) *Logger { return &Logger{z: z, out: out} }

func (l *Logger) Err(format string, args ...any)  { l.log(SeverityError, format, args...) }
func (l *Logger) Msg(format string, args ...any)  { l.log(SeverityMessage, format, args...) }
func (l *Logger) Wrn(format string, args ...any)  { l.log(SeverityWarning, format, args...) }
func (l *Logger) Log(format string, args ...any)  { l.log(SeverityLog, format, args...) }
func (l *Logger) Inf(format string, args ...any)  { l.log(SeverityInfo, format, args...) }
func (l *Logger) Dbg(format string, args ...any)  { l.log(SeverityDebug, format, args...) }
func (l *Logger) Nse(format string, args ...any)  { l.log(SeverityNoise, format, args...) }

func (l *Logger) log(sev Severity, format string, args ...any) {
	msg := format
	if len(args) > 0 {
		msg = fmt.Sprintf(format, args...)
	}
	severityEntry(l.z, sev, msg)
	if sev == SeverityError {
		_ = l.out.Sync() // §6: ERR records trigger an fsync
	}
}

// StdoutLogger is a convenience constructor for early boot logging
// before a cage's log file is open.
func StdoutLogger(thread string) *Logger {
	z := New(zapcore.AddSync(os.Stdout), SeverityDebug, thread)
	return Wrap(z, zapcore.AddSync(os.Stdout))
}
