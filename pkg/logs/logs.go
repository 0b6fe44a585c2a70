package logs

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"
)

type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
	LevelFatal
)

func GetLevel(level string) Level {
	switch strings.ToUpper(level) {
	case "DEBUG":
		return LevelDebug
	case "INFO":
		return LevelInfo
	case "WARN":
		return LevelWarn
	case "ERROR":
		return LevelError
	case "FATAL":
		return LevelFatal
	default:
		return LevelInfo
	}
}

var tags = []string{
	"[DEBUG] ",
	"[INFO] ",
	"[WARN] ",
	"[ERROR] ",
	"[FATAL] ",
}

func (lv Level) toString() string {
	if lv >= LevelDebug && lv <= LevelFatal {
		return tags[lv]
	}
	return fmt.Sprintf("[?%d] ", lv)
}

type FormatLogger interface {
	Debugf(format string, v ...interface{})
	Infof(format string, v ...interface{})
	Warnf(format string, v ...interface{})
	Errorf(format string, v ...interface{})
	Fatalf(format string, v ...interface{})
}

type Control interface {
	SetLevel(Level)
	SetOutput(io.Writer)
}

type FullLogger interface {
	FormatLogger
	Control
}

type ILog struct {
	stdLog *log.Logger
	level  Level
}

func (il *ILog) SetOutput(w io.Writer) {
	il.stdLog.SetOutput(w)
}

func (il *ILog) SetLevel(lv Level) {
	il.level = lv
}

func (il *ILog) logf(lv Level, format string, v ...interface{}) {
	if il.level > lv {
		return
	}
	msg := lv.toString() + fmt.Sprintf(format, v...)
	il.stdLog.Output(4, msg)
	if lv == LevelFatal {
		os.Exit(1)
	}
}

func (il *ILog) Debugf(format string, v ...interface{}) {
	il.logf(LevelDebug, format, v...)
}

func (il *ILog) Infof(format string, v ...interface{}) {
	il.logf(LevelInfo, format, v...)
}

func (il *ILog) Warnf(format string, v ...interface{}) {
	il.logf(LevelWarn, format, v...)
}

func (il *ILog) Errorf(format string, v ...interface{}) {
	il.logf(LevelError, format, v...)
}

func (il *ILog) Fatalf(format string, v ...interface{}) {
	il.logf(LevelFatal, format, v...)
}
