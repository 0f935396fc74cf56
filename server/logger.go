package main

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"os"

	jlog "github.com/luno/jettison/log"
)

// lineLogger writes each jettison log as one JSON object per line.
type lineLogger struct {
	out *log.Logger
}

func newLineLogger(w io.Writer) *lineLogger {
	return &lineLogger{out: log.New(w, "", 0)}
}

func (l *lineLogger) Log(_ context.Context, entry jlog.Entry) string {
	res, err := json.Marshal(entry)
	if err != nil {
		l.out.Printf("spantree: failed to marshal log: %v", err)
		l.out.Print(entry.Message)
		return entry.Message
	}
	l.out.Print(string(res))
	return string(res)
}

func InitLogging() {
	jlog.SetLogger(newLineLogger(os.Stdout))
}
