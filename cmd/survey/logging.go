package main

import (
	"io"
	"log"

	"github.com/banshee-data/survey.report/internal/monitoring"
	"github.com/banshee-data/survey.report/internal/nav/correction"
	"github.com/banshee-data/survey.report/internal/nav/poscache"
	"github.com/banshee-data/survey.report/internal/sonar/bathymetry"
	"github.com/banshee-data/survey.report/internal/sonar/normalize"
	"github.com/banshee-data/survey.report/internal/sonar/parser"
)

// setupLogging routes every package's log streams to w at level. Progress
// and per-bundle messages from this command go to the diag stream.
func setupLogging(level monitoring.Level, w io.Writer) {
	lw := monitoring.WritersFor(level, w)
	for _, set := range []func(ops, diag, trace io.Writer){
		correction.SetLogWriters,
		poscache.SetLogWriters,
		normalize.SetLogWriters,
		parser.SetLogWriters,
		bathymetry.SetLogWriters,
	} {
		set(lw.Ops, lw.Diag, lw.Trace)
	}

	if lw.Diag == nil {
		log.SetOutput(io.Discard)
	} else {
		log.SetOutput(lw.Diag)
	}
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)
	log.SetPrefix("[survey] ")
	monitoring.SetLogger(log.New(w, "[survey] ", log.LstdFlags|log.Lmicroseconds).Printf)
}
