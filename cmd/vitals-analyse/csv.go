package main

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/banshee-data/vitals.report/internal/trace"
)

// traceEpoch anchors the relative seconds of a CSV trace.
var traceEpoch = time.Unix(0, 0).UTC()

// readTraceCSV parses rows of t,r,g,b where t is seconds from the start of
// the recording. A header row whose first field is not a number is skipped,
// as are blank lines and lines starting with '#'. Timestamps must increase.
func readTraceCSV(r io.Reader) (*trace.ColorTrace, error) {
	cr := csv.NewReader(r)
	cr.Comment = '#'
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	ct := trace.New(1024)
	var last float64
	for first := true; ; first = false {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read csv: %w", err)
		}
		line, _ := cr.FieldPos(0)
		if len(rec) < 4 {
			return nil, fmt.Errorf("line %d: want 4 fields t,r,g,b, got %d", line, len(rec))
		}
		var vals [4]float64
		for i := range vals {
			v, err := strconv.ParseFloat(strings.TrimSpace(rec[i]), 64)
			if err != nil {
				if first {
					vals[0] = math.NaN()
					break
				}
				return nil, fmt.Errorf("line %d field %d: %w", line, i+1, err)
			}
			vals[i] = v
		}
		if math.IsNaN(vals[0]) {
			continue // header
		}
		if ct.Len() > 0 && vals[0] <= last {
			return nil, fmt.Errorf("line %d: timestamp %g does not increase", line, vals[0])
		}
		last = vals[0]
		ct.Append(trace.Sample{
			R: vals[1],
			G: vals[2],
			B: vals[3],
			T: traceEpoch.Add(time.Duration(vals[0] * float64(time.Second))),
		})
	}
	if ct.Len() == 0 {
		return nil, fmt.Errorf("no samples")
	}
	return ct, nil
}

// writeTraceCSV writes ct in the format readTraceCSV accepts.
func writeTraceCSV(w io.Writer, ct *trace.ColorTrace) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"t", "r", "g", "b"}); err != nil {
		return err
	}
	if ct.Len() == 0 {
		cw.Flush()
		return cw.Error()
	}
	start := ct.At(0).T
	f := func(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }
	for i := 0; i < ct.Len(); i++ {
		s := ct.At(i)
		if err := cw.Write([]string{f(s.T.Sub(start).Seconds()), f(s.R), f(s.G), f(s.B)}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
