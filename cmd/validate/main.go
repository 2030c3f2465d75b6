// Command validate checks a telemetry fixture file against the ingest rules:
// every envelope must normalize, sanity tags must match the anomalies the
// generator planted, and the analyzer must produce well-formed events.
//
// Usage:
//
//	go run ./cmd/validate -payload data/mock/telemetry_envelopes.json
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/roadpulse/road-telemetry-etl/internal/domain"
)

// phase tracks pass/fail for a validation phase.
type phase struct {
	name   string
	errors []string
}

func (p *phase) errorf(format string, args ...any) {
	p.errors = append(p.errors, fmt.Sprintf(format, args...))
}

func (p *phase) passed() bool { return len(p.errors) == 0 }

func main() {
	payload := flag.String("payload", "", "path to an envelope fixture file (object or array)")
	flag.Parse()

	if *payload == "" {
		flag.Usage()
		os.Exit(1)
	}
	os.Exit(run(*payload))
}

func run(path string) int {
	// Fixed clock so received_at defaults are stable across runs.
	domain.SetClock(clockwork.NewFakeClockAt(
		time.Date(2025, time.June, 14, 10, 0, 0, 0, time.UTC),
	))
	defer domain.SetClock(nil)

	envelopes, err := loadEnvelopes(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load %s: %v\n", path, err)
		return 1
	}

	normalize := &phase{name: "normalize"}
	sanity := &phase{name: "sanity tags"}
	analyze := &phase{name: "analyze"}

	var records, skipped, tagged, events int
	for i, env := range envelopes {
		res, err := domain.NormalizeEnvelope(env)
		if err != nil {
			normalize.errorf("envelope %d: %v", i, err)
			continue
		}
		records += res.Accepted
		skipped += res.Skipped

		for j, rec := range res.Records {
			checkRecord(sanity, i, j, rec)
			tagged += countTagged(rec)

			for _, ev := range domain.Analyze(rec) {
				events++
				if ev.ID == "" || ev.Status != domain.StatusOpen || ev.Reason == "" {
					analyze.errorf("envelope %d row %d: malformed event %+v", i, j, ev)
				}
			}
		}
	}

	fmt.Printf("envelopes: %d  records: %d  skipped: %d  tagged: %d  events: %d\n",
		len(envelopes), records, skipped, tagged, events)

	code := 0
	for _, p := range []*phase{normalize, sanity, analyze} {
		if p.passed() {
			fmt.Printf("PASS %s\n", p.name)
			continue
		}
		code = 1
		fmt.Printf("FAIL %s (%d errors)\n", p.name, len(p.errors))
		for _, msg := range p.errors {
			fmt.Printf("  %s\n", msg)
		}
	}
	return code
}

// checkRecord verifies the invariants normalization promises: tagged
// out-of-range coordinates are nulled, suspected confidence mix-ups are
// excluded from aggregation, analyzable records carry samples.
func checkRecord(p *phase, env, row int, rec *domain.AggregateRecord) {
	if rec.QualityNote.Contains(domain.TagLatOutOfRange) && rec.Lat != nil {
		p.errorf("envelope %d row %d: lat tagged out of range but not nulled", env, row)
	}
	if rec.QualityNote.Contains(domain.TagLonOutOfRange) && rec.Lon != nil {
		p.errorf("envelope %d row %d: lon tagged out of range but not nulled", env, row)
	}
	if rec.QualityNote.Contains(domain.TagLonZeroLatTiny) && (rec.Lat != nil || rec.Lon != nil) {
		p.errorf("envelope %d row %d: lon-zero pattern tagged but coordinates kept", env, row)
	}
	if rec.QualityNote.Contains(domain.TagLatLonSuspectedFromConf) {
		if rec.Analyzable {
			p.errorf("envelope %d row %d: confidence mix-up still analyzable", env, row)
		}
		if rec.Lat == nil {
			p.errorf("envelope %d row %d: confidence mix-up evidence discarded", env, row)
		}
	}
	if rec.Analyzable && rec.SampleCount < 1 {
		p.errorf("envelope %d row %d: analyzable record without samples", env, row)
	}
}

func countTagged(rec *domain.AggregateRecord) int {
	if rec.QualityNote.HasSanityTag() {
		return 1
	}
	return 0
}

func loadEnvelopes(path string) ([]map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var many []map[string]any
	if err := json.Unmarshal(data, &many); err == nil {
		return many, nil
	}
	var one map[string]any
	if err := json.Unmarshal(data, &one); err != nil {
		return nil, fmt.Errorf("not a JSON object or array of objects: %w", err)
	}
	return []map[string]any{one}, nil
}
