// Command genmock generates deterministic mock telemetry fixtures: raw
// device envelopes plus the normalized records the ingest path derives from
// them. It uses the actual domain package under a fixed clock so fixtures
// match real pipeline behavior.
//
// Usage:
//
//	go run ./cmd/genmock \
//	  -out data/mock/telemetry_envelopes.json \
//	  -normalized-out data/mock/telemetry_normalized.json
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/roadpulse/road-telemetry-etl/internal/domain"
)

var baseTime = time.Date(2025, time.June, 14, 8, 0, 0, 0, time.UTC)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	out := flag.String("out", "", "output path for raw envelope fixtures")
	normalizedOut := flag.String("normalized-out", "", "optional output path for normalized record fixtures")
	nodes := flag.Int("nodes", 4, "number of simulated devices")
	hours := flag.Int("hours", 2, "hours of telemetry per device")
	seed := flag.Int64("seed", 1, "PRNG seed")
	flag.Parse()

	if *out == "" {
		flag.Usage()
		return fmt.Errorf("missing required flag: -out")
	}

	// Fixed clock for reproducible received_at defaults.
	domain.SetClock(clockwork.NewFakeClockAt(baseTime.Add(time.Duration(*hours) * time.Hour)))
	defer domain.SetClock(nil)

	rng := rand.New(rand.NewSource(*seed))
	envelopes := generate(rng, *nodes, *hours)

	if err := writeJSON(*out, envelopes); err != nil {
		return err
	}
	log.Printf("wrote %d envelopes to %s", len(envelopes), *out)

	if *normalizedOut == "" {
		return nil
	}

	var records []map[string]any
	for _, env := range envelopes {
		res, err := domain.NormalizeEnvelope(env)
		if err != nil {
			return fmt.Errorf("normalize generated envelope: %w", err)
		}
		for _, rec := range res.Records {
			records = append(records, recordFixture(rec))
		}
	}
	if err := writeJSON(*normalizedOut, records); err != nil {
		return err
	}
	log.Printf("wrote %d normalized records to %s", len(records), *normalizedOut)
	return nil
}

// generate builds one envelope per device per hour, each with a row per
// five-minute bucket. A small share of rows carries the corruption patterns
// seen in the field: swapped confidence, speed-like longitudes, out-of-range
// fixes.
func generate(rng *rand.Rand, nodes, hours int) []map[string]any {
	var envelopes []map[string]any

	for n := 0; n < nodes; n++ {
		nodeID := fmt.Sprintf("node-%02d", n+1)
		lat := 39.70 + rng.Float64()*0.1
		lon := -105.05 + rng.Float64()*0.1

		for h := 0; h < hours; h++ {
			env := map[string]any{
				"node_id":   nodeID,
				"grid_key":  fmt.Sprintf("seg:%02d", n%3+1),
				"direction": []string{"NB", "SB", "EB", "WB"}[rng.Intn(4)],
			}

			var rows []any
			for m := 0; m < 12; m++ {
				at := baseTime.Add(time.Duration(h)*time.Hour + time.Duration(m*5)*time.Minute)
				lat += (rng.Float64() - 0.5) * 0.002
				lon += (rng.Float64() - 0.5) * 0.002

				row := map[string]any{
					"bucket_start":   at.Format(time.RFC3339),
					"bucket_seconds": 300,
					"road_roughness": round3(0.1 + rng.Float64()*0.6),
					"shock_events":   rng.Intn(8),
					"confidence":     round3(0.5 + rng.Float64()*0.5),
					"sample_count":   40 + rng.Intn(30),
					"speed_band":     "city",
					"moving":         1,
				}

				switch rng.Intn(20) {
				case 0: // GPS glitch
					row["lat"] = 999.0
					row["lon"] = lon
				case 1: // confidence written into the coordinate fields
					row["lat"] = round3(rng.Float64())
					row["lon"] = 0.0
					row["confidence"] = round3(0.6 + rng.Float64()*0.4)
				case 2: // firmware using aliased field names
					row["latitude"] = round3(lat)
					row["lng"] = round3(lon)
					row["speed"] = round3(rng.Float64() * 20)
				default:
					row["lat"] = round3(lat)
					row["lon"] = round3(lon)
					row["speed_mps"] = round3(rng.Float64() * 20)
				}
				rows = append(rows, row)
			}
			env["rows"] = rows
			envelopes = append(envelopes, env)
		}
	}
	return envelopes
}

func recordFixture(rec *domain.AggregateRecord) map[string]any {
	return map[string]any{
		"received_at":    rec.ReceivedAt.Format(time.RFC3339),
		"node_id":        rec.NodeID,
		"bucket_start":   rec.BucketStart.Format(time.RFC3339),
		"bucket_seconds": rec.BucketSeconds,
		"grid_key":       rec.GridKey,
		"lat":            rec.Lat,
		"lon":            rec.Lon,
		"speed_mps":      rec.SpeedMPS,
		"road_roughness": rec.RoadRoughness,
		"shock_events":   rec.ShockEvents,
		"confidence":     rec.Confidence,
		"sample_count":   rec.SampleCount,
		"direction":      rec.Direction,
		"speed_band":     rec.SpeedBand,
		"moving":         rec.Moving,
		"analyzable":     rec.Analyzable,
		"quality_note":   rec.QualityNote.String(),
	}
}

func writeJSON(path string, v any) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}
	return nil
}

func round3(v float64) float64 {
	return float64(int(v*1000)) / 1000
}
