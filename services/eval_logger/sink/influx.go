// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package sink

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
)

// InfluxSink writes evaluation metrics to an InfluxDB bucket.
//
// Every Log call becomes one point on the "robot_eval" measurement with
// the metric map flattened into fields. The declared step-axis value
// (num_episode or total_time_elapsed) rides along as a field so the
// dashboard can re-plot against it instead of wall-clock time. Tags
// configured at construction (eval_id, robot type) are attached to
// every point.
type InfluxSink struct {
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
	bucket   string
	org      string

	// measurement names the series family; defaults to "robot_eval".
	measurement string

	// tags are attached to every point (run identity, robot platform).
	tags map[string]string

	mu   sync.Mutex
	axes map[string]string
}

// InfluxConfig carries the connection settings for InfluxSink.
//
// Zero-valued fields fall back to environment variables and then to
// local-development defaults, matching how the rest of the stack reads
// its InfluxDB settings.
type InfluxConfig struct {
	URL    string
	Token  string
	Org    string
	Bucket string

	// Measurement overrides the default "robot_eval" measurement name.
	Measurement string

	// Tags are attached to every emitted point.
	Tags map[string]string
}

// NewInfluxSink creates a sink backed by the blocking write API.
//
// Connection settings resolve in order: explicit config, environment
// (INFLUXDB_URL, INFLUXDB_TOKEN, INFLUXDB_ORG, INFLUXDB_BUCKET), then
// local-development defaults.
func NewInfluxSink(cfg InfluxConfig) (*InfluxSink, error) {
	url := cfg.URL
	if url == "" {
		url = os.Getenv("INFLUXDB_URL")
	}
	if url == "" {
		url = "http://localhost:8086"
	}

	token := cfg.Token
	if token == "" {
		token = os.Getenv("INFLUXDB_TOKEN")
	}

	org := cfg.Org
	if org == "" {
		org = os.Getenv("INFLUXDB_ORG")
	}
	if org == "" {
		org = "aleutian-robotics"
	}

	bucket := cfg.Bucket
	if bucket == "" {
		bucket = os.Getenv("INFLUXDB_BUCKET")
	}
	if bucket == "" {
		bucket = "robot-eval"
	}

	measurement := cfg.Measurement
	if measurement == "" {
		measurement = "robot_eval"
	}

	client := influxdb2.NewClient(url, token)

	return &InfluxSink{
		client:      client,
		writeAPI:    client.WriteAPIBlocking(org, bucket),
		bucket:      bucket,
		org:         org,
		measurement: measurement,
		tags:        cfg.Tags,
		axes:        make(map[string]string),
	}, nil
}

// DefineMetric records the axis declaration. InfluxDB has no native
// axis concept; the declaration is kept so the axis value is written as
// a dedicated field rather than dropped.
func (s *InfluxSink) DefineMetric(pattern, stepKey string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.axes[pattern] = stepKey
}

// Log writes the metric map as a single point.
//
// Field values keep their native types where the line protocol allows
// (float64, int, bool, string); anything else is stringified with %v.
func (s *InfluxSink) Log(values map[string]any) error {
	point := influxdb2.NewPointWithMeasurement(s.measurement).SetTime(time.Now())

	for k, v := range s.tags {
		point.AddTag(k, v)
	}

	for k, v := range values {
		switch val := v.(type) {
		case float64, int, int64, uint, bool, string:
			point.AddField(k, val)
		case float32:
			point.AddField(k, float64(val))
		default:
			point.AddField(k, fmt.Sprintf("%v", val))
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.writeAPI.WritePoint(ctx, point); err != nil {
		return fmt.Errorf("influx write failed: %w", err)
	}
	return nil
}

// Close releases the underlying client.
func (s *InfluxSink) Close() error {
	s.client.Close()
	return nil
}
