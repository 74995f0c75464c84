// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of aika.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package ingest subscribes to a NATS subject and feeds influx line
// protocol measurements into the historian's snapshot write path.
// The measurement name selects the tag; a `value` field carries
// numeric samples, a `text` field non-numeric ones, and an optional
// `quality` tag downgrades the sample.
package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/influxdata/line-protocol/v2/lineprotocol"
	"github.com/nats-io/nats.go"

	"github.com/lulzzz/aika/internal/auth"
	"github.com/lulzzz/aika/internal/config"
	"github.com/lulzzz/aika/internal/historian"
	"github.com/lulzzz/aika/pkg/log"
	"github.com/lulzzz/aika/pkg/schema"
)

type Ingester struct {
	historian *historian.Historian
	conn      *nats.Conn
	sub       *nats.Subscription
}

// Start connects to NATS and subscribes the measurement intake.
func Start(h *historian.Historian, cfg *config.NatsConfig) (*Ingester, error) {
	opts := []nats.Option{nats.Name("aika-ingest")}
	if cfg.Username != "" {
		opts = append(opts, nats.UserInfo(cfg.Username, cfg.Password))
	}

	conn, err := nats.Connect(cfg.Address, opts...)
	if err != nil {
		return nil, fmt.Errorf("NATS connect: %w", err)
	}

	ing := &Ingester{historian: h, conn: conn}
	ing.sub, err = conn.Subscribe(cfg.Subject, func(m *nats.Msg) {
		if err := ing.decodeAndWrite(m.Data); err != nil {
			log.Errorf("Ingest error: %s", err.Error())
		}
	})
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("NATS subscribe: %w", err)
	}

	log.Infof("NATS subscription to '%s' established", cfg.Subject)
	return ing, nil
}

func (ing *Ingester) Close() {
	if ing.sub != nil {
		ing.sub.Unsubscribe()
	}
	ing.conn.Close()
}

// decodeAndWrite parses one message worth of line protocol and writes
// the decoded samples in a single batch.
func (ing *Ingester) decodeAndWrite(data []byte) error {
	batches := make(map[string][]schema.TagValue)

	dec := lineprotocol.NewDecoderWithBytes(data)
	for dec.Next() {
		rawMeasurement, err := dec.Measurement()
		if err != nil {
			return err
		}
		tagName := string(rawMeasurement)

		quality := schema.QualityGood
		for {
			key, val, err := dec.NextTag()
			if err != nil {
				return err
			}
			if key == nil {
				break
			}
			if string(key) == "quality" {
				quality = schema.Quality(string(val))
			}
		}

		value := schema.NaN
		text := ""
		for {
			key, val, err := dec.NextField()
			if err != nil {
				return err
			}
			if key == nil {
				break
			}
			switch string(key) {
			case "value":
				switch val.Kind() {
				case lineprotocol.Float:
					value = schema.Float(val.FloatV())
				case lineprotocol.Int:
					value = schema.Float(val.IntV())
				case lineprotocol.Uint:
					value = schema.Float(val.UintV())
				default:
					log.Warnf("Ingest: unsupported value kind %s for tag %s", val.Kind(), tagName)
				}
			case "text":
				if val.Kind() == lineprotocol.String {
					text = val.StringV()
				}
			}
		}

		t, err := dec.Time(lineprotocol.Nanosecond, time.Now())
		if err != nil {
			return err
		}

		v := schema.TagValue{Time: t.UTC(), Value: value, Text: text, Quality: quality}
		if v.IsNumeric() && v.Text == "" {
			v.Text = v.Value.String()
		}
		batches[tagName] = append(batches[tagName], v)
	}
	if len(batches) == 0 {
		return nil
	}

	results, err := ing.historian.WriteSnapshots(context.Background(), auth.Ingest, batches)
	if err != nil {
		return err
	}
	for tag, res := range results {
		if res.InvalidCount > 0 {
			log.Warnf("Ingest: %d invalid samples for tag %s", res.InvalidCount, tag)
		}
	}
	return nil
}
