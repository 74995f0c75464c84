// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of aika.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/lulzzz/aika/pkg/log"
	"github.com/lulzzz/aika/pkg/schema"
)

// TagCatalog persists tag definitions, state sets, change history and
// snapshots. It implements memorystore.Catalog.
type TagCatalog struct {
	conn *DBConnection
}

func NewTagCatalog(conn *DBConnection) *TagCatalog {
	return &TagCatalog{conn: conn}
}

func (c *TagCatalog) LoadTags(ctx context.Context) ([]*schema.TagDefinition, error) {
	rows, err := sq.Select("id", "name", "description", "units", "data_type", "state_set",
		"exception_filter", "compression_filter", "created", "modified").
		From("tag").OrderBy("name COLLATE NOCASE").
		RunWith(c.conn.DB).QueryContext(ctx)
	if err != nil {
		log.Error("Error while running query")
		return nil, err
	}
	defer rows.Close()

	var defs []*schema.TagDefinition
	for rows.Next() {
		var def schema.TagDefinition
		var excJSON, cmpJSON string
		var created, modified int64
		if err := rows.Scan(&def.ID, &def.Name, &def.Description, &def.Units, &def.DataType,
			&def.StateSet, &excJSON, &cmpJSON, &created, &modified); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(excJSON), &def.Exception); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(cmpJSON), &def.Compression); err != nil {
			return nil, err
		}
		def.Created = time.Unix(0, created).UTC()
		def.Modified = time.Unix(0, modified).UTC()
		defs = append(defs, &def)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, def := range defs {
		if def.ChangeHistory, err = c.loadChanges(ctx, def.ID); err != nil {
			return nil, err
		}
		if def.Snapshot, err = c.loadSnapshot(ctx, def.ID); err != nil {
			return nil, err
		}
	}
	return defs, nil
}

func (c *TagCatalog) loadChanges(ctx context.Context, tagID string) ([]schema.ChangeEntry, error) {
	rows, err := sq.Select("id", "time", "username", "description").
		From("tag_change").Where(sq.Eq{"tag_id": tagID}).OrderBy("time").
		RunWith(c.conn.DB).QueryContext(ctx)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []schema.ChangeEntry
	for rows.Next() {
		var e schema.ChangeEntry
		var ts int64
		if err := rows.Scan(&e.ID, &ts, &e.User, &e.Description); err != nil {
			return nil, err
		}
		e.Time = time.Unix(0, ts).UTC()
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (c *TagCatalog) loadSnapshot(ctx context.Context, tagID string) (*schema.TagValue, error) {
	var ts int64
	var value sql.NullFloat64
	var text, quality, units string
	err := sq.Select("time", "value", "text", "quality", "units").
		From("snapshot").Where(sq.Eq{"tag_id": tagID}).
		RunWith(c.conn.DB).QueryRowContext(ctx).
		Scan(&ts, &value, &text, &quality, &units)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	v := schema.TagValue{
		Time:    time.Unix(0, ts).UTC(),
		Value:   schema.NaN,
		Text:    text,
		Quality: schema.Quality(quality),
		Units:   units,
	}
	if value.Valid {
		v.Value = schema.Float(value.Float64)
	}
	return &v, nil
}

func (c *TagCatalog) SaveTag(ctx context.Context, def *schema.TagDefinition) error {
	excJSON, err := json.Marshal(def.Exception)
	if err != nil {
		return err
	}
	cmpJSON, err := json.Marshal(def.Compression)
	if err != nil {
		return err
	}

	tx, err := c.conn.DB.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO tag (id, name, description, units, data_type, state_set, exception_filter, compression_filter, created, modified)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET
		   name = excluded.name, description = excluded.description, units = excluded.units,
		   data_type = excluded.data_type, state_set = excluded.state_set,
		   exception_filter = excluded.exception_filter, compression_filter = excluded.compression_filter,
		   modified = excluded.modified`,
		def.ID, def.Name, def.Description, def.Units, string(def.DataType), def.StateSet,
		string(excJSON), string(cmpJSON), def.Created.UnixNano(), def.Modified.UnixNano()); err != nil {
		log.Error("Error while running query")
		return err
	}

	for _, e := range def.ChangeHistory {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO tag_change (id, tag_id, time, username, description) VALUES (?, ?, ?, ?, ?)`,
			e.ID, def.ID, e.Time.UnixNano(), e.User, e.Description); err != nil {
			return err
		}
	}

	return tx.Commit()
}

func (c *TagCatalog) DeleteTag(ctx context.Context, tagID string) error {
	_, err := sq.Delete("tag").Where(sq.Eq{"id": tagID}).
		RunWith(c.conn.DB).ExecContext(ctx)
	return err
}

func (c *TagCatalog) SaveStateSet(ctx context.Context, set *schema.StateSet) error {
	states, err := json.Marshal(set.States)
	if err != nil {
		return err
	}
	_, err = c.conn.DB.ExecContext(ctx,
		`INSERT INTO state_set (name, description, states) VALUES (?, ?, ?)
		 ON CONFLICT (name) DO UPDATE SET description = excluded.description, states = excluded.states`,
		set.Name, set.Description, string(states))
	return err
}

func (c *TagCatalog) DeleteStateSet(ctx context.Context, name string) error {
	_, err := sq.Delete("state_set").Where(sq.Eq{"name": name}).
		RunWith(c.conn.DB).ExecContext(ctx)
	return err
}

func (c *TagCatalog) LoadStateSets(ctx context.Context) ([]*schema.StateSet, error) {
	rows, err := sq.Select("name", "description", "states").
		From("state_set").OrderBy("name COLLATE NOCASE").
		RunWith(c.conn.DB).QueryContext(ctx)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sets []*schema.StateSet
	for rows.Next() {
		var set schema.StateSet
		var states string
		if err := rows.Scan(&set.Name, &set.Description, &states); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(states), &set.States); err != nil {
			return nil, err
		}
		sets = append(sets, &set)
	}
	return sets, rows.Err()
}

func (c *TagCatalog) SaveSnapshot(ctx context.Context, tagID string, v schema.TagValue) error {
	var value interface{}
	if v.IsNumeric() {
		value = float64(v.Value)
	}
	_, err := c.conn.DB.ExecContext(ctx,
		`INSERT INTO snapshot (tag_id, time, value, text, quality, units) VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (tag_id) DO UPDATE SET
		   time = excluded.time, value = excluded.value, text = excluded.text,
		   quality = excluded.quality, units = excluded.units`,
		tagID, v.Time.UnixNano(), value, v.Text, string(v.Quality), v.Units)
	return err
}
