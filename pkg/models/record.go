package models

import "errors"

// ErrMissingKey is returned by Query.Validate when neither key is set.
var ErrMissingKey = errors.New(`either "id" or "notUnique" must be given`)

// Record is a single benchmark document.
// Timestamps are milliseconds since the Unix epoch.
type Record struct {
	Meta Meta `json:"meta" bson:"meta" msgpack:"meta"`
	Data Data `json:"data" bson:"data" msgpack:"data"`
}

// Meta carries bookkeeping timestamps. Records are never updated, so
// Created and Updated are always equal in this workload.
type Meta struct {
	Created int64 `json:"created" bson:"created" msgpack:"created"`
	Updated int64 `json:"updated" bson:"updated" msgpack:"updated"`
}

// Data holds the two lookup keys. ID is unique across the collection,
// NotUnique carries no uniqueness constraint.
type Data struct {
	ID        string `json:"id" bson:"id" msgpack:"id"`
	NotUnique string `json:"notUnique" bson:"notUnique" msgpack:"notUnique"`
}

// Query selects a record by primary key, secondary key, or both.
// When both are set they must both match.
type Query struct {
	ID        string
	NotUnique string
}

// ByID returns a primary key lookup.
func ByID(id string) Query { return Query{ID: id} }

// ByNotUnique returns a secondary key lookup.
func ByNotUnique(v string) Query { return Query{NotUnique: v} }

// Validate requires at least one key.
func (q Query) Validate() error {
	if q.ID == "" && q.NotUnique == "" {
		return ErrMissingKey
	}
	return nil
}
