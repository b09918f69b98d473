package db

import (
	"context"
	"time"
)

const componentColumns = `id, serial_number, type, date_received, arrived_from, primary_fault, secondary_fault, status, update_date`

const historyColumns = `id, component_id, version, timestamp, updated_by, changes, full_state`

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanComponent(row scanner) (Component, error) {
	var i Component
	err := row.Scan(
		&i.ID,
		&i.SerialNumber,
		&i.Type,
		&i.DateReceived,
		&i.ArrivedFrom,
		&i.PrimaryFault,
		&i.SecondaryFault,
		&i.Status,
		&i.UpdateDate,
	)
	return i, err
}

func scanComponentHist(row scanner) (ComponentHist, error) {
	var i ComponentHist
	err := row.Scan(
		&i.ID,
		&i.ComponentID,
		&i.Version,
		&i.Timestamp,
		&i.UpdatedBy,
		&i.Changes,
		&i.FullState,
	)
	return i, err
}

const getComponent = `-- name: GetComponent :one
SELECT ` + componentColumns + ` FROM components WHERE id = $1
`

func (q *Queries) GetComponent(ctx context.Context, id string) (Component, error) {
	return scanComponent(q.db.QueryRow(ctx, getComponent, id))
}

const getComponentForUpdate = `-- name: GetComponentForUpdate :one
SELECT ` + componentColumns + ` FROM components WHERE id = $1 FOR UPDATE
`

func (q *Queries) GetComponentForUpdate(ctx context.Context, id string) (Component, error) {
	return scanComponent(q.db.QueryRow(ctx, getComponentForUpdate, id))
}

const listComponents = `-- name: ListComponents :many
SELECT ` + componentColumns + ` FROM components ORDER BY id
`

func (q *Queries) ListComponents(ctx context.Context) ([]Component, error) {
	rows, err := q.db.Query(ctx, listComponents)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Component
	for rows.Next() {
		i, err := scanComponent(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const upsertComponent = `-- name: UpsertComponent :exec
INSERT INTO components (` + componentColumns + `)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
ON CONFLICT (id) DO UPDATE SET
    serial_number = EXCLUDED.serial_number,
    type = EXCLUDED.type,
    date_received = EXCLUDED.date_received,
    arrived_from = EXCLUDED.arrived_from,
    primary_fault = EXCLUDED.primary_fault,
    secondary_fault = EXCLUDED.secondary_fault,
    status = EXCLUDED.status,
    update_date = EXCLUDED.update_date
`

type UpsertComponentParams struct {
	ID             string
	SerialNumber   string
	Type           string
	DateReceived   time.Time
	ArrivedFrom    string
	PrimaryFault   string
	SecondaryFault string
	Status         string
	UpdateDate     time.Time
}

func (q *Queries) UpsertComponent(ctx context.Context, arg UpsertComponentParams) error {
	_, err := q.db.Exec(ctx, upsertComponent,
		arg.ID,
		arg.SerialNumber,
		arg.Type,
		arg.DateReceived,
		arg.ArrivedFrom,
		arg.PrimaryFault,
		arg.SecondaryFault,
		arg.Status,
		arg.UpdateDate,
	)
	return err
}

const insertComponentHist = `-- name: InsertComponentHist :exec
INSERT INTO component_hist (component_id, version, timestamp, updated_by, changes, full_state)
VALUES ($1, $2, $3, $4, $5, $6)
`

type InsertComponentHistParams struct {
	ComponentID string
	Version     int32
	Timestamp   time.Time
	UpdatedBy   string
	Changes     []byte
	FullState   []byte
}

func (q *Queries) InsertComponentHist(ctx context.Context, arg InsertComponentHistParams) error {
	_, err := q.db.Exec(ctx, insertComponentHist,
		arg.ComponentID,
		arg.Version,
		arg.Timestamp,
		arg.UpdatedBy,
		arg.Changes,
		arg.FullState,
	)
	return err
}

const getMaxComponentVersion = `-- name: GetMaxComponentVersion :one
SELECT COALESCE(MAX(version), 0)::int FROM component_hist WHERE component_id = $1
`

func (q *Queries) GetMaxComponentVersion(ctx context.Context, componentID string) (int32, error) {
	var version int32
	err := q.db.QueryRow(ctx, getMaxComponentVersion, componentID).Scan(&version)
	return version, err
}

const listComponentHist = `-- name: ListComponentHist :many
SELECT ` + historyColumns + ` FROM component_hist WHERE component_id = $1 ORDER BY version ASC
`

func (q *Queries) ListComponentHist(ctx context.Context, componentID string) ([]ComponentHist, error) {
	return q.queryHist(ctx, listComponentHist, componentID)
}

const listComponentHistByComponentIDs = `-- name: ListComponentHistByComponentIDs :many
SELECT ` + historyColumns + ` FROM component_hist WHERE component_id = ANY($1::text[]) ORDER BY component_id, version ASC
`

func (q *Queries) ListComponentHistByComponentIDs(ctx context.Context, componentIDs []string) ([]ComponentHist, error) {
	return q.queryHist(ctx, listComponentHistByComponentIDs, componentIDs)
}

const getComponentHistByVersion = `-- name: GetComponentHistByVersion :one
SELECT ` + historyColumns + ` FROM component_hist WHERE component_id = $1 AND version = $2
`

type GetComponentHistByVersionParams struct {
	ComponentID string
	Version     int32
}

func (q *Queries) GetComponentHistByVersion(ctx context.Context, arg GetComponentHistByVersionParams) (ComponentHist, error) {
	return scanComponentHist(q.db.QueryRow(ctx, getComponentHistByVersion, arg.ComponentID, arg.Version))
}

const deleteAllComponentHist = `-- name: DeleteAllComponentHist :exec
DELETE FROM component_hist
`

func (q *Queries) DeleteAllComponentHist(ctx context.Context) error {
	_, err := q.db.Exec(ctx, deleteAllComponentHist)
	return err
}

const deleteAllComponents = `-- name: DeleteAllComponents :exec
DELETE FROM components
`

func (q *Queries) DeleteAllComponents(ctx context.Context) error {
	_, err := q.db.Exec(ctx, deleteAllComponents)
	return err
}

func (q *Queries) queryHist(ctx context.Context, query string, args ...interface{}) ([]ComponentHist, error) {
	rows, err := q.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []ComponentHist
	for rows.Next() {
		i, err := scanComponentHist(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}
