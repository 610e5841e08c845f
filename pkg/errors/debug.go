package errors

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"

	"github.com/angelmondragon/inspectbid-backend/pkg/payments"
)

// ErrorDump is the log-only view of an error chain. It never goes to clients.
type ErrorDump struct {
	TopMessage string   `json:"top_message"`
	Code       Code     `json:"code,omitempty"`
	Chain      []string `json:"chain,omitempty"`

	PGCode       string `json:"pg_code,omitempty"`
	PGConstraint string `json:"pg_constraint,omitempty"`
	PGTable      string `json:"pg_table,omitempty"`
	PGColumn     string `json:"pg_column,omitempty"`
	PGDetail     string `json:"pg_detail,omitempty"`
	PGMessage    string `json:"pg_message,omitempty"`

	ProviderOp        string `json:"provider_op,omitempty"`
	ProviderCode      string `json:"provider_code,omitempty"`
	ProviderTemporary bool   `json:"provider_temporary,omitempty"`
}

func Dump(err error) ErrorDump {
	if err == nil {
		return ErrorDump{}
	}
	d := ErrorDump{TopMessage: err.Error(), Code: codeOf(err)}
	for e := err; e != nil; e = errors.Unwrap(e) {
		d.Chain = append(d.Chain, fmt.Sprintf("%T: %v", e, e))
	}
	if !d.fillProvider(err) {
		d.fillPostgres(err)
	}
	return d
}

func codeOf(err error) Code {
	if typed := As(err); typed != nil {
		return typed.code
	}
	return ""
}

func (d *ErrorDump) fillProvider(err error) bool {
	var pe *payments.ProviderError
	if !errors.As(err, &pe) {
		return false
	}
	d.ProviderOp, d.ProviderCode, d.ProviderTemporary = pe.Op, pe.Code, pe.Temporary
	return true
}

// fillPostgres reads both pgx (gorm) and lib/pq (goose) error shapes.
func (d *ErrorDump) fillPostgres(err error) {
	if pgx := new(pgconn.PgError); errors.As(err, &pgx) {
		d.PGCode, d.PGMessage, d.PGDetail = pgx.Code, pgx.Message, pgx.Detail
		d.PGConstraint, d.PGTable, d.PGColumn = pgx.ConstraintName, pgx.TableName, pgx.ColumnName
		return
	}
	if pqe := new(pq.Error); errors.As(err, &pqe) {
		d.PGCode, d.PGMessage, d.PGDetail = string(pqe.Code), pqe.Message, pqe.Detail
		d.PGConstraint, d.PGTable, d.PGColumn = pqe.Constraint, pqe.Table, pqe.Column
	}
}
