// Package toolcalls implements the append-only ledger of an agent's tool
// invocations and the statistics derived from it.
package toolcalls

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"iter"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/kittclouds/agentfs/internal/logging"
	"github.com/kittclouds/agentfs/internal/metrics"
	"github.com/kittclouds/agentfs/internal/store"
)

// Outcome is how a tool call ended.
type Outcome string

const (
	Success Outcome = "success"
	Error   Outcome = "error"
)

// Valid reports whether o is a known outcome.
func (o Outcome) Valid() bool { return o == Success || o == Error }

// ToolCall is one ledger record.
type ToolCall struct {
	Seq         int64
	Name        string
	ArgsSummary string
	StartedAt   time.Time
	Duration    time.Duration
	Outcome     Outcome
	Message     string
}

// Filter selects records. Zero fields match everything.
type Filter struct {
	Name    string
	Outcome Outcome
	Since   time.Time // inclusive
	Until   time.Time // exclusive
	Limit   int       // first Limit matching records by seq
}

// Stats aggregates a set of records. It is computed on demand.
type Stats struct {
	Count           int64
	SuccessCount    int64
	ErrorCount      int64
	TotalDuration   time.Duration
	AverageDuration time.Duration
}

// NamedStats is Stats for a single tool name.
type NamedStats struct {
	Name string
	Stats
}

const pageSize = 256

const columns = `seq, name, args_summary, started_at, duration, outcome, message`

// Ledger records tool calls. It is safe for concurrent use.
type Ledger struct {
	store  *store.SQLiteStore
	logger *zap.Logger
}

// New returns a ledger over s.
func New(s *store.SQLiteStore) *Ledger {
	return &Ledger{store: s, logger: logging.Component(s.Logger(), "toolcalls")}
}

// Record appends call and returns its sequence id. call.Seq is ignored.
func (l *Ledger) Record(ctx context.Context, call ToolCall) (seq int64, err error) {
	switch {
	case call.Name == "":
		return 0, fmt.Errorf("toolcalls: record: empty name: %w", store.ErrInvalidArgument)
	case !call.Outcome.Valid():
		return 0, fmt.Errorf("toolcalls: record: outcome %q: %w", call.Outcome, store.ErrInvalidArgument)
	case call.Duration < 0:
		return 0, fmt.Errorf("toolcalls: record: negative duration: %w", store.ErrInvalidArgument)
	}

	var message any
	if call.Message != "" {
		message = call.Message
	}
	err = l.store.Update(ctx, func(ctx context.Context, tx *store.Tx) error {
		started := call.StartedAt
		if started.IsZero() {
			started = tx.Now()
		}
		res, err := tx.Exec(ctx,
			`INSERT INTO tool_calls (name, args_summary, started_at, duration, outcome, message) VALUES (?, ?, ?, ?, ?, ?)`,
			call.Name, truncate(call.ArgsSummary), started.UnixNano(), int64(call.Duration), string(call.Outcome), message)
		if err != nil {
			return err
		}
		if seq, err = res.LastInsertId(); err != nil {
			return store.Wrap("insert", err)
		}
		return nil
	})
	if err != nil {
		l.logger.Warn("record failed", zap.String("name", call.Name), zap.Error(err))
		return 0, err
	}
	metrics.RecordToolCall(string(call.Outcome))
	l.logger.Debug("recorded",
		zap.Int64("seq", seq),
		zap.String("name", call.Name),
		zap.String("outcome", string(call.Outcome)),
		zap.Duration("duration", call.Duration))
	return seq, nil
}

// Get returns the record with seq.
func (l *Ledger) Get(ctx context.Context, seq int64) (ToolCall, error) {
	var call ToolCall
	err := l.store.View(ctx, func(ctx context.Context, tx *store.Tx) error {
		c, err := scanCall(tx.QueryRow(ctx, `SELECT `+columns+` FROM tool_calls WHERE seq = ?`, seq))
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("toolcalls: get %d: %w", seq, store.ErrNotFound)
		}
		call = c
		return err
	})
	return call, err
}

// List yields the records matching f in ascending seq order. Records are
// read a page at a time; each range over the sequence starts from the first
// matching record.
func (l *Ledger) List(ctx context.Context, f Filter) iter.Seq2[ToolCall, error] {
	return func(yield func(ToolCall, error) bool) {
		where, args, err := f.where()
		if err != nil {
			yield(ToolCall{}, err)
			return
		}
		var after int64
		remaining := f.Limit
		for {
			n := pageSize
			if f.Limit > 0 {
				if remaining <= 0 {
					return
				}
				n = min(n, remaining)
			}
			page, err := l.page(ctx, where, args, after, n)
			if err != nil {
				yield(ToolCall{}, err)
				return
			}
			for _, c := range page {
				if !yield(c, nil) {
					return
				}
			}
			if len(page) < n {
				return
			}
			after = page[len(page)-1].Seq
			remaining -= len(page)
		}
	}
}

// Calls collects List into a slice.
func (l *Ledger) Calls(ctx context.Context, f Filter) ([]ToolCall, error) {
	calls := []ToolCall{}
	for c, err := range l.List(ctx, f) {
		if err != nil {
			return nil, err
		}
		calls = append(calls, c)
	}
	return calls, nil
}

func (l *Ledger) page(ctx context.Context, where string, args []any, after int64, n int) ([]ToolCall, error) {
	var calls []ToolCall
	err := l.store.View(ctx, func(ctx context.Context, tx *store.Tx) error {
		rows, err := tx.Query(ctx,
			`SELECT `+columns+` FROM tool_calls WHERE `+where+` AND seq > ? ORDER BY seq LIMIT ?`,
			append(append([]any{}, args...), after, n)...)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			c, err := scanCall(rows)
			if err != nil {
				return store.Wrap("scan", err)
			}
			calls = append(calls, c)
		}
		if err := rows.Err(); err != nil {
			return store.Wrap("query", err)
		}
		return nil
	})
	return calls, err
}

// Stats aggregates the records matching f.
func (l *Ledger) Stats(ctx context.Context, f Filter) (Stats, error) {
	from, args, err := f.from()
	if err != nil {
		return Stats{}, err
	}
	var st Stats
	err = l.store.View(ctx, func(ctx context.Context, tx *store.Tx) error {
		return scanStats(tx.QueryRow(ctx, `SELECT `+aggregates+` FROM `+from, args...), &st)
	})
	if err != nil {
		return Stats{}, err
	}
	return st, nil
}

// StatsByName aggregates the records matching f per tool name, most called
// first.
func (l *Ledger) StatsByName(ctx context.Context, f Filter) ([]NamedStats, error) {
	from, args, err := f.from()
	if err != nil {
		return nil, err
	}
	out := []NamedStats{}
	err = l.store.View(ctx, func(ctx context.Context, tx *store.Tx) error {
		rows, err := tx.Query(ctx,
			`SELECT name, `+aggregates+` FROM `+from+` GROUP BY name ORDER BY COUNT(*) DESC, name`, args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var ns NamedStats
			if err := scanStats(prefixed{rows: rows, first: &ns.Name}, &ns.Stats); err != nil {
				return store.Wrap("scan", err)
			}
			out = append(out, ns)
		}
		if err := rows.Err(); err != nil {
			return store.Wrap("query", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

const aggregates = `COUNT(*),
	COALESCE(SUM(outcome = 'success'), 0),
	COALESCE(SUM(outcome = 'error'), 0),
	COALESCE(SUM(duration), 0)`

func scanStats(sc store.Scanner, st *Stats) error {
	var total int64
	if err := sc.Scan(&st.Count, &st.SuccessCount, &st.ErrorCount, &total); err != nil {
		return err
	}
	st.TotalDuration = time.Duration(total)
	if st.Count > 0 {
		st.AverageDuration = st.TotalDuration / time.Duration(st.Count)
	}
	return nil
}

type prefixed struct {
	rows  store.Scanner
	first any
}

func (p prefixed) Scan(dest ...any) error {
	return p.rows.Scan(append([]any{p.first}, dest...)...)
}

func scanCall(sc store.Scanner) (ToolCall, error) {
	var c ToolCall
	var started, duration int64
	var outcome string
	var message sql.NullString
	if err := sc.Scan(&c.Seq, &c.Name, &c.ArgsSummary, &started, &duration, &outcome, &message); err != nil {
		return ToolCall{}, err
	}
	c.StartedAt = time.Unix(0, started)
	c.Duration = time.Duration(duration)
	c.Outcome = Outcome(outcome)
	c.Message = message.String
	return c, nil
}

// where returns the filter's conditions, without Limit.
func (f Filter) where() (string, []any, error) {
	if f.Outcome != "" && !f.Outcome.Valid() {
		return "", nil, fmt.Errorf("toolcalls: filter outcome %q: %w", f.Outcome, store.ErrInvalidArgument)
	}
	if f.Limit < 0 {
		return "", nil, fmt.Errorf("toolcalls: negative limit: %w", store.ErrInvalidArgument)
	}
	conds := []string{"1 = 1"}
	var args []any
	if f.Name != "" {
		conds = append(conds, "name = ?")
		args = append(args, f.Name)
	}
	if f.Outcome != "" {
		conds = append(conds, "outcome = ?")
		args = append(args, string(f.Outcome))
	}
	if !f.Since.IsZero() {
		conds = append(conds, "started_at >= ?")
		args = append(args, f.Since.UnixNano())
	}
	if !f.Until.IsZero() {
		conds = append(conds, "started_at < ?")
		args = append(args, f.Until.UnixNano())
	}
	return strings.Join(conds, " AND "), args, nil
}

// from returns a FROM source honouring every filter field, Limit included.
func (f Filter) from() (string, []any, error) {
	where, args, err := f.where()
	if err != nil {
		return "", nil, err
	}
	if f.Limit == 0 {
		return "tool_calls WHERE " + where, args, nil
	}
	return `(SELECT * FROM tool_calls WHERE ` + where + ` ORDER BY seq LIMIT ?)`, append(args, f.Limit), nil
}

// Pending is a tool call in progress. Exactly one of Success or Fail
// records it.
type Pending struct {
	ledger  *Ledger
	name    string
	summary string
	started time.Time
	done    atomic.Bool
}

// Start begins timing a call of name with args. args is summarised with
// Summarize.
func (l *Ledger) Start(name string, args any) *Pending {
	return &Pending{ledger: l, name: name, summary: Summarize(args), started: l.store.Now()}
}

// Success records the call as successful.
func (p *Pending) Success(ctx context.Context) (int64, error) {
	return p.finish(ctx, Success, "")
}

// Fail records the call as failed with cause's message.
func (p *Pending) Fail(ctx context.Context, cause error) (int64, error) {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	return p.finish(ctx, Error, msg)
}

func (p *Pending) finish(ctx context.Context, outcome Outcome, msg string) (int64, error) {
	if !p.done.CompareAndSwap(false, true) {
		return 0, fmt.Errorf("toolcalls: %s already recorded: %w", p.name, store.ErrInvalidArgument)
	}
	d := p.ledger.store.Now().Sub(p.started)
	return p.ledger.Record(ctx, ToolCall{
		Name:        p.name,
		ArgsSummary: p.summary,
		StartedAt:   p.started,
		Duration:    max(d, 0),
		Outcome:     outcome,
		Message:     msg,
	})
}
