package migrate

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"ladoga/internal/schema"
)

// ErrConflict — база записи разошлась с головой леджера: схема уехала вперёд
// с момента вычисления диффа. Леджер никогда не перебазирует операции сам.
var ErrConflict = errors.New("migration conflict: ledger head moved")

// BackendError — ошибка хранилища при применении операции, с контекстом
// для решения о повторе вызывающей стороной.
type BackendError struct {
	Seq int64
	Op  Operation
	Err error
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("migration %d: %s: %v", e.Seq, e.Op, e.Err)
}

func (e *BackendError) Unwrap() error { return e.Err }

// Record — одна запись леджера: непрерывно нумерованная партия операций.
// Применённая запись неизменяема; исправление — только новая запись вперёд.
type Record struct {
	Seq        int64       `json:"seq"`
	BaseHash   string      `json:"base_hash"`
	TargetHash string      `json:"target_hash"`
	Ops        []Operation `json:"ops"`
	AppliedOps int         `json:"applied_ops"` // резюмируемый курсор внутри Ops
	AppliedAt  *time.Time  `json:"applied_at,omitempty"`
	Failed     bool        `json:"failed,omitempty"`
}

// Applied — запись полностью применена.
func (r *Record) Applied() bool { return r.AppliedAt != nil }

// Store — персистентность леджера и исполнение DDL. Реализуется хранилищами.
type Store interface {
	// LoadRecords возвращает записи в порядке возрастания Seq.
	LoadRecords(ctx context.Context) ([]Record, error)
	// SaveRecord вставляет или перезаписывает запись по Seq.
	SaveRecord(ctx context.Context, rec Record) error
	// ExecDDL исполняет одну структурную операцию.
	ExecDDL(ctx context.Context, op Operation) error
}

// TxStore — опциональное расширение: хранилище умеет применить партию операций
// одной транзакцией. Тогда курсор не нужен: либо всё, либо ничего.
type TxStore interface {
	ExecDDLBatch(ctx context.Context, ops []Operation) error
}

// Ledger ведёт строгий порядок записей миграций поверх Store.
type Ledger struct {
	store Store

	mu      sync.Mutex
	records []Record
}

// OpenLedger загружает историю из хранилища.
func OpenLedger(ctx context.Context, store Store) (*Ledger, error) {
	records, err := store.LoadRecords(ctx)
	if err != nil {
		return nil, fmt.Errorf("load migration history: %w", err)
	}
	for i, rec := range records {
		if rec.Seq != int64(i+1) {
			return nil, fmt.Errorf("migration history has a gap: record %d has seq %d", i+1, rec.Seq)
		}
	}
	return &Ledger{store: store, records: records}, nil
}

// Head возвращает хеш схемы после последней применённой записи.
// До первой миграции это хеш пустого снапшота.
func (l *Ledger) Head() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.headLocked()
}

func (l *Ledger) headLocked() string {
	for i := len(l.records) - 1; i >= 0; i-- {
		if l.records[i].Applied() {
			return l.records[i].TargetHash
		}
	}
	return schema.EmptySnapshot().Hash()
}

// History возвращает копию всех записей в порядке Seq.
func (l *Ledger) History() []Record {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Record, len(l.records))
	copy(out, l.records)
	return out
}

// Propose фиксирует новую pending-запись с очередным номером.
// base и target — снапшоты, между которыми посчитаны ops.
func (l *Ledger) Propose(ctx context.Context, base, target schema.Snapshot, ops []Operation) (*Record, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	rec := Record{
		Seq:        int64(len(l.records) + 1),
		BaseHash:   base.Hash(),
		TargetHash: target.Hash(),
		Ops:        ops,
	}
	if err := l.store.SaveRecord(ctx, rec); err != nil {
		return nil, fmt.Errorf("save migration %d: %w", rec.Seq, err)
	}
	l.records = append(l.records, rec)
	out := rec
	return &out, nil
}

// Apply применяет запись с данным номером. Повторное применение уже
// применённой записи — no-op. Если база записи не равна голове леджера —
// ErrConflict, история не меняется.
//
// Если Store реализует TxStore, вся партия уходит одной транзакцией.
// Иначе операции исполняются по одной с сохранением курсора AppliedOps после
// каждой: повторный Apply после сбоя продолжит с места падения и не выполнит
// уже завершённые операции второй раз.
func (l *Ledger) Apply(ctx context.Context, seq int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if seq < 1 || seq > int64(len(l.records)) {
		return fmt.Errorf("unknown migration seq %d", seq)
	}
	rec := &l.records[seq-1]
	if rec.Applied() {
		return nil
	}
	// при возобновлении после сбоя курсор уже ненулевой — конфликт
	// проверять бессмысленно: запись частично применена именно к этой базе
	if rec.AppliedOps == 0 && rec.BaseHash != l.headLocked() {
		return ErrConflict
	}

	if tx, ok := l.store.(TxStore); ok && rec.AppliedOps == 0 && len(rec.Ops) > 0 {
		if err := tx.ExecDDLBatch(ctx, rec.Ops); err != nil {
			rec.Failed = true
			_ = l.store.SaveRecord(ctx, *rec)
			return &BackendError{Seq: rec.Seq, Op: rec.Ops[0], Err: err}
		}
	} else {
		for i := rec.AppliedOps; i < len(rec.Ops); i++ {
			if err := l.store.ExecDDL(ctx, rec.Ops[i]); err != nil {
				rec.Failed = true
				if saveErr := l.store.SaveRecord(ctx, *rec); saveErr != nil {
					return fmt.Errorf("mark migration %d failed: %v (after %w)", rec.Seq, saveErr, err)
				}
				return &BackendError{Seq: rec.Seq, Op: rec.Ops[i], Err: err}
			}
			rec.AppliedOps = i + 1
			if err := l.store.SaveRecord(ctx, *rec); err != nil {
				return fmt.Errorf("save migration %d cursor: %w", rec.Seq, err)
			}
		}
	}

	now := time.Now().UTC()
	rec.AppliedOps = len(rec.Ops)
	rec.AppliedAt = &now
	rec.Failed = false
	if err := l.store.SaveRecord(ctx, *rec); err != nil {
		return fmt.Errorf("mark migration %d applied: %w", rec.Seq, err)
	}
	return nil
}
