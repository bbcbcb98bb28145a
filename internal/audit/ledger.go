package audit

/*
Файл ledger.go реализует журнал аудита шлюза реагирования.

Ключевые особенности архитектуры:
- Audit-before-response: Record выполняет синхронный append в первичное
  файловое хранилище ДО того, как результат вызова уходит оператору.
  Ни один InvocationResult не покидает пайплайн без записанной попытки.
- Local-log Fallback: если append в файл не удался, событие целиком
  фиксируется в zap-логе — сбой хранилища не роняет вызывающего.
- Best-effort Mirror: зеркалирование в Postgres идет через неблокирующий
  канал и пакетную запись (Bulk Insert) по таймеру или при наборе пачки.
- Drain Pattern & Graceful Shutdown: при остановке буфер зеркала вычитывается
  полностью; завершение воркера — исключительно через закрытие входного канала.
*/

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/xela07ax/soc-response-gateway/internal/domain"
	"go.uber.org/zap"
)

// MirrorStorage определяет, куда зеркалируются записи (Postgres/ClickHouse).
type MirrorStorage interface {
	// WriteBatch сохраняет пачку записей за один раз
	WriteBatch(ctx context.Context, entries []Entry) error
}

// Recorder — контракт журнала для пайплайна.
type Recorder interface {
	Record(e Entry) Entry
}

type Ledger struct {
	store  *FileStore
	mirror MirrorStorage // nil — зеркало выключено
	logger *zap.Logger

	ch chan Entry // буфер зеркала
	wg sync.WaitGroup
	// closedMu закрывает гонку Record/Stop: отправка в канал идет под
	// read-lock, так что close(ch) не может разминуться с проверкой флага
	closedMu sync.RWMutex
	closed   bool

	batchSize     int
	flushInterval time.Duration
}

func NewLedger(store *FileStore, mirror MirrorStorage, bufferSize int, flushInterval time.Duration, logger *zap.Logger) *Ledger {
	if bufferSize <= 0 {
		bufferSize = 1000
	}
	if flushInterval <= 0 {
		flushInterval = time.Second
	}
	return &Ledger{
		store:         store,
		mirror:        mirror,
		logger:        logger.Named("audit"),
		ch:            make(chan Entry, bufferSize),
		batchSize:     100,
		flushInterval: flushInterval,
	}
}

// Start поднимает воркер зеркалирования (если зеркало сконфигурировано).
func (l *Ledger) Start() {
	if l.mirror == nil {
		return
	}
	l.wg.Add(1)
	go l.worker()
}

// Stop «запирает» вход в канал зеркала и ждет, пока воркер всё допишет.
// Write-lock дожидается всех Record, уже прошедших проверку флага, — после
// него отправить в закрытый канал некому.
func (l *Ledger) Stop() {
	l.closedMu.Lock()
	alreadyClosed := l.closed
	l.closed = true
	l.closedMu.Unlock()

	if l.mirror != nil && !alreadyClosed {
		close(l.ch)
		l.wg.Wait()
	}
	l.logger.Info("audit ledger stopped gracefully")
}

// Record — единственная точка записи. Проставляет id/таймстемп, синхронно
// дописывает в файл (первичное хранилище), затем неблокирующе ставит запись
// в очередь зеркала. Возвращает запись с заполненными полями.
func (l *Ledger) Record(e Entry) Entry {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	if e.EventID == "" {
		e.EventID = NewEventID(e.Timestamp)
	}

	if err := l.store.Append(e); err != nil {
		// Сбой хранилища не должен уронить вызывающего: событие обязано
		// остаться хотя бы в операционном логе
		l.logger.Error("audit store append failed, falling back to log",
			zap.String("event_id", e.EventID),
			zap.String("action", string(e.Action)),
			zap.String("actor", e.Actor.ID),
			zap.String("target", e.Target),
			zap.String("outcome", string(e.Outcome)),
			zap.Error(err))
	}

	if l.mirror == nil {
		return e
	}

	l.closedMu.RLock()
	defer l.closedMu.RUnlock()
	if l.closed {
		return e
	}

	// Load Shedding: переполненный буфер зеркала не блокирует Hot Path
	select {
	case l.ch <- e:
	default:
		l.logger.Warn("audit mirror buffer overflow, entry not mirrored",
			zap.String("event_id", e.EventID))
	}
	return e
}

func (l *Ledger) worker() {
	defer l.wg.Done()

	batch := make([]Entry, 0, l.batchSize)
	ticker := time.NewTicker(l.flushInterval)
	defer ticker.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		// Background: основной контекст на shutdown уже может быть закрыт
		if err := l.mirror.WriteBatch(context.Background(), batch); err != nil {
			l.logger.Error("audit mirror flush failed", zap.Error(err), zap.Int("batch", len(batch)))
		}
		batch = batch[:0]
	}

	for {
		select {
		case e, ok := <-l.ch:
			if !ok {
				// Канал закрыт в Stop(): вычитали остатки — финальный сброс и выход
				flush()
				l.logger.Info("audit mirror worker finished")
				return
			}
			batch = append(batch, e)
			if len(batch) >= l.batchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}

// QueryFilter — конъюнктивные фильтры выборки. Нулевые значения игнорируются.
type QueryFilter struct {
	Action  string
	ActorID string
	Target  string
	Outcome string
	From    time.Time
	To      time.Time
	Limit   int
}

// Query читает весь журнал, применяет фильтры, сортирует по убыванию времени
// и усекает до Limit.
func (l *Ledger) Query(filter QueryFilter) ([]Entry, error) {
	entries, err := l.store.ReadAll()
	if err != nil {
		return nil, err
	}

	out := entries[:0]
	for _, e := range entries {
		if filter.Action != "" && !strings.EqualFold(string(e.Action), filter.Action) {
			continue
		}
		if filter.ActorID != "" && e.Actor.ID != filter.ActorID {
			continue
		}
		if filter.Target != "" && e.Target != filter.Target {
			continue
		}
		if filter.Outcome != "" && !strings.EqualFold(string(e.Outcome), filter.Outcome) {
			continue
		}
		if !filter.From.IsZero() && e.Timestamp.Before(filter.From) {
			continue
		}
		if !filter.To.IsZero() && e.Timestamp.After(filter.To) {
			continue
		}
		out = append(out, e)
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].Timestamp.After(out[j].Timestamp)
	})

	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// Summary — агрегаты за скользящее окно.
type Summary struct {
	Window    string         `json:"window"`
	Since     time.Time      `json:"since"`
	Total     int            `json:"total"`
	ByAction  map[string]int `json:"by_action"`
	ByOutcome map[string]int `json:"by_outcome"`
	ByActor   map[string]int `json:"by_actor"`
	ByTarget  map[string]int `json:"by_target"`
}

// Summarize считает счетчики по действию, исходу, актору и цели за окно.
func (l *Ledger) Summarize(window time.Duration) (*Summary, error) {
	since := time.Now().Add(-window)
	entries, err := l.Query(QueryFilter{From: since})
	if err != nil {
		return nil, err
	}

	s := &Summary{
		Window:    window.String(),
		Since:     since,
		Total:     len(entries),
		ByAction:  map[string]int{},
		ByOutcome: map[string]int{},
		ByActor:   map[string]int{},
		ByTarget:  map[string]int{},
	}
	for _, e := range entries {
		s.ByAction[string(e.Action)]++
		s.ByOutcome[string(e.Outcome)]++
		s.ByActor[e.Actor.ID]++
		s.ByTarget[e.Target]++
	}
	return s, nil
}

// EntryFor собирает запись аудита из запроса (общая точка для пайплайна).
func EntryFor(req domain.InvocationRequest, traceID, address string) Entry {
	return Entry{
		TraceID: traceID,
		Action:  req.Action,
		Actor:   req.Actor,
		Target:  req.TargetID,
		Address: address,
	}
}
