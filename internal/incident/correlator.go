package incident

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/xela07ax/soc-response-gateway/internal/domain"
	"go.uber.org/zap"
)

// Status — конечный автомат инцидента: OPEN -> CLOSED, обратного пути нет.
type Status string

const (
	StatusOpen   Status = "OPEN"
	StatusClosed Status = "CLOSED"
)

var (
	ErrNotFound = errors.New("incident not found")
	// ErrAlreadyClosed: закрытие не-OPEN инцидента — ошибка состояния,
	// запись первого закрытия сохраняется
	ErrAlreadyClosed = errors.New("incident is already closed")
)

// ActionRecord — один шаг расследования в упорядоченном списке действий.
type ActionRecord struct {
	Timestamp time.Time      `json:"timestamp"`
	Action    domain.Action  `json:"action"`
	ActorID   string         `json:"actor_id"`
	Outcome   domain.Outcome `json:"outcome"`
	EventID   string         `json:"event_id"` // ссылка на запись аудита
}

type Note struct {
	Timestamp time.Time `json:"timestamp"`
	AuthorID  string    `json:"author_id"`
	Text      string    `json:"text"`
}

// Incident — корреляционная запись: последовательность действий против одной
// цели в рамках окна расследования. Живет ТОЛЬКО в памяти процесса —
// теряется при рестарте, это явный инвариант недолговечности.
type Incident struct {
	ID         string         `json:"id"`
	Type       string         `json:"type"`
	Target     string         `json:"target"`
	Status     Status         `json:"status"`
	Actions    []ActionRecord `json:"actions"`
	Notes      []Note         `json:"notes"`
	CreatedBy  string         `json:"created_by"`
	CreatedAt  time.Time      `json:"created_at"`
	ClosedBy   string         `json:"closed_by,omitempty"`
	ClosedAt   *time.Time     `json:"closed_at,omitempty"`
	Resolution string         `json:"resolution,omitempty"`
}

// Repository — контракт хранилища инцидентов. In-memory реализация — паритет
// с требованием недолговечности; за durable-вариантом — сюда же, интерфейс
// не прибит к корrelatorу гвоздями.
type Repository interface {
	Put(inc *Incident)
	Get(id string) (*Incident, bool)
	All() []*Incident
}

// MemoryRepository — карта под RWMutex. Single-writer-per-key семантики
// достаточно: межинцидентных блокировок не требуется.
type MemoryRepository struct {
	mu        sync.RWMutex
	incidents map[string]*Incident
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{incidents: make(map[string]*Incident)}
}

func (r *MemoryRepository) Put(inc *Incident) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.incidents[inc.ID] = inc
}

func (r *MemoryRepository) Get(id string) (*Incident, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	inc, ok := r.incidents[id]
	return inc, ok
}

func (r *MemoryRepository) All() []*Incident {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Incident, 0, len(r.incidents))
	for _, inc := range r.incidents {
		out = append(out, inc)
	}
	return out
}

// clone — глубокая копия для выдачи наружу: живой указатель из хранилища
// никогда не покидает коррелятор, читатели не гоняются с append'ами.
func (inc *Incident) clone() *Incident {
	out := *inc
	out.Actions = append([]ActionRecord(nil), inc.Actions...)
	out.Notes = append([]Note(nil), inc.Notes...)
	if inc.ClosedAt != nil {
		t := *inc.ClosedAt
		out.ClosedAt = &t
	}
	return &out
}

// Correlator выдает корреляционные идентификаторы и накапливает
// упорядоченную последовательность действий по цели.
type Correlator struct {
	// mu сериализует мутации записей и закрывает чтения: наружу уходят
	// только копии, снятые под блокировкой
	mu     sync.Mutex
	repo   Repository
	logger *zap.Logger
}

func NewCorrelator(repo Repository, logger *zap.Logger) *Correlator {
	return &Correlator{repo: repo, logger: logger.Named("incidents")}
}

// newIncident собирает запись без публикации (вызывающий держит c.mu).
// Вероятность коллизии id принята пренебрежимой — криптографических
// гарантий не требуется.
func (c *Correlator) newIncident(incType, target, actorID string) *Incident {
	now := time.Now()
	inc := &Incident{
		ID:        fmt.Sprintf("INC-%s-%s", now.UTC().Format("20060102"), uuid.NewString()[:8]),
		Type:      incType,
		Target:    target,
		Status:    StatusOpen,
		Actions:   []ActionRecord{},
		Notes:     []Note{},
		CreatedBy: actorID,
		CreatedAt: now,
	}
	c.logger.Info("incident opened",
		zap.String("id", inc.ID),
		zap.String("target", target),
		zap.String("actor", actorID))
	return inc
}

// Open создает новый инцидент и возвращает его копию.
func (c *Correlator) Open(incType, target, actorID string) *Incident {
	c.mu.Lock()
	defer c.mu.Unlock()

	inc := c.newIncident(incType, target, actorID)
	c.repo.Put(inc)
	return inc.clone()
}

// AppendAction дописывает шаг в упорядоченный список действий инцидента.
func (c *Correlator) AppendAction(id string, rec ActionRecord) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	inc, ok := c.repo.Get(id)
	if !ok {
		return ErrNotFound
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}
	inc.Actions = append(inc.Actions, rec)
	c.repo.Put(inc)
	return nil
}

// AddNote дописывает заметку оператора.
func (c *Correlator) AddNote(id, authorID, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	inc, ok := c.repo.Get(id)
	if !ok {
		return ErrNotFound
	}
	inc.Notes = append(inc.Notes, Note{
		Timestamp: time.Now(),
		AuthorID:  authorID,
		Text:      text,
	})
	c.repo.Put(inc)
	return nil
}

// Close переводит OPEN -> CLOSED. Повторное закрытие — ошибка состояния,
// запись первого закрытия остается нетронутой.
func (c *Correlator) Close(id, resolution, actorID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	inc, ok := c.repo.Get(id)
	if !ok {
		return ErrNotFound
	}
	if inc.Status != StatusOpen {
		return ErrAlreadyClosed
	}
	now := time.Now()
	inc.Status = StatusClosed
	inc.ClosedBy = actorID
	inc.ClosedAt = &now
	inc.Resolution = resolution
	c.repo.Put(inc)

	c.logger.Info("incident closed",
		zap.String("id", id),
		zap.String("actor", actorID),
		zap.String("resolution", resolution))
	return nil
}

// Get возвращает копию инцидента по id.
func (c *Correlator) Get(id string) (*Incident, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	inc, ok := c.repo.Get(id)
	if !ok {
		return nil, ErrNotFound
	}
	return inc.clone(), nil
}

// ListFilter — фильтры снапшота текущих инцидентов.
type ListFilter struct {
	Target string
	Status Status
}

// List возвращает отфильтрованный снапшот копий, новые сверху.
func (c *Correlator) List(filter ListFilter) []*Incident {
	c.mu.Lock()
	defer c.mu.Unlock()

	all := c.repo.All()
	out := make([]*Incident, 0, len(all))
	for _, inc := range all {
		if filter.Target != "" && inc.Target != filter.Target {
			continue
		}
		if filter.Status != "" && inc.Status != filter.Status {
			continue
		}
		out = append(out, inc.clone())
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// findOpen ищет живую запись открытого инцидента по цели (под c.mu).
func (c *Correlator) findOpen(target string) (*Incident, bool) {
	for _, inc := range c.repo.All() {
		if inc.Target == target && inc.Status == StatusOpen {
			return inc, true
		}
	}
	return nil, false
}

// FindOpenByTarget возвращает копию открытого инцидента по цели.
func (c *Correlator) FindOpenByTarget(target string) (*Incident, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	inc, ok := c.findOpen(target)
	if !ok {
		return nil, false
	}
	return inc.clone(), true
}

// Attach — точка входа пайплайна: находит или открывает инцидент по цели и
// дописывает действие. Возвращает id инцидента. Вся последовательность
// find-or-open-append идет под одной блокировкой: два конкурентных первых
// действия против цели не могут открыть два инцидента.
func (c *Correlator) Attach(target, incType string, rec ActionRecord) string {
	c.mu.Lock()
	defer c.mu.Unlock()

	inc, ok := c.findOpen(target)
	if !ok {
		inc = c.newIncident(incType, target, rec.ActorID)
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}
	inc.Actions = append(inc.Actions, rec)
	c.repo.Put(inc)
	return inc.ID
}
