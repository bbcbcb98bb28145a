package incident

import (
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/xela07ax/soc-response-gateway/internal/domain"
	"go.uber.org/zap"
)

func testCorrelator() *Correlator {
	return NewCorrelator(NewMemoryRepository(), zap.NewNop())
}

func TestIncidentLifecycle(t *testing.T) {
	c := testCorrelator()

	inc := c.Open("response", "vm1", "U1")
	if !strings.HasPrefix(inc.ID, "INC-") {
		t.Errorf("ID = %q, want префикс INC-", inc.ID)
	}
	if inc.Status != StatusOpen {
		t.Fatalf("Status = %s, want OPEN", inc.Status)
	}

	if err := c.AppendAction(inc.ID, ActionRecord{Action: domain.ActionIsolate, ActorID: "U1", Outcome: domain.OutcomeSuccess}); err != nil {
		t.Fatal(err)
	}
	if err := c.AppendAction(inc.ID, ActionRecord{Action: domain.ActionCollect, ActorID: "U1", Outcome: domain.OutcomeSuccess}); err != nil {
		t.Fatal(err)
	}
	if err := c.AddNote(inc.ID, "U1", "forensics uploaded"); err != nil {
		t.Fatal(err)
	}

	if err := c.Close(inc.ID, "contained", "U1"); err != nil {
		t.Fatal(err)
	}

	got, err := c.Get(inc.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != StatusClosed {
		t.Errorf("Status = %s, want CLOSED", got.Status)
	}
	if len(got.Actions) != 2 {
		t.Errorf("Actions = %d, want 2", len(got.Actions))
	}
	// Порядок действий сохраняется
	if got.Actions[0].Action != domain.ActionIsolate || got.Actions[1].Action != domain.ActionCollect {
		t.Errorf("порядок действий нарушен: %v", got.Actions)
	}
	if len(got.Notes) != 1 || got.Notes[0].Text != "forensics uploaded" {
		t.Errorf("Notes = %v", got.Notes)
	}
	if got.ClosedAt == nil || got.ClosedBy != "U1" || got.Resolution != "contained" {
		t.Errorf("поля закрытия: %+v", got)
	}
}

// Повторное закрытие — ошибка состояния; запись первого закрытия остается.
func TestCloseTwice(t *testing.T) {
	c := testCorrelator()
	inc := c.Open("response", "vm1", "U1")

	if err := c.Close(inc.ID, "contained", "U1"); err != nil {
		t.Fatal(err)
	}
	err := c.Close(inc.ID, "other resolution", "U2")
	if !errors.Is(err, ErrAlreadyClosed) {
		t.Fatalf("второй Close err = %v, want ErrAlreadyClosed", err)
	}

	got, _ := c.Get(inc.ID)
	if got.Resolution != "contained" || got.ClosedBy != "U1" {
		t.Errorf("первое закрытие перезаписано: %+v", got)
	}
}

func TestNotFound(t *testing.T) {
	c := testCorrelator()

	if _, err := c.Get("INC-missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get err = %v, want ErrNotFound", err)
	}
	if err := c.Close("INC-missing", "", "U1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Close err = %v, want ErrNotFound", err)
	}
	if err := c.AddNote("INC-missing", "U1", "x"); !errors.Is(err, ErrNotFound) {
		t.Errorf("AddNote err = %v, want ErrNotFound", err)
	}
}

// Первое действие против цели открывает инцидент, последующие прикрепляются
// к нему же; после закрытия следующее действие открывает новый.
func TestAttach(t *testing.T) {
	c := testCorrelator()

	id1 := c.Attach("vm1", "response", ActionRecord{Action: domain.ActionStatus, ActorID: "U1", Outcome: domain.OutcomeSuccess})
	id2 := c.Attach("vm1", "response", ActionRecord{Action: domain.ActionIsolate, ActorID: "U1", Outcome: domain.OutcomeSuccess})
	if id1 != id2 {
		t.Errorf("действия по одной цели разнесены по инцидентам: %s, %s", id1, id2)
	}

	// Другая цель — другой инцидент
	id3 := c.Attach("vm2", "response", ActionRecord{Action: domain.ActionStatus, ActorID: "U1", Outcome: domain.OutcomeSuccess})
	if id3 == id1 {
		t.Error("действия по разным целям попали в один инцидент")
	}

	inc, _ := c.Get(id1)
	if len(inc.Actions) != 2 {
		t.Errorf("Actions = %d, want 2", len(inc.Actions))
	}

	if err := c.Close(id1, "done", "U1"); err != nil {
		t.Fatal(err)
	}
	id4 := c.Attach("vm1", "response", ActionRecord{Action: domain.ActionStatus, ActorID: "U1", Outcome: domain.OutcomeSuccess})
	if id4 == id1 {
		t.Error("действие прикрепилось к закрытому инциденту")
	}
}

// Наружу уходят копии: мутация результата чтения не трогает хранилище,
// а конкурентное чтение не гоняется с append'ами пайплайна.
func TestReadsReturnCopies(t *testing.T) {
	c := testCorrelator()
	id := c.Attach("vm1", "response", ActionRecord{Action: domain.ActionStatus, ActorID: "U1", Outcome: domain.OutcomeSuccess})

	got, err := c.Get(id)
	if err != nil {
		t.Fatal(err)
	}
	got.Status = StatusClosed
	got.Actions[0].ActorID = "tampered"
	got.Actions = append(got.Actions, ActionRecord{Action: domain.ActionIsolate})

	fresh, _ := c.Get(id)
	if fresh.Status != StatusOpen || len(fresh.Actions) != 1 || fresh.Actions[0].ActorID != "U1" {
		t.Errorf("мутация копии просочилась в хранилище: %+v", fresh)
	}

	listed := c.List(ListFilter{})[0]
	listed.Actions = append(listed.Actions, ActionRecord{})
	fresh, _ = c.Get(id)
	if len(fresh.Actions) != 1 {
		t.Errorf("мутация результата List просочилась в хранилище")
	}
}

// Чтение с сериализацией конкурентно дописывающему Attach: копии делают
// пару безопасной, json.Marshal не видит живой слайс.
func TestConcurrentReadDuringAttach(t *testing.T) {
	c := testCorrelator()
	done := make(chan struct{})

	go func() {
		defer close(done)
		for i := 0; i < 500; i++ {
			c.Attach("vm1", "response", ActionRecord{Action: domain.ActionStatus, ActorID: "U1", Outcome: domain.OutcomeSuccess})
		}
	}()

	for i := 0; i < 500; i++ {
		for _, inc := range c.List(ListFilter{Target: "vm1"}) {
			if _, err := json.Marshal(inc); err != nil {
				t.Fatalf("Marshal: %v", err)
			}
			got, err := c.Get(inc.ID)
			if err != nil {
				t.Fatal(err)
			}
			if _, err := json.Marshal(got); err != nil {
				t.Fatalf("Marshal: %v", err)
			}
		}
	}
	<-done
}

// Конкурентные первые действия против одной цели сходятся в один инцидент.
func TestAttachConcurrentFirstActions(t *testing.T) {
	c := testCorrelator()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Attach("vm1", "response", ActionRecord{Action: domain.ActionStatus, ActorID: "U1", Outcome: domain.OutcomeSuccess})
		}()
	}
	wg.Wait()

	open := c.List(ListFilter{Target: "vm1", Status: StatusOpen})
	if len(open) != 1 {
		t.Fatalf("открыто %d инцидентов, want 1", len(open))
	}
	if len(open[0].Actions) != 20 {
		t.Errorf("в инциденте %d действий, want 20", len(open[0].Actions))
	}
}

func TestList(t *testing.T) {
	c := testCorrelator()

	a := c.Open("response", "vm1", "U1")
	c.Open("response", "vm2", "U1")
	if err := c.Close(a.ID, "done", "U1"); err != nil {
		t.Fatal(err)
	}

	if got := c.List(ListFilter{}); len(got) != 2 {
		t.Errorf("List() = %d, want 2", len(got))
	}
	if got := c.List(ListFilter{Status: StatusOpen}); len(got) != 1 || got[0].Target != "vm2" {
		t.Errorf("List(OPEN) = %v", got)
	}
	if got := c.List(ListFilter{Target: "vm1"}); len(got) != 1 || got[0].ID != a.ID {
		t.Errorf("List(vm1) = %v", got)
	}
}
