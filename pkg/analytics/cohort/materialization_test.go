package cohort

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/synaptica-ai/reporting/pkg/analytics/query"
	"github.com/synaptica-ai/reporting/pkg/common/database"
	"github.com/synaptica-ai/reporting/pkg/common/kafka"
	"github.com/synaptica-ai/reporting/pkg/common/models"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []map[string]interface{}
}

func (p *recordingPublisher) PublishEvent(_ context.Context, eventType, key string, data map[string]interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	data["type"] = eventType
	data["key"] = key
	p.events = append(p.events, data)
	return nil
}

func newRepositories(t *testing.T) (*MaterializationRepository, *DefinitionRepository) {
	t.Helper()
	conn, err := database.OpenSQLite(":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = database.Close(conn) })

	jobs := NewMaterializationRepository(conn)
	defs := NewDefinitionRepository(conn)
	if err := jobs.AutoMigrate(); err != nil {
		t.Fatalf("migrate jobs: %v", err)
	}
	if err := defs.AutoMigrate(); err != nil {
		t.Fatalf("migrate definitions: %v", err)
	}
	return jobs, defs
}

func encodeSpec(t *testing.T, spec query.Specification) json.RawMessage {
	t.Helper()
	data, err := query.Marshal(spec)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return data
}

func TestDefinitionRepository(t *testing.T) {
	_, defs := newRepositories(t)
	ctx := context.Background()

	saved, err := defs.Create(ctx, models.CohortDefinition{
		Name: "  Women  ",
		Spec: encodeSpec(t, query.GenderQuery{Females: true}),
		Tags: []string{"demographics"},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if saved.ID == "" || saved.Name != "Women" || saved.Kind != string(query.KindGender) {
		t.Fatalf("unexpected definition %+v", saved)
	}

	loaded, err := defs.Get(ctx, saved.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(loaded.Tags) != 1 || loaded.Tags[0] != "demographics" {
		t.Fatalf("tags not persisted: %+v", loaded)
	}
	if _, err := query.Unmarshal(loaded.Spec); err != nil {
		t.Fatalf("stored spec does not decode: %v", err)
	}

	list, err := defs.List(ctx, 10)
	if err != nil || len(list) != 1 {
		t.Fatalf("list = %v, %v", list, err)
	}

	if _, err := defs.Get(ctx, "missing"); !errors.Is(err, ErrDefinitionNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := defs.Create(ctx, models.CohortDefinition{Name: "bad", Spec: json.RawMessage(`{"kind":"nope"}`)}); !errors.Is(err, query.ErrInvalidSpecification) {
		t.Fatalf("expected invalid specification, got %v", err)
	}
}

func TestMaterializerStoresMembers(t *testing.T) {
	jobs, defs := newRepositories(t)
	publisher := &recordingPublisher{}
	m := NewMaterializer(jobs, defs, newTestService(), 2, WithPublisher(publisher))
	ctx := context.Background()

	def, err := defs.Create(ctx, models.CohortDefinition{Name: "men", Spec: encodeSpec(t, query.GenderQuery{Males: true})})
	if err != nil {
		t.Fatalf("create definition: %v", err)
	}

	queued, err := m.Enqueue(ctx, models.CohortMaterializeRequest{DefinitionID: def.ID, RequestedBy: "analyst"})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if queued.Status != materialStatusQueued || queued.Kind != string(query.KindGender) {
		t.Fatalf("unexpected queued job %+v", queued)
	}
	m.Wait()

	job, err := m.Get(ctx, queued.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if job.Status != materialStatusCompleted || job.ResultCount != 2 {
		t.Fatalf("unexpected job %+v", job)
	}
	if len(job.MemberIDs) != 2 || job.MemberIDs[0] != 1 || job.MemberIDs[1] != 5 {
		t.Fatalf("unexpected members %v", job.MemberIDs)
	}
	if job.StartedAt == nil || job.CompletedAt == nil {
		t.Fatalf("expected timestamps, got %+v", job)
	}

	if len(publisher.events) != 1 || publisher.events[0]["key"] != queued.ID {
		t.Fatalf("expected one materialized event, got %v", publisher.events)
	}

	listed, err := m.List(ctx, def.ID, 10)
	if err != nil || len(listed) != 1 {
		t.Fatalf("list = %v, %v", listed, err)
	}
}

func TestMaterializerRecordsFailures(t *testing.T) {
	jobs, defs := newRepositories(t)
	m := NewMaterializer(jobs, defs, newTestService(), 1)
	ctx := context.Background()

	queued, err := m.Enqueue(ctx, models.CohortMaterializeRequest{
		Spec: encodeSpec(t, query.SQLQuery{Query: "SELECT person_id FROM person"}),
	})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	m.Wait()

	job, err := m.Get(ctx, queued.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if job.Status != materialStatusFailed || job.ErrorMessage == "" {
		t.Fatalf("expected failed job, got %+v", job)
	}
}

func TestHandleEvent(t *testing.T) {
	jobs, defs := newRepositories(t)
	m := NewMaterializer(jobs, defs, newTestService(), 1)
	ctx := context.Background()

	var spec map[string]interface{}
	if err := json.Unmarshal(encodeSpec(t, query.GenderQuery{Unknown: true}), &spec); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if err := m.HandleEvent(ctx, models.Event{ID: "e1", Data: map[string]interface{}{"spec": spec}}); err != nil {
		t.Fatalf("handle: %v", err)
	}
	m.Wait()

	listed, err := m.List(ctx, "", 10)
	if err != nil || len(listed) != 1 || listed[0].ResultCount != 1 {
		t.Fatalf("list = %+v, %v", listed, err)
	}

	err = m.HandleEvent(ctx, models.Event{ID: "e2", Data: map[string]interface{}{"definition_id": "missing"}})
	if !errors.Is(err, kafka.ErrPoison) {
		t.Fatalf("expected poison error, got %v", err)
	}
}
