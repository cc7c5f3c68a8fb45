package routes

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"

	"github.com/synaptica-ai/reporting/pkg/analytics/cohort"
	"github.com/synaptica-ai/reporting/pkg/analytics/dataset"
	"github.com/synaptica-ai/reporting/pkg/common/database"
	"github.com/synaptica-ai/reporting/pkg/common/models"
	"github.com/synaptica-ai/reporting/pkg/storage"
)

func testSnapshot() *storage.Snapshot {
	born := time.Date(1980, 1, 1, 0, 0, 0, 0, time.UTC)
	return &storage.Snapshot{
		People: []models.Person{
			{ID: 1, Gender: "M", Birthdate: &born},
			{ID: 2, Gender: "F"},
			{ID: 3, Gender: "M"},
			{ID: 4, Gender: "M", Voided: true},
		},
	}
}

func newRouter(t *testing.T) (*mux.Router, *cohort.Materializer) {
	t.Helper()
	conn, err := database.OpenSQLite(":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = database.Close(conn) })

	defs := cohort.NewDefinitionRepository(conn)
	jobs := cohort.NewMaterializationRepository(conn)
	if err := defs.AutoMigrate(); err != nil {
		t.Fatalf("migrate definitions: %v", err)
	}
	if err := jobs.AutoMigrate(); err != nil {
		t.Fatalf("migrate jobs: %v", err)
	}

	svc := cohort.NewService(storage.NewMemoryStore(testSnapshot()))
	materializer := cohort.NewMaterializer(jobs, defs, svc, 1)

	r := mux.NewRouter()
	api := r.PathPrefix("/api/v1").Subrouter()
	NewCohortHandler(svc, WithDefinitions(defs), WithMaterializer(materializer), WithEvaluationTimeout(time.Second)).Register(api)
	NewDatasetHandler().Register(api)
	return r, materializer
}

func do(t *testing.T, r http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body == "" {
		reader = bytes.NewReader(nil)
	} else {
		reader = bytes.NewReader([]byte(body))
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestEvaluateEndpoint(t *testing.T) {
	r, _ := newRouter(t)

	rec := do(t, r, http.MethodPost, "/api/v1/cohort/evaluate", `{"spec":{"kind":"gender","spec":{"males":true}}}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body.String())
	}
	var result models.CohortResult
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if result.Kind != "gender" || result.Count != 2 || result.CohortID == "" {
		t.Fatalf("unexpected result %+v", result)
	}

	rec = do(t, r, http.MethodPost, "/api/v1/cohort/evaluate", `{"spec":{"kind":"gender","spec":{"males":true}},"scope_ids":[3]}`)
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil || result.Count != 1 || result.MemberIDs[0] != 3 {
		t.Fatalf("scoped result %+v, %v", result, err)
	}
}

func TestEvaluateEndpointRejectsBadRequests(t *testing.T) {
	r, _ := newRouter(t)
	cases := map[string]string{
		"malformed json": `{"spec":`,
		"missing spec":   `{}`,
		"unknown kind":   `{"spec":{"kind":"nope","spec":{}}}`,
	}
	for name, body := range cases {
		if rec := do(t, r, http.MethodPost, "/api/v1/cohort/evaluate", body); rec.Code != http.StatusBadRequest {
			t.Fatalf("%s: status %d: %s", name, rec.Code, rec.Body.String())
		}
	}
}

func TestSQLEndpoints(t *testing.T) {
	r, _ := newRouter(t)

	rec := do(t, r, http.MethodPost, "/api/v1/cohort/sql/parse", `{"query":"SELECT patient_id FROM obs WHERE obs_datetime > :startDate AND location_id = :location"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("parse status %d: %s", rec.Code, rec.Body.String())
	}
	var parsed struct {
		Parameters []struct {
			Name string `json:"name"`
			Type string `json:"type"`
		} `json:"parameters"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &parsed); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(parsed.Parameters) != 2 || parsed.Parameters[0].Name != "startDate" || parsed.Parameters[0].Type != "date" {
		t.Fatalf("unexpected parameters %+v", parsed.Parameters)
	}

	if rec := do(t, r, http.MethodPost, "/api/v1/cohort/sql/parse", `{"query":"SELECT 'open"}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unterminated literal, got %d", rec.Code)
	}

	// The memory store cannot run raw SQL, which is a client-visible failure.
	if rec := do(t, r, http.MethodPost, "/api/v1/cohort/sql/execute", `{"query":"SELECT person_id FROM person"}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for raw query on memory store, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = do(t, r, http.MethodPost, "/api/v1/cohort/sql/execute", `{"query":"   "}`)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"count":0`) {
		t.Fatalf("blank query should give an empty cohort, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestDefinitionAndMaterializationEndpoints(t *testing.T) {
	r, materializer := newRouter(t)

	rec := do(t, r, http.MethodPost, "/api/v1/cohort/definitions", `{"name":"women","spec":{"kind":"gender","spec":{"females":true}}}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status %d: %s", rec.Code, rec.Body.String())
	}
	var def models.CohortDefinition
	if err := json.Unmarshal(rec.Body.Bytes(), &def); err != nil || def.ID == "" {
		t.Fatalf("decode definition %+v, %v", def, err)
	}

	if rec := do(t, r, http.MethodPost, "/api/v1/cohort/definitions", `{"spec":{"kind":"gender","spec":{}}}`); rec.Code != http.StatusBadRequest || !strings.Contains(rec.Body.String(), "name is required") {
		t.Fatalf("expected validation error, got %d: %s", rec.Code, rec.Body.String())
	}
	if rec := do(t, r, http.MethodGet, "/api/v1/cohort/definitions/missing", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	if rec := do(t, r, http.MethodGet, "/api/v1/cohort/definitions/"+def.ID, ""); rec.Code != http.StatusOK {
		t.Fatalf("get status %d", rec.Code)
	}

	rec = do(t, r, http.MethodPost, "/api/v1/cohort/materializations", `{"definition_id":"`+def.ID+`"}`)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("materialize status %d: %s", rec.Code, rec.Body.String())
	}
	var job models.CohortMaterialization
	if err := json.Unmarshal(rec.Body.Bytes(), &job); err != nil {
		t.Fatalf("decode job: %v", err)
	}
	materializer.Wait()

	rec = do(t, r, http.MethodGet, "/api/v1/cohort/materializations/"+job.ID, "")
	if err := json.Unmarshal(rec.Body.Bytes(), &job); err != nil {
		t.Fatalf("decode job: %v", err)
	}
	if job.Status != "completed" || job.ResultCount != 1 || len(job.MemberIDs) != 1 || job.MemberIDs[0] != 2 {
		t.Fatalf("unexpected job %+v", job)
	}

	if rec := do(t, r, http.MethodPost, "/api/v1/cohort/materializations", `{}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without spec or definition, got %d", rec.Code)
	}
	if rec := do(t, r, http.MethodGet, "/api/v1/cohort/materializations/missing", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestExportEndpoint(t *testing.T) {
	r, _ := newRouter(t)
	rec := do(t, r, http.MethodPost, "/api/v1/cohort/export", `{"spec":{"kind":"gender","spec":{"males":true}}}`)
	if rec.Code != http.StatusOK || rec.Header().Get("Content-Type") != "text/csv" {
		t.Fatalf("status %d, content type %q", rec.Code, rec.Header().Get("Content-Type"))
	}
	lines := strings.Split(strings.TrimSpace(rec.Body.String()), "\n")
	if len(lines) != 3 || lines[0] != "patient_id,gender,birthdate,dead" || lines[1] != "1,M,1980-01-01,false" {
		t.Fatalf("unexpected csv %q", rec.Body.String())
	}
}

type countingStore struct {
	storage.Store
	peopleCalls int
}

func (s *countingStore) People(ctx context.Context) ([]models.Person, error) {
	s.peopleCalls++
	return s.Store.People(ctx)
}

func TestExportEndpointEvaluatesOnce(t *testing.T) {
	store := &countingStore{Store: storage.NewMemoryStore(testSnapshot())}
	r := mux.NewRouter()
	NewCohortHandler(cohort.NewService(store)).Register(r)

	rec := do(t, r, http.MethodPost, "/cohort/export", `{"spec":{"kind":"gender","spec":{"females":true}}}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body.String())
	}
	if strings.TrimSpace(rec.Body.String()) != "patient_id,gender,birthdate,dead\n2,F,,false" {
		t.Fatalf("unexpected csv %q", rec.Body.String())
	}
	// one population load for the evaluation and one for the demographics
	if store.peopleCalls != 2 {
		t.Fatalf("expected 2 population loads, got %d", store.peopleCalls)
	}
}

func TestDescribeDatasetEndpoint(t *testing.T) {
	r, _ := newRouter(t)
	body := `{
		"name": "visits",
		"parameters": [{"name": "endDate", "label": "End", "type": "date"}],
		"columns": [
			{"name": "age", "type": "age", "mappings": "effectiveDate=${endDate}"},
			{"name": "when", "type": "encounter_datetime"}
		],
		"row_filters": [{"type": "basic", "encounter_type_ids": [1]}]
	}`
	rec := do(t, r, http.MethodPost, "/api/v1/datasets/describe", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body.String())
	}
	var summary dataset.Summary
	if err := json.Unmarshal(rec.Body.Bytes(), &summary); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(summary.Columns) != 2 || summary.Columns[0].Wraps != "PatientAgeData" || len(summary.Unresolved) != 0 {
		t.Fatalf("unexpected summary %+v", summary)
	}

	bad := map[string]string{
		"unknown column": `{"name":"x","columns":[{"name":"a","type":"cohort"}]}`,
		"filter type":    `{"name":"x","columns":[],"row_filters":[{"type":"cohort"}]}`,
		"missing name":   `{"columns":[]}`,
		"bad mappings":   `{"name":"x","columns":[{"name":"a","type":"age","mappings":"oops"}]}`,
	}
	for name, payload := range bad {
		if rec := do(t, r, http.MethodPost, "/api/v1/datasets/describe", payload); rec.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d: %s", name, rec.Code, rec.Body.String())
		}
	}
}
