package cohort

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/synaptica-ai/reporting/pkg/analytics/query"
	"github.com/synaptica-ai/reporting/pkg/common/kafka"
	"github.com/synaptica-ai/reporting/pkg/common/logger"
	"github.com/synaptica-ai/reporting/pkg/common/models"
	"github.com/synaptica-ai/reporting/pkg/observability/metrics"
)

const (
	materialStatusQueued    = "queued"
	materialStatusRunning   = "running"
	materialStatusCompleted = "completed"
	materialStatusFailed    = "failed"

	// EventCohortMaterialized is published when a materialization job finishes.
	EventCohortMaterialized = "cohort.materialized"
)

var ErrMaterializationNotFound = errors.New("cohort materialization not found")

type materializationModel struct {
	ID           string         `gorm:"primaryKey;column:id"`
	DefinitionID string         `gorm:"column:definition_id;index"`
	Kind         string         `gorm:"column:kind"`
	Spec         datatypes.JSON `gorm:"column:spec"`
	Status       string         `gorm:"column:status"`
	ResultCount  int            `gorm:"column:result_count"`
	MemberIDs    datatypes.JSON `gorm:"column:member_ids"`
	ErrorMessage string         `gorm:"column:error_message"`
	RequestedBy  string         `gorm:"column:requested_by"`
	CreatedAt    time.Time      `gorm:"column:created_at"`
	StartedAt    *time.Time     `gorm:"column:started_at"`
	CompletedAt  *time.Time     `gorm:"column:completed_at"`
}

func (materializationModel) TableName() string {
	return "cohort_materializations"
}

type MaterializationRepository struct {
	db *gorm.DB
}

func NewMaterializationRepository(db *gorm.DB) *MaterializationRepository {
	return &MaterializationRepository{db: db}
}

func (r *MaterializationRepository) AutoMigrate() error {
	return r.db.AutoMigrate(&materializationModel{})
}

func (r *MaterializationRepository) Create(ctx context.Context, model *materializationModel) error {
	return r.db.WithContext(ctx).Create(model).Error
}

func (r *MaterializationRepository) Update(ctx context.Context, id string, updates map[string]interface{}) error {
	return r.db.WithContext(ctx).Model(&materializationModel{}).Where("id = ?", id).Updates(updates).Error
}

func (r *MaterializationRepository) Get(ctx context.Context, id string) (*materializationModel, error) {
	var model materializationModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrMaterializationNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return &model, nil
}

func (r *MaterializationRepository) List(ctx context.Context, definitionID string, limit int) ([]materializationModel, error) {
	if limit <= 0 {
		limit = 50
	}
	q := r.db.WithContext(ctx).Order("created_at DESC").Limit(limit)
	if definitionID != "" {
		q = q.Where("definition_id = ?", definitionID)
	}
	var records []materializationModel
	if err := q.Find(&records).Error; err != nil {
		return nil, err
	}
	return records, nil
}

func modelToDomain(model *materializationModel, withMembers bool) models.CohortMaterialization {
	result := models.CohortMaterialization{
		ID:           model.ID,
		DefinitionID: model.DefinitionID,
		Kind:         model.Kind,
		Status:       model.Status,
		ResultCount:  model.ResultCount,
		ErrorMessage: model.ErrorMessage,
		RequestedBy:  model.RequestedBy,
		CreatedAt:    model.CreatedAt,
		StartedAt:    model.StartedAt,
		CompletedAt:  model.CompletedAt,
	}
	if withMembers && len(model.MemberIDs) > 0 {
		_ = json.Unmarshal(model.MemberIDs, &result.MemberIDs)
	}
	return result
}

// EventPublisher announces finished materializations.
type EventPublisher interface {
	PublishEvent(ctx context.Context, eventType, key string, data map[string]interface{}) error
}

// Materializer evaluates specifications in the background and stores the
// member lists. At most maxWorkers evaluations run at once.
type Materializer struct {
	repo        *MaterializationRepository
	definitions *DefinitionRepository
	service     *Service
	publisher   EventPublisher
	timeout     time.Duration
	workers     chan struct{}
	running     sync.WaitGroup
}

type MaterializerOption func(*Materializer)

func WithPublisher(p EventPublisher) MaterializerOption {
	return func(m *Materializer) {
		m.publisher = p
	}
}

func WithJobTimeout(d time.Duration) MaterializerOption {
	return func(m *Materializer) {
		m.timeout = d
	}
}

func NewMaterializer(repo *MaterializationRepository, definitions *DefinitionRepository, svc *Service, maxWorkers int, opts ...MaterializerOption) *Materializer {
	if maxWorkers <= 0 {
		maxWorkers = 1
	}
	m := &Materializer{
		repo:        repo,
		definitions: definitions,
		service:     svc,
		workers:     make(chan struct{}, maxWorkers),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	return m
}

// Enqueue records a queued job and starts it. The specification comes from the
// saved definition when DefinitionID is set.
func (m *Materializer) Enqueue(ctx context.Context, req models.CohortMaterializeRequest) (models.CohortMaterialization, error) {
	raw := req.Spec
	if req.DefinitionID != "" {
		if m.definitions == nil {
			return models.CohortMaterialization{}, fmt.Errorf("%w: %s", ErrDefinitionNotFound, req.DefinitionID)
		}
		def, err := m.definitions.Get(ctx, req.DefinitionID)
		if err != nil {
			return models.CohortMaterialization{}, err
		}
		raw = def.Spec
	}
	spec, err := query.Unmarshal(raw)
	if err != nil {
		return models.CohortMaterialization{}, err
	}
	canonical, err := query.Marshal(spec)
	if err != nil {
		return models.CohortMaterialization{}, err
	}

	model := &materializationModel{
		ID:           uuid.NewString(),
		DefinitionID: req.DefinitionID,
		Kind:         string(spec.Kind()),
		Spec:         datatypes.JSON(canonical),
		Status:       materialStatusQueued,
		RequestedBy:  req.RequestedBy,
		CreatedAt:    time.Now().UTC(),
	}
	if err := m.repo.Create(ctx, model); err != nil {
		return models.CohortMaterialization{}, err
	}

	m.running.Add(1)
	go m.run(model.ID, model.DefinitionID, spec)

	return modelToDomain(model, false), nil
}

func (m *Materializer) Get(ctx context.Context, id string) (models.CohortMaterialization, error) {
	model, err := m.repo.Get(ctx, id)
	if err != nil {
		return models.CohortMaterialization{}, err
	}
	return modelToDomain(model, true), nil
}

func (m *Materializer) List(ctx context.Context, definitionID string, limit int) ([]models.CohortMaterialization, error) {
	entries, err := m.repo.List(ctx, definitionID, limit)
	if err != nil {
		return nil, err
	}
	result := make([]models.CohortMaterialization, 0, len(entries))
	for i := range entries {
		result = append(result, modelToDomain(&entries[i], false))
	}
	return result, nil
}

// Wait blocks until every started job has finished.
func (m *Materializer) Wait() {
	m.running.Wait()
}

// HandleEvent consumes evaluation requests published on the bus. The event
// data carries either definition_id or an encoded spec envelope.
func (m *Materializer) HandleEvent(ctx context.Context, event models.Event) error {
	req := models.CohortMaterializeRequest{}
	if id, ok := event.Data["definition_id"].(string); ok {
		req.DefinitionID = id
	}
	if by, ok := event.Data["requested_by"].(string); ok {
		req.RequestedBy = by
	}
	if spec, ok := event.Data["spec"]; ok && spec != nil {
		encoded, err := json.Marshal(spec)
		if err != nil {
			return fmt.Errorf("%w: %v", kafka.ErrPoison, err)
		}
		req.Spec = encoded
	}
	job, err := m.Enqueue(ctx, req)
	if err != nil {
		if IsClientError(err) || errors.Is(err, ErrDefinitionNotFound) {
			return fmt.Errorf("%w: %v", kafka.ErrPoison, err)
		}
		return err
	}
	logger.Log.WithFields(map[string]interface{}{
		"event_id": event.ID,
		"job_id":   job.ID,
		"kind":     job.Kind,
	}).Info("Queued cohort materialization from event")
	return nil
}

func (m *Materializer) run(jobID, definitionID string, spec query.Specification) {
	defer m.running.Done()
	m.workers <- struct{}{}
	defer func() { <-m.workers }()
	metrics.MaterializationStarted()

	ctx := context.Background()
	started := time.Now().UTC()
	_ = m.repo.Update(ctx, jobID, map[string]interface{}{
		"status":     materialStatusRunning,
		"started_at": started,
	})

	evalCtx := ctx
	if m.timeout > 0 {
		var cancel context.CancelFunc
		evalCtx, cancel = context.WithTimeout(ctx, m.timeout)
		defer cancel()
	}
	result, err := m.service.Evaluate(evalCtx, spec, nil)
	if err != nil {
		m.fail(ctx, jobID, err)
		return
	}

	members, err := json.Marshal(result.Members())
	if err != nil {
		m.fail(ctx, jobID, err)
		return
	}
	completed := time.Now().UTC()
	if err := m.repo.Update(ctx, jobID, map[string]interface{}{
		"status":        materialStatusCompleted,
		"result_count":  result.Size(),
		"member_ids":    datatypes.JSON(members),
		"completed_at":  completed,
		"error_message": "",
	}); err != nil {
		m.fail(ctx, jobID, err)
		return
	}
	metrics.MaterializationFinished(materialStatusCompleted)

	if m.publisher != nil {
		err := m.publisher.PublishEvent(ctx, EventCohortMaterialized, jobID, map[string]interface{}{
			"job_id":        jobID,
			"definition_id": definitionID,
			"kind":          string(spec.Kind()),
			"result_count":  result.Size(),
			"completed_at":  completed,
		})
		if err != nil {
			logger.Log.WithError(err).WithField("job_id", jobID).Warn("Failed to announce materialization")
		}
	}
}

func (m *Materializer) fail(ctx context.Context, jobID string, err error) {
	logger.Log.WithError(err).WithField("job_id", jobID).Error("cohort materialization failed")
	metrics.MaterializationFinished(materialStatusFailed)
	completed := time.Now().UTC()
	_ = m.repo.Update(ctx, jobID, map[string]interface{}{
		"status":        materialStatusFailed,
		"error_message": err.Error(),
		"completed_at":  completed,
	})
}
