package cohort

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/synaptica-ai/reporting/pkg/analytics/query"
	"github.com/synaptica-ai/reporting/pkg/common/models"
)

var ErrDefinitionNotFound = errors.New("cohort definition not found")

type definitionModel struct {
	ID          string         `gorm:"primaryKey;column:id"`
	Name        string         `gorm:"column:name;index"`
	Description string         `gorm:"column:description"`
	Kind        string         `gorm:"column:kind"`
	Spec        datatypes.JSON `gorm:"column:spec"`
	Tags        datatypes.JSON `gorm:"column:tags"`
	CreatedAt   time.Time      `gorm:"column:created_at"`
}

func (definitionModel) TableName() string {
	return "cohort_definitions"
}

// DefinitionRepository persists named cohort specifications.
type DefinitionRepository struct {
	db *gorm.DB
}

func NewDefinitionRepository(db *gorm.DB) *DefinitionRepository {
	return &DefinitionRepository{db: db}
}

func (r *DefinitionRepository) AutoMigrate() error {
	return r.db.AutoMigrate(&definitionModel{})
}

// Create validates the specification, stores it in canonical form and returns
// the saved definition.
func (r *DefinitionRepository) Create(ctx context.Context, def models.CohortDefinition) (models.CohortDefinition, error) {
	spec, err := query.Unmarshal(def.Spec)
	if err != nil {
		return models.CohortDefinition{}, err
	}
	canonical, err := query.Marshal(spec)
	if err != nil {
		return models.CohortDefinition{}, err
	}
	if def.ID == "" {
		def.ID = uuid.NewString()
	}
	tags, _ := json.Marshal(def.Tags)
	model := &definitionModel{
		ID:          def.ID,
		Name:        strings.TrimSpace(def.Name),
		Description: def.Description,
		Kind:        string(spec.Kind()),
		Spec:        datatypes.JSON(canonical),
		Tags:        datatypes.JSON(tags),
		CreatedAt:   time.Now().UTC(),
	}
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return models.CohortDefinition{}, err
	}
	return definitionToDomain(model), nil
}

func (r *DefinitionRepository) Get(ctx context.Context, id string) (models.CohortDefinition, error) {
	var model definitionModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.CohortDefinition{}, fmt.Errorf("%w: %s", ErrDefinitionNotFound, id)
	}
	if err != nil {
		return models.CohortDefinition{}, err
	}
	return definitionToDomain(&model), nil
}

func (r *DefinitionRepository) List(ctx context.Context, limit int) ([]models.CohortDefinition, error) {
	if limit <= 0 {
		limit = 25
	}
	var rows []definitionModel
	if err := r.db.WithContext(ctx).Order("created_at DESC").Limit(limit).Find(&rows).Error; err != nil {
		return nil, err
	}
	defs := make([]models.CohortDefinition, 0, len(rows))
	for i := range rows {
		defs = append(defs, definitionToDomain(&rows[i]))
	}
	return defs, nil
}

func definitionToDomain(model *definitionModel) models.CohortDefinition {
	var tags []string
	if len(model.Tags) > 0 {
		_ = json.Unmarshal(model.Tags, &tags)
	}
	return models.CohortDefinition{
		ID:          model.ID,
		Name:        model.Name,
		Description: model.Description,
		Kind:        model.Kind,
		Spec:        json.RawMessage(model.Spec),
		Tags:        tags,
		CreatedAt:   model.CreatedAt,
	}
}
