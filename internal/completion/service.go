package completion

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/scopedesk/backend/internal/record"
	"github.com/scopedesk/backend/internal/workspace"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	opServiceNew     = "completion.service.new"
	opActiveConfig   = "completion.active_config"
	opSaveConfig     = "completion.save_config"
	opScoreScope     = "completion.score_scope"
	opScoreScopes    = "completion.score_scopes"
	reasonBadPayload = "invalid_definition"
)

var (
	errMissingDatabase = errors.New("database handle is required")
	noOpLogger         = zap.NewNop()
)

func newServiceError(operation, reason string, cause error) error {
	return fmt.Errorf("%s.%s: %w", operation, reason, cause)
}

// ServiceConfig describes the dependencies for the completion service.
type ServiceConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
	Registry *record.Registry
	Logger   *zap.Logger
}

// Service loads weighting configs and scores scopes against them.
type Service struct {
	db       *gorm.DB
	clock    func() time.Time
	registry *record.Registry
	logger   *zap.Logger
}

// NewService validates dependencies and constructs the completion service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opServiceNew, "missing_database", errMissingDatabase)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	registry := cfg.Registry
	if registry == nil {
		registry = record.DefaultRegistry()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Service{db: cfg.Database, clock: clock, registry: registry, logger: logger}, nil
}

// ActiveDefinition returns the highest stored config version, falling back
// to the built-in default when no config has been saved yet.
func (s *Service) ActiveDefinition(ctx context.Context) (Definition, int64, error) {
	var config WeightConfig
	err := s.db.WithContext(ctx).Order("version DESC").Take(&config).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		definition, parseErr := ParseDefinition(DefaultDefinitionJSON)
		if parseErr != nil {
			return nil, 0, newServiceError(opActiveConfig, reasonBadPayload, parseErr)
		}
		return definition, 0, nil
	}
	if err != nil {
		s.logError(opActiveConfig, "query_failed", err)
		return nil, 0, newServiceError(opActiveConfig, "query_failed", err)
	}
	definition, parseErr := ParseDefinition(config.DefinitionJSON)
	if parseErr != nil {
		s.logError(opActiveConfig, reasonBadPayload, parseErr, zap.Int64("version", config.Version))
		return nil, 0, newServiceError(opActiveConfig, reasonBadPayload, parseErr)
	}
	return definition, config.Version, nil
}

// SaveDefinition stores a new config version after validating the payload
// is at least a JSON object; individual tab payloads stay tolerant.
func (s *Service) SaveDefinition(ctx context.Context, definitionJSON, updatedBy string) (int64, error) {
	if _, err := ParseDefinition(definitionJSON); err != nil {
		return 0, newServiceError(opSaveConfig, reasonBadPayload, err)
	}
	config := WeightConfig{
		DefinitionJSON:   definitionJSON,
		UpdatedBy:        updatedBy,
		CreatedAtSeconds: s.clock().UTC().Unix(),
	}
	if err := s.db.WithContext(ctx).Create(&config).Error; err != nil {
		s.logError(opSaveConfig, "insert_failed", err)
		return 0, newServiceError(opSaveConfig, "insert_failed", err)
	}
	return config.Version, nil
}

// ScoreScope builds the scope's flat data snapshot from its stored sections
// and scores it against the active definition. A section whose payload fails
// to parse contributes nothing instead of failing the computation.
func (s *Service) ScoreScope(ctx context.Context, scopeID string) (Score, error) {
	definition, _, err := s.ActiveDefinition(ctx)
	if err != nil {
		return Score{}, err
	}
	snapshot, err := s.scopeSnapshot(ctx, scopeID)
	if err != nil {
		return Score{}, err
	}
	return Compute(snapshot, definition, s.registry), nil
}

// ScoreScopes scores several scopes against one load of the active
// definition, returning a scope id to score mapping.
func (s *Service) ScoreScopes(ctx context.Context, scopeIDs []string) (map[string]Score, error) {
	definition, _, err := s.ActiveDefinition(ctx)
	if err != nil {
		return nil, err
	}
	scores := make(map[string]Score, len(scopeIDs))
	for _, scopeID := range scopeIDs {
		snapshot, err := s.scopeSnapshot(ctx, scopeID)
		if err != nil {
			return nil, newServiceError(opScoreScopes, "snapshot_failed", err)
		}
		scores[scopeID] = Compute(snapshot, definition, s.registry)
	}
	return scores, nil
}

func (s *Service) scopeSnapshot(ctx context.Context, scopeID string) (record.Snapshot, error) {
	var sections []workspace.Section
	if err := s.db.WithContext(ctx).
		Where("scope_id = ?", scopeID).
		Find(&sections).Error; err != nil {
		s.logError(opScoreScope, "section_query_failed", err, zap.String("scope_id", scopeID))
		return nil, newServiceError(opScoreScope, "section_query_failed", err)
	}
	merged := record.Snapshot{}
	for _, section := range sections {
		snapshot, err := record.ParseSnapshot(section.DataJSON)
		if err != nil {
			s.logger.Warn("skipping unparseable section snapshot",
				zap.String("scope_id", scopeID),
				zap.String("section", section.Section),
				zap.Error(err))
			continue
		}
		for key, value := range snapshot {
			merged[key] = value
		}
	}
	return merged, nil
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.logger.Error("completion service error", attrs...)
}
