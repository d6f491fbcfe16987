// internal/services/character_service.go
package services

import (
	"context"
	"strings"

	apperrors "github.com/Corphon/ScreenplayStudio/internal/errors"
	"github.com/Corphon/ScreenplayStudio/internal/models"
	"github.com/Corphon/ScreenplayStudio/internal/storage"
	"github.com/Corphon/ScreenplayStudio/internal/utils"
)

// CharactersUpdate 订阅推送的角色列表
type CharactersUpdate struct {
	Characters []models.Character
	Err        error
}

// CharacterService 处理角色相关的业务逻辑
type CharacterService struct {
	store   storage.Store
	metrics *utils.APIMetrics
	logger  *utils.Logger
}

// NewCharacterService 创建角色服务
func NewCharacterService(store storage.Store, metrics *utils.APIMetrics, logger *utils.Logger) *CharacterService {
	if metrics == nil {
		metrics = utils.NewAPIMetrics()
	}
	if logger == nil {
		logger = utils.GetLogger()
	}
	return &CharacterService{store: store, metrics: metrics, logger: logger}
}

func characterQuery(projectID string) storage.Query {
	return storage.Query{Collection: storage.CharactersPath(projectID), OrderBy: "name"}
}

// ListCharacters 按名称排序列出项目角色
func (s *CharacterService) ListCharacters(ctx context.Context, projectID string) ([]models.Character, error) {
	if err := validateIDs(projectID); err != nil {
		return nil, err
	}
	docs, err := s.store.List(ctx, characterQuery(projectID))
	if err != nil {
		return nil, loadError(err, "角色列表")
	}
	return charactersFromDocs(docs)
}

// GetCharacter 获取单个角色
func (s *CharacterService) GetCharacter(ctx context.Context, projectID, characterID string) (*models.Character, error) {
	if err := validateIDs(projectID, characterID); err != nil {
		return nil, err
	}
	doc, err := s.store.Get(ctx, storage.DocPath(storage.CharactersPath(projectID), characterID))
	if err != nil {
		return nil, loadError(err, "角色")
	}
	c, err := characterFromDoc(doc)
	if err != nil {
		return nil, apperrors.NewLoadFailure("解析角色失败", err)
	}
	return &c, nil
}

// CreateCharacter 创建角色，名称必填
func (s *CharacterService) CreateCharacter(ctx context.Context, projectID string, in models.CharacterInput) (*models.Character, error) {
	if err := validateIDs(projectID); err != nil {
		return nil, err
	}
	if in.Name == nil || strings.TrimSpace(*in.Name) == "" {
		return nil, apperrors.NewValidationError("角色名称不能为空", nil)
	}

	id, err := s.store.Create(ctx, storage.CharactersPath(projectID), in.Fields())
	s.metrics.RecordStoreWrite("create", err)
	if err != nil {
		return nil, writeError(err, "角色")
	}

	s.logger.Info("角色已创建", map[string]interface{}{"project_id": projectID, "character_id": id})
	return s.GetCharacter(ctx, projectID, id)
}

// UpdateCharacter 更新角色
func (s *CharacterService) UpdateCharacter(ctx context.Context, projectID, characterID string, in models.CharacterInput) (*models.Character, error) {
	if err := validateIDs(projectID, characterID); err != nil {
		return nil, err
	}
	fields := in.Fields()
	if len(fields) == 0 {
		return nil, apperrors.NewValidationError("没有需要更新的字段", nil)
	}
	if name, ok := fields["name"].(string); ok && name == "" {
		return nil, apperrors.NewValidationError("角色名称不能为空", nil)
	}

	err := s.store.Update(ctx, storage.DocPath(storage.CharactersPath(projectID), characterID), fields)
	s.metrics.RecordStoreWrite("update", err)
	if err != nil {
		return nil, writeError(err, "角色")
	}
	return s.GetCharacter(ctx, projectID, characterID)
}

// DeleteCharacter 删除角色，不存在时不报错
func (s *CharacterService) DeleteCharacter(ctx context.Context, projectID, characterID string) error {
	if err := validateIDs(projectID, characterID); err != nil {
		return err
	}
	err := s.store.Delete(ctx, storage.DocPath(storage.CharactersPath(projectID), characterID))
	s.metrics.RecordStoreWrite("delete", err)
	return writeError(err, "角色")
}

// WatchCharacters 订阅角色列表，ctx 结束时关闭通道
func (s *CharacterService) WatchCharacters(ctx context.Context, projectID string) (<-chan CharactersUpdate, error) {
	if err := validateIDs(projectID); err != nil {
		return nil, err
	}
	ch, err := s.store.Subscribe(ctx, characterQuery(projectID))
	if err != nil {
		return nil, loadError(err, "角色订阅")
	}

	out := make(chan CharactersUpdate, 1)
	go func() {
		defer close(out)
		for snap := range ch {
			update := CharactersUpdate{}
			if snap.Err != nil {
				update.Err = apperrors.NewLoadFailure("加载角色列表失败", snap.Err)
			} else {
				update.Characters, update.Err = charactersFromDocs(snap.Docs)
			}
			select {
			case out <- update:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func characterFromDoc(doc storage.Document) (models.Character, error) {
	var c models.Character
	if err := doc.DataTo(&c); err != nil {
		return models.Character{}, err
	}
	c.ID = doc.ID
	c.CreatedAt = doc.CreateTime
	c.UpdatedAt = doc.UpdateTime
	return c, nil
}

func charactersFromDocs(docs []storage.Document) ([]models.Character, error) {
	chars := make([]models.Character, 0, len(docs))
	for _, doc := range docs {
		c, err := characterFromDoc(doc)
		if err != nil {
			return nil, apperrors.NewLoadFailure("解析角色失败", err)
		}
		chars = append(chars, c)
	}
	models.SortCharacters(chars)
	return chars, nil
}
