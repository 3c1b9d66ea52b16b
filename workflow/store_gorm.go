package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"gorm.io/gorm"
)

type WorkflowDefinitionPo struct {
	ID             string `gorm:"column:id;primaryKey" json:"id"`
	Name           string `gorm:"column:name" json:"name"`
	Category       string `gorm:"column:category" json:"category"`
	Version        string `gorm:"column:version" json:"version"`
	InitialState   string `gorm:"column:initial_state" json:"initial_state"`
	States         []byte `gorm:"column:states" json:"states"`           // 状态列表,JSON
	Transitions    []byte `gorm:"column:transitions" json:"transitions"` // 流转边列表,JSON
	BusinessRules  []byte `gorm:"column:business_rules" json:"business_rules"`
	IsActive       bool   `gorm:"column:is_active" json:"is_active"`
	UsageCount     int64  `gorm:"column:usage_count" json:"usage_count"`
	OrganizationID string `gorm:"column:organization_id" json:"organization_id"`
	CreatedBy      string `gorm:"column:created_by" json:"created_by"`
	CreatedAt      int64  `gorm:"column:created_at" json:"created_at"`
	UpdatedAt      int64  `gorm:"column:updated_at" json:"updated_at"`
}

func (WorkflowDefinitionPo) TableName() string {
	return "workflow_definition"
}

type WorkflowInstancePo struct {
	ID                 int64                  `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	DefinitionID       string                 `gorm:"column:definition_id;index" json:"definition_id"`
	EntityID           string                 `gorm:"column:entity_id" json:"entity_id"`
	EntityType         string                 `gorm:"column:entity_type" json:"entity_type"`
	Title              string                 `gorm:"column:title" json:"title"`
	OrganizationID     string                 `gorm:"column:organization_id;index" json:"organization_id"`
	CurrentState       string                 `gorm:"column:current_state" json:"current_state"`
	PreviousState      string                 `gorm:"column:previous_state" json:"previous_state"`
	Status             WorkflowInstanceStatus `gorm:"column:status" json:"status"`
	ContextData        []byte                 `gorm:"column:context_data" json:"context_data"` // 实例上下文
	ProgressPercentage int64                  `gorm:"column:progress_percentage" json:"progress_percentage"`
	DueDate            *int64                 `gorm:"column:due_date" json:"due_date"`
	AssignedTo         string                 `gorm:"column:assigned_to;index" json:"assigned_to"`
	AssignedGroup      string                 `gorm:"column:assigned_group" json:"assigned_group"`
	StartedAt          int64                  `gorm:"column:started_at" json:"started_at"`
	CompletedAt        *int64                 `gorm:"column:completed_at" json:"completed_at"`
	CreatedBy          string                 `gorm:"column:created_by" json:"created_by"`
	Version            int64                  `gorm:"column:version" json:"version"` // 乐观锁版本号
	CreatedAt          int64                  `gorm:"column:created_at" json:"created_at"`
	UpdatedAt          int64                  `gorm:"column:updated_at" json:"updated_at"`
}

func (WorkflowInstancePo) TableName() string {
	return "workflow_instance"
}

type WorkflowHistoryPo struct {
	ID              int64  `gorm:"column:id;primaryKey;autoIncrement"`
	InstanceID      int64  `gorm:"column:instance_id;index"`
	FromState       string `gorm:"column:from_state"` // 创建记录为空串
	ToState         string `gorm:"column:to_state"`
	Action          string `gorm:"column:action"`
	TriggeredBy     string `gorm:"column:triggered_by"`
	TriggerType     string `gorm:"column:trigger_type"`
	Comment         string `gorm:"column:comment"`
	ActionMetadata  []byte `gorm:"column:action_metadata"`
	ContextSnapshot []byte `gorm:"column:context_snapshot"` // 流转时刻的上下文快照
	WasSuccessful   bool   `gorm:"column:was_successful"`
	ErrorMessage    string `gorm:"column:error_message"`
	DurationMs      int64  `gorm:"column:duration_ms"`
	CreatedAt       int64  `gorm:"column:created_at"`
}

func (WorkflowHistoryPo) TableName() string {
	return "workflow_history"
}

type AIInsightPo struct {
	ID              int64   `gorm:"column:id;primaryKey;autoIncrement"`
	InstanceID      int64   `gorm:"column:instance_id;index"`
	OrganizationID  string  `gorm:"column:organization_id"`
	InsightType     string  `gorm:"column:insight_type"`
	Content         []byte  `gorm:"column:content"`
	ConfidenceScore float64 `gorm:"column:confidence_score"` // 不做[0,1]校验,原样存储
	GeneratedBy     string  `gorm:"column:generated_by"`
	CreatedAt       int64   `gorm:"column:created_at"`
}

func (AIInsightPo) TableName() string {
	return "ai_insight"
}

type Pager struct {
	IsNoLimit *bool `json:"is_no_limit"`
	Page      int64 `json:"page"`
	Size      int64 `json:"size"`
	// Offset 不为nil时用offset/limit分页,优先于Page
	Offset *int64 `json:"offset"`
}

// applyPager 统一的分页处理
func applyPager(db *gorm.DB, page *Pager) (*gorm.DB, error) {
	if page == nil {
		return nil, errors.New("page is nil")
	}
	if page.IsNoLimit != nil && *page.IsNoLimit {
		// 不分页显示指定了true
		return db, nil
	}
	if page.Size == 0 {
		page.Size = 10
	}
	if page.Offset != nil {
		return db.Offset(int(*page.Offset)).Limit(int(page.Size)), nil
	}
	if page.Page == 0 {
		page.Page = 1
	}
	return db.Offset(int(page.Page-1) * int(page.Size)).Limit(int(page.Size)), nil
}

type QueryWorkflowDefinitionParams struct {
	DefinitionID   *string  `json:"definition_id"`
	CategoryIn     []string `json:"category_in"`
	IsActive       *bool    `json:"is_active"`
	OrganizationID *string  `json:"organization_id"`
	Page           *Pager   `json:"page"`
}

type UpdateWorkflowDefinitionParams struct {
	Where    *UpdateWorkflowDefinitionWhere `json:"where" validate:"required"`
	Fields   *UpdateWorkflowDefinitionField `json:"field" validate:"required"`
	LimitMax int                            `json:"limit_max" validate:"required"`
}

type UpdateWorkflowDefinitionWhere struct {
	IDIn []string `json:"id_in"`
}

type UpdateWorkflowDefinitionField struct {
	IsActive *bool `json:"is_active"`
	// UsageCountIncr 原子自增,和实例创建放在同一个事务里面
	UsageCountIncr *int64 `json:"usage_count_incr"`
}

type QueryWorkflowInstanceParams struct {
	InstanceID     *int64   `json:"instance_id"`
	DefinitionID   *string  `json:"definition_id"`
	EntityID       *string  `json:"entity_id"`
	OrganizationID *string  `json:"organization_id"`
	AssignedTo     *string  `json:"assigned_to"`
	StatusIn       []string `json:"status_in"`
	OrderbyIDAsc   *bool    `json:"orderby_id_asc"`
	Page           *Pager   `json:"page"`
}

type UpdateWorkflowInstanceParams struct {
	Where    *UpdateWorkflowInstanceWhere `json:"where" validate:"required"`
	Fields   *UpdateWorkflowInstanceField `json:"field" validate:"required"`
	LimitMax int                          `json:"limit_max" validate:"required"`
}

type UpdateWorkflowInstanceWhere struct {
	IDIn     []int64  `json:"id_in"`
	StatusIn []string `json:"status_in"`
	// Version 不为nil时带版本号条件,命中0行说明被并发修改了
	Version *int64 `json:"version"`
}

type UpdateWorkflowInstanceField struct {
	CurrentState       *string      `json:"current_state"`
	PreviousState      *string      `json:"previous_state"`
	Status             *string      `json:"status"`
	ContextData        *JSONContext `json:"context_data"`
	ProgressPercentage *int64       `json:"progress_percentage"`
	CompletedAt        *int64       `json:"completed_at"`
	AssignedTo         *string      `json:"assigned_to"`
	AssignedGroup      *string      `json:"assigned_group"`
	DueDate            *int64       `json:"due_date"`
}

type QueryWorkflowHistoryParams struct {
	InstanceID    *int64 `json:"instance_id"`
	WasSuccessful *bool  `json:"was_successful"`
	OrderbyIDAsc  *bool  `json:"orderby_id_asc"`
	Page          *Pager `json:"page"`
}

type QueryAIInsightParams struct {
	InstanceID     *int64   `json:"instance_id"`
	OrganizationID *string  `json:"organization_id"`
	InsightTypeIn  []string `json:"insight_type_in"`
	Page           *Pager   `json:"page"`
}

type workflowRepo struct {
	db *gorm.DB
}

func NewWorkflowRepo(db *gorm.DB) WorkflowRepo {
	return &workflowRepo{
		db: db,
	}
}

func (r *workflowRepo) CreateWorkflowDefinition(ctx context.Context, definition *WorkflowDefinitionPo) (*WorkflowDefinitionPo, error) {
	if definition == nil {
		return nil, fmt.Errorf("nil WorkflowDefinitionPo")
	}
	definition.CreatedAt = time.Now().Unix()
	definition.UpdatedAt = time.Now().Unix()
	if err := r.GetDBWithContext(ctx).Create(definition).Error; err != nil {
		return nil, errors.Wrapf(ErrStorageFailure, "CreateWorkflowDefinition failed, err: %v", err)
	}
	return definition, nil
}

func buildQueryWorkflowDefinitionParams(db *gorm.DB, param *QueryWorkflowDefinitionParams) (*gorm.DB, error) {
	if param == nil {
		return nil, errors.New("nil QueryWorkflowDefinitionParams")
	}
	if param.DefinitionID != nil {
		db = db.Where("id = ?", param.DefinitionID)
	}
	if len(param.CategoryIn) != 0 {
		db = db.Where("category IN ?", param.CategoryIn)
	}
	if param.IsActive != nil {
		db = db.Where("is_active = ?", *param.IsActive)
	}
	if param.OrganizationID != nil {
		// 租户自己的定义 + 共享模板(organization_id为空)
		db = db.Where("organization_id = ? OR organization_id = ''", *param.OrganizationID)
	}
	return applyPager(db, param.Page)
}

func (r *workflowRepo) QueryWorkflowDefinition(ctx context.Context, param *QueryWorkflowDefinitionParams) ([]*WorkflowDefinitionPo, error) {
	if param == nil {
		return nil, fmt.Errorf("nil QueryWorkflowDefinitionParams")
	}
	db := r.GetDBWithContext(ctx).Model(&WorkflowDefinitionPo{})
	db, err := buildQueryWorkflowDefinitionParams(db, param)
	if err != nil {
		return nil, errors.WithMessage(err, "buildQueryWorkflowDefinitionParams failed")
	}
	pos := make([]*WorkflowDefinitionPo, 0)
	if err := db.Find(&pos).Error; err != nil {
		return nil, errors.Wrapf(ErrStorageFailure, "QueryWorkflowDefinition failed, err: %v", err)
	}
	return pos, nil
}

func buildUpdateWorkflowDefinitionFields(fields *UpdateWorkflowDefinitionField) (map[string]any, error) {
	updateFields := make(map[string]any)
	if fields.IsActive != nil {
		updateFields["is_active"] = *fields.IsActive
	}
	if fields.UsageCountIncr != nil {
		// 数据库侧原子自增,进程重启和多实例部署都不会丢计数
		updateFields["usage_count"] = gorm.Expr("usage_count + ?", *fields.UsageCountIncr)
	}
	if len(updateFields) == 0 {
		return nil, errors.New("no fields to update")
	}
	updateFields["updated_at"] = time.Now().Unix()
	return updateFields, nil
}

func (r *workflowRepo) UpdateWorkflowDefinition(ctx context.Context, param *UpdateWorkflowDefinitionParams) error {
	if param == nil {
		return fmt.Errorf("nil UpdateWorkflowDefinitionParams")
	}
	if param.Where == nil || len(param.Where.IDIn) == 0 {
		return errors.New("update workflow definition need where condition, please check")
	}
	if param.Fields == nil {
		return errors.New("fields is nil")
	}
	updateFields, err := buildUpdateWorkflowDefinitionFields(param.Fields)
	if err != nil {
		return errors.WithMessage(err, "buildUpdateWorkflowDefinitionFields failed")
	}
	db := r.GetDBWithContext(ctx).Model(&WorkflowDefinitionPo{}).Where("id IN ?", param.Where.IDIn)
	if err := db.Limit(param.LimitMax).Updates(updateFields).Error; err != nil {
		return errors.Wrapf(ErrStorageFailure, "UpdateWorkflowDefinition failed, err: %v", err)
	}
	return nil
}

func (r *workflowRepo) CreateWorkflowInstance(ctx context.Context, workflowInstance *WorkflowInstancePo) (*WorkflowInstancePo, error) {
	if workflowInstance == nil {
		return nil, fmt.Errorf("nil WorkflowInstancePo")
	}
	workflowInstance.CreatedAt = time.Now().Unix()
	workflowInstance.UpdatedAt = time.Now().Unix()
	if err := r.GetDBWithContext(ctx).Create(workflowInstance).Error; err != nil {
		return nil, errors.Wrapf(ErrStorageFailure, "CreateWorkflowInstance failed, err: %v", err)
	}
	return workflowInstance, nil
}

func buildQueryWorkflowInstanceParams(db *gorm.DB, isCount bool, param *QueryWorkflowInstanceParams) (*gorm.DB, error) {
	if param == nil {
		return nil, errors.New("nil QueryWorkflowInstanceParams")
	}
	if param.InstanceID != nil {
		db = db.Where("id = ?", param.InstanceID)
	}
	if param.DefinitionID != nil {
		db = db.Where("definition_id = ?", param.DefinitionID)
	}
	if param.EntityID != nil {
		db = db.Where("entity_id = ?", param.EntityID)
	}
	if param.OrganizationID != nil {
		db = db.Where("organization_id = ?", param.OrganizationID)
	}
	if param.AssignedTo != nil {
		db = db.Where("assigned_to = ?", param.AssignedTo)
	}
	if len(param.StatusIn) != 0 {
		db = db.Where("status IN ?", param.StatusIn)
	}
	if param.OrderbyIDAsc != nil && !isCount {
		if *param.OrderbyIDAsc {
			db = db.Order("id asc")
		} else {
			db = db.Order("id desc")
		}
	}
	if !isCount {
		return applyPager(db, param.Page)
	}
	return db, nil
}

func (r *workflowRepo) QueryWorkflowInstance(ctx context.Context, param *QueryWorkflowInstanceParams) ([]*WorkflowInstancePo, error) {
	if param == nil {
		return nil, fmt.Errorf("nil QueryWorkflowInstanceParams")
	}
	db := r.GetDBWithContext(ctx).Model(&WorkflowInstancePo{})
	db, err := buildQueryWorkflowInstanceParams(db, false, param)
	if err != nil {
		return nil, errors.WithMessage(err, "buildQueryWorkflowInstanceParams failed")
	}
	pos := make([]*WorkflowInstancePo, 0)
	if err := db.Find(&pos).Error; err != nil {
		return nil, errors.Wrapf(ErrStorageFailure, "QueryWorkflowInstance failed, err: %v", err)
	}
	return pos, nil
}

func (r *workflowRepo) CountWorkflowInstance(ctx context.Context, param *QueryWorkflowInstanceParams) (int64, error) {
	if param == nil {
		return 0, fmt.Errorf("nil QueryWorkflowInstanceParams")
	}
	db := r.GetDBWithContext(ctx).Model(&WorkflowInstancePo{})
	db, err := buildQueryWorkflowInstanceParams(db, true, param)
	if err != nil {
		return 0, errors.WithMessage(err, "buildQueryWorkflowInstanceParams failed")
	}
	var count int64
	if err := db.Count(&count).Error; err != nil {
		return 0, errors.Wrapf(ErrStorageFailure, "CountWorkflowInstance failed, err: %v", err)
	}
	return count, nil
}

func buildUpdateWorkflowInstanceParams(db *gorm.DB, param *UpdateWorkflowInstanceParams) (*gorm.DB, error) {
	isHasWhere := false
	if param == nil {
		return nil, errors.New("nil UpdateWorkflowInstanceParams")
	}
	if param.Where == nil {
		return nil, errors.New("where is nil")
	}
	if param.Fields == nil {
		return nil, errors.New("fields is nil")
	}
	if len(param.Where.IDIn) > 0 {
		isHasWhere = true
		db = db.Where("id IN ?", param.Where.IDIn)
	}
	if len(param.Where.StatusIn) > 0 {
		isHasWhere = true
		db = db.Where("status IN ?", param.Where.StatusIn)
	}
	if param.Where.Version != nil {
		// 乐观锁条件,读到的版本号和写时不一致就命中0行
		db = db.Where("version = ?", *param.Where.Version)
	}
	if !isHasWhere {
		return db, errors.New("update workflow instance need where condition, please check")
	}
	return db, nil
}

func buildUpdateWorkflowInstanceFields(fields *UpdateWorkflowInstanceField) (map[string]any, error) {
	updateFields := make(map[string]any)
	if fields.CurrentState != nil {
		updateFields["current_state"] = *fields.CurrentState
	}
	if fields.PreviousState != nil {
		updateFields["previous_state"] = *fields.PreviousState
	}
	if fields.Status != nil {
		updateFields["status"] = *fields.Status
	}
	if fields.ContextData != nil {
		jsonData, err := fields.ContextData.ToBytes()
		if err != nil {
			return nil, errors.WithMessage(err, "Marshal fields.ContextData failed")
		}
		updateFields["context_data"] = jsonData
	}
	if fields.ProgressPercentage != nil {
		updateFields["progress_percentage"] = *fields.ProgressPercentage
	}
	if fields.CompletedAt != nil {
		updateFields["completed_at"] = *fields.CompletedAt
	}
	if fields.AssignedTo != nil {
		updateFields["assigned_to"] = *fields.AssignedTo
	}
	if fields.AssignedGroup != nil {
		updateFields["assigned_group"] = *fields.AssignedGroup
	}
	if fields.DueDate != nil {
		updateFields["due_date"] = *fields.DueDate
	}
	if len(updateFields) == 0 {
		return nil, errors.New("no fields to update")
	}
	// 每次写都递增版本号,配合Where.Version做乐观锁
	updateFields["version"] = gorm.Expr("version + 1")
	updateFields["updated_at"] = time.Now().Unix()
	return updateFields, nil
}

func (r *workflowRepo) UpdateWorkflowInstance(ctx context.Context, param *UpdateWorkflowInstanceParams) (int64, error) {
	if param == nil {
		return 0, fmt.Errorf("nil UpdateWorkflowInstanceParams")
	}
	db := r.GetDBWithContext(ctx).Model(&WorkflowInstancePo{})
	db, err := buildUpdateWorkflowInstanceParams(db, param)
	if err != nil {
		return 0, errors.WithMessage(err, "buildUpdateWorkflowInstanceParams failed")
	}
	updateFields, err := buildUpdateWorkflowInstanceFields(param.Fields)
	if err != nil {
		return 0, errors.WithMessage(err, "buildUpdateWorkflowInstanceFields failed")
	}
	result := db.Limit(param.LimitMax).Updates(updateFields)
	if result.Error != nil {
		return 0, errors.Wrapf(ErrStorageFailure, "UpdateWorkflowInstance failed, err: %v", result.Error)
	}
	return result.RowsAffected, nil
}

func (r *workflowRepo) DeleteWorkflowInstance(ctx context.Context, instanceID int64) error {
	if instanceID <= 0 {
		return errors.New("instanceID must be positive")
	}
	if err := r.GetDBWithContext(ctx).Where("id = ?", instanceID).Delete(&WorkflowInstancePo{}).Error; err != nil {
		return errors.Wrapf(ErrStorageFailure, "DeleteWorkflowInstance failed, err: %v", err)
	}
	return nil
}

func (r *workflowRepo) CreateWorkflowHistory(ctx context.Context, entry *WorkflowHistoryPo) (*WorkflowHistoryPo, error) {
	if entry == nil {
		return nil, fmt.Errorf("nil WorkflowHistoryPo")
	}
	entry.CreatedAt = time.Now().Unix()
	if err := r.GetDBWithContext(ctx).Create(entry).Error; err != nil {
		return nil, errors.Wrapf(ErrStorageFailure, "CreateWorkflowHistory failed, err: %v", err)
	}
	return entry, nil
}

func buildQueryWorkflowHistoryParams(db *gorm.DB, param *QueryWorkflowHistoryParams) (*gorm.DB, error) {
	if param == nil {
		return nil, errors.New("nil QueryWorkflowHistoryParams")
	}
	if param.InstanceID != nil {
		db = db.Where("instance_id = ?", param.InstanceID)
	}
	if param.WasSuccessful != nil {
		db = db.Where("was_successful = ?", *param.WasSuccessful)
	}
	// 历史顺序依赖自增ID,同一实例内的提交顺序就是审计顺序
	if param.OrderbyIDAsc != nil {
		if *param.OrderbyIDAsc {
			db = db.Order("id asc")
		} else {
			db = db.Order("id desc")
		}
	}
	return applyPager(db, param.Page)
}

func (r *workflowRepo) QueryWorkflowHistory(ctx context.Context, param *QueryWorkflowHistoryParams) ([]*WorkflowHistoryPo, error) {
	if param == nil {
		return nil, fmt.Errorf("nil QueryWorkflowHistoryParams")
	}
	db := r.GetDBWithContext(ctx).Model(&WorkflowHistoryPo{})
	db, err := buildQueryWorkflowHistoryParams(db, param)
	if err != nil {
		return nil, errors.WithMessage(err, "buildQueryWorkflowHistoryParams failed")
	}
	pos := make([]*WorkflowHistoryPo, 0)
	if err := db.Find(&pos).Error; err != nil {
		return nil, errors.Wrapf(ErrStorageFailure, "QueryWorkflowHistory failed, err: %v", err)
	}
	return pos, nil
}

func (r *workflowRepo) DeleteWorkflowHistoryByInstance(ctx context.Context, instanceID int64) error {
	if instanceID <= 0 {
		return errors.New("instanceID must be positive")
	}
	if err := r.GetDBWithContext(ctx).Where("instance_id = ?", instanceID).Delete(&WorkflowHistoryPo{}).Error; err != nil {
		return errors.Wrapf(ErrStorageFailure, "DeleteWorkflowHistoryByInstance failed, err: %v", err)
	}
	return nil
}

func (r *workflowRepo) CreateAIInsight(ctx context.Context, insight *AIInsightPo) (*AIInsightPo, error) {
	if insight == nil {
		return nil, fmt.Errorf("nil AIInsightPo")
	}
	insight.CreatedAt = time.Now().Unix()
	if err := r.GetDBWithContext(ctx).Create(insight).Error; err != nil {
		return nil, errors.Wrapf(ErrStorageFailure, "CreateAIInsight failed, err: %v", err)
	}
	return insight, nil
}

func buildQueryAIInsightParams(db *gorm.DB, param *QueryAIInsightParams) (*gorm.DB, error) {
	if param == nil {
		return nil, errors.New("nil QueryAIInsightParams")
	}
	if param.InstanceID != nil {
		db = db.Where("instance_id = ?", param.InstanceID)
	}
	if param.OrganizationID != nil {
		db = db.Where("organization_id = ?", param.OrganizationID)
	}
	if len(param.InsightTypeIn) != 0 {
		db = db.Where("insight_type IN ?", param.InsightTypeIn)
	}
	return applyPager(db, param.Page)
}

func (r *workflowRepo) QueryAIInsight(ctx context.Context, param *QueryAIInsightParams) ([]*AIInsightPo, error) {
	if param == nil {
		return nil, fmt.Errorf("nil QueryAIInsightParams")
	}
	db := r.GetDBWithContext(ctx).Model(&AIInsightPo{})
	db, err := buildQueryAIInsightParams(db, param)
	if err != nil {
		return nil, errors.WithMessage(err, "buildQueryAIInsightParams failed")
	}
	pos := make([]*AIInsightPo, 0)
	if err := db.Find(&pos).Error; err != nil {
		return nil, errors.Wrapf(ErrStorageFailure, "QueryAIInsight failed, err: %v", err)
	}
	return pos, nil
}

func (r *workflowRepo) DeleteAIInsightByInstance(ctx context.Context, instanceID int64) error {
	if instanceID <= 0 {
		return errors.New("instanceID must be positive")
	}
	if err := r.GetDBWithContext(ctx).Where("instance_id = ?", instanceID).Delete(&AIInsightPo{}).Error; err != nil {
		return errors.Wrapf(ErrStorageFailure, "DeleteAIInsightByInstance failed, err: %v", err)
	}
	return nil
}

type contextKey string

const (
	transactionContextKey contextKey = "transaction"
)

func (r *workflowRepo) GetDBWithContext(ctx context.Context) *gorm.DB {
	tx := ctx.Value(transactionContextKey)
	if tx == nil {
		// 没有事务，直接返回db即可
		return r.db.WithContext(ctx)
	}
	return tx.(*gorm.DB)
}

func (r *workflowRepo) Transaction(ctx context.Context, fn func(ctx context.Context) error) error {
	ctxTX := ctx.Value(transactionContextKey)
	var err error
	if ctxTX == nil {
		tx := r.db.Begin()
		defer func() {
			if err != nil {
				tx.Rollback()
			} else {
				tx.Commit()
			}
		}()
		newCtx := context.WithValue(ctx, transactionContextKey, tx)
		err = fn(newCtx)
		return err
	}
	// 已经在事务里面,直接复用,嵌套调用不开新事务
	return fn(ctx)
}

// ---- Po <-> entity 转换 ----

func definitionToPo(d *WorkflowDefinition) (*WorkflowDefinitionPo, error) {
	statesBytes, err := json.Marshal(d.States)
	if err != nil {
		return nil, errors.WithMessage(err, "Marshal states failed")
	}
	transitionsBytes, err := json.Marshal(d.Transitions)
	if err != nil {
		return nil, errors.WithMessage(err, "Marshal transitions failed")
	}
	var rulesBytes []byte
	if d.BusinessRules != nil {
		rulesBytes = d.BusinessRules.ToBytesWithoutError()
	}
	return &WorkflowDefinitionPo{
		ID:             d.ID,
		Name:           d.Name,
		Category:       d.Category,
		Version:        d.Version,
		InitialState:   d.InitialState,
		States:         statesBytes,
		Transitions:    transitionsBytes,
		BusinessRules:  rulesBytes,
		IsActive:       d.IsActive,
		UsageCount:     d.UsageCount,
		OrganizationID: d.OrganizationID,
		CreatedBy:      d.CreatedBy,
		CreatedAt:      d.CreatedAt,
		UpdatedAt:      d.UpdatedAt,
	}, nil
}

func definitionFromPo(po *WorkflowDefinitionPo) (*WorkflowDefinition, error) {
	states := make([]*StateDefinition, 0)
	if len(po.States) > 0 {
		if err := json.Unmarshal(po.States, &states); err != nil {
			return nil, errors.WithMessagef(err, "Unmarshal states failed, definitionID: %s", po.ID)
		}
	}
	transitions := make([]*TransitionDefinition, 0)
	if len(po.Transitions) > 0 {
		if err := json.Unmarshal(po.Transitions, &transitions); err != nil {
			return nil, errors.WithMessagef(err, "Unmarshal transitions failed, definitionID: %s", po.ID)
		}
	}
	return &WorkflowDefinition{
		ID:             po.ID,
		Name:           po.Name,
		Category:       po.Category,
		Version:        po.Version,
		InitialState:   po.InitialState,
		States:         states,
		Transitions:    transitions,
		BusinessRules:  NewJSONContext(po.BusinessRules),
		IsActive:       po.IsActive,
		UsageCount:     po.UsageCount,
		OrganizationID: po.OrganizationID,
		CreatedBy:      po.CreatedBy,
		CreatedAt:      po.CreatedAt,
		UpdatedAt:      po.UpdatedAt,
	}, nil
}

func instanceFromPo(po *WorkflowInstancePo) *WorkflowInstance {
	return &WorkflowInstance{
		ID:                 po.ID,
		DefinitionID:       po.DefinitionID,
		EntityID:           po.EntityID,
		EntityType:         po.EntityType,
		Title:              po.Title,
		OrganizationID:     po.OrganizationID,
		CurrentState:       po.CurrentState,
		PreviousState:      po.PreviousState,
		Status:             po.Status,
		ContextData:        NewJSONContext(po.ContextData),
		ProgressPercentage: po.ProgressPercentage,
		DueDate:            po.DueDate,
		AssignedTo:         po.AssignedTo,
		AssignedGroup:      po.AssignedGroup,
		StartedAt:          po.StartedAt,
		CompletedAt:        po.CompletedAt,
		CreatedBy:          po.CreatedBy,
		Version:            po.Version,
		CreatedAt:          po.CreatedAt,
		UpdatedAt:          po.UpdatedAt,
	}
}

func historyFromPo(po *WorkflowHistoryPo) *WorkflowHistoryEntry {
	return &WorkflowHistoryEntry{
		ID:              po.ID,
		InstanceID:      po.InstanceID,
		FromState:       po.FromState,
		ToState:         po.ToState,
		Action:          po.Action,
		TriggeredBy:     po.TriggeredBy,
		TriggerType:     po.TriggerType,
		Comment:         po.Comment,
		ActionMetadata:  NewJSONContext(po.ActionMetadata),
		ContextSnapshot: NewJSONContext(po.ContextSnapshot),
		WasSuccessful:   po.WasSuccessful,
		ErrorMessage:    po.ErrorMessage,
		DurationMs:      po.DurationMs,
		CreatedAt:       po.CreatedAt,
	}
}

func insightFromPo(po *AIInsightPo) *AIInsight {
	return &AIInsight{
		ID:              po.ID,
		InstanceID:      po.InstanceID,
		OrganizationID:  po.OrganizationID,
		InsightType:     po.InsightType,
		Content:         NewJSONContext(po.Content),
		ConfidenceScore: po.ConfidenceScore,
		GeneratedBy:     po.GeneratedBy,
		CreatedAt:       po.CreatedAt,
	}
}
