package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// 业务规则里面引擎会消费的key
// required_fields: 创建实例时上下文必须带的字段列表
// auto_assign: 状态名 -> 处理组, 进入状态时自动设置assigned_group
const (
	BusinessRuleKeyRequiredFields = "required_fields"
	BusinessRuleKeyAutoAssign     = "auto_assign"
)

// 实例锁的最大持有时间,引擎的操作都是短事务,1分钟足够兜底
const instanceLockMaxDuration = 1 * time.Minute

func instanceOpLockKey(instanceID int64) string {
	return fmt.Sprintf("workflow_instance_op_%d", instanceID)
}

// wrapLockContention 锁没拿到对调用方来说和版本冲突是同一类错误: 稍后重试
func wrapLockContention(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, LockFailedError) {
		return errors.Wrapf(ErrConcurrentModification, "lock contention: %v", err)
	}
	return err
}

type CreateDefinitionReq struct {
	DefinitionID string                  `json:"definition_id" validate:"required"`
	Name         string                  `json:"name" validate:"required"`
	Category     string                  `json:"category"`
	Version      string                  `json:"version"`
	InitialState string                  `json:"initial_state" validate:"required"`
	States       []*StateDefinition      `json:"states" validate:"required,min=1,dive,required"`
	Transitions  []*TransitionDefinition `json:"transitions" validate:"dive,required"`
	// BusinessRules 业务规则,开放结构,引擎按需消费
	BusinessRules map[string]any `json:"business_rules"`
	// OrganizationID 为空表示共享模板
	OrganizationID string `json:"organization_id"`
	CreatedBy      string `json:"created_by" validate:"required"`
}

type CreateInstanceReq struct {
	DefinitionID string `json:"definition_id" validate:"required"`
	EntityID     string `json:"entity_id" validate:"required"`
	EntityType   string `json:"entity_type"`
	Title        string `json:"title"`
	// ContextData 初始业务变量,可以为空
	ContextData map[string]any `json:"context_data"`
	AssignedTo  string         `json:"assigned_to"`
	// DueDate 可选,单位秒
	DueDate        *int64 `json:"due_date"`
	OrganizationID string `json:"organization_id" validate:"required"`
	CreatedBy      string `json:"created_by" validate:"required"`
	TriggerType    string `json:"trigger_type"`
}

type ListForUserParams struct {
	UserID         string `json:"user_id" validate:"required"`
	OrganizationID string `json:"organization_id" validate:"required"`
	// Status 可选,按实例状态过滤
	Status *string `json:"status"`
	Limit  int64   `json:"limit"`
	Offset int64   `json:"offset"`
}

type AdvanceReq struct {
	InstanceID int64  `json:"instance_id" validate:"gt=0"`
	Action     string `json:"action" validate:"required"`
	UserID     string `json:"user_id" validate:"required"`
	Comment    string `json:"comment"`
	// Data 合并进实例上下文,只覆盖指定的key
	Data map[string]any `json:"data"`
	// ActionMetadata 附加的审计信息,引擎不解释
	ActionMetadata map[string]any `json:"action_metadata"`
	TriggerType    string         `json:"trigger_type"`
}

type SetContextValueReq struct {
	InstanceID     int64    `json:"instance_id" validate:"gt=0"`
	OrganizationID string   `json:"organization_id" validate:"required"`
	Keys           []string `json:"keys" validate:"required,min=1"`
	Value          any      `json:"value"`
}

type PauseResumeReq struct {
	InstanceID     int64  `json:"instance_id" validate:"gt=0"`
	OrganizationID string `json:"organization_id" validate:"required"`
	UserID         string `json:"user_id" validate:"required"`
	Comment        string `json:"comment"`
}

type AttachInsightReq struct {
	InstanceID  int64          `json:"instance_id" validate:"gt=0"`
	InsightType string         `json:"insight_type" validate:"required"`
	Content     map[string]any `json:"content"`
	// ConfidenceScore 期望[0,1],超出不拦截,原样存储
	ConfidenceScore float64 `json:"confidence_score"`
	GeneratedBy     string  `json:"generated_by" validate:"required"`
	OrganizationID  string  `json:"organization_id" validate:"required"`
}

type QueryInsightsParams struct {
	InstanceID     int64  `json:"instance_id" validate:"gt=0"`
	OrganizationID string `json:"organization_id" validate:"required"`
	Limit          int64  `json:"limit"`
}

func (s *WorkflowEngineImpl) CreateDefinition(ctx context.Context, req *CreateDefinitionReq) (*WorkflowDefinition, error) {
	if err := validatorUtil.Struct(req); err != nil {
		return nil, errors.Wrapf(ErrWorkflowParamInvalid, "CreateDefinition failed, req: %v, err: %v", req, err)
	}
	if err := checkDefinitionGraph(req); err != nil {
		return nil, errors.Wrapf(ErrWorkflowParamInvalid, "CreateDefinition failed, definitionID: %s, err: %v", req.DefinitionID, err)
	}

	definition := &WorkflowDefinition{
		ID:             req.DefinitionID,
		Name:           req.Name,
		Category:       req.Category,
		Version:        req.Version,
		InitialState:   req.InitialState,
		States:         req.States,
		Transitions:    req.Transitions,
		BusinessRules:  NewJSONContextFromMap(req.BusinessRules),
		IsActive:       true,
		OrganizationID: req.OrganizationID,
		CreatedBy:      req.CreatedBy,
	}
	po, err := definitionToPo(definition)
	if err != nil {
		return nil, errors.WithMessagef(err, "definitionToPo failed, definitionID: %s", req.DefinitionID)
	}
	created, err := s.repo.CreateWorkflowDefinition(ctx, po)
	if err != nil {
		return nil, errors.WithMessagef(err, "CreateWorkflowDefinition failed, definitionID: %s", req.DefinitionID)
	}
	s.defCache.invalidate(req.DefinitionID)
	return definitionFromPo(created)
}

// checkDefinitionGraph 定义静态检查
// 初始状态必须在states里面,状态名唯一,流转边引用的状态必须存在
func checkDefinitionGraph(req *CreateDefinitionReq) error {
	stateNames := make(map[string]struct{})
	for _, st := range req.States {
		if _, ok := stateNames[st.Name]; ok {
			return errors.Errorf("duplicate state name: %s", st.Name)
		}
		stateNames[st.Name] = struct{}{}
	}
	if _, ok := stateNames[req.InitialState]; !ok {
		return errors.Errorf("initial_state %q not in states", req.InitialState)
	}
	for _, t := range req.Transitions {
		if _, ok := stateNames[t.From]; !ok {
			return errors.Errorf("transition from unknown state: %s", t.From)
		}
		if _, ok := stateNames[t.To]; !ok {
			return errors.Errorf("transition to unknown state: %s", t.To)
		}
	}
	return nil
}

// loadDefinition 不带is_active过滤的定义加载,存量实例的流转和状态查询走这里
// 停用只挡新实例的创建
func (s *WorkflowEngineImpl) loadDefinition(ctx context.Context, definitionID string) (*WorkflowDefinition, error) {
	if cached, ok := s.defCache.get(definitionID); ok {
		return cached, nil
	}
	pos, err := s.repo.QueryWorkflowDefinition(ctx, &QueryWorkflowDefinitionParams{
		DefinitionID: &definitionID,
		Page: &Pager{
			Page: 1,
			Size: 1,
		},
	})
	if err != nil {
		return nil, errors.WithMessagef(err, "QueryWorkflowDefinition failed, definitionID: %s", definitionID)
	}
	if len(pos) == 0 {
		return nil, errors.Wrapf(ErrWorkflowDefinitionNotFound, "definitionID: %s", definitionID)
	}
	definition, err := definitionFromPo(pos[0])
	if err != nil {
		return nil, errors.WithMessagef(err, "definitionFromPo failed, definitionID: %s", definitionID)
	}
	s.defCache.put(definitionID, definition)
	return definition, nil
}

func (s *WorkflowEngineImpl) GetActiveDefinition(ctx context.Context, definitionID string) (*WorkflowDefinition, error) {
	if definitionID == "" {
		return nil, errors.Wrap(ErrWorkflowParamInvalid, "definitionID is empty")
	}
	definition, err := s.loadDefinition(ctx, definitionID)
	if err != nil {
		return nil, err
	}
	if !definition.IsActive {
		// 停用的定义对调用方来说等价于不存在
		return nil, errors.Wrapf(ErrWorkflowDefinitionNotFound, "definition %s is inactive", definitionID)
	}
	return definition, nil
}

func (s *WorkflowEngineImpl) SetDefinitionActive(ctx context.Context, definitionID string, active bool) error {
	if definitionID == "" {
		return errors.Wrap(ErrWorkflowParamInvalid, "definitionID is empty")
	}
	if _, err := s.loadDefinition(ctx, definitionID); err != nil {
		return errors.WithMessagef(err, "SetDefinitionActive failed, definitionID: %s", definitionID)
	}
	err := s.repo.UpdateWorkflowDefinition(ctx, &UpdateWorkflowDefinitionParams{
		Where: &UpdateWorkflowDefinitionWhere{
			IDIn: []string{definitionID},
		},
		Fields: &UpdateWorkflowDefinitionField{
			IsActive: Bool(active),
		},
		LimitMax: 1,
	})
	if err != nil {
		return errors.WithMessagef(err, "UpdateWorkflowDefinition failed, definitionID: %s", definitionID)
	}
	s.defCache.invalidate(definitionID)
	return nil
}

func (s *WorkflowEngineImpl) CreateInstance(ctx context.Context, req *CreateInstanceReq) (*WorkflowInstance, error) {
	if err := validatorUtil.Struct(req); err != nil {
		return nil, errors.Wrapf(ErrWorkflowParamInvalid, "CreateInstance failed, req: %v, err: %v", req, err)
	}
	definition, err := s.GetActiveDefinition(ctx, req.DefinitionID)
	if err != nil {
		return nil, errors.WithMessagef(err, "GetActiveDefinition failed, definitionID: %s", req.DefinitionID)
	}

	contextData := NewJSONContextFromMap(req.ContextData)
	if err := checkRequiredFields(definition, contextData); err != nil {
		return nil, errors.Wrapf(ErrWorkflowParamInvalid, "CreateInstance failed, definitionID: %s, err: %v", req.DefinitionID, err)
	}

	// 进度按初始状态算,一般是0
	progress, _ := definition.ComputeProgress(definition.InitialState)
	assignedGroup, _ := definition.BusinessRules.GetString(BusinessRuleKeyAutoAssign, definition.InitialState)

	triggerType := req.TriggerType
	if triggerType == "" {
		triggerType = TriggerTypeManual
	}

	var created *WorkflowInstancePo
	// 实例/历史/usage_count三个写一个事务,部分落库是这个引擎绝对不能出现的情况
	err = s.repo.Transaction(ctx, func(ctx context.Context) error {
		var err error
		created, err = s.repo.CreateWorkflowInstance(ctx, &WorkflowInstancePo{
			DefinitionID:       req.DefinitionID,
			EntityID:           req.EntityID,
			EntityType:         req.EntityType,
			Title:              req.Title,
			OrganizationID:     req.OrganizationID,
			CurrentState:       definition.InitialState,
			Status:             WorkflowInstanceStatusActive,
			ContextData:        contextData.ToBytesWithoutError(),
			ProgressPercentage: progress,
			DueDate:            req.DueDate,
			AssignedTo:         req.AssignedTo,
			AssignedGroup:      assignedGroup,
			StartedAt:          time.Now().Unix(),
			CreatedBy:          req.CreatedBy,
		})
		if err != nil {
			return errors.WithMessagef(err, "CreateWorkflowInstance failed, definitionID: %s", req.DefinitionID)
		}
		_, err = s.repo.CreateWorkflowHistory(ctx, &WorkflowHistoryPo{
			InstanceID:      created.ID,
			FromState:       "", // 创建记录没有来源状态
			ToState:         definition.InitialState,
			Action:          ActionCreate,
			TriggeredBy:     req.CreatedBy,
			TriggerType:     triggerType,
			ContextSnapshot: contextData.Clone().ToBytesWithoutError(),
			WasSuccessful:   true,
		})
		if err != nil {
			return errors.WithMessagef(err, "CreateWorkflowHistory failed, instanceID: %d", created.ID)
		}
		err = s.repo.UpdateWorkflowDefinition(ctx, &UpdateWorkflowDefinitionParams{
			Where: &UpdateWorkflowDefinitionWhere{
				IDIn: []string{req.DefinitionID},
			},
			Fields: &UpdateWorkflowDefinitionField{
				UsageCountIncr: Int64(1),
			},
			LimitMax: 1,
		})
		if err != nil {
			return errors.WithMessagef(err, "increment usage_count failed, definitionID: %s", req.DefinitionID)
		}
		return nil
	})
	if err != nil {
		return nil, errors.WithMessagef(err, "CreateInstance failed, definitionID: %s", req.DefinitionID)
	}
	// usage_count变了,下次读定义取最新的
	s.defCache.invalidate(req.DefinitionID)
	return instanceFromPo(created), nil
}

// checkRequiredFields 业务规则required_fields检查,缺字段不允许创建实例
func checkRequiredFields(definition *WorkflowDefinition, contextData *JSONContext) error {
	requiredFields, ok := definition.BusinessRules.GetStringSlice(BusinessRuleKeyRequiredFields)
	if !ok {
		return nil
	}
	for _, field := range requiredFields {
		if _, exists := contextData.Get(strings.Split(field, ".")...); !exists {
			return errors.Errorf("required context field %q missing", field)
		}
	}
	return nil
}

// queryInstanceByID 按ID查实例,organizationID不为nil时带租户过滤
func (s *WorkflowEngineImpl) queryInstanceByID(ctx context.Context, instanceID int64, organizationID *string) (*WorkflowInstancePo, error) {
	pos, err := s.repo.QueryWorkflowInstance(ctx, &QueryWorkflowInstanceParams{
		InstanceID:     &instanceID,
		OrganizationID: organizationID,
		Page: &Pager{
			Page: 1,
			Size: 1,
		},
	})
	if err != nil {
		return nil, errors.WithMessagef(err, "QueryWorkflowInstance failed, instanceID: %d", instanceID)
	}
	if len(pos) == 0 {
		return nil, errors.Wrapf(ErrWorkflowInstanceNotFound, "instanceID: %d", instanceID)
	}
	return pos[0], nil
}

func (s *WorkflowEngineImpl) GetStatus(ctx context.Context, instanceID int64) (*InstanceStatusView, error) {
	if instanceID <= 0 {
		return nil, errors.Wrapf(ErrWorkflowParamInvalid, "GetStatus failed, instanceID: %d", instanceID)
	}
	po, err := s.queryInstanceByID(ctx, instanceID, nil)
	if err != nil {
		return nil, err
	}
	definition, err := s.loadDefinition(ctx, po.DefinitionID)
	if err != nil {
		return nil, errors.WithMessagef(err, "loadDefinition failed, instanceID: %d, definitionID: %s", instanceID, po.DefinitionID)
	}

	historyPos, err := s.repo.QueryWorkflowHistory(ctx, &QueryWorkflowHistoryParams{
		InstanceID:   &instanceID,
		OrderbyIDAsc: Bool(false),
		Page: &Pager{
			Page: 1,
			Size: 10,
		},
	})
	if err != nil {
		return nil, errors.WithMessagef(err, "QueryWorkflowHistory failed, instanceID: %d", instanceID)
	}
	recentHistory := make([]*WorkflowHistoryEntry, 0, len(historyPos))
	for _, h := range historyPos {
		recentHistory = append(recentHistory, historyFromPo(h))
	}

	return &InstanceStatusView{
		Instance:         instanceFromPo(po),
		AvailableActions: definition.AvailableActions(po.CurrentState),
		RecentHistory:    recentHistory,
	}, nil
}

func (s *WorkflowEngineImpl) ListForUser(ctx context.Context, params *ListForUserParams) ([]*WorkflowInstance, error) {
	if err := validatorUtil.Struct(params); err != nil {
		return nil, errors.Wrapf(ErrWorkflowParamInvalid, "ListForUser failed, params: %v, err: %v", params, err)
	}
	queryParams := buildListForUserQueryParams(params)
	queryParams.Page = &Pager{
		Size:   params.Limit,
		Offset: Int64(params.Offset),
	}
	if params.Limit <= 0 {
		queryParams.Page.Size = 20
	}
	queryParams.OrderbyIDAsc = Bool(false)

	pos, err := s.repo.QueryWorkflowInstance(ctx, queryParams)
	if err != nil {
		return nil, errors.WithMessagef(err, "QueryWorkflowInstance failed, userID: %s", params.UserID)
	}
	ret := make([]*WorkflowInstance, 0, len(pos))
	for _, po := range pos {
		ret = append(ret, instanceFromPo(po))
	}
	return ret, nil
}

func (s *WorkflowEngineImpl) CountInstances(ctx context.Context, params *ListForUserParams) (int64, error) {
	if err := validatorUtil.Struct(params); err != nil {
		return 0, errors.Wrapf(ErrWorkflowParamInvalid, "CountInstances failed, params: %v, err: %v", params, err)
	}
	count, err := s.repo.CountWorkflowInstance(ctx, buildListForUserQueryParams(params))
	if err != nil {
		return 0, errors.WithMessagef(err, "CountWorkflowInstance failed, userID: %s", params.UserID)
	}
	return count, nil
}

// buildListForUserQueryParams 租户过滤是强制的,绝不能返回别的租户的实例
func buildListForUserQueryParams(params *ListForUserParams) *QueryWorkflowInstanceParams {
	queryParams := &QueryWorkflowInstanceParams{
		AssignedTo:     &params.UserID,
		OrganizationID: &params.OrganizationID,
	}
	if params.Status != nil {
		queryParams.StatusIn = []string{*params.Status}
	}
	return queryParams
}

func (s *WorkflowEngineImpl) Advance(ctx context.Context, req *AdvanceReq) (*WorkflowInstance, error) {
	if err := validatorUtil.Struct(req); err != nil {
		return nil, errors.Wrapf(ErrWorkflowParamInvalid, "Advance failed, req: %v, err: %v", req, err)
	}
	startTime := time.Now()
	triggerType := req.TriggerType
	if triggerType == "" {
		triggerType = TriggerTypeManual
	}

	var updated *WorkflowInstance
	err := s.executeLock.NonBlockingSynchronized(ctx,
		instanceOpLockKey(req.InstanceID),
		instanceLockMaxDuration,
		func(ctx context.Context) error {
			po, err := s.queryInstanceByID(ctx, req.InstanceID, nil)
			if err != nil {
				return err
			}
			if po.Status != WorkflowInstanceStatusActive {
				// 拿到锁之后的拒绝要留审计记录,不能悄悄消失
				s.recordRejectedAdvance(ctx, po, req, triggerType,
					fmt.Sprintf("instance status is %s", po.Status))
				return errors.Wrapf(ErrWorkflowInstanceNotActive,
					"instanceID: %d, status: %s", req.InstanceID, po.Status)
			}

			definition, err := s.loadDefinition(ctx, po.DefinitionID)
			if err != nil {
				return errors.WithMessagef(err, "loadDefinition failed, definitionID: %s", po.DefinitionID)
			}

			contextData := NewJSONContext(po.ContextData)
			transition, err := s.validator.ResolveTransition(definition, po.CurrentState, req.Action, contextData)
			if err != nil {
				s.recordRejectedAdvance(ctx, po, req, triggerType, err.Error())
				return err
			}

			// 合并data,只覆盖传入的key
			if len(req.Data) > 0 {
				contextData.MergeMap(req.Data)
			}

			fields := &UpdateWorkflowInstanceField{
				CurrentState:  String(transition.To),
				PreviousState: String(po.CurrentState),
				ContextData:   contextData,
			}
			// 目标状态不在状态列表里时跳过进度重算(定义被改过的边缘场景),不报错
			if progress, ok := definition.ComputeProgress(transition.To); ok {
				fields.ProgressPercentage = Int64(progress)
			}
			newStatus := WorkflowInstanceStatusActive
			if terminalStatus, isFinal := definition.FinalInstanceStatus(transition.To); isFinal {
				newStatus = terminalStatus
				fields.CompletedAt = Int64(time.Now().Unix())
			}
			fields.Status = String(newStatus)
			if group, ok := definition.BusinessRules.GetString(BusinessRuleKeyAutoAssign, transition.To); ok {
				fields.AssignedGroup = String(group)
			}

			var metadataBytes []byte
			if len(req.ActionMetadata) > 0 {
				metadataBytes = NewJSONContextFromMap(req.ActionMetadata).ToBytesWithoutError()
			}

			// 状态更新和历史写入一个事务,任何一步失败整体回滚
			err = s.repo.Transaction(ctx, func(ctx context.Context) error {
				rows, err := s.repo.UpdateWorkflowInstance(ctx, &UpdateWorkflowInstanceParams{
					Where: &UpdateWorkflowInstanceWhere{
						IDIn:     []int64{po.ID},
						StatusIn: []string{WorkflowInstanceStatusActive},
						Version:  &po.Version,
					},
					Fields:   fields,
					LimitMax: 1,
				})
				if err != nil {
					return errors.WithMessagef(err, "UpdateWorkflowInstance failed, instanceID: %d", po.ID)
				}
				if rows == 0 {
					// 版本号或状态没对上,读写之间被其他请求改过了
					return errors.Wrapf(ErrConcurrentModification,
						"instanceID: %d, version: %d", po.ID, po.Version)
				}
				_, err = s.repo.CreateWorkflowHistory(ctx, &WorkflowHistoryPo{
					InstanceID:      po.ID,
					FromState:       po.CurrentState,
					ToState:         transition.To,
					Action:          req.Action,
					TriggeredBy:     req.UserID,
					TriggerType:     triggerType,
					Comment:         req.Comment,
					ActionMetadata:  metadataBytes,
					ContextSnapshot: contextData.Clone().ToBytesWithoutError(),
					WasSuccessful:   true,
					DurationMs:      time.Since(startTime).Milliseconds(),
				})
				if err != nil {
					return errors.WithMessagef(err, "CreateWorkflowHistory failed, instanceID: %d", po.ID)
				}
				return nil
			})
			if err != nil {
				return err
			}

			// 事务提交后重新查一遍,返回落库后的真实状态
			updatedPo, err := s.queryInstanceByID(ctx, po.ID, nil)
			if err != nil {
				return errors.WithMessagef(err, "reload instance failed, instanceID: %d", po.ID)
			}
			updated = instanceFromPo(updatedPo)
			return nil
		})
	if err != nil {
		return nil, errors.WithMessagef(wrapLockContention(err), "Advance failed, instanceID: %d, action: %s", req.InstanceID, req.Action)
	}
	return updated, nil
}

// recordRejectedAdvance 被拒绝的流转也要进审计,was_successful=false
// 单独写入,不在主事务里面(主事务已经回滚或者根本不存在)
// 写失败只打日志,拒绝本身还是要正常返回给调用方
func (s *WorkflowEngineImpl) recordRejectedAdvance(ctx context.Context, po *WorkflowInstancePo, req *AdvanceReq, triggerType string, errMsg string) {
	contextData := NewJSONContext(po.ContextData)
	_, err := s.repo.CreateWorkflowHistory(ctx, &WorkflowHistoryPo{
		InstanceID:      po.ID,
		FromState:       po.CurrentState,
		ToState:         "",
		Action:          req.Action,
		TriggeredBy:     req.UserID,
		TriggerType:     triggerType,
		Comment:         req.Comment,
		ContextSnapshot: contextData.Clone().ToBytesWithoutError(),
		WasSuccessful:   false,
		ErrorMessage:    errMsg,
	})
	if err != nil {
		slog.ErrorContext(ctx, fmt.Sprintf("recordRejectedAdvance failed, instanceID: %d, action: %s, err: %v", po.ID, req.Action, err))
	}
}

func (s *WorkflowEngineImpl) SetContextValue(ctx context.Context, req *SetContextValueReq) error {
	if err := validatorUtil.Struct(req); err != nil {
		return errors.Wrapf(ErrWorkflowParamInvalid, "SetContextValue failed, req: %v, err: %v", req, err)
	}
	err := s.executeLock.NonBlockingSynchronized(ctx,
		instanceOpLockKey(req.InstanceID),
		instanceLockMaxDuration,
		func(ctx context.Context) error {
			po, err := s.queryInstanceByID(ctx, req.InstanceID, &req.OrganizationID)
			if err != nil {
				return err
			}
			if IsTerminalInstanceStatus(po.Status) {
				return errors.Wrapf(ErrWorkflowInstanceNotActive,
					"instanceID: %d, status: %s", req.InstanceID, po.Status)
			}
			contextData := NewJSONContext(po.ContextData)
			if err := contextData.Set(req.Keys, req.Value); err != nil {
				return errors.Wrapf(ErrWorkflowParamInvalid, "Set context value failed, err: %v", err)
			}
			rows, err := s.repo.UpdateWorkflowInstance(ctx, &UpdateWorkflowInstanceParams{
				Where: &UpdateWorkflowInstanceWhere{
					IDIn:    []int64{po.ID},
					Version: &po.Version,
				},
				Fields: &UpdateWorkflowInstanceField{
					ContextData: contextData,
				},
				LimitMax: 1,
			})
			if err != nil {
				return errors.WithMessagef(err, "UpdateWorkflowInstance failed, instanceID: %d", po.ID)
			}
			if rows == 0 {
				return errors.Wrapf(ErrConcurrentModification, "instanceID: %d, version: %d", po.ID, po.Version)
			}
			return nil
		})
	if err != nil {
		return errors.WithMessagef(wrapLockContention(err), "SetContextValue failed, instanceID: %d", req.InstanceID)
	}
	return nil
}

func (s *WorkflowEngineImpl) PauseInstance(ctx context.Context, req *PauseResumeReq) error {
	return s.setPausedState(ctx, req, ActionPause, WorkflowInstanceStatusActive, WorkflowInstanceStatusPaused)
}

func (s *WorkflowEngineImpl) ResumeInstance(ctx context.Context, req *PauseResumeReq) error {
	return s.setPausedState(ctx, req, ActionResume, WorkflowInstanceStatusPaused, WorkflowInstanceStatusActive)
}

// setPausedState 暂停/恢复共用逻辑,fromStatus不匹配直接拒绝
// 状态不变(from==to)的审计记录照样写
func (s *WorkflowEngineImpl) setPausedState(ctx context.Context, req *PauseResumeReq, action string, fromStatus, toStatus WorkflowInstanceStatus) error {
	if err := validatorUtil.Struct(req); err != nil {
		return errors.Wrapf(ErrWorkflowParamInvalid, "%s failed, req: %v, err: %v", action, req, err)
	}
	err := s.executeLock.NonBlockingSynchronized(ctx,
		instanceOpLockKey(req.InstanceID),
		instanceLockMaxDuration,
		func(ctx context.Context) error {
			po, err := s.queryInstanceByID(ctx, req.InstanceID, &req.OrganizationID)
			if err != nil {
				return err
			}
			if po.Status != fromStatus {
				return errors.Wrapf(ErrWorkflowInstanceNotActive,
					"instanceID: %d, status: %s, cannot %s", req.InstanceID, po.Status, action)
			}
			return s.repo.Transaction(ctx, func(ctx context.Context) error {
				rows, err := s.repo.UpdateWorkflowInstance(ctx, &UpdateWorkflowInstanceParams{
					Where: &UpdateWorkflowInstanceWhere{
						IDIn:     []int64{po.ID},
						StatusIn: []string{fromStatus},
						Version:  &po.Version,
					},
					Fields: &UpdateWorkflowInstanceField{
						Status: String(toStatus),
					},
					LimitMax: 1,
				})
				if err != nil {
					return errors.WithMessagef(err, "UpdateWorkflowInstance failed, instanceID: %d", po.ID)
				}
				if rows == 0 {
					return errors.Wrapf(ErrConcurrentModification, "instanceID: %d, version: %d", po.ID, po.Version)
				}
				_, err = s.repo.CreateWorkflowHistory(ctx, &WorkflowHistoryPo{
					InstanceID:    po.ID,
					FromState:     po.CurrentState,
					ToState:       po.CurrentState,
					Action:        action,
					TriggeredBy:   req.UserID,
					TriggerType:   TriggerTypeManual,
					Comment:       req.Comment,
					WasSuccessful: true,
				})
				if err != nil {
					return errors.WithMessagef(err, "CreateWorkflowHistory failed, instanceID: %d", po.ID)
				}
				return nil
			})
		})
	if err != nil {
		return errors.WithMessagef(wrapLockContention(err), "%s failed, instanceID: %d", action, req.InstanceID)
	}
	return nil
}

func (s *WorkflowEngineImpl) DeleteInstance(ctx context.Context, instanceID int64, organizationID string) error {
	if instanceID <= 0 || organizationID == "" {
		return errors.Wrapf(ErrWorkflowParamInvalid, "DeleteInstance failed, instanceID: %d", instanceID)
	}
	err := s.executeLock.NonBlockingSynchronized(ctx,
		instanceOpLockKey(instanceID),
		instanceLockMaxDuration,
		func(ctx context.Context) error {
			po, err := s.queryInstanceByID(ctx, instanceID, &organizationID)
			if err != nil {
				return err
			}
			// 级联删除: insight -> 历史 -> 实例, 一个事务
			return s.repo.Transaction(ctx, func(ctx context.Context) error {
				if err := s.repo.DeleteAIInsightByInstance(ctx, po.ID); err != nil {
					return errors.WithMessagef(err, "DeleteAIInsightByInstance failed, instanceID: %d", po.ID)
				}
				if err := s.repo.DeleteWorkflowHistoryByInstance(ctx, po.ID); err != nil {
					return errors.WithMessagef(err, "DeleteWorkflowHistoryByInstance failed, instanceID: %d", po.ID)
				}
				if err := s.repo.DeleteWorkflowInstance(ctx, po.ID); err != nil {
					return errors.WithMessagef(err, "DeleteWorkflowInstance failed, instanceID: %d", po.ID)
				}
				return nil
			})
		})
	if err != nil {
		return errors.WithMessagef(wrapLockContention(err), "DeleteInstance failed, instanceID: %d", instanceID)
	}
	return nil
}
