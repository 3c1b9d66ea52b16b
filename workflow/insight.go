package workflow

import (
	"context"

	"github.com/pkg/errors"
)

func (s *WorkflowEngineImpl) AttachInsight(ctx context.Context, req *AttachInsightReq) (*AIInsight, error) {
	if err := validatorUtil.Struct(req); err != nil {
		return nil, errors.Wrapf(ErrWorkflowParamInvalid, "AttachInsight failed, req: %v, err: %v", req, err)
	}
	// 只校验实例存在且属于这个租户,不加锁也不关心实例状态
	// insight是纯追加,终态实例照样可以挂
	if _, err := s.queryInstanceByID(ctx, req.InstanceID, &req.OrganizationID); err != nil {
		return nil, errors.WithMessagef(err, "AttachInsight failed, instanceID: %d", req.InstanceID)
	}
	po, err := s.repo.CreateAIInsight(ctx, &AIInsightPo{
		InstanceID:      req.InstanceID,
		OrganizationID:  req.OrganizationID,
		InsightType:     req.InsightType,
		Content:         NewJSONContextFromMap(req.Content).ToBytesWithoutError(),
		ConfidenceScore: req.ConfidenceScore,
		GeneratedBy:     req.GeneratedBy,
	})
	if err != nil {
		return nil, errors.WithMessagef(err, "CreateAIInsight failed, instanceID: %d", req.InstanceID)
	}
	return insightFromPo(po), nil
}

func (s *WorkflowEngineImpl) QueryInsights(ctx context.Context, params *QueryInsightsParams) ([]*AIInsight, error) {
	if err := validatorUtil.Struct(params); err != nil {
		return nil, errors.Wrapf(ErrWorkflowParamInvalid, "QueryInsights failed, params: %v, err: %v", params, err)
	}
	limit := params.Limit
	if limit <= 0 {
		limit = 50
	}
	pos, err := s.repo.QueryAIInsight(ctx, &QueryAIInsightParams{
		InstanceID:     &params.InstanceID,
		OrganizationID: &params.OrganizationID,
		Page: &Pager{
			Page: 1,
			Size: limit,
		},
	})
	if err != nil {
		return nil, errors.WithMessagef(err, "QueryAIInsight failed, instanceID: %d", params.InstanceID)
	}
	ret := make([]*AIInsight, 0, len(pos))
	for _, po := range pos {
		ret = append(ret, insightFromPo(po))
	}
	return ret, nil
}
