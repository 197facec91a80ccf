package service

import (
	"github.com/briefly60/payment-service/internal/domain"
	"github.com/briefly60/payment-service/pkg/logger"
)

// PlanService exposes the purchasable plan catalog
type PlanService interface {
	// ActivePlans lists the plans currently offered for purchase.
	ActivePlans() []domain.Plan

	// GetPlanByID resolves a purchasable plan. The free tier and unknown or
	// inactive plans return domain.ErrPlanNotFound.
	GetPlanByID(planID string) (domain.Plan, error)
}

type planService struct {
	plans []domain.Plan
	byID  map[string]domain.Plan
	log   *logger.Logger
}

// NewPlanService builds the catalog from the static plan definitions
func NewPlanService(log *logger.Logger) PlanService {
	plans := domain.DefaultPlans()
	byID := make(map[string]domain.Plan, len(plans))
	for _, plan := range plans {
		byID[plan.PlanID] = plan
	}

	return &planService{
		plans: plans,
		byID:  byID,
		log:   log,
	}
}

func (s *planService) ActivePlans() []domain.Plan {
	active := make([]domain.Plan, 0, len(s.plans))
	for _, plan := range s.plans {
		if plan.Active {
			active = append(active, plan)
		}
	}
	return active
}

func (s *planService) GetPlanByID(planID string) (domain.Plan, error) {
	// The free tier exists as an entitlement default, not a purchase target.
	if planID == domain.FreePlanID {
		s.log.Warn("Attempted to purchase the free plan")
		return domain.Plan{}, domain.ErrPlanNotFound
	}

	plan, ok := s.byID[planID]
	if !ok || !plan.Active {
		s.log.Warn("Plan not found or inactive: %s", planID)
		return domain.Plan{}, domain.ErrPlanNotFound
	}

	return plan, nil
}
