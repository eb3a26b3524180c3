package handlers

import (
	"context"
	"errors"
	"net/http"

	domain "github.com/gymhub/api/internal/domain"
	"github.com/gymhub/api/internal/platform/auth"
	"github.com/gymhub/api/internal/services"
)

var errNotStubbed = errors.New("not implemented")

type stubOrderService struct {
	createFn     func(context.Context, services.CreateOrderCommand) (services.Order, error)
	getFn        func(context.Context, string) (services.Order, error)
	listFn       func(context.Context, services.OrderListFilter) (domain.Page[services.Order], error)
	transitionFn func(context.Context, services.TransitionCommand) (services.Order, error)
	advanceFn    func(context.Context, services.AdvanceManyCommand) (services.AdvanceResult, error)
	logFn        func(context.Context, string) ([]services.StatusTransitionLog, error)
}

func (s *stubOrderService) CreateOrder(ctx context.Context, cmd services.CreateOrderCommand) (services.Order, error) {
	if s.createFn != nil {
		return s.createFn(ctx, cmd)
	}
	return services.Order{}, errNotStubbed
}

func (s *stubOrderService) GetOrder(ctx context.Context, orderID string) (services.Order, error) {
	if s.getFn != nil {
		return s.getFn(ctx, orderID)
	}
	return services.Order{}, errNotStubbed
}

func (s *stubOrderService) ListOrders(ctx context.Context, filter services.OrderListFilter) (domain.Page[services.Order], error) {
	if s.listFn != nil {
		return s.listFn(ctx, filter)
	}
	return domain.Page[services.Order]{}, nil
}

func (s *stubOrderService) Transition(ctx context.Context, cmd services.TransitionCommand) (services.Order, error) {
	if s.transitionFn != nil {
		return s.transitionFn(ctx, cmd)
	}
	return services.Order{}, errNotStubbed
}

func (s *stubOrderService) AdvanceMany(ctx context.Context, cmd services.AdvanceManyCommand) (services.AdvanceResult, error) {
	if s.advanceFn != nil {
		return s.advanceFn(ctx, cmd)
	}
	return services.AdvanceResult{}, errNotStubbed
}

func (s *stubOrderService) ListTransitionLog(ctx context.Context, orderID string) ([]services.StatusTransitionLog, error) {
	if s.logFn != nil {
		return s.logFn(ctx, orderID)
	}
	return nil, nil
}

type stubLocalSaleService struct {
	recordFn   func(context.Context, services.RecordLocalSaleCommand) (services.LocalSale, error)
	completeFn func(context.Context, services.LocalSaleStatusCommand) (services.LocalSale, error)
	cancelFn   func(context.Context, services.LocalSaleStatusCommand) (services.LocalSale, error)
	getFn      func(context.Context, string) (services.LocalSale, error)
}

func (s *stubLocalSaleService) RecordLocalSale(ctx context.Context, cmd services.RecordLocalSaleCommand) (services.LocalSale, error) {
	if s.recordFn != nil {
		return s.recordFn(ctx, cmd)
	}
	return services.LocalSale{}, errNotStubbed
}

func (s *stubLocalSaleService) CompleteLocalSale(ctx context.Context, cmd services.LocalSaleStatusCommand) (services.LocalSale, error) {
	if s.completeFn != nil {
		return s.completeFn(ctx, cmd)
	}
	return services.LocalSale{}, errNotStubbed
}

func (s *stubLocalSaleService) CancelLocalSale(ctx context.Context, cmd services.LocalSaleStatusCommand) (services.LocalSale, error) {
	if s.cancelFn != nil {
		return s.cancelFn(ctx, cmd)
	}
	return services.LocalSale{}, errNotStubbed
}

func (s *stubLocalSaleService) GetLocalSale(ctx context.Context, saleID string) (services.LocalSale, error) {
	if s.getFn != nil {
		return s.getFn(ctx, saleID)
	}
	return services.LocalSale{}, errNotStubbed
}

type stubTransferService struct {
	submitFn  func(context.Context, services.SubmitVoucherCommand) (services.TransferConfirmation, error)
	confirmFn func(context.Context, services.ConfirmTransferCommand) (services.TransferConfirmation, error)
	pendingFn func(context.Context, int) ([]services.TransferConfirmation, error)
	uploadFn  func(context.Context, services.VoucherUploadCommand) (services.VoucherUpload, error)
}

func (s *stubTransferService) SubmitVoucher(ctx context.Context, cmd services.SubmitVoucherCommand) (services.TransferConfirmation, error) {
	if s.submitFn != nil {
		return s.submitFn(ctx, cmd)
	}
	return services.TransferConfirmation{}, errNotStubbed
}

func (s *stubTransferService) ConfirmTransfer(ctx context.Context, cmd services.ConfirmTransferCommand) (services.TransferConfirmation, error) {
	if s.confirmFn != nil {
		return s.confirmFn(ctx, cmd)
	}
	return services.TransferConfirmation{}, errNotStubbed
}

func (s *stubTransferService) ListPendingConfirmations(ctx context.Context, limit int) ([]services.TransferConfirmation, error) {
	if s.pendingFn != nil {
		return s.pendingFn(ctx, limit)
	}
	return nil, nil
}

func (s *stubTransferService) CreateVoucherUploadURL(ctx context.Context, cmd services.VoucherUploadCommand) (services.VoucherUpload, error) {
	if s.uploadFn != nil {
		return s.uploadFn(ctx, cmd)
	}
	return services.VoucherUpload{}, errNotStubbed
}

type stubMovementService struct {
	adoptFn      func(context.Context, services.AdoptMovementCommand) (services.FinancialMovement, error)
	unassignedFn func(context.Context, int) ([]services.FinancialMovement, error)
	recordFn     func(context.Context, services.RecordMovementCommand) (services.FinancialMovement, error)
}

func (s *stubMovementService) AdoptMovement(ctx context.Context, cmd services.AdoptMovementCommand) (services.FinancialMovement, error) {
	if s.adoptFn != nil {
		return s.adoptFn(ctx, cmd)
	}
	return services.FinancialMovement{}, errNotStubbed
}

func (s *stubMovementService) ListUnassignedMovements(ctx context.Context, limit int) ([]services.FinancialMovement, error) {
	if s.unassignedFn != nil {
		return s.unassignedFn(ctx, limit)
	}
	return nil, nil
}

func (s *stubMovementService) RecordMovement(ctx context.Context, cmd services.RecordMovementCommand) (services.FinancialMovement, error) {
	if s.recordFn != nil {
		return s.recordFn(ctx, cmd)
	}
	return services.FinancialMovement{}, errNotStubbed
}

var (
	_ services.OrderService     = (*stubOrderService)(nil)
	_ services.LocalSaleService = (*stubLocalSaleService)(nil)
	_ services.TransferService  = (*stubTransferService)(nil)
	_ services.MovementService  = (*stubMovementService)(nil)
)

func asCustomer(req *http.Request, uid string) *http.Request {
	return req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UID: uid}))
}

func asStaff(req *http.Request, uid string) *http.Request {
	return req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UID: uid, Roles: []string{auth.RoleStaff}}))
}
