package handler

import (
	"context"
	"errors"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/rl1809/library-ledger/internal/core/domain"
	"github.com/rl1809/library-ledger/internal/core/service"
)

const (
	LoanServiceName = "library.v1.LoanService"

	BorrowMethod  = "/" + LoanServiceName + "/Borrow"
	ReturnMethod  = "/" + LoanServiceName + "/Return"
	GetLoanMethod = "/" + LoanServiceName + "/GetLoan"
)

type BorrowRequest struct {
	RequestID string `json:"request_id"`
	BookID    string `json:"book_id"`
	UserID    string `json:"user_id"`
}

type ReturnRequest struct {
	LoanID string `json:"loan_id"`
}

type GetLoanRequest struct {
	LoanID string `json:"loan_id"`
}

type LoanReply struct {
	ID         string `json:"id"`
	BookID     string `json:"book_id"`
	UserID     string `json:"user_id"`
	BorrowDate string `json:"borrow_date"`
	DueDate    string `json:"due_date"`
	ReturnDate string `json:"return_date,omitempty"`
	Status     string `json:"status"`
}

// LoanServiceServer is the server API for library.v1.LoanService.
type LoanServiceServer interface {
	Borrow(context.Context, *BorrowRequest) (*LoanReply, error)
	Return(context.Context, *ReturnRequest) (*LoanReply, error)
	GetLoan(context.Context, *GetLoanRequest) (*LoanReply, error)
}

type GRPCHandler struct {
	loanService *service.LoanService
}

func NewGRPCHandler(loanService *service.LoanService) *GRPCHandler {
	return &GRPCHandler{loanService: loanService}
}

// RegisterLoanServiceServer registers srv on s.
func RegisterLoanServiceServer(s grpc.ServiceRegistrar, srv LoanServiceServer) {
	s.RegisterService(&loanServiceDesc, srv)
}

func (h *GRPCHandler) Borrow(ctx context.Context, req *BorrowRequest) (*LoanReply, error) {
	if req.BookID == "" || req.UserID == "" {
		return nil, status.Error(codes.InvalidArgument, "missing required fields")
	}

	loan, err := h.loanService.BorrowOnce(ctx, req.RequestID, req.BookID, req.UserID)
	if err != nil {
		return nil, grpcError(err)
	}
	return toLoanReply(loan), nil
}

func (h *GRPCHandler) Return(ctx context.Context, req *ReturnRequest) (*LoanReply, error) {
	if req.LoanID == "" {
		return nil, status.Error(codes.InvalidArgument, "missing loan_id")
	}

	loan, err := h.loanService.Return(ctx, req.LoanID)
	if err != nil {
		return nil, grpcError(err)
	}
	return toLoanReply(loan), nil
}

func (h *GRPCHandler) GetLoan(ctx context.Context, req *GetLoanRequest) (*LoanReply, error) {
	loan, err := h.loanService.GetLoan(ctx, req.LoanID)
	if err != nil {
		return nil, grpcError(err)
	}
	return toLoanReply(loan), nil
}

func grpcError(err error) error {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, domain.ErrPreconditionFailed):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, domain.ErrDuplicate):
		return status.Error(codes.AlreadyExists, err.Error())
	case errors.Is(err, domain.ErrInvalidInput):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, domain.ErrConcurrencyConflict):
		return status.Error(codes.Aborted, err.Error())
	default:
		return status.Error(codes.Internal, "internal error")
	}
}

func toLoanReply(l domain.Loan) *LoanReply {
	reply := &LoanReply{
		ID:         l.ID,
		BookID:     l.BookID,
		UserID:     l.UserID,
		BorrowDate: l.BorrowDate.Format(time.RFC3339Nano),
		DueDate:    l.DueDate.Format(time.RFC3339Nano),
		Status:     string(l.Status),
	}
	if l.ReturnDate != nil {
		reply.ReturnDate = l.ReturnDate.Format(time.RFC3339Nano)
	}
	return reply
}

var loanServiceDesc = grpc.ServiceDesc{
	ServiceName: LoanServiceName,
	HandlerType: (*LoanServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Borrow", Handler: borrowHandler},
		{MethodName: "Return", Handler: returnHandler},
		{MethodName: "GetLoan", Handler: getLoanHandler},
	},
	Streams: []grpc.StreamDesc{},
}

func borrowHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(BorrowRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(LoanServiceServer).Borrow(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: BorrowMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(LoanServiceServer).Borrow(ctx, req.(*BorrowRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func returnHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(ReturnRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(LoanServiceServer).Return(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: ReturnMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(LoanServiceServer).Return(ctx, req.(*ReturnRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func getLoanHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(GetLoanRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(LoanServiceServer).GetLoan(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: GetLoanMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(LoanServiceServer).GetLoan(ctx, req.(*GetLoanRequest))
	}
	return interceptor(ctx, in, info, handler)
}
