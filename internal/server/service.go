package server

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"ReserveBank/internal/event"
	"ReserveBank/internal/ingestion"
	"ReserveBank/internal/query"
)

// ServiceName is the fully qualified RPC service name.
const ServiceName = "reservebank.v1.Ledger"

// FullMethod returns the RPC path of a Ledger method, e.g. FullMethod("Transfer").
func FullMethod(method string) string {
	return "/" + ServiceName + "/" + method
}

// LedgerServer is the Ledger RPC service.
type LedgerServer interface {
	Transfer(ctx context.Context, req *ingestion.TransferCommand) (*CommandResponse, error)
	Borrow(ctx context.Context, req *ingestion.BorrowCommand) (*CommandResponse, error)
	Repay(ctx context.Context, req *ingestion.RepayCommand) (*CommandResponse, error)

	GetAccount(ctx context.Context, req *AccountRequest) (*query.AccountResponse, error)
	GetBalance(ctx context.Context, req *AccountRequest) (*query.BalanceResponse, error)
	GetDebt(ctx context.Context, req *AccountRequest) (*query.DebtResponse, error)
	GetExposure(ctx context.Context, req *AccountRequest) (*query.ExposureResponse, error)
	GetLoans(ctx context.Context, req *AccountRequest) (*query.LoansResponse, error)
	GetSupply(ctx context.Context, req *Empty) (*query.SupplyResponse, error)
	VerifyIntegrity(ctx context.Context, req *Empty) (*query.IntegrityReport, error)
}

// LedgerServiceDesc describes the Ledger service to grpc.Server. Messages are
// plain structs carried by the JSON codec.
var LedgerServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*LedgerServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("Transfer", LedgerServer.Transfer),
		unary("Borrow", LedgerServer.Borrow),
		unary("Repay", LedgerServer.Repay),
		unary("GetAccount", LedgerServer.GetAccount),
		unary("GetBalance", LedgerServer.GetBalance),
		unary("GetDebt", LedgerServer.GetDebt),
		unary("GetExposure", LedgerServer.GetExposure),
		unary("GetLoans", LedgerServer.GetLoans),
		unary("GetSupply", LedgerServer.GetSupply),
		unary("VerifyIntegrity", LedgerServer.VerifyIntegrity),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "reservebank/v1/ledger",
}

func unary[Req, Resp any](name string, call func(LedgerServer, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, status.Errorf(codes.InvalidArgument, "decode request: %s", status.Convert(err).Message())
			}
			if interceptor == nil {
				return call(srv.(LedgerServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: FullMethod(name)}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(LedgerServer), ctx, req.(*Req))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

// ============================================================================
// Ledger service implementation
// ============================================================================

type commandRequest interface {
	Operation() (event.Event, error)
}

type ledgerService struct {
	exec  ingestion.Executor
	query *query.Service
}

func (s *ledgerService) apply(cmd commandRequest) (*CommandResponse, error) {
	op, err := cmd.Operation()
	if err != nil {
		return nil, toStatus(err)
	}
	res, err := s.exec.Execute(op)
	if err != nil {
		return nil, toStatus(err)
	}
	return commandResponse(res), nil
}

func (s *ledgerService) Transfer(_ context.Context, req *ingestion.TransferCommand) (*CommandResponse, error) {
	return s.apply(req)
}

func (s *ledgerService) Borrow(_ context.Context, req *ingestion.BorrowCommand) (*CommandResponse, error) {
	return s.apply(req)
}

func (s *ledgerService) Repay(_ context.Context, req *ingestion.RepayCommand) (*CommandResponse, error) {
	return s.apply(req)
}

func (s *ledgerService) GetAccount(ctx context.Context, req *AccountRequest) (*query.AccountResponse, error) {
	resp, err := s.query.GetAccount(ctx, req.Account)
	return resp, toStatus(err)
}

func (s *ledgerService) GetBalance(ctx context.Context, req *AccountRequest) (*query.BalanceResponse, error) {
	resp, err := s.query.GetBalance(ctx, req.Account)
	return resp, toStatus(err)
}

func (s *ledgerService) GetDebt(ctx context.Context, req *AccountRequest) (*query.DebtResponse, error) {
	resp, err := s.query.GetDebt(ctx, req.Account)
	return resp, toStatus(err)
}

func (s *ledgerService) GetExposure(ctx context.Context, req *AccountRequest) (*query.ExposureResponse, error) {
	resp, err := s.query.GetExposure(ctx, req.Account)
	return resp, toStatus(err)
}

func (s *ledgerService) GetLoans(ctx context.Context, req *AccountRequest) (*query.LoansResponse, error) {
	resp, err := s.query.GetLoans(ctx, req.Account)
	return resp, toStatus(err)
}

func (s *ledgerService) GetSupply(ctx context.Context, _ *Empty) (*query.SupplyResponse, error) {
	resp, err := s.query.GetSupply(ctx)
	return resp, toStatus(err)
}

func (s *ledgerService) VerifyIntegrity(ctx context.Context, _ *Empty) (*query.IntegrityReport, error) {
	resp, err := s.query.VerifyIntegrity(ctx)
	return resp, toStatus(err)
}
