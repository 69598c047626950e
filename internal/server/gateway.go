package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"ReserveBank/internal/ingestion"
	"ReserveBank/internal/ledger"
	"ReserveBank/internal/observability"
)

// maxBodyBytes bounds command bodies on the HTTP surface.
const maxBodyBytes = 64 << 10

type route struct {
	method  string
	pattern string
	name    string
	call    func(ctx context.Context, r *http.Request, params map[string]string) (any, error)
}

// newHTTPHandler mounts the Ledger service on a gateway mux:
//
//	POST /v1/transfer, /v1/borrow, /v1/repay
//	GET  /v1/accounts/{account}[/balance|/debt|/exposure|/loans]
//	GET  /v1/supply, /v1/integrity
func newHTTPHandler(svc LedgerServer, hc *observability.HealthChecker, metrics *observability.Metrics) (http.Handler, error) {
	routes := []route{
		{"POST", "/v1/transfer", "Transfer", func(ctx context.Context, r *http.Request, _ map[string]string) (any, error) {
			var cmd ingestion.TransferCommand
			if err := decodeBody(r, &cmd); err != nil {
				return nil, err
			}
			return svc.Transfer(ctx, &cmd)
		}},
		{"POST", "/v1/borrow", "Borrow", func(ctx context.Context, r *http.Request, _ map[string]string) (any, error) {
			var cmd ingestion.BorrowCommand
			if err := decodeBody(r, &cmd); err != nil {
				return nil, err
			}
			return svc.Borrow(ctx, &cmd)
		}},
		{"POST", "/v1/repay", "Repay", func(ctx context.Context, r *http.Request, _ map[string]string) (any, error) {
			var cmd ingestion.RepayCommand
			if err := decodeBody(r, &cmd); err != nil {
				return nil, err
			}
			return svc.Repay(ctx, &cmd)
		}},
		{"GET", "/v1/accounts/{account}", "GetAccount", accountRoute(svc.GetAccount)},
		{"GET", "/v1/accounts/{account}/balance", "GetBalance", accountRoute(svc.GetBalance)},
		{"GET", "/v1/accounts/{account}/debt", "GetDebt", accountRoute(svc.GetDebt)},
		{"GET", "/v1/accounts/{account}/exposure", "GetExposure", accountRoute(svc.GetExposure)},
		{"GET", "/v1/accounts/{account}/loans", "GetLoans", accountRoute(svc.GetLoans)},
		{"GET", "/v1/supply", "GetSupply", func(ctx context.Context, _ *http.Request, _ map[string]string) (any, error) {
			return svc.GetSupply(ctx, &Empty{})
		}},
		{"GET", "/v1/integrity", "VerifyIntegrity", func(ctx context.Context, _ *http.Request, _ map[string]string) (any, error) {
			return svc.VerifyIntegrity(ctx, &Empty{})
		}},
	}

	mux := runtime.NewServeMux()
	for _, rt := range routes {
		err := mux.HandlePath(rt.method, rt.pattern, func(w http.ResponseWriter, r *http.Request, params map[string]string) {
			resp, err := rt.call(r.Context(), r, params)
			recordCall(metrics, rt.name, status.Code(err).String())
			if err != nil {
				writeError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, resp)
		})
		if err != nil {
			return nil, fmt.Errorf("register %s %s: %w", rt.method, rt.pattern, err)
		}
	}

	httpMux := http.NewServeMux()
	if hc != nil {
		httpMux.HandleFunc("/healthz", hc.LivenessHandler)
		httpMux.HandleFunc("/readyz", hc.ReadinessHandler)
	} else {
		httpMux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		})
	}
	httpMux.Handle("/", mux)
	return httpMux, nil
}

func accountRoute[Resp any](call func(context.Context, *AccountRequest) (*Resp, error)) func(context.Context, *http.Request, map[string]string) (any, error) {
	return func(ctx context.Context, _ *http.Request, params map[string]string) (any, error) {
		account, err := ledger.ParseAccount(params["account"])
		if err != nil {
			return nil, status.Errorf(codes.InvalidArgument, "account: %v", err)
		}
		return call(ctx, &AccountRequest{Account: account})
	}
}

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return status.Errorf(codes.InvalidArgument, "decode request: %v", err)
	}
	return nil
}

// httpStatus follows the gateway's code mapping except that a rejected
// debit is a conflict with current state.
func httpStatus(code codes.Code) int {
	if code == codes.FailedPrecondition {
		return http.StatusConflict
	}
	return runtime.HTTPStatusFromCode(code)
}

func writeError(w http.ResponseWriter, err error) {
	st := status.Convert(err)
	writeJSON(w, httpStatus(st.Code()), map[string]string{
		"code":    st.Code().String(),
		"message": st.Message(),
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
