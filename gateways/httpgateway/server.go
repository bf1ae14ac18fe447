package httpgateway

import (
	"net/http"

	"anarchy.ttfm/donations/gateways"
	"github.com/gin-gonic/gin"
)

// Handler exposes a Gateway using the same wire format Client speaks.
// It backs the sandbox processor of the CLI and the client tests.
func Handler(g gateways.Gateway) (handler http.Handler) {
	engine := gin.New()
	engine.Use(gin.Recovery())

	engine.POST(ChargesPath, func(ctx *gin.Context) {
		var req gateways.Submission
		if !bind(ctx, &req) {
			return
		}
		if header := ctx.GetHeader(IdempotencyHeader); req.IdempotencyKey == "" {
			req.IdempotencyKey = header
		}

		receipt, err := g.Submit(ctx, req)
		if err != nil {
			writeError(ctx, err)
			return
		}
		ctx.JSON(http.StatusOK, SubmitResponse{Status: StatusSuccess, TransactionId: receipt.TransactionId})
	})

	engine.POST(VerifyPath, func(ctx *gin.Context) {
		var req gateways.VerifyRequest
		if !bind(ctx, &req) {
			return
		}

		settlement, err := g.Verify(ctx, req)
		if err != nil {
			writeError(ctx, err)
			return
		}
		ctx.JSON(http.StatusOK, settlement)
	})

	engine.POST(RefundsPath, func(ctx *gin.Context) {
		var req gateways.RefundRequest
		if !bind(ctx, &req) {
			return
		}

		refund, err := g.Refund(ctx, req)
		if err != nil {
			writeError(ctx, err)
			return
		}
		ctx.JSON(http.StatusOK, refund)
	})

	return engine
}

func bind(ctx *gin.Context, out any) (ok bool) {
	err := ctx.ShouldBindJSON(out)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, ErrorResponse{Code: gateways.CodeInvalidRequest, Message: err.Error()})
		return false
	}
	return true
}

func writeError(ctx *gin.Context, err error) {
	gerr := gateways.Normalize(err)

	status := http.StatusUnprocessableEntity
	switch {
	case gerr.Retryable:
		status = http.StatusServiceUnavailable
	case gerr.Code == gateways.CodeNotFound:
		status = http.StatusNotFound
	case gerr.Code == gateways.CodeDeclined:
		status = http.StatusPaymentRequired
	}
	ctx.JSON(status, ErrorResponse{Code: gerr.Code, Message: gerr.Message, Retryable: gerr.Retryable})
}
