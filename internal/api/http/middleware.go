package http

import (
	"context"
	"errors"
	"net/http"
	"runtime/debug"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/helpdesk-sla/ticket-sla/internal/observability"
	apperrors "github.com/helpdesk-sla/ticket-sla/pkg/util"
)

// storeRetryAfter is the hint sent with STORE_UNAVAILABLE responses.
const storeRetryAfter = 5 * time.Second

// RegisterMiddlewares attaches the SLA error envelope, request deadline and access log.
func RegisterMiddlewares(app *fiber.App, logger *zap.Logger, metrics *observability.Metrics, timeout time.Duration) {
	if timeout > 0 {
		app.Use(requestTimeoutMiddleware(timeout))
	}
	app.Use(slaErrorMiddleware(logger, metrics))
	app.Use(observability.RequestLogger(logger, metrics))
}

func requestTimeoutMiddleware(timeout time.Duration) fiber.Handler {
	return func(c *fiber.Ctx) error {
		ctx, cancel := context.WithTimeout(c.UserContext(), timeout)
		defer cancel()
		c.SetUserContext(ctx)
		return c.Next()
	}
}

// slaErrorMiddleware renders every failure as {"error":{"code","message","details"}}.
func slaErrorMiddleware(logger *zap.Logger, metrics *observability.Metrics) fiber.Handler {
	return func(c *fiber.Ctx) (err error) {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("panic recovered",
					zap.String("path", c.Path()),
					zap.Any("panic", r),
					zap.ByteString("stack", debug.Stack()),
				)
				err = apperrors.NewInternalError(nil)
			}
			if err == nil {
				return
			}
			domainErr := classify(c, err)
			if metrics != nil {
				metrics.RecordError(c.Path(), c.Method(), domainErr.Code)
			}
			logFailure(logger, c, domainErr)
			if domainErr.Code == apperrors.CodeStoreUnavailable {
				c.Set(fiber.HeaderRetryAfter, strconv.Itoa(int(storeRetryAfter.Seconds())))
			}

			body := fiber.Map{"code": domainErr.Code, "message": domainErr.Message}
			if len(domainErr.Details) > 0 {
				body["details"] = domainErr.Details
			}
			_ = c.Status(domainErr.HTTPStatus).JSON(fiber.Map{"error": body})
			err = nil
		}()
		return c.Next()
	}
}

// classify maps handler and router errors onto the SLA error codes.
func classify(c *fiber.Ctx, err error) *apperrors.DomainError {
	var fiberErr *fiber.Error
	switch {
	case errors.As(err, &fiberErr):
		return fromFiberError(fiberErr)
	case errors.Is(err, context.DeadlineExceeded), errors.Is(c.UserContext().Err(), context.DeadlineExceeded):
		return apperrors.NewDomainError(apperrors.CodeRequestTimeout, "request deadline exceeded", http.StatusGatewayTimeout, nil)
	default:
		return apperrors.ToDomainError(err)
	}
}

func fromFiberError(e *fiber.Error) *apperrors.DomainError {
	var code string
	switch {
	case e.Code == http.StatusNotFound:
		code = apperrors.CodeNotFound
	case e.Code == http.StatusRequestTimeout:
		code = apperrors.CodeRequestTimeout
	case e.Code < http.StatusInternalServerError:
		code = apperrors.CodeValidation
	default:
		code = apperrors.CodeInternal
	}
	return apperrors.NewDomainError(code, e.Message, e.Code, nil)
}

func logFailure(logger *zap.Logger, c *fiber.Ctx, e *apperrors.DomainError) {
	fields := []zap.Field{
		zap.String("method", c.Method()),
		zap.String("path", c.Path()),
		zap.String("code", e.Code),
	}
	switch {
	case e.Code == apperrors.CodeStoreUnavailable:
		logger.Warn("sla store unavailable", append(fields, zap.Error(e))...)
	case e.Code == apperrors.CodeConfiguration:
		logger.Warn("sla configuration rejected request", append(fields, zap.Any("details", e.Details))...)
	case e.HTTPStatus >= http.StatusInternalServerError:
		logger.Error("request failed", append(fields, zap.Error(e))...)
	}
}
