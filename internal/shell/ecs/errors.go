package ecs

import (
	"context"
	"errors"
	"net"

	smithy "github.com/aws/smithy-go"

	"github.com/artpar/rollout/internal/core/domain"
)

// API error codes the driver distinguishes.
const (
	codeServiceNotFound     = "ServiceNotFoundException"
	codeServiceNotActive    = "ServiceNotActiveException"
	codeTargetGroupNotFound = "TargetGroupNotFound"
	codeListenerNotFound    = "ListenerNotFound"
	codeUnsupportedFeature  = "UnsupportedFeatureException"
	codePlatformUnknown     = "PlatformUnknownException"
)

// driverError classifies an AWS failure for the engine.
func driverError(op, name string, err error) error {
	if err == nil {
		return nil
	}
	var de *domain.DriverError
	if errors.As(err, &de) {
		return err
	}
	return domain.NewDriverError(kindOf(err), op, name, err.Error(), err)
}

func notFound(op, name, message string) error {
	return domain.NewDriverError(domain.KindNotFound, op, name, message, nil)
}

func kindOf(err error) domain.DriverErrorKind {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case codeServiceNotFound, codeServiceNotActive, codeTargetGroupNotFound, codeListenerNotFound:
			return domain.KindNotFound
		case codeUnsupportedFeature, codePlatformUnknown:
			return domain.KindUnsupported
		case "ThrottlingException", "Throttling", "RequestLimitExceeded", "TooManyRequestsException",
			"ServerException", "ServiceUnavailable", "InternalFailure":
			return domain.KindTransient
		}
		if apiErr.ErrorFault() == smithy.FaultServer {
			return domain.KindTransient
		}
		return domain.KindPermanent
	}

	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return domain.KindTimeout
	case errors.As(err, &netErr):
		return domain.KindTransient
	default:
		return domain.KindPermanent
	}
}

// isNotFound reports whether err means the service does not exist.
func isNotFound(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, domain.ErrNotFound) || kindOf(err) == domain.KindNotFound
}
