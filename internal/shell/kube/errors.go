package kube

import (
	"context"
	"errors"
	"net"

	apierrors "k8s.io/apimachinery/pkg/api/errors"

	"github.com/artpar/rollout/internal/core/domain"
)

// driverError classifies an API failure for the engine.
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

func kindOf(err error) domain.DriverErrorKind {
	var netErr net.Error
	switch {
	case apierrors.IsNotFound(err):
		return domain.KindNotFound
	case apierrors.IsTimeout(err),
		apierrors.IsServerTimeout(err),
		apierrors.IsTooManyRequests(err),
		apierrors.IsServiceUnavailable(err),
		apierrors.IsInternalError(err),
		apierrors.IsConflict(err),
		apierrors.IsUnexpectedServerError(err):
		return domain.KindTransient
	case errors.Is(err, context.DeadlineExceeded):
		return domain.KindTimeout
	case errors.As(err, &netErr):
		return domain.KindTransient
	default:
		return domain.KindPermanent
	}
}
