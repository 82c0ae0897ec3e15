package gmail

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"google.golang.org/api/googleapi"

	"github.com/Veraticus/mail-alfred/internal/common"
)

// wrapAPIError maps Gmail API failures onto the source error sentinels.
func wrapAPIError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return fmt.Errorf("%s: %w", op, err)
	}

	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.Code == http.StatusNotFound:
			return fmt.Errorf("%s: %w: %w", op, common.ErrNotFound, err)
		case apiErr.Code == http.StatusTooManyRequests, apiErr.Code >= 500, isRateLimited(apiErr):
			return fmt.Errorf("%s: %w: %w", op, common.ErrSourceUnavailable, err)
		case apiErr.Code == http.StatusUnauthorized, apiErr.Code == http.StatusForbidden:
			return fmt.Errorf("%s: %w: %w", op, common.ErrPermissionDenied, err)
		default:
			return fmt.Errorf("%s: %w", op, err)
		}
	}

	if errors.Is(err, common.ErrPermissionDenied) {
		return fmt.Errorf("%s: %w", op, err)
	}

	// transport failures and deadlines
	return fmt.Errorf("%s: %w: %w", op, common.ErrSourceUnavailable, err)
}

// isRateLimited detects quota errors Gmail reports as 403.
func isRateLimited(apiErr *googleapi.Error) bool {
	for _, item := range apiErr.Errors {
		switch item.Reason {
		case "rateLimitExceeded", "userRateLimitExceeded", "backendError":
			return true
		}
	}
	return false
}
