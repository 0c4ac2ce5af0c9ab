package apperr

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"bookreview/pkg/utils"
)

const genericMessage = "Something went wrong"

// Status maps an error onto its HTTP status and client-facing message.
func Status(err error) (int, string) {
	var ve *ValidationError
	switch {
	case err == nil:
		return http.StatusOK, ""
	case errors.As(err, &ve):
		return http.StatusBadRequest, ve.Msg
	case errors.Is(err, ErrDuplicateReview):
		return http.StatusBadRequest, ErrDuplicateReview.Error()
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound, messageOr(err, "Not found")
	case errors.Is(err, ErrNotAuthorized):
		return http.StatusForbidden, messageOr(err, "Not authorized")
	case errors.Is(err, ErrUnauthenticated):
		return http.StatusUnauthorized, messageOr(err, "Authentication required")
	case errors.Is(err, ErrConflict):
		return http.StatusConflict, messageOr(err, "Already exists")
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests, ErrRateLimited.Error()
	default:
		return http.StatusInternalServerError, genericMessage
	}
}

// Respond writes err as {"message": ...} and aborts the chain.
// Unhandled errors are logged and replaced with a generic message.
func Respond(c *gin.Context, err error) {
	status, msg := Status(err)
	if status >= http.StatusInternalServerError {
		utils.LoggerFromContext(c.Request.Context()).Error("unhandled error",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"err", err,
		)
	}
	c.AbortWithStatusJSON(status, gin.H{"message": msg})
}

// Message writes a {"message": ...} body with the given status.
func Message(c *gin.Context, status int, msg string) {
	c.JSON(status, gin.H{"message": msg})
}

// messageOr returns the wrapper's message when err was built with one of the
// helpers in this package, and def for the bare sentinels.
func messageOr(err error, def string) string {
	var (
		nf *notFoundError
		fb *forbiddenError
		cf *conflictError
		ua *unauthenticatedError
	)
	switch {
	case errors.As(err, &nf):
		return nf.msg
	case errors.As(err, &fb):
		return fb.msg
	case errors.As(err, &cf):
		return cf.msg
	case errors.As(err, &ua):
		return ua.msg
	}
	return def
}
