package app

import (
	"errors"

	"github.com/florianilch/aemupload/internal/aem"
	"github.com/florianilch/aemupload/internal/tokensource"
	"github.com/florianilch/aemupload/internal/tokenstore"
)

// ErrorCategory maps an invocation failure to the label used in logs.
func ErrorCategory(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrConfiguration):
		return "configuration"
	case errors.Is(err, ErrQueue):
		return "queue"
	case errors.Is(err, tokenstore.ErrStorage):
		return "storage"
	case errors.Is(err, tokensource.ErrIssuer):
		return "issuer"
	case errors.Is(err, aem.ErrLocalFile):
		return "local_file"
	case errors.Is(err, aem.ErrCSRF):
		return "csrf"
	case errors.Is(err, aem.ErrUpload):
		return "upload"
	default:
		return "internal"
	}
}
