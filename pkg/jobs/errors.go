package jobs

import "net/http"

// ErrCode is a wire-stable transportable error code (spec.md §6/§7).
type ErrCode string

const (
	ErrScrapeTimeout           ErrCode = "SCRAPE_TIMEOUT"
	ErrMapTimeout              ErrCode = "MAP_TIMEOUT"
	ErrScrapeDNSResolution     ErrCode = "SCRAPE_DNS_RESOLUTION_ERROR"
	ErrScrapeAllEnginesFailed  ErrCode = "SCRAPE_ALL_ENGINES_FAILED"
	ErrScrapeSSLError          ErrCode = "SCRAPE_SSL_ERROR"
	ErrScrapeSiteError         ErrCode = "SCRAPE_SITE_ERROR"
	ErrScrapeZDRViolation      ErrCode = "SCRAPE_ZDR_VIOLATION_ERROR"
	ErrScrapeRacedRedirect     ErrCode = "SCRAPE_RACED_REDIRECT_ERROR"
	ErrScrapeSitemapError      ErrCode = "SCRAPE_SITEMAP_ERROR"
	ErrCrawlDenial             ErrCode = "CRAWL_DENIAL"
	ErrBadRequest              ErrCode = "BAD_REQUEST"
	ErrUnknown                 ErrCode = "UNKNOWN_ERROR"
)

// httpStatus maps a transportable code to its spec.md §6 HTTP status.
var httpStatus = map[ErrCode]int{
	ErrScrapeTimeout:          http.StatusRequestTimeout,
	ErrMapTimeout:             http.StatusRequestTimeout,
	ErrScrapeDNSResolution:    http.StatusOK, // well-formed request, unfetchable document
	ErrScrapeAllEnginesFailed: http.StatusInternalServerError,
	ErrScrapeSSLError:         http.StatusInternalServerError,
	ErrScrapeSiteError:        http.StatusInternalServerError,
	ErrScrapeZDRViolation:     http.StatusInternalServerError,
	ErrScrapeRacedRedirect:    http.StatusInternalServerError,
	ErrScrapeSitemapError:     http.StatusInternalServerError,
	ErrCrawlDenial:            http.StatusForbidden,
	ErrBadRequest:             http.StatusBadRequest,
	ErrUnknown:                http.StatusInternalServerError,
}

// Error is a typed transportable error (spec.md §7). It carries the
// wire-stable code, the HTTP status it maps to, and a human message.
type Error struct {
	Code    ErrCode
	Status  int
	Message string
}

func (e *Error) Error() string {
	return string(e.Code) + ": " + e.Message
}

// NewError builds a transportable Error, resolving Status from Code.
func NewError(code ErrCode, message string) *Error {
	status, ok := httpStatus[code]
	if !ok {
		status = http.StatusInternalServerError
	}
	return &Error{Code: code, Status: status, Message: message}
}

// AsError unwraps err into a transportable *Error, or maps it to
// UNKNOWN_ERROR if it isn't one already (spec.md §7's "internal error"
// boundary — the coordinator's outermost catch).
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	if te, ok := err.(*Error); ok {
		return te
	}
	return NewError(ErrUnknown, err.Error())
}
