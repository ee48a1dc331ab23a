package worker

import (
	"net/http"
	"strings"
)

// Class is the caching strategy bucket of an outgoing request.
type Class string

const (
	// ClassPassthrough is any non-GET request; it is never intercepted.
	ClassPassthrough Class = "passthrough"
	// ClassNavigation is a top-level page load: network-first, root document fallback.
	ClassNavigation Class = "navigation"
	// ClassDataAPI is a geocoding or forecast call: network-first, exact-key fallback.
	ClassDataAPI Class = "data_api"
	// ClassStatic is every other GET: stale-while-revalidate.
	ClassStatic Class = "static"
)

// DefaultAPIHostSuffixes matches the Open-Meteo API hosts.
var DefaultAPIHostSuffixes = []string{"open-meteo.com"}

var apiPathMarkers = []string{"/v1/forecast", "/v1/search", "/v1/reverse"}

// Classifier maps a request to its Class. The zero value uses DefaultAPIHostSuffixes.
type Classifier struct {
	APIHostSuffixes []string
}

// Classify returns the class of req using DefaultAPIHostSuffixes.
func Classify(req *http.Request) Class {
	return Classifier{}.Classify(req)
}

// Classify returns the class of req. It has no side effects.
func (c Classifier) Classify(req *http.Request) Class {
	if req.Method != "" && req.Method != http.MethodGet {
		return ClassPassthrough
	}
	if req.Header.Get("Sec-Fetch-Mode") == "navigate" {
		return ClassNavigation
	}
	if req.URL == nil {
		return ClassStatic
	}
	if c.isAPIHost(req.URL.Hostname()) {
		return ClassDataAPI
	}
	for _, m := range apiPathMarkers {
		if strings.Contains(req.URL.Path, m) {
			return ClassDataAPI
		}
	}
	return ClassStatic
}

func (c Classifier) isAPIHost(host string) bool {
	host = strings.ToLower(strings.TrimSuffix(host, "."))
	if host == "" {
		return false
	}
	suffixes := c.APIHostSuffixes
	if len(suffixes) == 0 {
		suffixes = DefaultAPIHostSuffixes
	}
	for _, s := range suffixes {
		s = strings.ToLower(strings.TrimPrefix(s, "."))
		if host == s || strings.HasSuffix(host, "."+s) {
			return true
		}
	}
	return false
}

// Key is the partition key for req: method and absolute URL.
func Key(req *http.Request) string {
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	return method + " " + req.URL.String()
}

// originKey is the key of path on req's origin.
func originKey(req *http.Request, path string) string {
	return http.MethodGet + " " + req.URL.Scheme + "://" + req.URL.Host + path
}
