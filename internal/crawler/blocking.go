package crawler

import (
	"bytes"
	"net/http"
	"slices"
	"strconv"
	"strings"
)

var (
	// DefaultBlockStatuses are the statuses the site answers with when it throttles.
	DefaultBlockStatuses = []int{http.StatusForbidden, http.StatusTooManyRequests}
	// DefaultBlockMarkers are body substrings of challenge pages.
	DefaultBlockMarkers = []string{"captcha"}
)

// BlockDetector recognises responses that signal the site is throttling or
// challenging the crawler.
type BlockDetector struct {
	statuses []int
	keywords [][]byte
}

// NewBlockDetector constructs a detector. Empty inputs fall back to 403/429
// and the "captcha" marker.
func NewBlockDetector(statuses []int, keywords []string) *BlockDetector {
	if len(statuses) == 0 {
		statuses = DefaultBlockStatuses
	}
	if len(keywords) == 0 {
		keywords = DefaultBlockMarkers
	}
	lowerKeywords := make([][]byte, 0, len(keywords))
	for _, kw := range keywords {
		kw = strings.TrimSpace(kw)
		if kw == "" {
			continue
		}
		lowerKeywords = append(lowerKeywords, bytes.ToLower([]byte(kw)))
	}
	return &BlockDetector{
		statuses: slices.Clone(statuses),
		keywords: lowerKeywords,
	}
}

// Blocked reports whether the response is a blocking signal and why.
func (d *BlockDetector) Blocked(resp FetchResponse) (string, bool) {
	if d == nil {
		return "", false
	}
	if slices.Contains(d.statuses, resp.StatusCode) {
		return "status_" + strconv.Itoa(resp.StatusCode), true
	}
	if kw, ok := d.containsKeyword(resp.Body); ok {
		return "marker_" + kw, true
	}
	return "", false
}

func (d *BlockDetector) containsKeyword(body []byte) (string, bool) {
	if len(body) == 0 || len(d.keywords) == 0 {
		return "", false
	}
	lowerBody := bytes.ToLower(body)
	for _, kw := range d.keywords {
		if bytes.Contains(lowerBody, kw) {
			return string(kw), true
		}
	}
	return "", false
}
