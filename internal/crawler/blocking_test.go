package crawler

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBlockDetector(t *testing.T) {
	t.Parallel()

	d := NewBlockDetector(nil, nil)
	tests := []struct {
		name    string
		resp    FetchResponse
		blocked bool
		reason  string
	}{
		{name: "ok page", resp: FetchResponse{StatusCode: http.StatusOK, Body: []byte("<html>listings</html>")}},
		{name: "forbidden", resp: FetchResponse{StatusCode: http.StatusForbidden}, blocked: true, reason: "status_403"},
		{name: "too many", resp: FetchResponse{StatusCode: http.StatusTooManyRequests}, blocked: true, reason: "status_429"},
		{name: "captcha any case", resp: FetchResponse{StatusCode: http.StatusOK, Body: []byte("reCAPTCHA")}, blocked: true, reason: "marker_captcha"},
		{name: "server error is not blocking", resp: FetchResponse{StatusCode: http.StatusBadGateway}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			reason, blocked := d.Blocked(tc.resp)
			assert.Equal(t, tc.blocked, blocked)
			assert.Equal(t, tc.reason, reason)
		})
	}
}

func TestBlockDetectorCustomMarkers(t *testing.T) {
	t.Parallel()

	d := NewBlockDetector([]int{http.StatusServiceUnavailable}, []string{" Access Denied ", ""})
	_, blocked := d.Blocked(FetchResponse{StatusCode: http.StatusForbidden})
	assert.False(t, blocked)
	_, blocked = d.Blocked(FetchResponse{StatusCode: http.StatusServiceUnavailable})
	assert.True(t, blocked)
	reason, blocked := d.Blocked(FetchResponse{StatusCode: http.StatusOK, Body: []byte("ACCESS DENIED")})
	assert.True(t, blocked)
	assert.Equal(t, "marker_access denied", reason)

	var nilDetector *BlockDetector
	_, blocked = nilDetector.Blocked(FetchResponse{StatusCode: http.StatusForbidden})
	assert.False(t, blocked)
}
