package marquee

import (
	"net/http"
	"testing"
)

func TestRequestClone(t *testing.T) {
	req := NewRequest(http.MethodPost, testMoviesURL, []byte(`{"a":1}`))
	req.Header.Set("Accept", "application/json")

	clone := req.Clone()
	clone.Header.Set("Accept", "text/plain")
	clone.Body[0] = '['
	clone.URL = "http://elsewhere"

	if req.Header.Get("Accept") != "application/json" || string(req.Body) != `{"a":1}` || req.URL != testMoviesURL {
		t.Errorf("Expected clone to be independent, original is now %+v", req)
	}
}

func TestRequestCloneNilHeader(t *testing.T) {
	req := &Request{Method: http.MethodGet, URL: testMoviesURL}
	if req.Clone().Header == nil {
		t.Error("Expected clone to allocate a header map")
	}
	var nilReq *Request
	if nilReq.Clone() != nil {
		t.Error("Expected nil clone of nil request")
	}
}

func TestRequestWantsJSON(t *testing.T) {
	tests := []struct {
		accept string
		expect bool
		want   bool
	}{
		{"", false, false},
		{"application/json", false, true},
		{"text/html, application/json;q=0.9", false, true},
		{"text/plain", false, false},
		{"", true, true},
	}
	for _, tt := range tests {
		req := NewRequest(http.MethodGet, testMoviesURL, nil)
		if tt.accept != "" {
			req.Header.Set("Accept", tt.accept)
		}
		req.ExpectJSON = tt.expect
		if got := req.wantsJSON(); got != tt.want {
			t.Errorf("Accept %q ExpectJSON %v: got %v, want %v", tt.accept, tt.expect, got, tt.want)
		}
	}
}

func TestResponseOK(t *testing.T) {
	if !statusResponse(http.StatusOK, "").OK() {
		t.Error("Expected 200 to be OK")
	}
	if statusResponse(http.StatusNotFound, "").OK() {
		t.Error("Expected 404 not to be OK")
	}
	if sentinelResponse().OK() {
		t.Error("Expected sentinel not to be OK")
	}
	var nilResp *Response
	if nilResp.OK() {
		t.Error("Expected nil response not to be OK")
	}
}

func TestResponseDecodeJSON(t *testing.T) {
	var movies []struct {
		ID int `json:"id"`
	}
	if err := statusResponse(http.StatusOK, `[{"id":3}]`).DecodeJSON(&movies); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if len(movies) != 1 || movies[0].ID != 3 {
		t.Errorf("Unexpected decode result %+v", movies)
	}

	if err := statusResponse(http.StatusOK, "").DecodeJSON(&movies); err == nil {
		t.Error("Expected error for empty body")
	}
}

func TestResponseStatusText(t *testing.T) {
	resp := &Response{StatusCode: 418, Status: "418 I'm a teapot"}
	if resp.StatusText() != "I'm a teapot" {
		t.Errorf("Unexpected status text %q", resp.StatusText())
	}
	resp = &Response{StatusCode: 404}
	if resp.StatusText() != "Not Found" {
		t.Errorf("Expected fallback status text, got %q", resp.StatusText())
	}
}
