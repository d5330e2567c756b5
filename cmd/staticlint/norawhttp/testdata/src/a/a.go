package a

import (
	"net/http"
	"strings"
)

func fetch() {
	_, _ = http.Get("https://example.com")                       // want `outbound HTTP must go through a resty client, not http.Get`
	_, _ = http.Post("https://example.com", "text/plain", nil)   // want `outbound HTTP must go through a resty client, not http.Post`
	client := http.DefaultClient                                 // want `outbound HTTP must go through a resty client, not http.DefaultClient`
	_ = client
	_ = http.StatusOK
	_ = strings.TrimSpace(" ok ")
}
