package a

import "net/http"

func probe() {
	_, _ = http.Get("http://127.0.0.1")
}
