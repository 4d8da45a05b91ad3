package agentd

import (
	"fmt"
	"net/http"
)

func newRouter(a *app) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, "ok")
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, "ready")
	})

	mux.HandleFunc("/chat", a.chatHandler())
	mux.HandleFunc("/chat/", a.chatDetailHandler())

	return mux
}
