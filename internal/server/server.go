package server

import (
	"io/fs"
	"log"
	"net/http"
	"path"
	"strings"
)

// Deps bundles the collaborators the HTTP layer needs.
type Deps struct {
	Store     MeetingStore
	Auth      Authenticator
	Processor Processor
	Recorder  *RecorderControl
	Mailer    MeetingMailer
}

func Handler(staticFS fs.FS, hub *Hub, deps Deps) (http.Handler, error) {
	mux := http.NewServeMux()

	a := &api{
		store:     deps.Store,
		auth:      deps.Auth,
		processor: deps.Processor,
		recorder:  deps.Recorder,
		mailer:    deps.Mailer,
		hub:       hub,
	}
	registerWSRoute(mux, hub, a)
	registerAPIRoutes(mux, a)

	fileServer := http.FileServer(http.FS(staticFS))
	mux.HandleFunc("/", serveSPA(fileServer))

	return mux, nil
}

func Serve(addr string, staticFS fs.FS, hub *Hub, deps Deps) error {
	h, err := Handler(staticFS, hub, deps)
	if err != nil {
		return err
	}

	log.Printf("web UI at http://%s", addr)
	return http.ListenAndServe(addr, h)
}

func serveSPA(fileServer http.Handler) func(http.ResponseWriter, *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/api/") || r.URL.Path == "/ws" {
			http.NotFound(w, r)
			return
		}

		cleanPath := path.Clean(strings.TrimPrefix(r.URL.Path, "/"))
		if cleanPath == "." || cleanPath == "" || cleanPath == "index.html" || !strings.Contains(cleanPath, ".") {
			// client-side route; the file server canonicalizes
			// /index.html to / with a redirect, so serve / directly
			r.URL.Path = "/"
		} else {
			r.URL.Path = "/" + cleanPath
		}

		fileServer.ServeHTTP(w, r)
	}
}
