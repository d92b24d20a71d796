package runtime

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/drblury/kitchenflow/internal/runtime/jsoncodec"
)

// HealthPath is the liveness endpoint.
const HealthPath = "/health"

var healthBody = mustHealthBody()

func mustHealthBody() []byte {
	body, err := jsoncodec.Marshal(map[string]string{"status": "ok"})
	if err != nil {
		panic(err)
	}
	return body
}

// HealthHandler answers with a static {"status":"ok"}.
func HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(healthBody)
	}
}

// NewHealthRouter serves GET /health; every other path is a 404.
func NewHealthRouter() chi.Router {
	mux := chi.NewMux()
	mux.Get(HealthPath, HealthHandler())
	return mux
}
